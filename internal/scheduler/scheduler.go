// Package scheduler triggers automated scan runs within the monthly token
// budget: category selection, per-category execution and performance
// recording, with an optional cron daemon.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/smartacus-io/smartacus/internal/budget"
	"github.com/smartacus-io/smartacus/internal/persistence"
	"github.com/smartacus-io/smartacus/internal/strategy"
)

// Config holds scheduler settings, persisted as scheduler_config key/value
// pairs.
type Config struct {
	Enabled             bool          `yaml:"enabled"`
	RunInterval         time.Duration `yaml:"run_interval"`
	MinTokensPerRun     int           `yaml:"min_tokens_per_run"`
	MaxCategoriesPerRun int           `yaml:"max_categories_per_run"`
	MaxASINsPerCategory int           `yaml:"max_asins_per_category"`
	MaxActiveCategories int           `yaml:"max_active_categories"`
	DiscoveryEnabled    bool          `yaml:"discovery_enabled"`
	TargetDomains       []string      `yaml:"target_domains"`
}

// DefaultConfig returns the standard daily cadence.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		RunInterval:         24 * time.Hour,
		MinTokensPerRun:     50,
		MaxCategoriesPerRun: 5,
		MaxASINsPerCategory: 100,
		MaxActiveCategories: 10,
		DiscoveryEnabled:    true,
		TargetDomains:       []string{"com", "fr"},
	}
}

// Conversion thresholds for automatic niche activation and deactivation.
const (
	activateOpportunityRate   = 0.10
	activateMinRuns           = 3
	deactivateOpportunityRate = 0.05
	deactivateMinRuns         = 5

	// performanceWindow caps how many trailing runs feed the conversion
	// rate used by auto-management.
	performanceWindow = 10
)

// LoadConfig reads scheduler settings from the repository, falling back to
// defaults for missing or malformed keys.
func LoadConfig(ctx context.Context, repo persistence.SchedulerRepo) Config {
	cfg := DefaultConfig()

	stored, err := repo.GetConfig(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load scheduler config, using defaults")
		return cfg
	}

	if v, ok := stored["enabled"]; ok {
		cfg.Enabled = v == "true"
	}
	if v, ok := stored["run_interval_hours"]; ok {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			cfg.RunInterval = time.Duration(hours) * time.Hour
		}
	}
	if v, ok := stored["min_tokens_per_run"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinTokensPerRun = n
		}
	}
	if v, ok := stored["max_categories_per_run"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxCategoriesPerRun = n
		}
	}
	if v, ok := stored["max_asins_per_category"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxASINsPerCategory = n
		}
	}
	if v, ok := stored["max_active_categories"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxActiveCategories = n
		}
	}
	if v, ok := stored["discovery_enabled"]; ok {
		cfg.DiscoveryEnabled = v == "true"
	}
	if v, ok := stored["target_domains"]; ok && v != "" {
		cfg.TargetDomains = strings.Split(v, ",")
	}

	return cfg
}

var domainIDs = map[string]int{
	"com":   1,
	"co.uk": 2,
	"de":    3,
	"fr":    4,
	"co.jp": 5,
	"ca":    6,
	"it":    8,
	"es":    9,
}

// RunResult is the outcome of one category run.
type RunResult struct {
	Success            bool          `json:"success"`
	CategoryNodeID     int64         `json:"category_node_id"`
	CategoryName       string        `json:"category_name"`
	Domain             string        `json:"domain"`
	TokensUsed         int           `json:"tokens_used"`
	ASINsProcessed     int           `json:"asins_processed"`
	OpportunitiesFound int           `json:"opportunities_found"`
	Duration           time.Duration `json:"duration"`
	Error              string        `json:"error,omitempty"`
}

// Summary aggregates one scheduled run.
type Summary struct {
	Status             string      `json:"status"`
	Reason             string      `json:"reason,omitempty"`
	CategoriesScanned  int         `json:"categories_scanned"`
	Successful         int         `json:"successful"`
	Failed             int         `json:"failed"`
	TotalTokens        int         `json:"total_tokens"`
	OpportunitiesFound int         `json:"opportunities_found"`
	Activated          []string    `json:"activated,omitempty"`
	Deactivated        []string    `json:"deactivated,omitempty"`
	Results            []RunResult `json:"results,omitempty"`
}

// Runner executes the scan pipeline for one category.
type Runner interface {
	RunCategory(ctx context.Context, category persistence.Category, maxASINs int) (RunResult, error)
}

// Allocator is the strategy surface the scheduler consults. When present,
// its cycle decision drives category selection and per-category limits.
type Allocator interface {
	RunCycle(ctx context.Context, domainID int) (*strategy.Decision, error)
}

// Selection pairs a category with its per-run ASIN allowance and the cycle
// that allocated it.
type Selection struct {
	Category persistence.Category
	MaxASINs int
	CycleID  string
}

// TokenBudget is the budget surface the scheduler depends on.
type TokenBudget interface {
	Status(ctx context.Context) (budget.Status, error)
	DailyBudget(ctx context.Context) (int, error)
	RecordRun(ctx context.Context, tokensUsed, categoriesScanned, opportunitiesFound int) error
	TokensForASINs(asinCount int) int
}

// Scheduler drives scheduled scan runs.
type Scheduler struct {
	cfg      Config
	strategy persistence.StrategyRepo
	budget   TokenBudget
	runner   Runner
	planner  Allocator

	cron *cron.Cron
	now  func() time.Time
}

// New creates a scheduler with greedy stalest-first selection. Attach a
// planner with SetPlanner to let allocation cycles drive the selection.
func New(cfg Config, strategyRepo persistence.StrategyRepo, tokens TokenBudget, runner Runner) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		strategy: strategyRepo,
		budget:   tokens,
		runner:   runner,
		now:      time.Now,
	}
}

// SetPlanner attaches the strategy planner. Its exploit/explore assessments
// then decide which categories run and how many ASINs each may scan.
func (s *Scheduler) SetPlanner(p Allocator) {
	s.planner = p
}

// Config returns the active configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// ShouldRun reports whether a run should be triggered now, with the reason
// when it should not.
func (s *Scheduler) ShouldRun(ctx context.Context) (bool, string, error) {
	if !s.cfg.Enabled {
		return false, "scheduler disabled", nil
	}

	status, err := s.budget.Status(ctx)
	if err != nil {
		return false, "", fmt.Errorf("failed to check budget: %w", err)
	}
	if status.TokensRemaining < s.cfg.MinTokensPerRun {
		return false, fmt.Sprintf("insufficient budget: %d < %d", status.TokensRemaining, s.cfg.MinTokensPerRun), nil
	}

	return true, "", nil
}

// SelectCategories picks the categories to scan this run. With a planner
// attached, the allocation cycle's exploit and explore assessments drive the
// selection and per-category ASIN caps; otherwise selection is greedy,
// stalest active categories first while the estimated cost fits the budget.
// A failed allocation cycle falls back to greedy selection.
func (s *Scheduler) SelectCategories(ctx context.Context) ([]Selection, error) {
	if s.planner != nil {
		selected, err := s.selectFromDecision(ctx)
		if err == nil {
			return selected, nil
		}
		log.Warn().Err(err).Msg("allocation cycle failed, falling back to greedy selection")
	}
	return s.selectGreedy(ctx)
}

// selectFromDecision runs one allocation cycle per target domain and turns
// the funded exploit/explore assessments into selections.
func (s *Scheduler) selectFromDecision(ctx context.Context) ([]Selection, error) {
	var selected []Selection
	for _, domain := range s.cfg.TargetDomains {
		id, ok := domainIDs[domain]
		if !ok {
			log.Warn().Str("domain", domain).Msg("unknown target domain")
			continue
		}

		categories, err := s.strategy.ListCategories(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to list categories for %s: %w", domain, err)
		}
		byNode := make(map[int64]persistence.Category, len(categories))
		for _, cat := range categories {
			byNode[cat.NodeID] = cat
		}

		decision, err := s.planner.RunCycle(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("allocation cycle failed for %s: %w", domain, err)
		}

		for _, a := range decision.Assessments {
			if len(selected) >= s.cfg.MaxCategoriesPerRun {
				break
			}
			if a.Status == strategy.StatusPause || a.Tokens <= 0 || a.MaxASINs <= 0 {
				continue
			}
			cat, ok := byNode[a.NicheID]
			if !ok {
				log.Warn().Int64("niche", a.NicheID).Msg("assessed niche missing from registry")
				continue
			}

			maxASINs := a.MaxASINs
			if maxASINs > s.cfg.MaxASINsPerCategory {
				maxASINs = s.cfg.MaxASINsPerCategory
			}
			selected = append(selected, Selection{
				Category: cat,
				MaxASINs: maxASINs,
				CycleID:  decision.CycleID,
			})
		}
	}

	log.Info().Int("selected", len(selected)).Msg("categories selected from allocation cycle")
	return selected, nil
}

// selectGreedy is the planner-less path: stalest active categories first,
// greedily while the estimated token cost fits the available budget, capped
// at MaxCategoriesPerRun.
func (s *Scheduler) selectGreedy(ctx context.Context) ([]Selection, error) {
	status, err := s.budget.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check budget: %w", err)
	}
	daily, err := s.budget.DailyBudget(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute daily budget: %w", err)
	}

	available := status.TokensRemaining
	if daily < available {
		available = daily
	}

	var candidates []persistence.Category
	for _, domain := range s.cfg.TargetDomains {
		id, ok := domainIDs[domain]
		if !ok {
			log.Warn().Str("domain", domain).Msg("unknown target domain")
			continue
		}
		categories, err := s.strategy.ListCategories(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to list categories for %s: %w", domain, err)
		}
		for _, cat := range categories {
			if !cat.Paused {
				candidates = append(candidates, cat)
			}
		}
	}

	// Never scanned sorts first, then the oldest scan.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].LastScannedAt.Before(candidates[j].LastScannedAt)
	})

	estimated := s.budget.TokensForASINs(s.cfg.MaxASINsPerCategory)

	var selected []Selection
	allocated := 0
	for _, cat := range candidates {
		if len(selected) >= s.cfg.MaxCategoriesPerRun {
			break
		}
		if allocated+estimated > available {
			break
		}
		selected = append(selected, Selection{Category: cat, MaxASINs: s.cfg.MaxASINsPerCategory})
		allocated += estimated
	}

	log.Info().
		Int("selected", len(selected)).
		Int("estimated_tokens", allocated).
		Int("available", available).
		Msg("categories selected")
	return selected, nil
}

// Run executes one scheduled cycle: select categories, run each through the
// pipeline, record per-category performance and the budget spend. A failed
// category does not stop the others.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	ok, reason, err := s.ShouldRun(ctx)
	if err != nil {
		return Summary{}, err
	}
	if !ok {
		log.Info().Str("reason", reason).Msg("skipping scheduled run")
		return Summary{Status: "skipped", Reason: reason}, nil
	}

	selections, err := s.SelectCategories(ctx)
	if err != nil {
		return Summary{}, err
	}
	if len(selections) == 0 {
		log.Warn().Msg("no categories ready for scan")
		return Summary{Status: "no_categories", Reason: "no active categories ready for scan"}, nil
	}

	summary := Summary{Status: "completed"}
	for _, sel := range selections {
		cat := sel.Category
		result, err := s.runner.RunCategory(ctx, cat, sel.MaxASINs)
		if err != nil {
			result.Success = false
			result.Error = err.Error()
			result.CategoryNodeID = cat.NodeID
			result.CategoryName = cat.Name
		}
		summary.Results = append(summary.Results, result)
		summary.CategoriesScanned++

		if !result.Success {
			summary.Failed++
			log.Error().
				Str("category", cat.Name).
				Str("error", result.Error).
				Msg("category run failed")
			continue
		}

		summary.Successful++
		summary.TotalTokens += result.TokensUsed
		summary.OpportunitiesFound += result.OpportunitiesFound

		runID := sel.CycleID
		if runID == "" {
			runID = "scheduled"
		}
		perf := persistence.CategoryPerformance{
			CategoryNodeID:     cat.NodeID,
			RunID:              runID,
			ASINsScanned:       result.ASINsProcessed,
			OpportunitiesFound: result.OpportunitiesFound,
			TokensSpent:        result.TokensUsed,
			RecordedAt:         s.now().UTC(),
		}
		if result.TokensUsed > 0 {
			perf.ValuePer1kTokens = float64(result.OpportunitiesFound) / float64(result.TokensUsed) * 1000
		}
		if err := s.strategy.RecordPerformance(ctx, perf); err != nil {
			log.Warn().Err(err).Str("category", cat.Name).Msg("failed to record performance")
		}
	}

	if err := s.budget.RecordRun(ctx, summary.TotalTokens, summary.CategoriesScanned, summary.OpportunitiesFound); err != nil {
		log.Warn().Err(err).Msg("failed to record budget usage")
	}

	summary.Activated, summary.Deactivated = s.autoManageCategories(ctx)

	log.Info().
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Int("tokens", summary.TotalTokens).
		Int("opportunities", summary.OpportunitiesFound).
		Strs("activated", summary.Activated).
		Strs("deactivated", summary.Deactivated).
		Msg("scheduled run complete")
	return summary, nil
}

// categoryYield is the trailing conversion picture of one category.
type categoryYield struct {
	cat  persistence.Category
	runs int
	rate float64
}

// autoManageCategories resumes categories whose trailing conversion earns a
// slot and pauses proven low performers once the active count exceeds the
// configured maximum. Returns the names touched.
func (s *Scheduler) autoManageCategories(ctx context.Context) (activated, deactivated []string) {
	var yields []categoryYield
	activeCount := 0

	for _, domain := range s.cfg.TargetDomains {
		id, ok := domainIDs[domain]
		if !ok {
			continue
		}
		categories, err := s.strategy.ListCategories(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("domain", domain).Msg("failed to list categories for auto-management")
			continue
		}

		for _, cat := range categories {
			perfs, err := s.strategy.PerformanceWindow(ctx, cat.NodeID, performanceWindow)
			if err != nil {
				log.Warn().Err(err).Int64("node", cat.NodeID).Msg("failed to load performance window")
				continue
			}

			scanned, opportunities := 0, 0
			for _, perf := range perfs {
				scanned += perf.ASINsScanned
				opportunities += perf.OpportunitiesFound
			}

			y := categoryYield{cat: cat, runs: len(perfs)}
			if scanned > 0 {
				y.rate = float64(opportunities) / float64(scanned)
			}
			if !cat.Paused {
				activeCount++
			}
			yields = append(yields, y)
		}
	}

	// Resume proven categories while slots remain.
	for i := range yields {
		y := yields[i]
		if !y.cat.Paused || y.runs < activateMinRuns || y.rate < activateOpportunityRate {
			continue
		}
		if activeCount >= s.cfg.MaxActiveCategories {
			break
		}
		y.cat.Paused = false
		if err := s.strategy.UpsertCategory(ctx, y.cat); err != nil {
			log.Warn().Err(err).Str("category", y.cat.Name).Msg("failed to activate category")
			continue
		}
		log.Info().Str("category", y.cat.Name).Float64("rate", y.rate).Msg("category activated")
		activated = append(activated, y.cat.Name)
		activeCount++
	}

	// Pause the worst proven performers only when over the active limit.
	if activeCount > s.cfg.MaxActiveCategories {
		var poor []categoryYield
		for _, y := range yields {
			if y.cat.Paused || y.cat.ForceInclude {
				continue
			}
			if y.runs >= deactivateMinRuns && y.rate < deactivateOpportunityRate {
				poor = append(poor, y)
			}
		}
		sort.SliceStable(poor, func(i, j int) bool { return poor[i].rate < poor[j].rate })

		for _, y := range poor {
			if activeCount <= s.cfg.MaxActiveCategories {
				break
			}
			y.cat.Paused = true
			if err := s.strategy.UpsertCategory(ctx, y.cat); err != nil {
				log.Warn().Err(err).Str("category", y.cat.Name).Msg("failed to pause category")
				continue
			}
			log.Info().Str("category", y.cat.Name).Float64("rate", y.rate).Msg("category paused")
			deactivated = append(deactivated, y.cat.Name)
			activeCount--
		}
	}

	return activated, deactivated
}

// StartDaemon schedules runs at the configured interval until the context is
// cancelled.
func (s *Scheduler) StartDaemon(ctx context.Context) error {
	s.cron = cron.New()

	spec := fmt.Sprintf("@every %s", s.cfg.RunInterval)
	_, err := s.cron.AddFunc(spec, func() {
		if _, err := s.Run(ctx); err != nil {
			log.Error().Err(err).Msg("scheduled run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule runs: %w", err)
	}

	log.Info().Dur("interval", s.cfg.RunInterval).Msg("scheduler daemon started")
	s.cron.Start()

	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	return ctx.Err()
}
