package strategy

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smartacus-io/smartacus/internal/persistence"
)

// Runs aggregated per niche when building metrics.
const performanceWindow = 10

// TokenSource yields the spendable token budget for one cycle.
type TokenSource interface {
	DailyBudget(ctx context.Context) (int, error)
}

var keepaDomains = map[int]string{
	1: "com",
	2: "co.uk",
	3: "de",
	4: "fr",
	5: "co.jp",
	6: "ca",
	8: "it",
	9: "es",
}

// DomainName maps a Keepa domain ID to its marketplace suffix.
func DomainName(id int) string {
	if name, ok := keepaDomains[id]; ok {
		return name
	}
	return strconv.Itoa(id)
}

// Planner runs full allocation cycles: load niche metrics, decide, persist.
type Planner struct {
	agent  *Agent
	repo   persistence.StrategyRepo
	tokens TokenSource
	cache  *DecisionCache
	now    func() time.Time
}

// NewPlanner creates a planner. The cache may be nil to disable reuse.
func NewPlanner(repo persistence.StrategyRepo, tokens TokenSource, cache *DecisionCache) *Planner {
	return &Planner{
		agent:  NewAgent(),
		repo:   repo,
		tokens: tokens,
		cache:  cache,
		now:    time.Now,
	}
}

// LoadNiches builds metrics for every active category in the domain,
// aggregating recent run performance. Returns the metrics and the IDs the
// registry forces into the exploit bucket.
func (p *Planner) LoadNiches(ctx context.Context, domainID int) ([]NicheMetrics, []int64, error) {
	categories, err := p.repo.ListCategories(ctx, domainID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list categories: %w", err)
	}

	now := p.now().UTC()
	var niches []NicheMetrics
	var forced []int64

	for _, cat := range categories {
		if cat.Paused {
			continue
		}

		perfs, err := p.repo.PerformanceWindow(ctx, cat.NodeID, performanceWindow)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load performance for %d: %w", cat.NodeID, err)
		}

		n := NicheMetrics{
			NicheID:       cat.NodeID,
			Name:          cat.Name,
			Domain:        DomainName(cat.DomainID),
			TotalRuns:     len(perfs),
			LastScannedAt: cat.LastScannedAt,
			IsActive:      true,
		}
		for _, perf := range perfs {
			n.TotalASINsScanned += perf.ASINsScanned
			n.TotalOpportunities += perf.OpportunitiesFound
			n.TotalTokensUsed += perf.TokensSpent
			n.TotalValueDetected += perf.ValuePer1kTokens * float64(perf.TokensSpent) / 1000
		}
		n.Finalize(now)

		niches = append(niches, n)
		if cat.ForceInclude {
			forced = append(forced, cat.NodeID)
		}
	}

	return niches, forced, nil
}

// RunCycle makes and persists one allocation decision for the domain.
// Identical inputs within the cache TTL reuse the previous decision.
func (p *Planner) RunCycle(ctx context.Context, domainID int) (*Decision, error) {
	budget, err := p.tokens.DailyBudget(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to determine cycle budget: %w", err)
	}

	niches, forced, err := p.LoadNiches(ctx, domainID)
	if err != nil {
		return nil, err
	}

	var key string
	if p.cache != nil {
		key = p.cache.Key(niches, budget)
		if cached := p.cache.Get(ctx, key); cached != nil {
			log.Info().Str("cycle", cached.CycleID).Str("key", key).Msg("reusing cached decision")
			return cached, nil
		}
	}

	decision := p.agent.Decide(budget, niches, forced)
	decision.CacheKey = key

	if err := p.persist(ctx, decision); err != nil {
		return nil, err
	}
	if p.cache != nil {
		p.cache.Set(ctx, key, decision)
	}

	log.Info().
		Str("cycle", decision.CycleID).
		Int("exploit", len(decision.ByStatus(StatusExploit))).
		Int("explore", len(decision.ByStatus(StatusExplore))).
		Int("paused", len(decision.ByStatus(StatusPause))).
		Msg("cycle decided")
	return &decision, nil
}

func (p *Planner) persist(ctx context.Context, d Decision) error {
	record := persistence.StrategyDecision{
		CycleID:       d.CycleID,
		DecidedAt:     d.DecidedAt,
		BudgetTokens:  d.BudgetTotal,
		Exploit:       formatIDs(d.ByStatus(StatusExploit)),
		Explore:       formatIDs(d.ByStatus(StatusExplore)),
		Paused:        formatIDs(d.ByStatus(StatusPause)),
		Allocations:   make(map[string]int),
		RiskNotes:     d.RiskNotes,
		DecisionCache: d.CacheKey,
	}
	for id, tokens := range d.Allocations() {
		record.Allocations[strconv.FormatInt(id, 10)] = tokens
	}

	if err := p.repo.InsertDecision(ctx, record); err != nil {
		return fmt.Errorf("failed to persist decision %s: %w", d.CycleID, err)
	}
	return nil
}

func formatIDs(ids []int64) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strconv.FormatInt(id, 10))
	}
	return out
}
