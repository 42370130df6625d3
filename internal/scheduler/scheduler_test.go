package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartacus-io/smartacus/internal/budget"
	"github.com/smartacus-io/smartacus/internal/persistence"
	"github.com/smartacus-io/smartacus/internal/strategy"
)

type fakeBudget struct {
	remaining int
	daily     int
	recorded  []int
}

func (f *fakeBudget) Status(_ context.Context) (budget.Status, error) {
	return budget.Status{TokensRemaining: f.remaining}, nil
}

func (f *fakeBudget) DailyBudget(_ context.Context) (int, error) {
	return f.daily, nil
}

func (f *fakeBudget) RecordRun(_ context.Context, tokensUsed, categoriesScanned, opportunitiesFound int) error {
	f.recorded = append(f.recorded, tokensUsed)
	return nil
}

func (f *fakeBudget) TokensForASINs(asinCount int) int {
	return 5 + asinCount*2
}

type fakeStrategyRepo struct {
	categories  []persistence.Category
	performance []persistence.CategoryPerformance
	windows     map[int64][]persistence.CategoryPerformance
	upserted    []persistence.Category
}

func (f *fakeStrategyRepo) UpsertCategory(_ context.Context, cat persistence.Category) error {
	f.upserted = append(f.upserted, cat)
	return nil
}

func (f *fakeStrategyRepo) ListCategories(_ context.Context, domainID int) ([]persistence.Category, error) {
	var out []persistence.Category
	for _, cat := range f.categories {
		if cat.DomainID == domainID {
			out = append(out, cat)
		}
	}
	return out, nil
}

func (f *fakeStrategyRepo) RecordPerformance(_ context.Context, perf persistence.CategoryPerformance) error {
	f.performance = append(f.performance, perf)
	return nil
}

func (f *fakeStrategyRepo) PerformanceWindow(_ context.Context, nodeID int64, _ int) ([]persistence.CategoryPerformance, error) {
	return f.windows[nodeID], nil
}

func (f *fakeStrategyRepo) InsertDecision(_ context.Context, _ persistence.StrategyDecision) error {
	return nil
}

type fakeSchedulerRepo struct {
	config map[string]string
	err    error
}

func (f *fakeSchedulerRepo) GetConfig(_ context.Context) (map[string]string, error) {
	return f.config, f.err
}

func (f *fakeSchedulerRepo) SetConfig(_ context.Context, _, _ string) error { return nil }
func (f *fakeSchedulerRepo) InsertRun(_ context.Context, _ persistence.PipelineRun) error {
	return nil
}
func (f *fakeSchedulerRepo) CompleteRun(_ context.Context, _ persistence.PipelineRun) error {
	return nil
}
func (f *fakeSchedulerRepo) RecentRuns(_ context.Context, _ int) ([]persistence.PipelineRun, error) {
	return nil, nil
}

type fakeRunner struct {
	failFor map[int64]bool
	runs    []int64
}

func (f *fakeRunner) RunCategory(_ context.Context, cat persistence.Category, maxASINs int) (RunResult, error) {
	f.runs = append(f.runs, cat.NodeID)
	if f.failFor[cat.NodeID] {
		return RunResult{}, errors.New("pipeline blew up")
	}
	return RunResult{
		Success:            true,
		CategoryNodeID:     cat.NodeID,
		CategoryName:       cat.Name,
		TokensUsed:         205,
		ASINsProcessed:     maxASINs,
		OpportunitiesFound: 3,
		Duration:           2 * time.Minute,
	}, nil
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(context.Background(), &fakeSchedulerRepo{err: errors.New("db down")})

	assert.True(t, cfg.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.RunInterval)
	assert.Equal(t, 50, cfg.MinTokensPerRun)
	assert.Equal(t, 5, cfg.MaxCategoriesPerRun)
	assert.Equal(t, 100, cfg.MaxASINsPerCategory)
	assert.Equal(t, []string{"com", "fr"}, cfg.TargetDomains)
}

func TestLoadConfigOverrides(t *testing.T) {
	repo := &fakeSchedulerRepo{config: map[string]string{
		"enabled":                "false",
		"run_interval_hours":     "12",
		"min_tokens_per_run":     "100",
		"max_categories_per_run": "3",
		"target_domains":         "com,de",
	}}

	cfg := LoadConfig(context.Background(), repo)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 12*time.Hour, cfg.RunInterval)
	assert.Equal(t, 100, cfg.MinTokensPerRun)
	assert.Equal(t, 3, cfg.MaxCategoriesPerRun)
	assert.Equal(t, []string{"com", "de"}, cfg.TargetDomains)
}

func TestShouldRun(t *testing.T) {
	tests := []struct {
		name      string
		enabled   bool
		remaining int
		want      bool
		reason    string
	}{
		{"enough_budget", true, 5000, true, ""},
		{"disabled", false, 5000, false, "scheduler disabled"},
		{"broke", true, 30, false, "insufficient budget: 30 < 50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Enabled = tt.enabled
			s := New(cfg, &fakeStrategyRepo{}, &fakeBudget{remaining: tt.remaining, daily: 1000}, &fakeRunner{})

			ok, reason, err := s.ShouldRun(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestSelectCategoriesGreedy(t *testing.T) {
	repo := &fakeStrategyRepo{categories: []persistence.Category{
		{NodeID: 1, Name: "Fresh", DomainID: 1, LastScannedAt: time.Now().UTC().Add(-time.Hour)},
		{NodeID: 2, Name: "Stale", DomainID: 1, LastScannedAt: time.Now().UTC().Add(-20 * 24 * time.Hour)},
		{NodeID: 3, Name: "Never", DomainID: 4},
		{NodeID: 4, Name: "Paused", DomainID: 1, Paused: true},
	}}

	// Each category costs 205 tokens; 500 available fits two.
	tokens := &fakeBudget{remaining: 5000, daily: 500}
	s := New(DefaultConfig(), repo, tokens, &fakeRunner{})

	selected, err := s.SelectCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, selected, 2)
	assert.Equal(t, int64(3), selected[0].Category.NodeID, "never-scanned goes first")
	assert.Equal(t, int64(2), selected[1].Category.NodeID)
	assert.Equal(t, DefaultConfig().MaxASINsPerCategory, selected[0].MaxASINs)
}

func TestSelectCategoriesCap(t *testing.T) {
	var cats []persistence.Category
	for i := int64(1); i <= 8; i++ {
		cats = append(cats, persistence.Category{NodeID: i, DomainID: 1})
	}
	repo := &fakeStrategyRepo{categories: cats}
	tokens := &fakeBudget{remaining: 100000, daily: 100000}

	s := New(DefaultConfig(), repo, tokens, &fakeRunner{})
	selected, err := s.SelectCategories(context.Background())
	require.NoError(t, err)
	assert.Len(t, selected, 5)
}

type fakeAllocator struct {
	decisions map[int]*strategy.Decision
	err       error
}

func (f *fakeAllocator) RunCycle(_ context.Context, domainID int) (*strategy.Decision, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.decisions[domainID], nil
}

func TestSelectCategoriesFromDecision(t *testing.T) {
	repo := &fakeStrategyRepo{categories: []persistence.Category{
		{NodeID: 1, Name: "Car Mounts", DomainID: 1},
		{NodeID: 2, Name: "Desk Mats", DomainID: 1},
		{NodeID: 3, Name: "Cable Clips", DomainID: 1},
	}}
	planner := &fakeAllocator{decisions: map[int]*strategy.Decision{
		1: {
			CycleID: "cycle_20260825_120000_abc123",
			Assessments: []strategy.Assessment{
				{NicheID: 1, Status: strategy.StatusExploit, Tokens: 500, MaxASINs: 247},
				{NicheID: 2, Status: strategy.StatusExplore, Tokens: 200, MaxASINs: 97},
				{NicheID: 3, Status: strategy.StatusPause},
			},
		},
	}}

	cfg := DefaultConfig()
	cfg.TargetDomains = []string{"com"}
	s := New(cfg, repo, &fakeBudget{remaining: 5000, daily: 5000}, &fakeRunner{})
	s.SetPlanner(planner)

	selected, err := s.SelectCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, selected, 2, "paused niches are not selected")

	assert.Equal(t, int64(1), selected[0].Category.NodeID)
	assert.Equal(t, 100, selected[0].MaxASINs, "allocation capped at config limit")
	assert.Equal(t, "cycle_20260825_120000_abc123", selected[0].CycleID)

	assert.Equal(t, int64(2), selected[1].Category.NodeID)
	assert.Equal(t, 97, selected[1].MaxASINs)
}

func TestSelectCategoriesPlannerFallback(t *testing.T) {
	repo := &fakeStrategyRepo{categories: []persistence.Category{
		{NodeID: 7, Name: "Phone Stands", DomainID: 1},
	}}

	s := New(DefaultConfig(), repo, &fakeBudget{remaining: 5000, daily: 5000}, &fakeRunner{})
	s.SetPlanner(&fakeAllocator{err: errors.New("redis down")})

	selected, err := s.SelectCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, selected, 1, "greedy fallback still selects")
	assert.Equal(t, int64(7), selected[0].Category.NodeID)
	assert.Empty(t, selected[0].CycleID)
}

func TestRunRecordsCycleID(t *testing.T) {
	repo := &fakeStrategyRepo{categories: []persistence.Category{
		{NodeID: 1, Name: "Car Mounts", DomainID: 1},
	}}
	planner := &fakeAllocator{decisions: map[int]*strategy.Decision{
		1: {
			CycleID: "cycle_20260825_120000_abc123",
			Assessments: []strategy.Assessment{
				{NicheID: 1, Status: strategy.StatusExploit, Tokens: 500, MaxASINs: 50},
			},
		},
	}}

	cfg := DefaultConfig()
	cfg.TargetDomains = []string{"com"}
	s := New(cfg, repo, &fakeBudget{remaining: 5000, daily: 5000}, &fakeRunner{})
	s.SetPlanner(planner)

	_, err := s.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, repo.performance, 1)
	assert.Equal(t, "cycle_20260825_120000_abc123", repo.performance[0].RunID)
}

func TestRunRecordsPerformanceAndBudget(t *testing.T) {
	repo := &fakeStrategyRepo{categories: []persistence.Category{
		{NodeID: 10, Name: "Car Mounts", DomainID: 1},
		{NodeID: 20, Name: "Desk Mats", DomainID: 1},
	}}
	tokens := &fakeBudget{remaining: 5000, daily: 5000}
	runner := &fakeRunner{failFor: map[int64]bool{20: true}}

	s := New(DefaultConfig(), repo, tokens, runner)
	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "completed", summary.Status)
	assert.Equal(t, 2, summary.CategoriesScanned)
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 205, summary.TotalTokens)
	assert.Equal(t, 3, summary.OpportunitiesFound)

	// Only the successful category records performance.
	require.Len(t, repo.performance, 1)
	assert.Equal(t, int64(10), repo.performance[0].CategoryNodeID)
	assert.Equal(t, 205, repo.performance[0].TokensSpent)

	require.Len(t, tokens.recorded, 1)
	assert.Equal(t, 205, tokens.recorded[0])
}

func perfRuns(nodeID int64, runs, scannedPerRun, oppsPerRun int) []persistence.CategoryPerformance {
	out := make([]persistence.CategoryPerformance, 0, runs)
	for i := 0; i < runs; i++ {
		out = append(out, persistence.CategoryPerformance{
			CategoryNodeID:     nodeID,
			ASINsScanned:       scannedPerRun,
			OpportunitiesFound: oppsPerRun,
		})
	}
	return out
}

func TestAutoManageActivatesProvenCategory(t *testing.T) {
	repo := &fakeStrategyRepo{
		categories: []persistence.Category{
			{NodeID: 1, Name: "Car Mounts", DomainID: 1},
			// 15% trailing conversion over 4 runs earns the slot back.
			{NodeID: 2, Name: "Desk Mats", DomainID: 1, Paused: true},
		},
		windows: map[int64][]persistence.CategoryPerformance{
			2: perfRuns(2, 4, 100, 15),
		},
	}

	cfg := DefaultConfig()
	cfg.TargetDomains = []string{"com"}
	s := New(cfg, repo, &fakeBudget{remaining: 5000, daily: 5000}, &fakeRunner{})

	activated, deactivated := s.autoManageCategories(context.Background())
	assert.Equal(t, []string{"Desk Mats"}, activated)
	assert.Empty(t, deactivated)

	require.Len(t, repo.upserted, 1)
	assert.False(t, repo.upserted[0].Paused)
}

func TestAutoManagePausesPoorPerformerOverLimit(t *testing.T) {
	var cats []persistence.Category
	windows := make(map[int64][]persistence.CategoryPerformance)
	for i := int64(1); i <= 4; i++ {
		cats = append(cats, persistence.Category{NodeID: i, Name: "Niche", DomainID: 1})
		windows[i] = perfRuns(i, 6, 100, 12)
	}
	// One proven dud among four active with room for only three.
	cats[3].Name = "Dud"
	windows[4] = perfRuns(4, 6, 100, 1)

	repo := &fakeStrategyRepo{categories: cats, windows: windows}

	cfg := DefaultConfig()
	cfg.TargetDomains = []string{"com"}
	cfg.MaxActiveCategories = 3
	s := New(cfg, repo, &fakeBudget{remaining: 5000, daily: 5000}, &fakeRunner{})

	activated, deactivated := s.autoManageCategories(context.Background())
	assert.Empty(t, activated)
	assert.Equal(t, []string{"Dud"}, deactivated)

	require.Len(t, repo.upserted, 1)
	assert.True(t, repo.upserted[0].Paused)
}

func TestAutoManageKeepsColdCategoriesUntouched(t *testing.T) {
	repo := &fakeStrategyRepo{categories: []persistence.Category{
		{NodeID: 1, Name: "New Niche", DomainID: 1, Paused: true},
	}}

	cfg := DefaultConfig()
	cfg.TargetDomains = []string{"com"}
	s := New(cfg, repo, &fakeBudget{remaining: 5000, daily: 5000}, &fakeRunner{})

	activated, deactivated := s.autoManageCategories(context.Background())
	assert.Empty(t, activated)
	assert.Empty(t, deactivated)
	assert.Empty(t, repo.upserted)
}

func TestRunSkippedWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false

	s := New(cfg, &fakeStrategyRepo{}, &fakeBudget{remaining: 5000, daily: 5000}, &fakeRunner{})
	summary, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "skipped", summary.Status)
	assert.Equal(t, "scheduler disabled", summary.Reason)
}
