package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartacus-io/smartacus/internal/persistence"
)

type fakeStrategyRepo struct {
	categories  []persistence.Category
	performance map[int64][]persistence.CategoryPerformance
	decisions   []persistence.StrategyDecision
}

func (f *fakeStrategyRepo) UpsertCategory(_ context.Context, _ persistence.Category) error {
	return nil
}

func (f *fakeStrategyRepo) ListCategories(_ context.Context, _ int) ([]persistence.Category, error) {
	return f.categories, nil
}

func (f *fakeStrategyRepo) RecordPerformance(_ context.Context, _ persistence.CategoryPerformance) error {
	return nil
}

func (f *fakeStrategyRepo) PerformanceWindow(_ context.Context, nodeID int64, _ int) ([]persistence.CategoryPerformance, error) {
	return f.performance[nodeID], nil
}

func (f *fakeStrategyRepo) InsertDecision(_ context.Context, d persistence.StrategyDecision) error {
	f.decisions = append(f.decisions, d)
	return nil
}

type fixedTokens struct{ budget int }

func (f fixedTokens) DailyBudget(_ context.Context) (int, error) {
	return f.budget, nil
}

func plannerFixture() *fakeStrategyRepo {
	return &fakeStrategyRepo{
		categories: []persistence.Category{
			{NodeID: 7072562011, Name: "Car Mounts", DomainID: 1, LastScannedAt: time.Now().UTC().Add(-15 * 24 * time.Hour)},
			{NodeID: 2407755011, Name: "Desk Mats", DomainID: 1, ForceInclude: true},
			{NodeID: 99999, Name: "Retired", DomainID: 1, Paused: true},
		},
		performance: map[int64][]persistence.CategoryPerformance{
			7072562011: {
				{ASINsScanned: 500, OpportunitiesFound: 30, TokensSpent: 5000, ValuePer1kTokens: 90},
				{ASINsScanned: 500, OpportunitiesFound: 30, TokensSpent: 5000, ValuePer1kTokens: 90},
			},
		},
	}
}

func TestLoadNiches(t *testing.T) {
	repo := plannerFixture()
	planner := NewPlanner(repo, fixedTokens{budget: 10000}, nil)

	niches, forced, err := planner.LoadNiches(context.Background(), 1)
	require.NoError(t, err)

	// Paused category is excluded from the cycle.
	require.Len(t, niches, 2)
	assert.Equal(t, []int64{2407755011}, forced)

	proven := niches[0]
	assert.Equal(t, int64(7072562011), proven.NicheID)
	assert.Equal(t, 2, proven.TotalRuns)
	assert.Equal(t, 1000, proven.TotalASINsScanned)
	assert.InDelta(t, 0.06, proven.Density, 1e-9)
	assert.InDelta(t, 90.0, proven.ValuePer1kTokens, 1e-9)

	cold := niches[1]
	assert.Equal(t, 0, cold.TotalRuns)
	assert.Equal(t, 999, cold.DaysSinceScan)
}

func TestRunCyclePersistsDecision(t *testing.T) {
	repo := plannerFixture()
	planner := NewPlanner(repo, fixedTokens{budget: 10000}, nil)

	decision, err := planner.RunCycle(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, repo.decisions, 1)

	stored := repo.decisions[0]
	assert.Equal(t, decision.CycleID, stored.CycleID)
	assert.Equal(t, 10000, stored.BudgetTokens)
	assert.Contains(t, stored.Exploit, "7072562011")
	// Force-include sends the cold niche to exploit despite zero runs.
	assert.Contains(t, stored.Exploit, "2407755011")
	assert.NotContains(t, stored.Paused, "2407755011")

	total := 0
	for _, tokens := range stored.Allocations {
		total += tokens
	}
	assert.Greater(t, total, 0)
}

func TestRunCycleReusesCachedDecision(t *testing.T) {
	repo := plannerFixture()
	cache := NewDecisionCache(nil, time.Hour)
	planner := NewPlanner(repo, fixedTokens{budget: 10000}, cache)

	first, err := planner.RunCycle(context.Background(), 1)
	require.NoError(t, err)

	second, err := planner.RunCycle(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, first.CycleID, second.CycleID)
	assert.Len(t, repo.decisions, 1, "cached cycle must not persist again")
}
