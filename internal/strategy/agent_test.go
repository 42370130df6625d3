package strategy

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func provenNiche(id int64, name string) NicheMetrics {
	n := NicheMetrics{
		NicheID:            id,
		Name:               name,
		Domain:             "com",
		TotalRuns:          5,
		TotalASINsScanned:  1000,
		TotalOpportunities: 60,
		TotalTokensUsed:    10000,
		TotalValueDetected: 900,
		LastScannedAt:      time.Now().UTC().Add(-15 * 24 * time.Hour),
	}
	n.Finalize(time.Now().UTC())
	return n
}

func weakNiche(id int64, name string) NicheMetrics {
	n := NicheMetrics{
		NicheID:            id,
		Name:               name,
		Domain:             "com",
		TotalRuns:          4,
		TotalASINsScanned:  1000,
		TotalOpportunities: 2,
		TotalTokensUsed:    10000,
		TotalValueDetected: 20,
		LastScannedAt:      time.Now().UTC().Add(-2 * 24 * time.Hour),
	}
	n.Finalize(time.Now().UTC())
	return n
}

func TestFinalizeDerivedMetrics(t *testing.T) {
	now := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	n := NicheMetrics{
		TotalASINsScanned:  500,
		TotalOpportunities: 25,
		TotalTokensUsed:    2000,
		TotalValueDetected: 100,
		LastScannedAt:      now.Add(-10 * 24 * time.Hour),
	}
	n.Finalize(now)

	assert.InDelta(t, 0.05, n.Density, 1e-9)
	assert.InDelta(t, 50.0, n.ValuePer1kTokens, 1e-9)
	assert.Equal(t, 10, n.DaysSinceScan)

	never := NicheMetrics{}
	never.Finalize(now)
	assert.Equal(t, 999, never.DaysSinceScan)
}

func TestScoreNicheBands(t *testing.T) {
	agent := NewAgent()

	proven := provenNiche(1, "Car Mounts")
	weak := weakNiche(2, "Phone Cases")

	provenScore := agent.scoreNiche(proven)
	weakScore := agent.scoreNiche(weak)

	assert.Greater(t, provenScore, ExploitThreshold)
	assert.Less(t, weakScore, ExploreThreshold)
	assert.Greater(t, provenScore, weakScore)
}

func TestScoreNicheEventBoost(t *testing.T) {
	agent := NewAgent()

	quiet := weakNiche(1, "Quiet")
	busy := quiet
	busy.RecentCriticalEvents = 2

	assert.Greater(t, agent.scoreNiche(busy), agent.scoreNiche(quiet))
}

func TestScoreNicheCapped(t *testing.T) {
	agent := NewAgent()

	n := provenNiche(1, "Hot")
	n.RecentCriticalEvents = 3
	n.TotalValueDetected = 100000
	n.Finalize(time.Now().UTC())

	assert.LessOrEqual(t, agent.scoreNiche(n), 1.0)
}

func TestDecideClassification(t *testing.T) {
	agent := NewAgent()

	cold := NicheMetrics{NicheID: 3, Name: "New Niche", Domain: "fr"}
	cold.Finalize(time.Now().UTC())

	decision := agent.Decide(15000, []NicheMetrics{
		provenNiche(1, "Car Mounts"),
		weakNiche(2, "Phone Cases"),
		cold,
	}, nil)

	assert.Equal(t, []int64{1}, decision.ByStatus(StatusExploit))
	assert.Contains(t, decision.ByStatus(StatusExplore), int64(3))
	assert.Equal(t, []int64{2}, decision.ByStatus(StatusPause))
}

func TestDecideColdStartNeverPauses(t *testing.T) {
	agent := NewAgent()

	// Terrible numbers but only one run: must stay in explore.
	n := NicheMetrics{NicheID: 9, Name: "Unproven", Domain: "com", TotalRuns: 1}
	n.Finalize(time.Now().UTC())

	decision := agent.Decide(1000, []NicheMetrics{n}, nil)
	assert.Empty(t, decision.ByStatus(StatusPause))
	assert.Equal(t, []int64{9}, decision.ByStatus(StatusExplore))
}

func TestDecideForceInclude(t *testing.T) {
	agent := NewAgent()

	weak := weakNiche(2, "Phone Cases")
	decision := agent.Decide(10000, []NicheMetrics{weak}, []int64{2})

	assert.Equal(t, []int64{2}, decision.ByStatus(StatusExploit))
	assert.Empty(t, decision.ByStatus(StatusPause))
}

func TestDecideBudgetSplit(t *testing.T) {
	agent := NewAgent()

	decision := agent.Decide(10000, []NicheMetrics{provenNiche(1, "Car Mounts")}, nil)

	assert.Equal(t, 7000, decision.BudgetExploit)
	assert.Equal(t, 2000, decision.BudgetExplore)
	assert.Equal(t, 1000, decision.BudgetReserve)
	assert.Equal(t, 10000, decision.BudgetExploit+decision.BudgetExplore+decision.BudgetReserve)
}

func TestAllocateColdStartFloor(t *testing.T) {
	agent := NewAgent()

	strong := provenNiche(1, "Strong")
	cold := NicheMetrics{NicheID: 2, Name: "Cold", Domain: "com"}
	cold.Finalize(time.Now().UTC())

	decision := agent.Decide(5000, []NicheMetrics{strong, cold}, nil)

	allocations := decision.Allocations()
	assert.GreaterOrEqual(t, allocations[2], ColdStartTokens)
}

func TestAllocateEqualSplitOnZeroScores(t *testing.T) {
	agent := NewAgent()

	zero := scoredNiche{niche: NicheMetrics{NicheID: 1, TotalRuns: 3}}
	zero2 := scoredNiche{niche: NicheMetrics{NicheID: 2, TotalRuns: 3}}

	assessments := agent.allocate([]scoredNiche{zero, zero2}, 1000, StatusExplore)
	require.Len(t, assessments, 2)
	assert.Equal(t, 500, assessments[0].Tokens)
	assert.Equal(t, 500, assessments[1].Tokens)
}

func TestTokensToASINs(t *testing.T) {
	assert.Equal(t, 0, tokensToASINs(9))
	assert.Equal(t, 1, tokensToASINs(10))
	assert.Equal(t, 97, tokensToASINs(200))
}

func TestRiskNotes(t *testing.T) {
	agent := NewAgent()

	// Single weak niche, tiny budget: expect low budget, no-exploit and
	// all-paused notes.
	decision := agent.Decide(80, []NicheMetrics{weakNiche(1, "Phone Cases")}, nil)

	joined := ""
	for _, note := range decision.RiskNotes {
		joined += note + "\n"
	}
	assert.Contains(t, joined, "LOW BUDGET")
	assert.Contains(t, joined, "WARNING")
	assert.Contains(t, joined, "CRITICAL")
}

func TestRiskNotesHypothesis(t *testing.T) {
	agent := NewAgent()

	oneRun := NicheMetrics{NicheID: 5, Name: "Desk Mats", Domain: "fr", TotalRuns: 1}
	oneRun.Finalize(time.Now().UTC())

	decision := agent.Decide(5000, []NicheMetrics{provenNiche(1, "Car Mounts"), oneRun}, nil)

	found := false
	for _, note := range decision.RiskNotes {
		if note == "HYPOTHESIS: Desk Mats (fr) needs validation (1 run)" {
			found = true
		}
	}
	assert.True(t, found, "expected hypothesis note, got %v", decision.RiskNotes)
}

func TestCycleIDFormat(t *testing.T) {
	agent := NewAgent()
	agent.now = func() time.Time { return time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC) }

	decision := agent.Decide(1000, nil, nil)
	assert.Regexp(t, regexp.MustCompile(`^cycle_20260820_143000_[0-9a-f]{6}$`), decision.CycleID)

	second := agent.Decide(1000, nil, nil)
	assert.NotEqual(t, decision.CycleID, second.CycleID)
}
