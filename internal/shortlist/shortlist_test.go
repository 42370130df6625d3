package shortlist

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartacus-io/smartacus/internal/econ"
)

func opp(asin string, final int, value float64, rank float64, window int) econ.Opportunity {
	return econ.Opportunity{
		ASIN:              asin,
		FinalScore:        final,
		UrgencyLabel:      econ.UrgencyActive,
		WindowDays:        window,
		RiskAdjustedValue: decimal.NewFromFloat(value),
		RankScore:         rank,
		Thesis:            "test thesis",
	}
}

func TestGenerateFilters(t *testing.T) {
	g := NewGenerator()

	opps := []econ.Opportunity{
		opp("B0QUALIFIED", 72, 18000, 21600, 30),
		opp("B0LOWSCORE0", 49, 90000, 90000, 30),  // below score floor
		opp("B0LOWVALUE0", 88, 4999, 9998, 14),    // below value floor
		opp("B0BOUNDARY0", 50, 5000, 5000, 60),    // exactly on both floors
	}

	sl := g.Generate("run-1", opps)

	require.Len(t, sl.Items, 2)
	assert.Equal(t, "B0QUALIFIED", sl.Items[0].ASIN)
	assert.Equal(t, "B0BOUNDARY0", sl.Items[1].ASIN)
	assert.Equal(t, 4, sl.Considered)
	assert.True(t, sl.TotalValue.Equal(decimal.NewFromInt(23000)))
}

func TestGenerateCapsAtFive(t *testing.T) {
	g := NewGenerator()

	var opps []econ.Opportunity
	for i := 0; i < 8; i++ {
		opps = append(opps, opp(
			fmt.Sprintf("B0ITEM%04d", i), 80, 20000, float64(10000+i*1000), 30))
	}

	sl := g.Generate("run-2", opps)

	require.Len(t, sl.Items, MaxItems)
	// Highest rank score first, ranks assigned 1..5.
	assert.Equal(t, "B0ITEM0007", sl.Items[0].ASIN)
	for i, it := range sl.Items {
		assert.Equal(t, i+1, it.Rank)
	}
	assert.GreaterOrEqual(t, sl.Items[0].RankScore, sl.Items[4].RankScore)
}

func TestRecommendedActions(t *testing.T) {
	tests := []struct {
		window int
		want   string
	}{
		{14, "immediate: begin sourcing this week"},
		{30, "priority: complete supplier analysis within 7 days"},
		{60, "active: plan sourcing within 2 weeks"},
		{90, "monitor: add to backlog, reassess in 30 days"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, actionForWindow(tt.window), "window=%d", tt.window)
	}
}

func TestRenderEmpty(t *testing.T) {
	g := NewGenerator()
	sl := g.Generate("run-3", nil)

	out := sl.Render()
	assert.Contains(t, out, "No opportunities cleared")
}

func TestExportJSONRoundTrips(t *testing.T) {
	g := NewGenerator()
	sl := g.Generate("run-4", []econ.Opportunity{
		opp("B0EXPORT001", 75, 12000, 14400, 30),
	})

	raw, err := sl.ExportJSON()
	require.NoError(t, err)

	var decoded Shortlist
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "run-4", decoded.RunID)
	require.Len(t, decoded.Items, 1)
	assert.Equal(t, "B0EXPORT001", decoded.Items[0].ASIN)
	assert.Equal(t, MaxItems, decoded.Criteria.MaxItems)
}
