package econ

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartacus-io/smartacus/internal/score"
)

func resultWithComponents(m, v, c, g, p int) score.Result {
	return score.Result{
		ASIN:       "B0ECONTEST1",
		TotalScore: m + v + c + g + p,
		Components: map[string]score.Component{
			"margin":        {Score: m, MaxScore: score.MaxMargin},
			"velocity":      {Score: v, MaxScore: score.MaxVelocity},
			"competition":   {Score: c, MaxScore: score.MaxCompetition},
			"gap":           {Score: g, MaxScore: score.MaxGap},
			"time_pressure": {Score: p, MaxScore: score.MaxTimePressure},
		},
	}
}

func TestBaseScoreExcludesTimePressure(t *testing.T) {
	res := resultWithComponents(30, 25, 20, 15, 10)
	assert.InDelta(t, 1.0, baseScore(res), 0.001)

	res = resultWithComponents(15, 10, 10, 10, 10)
	assert.InDelta(t, 0.5, baseScore(res), 0.001)
}

func TestTimeMultiplierClamp(t *testing.T) {
	// All factors maxed: (1.5*1.4*1.3*1.4)^0.25 = 1.35, inside range.
	hot := timeFactors(TimeSignals{
		StockoutFrequency: 4,
		SellerChurnRate:   0.40,
		PriceVolatility:   0.25,
		BSRAcceleration:   0.20,
	})
	mult := composite(hot)
	assert.Greater(t, mult, 1.3)
	assert.LessOrEqual(t, mult, 2.0)

	// All factors cold: (0.8^3 * 1.0)^0.25 ~ 0.85, still above the floor.
	cold := timeFactors(TimeSignals{BSRAcceleration: -0.10})
	mult = composite(cold)
	assert.GreaterOrEqual(t, mult, 0.5)
	assert.Less(t, mult, 0.9)
}

func TestWindowForMultiplier(t *testing.T) {
	tests := []struct {
		mult      float64
		wantLabel string
		wantDays  int
	}{
		{1.9, UrgencyCritical, 14},
		{1.8, UrgencyCritical, 14},
		{1.5, UrgencyUrgent, 30},
		{1.2, UrgencyActive, 60},
		{0.95, UrgencyStandard, 90},
		{0.6, UrgencyExtended, 180},
	}

	for _, tt := range tests {
		label, days := windowForMultiplier(tt.mult)
		assert.Equal(t, tt.wantLabel, label, "mult=%f", tt.mult)
		assert.Equal(t, tt.wantDays, days, "mult=%f", tt.mult)
	}
}

func TestFactorConfidence(t *testing.T) {
	assert.InDelta(t, 0.5, factorConfidence([4]float64{1.0, 1.0, 1.0, 0.8}), 0.001)
	assert.InDelta(t, 0.75, factorConfidence([4]float64{1.2, 1.4, 1.0, 0.8}), 0.001)
	assert.InDelta(t, 1.0, factorConfidence([4]float64{1.5, 1.4, 1.3, 1.4}), 0.001)
}

func TestEstimateCOGSPrefersQuote(t *testing.T) {
	s := NewScorer()
	in := score.Input{AmazonPrice: 30, SupplierPrice: 4}

	quotes := []SourcingQuote{
		{
			SupplierName:    "expensive co",
			UnitPrice:       decimal.NewFromFloat(6.00),
			ShippingPerUnit: decimal.NewFromFloat(1.00),
			Active:          true,
		},
		{
			SupplierName:    "cheap co",
			UnitPrice:       decimal.NewFromFloat(3.50),
			ShippingPerUnit: decimal.NewFromFloat(1.20),
			Active:          true,
		},
		{
			SupplierName: "expired co",
			UnitPrice:    decimal.NewFromFloat(1.00),
			Active:       true,
			ExpiresAt:    time.Now().Add(-24 * time.Hour),
		},
	}

	cogs := s.estimateCOGS(in, quotes)
	assert.True(t, cogs.Equal(decimal.NewFromFloat(4.70)), "got %s", cogs)

	// No quotes: supplier price plus landed adder.
	cogs = s.estimateCOGS(in, nil)
	assert.True(t, cogs.Equal(decimal.NewFromInt(7)), "got %s", cogs)

	// No sourcing data: retail divided by five.
	cogs = s.estimateCOGS(score.Input{AmazonPrice: 30}, nil)
	assert.True(t, cogs.Equal(decimal.NewFromInt(6)), "got %s", cogs)
}

func TestValueEstimateNeverNegative(t *testing.T) {
	s := NewScorer()

	// COGS above price: unit profit floored at zero.
	monthly, annual := s.valueEstimate(decimal.NewFromInt(10), decimal.NewFromInt(12), 300)
	assert.True(t, monthly.IsZero())
	assert.True(t, annual.IsZero())
}

func TestScoreEndToEnd(t *testing.T) {
	s := NewScorer()

	in := score.Input{
		ASIN:          "B0ECONTEST1",
		AmazonPrice:   29.99,
		SupplierPrice: 4.50,
	}
	res := resultWithComponents(20, 18, 14, 8, 6)
	signals := TimeSignals{
		StockoutFrequency:     3.5,
		SellerChurnRate:       0.35,
		PriceVolatility:       0.15,
		BSRAcceleration:       0.12,
		EstimatedMonthlyUnits: 400,
	}

	opp := s.Score(in, res, signals, nil, []string{"ss_B0ECONTEST1_20260801_a1b2c3"})

	require.True(t, opp.Viable())
	assert.Equal(t, UrgencyActive, opp.UrgencyLabel)
	assert.Equal(t, 60, opp.WindowDays)
	assert.Greater(t, opp.TimeMultiplier, 1.1)
	assert.True(t, opp.RiskAdjustedValue.GreaterThan(decimal.Zero))
	assert.True(t, opp.EstimatedAnnualValue.GreaterThan(opp.EstimatedMonthlyValue))
	assert.InDelta(t, opp.RankScore, mustFloat(opp.RiskAdjustedValue)*1.2, 0.01)
	assert.NotEmpty(t, opp.Thesis)
	assert.Contains(t, opp.Thesis, "stockouts/month")
}

func TestRankScoreUrgencyWeighting(t *testing.T) {
	s := NewScorer()

	in := score.Input{ASIN: "B0RANKTEST1", AmazonPrice: 40, SupplierPrice: 5}
	res := resultWithComponents(20, 15, 12, 8, 7)
	base := TimeSignals{EstimatedMonthlyUnits: 200}

	// Cold signals: standard-or-worse window.
	cold := s.Score(in, res, base, nil, nil)

	hot := base
	hot.StockoutFrequency = 4
	hot.SellerChurnRate = 0.40
	hot.PriceVolatility = 0.25
	hot.BSRAcceleration = 0.20
	urgent := s.Score(in, res, hot, nil, nil)

	// Same economics, hotter window: higher rank.
	assert.Greater(t, urgent.RankScore, cold.RankScore)
	assert.Greater(t, urgent.FinalScore, cold.FinalScore)
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
