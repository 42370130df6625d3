package events

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

func TestSupplyShockDetection(t *testing.T) {
	m := MarketMetrics{
		Stockouts90d:        3,
		BSRChange30d:        -0.35,
		PriceChange30d:      0.02,
		CompetitorsStockout: 2,
	}

	ev, ok := SupplyShockFromSignals("B0SHOCK0001", m, testNow)
	require.True(t, ok)

	assert.Equal(t, TypeSupplyShock, ev.EventType)
	assert.Equal(t, ConfidenceStrong, ev.Confidence)
	assert.Equal(t, UrgencyHigh, ev.Urgency)
	assert.Equal(t, 30, ev.WindowDays)
	assert.True(t, ev.IsActionable())
	assert.Contains(t, ev.Thesis, "3 stockouts")
	assert.True(t, strings.HasPrefix(ev.EventID, "ss_B0SHOCK0001_20260820_"))
}

func TestSupplyShockNeedsTwoSignals(t *testing.T) {
	// One stockout with falling price: single supporting signal, no event.
	m := MarketMetrics{
		Stockouts90d:   1,
		BSRChange30d:   0.05,
		PriceChange30d: -0.20,
	}

	_, ok := SupplyShockFromSignals("B0SHOCK0002", m, testNow)
	assert.False(t, ok)
}

func TestSupplyShockContraSignalsWeakenConfidence(t *testing.T) {
	// Four supporting signals would be strong, but a contra signal caps it.
	m := MarketMetrics{
		Stockouts90d:        4,
		BSRChange30d:        0.25, // degradation, contra
		PriceChange30d:      0.01,
		CompetitorsStockout: 1,
	}

	ev, ok := SupplyShockFromSignals("B0SHOCK0003", m, testNow)
	require.True(t, ok)
	assert.Equal(t, ConfidenceModerate, ev.Confidence)
	assert.Len(t, ev.ContradictingSignals, 1)
}

func TestCompetitorCollapseDetection(t *testing.T) {
	m := MarketMetrics{
		SellerChurn90d:       0.35,
		TopSellerGone:        true,
		BuyboxRotationChange: 0.25,
		NewEntrants:          1,
	}

	ev, ok := CompetitorCollapseFromSignals("B0COLL00001", m, testNow)
	require.True(t, ok)

	assert.Equal(t, TypeCompetitorCollapse, ev.EventType)
	assert.Equal(t, ConfidenceStrong, ev.Confidence)
	assert.Equal(t, UrgencyHigh, ev.Urgency)
	assert.Contains(t, ev.Thesis, "leader gone")
	assert.True(t, strings.HasPrefix(ev.EventID, "cc_"))
}

func TestCompetitorCollapseManyEntrantsContra(t *testing.T) {
	m := MarketMetrics{
		SellerChurn90d:       0.25,
		BuyboxRotationChange: 0.30,
		NewEntrants:          5,
	}

	ev, ok := CompetitorCollapseFromSignals("B0COLL00002", m, testNow)
	require.True(t, ok)
	assert.Equal(t, ConfidenceWeak, ev.Confidence)
	assert.False(t, ev.IsActionable())
}

func TestQualityDecayDetection(t *testing.T) {
	m := MarketMetrics{
		NegativeReviewPct:   0.22,
		NegativeReviewTrend: 0.08,
		WishMentions:        7,
		CommonComplaints:    []string{"poor_grip", "durability", "vibration_noise"},
		Rating30dAgo:        4.4,
		RatingNow:           3.9,
	}

	ev, ok := QualityDecayFromSignals("B0DECAY0001", m, testNow)
	require.True(t, ok)

	assert.Equal(t, TypeQualityDecay, ev.EventType)
	assert.Equal(t, ConfidenceStrong, ev.Confidence)
	assert.Equal(t, UrgencyMedium, ev.Urgency)
	assert.Equal(t, 90, ev.WindowDays)
	assert.Contains(t, ev.Thesis, "7 improvement requests")
	assert.True(t, strings.HasPrefix(ev.EventID, "qd_"))
}

func TestQualityDecayInsufficientSignals(t *testing.T) {
	m := MarketMetrics{
		NegativeReviewPct: 0.10,
		WishMentions:      2,
		Rating30dAgo:      4.5,
		RatingNow:         4.5,
	}

	_, ok := QualityDecayFromSignals("B0DECAY0002", m, testNow)
	assert.False(t, ok)
}

func TestDemandSurgeDetection(t *testing.T) {
	m := MarketMetrics{
		Stockouts90d:   2,
		BSRChange30d:   -0.45,
		PriceChange30d: 0.08,
	}

	ev, ok := DemandSurgeFromSignals("B0SURGE0001", m, testNow)
	require.True(t, ok)

	assert.Equal(t, TypeDemandSurge, ev.EventType)
	assert.Equal(t, ConfidenceModerate, ev.Confidence)
	assert.Equal(t, UrgencyHigh, ev.Urgency)
	assert.Equal(t, 21, ev.WindowDays)
	assert.True(t, ev.IsActionable())
	assert.Contains(t, ev.Thesis, "BSR improved 45%")
	assert.True(t, strings.HasPrefix(ev.EventID, "ds_B0SURGE0001_20260820_"))
}

func TestDemandSurgeNeedsRankImprovement(t *testing.T) {
	// Flat rank with rising price is not a surge.
	m := MarketMetrics{
		BSRChange30d:   -0.10,
		PriceChange30d: 0.08,
		Stockouts90d:   2,
	}

	_, ok := DemandSurgeFromSignals("B0SURGE0002", m, testNow)
	assert.False(t, ok)
}

func TestDemandSurgeDiscountContra(t *testing.T) {
	// Rank gain bought with a deep discount is suspect.
	m := MarketMetrics{
		BSRChange30d:   -0.35,
		PriceChange30d: -0.20,
		Stockouts90d:   1,
	}

	ev, ok := DemandSurgeFromSignals("B0SURGE0003", m, testNow)
	require.True(t, ok)
	assert.Equal(t, ConfidenceWeak, ev.Confidence)
	assert.Len(t, ev.ContradictingSignals, 1)
	assert.False(t, ev.IsActionable())
}

func TestPriceElasticityInelasticDemand(t *testing.T) {
	m := MarketMetrics{
		PriceChange30d: 0.12,
		BSRChange30d:   0.05,
	}

	ev, ok := PriceElasticityFromSignals("B0ELAST0001", m, testNow)
	require.True(t, ok)

	assert.Equal(t, TypePriceElasticitySignal, ev.EventType)
	assert.Equal(t, ConfidenceModerate, ev.Confidence)
	assert.Equal(t, UrgencyLow, ev.Urgency)
	assert.Equal(t, 60, ev.WindowDays)
	assert.Contains(t, ev.Thesis, "price up 12%")
	assert.True(t, strings.HasPrefix(ev.EventID, "pe_"))
}

func TestPriceElasticityFlatPriceCarriesNoSignal(t *testing.T) {
	m := MarketMetrics{
		PriceChange30d: 0.02,
		BSRChange30d:   -0.30,
	}

	_, ok := PriceElasticityFromSignals("B0ELAST0002", m, testNow)
	assert.False(t, ok)
}

func TestPriceElasticityStockoutsWeakenThesis(t *testing.T) {
	m := MarketMetrics{
		PriceChange30d: -0.15,
		BSRChange30d:   -0.30,
		Stockouts90d:   3,
	}

	ev, ok := PriceElasticityFromSignals("B0ELAST0003", m, testNow)
	require.True(t, ok)
	assert.Equal(t, ConfidenceWeak, ev.Confidence)
	assert.Len(t, ev.ContradictingSignals, 1)
}

func TestSignalStrengthAndActionability(t *testing.T) {
	ev := EconomicEvent{
		Confidence: ConfidenceModerate,
		SupportingSignals: []Signal{
			{Kind: "a"}, {Kind: "b"}, {Kind: "c"},
		},
		ContradictingSignals: []Signal{{Kind: "x"}},
	}
	assert.InDelta(t, 0.75, ev.SignalStrength(), 0.001)
	assert.True(t, ev.IsActionable())

	// Strength below 0.6 blocks action even at moderate confidence.
	ev.ContradictingSignals = []Signal{{Kind: "x"}, {Kind: "y"}, {Kind: "z"}}
	assert.False(t, ev.IsActionable())
}

func TestDetectAllAndPrimary(t *testing.T) {
	s := NewSynthesizer()

	m := MarketMetrics{
		Stockouts90d:         3,
		BSRChange30d:         -0.30,
		PriceChange30d:       0.01,
		SellerChurn90d:       0.25,
		BuyboxRotationChange: 0.25,
		NewEntrants:          0,
		NegativeReviewPct:    0.18,
		NegativeReviewTrend:  0.06,
		WishMentions:         6,
	}

	events := s.DetectAll("B0MULTI0001", m, testNow)
	require.GreaterOrEqual(t, len(events), 2)

	primary, ok := s.PrimaryEvent(events)
	require.True(t, ok)
	// Supply shock carries strong confidence and high urgency here.
	assert.Equal(t, TypeSupplyShock, primary.EventType)

	_, ok = s.PrimaryEvent(nil)
	assert.False(t, ok)
}
