package events

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EconomicEventType names a market thesis, not a raw metric change. A price
// drop is a symptom; margin compression is a thesis.
type EconomicEventType string

const (
	TypeSupplyShock           EconomicEventType = "supply_shock"
	TypeDemandSurge           EconomicEventType = "demand_surge"
	TypeCompetitorCollapse    EconomicEventType = "competitor_collapse"
	TypeMarketFatigue         EconomicEventType = "market_fatigue"
	TypePriceElasticitySignal EconomicEventType = "price_elasticity_signal"
	TypeMarginCompression     EconomicEventType = "margin_compression"
	TypeQualityDecay          EconomicEventType = "quality_decay"
	TypeSeasonalWindow        EconomicEventType = "seasonal_window"
)

// Confidence in the thesis, driven by how many signals agree.
type Confidence string

const (
	ConfidenceWeak      Confidence = "weak"
	ConfidenceModerate  Confidence = "moderate"
	ConfidenceStrong    Confidence = "strong"
	ConfidenceConfirmed Confidence = "confirmed"
)

// Urgency of action on the thesis.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Signal is one piece of evidence for or against a thesis.
type Signal struct {
	Kind           string  `json:"kind"`
	Value          float64 `json:"value,omitempty"`
	Interpretation string  `json:"interpretation"`
}

// EconomicEvent is an exploitable market imbalance with its evidence.
type EconomicEvent struct {
	EventID    string            `json:"event_id"`
	ASIN       string            `json:"asin"`
	EventType  EconomicEventType `json:"event_type"`
	DetectedAt time.Time         `json:"detected_at"`

	Thesis     string     `json:"thesis"`
	Confidence Confidence `json:"confidence"`
	Urgency    Urgency    `json:"urgency"`
	WindowDays int        `json:"window_days"`

	SupportingSignals    []Signal `json:"supporting_signals"`
	ContradictingSignals []Signal `json:"contradicting_signals"`
}

// SignalStrength is the share of supporting signals among all signals.
func (e EconomicEvent) SignalStrength() float64 {
	total := len(e.SupportingSignals) + len(e.ContradictingSignals)
	if total == 0 {
		return 0
	}
	return float64(len(e.SupportingSignals)) / float64(total)
}

// IsActionable reports whether the thesis is solid enough to act on.
func (e EconomicEvent) IsActionable() bool {
	return e.Confidence != ConfidenceWeak &&
		len(e.SupportingSignals) >= 2 &&
		e.SignalStrength() >= 0.6
}

// MarketMetrics bundles the inputs the synthesizer evaluates for one product.
type MarketMetrics struct {
	Stockouts90d         int      `json:"stockouts_90d"`
	BSRChange30d         float64  `json:"bsr_change_30d"`
	PriceChange30d       float64  `json:"price_change_30d"`
	CompetitorsStockout  int      `json:"competitors_stockout"`
	SellerChurn90d       float64  `json:"seller_churn_90d"`
	TopSellerGone        bool     `json:"top_seller_gone"`
	BuyboxRotationChange float64  `json:"buybox_rotation_change"`
	NewEntrants          int      `json:"new_entrants"`
	NegativeReviewPct    float64  `json:"negative_review_pct"`
	NegativeReviewTrend  float64  `json:"negative_review_trend"`
	WishMentions         int      `json:"wish_mentions"`
	CommonComplaints     []string `json:"common_complaints"`
	Rating30dAgo         float64  `json:"rating_30d_ago"`
	RatingNow            float64  `json:"rating_now"`
}

// Synthesizer builds economic theses from market metrics.
type Synthesizer struct{}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{}
}

// DetectAll evaluates every thesis for one product and returns those with
// enough supporting evidence.
func (s *Synthesizer) DetectAll(asin string, m MarketMetrics, now time.Time) []EconomicEvent {
	var events []EconomicEvent

	if ev, ok := SupplyShockFromSignals(asin, m, now); ok {
		events = append(events, ev)
	}
	if ev, ok := CompetitorCollapseFromSignals(asin, m, now); ok {
		events = append(events, ev)
	}
	if ev, ok := QualityDecayFromSignals(asin, m, now); ok {
		events = append(events, ev)
	}
	if ev, ok := DemandSurgeFromSignals(asin, m, now); ok {
		events = append(events, ev)
	}
	if ev, ok := PriceElasticityFromSignals(asin, m, now); ok {
		events = append(events, ev)
	}

	return events
}

var confidenceRank = map[Confidence]int{
	ConfidenceConfirmed: 4,
	ConfidenceStrong:    3,
	ConfidenceModerate:  2,
	ConfidenceWeak:      1,
}

var urgencyRank = map[Urgency]int{
	UrgencyCritical: 4,
	UrgencyHigh:     3,
	UrgencyMedium:   2,
	UrgencyLow:      1,
}

// PrimaryEvent picks the highest-confidence, then highest-urgency event.
func (s *Synthesizer) PrimaryEvent(events []EconomicEvent) (EconomicEvent, bool) {
	if len(events) == 0 {
		return EconomicEvent{}, false
	}
	sorted := append([]EconomicEvent{}, events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := confidenceRank[sorted[i].Confidence], confidenceRank[sorted[j].Confidence]
		if ci != cj {
			return ci > cj
		}
		return urgencyRank[sorted[i].Urgency] > urgencyRank[sorted[j].Urgency]
	})
	return sorted[0], true
}

// SupplyShockFromSignals builds a supply shock thesis: demand outruns supply.
// Requires repeated stockouts, or one stockout with strong demand evidence,
// without liquidation pricing.
func SupplyShockFromSignals(asin string, m MarketMetrics, now time.Time) (EconomicEvent, bool) {
	var signals, contra []Signal

	switch {
	case m.Stockouts90d >= 2:
		signals = append(signals, Signal{
			Kind:           "frequent_stockouts",
			Value:          float64(m.Stockouts90d),
			Interpretation: "recurring unmet demand",
		})
	case m.Stockouts90d == 1:
		signals = append(signals, Signal{
			Kind:           "single_stockout",
			Value:          1,
			Interpretation: "weak but present signal",
		})
	}

	if m.BSRChange30d < -0.20 {
		signals = append(signals, Signal{
			Kind:           "bsr_improvement",
			Value:          m.BSRChange30d,
			Interpretation: "demand accelerating",
		})
	} else if m.BSRChange30d > 0.20 {
		contra = append(contra, Signal{
			Kind:           "bsr_degradation",
			Value:          m.BSRChange30d,
			Interpretation: "demand declining",
		})
	}

	if m.PriceChange30d >= 0 {
		signals = append(signals, Signal{
			Kind:           "price_stable_or_up",
			Value:          m.PriceChange30d,
			Interpretation: "no liquidation, real demand",
		})
	} else if m.PriceChange30d < -0.15 {
		contra = append(contra, Signal{
			Kind:           "price_dropping",
			Value:          m.PriceChange30d,
			Interpretation: "possible liquidation",
		})
	}

	if m.CompetitorsStockout > 0 {
		signals = append(signals, Signal{
			Kind:           "market_wide_shortage",
			Value:          float64(m.CompetitorsStockout),
			Interpretation: "supply problem across the market",
		})
	}

	if len(signals) < 2 {
		return EconomicEvent{}, false
	}

	var confidence Confidence
	switch {
	case len(signals) >= 4 && len(contra) == 0:
		confidence = ConfidenceStrong
	case len(signals) >= 3:
		confidence = ConfidenceModerate
	default:
		confidence = ConfidenceWeak
	}

	var urgency Urgency
	var window int
	switch {
	case m.Stockouts90d >= 3:
		urgency, window = UrgencyHigh, 30
	case m.Stockouts90d >= 2:
		urgency, window = UrgencyMedium, 60
	default:
		urgency, window = UrgencyLow, 90
	}

	thesis := fmt.Sprintf("Supply shock: %d stockouts in 90d", m.Stockouts90d)
	if m.BSRChange30d < -0.20 {
		thesis += fmt.Sprintf(", BSR improved %.0f%%", math.Abs(m.BSRChange30d)*100)
	}
	if m.CompetitorsStockout > 0 {
		thesis += fmt.Sprintf(", %d competitors also out of stock", m.CompetitorsStockout)
	}

	return EconomicEvent{
		EventID:              eventID("ss", asin, now),
		ASIN:                 asin,
		EventType:            TypeSupplyShock,
		DetectedAt:           now,
		Thesis:               thesis,
		Confidence:           confidence,
		Urgency:              urgency,
		WindowDays:           window,
		SupportingSignals:    signals,
		ContradictingSignals: contra,
	}, true
}

// CompetitorCollapseFromSignals builds a competitor collapse thesis: a
// significant seller is leaving and the market is not refilling.
func CompetitorCollapseFromSignals(asin string, m MarketMetrics, now time.Time) (EconomicEvent, bool) {
	var signals, contra []Signal

	switch {
	case m.SellerChurn90d > 0.30:
		signals = append(signals, Signal{
			Kind:           "high_seller_churn",
			Value:          m.SellerChurn90d,
			Interpretation: "sellers leaving en masse",
		})
	case m.SellerChurn90d > 0.20:
		signals = append(signals, Signal{
			Kind:           "moderate_seller_churn",
			Value:          m.SellerChurn90d,
			Interpretation: "significant turnover",
		})
	}

	if m.TopSellerGone {
		signals = append(signals, Signal{
			Kind:           "top_seller_exit",
			Interpretation: "market leader gone",
		})
	}

	if m.BuyboxRotationChange > 0.20 {
		signals = append(signals, Signal{
			Kind:           "buybox_destabilized",
			Value:          m.BuyboxRotationChange,
			Interpretation: "share up for grabs",
		})
	}

	if m.NewEntrants > 3 {
		contra = append(contra, Signal{
			Kind:           "new_entrants",
			Value:          float64(m.NewEntrants),
			Interpretation: "market refilling",
		})
	} else if m.NewEntrants == 0 {
		signals = append(signals, Signal{
			Kind:           "no_new_entrants",
			Interpretation: "market emptying",
		})
	}

	if len(signals) < 2 {
		return EconomicEvent{}, false
	}

	var confidence Confidence
	var urgency Urgency
	var window int
	switch {
	case m.TopSellerGone && m.SellerChurn90d > 0.30:
		confidence, urgency, window = ConfidenceStrong, UrgencyHigh, 30
	case len(signals) >= 3:
		confidence, urgency, window = ConfidenceModerate, UrgencyMedium, 60
	default:
		confidence, urgency, window = ConfidenceWeak, UrgencyLow, 90
	}

	thesis := fmt.Sprintf("Competitor collapse: churn %.0f%%", m.SellerChurn90d*100)
	if m.TopSellerGone {
		thesis += ", leader gone"
	}

	return EconomicEvent{
		EventID:              eventID("cc", asin, now),
		ASIN:                 asin,
		EventType:            TypeCompetitorCollapse,
		DetectedAt:           now,
		Thesis:               thesis,
		Confidence:           confidence,
		Urgency:              urgency,
		WindowDays:           window,
		SupportingSignals:    signals,
		ContradictingSignals: contra,
	}, true
}

// QualityDecayFromSignals builds a quality decay thesis: perceived quality
// is slipping, which is an opening for a better product.
func QualityDecayFromSignals(asin string, m MarketMetrics, now time.Time) (EconomicEvent, bool) {
	var signals, contra []Signal

	switch {
	case m.NegativeReviewPct > 0.20:
		signals = append(signals, Signal{
			Kind:           "high_negative_reviews",
			Value:          m.NegativeReviewPct,
			Interpretation: "high dissatisfaction",
		})
	case m.NegativeReviewPct > 0.15:
		signals = append(signals, Signal{
			Kind:           "moderate_negative_reviews",
			Value:          m.NegativeReviewPct,
			Interpretation: "quality problems",
		})
	}

	if m.NegativeReviewTrend > 0.05 {
		signals = append(signals, Signal{
			Kind:           "negative_trend_worsening",
			Value:          m.NegativeReviewTrend,
			Interpretation: "quality degrading",
		})
	}

	if m.WishMentions >= 5 {
		signals = append(signals, Signal{
			Kind:           "wish_mentions",
			Value:          float64(m.WishMentions),
			Interpretation: "missing features identified",
		})
	}

	ratingDecline := m.Rating30dAgo - m.RatingNow
	if ratingDecline > 0.3 {
		signals = append(signals, Signal{
			Kind:           "rating_decline",
			Value:          ratingDecline,
			Interpretation: "reputation falling",
		})
	}

	if len(m.CommonComplaints) >= 3 {
		signals = append(signals, Signal{
			Kind:           "recurring_complaints",
			Value:          float64(len(m.CommonComplaints)),
			Interpretation: "systemic problems identified",
		})
	}

	if len(signals) < 2 {
		return EconomicEvent{}, false
	}

	var confidence Confidence
	switch {
	case len(signals) >= 4:
		confidence = ConfidenceStrong
	case len(signals) >= 3:
		confidence = ConfidenceModerate
	default:
		confidence = ConfidenceWeak
	}

	thesis := fmt.Sprintf("Quality decay: %.0f%% negative reviews", m.NegativeReviewPct*100)
	if m.WishMentions >= 5 {
		thesis += fmt.Sprintf(", %d improvement requests", m.WishMentions)
	}
	if len(m.CommonComplaints) > 0 {
		top := m.CommonComplaints
		if len(top) > 2 {
			top = top[:2]
		}
		thesis += ", complaints: " + strings.Join(top, ", ")
	}

	// The flawed product stays on the market, so the window is long.
	return EconomicEvent{
		EventID:              eventID("qd", asin, now),
		ASIN:                 asin,
		EventType:            TypeQualityDecay,
		DetectedAt:           now,
		Thesis:               thesis,
		Confidence:           confidence,
		Urgency:              UrgencyMedium,
		WindowDays:           90,
		SupportingSignals:    signals,
		ContradictingSignals: contra,
	}, true
}

// DemandSurgeFromSignals builds a demand surge thesis: rank is improving
// without a price cut buying the demand. Requires a real BSR improvement.
func DemandSurgeFromSignals(asin string, m MarketMetrics, now time.Time) (EconomicEvent, bool) {
	if m.BSRChange30d >= -0.20 {
		return EconomicEvent{}, false
	}

	var signals, contra []Signal

	if m.BSRChange30d < -0.40 {
		signals = append(signals, Signal{
			Kind:           "rank_breakout",
			Value:          m.BSRChange30d,
			Interpretation: "demand taking off",
		})
	} else {
		signals = append(signals, Signal{
			Kind:           "rank_climbing",
			Value:          m.BSRChange30d,
			Interpretation: "demand building",
		})
	}

	switch {
	case m.PriceChange30d >= 0.05:
		signals = append(signals, Signal{
			Kind:           "price_rising",
			Value:          m.PriceChange30d,
			Interpretation: "demand absorbs higher prices",
		})
	case m.PriceChange30d >= 0:
		signals = append(signals, Signal{
			Kind:           "price_holding",
			Value:          m.PriceChange30d,
			Interpretation: "growth not bought with discounts",
		})
	case m.PriceChange30d < -0.10:
		contra = append(contra, Signal{
			Kind:           "discount_driven",
			Value:          m.PriceChange30d,
			Interpretation: "rank gain may be a price promotion",
		})
	}

	if m.Stockouts90d >= 1 {
		signals = append(signals, Signal{
			Kind:           "supply_straining",
			Value:          float64(m.Stockouts90d),
			Interpretation: "supply struggling to keep up",
		})
	}

	if len(signals) < 2 {
		return EconomicEvent{}, false
	}

	var confidence Confidence
	switch {
	case len(signals) >= 4 && len(contra) == 0:
		confidence = ConfidenceStrong
	case len(signals) >= 3:
		confidence = ConfidenceModerate
	default:
		confidence = ConfidenceWeak
	}

	var urgency Urgency
	var window int
	switch {
	case m.BSRChange30d < -0.40:
		urgency, window = UrgencyHigh, 21
	case m.BSRChange30d < -0.30:
		urgency, window = UrgencyMedium, 45
	default:
		urgency, window = UrgencyLow, 60
	}

	thesis := fmt.Sprintf("Demand surge: BSR improved %.0f%% in 30d", math.Abs(m.BSRChange30d)*100)
	if m.PriceChange30d >= 0.05 {
		thesis += fmt.Sprintf(" with price up %.0f%%", m.PriceChange30d*100)
	}
	if m.Stockouts90d >= 1 {
		thesis += fmt.Sprintf(", %d stockouts", m.Stockouts90d)
	}

	return EconomicEvent{
		EventID:              eventID("ds", asin, now),
		ASIN:                 asin,
		EventType:            TypeDemandSurge,
		DetectedAt:           now,
		Thesis:               thesis,
		Confidence:           confidence,
		Urgency:              urgency,
		WindowDays:           window,
		SupportingSignals:    signals,
		ContradictingSignals: contra,
	}, true
}

// PriceElasticityFromSignals builds an elasticity thesis: a meaningful price
// move revealed how demand responds. Flat prices carry no information.
func PriceElasticityFromSignals(asin string, m MarketMetrics, now time.Time) (EconomicEvent, bool) {
	if m.PriceChange30d > -0.10 && m.PriceChange30d < 0.05 {
		return EconomicEvent{}, false
	}

	var signals, contra []Signal
	priceUp := m.PriceChange30d >= 0.05

	if priceUp {
		signals = append(signals, Signal{
			Kind:           "price_increase",
			Value:          m.PriceChange30d,
			Interpretation: "market tested a higher price",
		})
		if m.BSRChange30d <= 0.10 {
			signals = append(signals, Signal{
				Kind:           "demand_held",
				Value:          m.BSRChange30d,
				Interpretation: "rank survived the increase, inelastic demand",
			})
		}
		if m.BSRChange30d > 0.25 {
			contra = append(contra, Signal{
				Kind:           "demand_lost",
				Value:          m.BSRChange30d,
				Interpretation: "rank collapsed after the increase",
			})
		}
	} else {
		signals = append(signals, Signal{
			Kind:           "price_cut",
			Value:          m.PriceChange30d,
			Interpretation: "market tested a lower price",
		})
		if m.BSRChange30d < -0.20 {
			signals = append(signals, Signal{
				Kind:           "demand_bought",
				Value:          m.BSRChange30d,
				Interpretation: "cut converted into rank, elastic demand",
			})
		}
	}

	if m.Stockouts90d >= 2 {
		contra = append(contra, Signal{
			Kind:           "stockout_noise",
			Value:          float64(m.Stockouts90d),
			Interpretation: "stockouts distort the rank response",
		})
	}

	if len(signals) < 2 {
		return EconomicEvent{}, false
	}

	confidence := ConfidenceModerate
	if len(contra) > 0 {
		confidence = ConfidenceWeak
	}

	direction := "up"
	if !priceUp {
		direction = "down"
	}
	thesis := fmt.Sprintf("Price elasticity: price %s %.0f%% with BSR %+.0f%% response",
		direction, math.Abs(m.PriceChange30d)*100, m.BSRChange30d*100)

	return EconomicEvent{
		EventID:              eventID("pe", asin, now),
		ASIN:                 asin,
		EventType:            TypePriceElasticitySignal,
		DetectedAt:           now,
		Thesis:               thesis,
		Confidence:           confidence,
		Urgency:              UrgencyLow,
		WindowDays:           60,
		SupportingSignals:    signals,
		ContradictingSignals: contra,
	}, true
}

func eventID(prefix, asin string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("%s_%s_%s_%s", prefix, asin, now.Format("20060102"), suffix)
}
