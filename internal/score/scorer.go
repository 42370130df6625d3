package score

import (
	"fmt"
	"math"
	"time"
)

// Status classifies a scored opportunity.
type Status string

const (
	StatusExceptional Status = "exceptional"
	StatusStrong      Status = "strong"
	StatusModerate    Status = "moderate"
	StatusWeak        Status = "weak"
	StatusRejected    Status = "rejected"

	// StatusInvalidNoWindow marks products that score well on economics but
	// show no time pressure: there is nothing to act on right now.
	StatusInvalidNoWindow Status = "invalid_no_window"
)

// Input carries everything the scorer needs for one product. The scorer is a
// pure function of this struct: same input, same result.
type Input struct {
	ASIN string `json:"asin"`

	// Margin
	AmazonPrice   float64 `json:"amazon_price"`
	SupplierPrice float64 `json:"supplier_price"`

	// Velocity
	BSRCurrent      int     `json:"bsr_current"`
	BSRDelta7d      float64 `json:"bsr_delta_7d"`
	BSRDelta30d     float64 `json:"bsr_delta_30d"`
	ReviewsPerMonth int     `json:"reviews_per_month"`

	// Competition
	SellerCount       int     `json:"seller_count"`
	BuyboxRotation    float64 `json:"buybox_rotation"`
	ReviewGapVsTop10  float64 `json:"review_gap_vs_top10"`
	HasHouseBrand     bool    `json:"has_house_brand"`
	HasBrandDominance bool    `json:"has_brand_dominance"`

	// Gap
	NegativeReviewPercent float64 `json:"negative_review_percent"`
	WishMentionsPer100    float64 `json:"wish_mentions_per_100"`
	UnansweredQuestions   int     `json:"unanswered_questions"`
	HasRecurringProblems  bool    `json:"has_recurring_problems"`

	// Time pressure
	StockoutCount90d int     `json:"stockout_count_90d"`
	PriceTrend30d    float64 `json:"price_trend_30d"`
	SellerChurn90d   int     `json:"seller_churn_90d"`
	BSRAcceleration  float64 `json:"bsr_acceleration"`
}

// Component is one of the five sub-scores with its audit trail.
type Component struct {
	Score    int    `json:"score"`
	MaxScore int    `json:"max_score"`
	Details  string `json:"details"`
}

// Result is the full scoring outcome for one product.
type Result struct {
	ASIN            string               `json:"asin"`
	TotalScore      int                  `json:"total_score"`
	Status          Status               `json:"status"`
	IsValid         bool                 `json:"is_valid"`
	RejectionReason string               `json:"rejection_reason,omitempty"`
	WindowDays      int                  `json:"window_days"`
	WindowEstimate  string               `json:"window_estimate"`
	Components      map[string]Component `json:"components"`
	ScoredAt        time.Time            `json:"scored_at"`
}

// Validate checks the structural invariants of a result.
func (r *Result) Validate() error {
	if r.TotalScore < 0 || r.TotalScore > 100 {
		return fmt.Errorf("total score %d outside [0,100]", r.TotalScore)
	}
	sum := 0
	for _, c := range r.Components {
		if c.Score < 0 || c.Score > c.MaxScore {
			return fmt.Errorf("component score %d outside [0,%d]", c.Score, c.MaxScore)
		}
		sum += c.Score
	}
	if sum != r.TotalScore {
		return fmt.Errorf("component sum %d != total %d", sum, r.TotalScore)
	}
	return nil
}

// Scorer computes the five-component opportunity score.
type Scorer struct {
	cfg Config
	now func() time.Time
}

// NewScorer creates a scorer with the given config.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg, now: time.Now}
}

// SetClock overrides the timestamp source. Fixing the clock makes repeated
// scores of the same input byte-identical.
func (s *Scorer) SetClock(now func() time.Time) {
	s.now = now
}

// NewDefaultScorer creates a scorer with production thresholds.
func NewDefaultScorer() *Scorer {
	return NewScorer(DefaultConfig())
}

// Score computes the full deterministic score for one product.
func (s *Scorer) Score(in Input) Result {
	margin := s.scoreMargin(in)
	velocity := s.scoreVelocity(in)
	competition := s.scoreCompetition(in)
	gap := s.scoreGap(in)
	pressure := s.scoreTimePressure(in)

	total := margin.Score + velocity.Score + competition.Score + gap.Score + pressure.Score

	result := Result{
		ASIN:       in.ASIN,
		TotalScore: total,
		Components: map[string]Component{
			"margin":        margin,
			"velocity":      velocity,
			"competition":   competition,
			"gap":           gap,
			"time_pressure": pressure,
		},
		ScoredAt: s.now().UTC(),
	}

	// Hard gate: no window, no opportunity.
	if pressure.Score < s.cfg.MinimumTimePressure {
		result.Status = StatusInvalidNoWindow
		result.IsValid = false
		result.RejectionReason = fmt.Sprintf(
			"Time Pressure score %d below minimum %d: no exploitable window",
			pressure.Score, s.cfg.MinimumTimePressure)
		result.WindowDays = 0
		result.WindowEstimate = "no window"
		return result
	}

	result.Status = statusForTotal(total)
	result.IsValid = result.Status != StatusRejected
	if !result.IsValid {
		result.RejectionReason = fmt.Sprintf("total score %d below viability floor 40", total)
	}
	result.WindowDays, result.WindowEstimate = windowForPressure(pressure.Score)
	return result
}

func statusForTotal(total int) Status {
	switch {
	case total >= 85:
		return StatusExceptional
	case total >= 70:
		return StatusStrong
	case total >= 55:
		return StatusModerate
	case total >= 40:
		return StatusWeak
	default:
		return StatusRejected
	}
}

// windowForPressure maps the time-pressure score to an action window.
func windowForPressure(pressure int) (int, string) {
	switch {
	case pressure >= 9:
		return 14, "critical: ~14 day window"
	case pressure >= 7:
		return 30, "urgent: ~30 day window"
	case pressure >= 5:
		return 60, "active: ~60 day window"
	case pressure >= 3:
		return 120, "open: ~120 day window"
	default:
		return 0, "no window"
	}
}

// EstimateNetMargin computes the unit margin after all Amazon-side costs.
func (s *Scorer) EstimateNetMargin(price, supplierPrice float64) float64 {
	if price <= 0 {
		return 0
	}
	cogs := supplierPrice + s.cfg.LandedCostAdder
	fbaFee := math.Max(s.cfg.FBAFeeRate*price, s.cfg.FBAFeeMinimum)
	referral := s.cfg.ReferralFeeRate * price
	returns := s.cfg.ReturnRate * price
	ppc := s.cfg.PPCRate * price
	storage := s.cfg.StoragePerMonth * float64(s.cfg.StorageMonths)

	net := price - cogs - fbaFee - referral - s.cfg.ShippingPerUnit - returns - ppc - storage
	return net / price
}

func (s *Scorer) scoreMargin(in Input) Component {
	margin := s.EstimateNetMargin(in.AmazonPrice, in.SupplierPrice)

	points := 0
	for _, band := range s.cfg.MarginThresholds {
		if margin >= band.Threshold {
			points = band.Points
			break
		}
	}
	if margin < 0 {
		points = 0
	}

	return Component{
		Score:    points,
		MaxScore: MaxMargin,
		Details:  fmt.Sprintf("net margin %.1f%% at $%.2f retail", margin*100, in.AmazonPrice),
	}
}

func (s *Scorer) scoreVelocity(in Input) Component {
	points := 0

	for _, band := range s.cfg.BSRBands {
		if in.BSRCurrent <= band.Threshold && in.BSRCurrent > 0 {
			points += band.Points
			break
		}
	}
	for _, band := range s.cfg.BSRDelta7Bands {
		if in.BSRDelta7d <= band.Threshold {
			points += band.Points
			break
		}
	}
	for _, band := range s.cfg.BSRDelta30Bands {
		if in.BSRDelta30d <= band.Threshold {
			points += band.Points
			break
		}
	}
	for _, band := range s.cfg.ReviewVelBands {
		if in.ReviewsPerMonth >= band.Threshold {
			points += band.Points
			break
		}
	}

	stagnant := math.Abs(in.BSRDelta7d) < 0.05 &&
		math.Abs(in.BSRDelta30d) < 0.10 &&
		in.ReviewsPerMonth < 5
	if stagnant {
		points += s.cfg.StagnantPenalty
	}

	points = clamp(points, 0, MaxVelocity)

	detail := fmt.Sprintf("BSR %d, 7d %+.0f%%, 30d %+.0f%%, %d reviews/mo",
		in.BSRCurrent, in.BSRDelta7d*100, in.BSRDelta30d*100, in.ReviewsPerMonth)
	if stagnant {
		detail += " (stagnant)"
	}

	return Component{Score: points, MaxScore: MaxVelocity, Details: detail}
}

func (s *Scorer) scoreCompetition(in Input) Component {
	points := 0

	for _, band := range s.cfg.SellerCountBands {
		if in.SellerCount <= band.Threshold {
			points += band.Points
			break
		}
	}
	for _, band := range s.cfg.BuyboxRotBands {
		if in.BuyboxRotation >= band.Threshold {
			points += band.Points
			break
		}
	}
	for _, band := range s.cfg.ReviewGapBands {
		if in.ReviewGapVsTop10 <= band.Threshold {
			points += band.Points
			break
		}
	}
	if !in.HasBrandDominance {
		points += s.cfg.NoDominanceBonus
	}
	if in.HasHouseBrand {
		points += s.cfg.HouseBrandMalus
	}

	points = clamp(points, 0, MaxCompetition)

	return Component{
		Score:    points,
		MaxScore: MaxCompetition,
		Details: fmt.Sprintf("%d sellers, buybox rotation %.0f%%, review gap %.0f%%",
			in.SellerCount, in.BuyboxRotation*100, in.ReviewGapVsTop10*100),
	}
}

func (s *Scorer) scoreGap(in Input) Component {
	points := 0

	for _, band := range s.cfg.NegativePctBands {
		if in.NegativeReviewPercent >= band.Threshold {
			points += band.Points
			break
		}
	}
	for _, band := range s.cfg.WishMentionBands {
		if in.WishMentionsPer100 >= band.Threshold {
			points += band.Points
			break
		}
	}
	for _, band := range s.cfg.UnansweredBands {
		if in.UnansweredQuestions >= band.Threshold {
			points += band.Points
			break
		}
	}
	if in.HasRecurringProblems {
		points = int(float64(points) * s.cfg.RecurringMultiple)
	}

	points = clamp(points, 0, MaxGap)

	detail := fmt.Sprintf("%.0f%% negative, %.1f wishes/100, %d unanswered",
		in.NegativeReviewPercent*100, in.WishMentionsPer100, in.UnansweredQuestions)
	if in.HasRecurringProblems {
		detail += ", recurring problems"
	}

	return Component{Score: points, MaxScore: MaxGap, Details: detail}
}

func (s *Scorer) scoreTimePressure(in Input) Component {
	points := 0

	for _, band := range s.cfg.StockoutBands {
		if in.StockoutCount90d >= band.Threshold {
			points += band.Points
			break
		}
	}

	trendPoints := -1
	for _, band := range s.cfg.PriceTrendBands {
		if in.PriceTrend30d >= band.Threshold {
			trendPoints = band.Points
			break
		}
	}
	points += trendPoints

	for _, band := range s.cfg.ChurnBands {
		if in.SellerChurn90d >= band.Threshold {
			points += band.Points
			break
		}
	}
	for _, band := range s.cfg.AccelBands {
		if in.BSRAcceleration >= band.Threshold {
			points += band.Points
			break
		}
	}

	points = clamp(points, 0, MaxTimePressure)

	return Component{
		Score:    points,
		MaxScore: MaxTimePressure,
		Details: fmt.Sprintf("%d stockouts/90d, price trend %+.0f%%, churn %d, accel %.2f",
			in.StockoutCount90d, in.PriceTrend30d*100, in.SellerChurn90d, in.BSRAcceleration),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
