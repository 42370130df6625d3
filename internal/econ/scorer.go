// Package econ turns deterministic component scores into dollar-denominated,
// urgency-weighted opportunity values.
package econ

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartacus-io/smartacus/internal/score"
)

// Urgency labels ordered from hottest to coldest window.
const (
	UrgencyCritical = "critical"
	UrgencyUrgent   = "urgent"
	UrgencyActive   = "active"
	UrgencyStandard = "standard"
	UrgencyExtended = "extended"
)

// ViabilityFloor is the minimum final score for an opportunity to be
// considered at all downstream.
const ViabilityFloor = 40

// TimeSignals are the temporal urgency inputs for one product.
type TimeSignals struct {
	StockoutFrequency     float64 `json:"stockout_frequency"` // stockouts per month
	SellerChurnRate       float64 `json:"seller_churn_rate"`
	PriceVolatility       float64 `json:"price_volatility"`
	BSRAcceleration       float64 `json:"bsr_acceleration"`
	EstimatedMonthlyUnits int     `json:"estimated_monthly_units"`
}

// SourcingQuote is a supplier quote; when a usable quote exists it beats the
// heuristic COGS estimate.
type SourcingQuote struct {
	SupplierName    string          `json:"supplier_name"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	ShippingPerUnit decimal.Decimal `json:"shipping_per_unit"`
	Active          bool            `json:"active"`
	ExpiresAt       time.Time       `json:"expires_at"`
}

// Usable reports whether the quote can be trusted at the given time.
func (q SourcingQuote) Usable(now time.Time) bool {
	return q.Active && (q.ExpiresAt.IsZero() || q.ExpiresAt.After(now))
}

// Opportunity is the economic view of one scored product.
type Opportunity struct {
	ASIN           string  `json:"asin"`
	FinalScore     int     `json:"final_score"`
	BaseScore      float64 `json:"base_score"`      // 0-1, economics only
	TimeMultiplier float64 `json:"time_multiplier"` // [0.5, 2.0]
	UrgencyLabel   string  `json:"urgency_label"`
	WindowDays     int     `json:"window_days"`
	ErosionRisk    float64 `json:"erosion_risk"` // 0-1
	Confidence     float64 `json:"confidence"`   // 0.5-1.0

	EstimatedMonthlyValue decimal.Decimal `json:"estimated_monthly_value"`
	EstimatedAnnualValue  decimal.Decimal `json:"estimated_annual_value"`
	RiskAdjustedValue     decimal.Decimal `json:"risk_adjusted_value"`
	RankScore             float64         `json:"rank_score"`

	Thesis         string   `json:"thesis"`
	EconomicEvents []string `json:"economic_events"`
}

// Viable reports whether the opportunity clears the minimum final score.
func (o Opportunity) Viable() bool {
	return o.FinalScore >= ViabilityFloor
}

// Scorer computes economic opportunity values. Like the deterministic scorer
// it is a pure function of its inputs.
type Scorer struct {
	riskDiscount   float64
	urgencyWeights map[string]float64
}

// NewScorer creates an economic scorer with production parameters.
func NewScorer() *Scorer {
	return &Scorer{
		riskDiscount: 0.30,
		urgencyWeights: map[string]float64{
			UrgencyCritical: 2.0,
			UrgencyUrgent:   1.5,
			UrgencyActive:   1.2,
			UrgencyStandard: 1.0,
			UrgencyExtended: 0.7,
		},
	}
}

// Score combines a deterministic scoring result with time signals and
// optional supplier quotes into an economic opportunity.
func (s *Scorer) Score(in score.Input, res score.Result, signals TimeSignals, quotes []SourcingQuote, eventIDs []string) Opportunity {
	base := baseScore(res)

	factors := timeFactors(signals)
	mult := composite(factors)

	label, windowDays := windowForMultiplier(mult)
	erosion := (mult - 0.5) / 1.5
	confidence := factorConfidence(factors)

	price := decimal.NewFromFloat(in.AmazonPrice)
	cogs := s.estimateCOGS(in, quotes)
	monthly, annual := s.valueEstimate(price, cogs, signals.EstimatedMonthlyUnits)
	riskAdjusted := annual.Mul(decimal.NewFromFloat(1 - s.riskDiscount))

	final := int(math.Min(100, base*mult*100))
	rankValue, _ := riskAdjusted.Float64()

	return Opportunity{
		ASIN:                  in.ASIN,
		FinalScore:            final,
		BaseScore:             base,
		TimeMultiplier:        mult,
		UrgencyLabel:          label,
		WindowDays:            windowDays,
		ErosionRisk:           erosion,
		Confidence:            confidence,
		EstimatedMonthlyValue: monthly,
		EstimatedAnnualValue:  annual,
		RiskAdjustedValue:     riskAdjusted,
		RankScore:             rankValue * s.urgencyWeights[label],
		Thesis:                buildThesis(in, res, signals, eventIDs),
		EconomicEvents:        eventIDs,
	}
}

// baseScore is the non-temporal economics on a 0-1 scale. Time pressure is
// excluded; it acts through the multiplier instead.
func baseScore(res score.Result) float64 {
	sum := 0
	for name, comp := range res.Components {
		if name == "time_pressure" {
			continue
		}
		sum += comp.Score
	}
	return float64(sum) / 90.0
}

func timeFactors(sig TimeSignals) [4]float64 {
	var f [4]float64

	switch {
	case sig.StockoutFrequency >= 3:
		f[0] = 1.5
	case sig.StockoutFrequency >= 1:
		f[0] = 1.2
	case sig.StockoutFrequency >= 0.5:
		f[0] = 1.0
	default:
		f[0] = 0.8
	}

	switch {
	case sig.SellerChurnRate > 0.30:
		f[1] = 1.4
	case sig.SellerChurnRate > 0.20:
		f[1] = 1.2
	case sig.SellerChurnRate > 0.10:
		f[1] = 1.0
	default:
		f[1] = 0.8
	}

	switch {
	case sig.PriceVolatility > 0.20:
		f[2] = 1.3
	case sig.PriceVolatility > 0.10:
		f[2] = 1.1
	default:
		f[2] = 1.0
	}

	switch {
	case sig.BSRAcceleration > 0.10:
		f[3] = 1.4
	case sig.BSRAcceleration > 0:
		f[3] = 1.2
	case sig.BSRAcceleration > -0.05:
		f[3] = 1.0
	default:
		f[3] = 0.8
	}

	return f
}

// composite is the geometric mean of the four factors, clamped to [0.5, 2.0].
func composite(f [4]float64) float64 {
	product := f[0] * f[1] * f[2] * f[3]
	mult := math.Pow(product, 0.25)
	return math.Max(0.5, math.Min(2.0, mult))
}

func windowForMultiplier(mult float64) (string, int) {
	switch {
	case mult >= 1.8:
		return UrgencyCritical, 14
	case mult >= 1.4:
		return UrgencyUrgent, 30
	case mult >= 1.1:
		return UrgencyActive, 60
	case mult >= 0.9:
		return UrgencyStandard, 90
	default:
		return UrgencyExtended, 180
	}
}

// factorConfidence rises with the number of factors signalling urgency.
func factorConfidence(f [4]float64) float64 {
	strong := 0
	for _, v := range f {
		if v >= 1.2 {
			strong++
		}
	}
	return 0.5 + 0.125*float64(strong)
}

// estimateCOGS prefers the cheapest usable sourcing quote, then the supplier
// price heuristic, then a retail-multiple fallback.
func (s *Scorer) estimateCOGS(in score.Input, quotes []SourcingQuote) decimal.Decimal {
	now := time.Now().UTC()

	usable := make([]SourcingQuote, 0, len(quotes))
	for _, q := range quotes {
		if q.Usable(now) {
			usable = append(usable, q)
		}
	}
	if len(usable) > 0 {
		sort.Slice(usable, func(i, j int) bool {
			return usable[i].UnitPrice.LessThan(usable[j].UnitPrice)
		})
		best := usable[0]
		return best.UnitPrice.Add(best.ShippingPerUnit)
	}

	if in.SupplierPrice > 0 {
		return decimal.NewFromFloat(in.SupplierPrice).Add(decimal.NewFromInt(3))
	}
	// No sourcing data at all: assume a 5x retail markup.
	return decimal.NewFromFloat(in.AmazonPrice).Div(decimal.NewFromInt(5))
}

func (s *Scorer) valueEstimate(price, cogs decimal.Decimal, monthlyUnits int) (monthly, annual decimal.Decimal) {
	fbaFee := decimal.Max(price.Mul(decimal.NewFromFloat(0.15)), decimal.NewFromInt(3))
	referral := price.Mul(decimal.NewFromFloat(0.15))
	ppc := price.Mul(decimal.NewFromFloat(0.10))
	returns := price.Mul(decimal.NewFromFloat(0.05))

	unitProfit := price.Sub(cogs).Sub(fbaFee).Sub(referral).Sub(ppc).Sub(returns)
	if unitProfit.IsNegative() {
		unitProfit = decimal.Zero
	}

	monthly = unitProfit.Mul(decimal.NewFromInt(int64(monthlyUnits)))
	annual = monthly.Mul(decimal.NewFromInt(12))
	return monthly, annual
}

func buildThesis(in score.Input, res score.Result, sig TimeSignals, eventIDs []string) string {
	var parts []string

	if sig.StockoutFrequency >= 1 {
		parts = append(parts, fmt.Sprintf("%.1f stockouts/month", sig.StockoutFrequency))
	}
	if sig.SellerChurnRate > 0.20 {
		parts = append(parts, fmt.Sprintf("seller churn %.0f%%", sig.SellerChurnRate*100))
	}
	if sig.BSRAcceleration > 0.05 {
		parts = append(parts, "demand accelerating")
	}
	if comp, ok := res.Components["margin"]; ok && comp.Score >= 20 {
		parts = append(parts, comp.Details)
	}
	if len(eventIDs) > 0 {
		parts = append(parts, fmt.Sprintf("%d economic events", len(eventIDs)))
	}
	if len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("score %d with %s window", res.TotalScore, res.WindowEstimate))
	}

	return strings.Join(parts, "; ")
}
