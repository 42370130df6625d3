// Package events turns raw snapshot deltas into market events, and market
// events into economic theses the scorers can consume.
package events

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Severity classifies how much an event matters.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Direction of a price or rank movement.
type Direction string

const (
	DirectionUp     Direction = "up"
	DirectionDown   Direction = "down"
	DirectionStable Direction = "stable"
)

// StockTransition classifies a stock status change.
type StockTransition string

const (
	TransitionStockout      StockTransition = "stockout"
	TransitionRestock       StockTransition = "restock"
	TransitionLowStockAlert StockTransition = "low_stock_alert"
	TransitionStatusChange  StockTransition = "status_change"
)

// Stock status values as stored on snapshots.
const (
	StockInStock    = "in_stock"
	StockLowStock   = "low_stock"
	StockOutOfStock = "out_of_stock"
	StockUnknown    = "unknown"
)

// Snapshot is the minimal point-in-time view the detector compares.
type Snapshot struct {
	ASIN        string          `json:"asin"`
	CapturedAt  time.Time       `json:"captured_at"`
	Price       decimal.Decimal `json:"price"`
	BSR         int             `json:"bsr"`
	StockStatus string          `json:"stock_status"`
}

// PriceEvent is a significant price change between two snapshots.
type PriceEvent struct {
	ASIN               string          `json:"asin"`
	DetectedAt         time.Time       `json:"detected_at"`
	PriceBefore        decimal.Decimal `json:"price_before"`
	PriceAfter         decimal.Decimal `json:"price_after"`
	PriceChange        decimal.Decimal `json:"price_change"`
	PriceChangePercent float64         `json:"price_change_percent"`
	Direction          Direction       `json:"direction"`
	Severity           Severity        `json:"severity"`
	SnapshotBeforeAt   time.Time       `json:"snapshot_before_at"`
	SnapshotAfterAt    time.Time       `json:"snapshot_after_at"`
}

// BSREvent is a significant sales rank movement. DirectionUp means the rank
// number dropped, which is an improvement.
type BSREvent struct {
	ASIN             string    `json:"asin"`
	DetectedAt       time.Time `json:"detected_at"`
	BSRBefore        int       `json:"bsr_before"`
	BSRAfter         int       `json:"bsr_after"`
	BSRChange        int       `json:"bsr_change"`
	BSRChangePercent float64   `json:"bsr_change_percent"`
	Direction        Direction `json:"direction"`
	Severity         Severity  `json:"severity"`
	SnapshotBeforeAt time.Time `json:"snapshot_before_at"`
	SnapshotAfterAt  time.Time `json:"snapshot_after_at"`
}

// StockEvent is a stock status transition.
type StockEvent struct {
	ASIN             string          `json:"asin"`
	DetectedAt       time.Time       `json:"detected_at"`
	StatusBefore     string          `json:"status_before"`
	StatusAfter      string          `json:"status_after"`
	EventType        StockTransition `json:"event_type"`
	Severity         Severity        `json:"severity"`
	SnapshotBeforeAt time.Time       `json:"snapshot_before_at"`
	SnapshotAfterAt  time.Time       `json:"snapshot_after_at"`
}

// Detection thresholds.
const (
	priceEventThreshold  = 0.05
	bsrPercentThreshold  = 0.20
	bsrAbsoluteThreshold = 10000
)

// Detector compares snapshot pairs and emits events.
type Detector struct{}

// NewDetector creates a detector.
func NewDetector() *Detector {
	return &Detector{}
}

// DetectPriceEvent emits an event when the price moved more than 5% between
// the two snapshots.
func (d *Detector) DetectPriceEvent(prev, curr Snapshot) (PriceEvent, bool) {
	if prev.Price.IsZero() || curr.Price.IsZero() {
		return PriceEvent{}, false
	}

	change := curr.Price.Sub(prev.Price)
	pct, _ := change.Div(prev.Price).Float64()
	if math.Abs(pct) < priceEventThreshold {
		return PriceEvent{}, false
	}

	direction := DirectionUp
	if pct < 0 {
		direction = DirectionDown
	}

	return PriceEvent{
		ASIN:               curr.ASIN,
		DetectedAt:         curr.CapturedAt,
		PriceBefore:        prev.Price,
		PriceAfter:         curr.Price,
		PriceChange:        change,
		PriceChangePercent: pct,
		Direction:          direction,
		Severity:           priceSeverity(math.Abs(pct)),
		SnapshotBeforeAt:   prev.CapturedAt,
		SnapshotAfterAt:    curr.CapturedAt,
	}, true
}

func priceSeverity(absPct float64) Severity {
	switch {
	case absPct >= 0.30:
		return SeverityCritical
	case absPct >= 0.20:
		return SeverityHigh
	case absPct >= 0.10:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// DetectBSREvent emits an event when the rank moved more than 20% or more
// than 10,000 positions.
func (d *Detector) DetectBSREvent(prev, curr Snapshot) (BSREvent, bool) {
	if prev.BSR <= 0 || curr.BSR <= 0 {
		return BSREvent{}, false
	}

	change := curr.BSR - prev.BSR
	pct := float64(change) / float64(prev.BSR)
	if math.Abs(pct) < bsrPercentThreshold && abs(change) < bsrAbsoluteThreshold {
		return BSREvent{}, false
	}

	// Lower rank number is better.
	direction := DirectionDown
	if change < 0 {
		direction = DirectionUp
	}

	return BSREvent{
		ASIN:             curr.ASIN,
		DetectedAt:       curr.CapturedAt,
		BSRBefore:        prev.BSR,
		BSRAfter:         curr.BSR,
		BSRChange:        change,
		BSRChangePercent: pct,
		Direction:        direction,
		Severity:         priceSeverity(math.Abs(pct)),
		SnapshotBeforeAt: prev.CapturedAt,
		SnapshotAfterAt:  curr.CapturedAt,
	}, true
}

// DetectStockEvent emits an event when the stock status changed.
func (d *Detector) DetectStockEvent(prev, curr Snapshot) (StockEvent, bool) {
	if prev.StockStatus == curr.StockStatus ||
		prev.StockStatus == StockUnknown || curr.StockStatus == StockUnknown ||
		prev.StockStatus == "" || curr.StockStatus == "" {
		return StockEvent{}, false
	}

	var transition StockTransition
	var severity Severity
	switch {
	case curr.StockStatus == StockOutOfStock:
		transition = TransitionStockout
		severity = SeverityHigh
	case prev.StockStatus == StockOutOfStock:
		transition = TransitionRestock
		severity = SeverityMedium
	case curr.StockStatus == StockLowStock:
		transition = TransitionLowStockAlert
		severity = SeverityLow
	default:
		transition = TransitionStatusChange
		severity = SeverityLow
	}

	return StockEvent{
		ASIN:             curr.ASIN,
		DetectedAt:       curr.CapturedAt,
		StatusBefore:     prev.StockStatus,
		StatusAfter:      curr.StockStatus,
		EventType:        transition,
		Severity:         severity,
		SnapshotBeforeAt: prev.CapturedAt,
		SnapshotAfterAt:  curr.CapturedAt,
	}, true
}

// AggregatedMetrics is the per-product event summary the scorer consumes.
type AggregatedMetrics struct {
	ASIN             string    `json:"asin"`
	AnalysisDate     time.Time `json:"analysis_date"`
	StockoutCount90d int       `json:"stockout_count_90d"`
	PriceTrend30d    float64   `json:"price_trend_30d"`
	SellerChurn90d   int       `json:"seller_churn_90d"`
	BSRAcceleration  float64   `json:"bsr_acceleration"`

	PriceEventsCount   int       `json:"price_events_count"`
	BSREventsCount     int       `json:"bsr_events_count"`
	StockEventsCount   int       `json:"stock_events_count"`
	LastStockoutAt     time.Time `json:"last_stockout_at"`
	LastPriceDropAt    time.Time `json:"last_price_drop_at"`
	AvgPriceVolatility float64   `json:"avg_price_volatility"`
	BSRTrend7d         float64   `json:"bsr_trend_7d"`
	BSRTrend30d        float64   `json:"bsr_trend_30d"`
}

// Aggregate folds detected events into scoring metrics.
func Aggregate(asin string, priceEvents []PriceEvent, bsrEvents []BSREvent, stockEvents []StockEvent, now time.Time) AggregatedMetrics {
	m := AggregatedMetrics{
		ASIN:             asin,
		AnalysisDate:     now,
		PriceEventsCount: len(priceEvents),
		BSREventsCount:   len(bsrEvents),
		StockEventsCount: len(stockEvents),
	}

	for _, e := range stockEvents {
		if e.EventType != TransitionStockout {
			continue
		}
		if now.Sub(e.DetectedAt) <= 90*24*time.Hour {
			m.StockoutCount90d++
		}
		if e.DetectedAt.After(m.LastStockoutAt) {
			m.LastStockoutAt = e.DetectedAt
		}
	}

	for _, e := range priceEvents {
		if e.Direction == DirectionDown && e.DetectedAt.After(m.LastPriceDropAt) {
			m.LastPriceDropAt = e.DetectedAt
		}
		m.AvgPriceVolatility += math.Abs(e.PriceChangePercent)
	}
	if len(priceEvents) > 0 {
		m.AvgPriceVolatility /= float64(len(priceEvents))
	}

	return m
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
