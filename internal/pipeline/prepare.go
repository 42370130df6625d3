package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/smartacus-io/smartacus/internal/catalog"
	"github.com/smartacus-io/smartacus/internal/econ"
	"github.com/smartacus-io/smartacus/internal/events"
	"github.com/smartacus-io/smartacus/internal/persistence"
	"github.com/smartacus-io/smartacus/internal/score"
)

// Scoring input defaults for signals we cannot observe yet.
const (
	defaultSellerCount     = 10
	defaultBuyboxRotation  = 0.15
	defaultReviewGap       = 0.50
	defaultNegativePct     = 0.10
	defaultWishPer100      = 3
	defaultUnansweredCount = 5

	// Alibaba sourcing runs roughly a fifth of the Amazon price in the
	// accessory categories we scan.
	sourcingPriceDivisor = 5.0

	unknownBSR = 999999
)

// preparedInput bundles the scoring input with the time signals derived from
// the same snapshot history.
type preparedInput struct {
	input   score.Input
	signals econ.TimeSignals
}

// prepareScoringInput aggregates snapshots and the review profile into one
// scoring input. Returns nil when the ASIN has no snapshot at all.
func (p *Pipeline) prepareScoringInput(ctx context.Context, asin string, now time.Time) (*preparedInput, error) {
	latest, err := p.repos.Catalog.LatestSnapshot(ctx, asin)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest snapshot: %w", err)
	}
	if latest == nil {
		return nil, nil
	}

	window, err := p.repos.Catalog.SnapshotWindow(ctx, asin, persistence.TimeRange{
		From: now.Add(-90 * 24 * time.Hour),
		To:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot window: %w", err)
	}

	bsrCurrent := latest.BSRPrimary
	if bsrCurrent == 0 {
		bsrCurrent = unknownBSR
	}

	earliest7d := earliestSince(window, now.Add(-7*24*time.Hour))
	earliest30d := earliestSince(window, now.Add(-30*24*time.Hour))

	var bsrDelta7d, bsrDelta30d, priceTrend30d float64
	if earliest7d != nil && earliest7d.BSRPrimary > 0 {
		bsrDelta7d = float64(bsrCurrent-earliest7d.BSRPrimary) / float64(earliest7d.BSRPrimary)
	}
	if earliest30d != nil && earliest30d.BSRPrimary > 0 {
		bsrDelta30d = float64(bsrCurrent-earliest30d.BSRPrimary) / float64(earliest30d.BSRPrimary)
	}
	price := latest.PriceCurrent.InexactFloat64()
	if earliest30d != nil && price > 0 {
		if old := earliest30d.PriceCurrent.InexactFloat64(); old > 0 {
			priceTrend30d = (price - old) / old
		}
	}

	reviewsPerMonth := reviewVelocity(window, now.Add(-30*24*time.Hour))
	stockouts := countStockouts(window)
	acceleration := bsrAcceleration(window, now.Add(-30*24*time.Hour))

	sellerCount := latest.SellerCount
	if sellerCount == 0 {
		sellerCount = defaultSellerCount
	}

	churned := 0
	churnRate := 0.0
	if len(window) > 0 {
		if was := window[0].SellerCount; was > latest.SellerCount {
			churned = was - latest.SellerCount
		}
		churnRate = sellerChurnRate(window[0].SellerCount, latest.SellerCount)
	}

	in := score.Input{
		ASIN:            asin,
		AmazonPrice:     price,
		SupplierPrice:   estimateSupplierPrice(price),
		BSRCurrent:      bsrCurrent,
		BSRDelta7d:      bsrDelta7d,
		BSRDelta30d:     bsrDelta30d,
		ReviewsPerMonth: reviewsPerMonth,

		SellerCount:      sellerCount,
		BuyboxRotation:   defaultBuyboxRotation,
		ReviewGapVsTop10: defaultReviewGap,

		NegativeReviewPercent: defaultNegativePct,
		WishMentionsPer100:    defaultWishPer100,
		UnansweredQuestions:   defaultUnansweredCount,

		StockoutCount90d: stockouts,
		PriceTrend30d:    priceTrend30d,
		SellerChurn90d:   churned,
		BSRAcceleration:  acceleration,
	}

	p.applyReviewProfile(ctx, asin, &in)

	signals := econ.TimeSignals{
		StockoutFrequency:     float64(stockouts) / 3,
		SellerChurnRate:       churnRate,
		PriceVolatility:       absFloat(priceTrend30d),
		BSRAcceleration:       acceleration,
		EstimatedMonthlyUnits: reviewsPerMonth * 30,
	}

	return &preparedInput{input: in, signals: signals}, nil
}

// applyReviewProfile overlays real review intelligence onto the gap defaults
// when a profile exists.
func (p *Pipeline) applyReviewProfile(ctx context.Context, asin string, in *score.Input) {
	profile, err := p.repos.Reviews.GetProfile(ctx, asin)
	if err != nil || profile == nil {
		return
	}

	if profile.ReviewsAnalyzed > 0 {
		in.NegativeReviewPercent = float64(profile.NegativeReviewsAnalyzed) / float64(profile.ReviewsAnalyzed)

		mentions := 0
		for _, f := range profile.MissingFeatures {
			mentions += f.Mentions
		}
		in.WishMentionsPer100 = float64(mentions) / float64(profile.ReviewsAnalyzed) * 100
	}
	in.HasRecurringProblems = profile.DominantPain != "" && profile.ImprovementScore > 0.2
}

// synthesizeEconomicEvents derives market metrics from the 90d snapshot
// history and persists every actionable thesis. Returns the number of events
// written.
func (p *Pipeline) synthesizeEconomicEvents(ctx context.Context, asin string, now time.Time) (int, error) {
	m, ok, err := p.marketMetrics(ctx, asin, now)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	inserted := 0
	for _, ev := range p.synthesizer.DetectAll(asin, m, now) {
		if !ev.IsActionable() {
			continue
		}
		if err := p.repos.Events.InsertEconomicEvent(ctx, ev); err != nil {
			return inserted, err
		}
		p.recordEvent(string(ev.EventType))
		inserted++
	}
	return inserted, nil
}

// marketMetrics aggregates the snapshot window and review profile into the
// synthesizer inputs. Signals the history cannot carry, like a named top
// seller leaving or the negative review trend, stay at their zero values.
func (p *Pipeline) marketMetrics(ctx context.Context, asin string, now time.Time) (events.MarketMetrics, bool, error) {
	window, err := p.repos.Catalog.SnapshotWindow(ctx, asin, persistence.TimeRange{
		From: now.Add(-90 * 24 * time.Hour),
		To:   now,
	})
	if err != nil {
		return events.MarketMetrics{}, false, fmt.Errorf("failed to load snapshot window: %w", err)
	}
	if len(window) < 2 {
		return events.MarketMetrics{}, false, nil
	}

	latest := window[len(window)-1]
	earliest30d := earliestSince(window, now.Add(-30*24*time.Hour))

	m := events.MarketMetrics{
		Stockouts90d: countStockouts(window),
		RatingNow:    latest.RatingAverage.InexactFloat64(),
	}
	if earliest30d != nil {
		if earliest30d.BSRPrimary > 0 && latest.BSRPrimary > 0 {
			m.BSRChange30d = float64(latest.BSRPrimary-earliest30d.BSRPrimary) / float64(earliest30d.BSRPrimary)
		}
		if old := earliest30d.PriceCurrent.InexactFloat64(); old > 0 && !latest.PriceCurrent.IsZero() {
			m.PriceChange30d = (latest.PriceCurrent.InexactFloat64() - old) / old
		}
		m.Rating30dAgo = earliest30d.RatingAverage.InexactFloat64()
	}

	m.SellerChurn90d = sellerChurnRate(window[0].SellerCount, latest.SellerCount)
	if latest.SellerCount > window[0].SellerCount {
		m.NewEntrants = latest.SellerCount - window[0].SellerCount
	}

	profile, err := p.repos.Reviews.GetProfile(ctx, asin)
	if err == nil && profile != nil && profile.ReviewsAnalyzed > 0 {
		m.NegativeReviewPct = float64(profile.NegativeReviewsAnalyzed) / float64(profile.ReviewsAnalyzed)
		for _, f := range profile.MissingFeatures {
			m.WishMentions += f.Mentions
		}
		for _, d := range profile.TopDefects {
			m.CommonComplaints = append(m.CommonComplaints, d.DefectType)
		}
	}

	return m, true, nil
}

// sellerChurnRate is the share of sellers that left over the window.
func sellerChurnRate(was, is int) float64 {
	if was <= 0 || is >= was {
		return 0
	}
	return float64(was-is) / float64(was)
}

func estimateSupplierPrice(amazonPrice float64) float64 {
	if amazonPrice <= 0 {
		return 0
	}
	return amazonPrice / sourcingPriceDivisor
}

// earliestSince returns the first snapshot captured at or after the cutoff.
// Windows are ordered oldest first.
func earliestSince(window []catalog.Snapshot, cutoff time.Time) *catalog.Snapshot {
	for i := range window {
		if !window[i].CapturedAt.Before(cutoff) {
			return &window[i]
		}
	}
	return nil
}

// reviewVelocity estimates monthly reviews from the review count spread in
// the window.
func reviewVelocity(window []catalog.Snapshot, cutoff time.Time) int {
	minCount, maxCount := -1, 0
	for _, s := range window {
		if s.CapturedAt.Before(cutoff) || s.ReviewCount == 0 {
			continue
		}
		if minCount == -1 || s.ReviewCount < minCount {
			minCount = s.ReviewCount
		}
		if s.ReviewCount > maxCount {
			maxCount = s.ReviewCount
		}
	}
	if minCount == -1 {
		return 0
	}
	return maxCount - minCount
}

// countStockouts counts transitions into out_of_stock across the window.
func countStockouts(window []catalog.Snapshot) int {
	count := 0
	for i := 1; i < len(window); i++ {
		if window[i].StockStatus == catalog.StockOutOfStock &&
			window[i-1].StockStatus != catalog.StockOutOfStock {
			count++
		}
	}
	return count
}

// bsrAcceleration averages the week-over-week BSR change rate and negates
// it, so an improving rank yields positive acceleration.
func bsrAcceleration(window []catalog.Snapshot, cutoff time.Time) float64 {
	type bucket struct {
		sum   float64
		count int
	}
	weeks := make(map[int64]*bucket)
	for _, s := range window {
		if s.CapturedAt.Before(cutoff) || s.BSRPrimary == 0 {
			continue
		}
		week := s.CapturedAt.Unix() / (7 * 24 * 3600)
		b := weeks[week]
		if b == nil {
			b = &bucket{}
			weeks[week] = b
		}
		b.sum += float64(s.BSRPrimary)
		b.count++
	}
	if len(weeks) < 2 {
		return 0
	}

	keys := make([]int64, 0, len(weeks))
	for k := range weeks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var changeSum float64
	changes := 0
	prev := weeks[keys[0]].sum / float64(weeks[keys[0]].count)
	for _, k := range keys[1:] {
		avg := weeks[k].sum / float64(weeks[k].count)
		if prev > 0 {
			changeSum += (avg - prev) / prev
			changes++
		}
		prev = avg
	}
	if changes == 0 {
		return 0
	}
	return -(changeSum / float64(changes))
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
