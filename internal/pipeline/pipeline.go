// Package pipeline orchestrates the daily scan: ingestion, event detection,
// scoring, shortlist generation and cleanup. Stages are isolated so one
// failure does not sink the run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/smartacus-io/smartacus/internal/catalog"
	"github.com/smartacus-io/smartacus/internal/econ"
	"github.com/smartacus-io/smartacus/internal/events"
	"github.com/smartacus-io/smartacus/internal/ingest"
	"github.com/smartacus-io/smartacus/internal/metrics"
	"github.com/smartacus-io/smartacus/internal/persistence"
	"github.com/smartacus-io/smartacus/internal/reviews"
	"github.com/smartacus-io/smartacus/internal/scheduler"
	"github.com/smartacus-io/smartacus/internal/score"
	"github.com/smartacus-io/smartacus/internal/shortlist"
	"github.com/smartacus-io/smartacus/internal/specs"
	"github.com/smartacus-io/smartacus/internal/strategy"
)

// Stage names a pipeline phase.
type Stage string

const (
	StageIngestion      Stage = "ingestion"
	StageEventDetection Stage = "event_detection"
	StageScoring        Stage = "scoring"
	StageShortlist      Stage = "shortlist"
	StageCleanup        Stage = "cleanup"
)

// Status is a pipeline or stage outcome.
type Status string

const (
	StatusRunning        Status = "running"
	StatusCompleted      Status = "completed"
	StatusPartialFailure Status = "partial_failure"
	StatusFailed         Status = "failed"
)

// Defaults.
const (
	DefaultScoreThreshold = 50
	ingestionMaxRetries   = 3
	shortlistPoolSize     = 50
	eventWindowHours      = 48
)

// Materialized views refreshed during cleanup.
var cleanupViews = []string{"mv_latest_snapshots", "mv_asin_stats_7d", "mv_asin_stats_30d"}

// StageError is one recorded stage failure.
type StageError struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// StageResult is the outcome of one stage.
type StageResult struct {
	Stage       Stage                  `json:"stage"`
	Status      Status                 `json:"status"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
	Metrics     map[string]interface{} `json:"metrics,omitempty"`
	Errors      []StageError           `json:"errors,omitempty"`
}

// Duration returns the stage wall time.
func (r StageResult) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

func (r *StageResult) addError(kind string, err error) {
	r.Errors = append(r.Errors, StageError{
		Type:      kind,
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
	})
}

// Result is one complete pipeline run.
type Result struct {
	RunID          string                `json:"run_id"`
	Status         Status                `json:"status"`
	StartedAt      time.Time             `json:"started_at"`
	CompletedAt    time.Time             `json:"completed_at"`
	Stages         map[Stage]StageResult `json:"stages"`
	TotalScored    int                   `json:"total_scored"`
	AboveThreshold int                   `json:"above_threshold"`
	TokensConsumed int64                 `json:"tokens_consumed"`
	ASINsProcessed int                   `json:"asins_processed"`
}

// Duration returns the run wall time.
func (r Result) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Options tunes one run.
type Options struct {
	// SkipIngestion reuses already ingested data.
	SkipIngestion bool
	// SkipEvents bypasses event detection.
	SkipEvents bool
	// MaxASINs caps processing in the ingestion and scoring stages.
	MaxASINs int
	// ASINs restricts the run to a specific set, bypassing discovery.
	ASINs []string
}

// Ingestor is the ingestion surface the pipeline drives.
type Ingestor interface {
	RunDaily(ctx context.Context, opts ingest.Options) (*ingest.Result, error)
}

// Pipeline coordinates the daily stages over the repositories.
type Pipeline struct {
	repos          *persistence.Repository
	ingest         Ingestor
	scorer         *score.Scorer
	econ           *econ.Scorer
	detector       *events.Detector
	synthesizer    *events.Synthesizer
	shortlister    *shortlist.Generator
	extractor      *reviews.Extractor
	aggregator     *reviews.Aggregator
	specgen        *specs.Generator
	reviewSource   ReviewSource
	metrics        *metrics.Registry
	scoreThreshold int
	now            func() time.Time
}

// New creates a pipeline with the default score threshold.
func New(repos *persistence.Repository, ingestor Ingestor) *Pipeline {
	return &Pipeline{
		repos:          repos,
		ingest:         ingestor,
		scorer:         score.NewDefaultScorer(),
		econ:           econ.NewScorer(),
		detector:       events.NewDetector(),
		synthesizer:    events.NewSynthesizer(),
		shortlister:    shortlist.NewGenerator(),
		extractor:      reviews.NewExtractor(),
		aggregator:     reviews.NewAggregator(),
		specgen:        specs.NewGenerator(),
		scoreThreshold: DefaultScoreThreshold,
		now:            time.Now,
	}
}

// SetScoreThreshold overrides the persistence floor for scored opportunities.
func (p *Pipeline) SetScoreThreshold(threshold int) {
	p.scoreThreshold = threshold
}

// SetMetrics attaches a Prometheus registry. Without one the pipeline runs
// uninstrumented.
func (p *Pipeline) SetMetrics(m *metrics.Registry) {
	p.metrics = m
}

// instrumented wraps one stage with duration and error metrics.
func (p *Pipeline) instrumented(name Stage, fn func() StageResult) StageResult {
	if p.metrics == nil {
		return fn()
	}
	timer := p.metrics.StartStage(string(name))
	res := fn()
	timer.Stop(string(res.Status))
	for _, e := range res.Errors {
		p.metrics.RecordStageError(string(name), e.Type)
	}
	return res
}

func (p *Pipeline) recordEvent(eventType string) {
	if p.metrics != nil {
		p.metrics.RecordEvent(eventType)
	}
}

// Run executes all stages and records the run. Individual stage failures
// downgrade the run to partial_failure; the remaining stages still execute.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{
		RunID:     uuid.New().String(),
		Status:    StatusRunning,
		StartedAt: p.now().UTC(),
		Stages:    make(map[Stage]StageResult),
	}

	log.Info().Str("run_id", result.RunID).Msg("starting daily pipeline")

	if err := p.repos.Scheduler.InsertRun(ctx, persistence.PipelineRun{
		RunID:     result.RunID,
		Status:    string(StatusRunning),
		StartedAt: result.StartedAt,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to record run start")
	}

	if p.metrics != nil {
		p.metrics.ActiveRuns.Inc()
		defer p.metrics.ActiveRuns.Dec()
	}

	if !opts.SkipIngestion {
		result.Stages[StageIngestion] = p.instrumented(StageIngestion, func() StageResult {
			return p.runIngestionStage(ctx, opts)
		})
	}
	if !opts.SkipEvents {
		result.Stages[StageEventDetection] = p.instrumented(StageEventDetection, func() StageResult {
			return p.runEventDetectionStage(ctx, opts)
		})
	}

	scoring := p.instrumented(StageScoring, func() StageResult {
		return p.runScoringStage(ctx, opts)
	})
	result.Stages[StageScoring] = scoring
	result.TotalScored = intMetric(scoring.Metrics, "total_scored")
	result.AboveThreshold = intMetric(scoring.Metrics, "above_threshold")

	result.Stages[StageShortlist] = p.instrumented(StageShortlist, func() StageResult {
		return p.runShortlistStage(ctx, result.RunID)
	})
	result.Stages[StageCleanup] = p.instrumented(StageCleanup, func() StageResult {
		return p.runCleanupStage(ctx)
	})

	if ing, ok := result.Stages[StageIngestion]; ok {
		result.TokensConsumed = int64(intMetric(ing.Metrics, "tokens_consumed"))
		result.ASINsProcessed = intMetric(ing.Metrics, "asins_processed")
	}

	result.CompletedAt = p.now().UTC()
	result.Status = finalStatus(result.Stages)

	if p.metrics != nil {
		p.metrics.RecordRun(string(result.Status), result.TokensConsumed, result.ASINsProcessed)
		if ing, ok := result.Stages[StageIngestion]; ok {
			p.metrics.SnapshotsInserted.Add(float64(intMetric(ing.Metrics, "snapshots_inserted")))
		}
	}

	log.Info().
		Str("run_id", result.RunID).
		Str("status", string(result.Status)).
		Int("above_threshold", result.AboveThreshold).
		Dur("duration", result.Duration()).
		Msg("pipeline complete")

	p.recordRun(ctx, result)
	return result, nil
}

func finalStatus(stages map[Stage]StageResult) Status {
	failed := 0
	for _, r := range stages {
		if r.Status == StatusFailed {
			failed++
		}
	}
	switch {
	case failed == len(stages) && failed > 0:
		return StatusFailed
	case failed > 0:
		return StatusPartialFailure
	default:
		return StatusCompleted
	}
}

func (p *Pipeline) recordRun(ctx context.Context, result *Result) {
	metrics := map[string]interface{}{
		"total_scored":    result.TotalScored,
		"above_threshold": result.AboveThreshold,
		"tokens_consumed": result.TokensConsumed,
		"asins_processed": result.ASINsProcessed,
	}
	var errs []string
	for stage, r := range result.Stages {
		metrics[fmt.Sprintf("%s_status", stage)] = string(r.Status)
		metrics[fmt.Sprintf("%s_duration_ms", stage)] = r.Duration().Milliseconds()
		for _, e := range r.Errors {
			errs = append(errs, fmt.Sprintf("%s: %s: %s", stage, e.Type, e.Message))
		}
	}

	if err := p.repos.Scheduler.CompleteRun(ctx, persistence.PipelineRun{
		RunID:       result.RunID,
		Status:      string(result.Status),
		StartedAt:   result.StartedAt,
		CompletedAt: result.CompletedAt,
		Metrics:     metrics,
		Errors:      errs,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to record run completion")
	}
}

// runIngestionStage pulls fresh catalog data, retrying transient failures.
func (p *Pipeline) runIngestionStage(ctx context.Context, opts Options) StageResult {
	stage := StageResult{
		Stage:     StageIngestion,
		Status:    StatusRunning,
		StartedAt: p.now().UTC(),
	}
	log.Info().Msg("stage: ingestion")

	var lastErr error
	for attempt := 0; attempt < ingestionMaxRetries; attempt++ {
		res, err := p.ingest.RunDaily(ctx, ingest.Options{
			ASINs:    opts.ASINs,
			MaxASINs: opts.MaxASINs,
		})
		if err == nil {
			stage.Metrics = map[string]interface{}{
				"asins_processed":    res.ASINsProcessed,
				"snapshots_inserted": res.SnapshotsInserted,
				"tokens_consumed":    int(res.TokensConsumed),
				"asins_failed":       res.Failed(),
			}
			stage.Status = StatusCompleted
			stage.CompletedAt = p.now().UTC()
			return stage
		}

		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("ingestion attempt failed")
		if ctx.Err() != nil {
			break
		}
	}

	stage.addError("IngestionError", lastErr)
	stage.Status = StatusFailed
	stage.CompletedAt = p.now().UTC()
	return stage
}

// runEventDetectionStage compares the two newest snapshots of each active
// ASIN inside the 48h window and persists the detected events.
func (p *Pipeline) runEventDetectionStage(ctx context.Context, opts Options) StageResult {
	stage := StageResult{
		Stage:     StageEventDetection,
		Status:    StatusRunning,
		StartedAt: p.now().UTC(),
	}
	log.Info().Msg("stage: event detection")

	tracked, err := p.repos.Catalog.ActiveASINs(ctx, 0, opts.MaxASINs)
	if err != nil {
		stage.addError("EventDetectionError", err)
		stage.Status = StatusFailed
		stage.CompletedAt = p.now().UTC()
		return stage
	}

	now := p.now().UTC()
	var priceEvents []events.PriceEvent
	var bsrEvents []events.BSREvent
	var stockEvents []events.StockEvent
	asinsWithEvents := make(map[string]bool)

	for _, t := range tracked {
		window, err := p.repos.Catalog.SnapshotWindow(ctx, t.ASIN, persistence.TimeRange{
			From: now.Add(-eventWindowHours * time.Hour),
			To:   now,
		})
		if err != nil {
			stage.addError("SnapshotError", fmt.Errorf("%s: %w", t.ASIN, err))
			continue
		}
		if len(window) < 2 {
			continue
		}

		prev := toEventSnapshot(window[len(window)-2])
		curr := toEventSnapshot(window[len(window)-1])

		if ev, ok := p.detector.DetectPriceEvent(prev, curr); ok {
			priceEvents = append(priceEvents, ev)
			asinsWithEvents[t.ASIN] = true
			p.recordEvent("price")
		}
		if ev, ok := p.detector.DetectBSREvent(prev, curr); ok {
			bsrEvents = append(bsrEvents, ev)
			asinsWithEvents[t.ASIN] = true
			p.recordEvent("bsr")
		}
		if ev, ok := p.detector.DetectStockEvent(prev, curr); ok {
			stockEvents = append(stockEvents, ev)
			asinsWithEvents[t.ASIN] = true
			p.recordEvent("stock")
		}
	}

	if len(priceEvents) > 0 {
		if err := p.repos.Events.InsertPriceEvents(ctx, priceEvents); err != nil {
			stage.addError("PersistError", err)
		}
	}
	if len(bsrEvents) > 0 {
		if err := p.repos.Events.InsertBSREvents(ctx, bsrEvents); err != nil {
			stage.addError("PersistError", err)
		}
	}
	if len(stockEvents) > 0 {
		if err := p.repos.Events.InsertStockEvents(ctx, stockEvents); err != nil {
			stage.addError("PersistError", err)
		}
	}

	// Raw events feed the synthesizer: the 90d history of each tracked ASIN
	// is condensed into economic theses, and actionable ones are persisted.
	economicEvents := 0
	for _, t := range tracked {
		n, err := p.synthesizeEconomicEvents(ctx, t.ASIN, now)
		if err != nil {
			stage.addError("SynthesisError", fmt.Errorf("%s: %w", t.ASIN, err))
			continue
		}
		economicEvents += n
	}

	total := len(priceEvents) + len(bsrEvents) + len(stockEvents)
	stage.Metrics = map[string]interface{}{
		"total_events_detected": total,
		"price_events":          len(priceEvents),
		"bsr_events":            len(bsrEvents),
		"stock_events":          len(stockEvents),
		"economic_events":       economicEvents,
		"asins_with_events":     len(asinsWithEvents),
	}

	log.Info().
		Int("events", total).
		Int("economic", economicEvents).
		Int("asins", len(asinsWithEvents)).
		Msg("event detection complete")

	stage.Status = StatusCompleted
	stage.CompletedAt = p.now().UTC()
	return stage
}

// runScoringStage scores every active ASIN and persists the opportunities
// clearing the threshold.
func (p *Pipeline) runScoringStage(ctx context.Context, opts Options) StageResult {
	stage := StageResult{
		Stage:     StageScoring,
		Status:    StatusRunning,
		StartedAt: p.now().UTC(),
	}
	log.Info().Msg("stage: scoring")

	tracked, err := p.repos.Catalog.ActiveASINs(ctx, 0, opts.MaxASINs)
	if err != nil {
		stage.addError("ScoringStageError", err)
		stage.Status = StatusFailed
		stage.CompletedAt = p.now().UTC()
		return stage
	}

	now := p.now().UTC()
	scored := 0
	aboveThreshold := 0

	for _, t := range tracked {
		prepared, err := p.prepareScoringInput(ctx, t.ASIN, now)
		if err != nil {
			stage.addError("ScoringError", fmt.Errorf("%s: %w", t.ASIN, err))
			continue
		}
		if prepared == nil {
			continue
		}

		res := p.scorer.Score(prepared.input)
		scored++

		if !res.IsValid || res.TotalScore < p.scoreThreshold {
			continue
		}
		aboveThreshold++

		quotes, err := p.repos.Specs.UsableQuotes(ctx, t.ASIN, now)
		if err != nil {
			log.Warn().Err(err).Str("asin", t.ASIN).Msg("failed to load quotes")
		}
		eventIDs := p.activeEventIDs(ctx, t.ASIN, now)

		opp := p.econ.Score(prepared.input, res, prepared.signals, quotes, eventIDs)
		if err := p.repos.Opportunities.UpsertOpportunity(ctx, opp, now); err != nil {
			stage.addError("PersistError", fmt.Errorf("%s: %w", t.ASIN, err))
			continue
		}
		if p.metrics != nil {
			p.metrics.RecordOpportunity(string(res.Status), opp.FinalScore)
		}

		log.Info().
			Str("asin", t.ASIN).
			Int("score", res.TotalScore).
			Str("status", string(res.Status)).
			Msg("opportunity found")
	}

	stage.Metrics = map[string]interface{}{
		"total_asins":     len(tracked),
		"total_scored":    scored,
		"above_threshold": aboveThreshold,
		"threshold_used":  p.scoreThreshold,
	}

	log.Info().
		Int("scored", scored).
		Int("above_threshold", aboveThreshold).
		Msg("scoring complete")

	stage.Status = StatusCompleted
	stage.CompletedAt = p.now().UTC()
	return stage
}

func (p *Pipeline) activeEventIDs(ctx context.Context, asin string, now time.Time) []string {
	active, err := p.repos.Events.ActiveEconomicEvents(ctx, asin, now)
	if err != nil {
		log.Warn().Err(err).Str("asin", asin).Msg("failed to load economic events")
		return nil
	}
	ids := make([]string, 0, len(active))
	for _, ev := range active {
		ids = append(ids, ev.EventID)
	}
	return ids
}

// runShortlistStage ranks the viable opportunities into the action shortlist.
func (p *Pipeline) runShortlistStage(ctx context.Context, runID string) StageResult {
	stage := StageResult{
		Stage:     StageShortlist,
		Status:    StatusRunning,
		StartedAt: p.now().UTC(),
	}
	log.Info().Msg("stage: shortlist")

	opps, err := p.repos.Opportunities.ListViable(ctx, p.scoreThreshold, shortlistPoolSize)
	if err != nil {
		stage.addError("ShortlistError", err)
		stage.Status = StatusFailed
		stage.CompletedAt = p.now().UTC()
		return stage
	}

	list := p.shortlister.Generate(runID, opps)
	if err := p.repos.Opportunities.InsertShortlist(ctx, list); err != nil {
		stage.addError("PersistError", err)
		stage.Status = StatusFailed
		stage.CompletedAt = p.now().UTC()
		return stage
	}
	if p.metrics != nil {
		p.metrics.RecordShortlist(len(list.Items), list.TotalValue.InexactFloat64())
	}

	stage.Metrics = map[string]interface{}{
		"considered":  list.Considered,
		"items":       len(list.Items),
		"total_value": list.TotalValue.InexactFloat64(),
	}

	stage.Status = StatusCompleted
	stage.CompletedAt = p.now().UTC()
	return stage
}

// runCleanupStage refreshes the materialized views concurrently.
func (p *Pipeline) runCleanupStage(ctx context.Context) StageResult {
	stage := StageResult{
		Stage:     StageCleanup,
		Status:    StatusRunning,
		StartedAt: p.now().UTC(),
	}
	log.Info().Msg("stage: cleanup")

	g, gctx := errgroup.WithContext(ctx)
	for _, view := range cleanupViews {
		view := view
		g.Go(func() error {
			if err := p.repos.Maintenance.RefreshView(gctx, view); err != nil {
				return fmt.Errorf("refresh %s: %w", view, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		stage.addError("CleanupError", err)
		stage.Status = StatusFailed
	} else {
		stage.Status = StatusCompleted
	}
	stage.Metrics = map[string]interface{}{"views_refreshed": len(cleanupViews)}
	stage.CompletedAt = p.now().UTC()
	return stage
}

// ScoreASIN scores a single ASIN from its stored snapshots. The opportunity
// is nil when the score is invalid; nothing is persisted.
func (p *Pipeline) ScoreASIN(ctx context.Context, asin string) (*score.Result, *econ.Opportunity, error) {
	now := p.now().UTC()

	prepared, err := p.prepareScoringInput(ctx, asin, now)
	if err != nil {
		return nil, nil, err
	}
	if prepared == nil {
		return nil, nil, fmt.Errorf("no snapshots stored for %s", asin)
	}

	res := p.scorer.Score(prepared.input)
	if !res.IsValid {
		return &res, nil, nil
	}

	quotes, err := p.repos.Specs.UsableQuotes(ctx, asin, now)
	if err != nil {
		log.Warn().Err(err).Str("asin", asin).Msg("failed to load quotes")
	}
	opp := p.econ.Score(prepared.input, res, prepared.signals, quotes, p.activeEventIDs(ctx, asin, now))
	return &res, &opp, nil
}

// RunCategory runs the pipeline scoped to one category's tracked ASINs,
// adapting the result for the scheduler.
func (p *Pipeline) RunCategory(ctx context.Context, cat persistence.Category, maxASINs int) (scheduler.RunResult, error) {
	start := p.now()

	tracked, err := p.repos.Catalog.ActiveASINs(ctx, cat.NodeID, maxASINs)
	if err != nil {
		return scheduler.RunResult{}, fmt.Errorf("failed to load category ASINs: %w", err)
	}
	asins := make([]string, 0, len(tracked))
	for _, t := range tracked {
		asins = append(asins, t.ASIN)
	}

	result, err := p.Run(ctx, Options{ASINs: asins, MaxASINs: maxASINs})
	if err != nil {
		return scheduler.RunResult{}, err
	}

	return scheduler.RunResult{
		Success:            result.Status != StatusFailed,
		CategoryNodeID:     cat.NodeID,
		CategoryName:       cat.Name,
		Domain:             strategy.DomainName(cat.DomainID),
		TokensUsed:         int(result.TokensConsumed),
		ASINsProcessed:     result.ASINsProcessed,
		OpportunitiesFound: result.AboveThreshold,
		Duration:           p.now().Sub(start),
	}, nil
}

func toEventSnapshot(s catalog.Snapshot) events.Snapshot {
	return events.Snapshot{
		ASIN:        s.ASIN,
		CapturedAt:  s.CapturedAt,
		Price:       s.PriceCurrent,
		BSR:         s.BSRPrimary,
		StockStatus: s.StockStatus,
	}
}

func intMetric(m map[string]interface{}, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
