// Package metrics holds the Prometheus instrumentation for the scan
// pipeline, the Keepa budget and the opportunity funnel.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Registry holds all Prometheus metrics for Smartacus.
type Registry struct {
	// Pipeline
	StageDuration  *prometheus.HistogramVec
	PipelineRuns   *prometheus.CounterVec
	PipelineErrors *prometheus.CounterVec
	ActiveRuns     prometheus.Gauge

	// Keepa budget
	TokensConsumed  prometheus.Counter
	TokensRemaining prometheus.Gauge
	BudgetUsedPct   prometheus.Gauge

	// Ingestion
	ASINsProcessed    prometheus.Counter
	SnapshotsInserted prometheus.Counter

	// Events and opportunities
	EventsDetected     *prometheus.CounterVec
	OpportunitiesFound *prometheus.CounterVec
	OpportunityScore   prometheus.Histogram
	ShortlistSize      prometheus.Gauge
	ShortlistValue     prometheus.Gauge

	// Catalog cache
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// NewRegistry creates and registers all metrics. A nil registerer uses the
// default Prometheus registry.
func NewRegistry(reg prometheus.Registerer) *Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Registry{
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "smartacus_stage_duration_seconds",
				Help:    "Duration of each pipeline stage in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"stage", "result"},
		),

		PipelineRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartacus_pipeline_runs_total",
				Help: "Total number of pipeline runs by final status",
			},
			[]string{"status"},
		),

		PipelineErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartacus_pipeline_errors_total",
				Help: "Total number of pipeline errors by stage",
			},
			[]string{"stage", "error_type"},
		),

		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "smartacus_active_runs",
				Help: "Number of currently running pipelines",
			},
		),

		TokensConsumed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "smartacus_keepa_tokens_consumed_total",
				Help: "Total Keepa tokens consumed",
			},
		),

		TokensRemaining: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "smartacus_keepa_tokens_remaining",
				Help: "Keepa tokens left in the current bucket",
			},
		),

		BudgetUsedPct: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "smartacus_budget_used_pct",
				Help: "Fraction of the monthly token budget consumed (0.0 to 1.0)",
			},
		),

		ASINsProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "smartacus_asins_processed_total",
				Help: "Total ASINs processed across ingestion runs",
			},
		),

		SnapshotsInserted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "smartacus_snapshots_inserted_total",
				Help: "Total market snapshots written",
			},
		),

		EventsDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartacus_events_detected_total",
				Help: "Total market events detected by type",
			},
			[]string{"event_type"},
		),

		OpportunitiesFound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartacus_opportunities_total",
				Help: "Total opportunities persisted by scoring status",
			},
			[]string{"status"},
		),

		OpportunityScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "smartacus_opportunity_score",
				Help:    "Distribution of final opportunity scores",
				Buckets: []float64{10, 20, 30, 40, 50, 55, 60, 70, 80, 90, 100},
			},
		),

		ShortlistSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "smartacus_shortlist_size",
				Help: "Items on the latest shortlist",
			},
		),

		ShortlistValue: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "smartacus_shortlist_value_usd",
				Help: "Combined risk-adjusted value of the latest shortlist",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartacus_cache_hits_total",
				Help: "Total catalog cache hits by cache type",
			},
			[]string{"cache_type"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smartacus_cache_misses_total",
				Help: "Total catalog cache misses by cache type",
			},
			[]string{"cache_type"},
		),
	}

	reg.MustRegister(
		r.StageDuration,
		r.PipelineRuns,
		r.PipelineErrors,
		r.ActiveRuns,
		r.TokensConsumed,
		r.TokensRemaining,
		r.BudgetUsedPct,
		r.ASINsProcessed,
		r.SnapshotsInserted,
		r.EventsDetected,
		r.OpportunitiesFound,
		r.OpportunityScore,
		r.ShortlistSize,
		r.ShortlistValue,
		r.CacheHits,
		r.CacheMisses,
	)

	return r
}

// StageTimer tracks the execution time of one pipeline stage.
type StageTimer struct {
	registry *Registry
	stage    string
	start    time.Time
}

// StartStage begins timing a pipeline stage.
func (r *Registry) StartStage(stage string) *StageTimer {
	return &StageTimer{registry: r, stage: stage, start: time.Now()}
}

// Stop records the stage duration under the given result label.
func (t *StageTimer) Stop(result string) {
	duration := time.Since(t.start)
	t.registry.StageDuration.WithLabelValues(t.stage, result).Observe(duration.Seconds())

	log.Debug().
		Str("stage", t.stage).
		Str("result", result).
		Dur("duration", duration).
		Msg("stage timed")
}

// RecordRun records one finished pipeline run.
func (r *Registry) RecordRun(status string, tokensConsumed int64, asinsProcessed int) {
	r.PipelineRuns.WithLabelValues(status).Inc()
	r.TokensConsumed.Add(float64(tokensConsumed))
	r.ASINsProcessed.Add(float64(asinsProcessed))
}

// RecordStageError counts one stage error.
func (r *Registry) RecordStageError(stage, errorType string) {
	r.PipelineErrors.WithLabelValues(stage, errorType).Inc()
}

// RecordEvent counts one detected market event.
func (r *Registry) RecordEvent(eventType string) {
	r.EventsDetected.WithLabelValues(eventType).Inc()
}

// RecordOpportunity records one persisted opportunity.
func (r *Registry) RecordOpportunity(status string, finalScore int) {
	r.OpportunitiesFound.WithLabelValues(status).Inc()
	r.OpportunityScore.Observe(float64(finalScore))
}

// RecordShortlist records the latest shortlist gauges.
func (r *Registry) RecordShortlist(items int, totalValue float64) {
	r.ShortlistSize.Set(float64(items))
	r.ShortlistValue.Set(totalValue)
}

// RecordBudget updates the budget gauges.
func (r *Registry) RecordBudget(tokensRemaining int, usedPct float64) {
	r.TokensRemaining.Set(float64(tokensRemaining))
	r.BudgetUsedPct.Set(usedPct)
}

// RecordCacheHit counts a catalog cache hit.
func (r *Registry) RecordCacheHit(cacheType string) {
	r.CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss counts a catalog cache miss.
func (r *Registry) RecordCacheMiss(cacheType string) {
	r.CacheMisses.WithLabelValues(cacheType).Inc()
}
