package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryRegistersAll(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.RecordRun("completed", 120, 50)
	r.RecordEvent("price_drop")
	r.RecordOpportunity("strong", 72)
	r.RecordShortlist(5, 43000)
	r.RecordBudget(850000, 0.055)
	r.RecordStageError("scoring", "ScoringError")
	r.RecordCacheHit("product")
	r.RecordCacheMiss("product")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	assert.InDelta(t, 1.0, testutil.ToFloat64(r.PipelineRuns.WithLabelValues("completed")), 1e-9)
	assert.InDelta(t, 120.0, testutil.ToFloat64(r.TokensConsumed), 1e-9)
	assert.InDelta(t, 50.0, testutil.ToFloat64(r.ASINsProcessed), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(r.EventsDetected.WithLabelValues("price_drop")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(r.OpportunitiesFound.WithLabelValues("strong")), 1e-9)
	assert.InDelta(t, 5.0, testutil.ToFloat64(r.ShortlistSize), 1e-9)
	assert.InDelta(t, 43000.0, testutil.ToFloat64(r.ShortlistValue), 1e-9)
	assert.InDelta(t, 850000.0, testutil.ToFloat64(r.TokensRemaining), 1e-9)
	assert.InDelta(t, 0.055, testutil.ToFloat64(r.BudgetUsedPct), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(r.PipelineErrors.WithLabelValues("scoring", "ScoringError")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(r.CacheHits.WithLabelValues("product")), 1e-9)
}

func TestStageTimer(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	timer := r.StartStage("ingestion")
	timer.Stop("completed")

	count := testutil.CollectAndCount(r.StageDuration, "smartacus_stage_duration_seconds")
	assert.Equal(t, 1, count)
}
