package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartacus-io/smartacus/internal/budget"
	"github.com/smartacus-io/smartacus/internal/econ"
	"github.com/smartacus-io/smartacus/internal/persistence"
	"github.com/smartacus-io/smartacus/internal/shortlist"
)

type fakeOpportunityRepo struct {
	latest *shortlist.Shortlist
	viable []econ.Opportunity
	err    error

	gotMinScore int
	gotLimit    int
}

func (f *fakeOpportunityRepo) UpsertOpportunity(_ context.Context, _ econ.Opportunity, _ time.Time) error {
	return nil
}

func (f *fakeOpportunityRepo) ListViable(_ context.Context, minScore, limit int) ([]econ.Opportunity, error) {
	f.gotMinScore = minScore
	f.gotLimit = limit
	return f.viable, f.err
}

func (f *fakeOpportunityRepo) InsertShortlist(_ context.Context, _ shortlist.Shortlist) error {
	return nil
}

func (f *fakeOpportunityRepo) LatestShortlist(_ context.Context) (*shortlist.Shortlist, error) {
	return f.latest, f.err
}

type fakeSchedulerRepo struct {
	runs []persistence.PipelineRun
}

func (f *fakeSchedulerRepo) GetConfig(_ context.Context) (map[string]string, error) {
	return nil, nil
}
func (f *fakeSchedulerRepo) SetConfig(_ context.Context, _, _ string) error { return nil }
func (f *fakeSchedulerRepo) InsertRun(_ context.Context, _ persistence.PipelineRun) error {
	return nil
}
func (f *fakeSchedulerRepo) CompleteRun(_ context.Context, _ persistence.PipelineRun) error {
	return nil
}
func (f *fakeSchedulerRepo) RecentRuns(_ context.Context, _ int) ([]persistence.PipelineRun, error) {
	return f.runs, nil
}

type fakeHealth struct {
	healthy bool
}

func (f *fakeHealth) Health(_ context.Context) persistence.HealthCheck {
	return persistence.HealthCheck{Healthy: f.healthy, LastCheck: time.Now().UTC()}
}

func (f *fakeHealth) Ping(_ context.Context) error { return nil }

func (f *fakeHealth) Stats(_ context.Context) map[string]interface{} {
	return map[string]interface{}{}
}

type fakeBudget struct {
	status budget.Status
	err    error
}

func (f *fakeBudget) Status(_ context.Context) (budget.Status, error) {
	return f.status, f.err
}

type fakeKeepa struct{}

func (f *fakeKeepa) HealthCheck() map[string]interface{} {
	return map[string]interface{}{"status": "healthy"}
}

func (f *fakeKeepa) TokensLeft() int { return 880 }

func testConfig() Config {
	return Config{
		ListenAddr:      "127.0.0.1:0",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: time.Second,
	}
}

func newTestServer(opps *fakeOpportunityRepo, healthy bool) *Server {
	repos := &persistence.Repository{
		Opportunities: opps,
		Scheduler: &fakeSchedulerRepo{runs: []persistence.PipelineRun{
			{RunID: "run-1", Status: "completed"},
		}},
	}
	return NewServer(testConfig(), repos, &fakeHealth{healthy: healthy},
		&fakeBudget{status: budget.Status{Month: "2026-08", TokensRemaining: 840000}},
		&fakeKeepa{}, prometheus.NewRegistry())
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(&fakeOpportunityRepo{}, true)

	rec := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestHealthEndpointDegraded(t *testing.T) {
	s := newTestServer(&fakeOpportunityRepo{}, false)

	rec := get(t, s, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
}

func TestStatusEndpoint(t *testing.T) {
	opps := &fakeOpportunityRepo{latest: &shortlist.Shortlist{
		RunID:      "run-1",
		TotalValue: decimal.RequireFromString("43000"),
	}}
	s := newTestServer(opps, true)

	rec := get(t, s, "/status")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	budgetBody, ok := body["budget"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "2026-08", budgetBody["month"])

	lastRun, ok := body["last_run"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "run-1", lastRun["run_id"])

	list, ok := body["shortlist"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "run-1", list["run_id"])
}

func TestStatusEndpointBudgetError(t *testing.T) {
	repos := &persistence.Repository{
		Opportunities: &fakeOpportunityRepo{},
		Scheduler:     &fakeSchedulerRepo{},
	}
	s := NewServer(testConfig(), repos, &fakeHealth{healthy: true},
		&fakeBudget{err: errors.New("db down")}, &fakeKeepa{}, prometheus.NewRegistry())

	rec := get(t, s, "/status")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	budgetBody, ok := body["budget"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "unavailable", budgetBody["error"])
}

func TestBudgetEndpoint(t *testing.T) {
	s := newTestServer(&fakeOpportunityRepo{}, true)

	rec := get(t, s, "/budget")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 880, body["bucket_tokens_left"])
}

func TestShortlistEndpointEmpty(t *testing.T) {
	s := newTestServer(&fakeOpportunityRepo{}, true)

	rec := get(t, s, "/shortlist")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShortlistEndpoint(t *testing.T) {
	opps := &fakeOpportunityRepo{latest: &shortlist.Shortlist{
		RunID:      "run-1",
		TotalValue: decimal.RequireFromString("43000"),
	}}
	s := newTestServer(opps, true)

	rec := get(t, s, "/shortlist")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body["run_id"])
}

func TestOpportunitiesEndpointParams(t *testing.T) {
	opps := &fakeOpportunityRepo{viable: []econ.Opportunity{{ASIN: "B0TEST00001", FinalScore: 72}}}
	s := newTestServer(opps, true)

	rec := get(t, s, "/opportunities?min_score=60&limit=5")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 60, opps.gotMinScore)
	assert.Equal(t, 5, opps.gotLimit)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["count"])
}

func TestOpportunitiesEndpointDefaults(t *testing.T) {
	opps := &fakeOpportunityRepo{}
	s := newTestServer(opps, true)

	rec := get(t, s, "/opportunities?limit=junk")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50, opps.gotMinScore)
	assert.Equal(t, 20, opps.gotLimit)
}

func TestOpportunitiesEndpointError(t *testing.T) {
	opps := &fakeOpportunityRepo{err: errors.New("db down")}
	s := newTestServer(opps, true)

	rec := get(t, s, "/opportunities")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRunsEndpoint(t *testing.T) {
	s := newTestServer(&fakeOpportunityRepo{}, true)

	rec := get(t, s, "/runs")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["count"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(&fakeOpportunityRepo{}, true)

	rec := get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotFound(t *testing.T) {
	s := newTestServer(&fakeOpportunityRepo{}, true)

	rec := get(t, s, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not found", body["error"])
}
