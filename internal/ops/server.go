// Package ops exposes the read-only operational HTTP surface: health,
// budget, shortlist, opportunities, recent runs and Prometheus metrics.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/smartacus-io/smartacus/internal/budget"
	"github.com/smartacus-io/smartacus/internal/persistence"
)

// Config holds the server settings.
type Config struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BudgetSource reads the current token ledger.
type BudgetSource interface {
	Status(ctx context.Context) (budget.Status, error)
}

// KeepaSource reports client-side API health.
type KeepaSource interface {
	HealthCheck() map[string]interface{}
	TokensLeft() int
}

// Server is the read-only ops server.
type Server struct {
	cfg      Config
	repos    *persistence.Repository
	dbHealth persistence.RepositoryHealth
	budget   BudgetSource
	keepa    KeepaSource
	gatherer prometheus.Gatherer

	router *mux.Router
	server *http.Server
}

// NewServer wires the routes. dbHealth, budget and keepa may be nil; their
// endpoints then report unavailable.
func NewServer(cfg Config, repos *persistence.Repository, dbHealth persistence.RepositoryHealth, budgetSrc BudgetSource, keepa KeepaSource, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:      cfg,
		repos:    repos,
		dbHealth: dbHealth,
		budget:   budgetSrc,
		keepa:    keepa,
		gatherer: gatherer,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/budget", s.handleBudget).Methods(http.MethodGet)
	s.router.HandleFunc("/shortlist", s.handleShortlist).Methods(http.MethodGet)
	s.router.HandleFunc("/opportunities", s.handleOpportunities).Methods(http.MethodGet)
	s.router.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

// ListenAndServe runs the server until the context is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.ListenAddr).Msg("ops server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}
	healthy := true

	if s.dbHealth != nil {
		check := s.dbHealth.Health(r.Context())
		resp["database"] = check
		if !check.Healthy {
			healthy = false
		}
	} else {
		resp["database"] = map[string]string{"status": "not configured"}
	}

	if s.keepa != nil {
		resp["keepa"] = s.keepa.HealthCheck()
	} else {
		resp["keepa"] = map[string]string{"status": "not configured"}
	}

	if !healthy {
		resp["status"] = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStatus summarizes the system: budget ledger and the latest runs.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"timestamp": time.Now().UTC()}

	if s.budget != nil {
		if status, err := s.budget.Status(r.Context()); err == nil {
			resp["budget"] = status
		} else {
			log.Warn().Err(err).Msg("budget status failed")
			resp["budget"] = map[string]string{"error": "unavailable"}
		}
	}

	if s.repos != nil {
		runs, err := s.repos.Scheduler.RecentRuns(r.Context(), 1)
		if err == nil && len(runs) > 0 {
			resp["last_run"] = runs[0]
		}
		if list, err := s.repos.Opportunities.LatestShortlist(r.Context()); err == nil && list != nil {
			resp["shortlist"] = map[string]interface{}{
				"run_id":       list.RunID,
				"generated_at": list.GeneratedAt,
				"items":        len(list.Items),
				"total_value":  list.TotalValue,
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	if s.budget == nil {
		writeError(w, http.StatusServiceUnavailable, "budget not configured")
		return
	}

	status, err := s.budget.Status(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("budget status failed")
		writeError(w, http.StatusInternalServerError, "failed to load budget status")
		return
	}

	resp := map[string]interface{}{"budget": status}
	if s.keepa != nil {
		resp["bucket_tokens_left"] = s.keepa.TokensLeft()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleShortlist(w http.ResponseWriter, r *http.Request) {
	if s.repos == nil {
		writeError(w, http.StatusServiceUnavailable, "database not configured")
		return
	}

	list, err := s.repos.Opportunities.LatestShortlist(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to load shortlist")
		writeError(w, http.StatusInternalServerError, "failed to load shortlist")
		return
	}
	if list == nil {
		writeError(w, http.StatusNotFound, "no shortlist generated yet")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	if s.repos == nil {
		writeError(w, http.StatusServiceUnavailable, "database not configured")
		return
	}

	minScore := queryInt(r, "min_score", 50)
	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}

	opps, err := s.repos.Opportunities.ListViable(r.Context(), minScore, limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list opportunities")
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"min_score":     minScore,
		"count":         len(opps),
		"opportunities": opps,
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.repos == nil {
		writeError(w, http.StatusServiceUnavailable, "database not configured")
		return
	}

	limit := queryInt(r, "limit", 10)
	runs, err := s.repos.Scheduler.RecentRuns(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list runs")
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(runs),
		"runs":  runs,
	})
}

type contextKey string

const requestIDKey contextKey = "request_id"

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
