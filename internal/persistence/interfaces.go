// Package persistence defines the repository contracts over the PostgreSQL
// schema. Implementations live in the postgres subpackage.
package persistence

import (
	"context"
	"time"

	"github.com/smartacus-io/smartacus/internal/catalog"
	"github.com/smartacus-io/smartacus/internal/econ"
	"github.com/smartacus-io/smartacus/internal/events"
	"github.com/smartacus-io/smartacus/internal/reviews"
	"github.com/smartacus-io/smartacus/internal/shortlist"
	"github.com/smartacus-io/smartacus/internal/specs"
)

// TimeRange is a half-open query window.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// TrackedASIN is one row of the asins table.
type TrackedASIN struct {
	ASIN         string    `json:"asin" db:"asin"`
	Title        string    `json:"title" db:"title"`
	Brand        string    `json:"brand" db:"brand"`
	CategoryID   int64     `json:"category_id" db:"category_id"`
	CategoryName string    `json:"category_name" db:"category_name"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	FirstSeenAt  time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastUpdated  time.Time `json:"last_updated" db:"last_updated"`
}

// Category is one row of the category_registry table.
type Category struct {
	ID              int64     `json:"id" db:"id"`
	NodeID          int64     `json:"node_id" db:"node_id"`
	Name            string    `json:"name" db:"name"`
	DomainID        int       `json:"domain_id" db:"domain_id"`
	ForceInclude    bool      `json:"force_include" db:"force_include"`
	Paused          bool      `json:"paused" db:"paused"`
	TrackedASINs    int       `json:"tracked_asins" db:"tracked_asins"`
	RunsCompleted   int       `json:"runs_completed" db:"runs_completed"`
	LastScannedAt   time.Time `json:"last_scanned_at" db:"last_scanned_at"`
	OpportunityRate float64   `json:"opportunity_rate" db:"opportunity_rate"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// CategoryPerformance records the yield of one category in one run.
type CategoryPerformance struct {
	CategoryNodeID     int64     `json:"category_node_id" db:"category_node_id"`
	RunID              string    `json:"run_id" db:"run_id"`
	ASINsScanned       int       `json:"asins_scanned" db:"asins_scanned"`
	OpportunitiesFound int       `json:"opportunities_found" db:"opportunities_found"`
	TokensSpent        int       `json:"tokens_spent" db:"tokens_spent"`
	ValuePer1kTokens   float64   `json:"value_per_1k_tokens" db:"value_per_1k_tokens"`
	RecordedAt         time.Time `json:"recorded_at" db:"recorded_at"`
}

// StrategyDecision is one persisted allocation cycle.
type StrategyDecision struct {
	CycleID       string         `json:"cycle_id" db:"cycle_id"`
	DecidedAt     time.Time      `json:"decided_at" db:"decided_at"`
	BudgetTokens  int            `json:"budget_tokens" db:"budget_tokens"`
	Exploit       []string       `json:"exploit"`
	Explore       []string       `json:"explore"`
	Paused        []string       `json:"paused"`
	Allocations   map[string]int `json:"allocations"`
	RiskNotes     []string       `json:"risk_notes"`
	DecisionCache string         `json:"decision_cache_key" db:"decision_cache_key"`
}

// PipelineRun is one row of the pipeline_runs table.
type PipelineRun struct {
	RunID       string                 `json:"run_id" db:"run_id"`
	Status      string                 `json:"status" db:"status"`
	StartedAt   time.Time              `json:"started_at" db:"started_at"`
	CompletedAt time.Time              `json:"completed_at" db:"completed_at"`
	Metrics     map[string]interface{} `json:"metrics"`
	Errors      []string               `json:"errors"`
}

// CatalogRepo persists product metadata and snapshots.
type CatalogRepo interface {
	// UpsertMetadata inserts or refreshes one asins row.
	UpsertMetadata(ctx context.Context, meta catalog.Metadata, categoryName string) error

	// InsertSnapshots writes a batch of snapshots, ignoring duplicates on
	// (asin, captured_at).
	InsertSnapshots(ctx context.Context, snapshots []catalog.Snapshot) (int, error)

	// LatestSnapshot returns the newest snapshot for an ASIN, or nil.
	LatestSnapshot(ctx context.Context, asin string) (*catalog.Snapshot, error)

	// SnapshotWindow returns snapshots for an ASIN inside the range, oldest
	// first.
	SnapshotWindow(ctx context.Context, asin string, tr TimeRange) ([]catalog.Snapshot, error)

	// ActiveASINs lists active tracked ASINs, optionally scoped to a category.
	ActiveASINs(ctx context.Context, categoryID int64, limit int) ([]TrackedASIN, error)

	// FreshASINs returns the subset of the given ASINs whose newest snapshot
	// is younger than maxAge.
	FreshASINs(ctx context.Context, asins []string, maxAge time.Duration) (map[string]bool, error)
}

// EventsRepo persists detected market events and synthesized economic events.
type EventsRepo interface {
	InsertPriceEvents(ctx context.Context, evs []events.PriceEvent) error
	InsertBSREvents(ctx context.Context, evs []events.BSREvent) error
	InsertStockEvents(ctx context.Context, evs []events.StockEvent) error

	// StockEventsWindow returns stock events for an ASIN inside the range.
	StockEventsWindow(ctx context.Context, asin string, tr TimeRange) ([]events.StockEvent, error)

	// InsertEconomicEvent writes one synthesized event.
	InsertEconomicEvent(ctx context.Context, ev events.EconomicEvent) error

	// ActiveEconomicEvents returns events whose window has not closed.
	ActiveEconomicEvents(ctx context.Context, asin string, now time.Time) ([]events.EconomicEvent, error)
}

// OpportunityRepo persists scored opportunities and generated shortlists.
type OpportunityRepo interface {
	// UpsertOpportunity writes one opportunity, updating on
	// (asin, detected_at) conflicts.
	UpsertOpportunity(ctx context.Context, opp econ.Opportunity, detectedAt time.Time) error

	// ListViable returns opportunities at or above the score floor, ranked.
	ListViable(ctx context.Context, minScore int, limit int) ([]econ.Opportunity, error)

	// InsertShortlist stores one generated shortlist.
	InsertShortlist(ctx context.Context, list shortlist.Shortlist) error

	// LatestShortlist returns the most recent shortlist, or nil.
	LatestShortlist(ctx context.Context) (*shortlist.Shortlist, error)
}

// ReviewsRepo persists extracted review intelligence.
type ReviewsRepo interface {
	ReplaceDefects(ctx context.Context, asin string, defects []reviews.DefectSignal) error
	ReplaceFeatureRequests(ctx context.Context, asin string, requests []reviews.FeatureRequest) error
	UpsertProfile(ctx context.Context, profile reviews.ImprovementProfile) error
	GetProfile(ctx context.Context, asin string) (*reviews.ImprovementProfile, error)
}

// SpecsRepo persists generated spec bundles and supplier quotes.
type SpecsRepo interface {
	InsertBundle(ctx context.Context, bundle specs.Bundle) error
	LatestBundle(ctx context.Context, asin string) (*specs.Bundle, error)
	UsableQuotes(ctx context.Context, asin string, now time.Time) ([]econ.SourcingQuote, error)
	InsertQuote(ctx context.Context, asin string, quote econ.SourcingQuote) error
}

// StrategyRepo persists the category registry and allocation decisions.
type StrategyRepo interface {
	UpsertCategory(ctx context.Context, cat Category) error
	ListCategories(ctx context.Context, domainID int) ([]Category, error)
	RecordPerformance(ctx context.Context, perf CategoryPerformance) error

	// PerformanceWindow returns run records for a category, newest first.
	PerformanceWindow(ctx context.Context, nodeID int64, limit int) ([]CategoryPerformance, error)

	// InsertDecision writes one cycle decision, ignoring duplicate cycle IDs.
	InsertDecision(ctx context.Context, decision StrategyDecision) error
}

// SchedulerRepo persists scheduler settings and pipeline run records.
type SchedulerRepo interface {
	// GetConfig returns all scheduler_config key/value pairs.
	GetConfig(ctx context.Context) (map[string]string, error)
	SetConfig(ctx context.Context, key, value string) error

	InsertRun(ctx context.Context, run PipelineRun) error
	CompleteRun(ctx context.Context, run PipelineRun) error
	RecentRuns(ctx context.Context, limit int) ([]PipelineRun, error)
}

// MaintenanceRepo covers schema upkeep the pipeline triggers.
type MaintenanceRepo interface {
	// RefreshView refreshes one materialized view by name.
	RefreshView(ctx context.Context, name string) error
}

// Repository aggregates all persistence interfaces.
type Repository struct {
	Catalog       CatalogRepo
	Events        EventsRepo
	Opportunities OpportunityRepo
	Reviews       ReviewsRepo
	Specs         SpecsRepo
	Strategy      StrategyRepo
	Scheduler     SchedulerRepo
	Maintenance   MaintenanceRepo
}

// HealthCheck is the repository health status.
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for the persistence layer.
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
	Stats(ctx context.Context) map[string]interface{}
}
