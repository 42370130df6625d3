// Package ingest orchestrates Keepa catalog ingestion into PostgreSQL:
// discovery, criteria filtering, batched fetches and snapshot upserts.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/smartacus-io/smartacus/internal/catalog"
	"github.com/smartacus-io/smartacus/internal/persistence"
)

// Materialized views refreshed after a successful run.
var refreshViews = []string{"mv_latest_snapshots", "mv_asin_stats_7d", "mv_asin_stats_30d"}

// Config holds the ingestion criteria and batching parameters.
type Config struct {
	CategoryNodeID     int64         `yaml:"category_node_id" env:"INGESTION_CATEGORY_NODE_ID"`
	TargetASINCount    int           `yaml:"target_asin_count" env:"INGESTION_TARGET_ASIN_COUNT"`
	BatchSize          int           `yaml:"batch_size" env:"INGESTION_BATCH_SIZE"`
	FreshnessThreshold time.Duration `yaml:"freshness_threshold"`
	HistoryDays        int           `yaml:"history_days"`
	EnableBuyBox       bool          `yaml:"enable_buybox_history"`

	MinPriceUSD decimal.Decimal `yaml:"min_price_usd"`
	MaxPriceUSD decimal.Decimal `yaml:"max_price_usd"`
	MinReviews  int             `yaml:"min_reviews"`
	MinRating   decimal.Decimal `yaml:"min_rating"`
	MaxBSR      int             `yaml:"max_bsr"`
}

// DefaultConfig returns the standard scan criteria.
func DefaultConfig() Config {
	return Config{
		TargetASINCount:    10000,
		BatchSize:          100,
		FreshnessThreshold: 24 * time.Hour,
		HistoryDays:        90,
		EnableBuyBox:       true,
		MinPriceUSD:        decimal.NewFromInt(5),
		MaxPriceUSD:        decimal.NewFromInt(100),
		MinReviews:         10,
		MinRating:          decimal.NewFromFloat(3.0),
		MaxBSR:             500000,
	}
}

// Catalog is the slice of the Keepa client the ingester uses.
type Catalog interface {
	GetProducts(ctx context.Context, asins []string, q catalog.ProductQuery) ([]catalog.Product, error)
	GetCategoryASINs(ctx context.Context, categoryID int64, includeChildren bool, maxResults int) ([]string, error)
	GetStats() catalog.Stats
	TokensLeft() int
}

// ASINError records one failed ASIN with its failure class.
type ASINError struct {
	ASIN    string `json:"asin"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Result summarizes one ingestion run.
type Result struct {
	BatchID           string      `json:"batch_id"`
	StartedAt         time.Time   `json:"started_at"`
	CompletedAt       time.Time   `json:"completed_at"`
	ASINsDiscovered   int         `json:"asins_discovered"`
	ASINsRequested    int         `json:"asins_requested"`
	ASINsProcessed    int         `json:"asins_processed"`
	ASINsSkipped      int         `json:"asins_skipped"`
	SnapshotsInserted int         `json:"snapshots_inserted"`
	TokensConsumed    int64       `json:"tokens_consumed"`
	TokensRemaining   int         `json:"tokens_remaining"`
	Errors            []ASINError `json:"errors,omitempty"`
}

// Duration returns the run wall time.
func (r Result) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Failed returns the number of ASINs that errored.
func (r Result) Failed() int {
	return len(r.Errors)
}

func (r *Result) addError(asin, kind string, err error) {
	r.Errors = append(r.Errors, ASINError{ASIN: asin, Kind: kind, Message: err.Error()})
}

// Options tunes one daily run.
type Options struct {
	// ASINs skips discovery and processes this list directly.
	ASINs []string
	// SkipDiscovery reuses tracked ASINs from the database.
	SkipDiscovery bool
	// SkipFiltering bypasses the criteria pass.
	SkipFiltering bool
	// SkipFreshness refetches ASINs even when their snapshots are fresh.
	SkipFreshness bool
	// MaxASINs caps the number of ASINs processed.
	MaxASINs int
}

// Ingester runs the scan pipeline against the catalog client and repository.
type Ingester struct {
	cfg    Config
	client Catalog
	repo   persistence.CatalogRepo
	maint  persistence.MaintenanceRepo
	now    func() time.Time
}

// NewIngester creates an ingester.
func NewIngester(cfg Config, client Catalog, repo persistence.CatalogRepo, maint persistence.MaintenanceRepo) *Ingester {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Ingester{
		cfg:    cfg,
		client: client,
		repo:   repo,
		maint:  maint,
		now:    time.Now,
	}
}

// DiscoverCategoryASINs lists ASINs in the configured category, over-fetching
// to leave headroom for criteria filtering.
func (i *Ingester) DiscoverCategoryASINs(ctx context.Context) ([]string, error) {
	maxResults := i.cfg.TargetASINCount * 2

	asins, err := i.client.GetCategoryASINs(ctx, i.cfg.CategoryNodeID, true, maxResults)
	if err != nil {
		return nil, fmt.Errorf("failed to discover category ASINs: %w", err)
	}

	log.Info().
		Int64("category", i.cfg.CategoryNodeID).
		Int("discovered", len(asins)).
		Msg("category discovery complete")
	return asins, nil
}

// NeedingUpdate drops ASINs whose newest snapshot is younger than the
// freshness threshold.
func (i *Ingester) NeedingUpdate(ctx context.Context, asins []string) ([]string, error) {
	if len(asins) == 0 {
		return nil, nil
	}

	fresh, err := i.repo.FreshASINs(ctx, asins, i.cfg.FreshnessThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to check snapshot freshness: %w", err)
	}

	stale := make([]string, 0, len(asins))
	for _, asin := range asins {
		if !fresh[asin] {
			stale = append(stale, asin)
		}
	}

	log.Info().
		Int("checked", len(asins)).
		Int("need_update", len(stale)).
		Int("fresh", len(fresh)).
		Msg("freshness filter applied")
	return stale, nil
}

// FilterByCriteria keeps ASINs whose current snapshot passes the price,
// review, rating and BSR criteria. Fetches are history-free to save tokens.
func (i *Ingester) FilterByCriteria(ctx context.Context, asins []string) ([]string, error) {
	var filtered []string

	for start := 0; start < len(asins); start += i.cfg.BatchSize {
		end := start + i.cfg.BatchSize
		if end > len(asins) {
			end = len(asins)
		}
		batch := asins[start:end]

		products, err := i.client.GetProducts(ctx, batch, catalog.ProductQuery{AllowCached: true})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(err).Int("skipped", len(batch)).Msg("criteria batch failed")
			continue
		}

		for _, p := range products {
			if i.meetsCriteria(p.Snapshot) {
				filtered = append(filtered, p.ASIN)
			}
		}

		log.Info().
			Int("progress", end).
			Int("total", len(asins)).
			Int("passed", len(filtered)).
			Msg("criteria filtering")
	}

	return filtered, nil
}

// meetsCriteria checks one snapshot. Absent values (zero) do not disqualify.
func (i *Ingester) meetsCriteria(s catalog.Snapshot) bool {
	if !s.PriceCurrent.IsZero() {
		if s.PriceCurrent.LessThan(i.cfg.MinPriceUSD) || s.PriceCurrent.GreaterThan(i.cfg.MaxPriceUSD) {
			return false
		}
	}
	if s.ReviewCount > 0 && s.ReviewCount < i.cfg.MinReviews {
		return false
	}
	if !s.RatingAverage.IsZero() && s.RatingAverage.LessThan(i.cfg.MinRating) {
		return false
	}
	if s.BSRPrimary > 0 && s.BSRPrimary > i.cfg.MaxBSR {
		return false
	}
	return true
}

// FetchBatch retrieves full product data including history for one batch.
func (i *Ingester) FetchBatch(ctx context.Context, asins []string) ([]catalog.Product, error) {
	products, err := i.client.GetProducts(ctx, asins, catalog.ProductQuery{
		IncludeHistory: true,
		HistoryDays:    i.cfg.HistoryDays,
		IncludeBuyBox:  i.cfg.EnableBuyBox,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch batch of %d ASINs: %w", len(asins), err)
	}
	return products, nil
}

func (i *Ingester) storeBatch(ctx context.Context, products []catalog.Product) (int, error) {
	snapshots := make([]catalog.Snapshot, 0, len(products))
	for _, p := range products {
		categoryName := ""
		if len(p.Metadata.CategoryPath) > 0 {
			categoryName = p.Metadata.CategoryPath[len(p.Metadata.CategoryPath)-1]
		}
		if err := i.repo.UpsertMetadata(ctx, p.Metadata, categoryName); err != nil {
			return 0, fmt.Errorf("failed to upsert metadata for %s: %w", p.ASIN, err)
		}
		snapshots = append(snapshots, p.Snapshot)
	}

	inserted, err := i.repo.InsertSnapshots(ctx, snapshots)
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshots: %w", err)
	}
	return inserted, nil
}

func (i *Ingester) trackedASINs(ctx context.Context) ([]string, error) {
	tracked, err := i.repo.ActiveASINs(ctx, 0, i.cfg.TargetASINCount)
	if err != nil {
		return nil, fmt.Errorf("failed to load tracked ASINs: %w", err)
	}
	asins := make([]string, 0, len(tracked))
	for _, t := range tracked {
		asins = append(asins, t.ASIN)
	}
	return asins, nil
}

// RunDaily runs the full pipeline: discover, drop fresh ASINs, filter by
// criteria, fetch with history in batches, store and refresh views. Batch
// failures are isolated so one bad batch does not sink the run.
func (i *Ingester) RunDaily(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{
		BatchID:   uuid.New().String(),
		StartedAt: i.now().UTC(),
	}

	log.Info().Str("batch_id", result.BatchID).Msg("starting daily ingestion")

	target, err := i.resolveTargets(ctx, opts, result)
	if err != nil {
		result.CompletedAt = i.now().UTC()
		return result, err
	}
	if len(target) == 0 {
		result.CompletedAt = i.now().UTC()
		log.Info().Msg("no ASINs to process")
		return result, nil
	}

	if opts.MaxASINs > 0 && len(target) > opts.MaxASINs {
		log.Info().Int("limit", opts.MaxASINs).Int("from", len(target)).Msg("capping ASIN list")
		target = target[:opts.MaxASINs]
	}
	result.ASINsRequested = len(target)

	totalBatches := (len(target) + i.cfg.BatchSize - 1) / i.cfg.BatchSize
	batchNum := 0
	for start := 0; start < len(target); start += i.cfg.BatchSize {
		end := start + i.cfg.BatchSize
		if end > len(target) {
			end = len(target)
		}
		batch := target[start:end]
		batchNum++

		log.Info().
			Int("batch", batchNum).
			Int("of", totalBatches).
			Int("asins", len(batch)).
			Msg("processing batch")

		products, err := i.FetchBatch(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				result.CompletedAt = i.now().UTC()
				return result, ctx.Err()
			}
			log.Error().Err(err).Int("batch", batchNum).Msg("batch fetch failed")
			for _, asin := range batch {
				result.addError(asin, "fetch", err)
			}
			continue
		}
		if len(products) == 0 {
			log.Warn().Int("batch", batchNum).Msg("no products returned")
			continue
		}

		inserted, err := i.storeBatch(ctx, products)
		if err != nil {
			log.Error().Err(err).Int("batch", batchNum).Msg("batch store failed")
			for _, asin := range batch {
				result.addError(asin, "store", err)
			}
			continue
		}

		result.ASINsProcessed += len(products)
		result.SnapshotsInserted += inserted

		stats := i.client.GetStats()
		result.TokensConsumed = stats.TotalTokensConsumed
		result.TokensRemaining = i.client.TokensLeft()
	}

	if i.maint != nil {
		for _, view := range refreshViews {
			if err := i.maint.RefreshView(ctx, view); err != nil {
				log.Warn().Err(err).Str("view", view).Msg("view refresh failed")
			}
		}
	}

	result.CompletedAt = i.now().UTC()
	result.ASINsSkipped = result.ASINsRequested - result.ASINsProcessed

	log.Info().
		Str("batch_id", result.BatchID).
		Int("processed", result.ASINsProcessed).
		Int("failed", result.Failed()).
		Int("snapshots", result.SnapshotsInserted).
		Dur("duration", result.Duration()).
		Msg("ingestion complete")
	return result, nil
}

func (i *Ingester) resolveTargets(ctx context.Context, opts Options, result *Result) ([]string, error) {
	var target []string
	var err error

	switch {
	case len(opts.ASINs) > 0:
		log.Info().Int("provided", len(opts.ASINs)).Msg("using provided ASIN list")
		target = opts.ASINs
	case opts.SkipDiscovery:
		target, err = i.trackedASINs(ctx)
	default:
		target, err = i.DiscoverCategoryASINs(ctx)
	}
	if err != nil {
		return nil, err
	}
	result.ASINsDiscovered = len(target)

	if !opts.SkipFreshness {
		target, err = i.NeedingUpdate(ctx, target)
		if err != nil {
			return nil, err
		}
		if len(target) == 0 {
			log.Info().Msg("all ASINs are up to date")
			return nil, nil
		}
	}

	if !opts.SkipFiltering {
		target, err = i.FilterByCriteria(ctx, target)
		if err != nil {
			return nil, err
		}
	}
	return target, nil
}

// RunIncremental refreshes specific ASINs without discovery or criteria
// filtering. Force bypasses the freshness check.
func (i *Ingester) RunIncremental(ctx context.Context, asins []string, force bool) (*Result, error) {
	return i.RunDaily(ctx, Options{
		ASINs:         asins,
		SkipDiscovery: true,
		SkipFiltering: true,
		SkipFreshness: force,
	})
}
