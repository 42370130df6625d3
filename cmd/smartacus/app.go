package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/smartacus-io/smartacus/internal/budget"
	"github.com/smartacus-io/smartacus/internal/catalog"
	"github.com/smartacus-io/smartacus/internal/config"
	"github.com/smartacus-io/smartacus/internal/infrastructure/db"
	"github.com/smartacus-io/smartacus/internal/ingest"
	"github.com/smartacus-io/smartacus/internal/metrics"
	"github.com/smartacus-io/smartacus/internal/pipeline"
	"github.com/smartacus-io/smartacus/internal/reviews"
	"github.com/smartacus-io/smartacus/internal/strategy"
)

// app holds the wired application components shared by the subcommands.
type app struct {
	cfg     config.Config
	db      *db.Manager
	redis   *redis.Client
	keepa   *catalog.Client
	budget  *budget.Manager
	metrics *metrics.Registry
}

// newApp loads the configuration and connects the shared infrastructure.
func newApp() (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	dbManager, err := db.NewManager(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	var redisClient *redis.Client
	if cfg.Strategy.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Strategy.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("invalid redis URL, caching in memory only")
		} else {
			redisClient = redis.NewClient(opts)
		}
	}

	a := &app{
		cfg:     cfg,
		db:      dbManager,
		redis:   redisClient,
		keepa:   catalog.NewClient(cfg.Keepa, redisClient),
		metrics: metrics.NewRegistry(nil),
	}
	a.keepa.SetMetricsObserver(a.metrics)
	if dbManager.IsEnabled() {
		a.budget = budget.NewManager(dbManager.DB(), cfg.Budget, cfg.Database.QueryTimeout)
	}
	return a, nil
}

// requireDB fails fast for commands that cannot run without persistence.
func (a *app) requireDB() error {
	if !a.db.IsEnabled() {
		return fmt.Errorf("this command requires the database; enable it in the config")
	}
	return nil
}

func (a *app) ingester() *ingest.Ingester {
	repos := a.db.Repository()
	return ingest.NewIngester(a.cfg.Ingest, a.keepa, repos.Catalog, repos.Maintenance)
}

func (a *app) pipeline() *pipeline.Pipeline {
	p := pipeline.New(a.db.Repository(), a.ingester())
	p.SetMetrics(a.metrics)
	return p
}

// reviewFetcher builds the balanced review fetcher over the configured
// scrape provider. Fails when no API token is set.
func (a *app) reviewFetcher() (*reviews.Fetcher, error) {
	client, err := reviews.NewApifyClient(a.cfg.Reviews)
	if err != nil {
		return nil, err
	}
	return reviews.NewFetcher(client, a.cfg.Reviews.FetchConfig()), nil
}

// planner builds an allocation planner. A nil tokens source falls back to
// the budget ledger.
func (a *app) planner(tokens strategy.TokenSource) *strategy.Planner {
	if tokens == nil {
		tokens = a.budget
	}
	cache := strategy.NewDecisionCache(a.redis, a.cfg.Strategy.CacheTTL)
	return strategy.NewPlanner(a.db.Repository().Strategy, tokens, cache)
}

// Close releases the shared connections.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close database")
	}
}
