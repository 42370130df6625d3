// Package config loads the application configuration: YAML file, .env file
// and environment overrides, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/smartacus-io/smartacus/internal/budget"
	"github.com/smartacus-io/smartacus/internal/catalog"
	"github.com/smartacus-io/smartacus/internal/infrastructure/db"
	"github.com/smartacus-io/smartacus/internal/ingest"
	"github.com/smartacus-io/smartacus/internal/ops"
	"github.com/smartacus-io/smartacus/internal/reviews"
	"github.com/smartacus-io/smartacus/internal/scheduler"
)

// Config is the complete application configuration.
type Config struct {
	Log       LogConfig        `yaml:"log"`
	Server    ops.Config       `yaml:"server"`
	Database  db.Config        `yaml:"database"`
	Keepa     catalog.Config   `yaml:"keepa"`
	Budget    budget.Config    `yaml:"budget"`
	Ingest    ingest.Config    `yaml:"ingest"`
	Scheduler scheduler.Config `yaml:"scheduler"`
	Strategy  StrategyConfig   `yaml:"strategy"`

	Reviews reviews.SourceConfig `yaml:"reviews"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// StrategyConfig controls the allocation planner.
type StrategyConfig struct {
	RedisURL string        `yaml:"redis_url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
	DomainID int           `yaml:"domain_id"`
}

// Default returns the full default configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Server: ops.Config{
			ListenAddr:      ":8090",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database:  db.DefaultConfig(),
		Keepa:     catalog.DefaultConfig(),
		Budget:    budget.DefaultConfig(),
		Ingest:    ingest.DefaultConfig(),
		Scheduler: scheduler.DefaultConfig(),
		Strategy: StrategyConfig{
			CacheTTL: 24 * time.Hour,
			DomainID: 1,
		},
		Reviews: reviews.DefaultSourceConfig(),
	}
}

// Load reads the configuration: defaults, then the YAML file when present,
// then .env and process environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	// .env is optional; missing files are silently skipped.
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env file")
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables on top of the file values.
func (c *Config) applyEnv() {
	setString(&c.Database.Host, "DATABASE_HOST")
	setInt(&c.Database.Port, "DATABASE_PORT")
	setString(&c.Database.Name, "DATABASE_NAME")
	setString(&c.Database.User, "DATABASE_USER")
	setString(&c.Database.Password, "DATABASE_PASSWORD")
	setString(&c.Database.SSLMode, "DATABASE_SSL_MODE")

	setString(&c.Keepa.APIKey, "KEEPA_API_KEY")
	setInt(&c.Keepa.DomainID, "KEEPA_DOMAIN_ID")

	setString(&c.Reviews.Token, "APIFY_TOKEN")

	setString(&c.Strategy.RedisURL, "REDIS_URL")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Server.ListenAddr, "LISTEN_ADDR")
}

// Validate checks the invariants a run cannot recover from.
func (c Config) Validate() error {
	if c.Database.Enabled && (c.Database.Host == "" || c.Database.Name == "") {
		return fmt.Errorf("database host and name are required when the database is enabled")
	}
	if c.Budget.MonthlyLimit <= 0 {
		return fmt.Errorf("budget monthly_limit must be positive, got %d", c.Budget.MonthlyLimit)
	}
	if c.Budget.DiscoveryPct+c.Budget.ScanningPct != 100 {
		return fmt.Errorf("budget split must sum to 100, got %d+%d",
			c.Budget.DiscoveryPct, c.Budget.ScanningPct)
	}
	if c.Ingest.BatchSize <= 0 || c.Ingest.BatchSize > 100 {
		return fmt.Errorf("ingest batch_size must be in 1..100, got %d", c.Ingest.BatchSize)
	}
	if c.Scheduler.MaxCategoriesPerRun <= 0 {
		return fmt.Errorf("scheduler max_categories_per_run must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("ignoring non-numeric environment override")
		return
	}
	*dst = n
}
