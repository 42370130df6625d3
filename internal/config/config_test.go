package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8090", cfg.Server.ListenAddr)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "https://api.keepa.com", cfg.Keepa.BaseURL)
	assert.Equal(t, 900000, cfg.Budget.MonthlyLimit)
	assert.Equal(t, 100, cfg.Ingest.BatchSize)
	assert.Equal(t, 24*time.Hour, cfg.Strategy.CacheTTL)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
log:
  level: debug
  pretty: true
database:
  host: db.internal
  name: smartacus_prod
keepa:
  domain_id: 4
scheduler:
  max_categories_per_run: 3
strategy:
  domain_id: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "smartacus_prod", cfg.Database.Name)
	assert.Equal(t, 4, cfg.Keepa.DomainID)
	assert.Equal(t, 3, cfg.Scheduler.MaxCategoriesPerRun)
	assert.Equal(t, 4, cfg.Strategy.DomainID)

	// Untouched sections keep their defaults.
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 900000, cfg.Budget.MonthlyLimit)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_HOST", "pg.example.net")
	t.Setenv("DATABASE_PORT", "6432")
	t.Setenv("KEEPA_API_KEY", "k3y")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "pg.example.net", cfg.Database.Host)
	assert.Equal(t, 6432, cfg.Database.Port)
	assert.Equal(t, "k3y", cfg.Keepa.APIKey)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestEnvOverrideIgnoresGarbage(t *testing.T) {
	t.Setenv("DATABASE_PORT", "not-a-port")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5432, cfg.Database.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{
			"db_enabled_without_host",
			func(c *Config) { c.Database.Host = "" },
			"database host and name are required",
		},
		{
			"bad_budget_split",
			func(c *Config) { c.Budget.DiscoveryPct = 30 },
			"budget split must sum to 100",
		},
		{
			"zero_monthly_limit",
			func(c *Config) { c.Budget.MonthlyLimit = 0 },
			"monthly_limit must be positive",
		},
		{
			"oversized_batch",
			func(c *Config) { c.Ingest.BatchSize = 250 },
			"batch_size must be in 1..100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
