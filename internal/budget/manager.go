// Package budget tracks the monthly catalog API token allowance and paces
// spend so the allowance lasts the whole month.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// Run types for token reservations.
const (
	RunTypeDiscovery = "discovery"
	RunTypeScanning  = "scanning"
)

// Config holds token economics. The refill plan gives ~21 tokens/min, about
// 907k tokens over a 30 day month; the limit below leaves a little headroom.
type Config struct {
	MonthlyLimit       int `yaml:"monthly_limit"`
	TokensPerMinute    int `yaml:"tokens_per_minute"`
	DiscoveryPct       int `yaml:"discovery_pct"`
	ScanningPct        int `yaml:"scanning_pct"`
	TokensPerASIN      int `yaml:"tokens_per_asin"`
	TokensPerDiscovery int `yaml:"tokens_per_discovery"`
}

// DefaultConfig returns the standard plan economics.
func DefaultConfig() Config {
	return Config{
		MonthlyLimit:       900000,
		TokensPerMinute:    21,
		DiscoveryPct:       20,
		ScanningPct:        80,
		TokensPerASIN:      2,
		TokensPerDiscovery: 5,
	}
}

// Status is the ledger view for one month.
type Status struct {
	Month              string  `json:"month"`
	MonthlyLimit       int     `json:"monthly_limit"`
	TokensUsed         int     `json:"tokens_used"`
	TokensRemaining    int     `json:"tokens_remaining"`
	DiscoveryBudget    int     `json:"discovery_budget"`
	ScanningBudget     int     `json:"scanning_budget"`
	RunsCompleted      int     `json:"runs_completed"`
	CategoriesScanned  int     `json:"categories_scanned"`
	OpportunitiesFound int     `json:"opportunities_found"`
	UtilizationPct     float64 `json:"utilization_pct"`
}

// Manager is the budget ledger backed by the token_budget table. One row per
// month, created lazily on first touch.
type Manager struct {
	db      *sqlx.DB
	cfg     Config
	timeout time.Duration
	now     func() time.Time
}

// NewManager creates a budget manager.
func NewManager(db *sqlx.DB, cfg Config, timeout time.Duration) *Manager {
	return &Manager{
		db:      db,
		cfg:     cfg,
		timeout: timeout,
		now:     time.Now,
	}
}

// CurrentMonth returns the ledger key for now, as YYYY-MM in UTC.
func (m *Manager) CurrentMonth() string {
	return m.now().UTC().Format("2006-01")
}

// EnsureBudget creates the ledger row for the month if it does not exist.
func (m *Manager) EnsureBudget(ctx context.Context, month string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	query := `
		INSERT INTO token_budget (month_year, monthly_limit, discovery_allocation_pct, scanning_allocation_pct)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (month_year) DO NOTHING`

	_, err := m.db.ExecContext(ctx, query,
		month, m.cfg.MonthlyLimit, m.cfg.DiscoveryPct, m.cfg.ScanningPct)
	if err != nil {
		return fmt.Errorf("failed to ensure budget for %s: %w", month, err)
	}

	return nil
}

// StatusFor reads the ledger for a month, creating the row first if needed.
func (m *Manager) StatusFor(ctx context.Context, month string) (Status, error) {
	if err := m.EnsureBudget(ctx, month); err != nil {
		return Status{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	query := `
		SELECT month_year, monthly_limit, tokens_used, tokens_remaining,
		       discovery_allocation_pct, scanning_allocation_pct,
		       runs_completed, categories_scanned, opportunities_found
		FROM token_budget
		WHERE month_year = $1`

	var (
		status                    Status
		discoveryPct, scanningPct int
	)
	err := m.db.QueryRowxContext(ctx, query, month).Scan(
		&status.Month, &status.MonthlyLimit, &status.TokensUsed, &status.TokensRemaining,
		&discoveryPct, &scanningPct,
		&status.RunsCompleted, &status.CategoriesScanned, &status.OpportunitiesFound)
	if err != nil {
		return Status{}, fmt.Errorf("failed to read budget for %s: %w", month, err)
	}

	status.DiscoveryBudget = status.MonthlyLimit * discoveryPct / 100
	status.ScanningBudget = status.MonthlyLimit * scanningPct / 100
	if status.MonthlyLimit > 0 {
		status.UtilizationPct = float64(status.TokensUsed) / float64(status.MonthlyLimit) * 100
	}

	return status, nil
}

// Status reads the ledger for the current month.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	return m.StatusFor(ctx, m.CurrentMonth())
}

// CanRun reports whether the current month has enough tokens left.
func (m *Manager) CanRun(ctx context.Context, estimatedTokens int) (bool, error) {
	status, err := m.Status(ctx)
	if err != nil {
		return false, err
	}
	return status.TokensRemaining >= estimatedTokens, nil
}

// Reserve debits tokens ahead of a run. Returns false without error when the
// remaining budget cannot cover the amount.
func (m *Manager) Reserve(ctx context.Context, amount int, runType string) (bool, error) {
	ok, err := m.CanRun(ctx, amount)
	if err != nil {
		return false, err
	}
	if !ok {
		log.Warn().Int("amount", amount).Str("run_type", runType).Msg("Token reservation refused, budget exceeded")
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	query := `
		UPDATE token_budget
		SET tokens_used = tokens_used + $1,
		    updated_at = NOW()
		WHERE month_year = $2
		RETURNING tokens_remaining`

	var remaining int
	err = m.db.QueryRowxContext(ctx, query, amount, m.CurrentMonth()).Scan(&remaining)
	if err != nil {
		return false, fmt.Errorf("failed to reserve tokens: %w", err)
	}

	log.Info().Int("amount", amount).Str("run_type", runType).Int("remaining", remaining).
		Msg("Tokens reserved")
	return true, nil
}

// RecordRun credits a completed run to the ledger.
func (m *Manager) RecordRun(ctx context.Context, tokensUsed, categoriesScanned, opportunitiesFound int) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	query := `
		UPDATE token_budget
		SET tokens_used = tokens_used + $1,
		    runs_completed = runs_completed + 1,
		    categories_scanned = categories_scanned + $2,
		    opportunities_found = opportunities_found + $3,
		    updated_at = NOW()
		WHERE month_year = $4`

	_, err := m.db.ExecContext(ctx, query,
		tokensUsed, categoriesScanned, opportunitiesFound, m.CurrentMonth())
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	log.Info().Int("tokens", tokensUsed).Int("categories", categoriesScanned).
		Int("opportunities", opportunitiesFound).Msg("Run recorded")
	return nil
}

// DailyBudget spreads the remaining allowance evenly over the days left in a
// 30 day month.
func (m *Manager) DailyBudget(ctx context.Context) (int, error) {
	status, err := m.Status(ctx)
	if err != nil {
		return 0, err
	}

	daysRemaining := 30 - m.now().UTC().Day() + 1
	if daysRemaining < 1 {
		daysRemaining = 1
	}

	return status.TokensRemaining / daysRemaining, nil
}

// TokensForASINs estimates the cost of one discovery query plus per-ASIN
// product queries.
func (m *Manager) TokensForASINs(asinCount int) int {
	return m.cfg.TokensPerDiscovery + asinCount*m.cfg.TokensPerASIN
}
