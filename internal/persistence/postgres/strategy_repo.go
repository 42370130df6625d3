package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/smartacus-io/smartacus/internal/persistence"
)

type strategyRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStrategyRepo creates a PostgreSQL strategy repository.
func NewStrategyRepo(db *sqlx.DB, timeout time.Duration) persistence.StrategyRepo {
	return &strategyRepo{
		db:      db,
		timeout: timeout,
	}
}

// UpsertCategory inserts or refreshes one category_registry row.
func (r *strategyRepo) UpsertCategory(ctx context.Context, cat persistence.Category) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO category_registry (
			node_id, name, domain_id, force_include, paused, tracked_asins,
			runs_completed, last_scanned_at, opportunity_rate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (node_id, domain_id) DO UPDATE SET
			name = EXCLUDED.name,
			force_include = EXCLUDED.force_include,
			paused = EXCLUDED.paused,
			tracked_asins = EXCLUDED.tracked_asins,
			runs_completed = EXCLUDED.runs_completed,
			last_scanned_at = EXCLUDED.last_scanned_at,
			opportunity_rate = EXCLUDED.opportunity_rate`

	_, err := r.db.ExecContext(ctx, query,
		cat.NodeID, cat.Name, cat.DomainID, cat.ForceInclude, cat.Paused, cat.TrackedASINs,
		cat.RunsCompleted, cat.LastScannedAt, cat.OpportunityRate)
	if err != nil {
		return fmt.Errorf("failed to upsert category %d: %w", cat.NodeID, err)
	}

	return nil
}

// ListCategories returns all categories for a marketplace domain.
func (r *strategyRepo) ListCategories(ctx context.Context, domainID int) ([]persistence.Category, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, node_id, name, domain_id, force_include, paused, tracked_asins,
		       runs_completed, last_scanned_at, opportunity_rate, created_at
		FROM category_registry
		WHERE domain_id = $1
		ORDER BY node_id`

	var cats []persistence.Category
	if err := r.db.SelectContext(ctx, &cats, query, domainID); err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}

	return cats, nil
}

// RecordPerformance writes one category run record.
func (r *strategyRepo) RecordPerformance(ctx context.Context, perf persistence.CategoryPerformance) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO category_performance (
			category_node_id, run_id, asins_scanned, opportunities_found,
			tokens_spent, value_per_1k_tokens, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		perf.CategoryNodeID, perf.RunID, perf.ASINsScanned, perf.OpportunitiesFound,
		perf.TokensSpent, perf.ValuePer1kTokens, perf.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to record performance for %d: %w", perf.CategoryNodeID, err)
	}

	return nil
}

// PerformanceWindow returns run records for a category, newest first.
func (r *strategyRepo) PerformanceWindow(ctx context.Context, nodeID int64, limit int) ([]persistence.CategoryPerformance, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT category_node_id, run_id, asins_scanned, opportunities_found,
		       tokens_spent, value_per_1k_tokens, recorded_at
		FROM category_performance
		WHERE category_node_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2`

	var perfs []persistence.CategoryPerformance
	if err := r.db.SelectContext(ctx, &perfs, query, nodeID, limit); err != nil {
		return nil, fmt.Errorf("failed to query performance window for %d: %w", nodeID, err)
	}

	return perfs, nil
}

// InsertDecision writes one allocation cycle. Replays of the same cycle ID
// are ignored.
func (r *strategyRepo) InsertDecision(ctx context.Context, decision persistence.StrategyDecision) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	exploit, err := json.Marshal(decision.Exploit)
	if err != nil {
		return fmt.Errorf("failed to marshal exploit list: %w", err)
	}
	explore, err := json.Marshal(decision.Explore)
	if err != nil {
		return fmt.Errorf("failed to marshal explore list: %w", err)
	}
	paused, err := json.Marshal(decision.Paused)
	if err != nil {
		return fmt.Errorf("failed to marshal paused list: %w", err)
	}
	allocations, err := json.Marshal(decision.Allocations)
	if err != nil {
		return fmt.Errorf("failed to marshal allocations: %w", err)
	}
	riskNotes, err := json.Marshal(decision.RiskNotes)
	if err != nil {
		return fmt.Errorf("failed to marshal risk notes: %w", err)
	}

	query := `
		INSERT INTO strategy_decisions (
			cycle_id, decided_at, budget_tokens, exploit, explore, paused,
			allocations, risk_notes, decision_cache_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (cycle_id) DO NOTHING`

	_, err = r.db.ExecContext(ctx, query,
		decision.CycleID, decision.DecidedAt, decision.BudgetTokens, exploit, explore, paused,
		allocations, riskNotes, decision.DecisionCache)
	if err != nil {
		return fmt.Errorf("failed to insert decision %s: %w", decision.CycleID, err)
	}

	return nil
}
