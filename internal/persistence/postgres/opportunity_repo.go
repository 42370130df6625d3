package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/smartacus-io/smartacus/internal/econ"
	"github.com/smartacus-io/smartacus/internal/persistence"
	"github.com/smartacus-io/smartacus/internal/shortlist"
)

type opportunityRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewOpportunityRepo creates a PostgreSQL opportunity repository.
func NewOpportunityRepo(db *sqlx.DB, timeout time.Duration) persistence.OpportunityRepo {
	return &opportunityRepo{
		db:      db,
		timeout: timeout,
	}
}

// UpsertOpportunity writes one scored opportunity. Re-scoring the same ASIN
// at the same detection time updates the row in place.
func (r *opportunityRepo) UpsertOpportunity(ctx context.Context, opp econ.Opportunity, detectedAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	eventIDs, err := json.Marshal(opp.EconomicEvents)
	if err != nil {
		return fmt.Errorf("failed to marshal event IDs: %w", err)
	}

	query := `
		INSERT INTO opportunities (
			asin, detected_at, final_score, base_score, time_multiplier, urgency_label,
			window_days, erosion_risk, confidence, estimated_monthly_value,
			estimated_annual_value, risk_adjusted_value, rank_score, thesis, economic_events)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (asin, detected_at) DO UPDATE SET
			final_score = EXCLUDED.final_score,
			base_score = EXCLUDED.base_score,
			time_multiplier = EXCLUDED.time_multiplier,
			urgency_label = EXCLUDED.urgency_label,
			window_days = EXCLUDED.window_days,
			erosion_risk = EXCLUDED.erosion_risk,
			confidence = EXCLUDED.confidence,
			estimated_monthly_value = EXCLUDED.estimated_monthly_value,
			estimated_annual_value = EXCLUDED.estimated_annual_value,
			risk_adjusted_value = EXCLUDED.risk_adjusted_value,
			rank_score = EXCLUDED.rank_score,
			thesis = EXCLUDED.thesis,
			economic_events = EXCLUDED.economic_events`

	_, err = r.db.ExecContext(ctx, query,
		opp.ASIN, detectedAt, opp.FinalScore, opp.BaseScore, opp.TimeMultiplier, opp.UrgencyLabel,
		opp.WindowDays, opp.ErosionRisk, opp.Confidence, opp.EstimatedMonthlyValue,
		opp.EstimatedAnnualValue, opp.RiskAdjustedValue, opp.RankScore, opp.Thesis, eventIDs)
	if err != nil {
		return fmt.Errorf("failed to upsert opportunity for %s: %w", opp.ASIN, err)
	}

	return nil
}

// ListViable returns the newest opportunity per ASIN at or above the score
// floor, ranked by rank score.
func (r *opportunityRepo) ListViable(ctx context.Context, minScore int, limit int) ([]econ.Opportunity, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT DISTINCT ON (asin)
			asin, final_score, base_score, time_multiplier, urgency_label,
			window_days, erosion_risk, confidence, estimated_monthly_value,
			estimated_annual_value, risk_adjusted_value, rank_score, thesis, economic_events
		FROM opportunities
		WHERE final_score >= $1
		ORDER BY asin, detected_at DESC`

	rows, err := r.db.QueryxContext(ctx, query, minScore)
	if err != nil {
		return nil, fmt.Errorf("failed to query viable opportunities: %w", err)
	}
	defer rows.Close()

	var opps []econ.Opportunity
	for rows.Next() {
		var opp econ.Opportunity
		var eventIDs []byte
		err := rows.Scan(
			&opp.ASIN, &opp.FinalScore, &opp.BaseScore, &opp.TimeMultiplier, &opp.UrgencyLabel,
			&opp.WindowDays, &opp.ErosionRisk, &opp.Confidence, &opp.EstimatedMonthlyValue,
			&opp.EstimatedAnnualValue, &opp.RiskAdjustedValue, &opp.RankScore, &opp.Thesis, &eventIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to scan opportunity: %w", err)
		}
		if len(eventIDs) > 0 {
			if err := json.Unmarshal(eventIDs, &opp.EconomicEvents); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event IDs: %w", err)
			}
		}
		opps = append(opps, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating opportunities: %w", err)
	}

	// Rank across ASINs after the per-ASIN dedupe.
	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].RankScore > opps[j].RankScore
	})
	if limit > 0 && len(opps) > limit {
		opps = opps[:limit]
	}

	return opps, nil
}

// InsertShortlist stores one generated shortlist with its items as JSONB.
func (r *opportunityRepo) InsertShortlist(ctx context.Context, list shortlist.Shortlist) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	items, err := json.Marshal(list.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal shortlist items: %w", err)
	}
	criteria, err := json.Marshal(list.Criteria)
	if err != nil {
		return fmt.Errorf("failed to marshal shortlist criteria: %w", err)
	}

	query := `
		INSERT INTO shortlists (run_id, generated_at, items, criteria, total_value, considered)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = r.db.ExecContext(ctx, query,
		list.RunID, list.GeneratedAt, items, criteria, list.TotalValue, list.Considered)
	if err != nil {
		return fmt.Errorf("failed to insert shortlist: %w", err)
	}

	return nil
}

// LatestShortlist returns the most recent shortlist, or nil.
func (r *opportunityRepo) LatestShortlist(ctx context.Context) (*shortlist.Shortlist, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT run_id, generated_at, items, criteria, total_value, considered
		FROM shortlists
		ORDER BY generated_at DESC
		LIMIT 1`

	var list shortlist.Shortlist
	var items, criteria []byte
	err := r.db.QueryRowxContext(ctx, query).Scan(
		&list.RunID, &list.GeneratedAt, &items, &criteria, &list.TotalValue, &list.Considered)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest shortlist: %w", err)
	}

	if len(items) > 0 {
		if err := json.Unmarshal(items, &list.Items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal shortlist items: %w", err)
		}
	}
	if len(criteria) > 0 {
		if err := json.Unmarshal(criteria, &list.Criteria); err != nil {
			return nil, fmt.Errorf("failed to unmarshal shortlist criteria: %w", err)
		}
	}

	return &list, nil
}
