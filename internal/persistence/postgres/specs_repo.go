package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/smartacus-io/smartacus/internal/econ"
	"github.com/smartacus-io/smartacus/internal/persistence"
	"github.com/smartacus-io/smartacus/internal/specs"
)

type specsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSpecsRepo creates a PostgreSQL specs repository.
func NewSpecsRepo(db *sqlx.DB, timeout time.Duration) persistence.SpecsRepo {
	return &specsRepo{
		db:      db,
		timeout: timeout,
	}
}

// InsertBundle stores one generated bundle. The full bundle rides as JSONB;
// the hash and version columns make reruns queryable.
func (r *specsRepo) InsertBundle(ctx context.Context, bundle specs.Bundle) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to marshal bundle: %w", err)
	}

	query := `
		INSERT INTO product_spec_bundles (
			asin, generated_at, version, mapping_version, inputs_hash,
			improvement_score, reviews_analyzed, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.ExecContext(ctx, query,
		bundle.ASIN, bundle.GeneratedAt, bundle.Version, bundle.MappingVersion, bundle.InputsHash,
		bundle.ImprovementScore, bundle.ReviewsAnalyzed, payload)
	if err != nil {
		return fmt.Errorf("failed to insert spec bundle for %s: %w", bundle.ASIN, err)
	}

	return nil
}

// LatestBundle returns the newest bundle for an ASIN, or nil.
func (r *specsRepo) LatestBundle(ctx context.Context, asin string) (*specs.Bundle, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT payload
		FROM product_spec_bundles
		WHERE asin = $1
		ORDER BY generated_at DESC
		LIMIT 1`

	var payload []byte
	err := r.db.QueryRowxContext(ctx, query, asin).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get bundle for %s: %w", asin, err)
	}

	var bundle specs.Bundle
	if err := json.Unmarshal(payload, &bundle); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bundle: %w", err)
	}

	return &bundle, nil
}

// UsableQuotes returns active, unexpired supplier quotes for an ASIN.
func (r *specsRepo) UsableQuotes(ctx context.Context, asin string, now time.Time) ([]econ.SourcingQuote, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT supplier_name, unit_price, shipping_per_unit, active, expires_at
		FROM sourcing_quotes
		WHERE asin = $1 AND active = TRUE AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY unit_price + shipping_per_unit ASC`

	rows, err := r.db.QueryxContext(ctx, query, asin, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query quotes for %s: %w", asin, err)
	}
	defer rows.Close()

	var quotes []econ.SourcingQuote
	for rows.Next() {
		var q econ.SourcingQuote
		var expires sql.NullTime
		if err := rows.Scan(&q.SupplierName, &q.UnitPrice, &q.ShippingPerUnit, &q.Active, &expires); err != nil {
			return nil, fmt.Errorf("failed to scan quote: %w", err)
		}
		if expires.Valid {
			q.ExpiresAt = expires.Time
		}
		quotes = append(quotes, q)
	}

	return quotes, rows.Err()
}

// InsertQuote stores one supplier quote.
func (r *specsRepo) InsertQuote(ctx context.Context, asin string, quote econ.SourcingQuote) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO sourcing_quotes (asin, supplier_name, unit_price, shipping_per_unit, active, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`

	var expires interface{}
	if !quote.ExpiresAt.IsZero() {
		expires = quote.ExpiresAt
	}

	_, err := r.db.ExecContext(ctx, query,
		asin, quote.SupplierName, quote.UnitPrice, quote.ShippingPerUnit, quote.Active, expires)
	if err != nil {
		return fmt.Errorf("failed to insert quote for %s: %w", asin, err)
	}

	return nil
}
