// Package postgres implements the persistence interfaces over PostgreSQL
// with sqlx.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/smartacus-io/smartacus/internal/catalog"
	"github.com/smartacus-io/smartacus/internal/persistence"
)

type catalogRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCatalogRepo creates a PostgreSQL catalog repository.
func NewCatalogRepo(db *sqlx.DB, timeout time.Duration) persistence.CatalogRepo {
	return &catalogRepo{
		db:      db,
		timeout: timeout,
	}
}

// UpsertMetadata inserts or refreshes one asins row.
func (r *catalogRepo) UpsertMetadata(ctx context.Context, meta catalog.Metadata, categoryName string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if meta.ASIN == "" {
		return fmt.Errorf("metadata missing ASIN")
	}

	query := `
		INSERT INTO asins (asin, title, brand, category_id, category_name, is_active, first_seen_at, last_updated)
		VALUES ($1, $2, $3, $4, $5, TRUE, NOW(), NOW())
		ON CONFLICT (asin) DO UPDATE SET
			title = EXCLUDED.title,
			brand = EXCLUDED.brand,
			category_id = EXCLUDED.category_id,
			category_name = EXCLUDED.category_name,
			is_active = TRUE,
			last_updated = NOW()`

	_, err := r.db.ExecContext(ctx, query,
		meta.ASIN, meta.Title, meta.Brand, meta.CategoryID, categoryName)
	if err != nil {
		return fmt.Errorf("failed to upsert metadata for %s: %w", meta.ASIN, err)
	}

	return nil
}

// InsertSnapshots writes a batch of snapshots in one transaction. Duplicate
// (asin, captured_at) rows are skipped; the count of inserted rows returns.
func (r *catalogRepo) InsertSnapshots(ctx context.Context, snapshots []catalog.Snapshot) (int, error) {
	if len(snapshots) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration(len(snapshots)/100+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO asin_snapshots (
			asin, captured_at, price_current, price_original, price_lowest_new, price_lowest_used,
			bsr_primary, bsr_category_name, stock_status, fulfillment,
			seller_count, rating_average, review_count, data_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (asin, captured_at) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, s := range snapshots {
		res, err := stmt.ExecContext(ctx,
			s.ASIN, s.CapturedAt, s.PriceCurrent, s.PriceOriginal, s.PriceLowestNew, s.PriceLowestUsed,
			s.BSRPrimary, s.BSRCategoryName, s.StockStatus, s.Fulfillment,
			s.SellerCount, s.RatingAverage, s.ReviewCount, s.DataSource)
		if err != nil {
			return 0, fmt.Errorf("failed to insert snapshot for %s: %w", s.ASIN, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit snapshots: %w", err)
	}

	return inserted, nil
}

const snapshotColumns = `
	asin, captured_at, price_current, price_original, price_lowest_new, price_lowest_used,
	bsr_primary, bsr_category_name, stock_status, fulfillment,
	seller_count, rating_average, review_count, data_source`

// LatestSnapshot returns the newest snapshot for an ASIN, or nil.
func (r *catalogRepo) LatestSnapshot(ctx context.Context, asin string) (*catalog.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + snapshotColumns + `
		FROM asin_snapshots
		WHERE asin = $1
		ORDER BY captured_at DESC
		LIMIT 1`

	row := r.db.QueryRowxContext(ctx, query, asin)
	snapshot, err := scanSnapshot(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest snapshot for %s: %w", asin, err)
	}

	return snapshot, nil
}

// SnapshotWindow returns snapshots for an ASIN inside the range, oldest first.
func (r *catalogRepo) SnapshotWindow(ctx context.Context, asin string, tr persistence.TimeRange) ([]catalog.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + snapshotColumns + `
		FROM asin_snapshots
		WHERE asin = $1 AND captured_at >= $2 AND captured_at <= $3
		ORDER BY captured_at ASC`

	rows, err := r.db.QueryxContext(ctx, query, asin, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot window for %s: %w", asin, err)
	}
	defer rows.Close()

	var snapshots []catalog.Snapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, *snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snapshots, nil
}

// ActiveASINs lists active tracked ASINs, optionally scoped to a category.
func (r *catalogRepo) ActiveASINs(ctx context.Context, categoryID int64, limit int) ([]persistence.TrackedASIN, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// NULLIF makes limit 0 mean no limit; a literal LIMIT 0 returns nothing.
	query := `
		SELECT asin, title, brand, category_id, category_name, is_active, first_seen_at, last_updated
		FROM asins
		WHERE is_active = TRUE AND ($1 = 0 OR category_id = $1)
		ORDER BY last_updated DESC
		LIMIT NULLIF($2, 0)`

	var asins []persistence.TrackedASIN
	if err := r.db.SelectContext(ctx, &asins, query, categoryID, limit); err != nil {
		return nil, fmt.Errorf("failed to list active ASINs: %w", err)
	}

	return asins, nil
}

// FreshASINs returns which of the given ASINs have a snapshot younger than
// maxAge.
func (r *catalogRepo) FreshASINs(ctx context.Context, asins []string, maxAge time.Duration) (map[string]bool, error) {
	if len(asins) == 0 {
		return map[string]bool{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cutoff := time.Now().UTC().Add(-maxAge)
	query := `
		SELECT DISTINCT asin
		FROM asin_snapshots
		WHERE asin = ANY($1) AND captured_at >= $2`

	rows, err := r.db.QueryxContext(ctx, query, pq.Array(asins), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query fresh ASINs: %w", err)
	}
	defer rows.Close()

	fresh := make(map[string]bool)
	for rows.Next() {
		var asin string
		if err := rows.Scan(&asin); err != nil {
			return nil, fmt.Errorf("failed to scan fresh ASIN: %w", err)
		}
		fresh[asin] = true
	}

	return fresh, rows.Err()
}

// Helpers

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row rowScanner) (*catalog.Snapshot, error) {
	var s catalog.Snapshot
	err := row.Scan(
		&s.ASIN, &s.CapturedAt, &s.PriceCurrent, &s.PriceOriginal, &s.PriceLowestNew, &s.PriceLowestUsed,
		&s.BSRPrimary, &s.BSRCategoryName, &s.StockStatus, &s.Fulfillment,
		&s.SellerCount, &s.RatingAverage, &s.ReviewCount, &s.DataSource)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
