package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/smartacus-io/smartacus/internal/persistence"
	"github.com/smartacus-io/smartacus/internal/reviews"
)

type reviewsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewReviewsRepo creates a PostgreSQL reviews repository.
func NewReviewsRepo(db *sqlx.DB, timeout time.Duration) persistence.ReviewsRepo {
	return &reviewsRepo{
		db:      db,
		timeout: timeout,
	}
}

// ReplaceDefects swaps the stored defect signals for an ASIN with the newly
// extracted set.
func (r *reviewsRepo) ReplaceDefects(ctx context.Context, asin string, defects []reviews.DefectSignal) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM review_defects WHERE asin = $1`, asin); err != nil {
		return fmt.Errorf("failed to clear defects for %s: %w", asin, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO review_defects (
			asin, defect_type, frequency, severity_score, example_quotes,
			total_reviews_scanned, negative_reviews_scanned, extracted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`)
	if err != nil {
		return fmt.Errorf("failed to prepare defect insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range defects {
		quotes, err := json.Marshal(d.ExampleQuotes)
		if err != nil {
			return fmt.Errorf("failed to marshal quotes: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			asin, d.DefectType, d.Frequency, d.SeverityScore, quotes,
			d.TotalReviewsScanned, d.NegativeReviewsScanned); err != nil {
			return fmt.Errorf("failed to insert defect %s: %w", d.DefectType, err)
		}
	}

	return tx.Commit()
}

// ReplaceFeatureRequests swaps the stored feature requests for an ASIN.
func (r *reviewsRepo) ReplaceFeatureRequests(ctx context.Context, asin string, requests []reviews.FeatureRequest) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM review_feature_requests WHERE asin = $1`, asin); err != nil {
		return fmt.Errorf("failed to clear feature requests for %s: %w", asin, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO review_feature_requests (
			asin, feature, mentions, confidence, source_quotes, helpful_votes, wish_strength, extracted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`)
	if err != nil {
		return fmt.Errorf("failed to prepare feature request insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range requests {
		quotes, err := json.Marshal(f.SourceQuotes)
		if err != nil {
			return fmt.Errorf("failed to marshal quotes: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			asin, f.Feature, f.Mentions, f.Confidence, quotes, f.HelpfulVotes, f.WishStrength); err != nil {
			return fmt.Errorf("failed to insert feature request %q: %w", f.Feature, err)
		}
	}

	return tx.Commit()
}

// UpsertProfile writes one improvement profile, replacing any previous one.
func (r *reviewsRepo) UpsertProfile(ctx context.Context, profile reviews.ImprovementProfile) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	topDefects, err := json.Marshal(profile.TopDefects)
	if err != nil {
		return fmt.Errorf("failed to marshal top defects: %w", err)
	}
	missingFeatures, err := json.Marshal(profile.MissingFeatures)
	if err != nil {
		return fmt.Errorf("failed to marshal missing features: %w", err)
	}

	query := `
		INSERT INTO review_improvement_profiles (
			asin, top_defects, missing_features, dominant_pain, improvement_score,
			reviews_analyzed, negative_reviews_analyzed, reviews_ready, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (asin) DO UPDATE SET
			top_defects = EXCLUDED.top_defects,
			missing_features = EXCLUDED.missing_features,
			dominant_pain = EXCLUDED.dominant_pain,
			improvement_score = EXCLUDED.improvement_score,
			reviews_analyzed = EXCLUDED.reviews_analyzed,
			negative_reviews_analyzed = EXCLUDED.negative_reviews_analyzed,
			reviews_ready = EXCLUDED.reviews_ready,
			updated_at = NOW()`

	_, err = r.db.ExecContext(ctx, query,
		profile.ASIN, topDefects, missingFeatures, profile.DominantPain, profile.ImprovementScore,
		profile.ReviewsAnalyzed, profile.NegativeReviewsAnalyzed, profile.ReviewsReady)
	if err != nil {
		return fmt.Errorf("failed to upsert profile for %s: %w", profile.ASIN, err)
	}

	return nil
}

// GetProfile returns the improvement profile for an ASIN, or nil.
func (r *reviewsRepo) GetProfile(ctx context.Context, asin string) (*reviews.ImprovementProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT asin, top_defects, missing_features, dominant_pain, improvement_score,
		       reviews_analyzed, negative_reviews_analyzed, reviews_ready
		FROM review_improvement_profiles
		WHERE asin = $1`

	var profile reviews.ImprovementProfile
	var topDefects, missingFeatures []byte
	err := r.db.QueryRowxContext(ctx, query, asin).Scan(
		&profile.ASIN, &topDefects, &missingFeatures, &profile.DominantPain, &profile.ImprovementScore,
		&profile.ReviewsAnalyzed, &profile.NegativeReviewsAnalyzed, &profile.ReviewsReady)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile for %s: %w", asin, err)
	}

	if len(topDefects) > 0 {
		if err := json.Unmarshal(topDefects, &profile.TopDefects); err != nil {
			return nil, fmt.Errorf("failed to unmarshal top defects: %w", err)
		}
	}
	if len(missingFeatures) > 0 {
		if err := json.Unmarshal(missingFeatures, &profile.MissingFeatures); err != nil {
			return nil, fmt.Errorf("failed to unmarshal missing features: %w", err)
		}
	}

	return &profile, nil
}
