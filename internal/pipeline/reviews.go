package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/smartacus-io/smartacus/internal/reviews"
	"github.com/smartacus-io/smartacus/internal/specs"
)

// ErrNoReviewSource is returned by AnalyzeReviews when no provider is wired.
var ErrNoReviewSource = errors.New("no review source configured")

// ReviewSource fetches a balanced review sample for one ASIN.
type ReviewSource interface {
	FetchProductReviews(ctx context.Context, asin string) ([]reviews.Review, error)
}

// SetReviewSource attaches a review provider. Without one, AnalyzeReviews
// fails and the scoring stage keeps its gap defaults.
func (p *Pipeline) SetReviewSource(src ReviewSource) {
	p.reviewSource = src
}

// ReviewIntel is the outcome of one review analysis pass.
type ReviewIntel struct {
	ASIN            string                     `json:"asin"`
	ReviewsFetched  int                        `json:"reviews_fetched"`
	NegativeReviews int                        `json:"negative_reviews"`
	Profile         reviews.ImprovementProfile `json:"profile"`
	Bundle          *specs.Bundle              `json:"bundle,omitempty"`
}

// AnalyzeReviews runs the review intelligence chain for one ASIN: fetch a
// balanced sample, extract defect and wish signals, aggregate the improvement
// profile, and render the spec bundle when the profile carries signals.
// Everything is persisted; the pass is idempotent, the same reviews always
// produce the same profile and inputs hash.
func (p *Pipeline) AnalyzeReviews(ctx context.Context, asin string) (*ReviewIntel, error) {
	if p.reviewSource == nil {
		return nil, ErrNoReviewSource
	}

	fetched, err := p.reviewSource.FetchProductReviews(ctx, asin)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reviews for %s: %w", asin, err)
	}

	defects := p.extractor.ExtractDefects(fetched)
	wishes := p.extractor.ExtractWishes(fetched)

	negative := 0
	for _, r := range fetched {
		if r.Rating <= 3 && r.Body != "" {
			negative++
		}
	}

	profile := p.aggregator.BuildProfile(asin, defects, wishes, len(fetched), negative)

	if err := p.repos.Reviews.ReplaceDefects(ctx, asin, defects); err != nil {
		return nil, fmt.Errorf("failed to persist defects for %s: %w", asin, err)
	}
	if err := p.repos.Reviews.ReplaceFeatureRequests(ctx, asin, wishes); err != nil {
		return nil, fmt.Errorf("failed to persist feature requests for %s: %w", asin, err)
	}
	if err := p.repos.Reviews.UpsertProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to persist profile for %s: %w", asin, err)
	}

	intel := &ReviewIntel{
		ASIN:            asin,
		ReviewsFetched:  len(fetched),
		NegativeReviews: negative,
		Profile:         profile,
	}

	if profile.ReviewsReady && (len(profile.TopDefects) > 0 || len(profile.MissingFeatures) > 0) {
		bundle := p.specgen.Generate(profile)
		if err := p.repos.Specs.InsertBundle(ctx, bundle); err != nil {
			return nil, fmt.Errorf("failed to persist spec bundle for %s: %w", asin, err)
		}
		intel.Bundle = &bundle
	}

	log.Info().
		Str("asin", asin).
		Int("reviews", len(fetched)).
		Int("defects", len(defects)).
		Int("wishes", len(wishes)).
		Float64("improvement_score", profile.ImprovementScore).
		Bool("bundle", intel.Bundle != nil).
		Msg("review analysis complete")
	return intel, nil
}

// ReviewTargets lists the ASINs flagged for review analysis: the current
// shortlist first, topped up with viable opportunities.
func (p *Pipeline) ReviewTargets(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = shortlistPoolSize
	}

	seen := make(map[string]bool)
	var targets []string

	list, err := p.repos.Opportunities.LatestShortlist(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load shortlist: %w", err)
	}
	if list != nil {
		for _, item := range list.Items {
			if len(targets) >= limit {
				return targets, nil
			}
			if !seen[item.ASIN] {
				seen[item.ASIN] = true
				targets = append(targets, item.ASIN)
			}
		}
	}

	opps, err := p.repos.Opportunities.ListViable(ctx, p.scoreThreshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load opportunities: %w", err)
	}
	for _, opp := range opps {
		if len(targets) >= limit {
			break
		}
		if !seen[opp.ASIN] {
			seen[opp.ASIN] = true
			targets = append(targets, opp.ASIN)
		}
	}
	return targets, nil
}
