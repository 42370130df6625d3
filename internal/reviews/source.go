package reviews

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Review job failure classes.
var (
	ErrJobFailed  = errors.New("review job failed")
	ErrJobTimeout = errors.New("review job timed out")
)

// JobStatus is the state of one submitted scrape job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// RatingFilter selects a star band on the provider side. Not every provider
// honors it; FetchConfig.TrustRatingFilter says whether this one does.
type RatingFilter string

const (
	FilterAll      RatingFilter = "all"
	FilterCritical RatingFilter = "critical" // 1-3 stars
	FilterPositive RatingFilter = "positive" // 4-5 stars
)

// JobRequest describes one scrape job.
type JobRequest struct {
	ASIN   string
	Domain string
	Limit  int
	Filter RatingFilter
}

// Source is the asynchronous review provider contract: submit a scrape job,
// then poll it until terminal.
type Source interface {
	Submit(ctx context.Context, req JobRequest) (string, error)
	Poll(ctx context.Context, jobID string) (JobStatus, []Review, error)
}

// FetchConfig tunes the balanced review fetch.
type FetchConfig struct {
	Domain         string
	TargetNegative int
	TargetPositive int
	MaxReviews     int
	PollInterval   time.Duration
	MaxWait        time.Duration

	// TrustRatingFilter: when the provider honors filterByRating, two
	// targeted jobs are cheaper than over-fetching. Providers known to
	// silently ignore the filter get the over-fetch path instead.
	TrustRatingFilter bool
}

// DefaultFetchConfig returns the standard sample: 10 negatives for defect
// detection plus 5 positives for wish patterns.
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		Domain:            "com",
		TargetNegative:    10,
		TargetPositive:    5,
		MaxReviews:        15,
		PollInterval:      5 * time.Second,
		MaxWait:           120 * time.Second,
		TrustRatingFilter: true,
	}
}

// Fetcher assembles a balanced review sample for one product from an
// asynchronous source.
type Fetcher struct {
	source Source
	cfg    FetchConfig
}

// NewFetcher creates a fetcher. Zero config fields fall back to defaults.
func NewFetcher(source Source, cfg FetchConfig) *Fetcher {
	def := DefaultFetchConfig()
	if cfg.Domain == "" {
		cfg.Domain = def.Domain
	}
	if cfg.TargetNegative <= 0 {
		cfg.TargetNegative = def.TargetNegative
	}
	if cfg.TargetPositive <= 0 {
		cfg.TargetPositive = def.TargetPositive
	}
	if cfg.MaxReviews <= 0 {
		cfg.MaxReviews = def.MaxReviews
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	return &Fetcher{source: source, cfg: cfg}
}

// FetchProductReviews fetches a controlled negative/positive mix for the
// ASIN. With a trusted rating filter it submits one critical and one positive
// job; otherwise it over-fetches recent reviews and partitions locally.
func (f *Fetcher) FetchProductReviews(ctx context.Context, asin string) ([]Review, error) {
	var mix []Review
	var err error
	if f.cfg.TrustRatingFilter {
		mix, err = f.fetchFiltered(ctx, asin)
	} else {
		mix, err = f.fetchPartitioned(ctx, asin)
	}
	if err != nil {
		return nil, err
	}

	negatives := 0
	for _, r := range mix {
		if r.Rating <= negativeRating {
			negatives++
		}
	}
	log.Info().
		Str("asin", asin).
		Int("reviews", len(mix)).
		Int("negative", negatives).
		Msg("review fetch complete")
	return mix, nil
}

// fetchFiltered submits two jobs with server-side star filters and merges the
// results, negatives first.
func (f *Fetcher) fetchFiltered(ctx context.Context, asin string) ([]Review, error) {
	criticalJob, err := f.source.Submit(ctx, JobRequest{
		ASIN:   asin,
		Domain: f.cfg.Domain,
		Limit:  f.cfg.TargetNegative,
		Filter: FilterCritical,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit critical review job for %s: %w", asin, err)
	}
	positiveJob, err := f.source.Submit(ctx, JobRequest{
		ASIN:   asin,
		Domain: f.cfg.Domain,
		Limit:  f.cfg.TargetPositive,
		Filter: FilterPositive,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit positive review job for %s: %w", asin, err)
	}

	negatives, err := f.await(ctx, criticalJob)
	if err != nil {
		return nil, err
	}
	positives, err := f.await(ctx, positiveJob)
	if err != nil {
		return nil, err
	}

	mix := make([]Review, 0, f.cfg.MaxReviews)
	seen := make(map[string]bool)
	mix = appendUnique(mix, seen, negatives, f.cfg.TargetNegative, f.cfg.MaxReviews)
	mix = appendUnique(mix, seen, positives, f.cfg.TargetPositive, f.cfg.MaxReviews)
	return mix, nil
}

// fetchPartitioned over-fetches recent reviews in a single unfiltered job and
// splits the star bands locally: negatives up to the target, then positives
// to fill the balance.
func (f *Fetcher) fetchPartitioned(ctx context.Context, asin string) ([]Review, error) {
	required := f.cfg.TargetNegative + f.cfg.TargetPositive
	limit := 4 * required
	if limit < 50 {
		limit = 50
	}

	jobID, err := f.source.Submit(ctx, JobRequest{
		ASIN:   asin,
		Domain: f.cfg.Domain,
		Limit:  limit,
		Filter: FilterAll,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit review job for %s: %w", asin, err)
	}

	fetched, err := f.await(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var negatives, positives []Review
	for _, r := range fetched {
		if r.Rating <= negativeRating {
			negatives = append(negatives, r)
		} else {
			positives = append(positives, r)
		}
	}

	mix := make([]Review, 0, f.cfg.MaxReviews)
	seen := make(map[string]bool)
	mix = appendUnique(mix, seen, negatives, f.cfg.TargetNegative, f.cfg.MaxReviews)
	mix = appendUnique(mix, seen, positives, len(positives), f.cfg.MaxReviews)
	return mix, nil
}

// await polls the job until terminal, bounded by MaxWait.
func (f *Fetcher) await(ctx context.Context, jobID string) ([]Review, error) {
	deadline := time.Now().Add(f.cfg.MaxWait)
	for {
		status, fetched, err := f.source.Poll(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("failed to poll review job %s: %w", jobID, err)
		}
		switch status {
		case JobSucceeded:
			return fetched, nil
		case JobFailed:
			return nil, fmt.Errorf("%w: job %s", ErrJobFailed, jobID)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: job %s after %s", ErrJobTimeout, jobID, f.cfg.MaxWait)
		}
		timer := time.NewTimer(f.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// appendUnique copies up to take reviews into dst, skipping duplicate IDs and
// respecting the overall cap.
func appendUnique(dst []Review, seen map[string]bool, src []Review, take, limit int) []Review {
	for _, r := range src {
		if take <= 0 || len(dst) >= limit {
			break
		}
		if seen[r.ReviewID] {
			continue
		}
		seen[r.ReviewID] = true
		dst = append(dst, r)
		take--
	}
	return dst
}
