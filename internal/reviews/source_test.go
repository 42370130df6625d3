package reviews

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jobScript drives one fake job: stay pending for pendingPolls, then resolve.
type jobScript struct {
	pendingPolls int
	status       JobStatus
	reviews      []Review
	polled       int
}

// fakeSource hands out job IDs in submit order and replays one script per job.
type fakeSource struct {
	submits   []JobRequest
	scripts   []*jobScript
	submitErr error
}

func (f *fakeSource) Submit(_ context.Context, req JobRequest) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	idx := len(f.submits)
	f.submits = append(f.submits, req)
	if idx >= len(f.scripts) {
		return "", errors.New("unscripted job submit")
	}
	return fmt.Sprintf("job-%d", idx+1), nil
}

func (f *fakeSource) Poll(_ context.Context, jobID string) (JobStatus, []Review, error) {
	var idx int
	if _, err := fmt.Sscanf(jobID, "job-%d", &idx); err != nil || idx < 1 || idx > len(f.scripts) {
		return JobFailed, nil, fmt.Errorf("unknown job %s", jobID)
	}
	script := f.scripts[idx-1]
	script.polled++
	if script.pendingPolls > 0 {
		script.pendingPolls--
		return JobPending, nil, nil
	}
	return script.status, script.reviews, nil
}

func fastFetchConfig() FetchConfig {
	cfg := DefaultFetchConfig()
	cfg.PollInterval = time.Millisecond
	cfg.MaxWait = time.Second
	return cfg
}

func makeReviews(prefix string, n int, rating float64) []Review {
	out := make([]Review, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Review{
			ReviewID: fmt.Sprintf("%s-%d", prefix, i+1),
			Body:     "review body",
			Rating:   rating,
		})
	}
	return out
}

func TestFetchFilteredSubmitsTwoTargetedJobs(t *testing.T) {
	src := &fakeSource{scripts: []*jobScript{
		{status: JobSucceeded, reviews: makeReviews("neg", 4, 1)},
		{status: JobSucceeded, reviews: makeReviews("pos", 3, 5)},
	}}

	cfg := fastFetchConfig()
	cfg.TargetNegative = 3
	cfg.TargetPositive = 2
	cfg.MaxReviews = 5
	cfg.Domain = "fr"
	f := NewFetcher(src, cfg)

	mix, err := f.FetchProductReviews(context.Background(), "B0MOUNT0001")
	require.NoError(t, err)

	require.Len(t, src.submits, 2)
	assert.Equal(t, FilterCritical, src.submits[0].Filter)
	assert.Equal(t, 3, src.submits[0].Limit)
	assert.Equal(t, "fr", src.submits[0].Domain)
	assert.Equal(t, FilterPositive, src.submits[1].Filter)
	assert.Equal(t, 2, src.submits[1].Limit)

	// Negatives first, each band trimmed to its target.
	require.Len(t, mix, 5)
	for _, r := range mix[:3] {
		assert.LessOrEqual(t, r.Rating, 3.0)
	}
	for _, r := range mix[3:] {
		assert.GreaterOrEqual(t, r.Rating, 4.0)
	}
}

func TestFetchFilteredDeduplicatesAcrossJobs(t *testing.T) {
	positives := makeReviews("pos", 2, 5)
	positives = append(positives, Review{ReviewID: "neg-1", Body: "dup", Rating: 5})

	src := &fakeSource{scripts: []*jobScript{
		{status: JobSucceeded, reviews: makeReviews("neg", 2, 2)},
		{status: JobSucceeded, reviews: positives},
	}}

	cfg := fastFetchConfig()
	cfg.TargetNegative = 5
	cfg.TargetPositive = 5
	cfg.MaxReviews = 10
	f := NewFetcher(src, cfg)

	mix, err := f.FetchProductReviews(context.Background(), "B0MOUNT0001")
	require.NoError(t, err)
	require.Len(t, mix, 4)

	seen := make(map[string]bool)
	for _, r := range mix {
		assert.False(t, seen[r.ReviewID], "duplicate %s", r.ReviewID)
		seen[r.ReviewID] = true
	}
}

func TestFetchPartitionedOverFetchesAndSplits(t *testing.T) {
	// 8 negatives among 40 recent reviews: all 8 kept, positives fill the
	// balance up to the cap.
	fetched := append(makeReviews("neg", 8, 2), makeReviews("pos", 32, 5)...)
	src := &fakeSource{scripts: []*jobScript{
		{status: JobSucceeded, reviews: fetched},
	}}

	cfg := fastFetchConfig()
	cfg.TrustRatingFilter = false
	f := NewFetcher(src, cfg)

	mix, err := f.FetchProductReviews(context.Background(), "B0MOUNT0001")
	require.NoError(t, err)

	require.Len(t, src.submits, 1)
	assert.Equal(t, FilterAll, src.submits[0].Filter)
	// 4x the 15-review target, floored at 50.
	assert.Equal(t, 60, src.submits[0].Limit)

	require.Len(t, mix, 15)
	negatives := 0
	for _, r := range mix {
		if r.Rating <= 3 {
			negatives++
		}
	}
	assert.Equal(t, 8, negatives)
}

func TestFetchPartitionedMinimumOverFetch(t *testing.T) {
	src := &fakeSource{scripts: []*jobScript{
		{status: JobSucceeded, reviews: makeReviews("neg", 3, 1)},
	}}

	cfg := fastFetchConfig()
	cfg.TrustRatingFilter = false
	cfg.TargetNegative = 2
	cfg.TargetPositive = 1
	cfg.MaxReviews = 3
	f := NewFetcher(src, cfg)

	_, err := f.FetchProductReviews(context.Background(), "B0MOUNT0001")
	require.NoError(t, err)
	require.Len(t, src.submits, 1)
	assert.Equal(t, 50, src.submits[0].Limit, "small targets still over-fetch 50")
}

func TestFetchPollsUntilTerminal(t *testing.T) {
	script := &jobScript{pendingPolls: 3, status: JobSucceeded, reviews: makeReviews("neg", 2, 1)}
	src := &fakeSource{scripts: []*jobScript{script}}

	cfg := fastFetchConfig()
	cfg.TrustRatingFilter = false
	f := NewFetcher(src, cfg)

	mix, err := f.FetchProductReviews(context.Background(), "B0MOUNT0001")
	require.NoError(t, err)
	assert.Len(t, mix, 2)
	assert.Equal(t, 4, script.polled)
}

func TestFetchJobFailure(t *testing.T) {
	src := &fakeSource{scripts: []*jobScript{
		{status: JobFailed},
	}}

	cfg := fastFetchConfig()
	cfg.TrustRatingFilter = false
	f := NewFetcher(src, cfg)

	_, err := f.FetchProductReviews(context.Background(), "B0MOUNT0001")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobFailed)
}

func TestFetchTimeout(t *testing.T) {
	src := &fakeSource{scripts: []*jobScript{
		{pendingPolls: 1 << 20, status: JobSucceeded},
	}}

	cfg := fastFetchConfig()
	cfg.TrustRatingFilter = false
	cfg.MaxWait = 10 * time.Millisecond
	f := NewFetcher(src, cfg)

	_, err := f.FetchProductReviews(context.Background(), "B0MOUNT0001")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobTimeout)
}

func TestFetchContextCancellation(t *testing.T) {
	src := &fakeSource{scripts: []*jobScript{
		{pendingPolls: 1 << 20, status: JobSucceeded},
	}}

	cfg := fastFetchConfig()
	cfg.TrustRatingFilter = false
	cfg.PollInterval = time.Second
	f := NewFetcher(src, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.FetchProductReviews(ctx, "B0MOUNT0001")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFetcherFillsDefaults(t *testing.T) {
	f := NewFetcher(&fakeSource{}, FetchConfig{})

	def := DefaultFetchConfig()
	assert.Equal(t, def.Domain, f.cfg.Domain)
	assert.Equal(t, def.TargetNegative, f.cfg.TargetNegative)
	assert.Equal(t, def.TargetPositive, f.cfg.TargetPositive)
	assert.Equal(t, def.MaxReviews, f.cfg.MaxReviews)
	assert.Equal(t, def.PollInterval, f.cfg.PollInterval)
	assert.Equal(t, def.MaxWait, f.cfg.MaxWait)
}
