package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartacus-io/smartacus/internal/econ"
	"github.com/smartacus-io/smartacus/internal/reviews"
	"github.com/smartacus-io/smartacus/internal/shortlist"
)

type fakeReviewSource struct {
	reviews map[string][]reviews.Review
	err     error
	calls   []string
}

func (f *fakeReviewSource) FetchProductReviews(_ context.Context, asin string) ([]reviews.Review, error) {
	f.calls = append(f.calls, asin)
	if f.err != nil {
		return nil, f.err
	}
	return f.reviews[asin], nil
}

func balancedSample() []reviews.Review {
	return []reviews.Review{
		{ReviewID: "R1", Rating: 1, Body: "The clamp broke after two days on the dashboard"},
		{ReviewID: "R2", Rating: 2, Body: "Arm snapped on the first bump, completely broken"},
		{ReviewID: "R3", Rating: 3, Body: "Rattles on the highway, very annoying"},
		{ReviewID: "R4", Rating: 5, Body: "Great mount. I wish it had wireless charging."},
		{ReviewID: "R5", Rating: 4, Body: "I wish it had wireless charging, otherwise solid."},
	}
}

func TestAnalyzeReviewsRequiresSource(t *testing.T) {
	f := newFixture()

	_, err := f.pipeline.AnalyzeReviews(context.Background(), "B0HOTMOUNT1")
	assert.ErrorIs(t, err, ErrNoReviewSource)
}

func TestAnalyzeReviewsBuildsProfileAndBundle(t *testing.T) {
	f := newFixture()
	reviewsRepo := &fakeReviewsRepo{}
	specsRepo := &fakeSpecsRepo{}
	f.pipeline.repos.Reviews = reviewsRepo
	f.pipeline.repos.Specs = specsRepo

	src := &fakeReviewSource{reviews: map[string][]reviews.Review{
		"B0HOTMOUNT1": balancedSample(),
	}}
	f.pipeline.SetReviewSource(src)

	intel, err := f.pipeline.AnalyzeReviews(context.Background(), "B0HOTMOUNT1")
	require.NoError(t, err)

	assert.Equal(t, "B0HOTMOUNT1", intel.ASIN)
	assert.Equal(t, 5, intel.ReviewsFetched)
	assert.Equal(t, 3, intel.NegativeReviews)
	assert.Equal(t, "mechanical_failure", intel.Profile.DominantPain)
	assert.True(t, intel.Profile.ReviewsReady)
	assert.Greater(t, intel.Profile.ImprovementScore, 0.0)

	// Signals and profile persisted under the ASIN.
	assert.NotEmpty(t, reviewsRepo.defects["B0HOTMOUNT1"])
	require.Len(t, reviewsRepo.wishes["B0HOTMOUNT1"], 1)
	assert.Equal(t, "wireless charging", reviewsRepo.wishes["B0HOTMOUNT1"][0].Feature)
	require.Len(t, reviewsRepo.upserted, 1)
	assert.Equal(t, "B0HOTMOUNT1", reviewsRepo.upserted[0].ASIN)

	// A profile with signals renders and stores the spec bundle.
	require.NotNil(t, intel.Bundle)
	require.Len(t, specsRepo.bundles, 1)
	assert.Equal(t, intel.Bundle.InputsHash, specsRepo.bundles[0].InputsHash)
	assert.Len(t, intel.Bundle.InputsHash, 16)
	assert.NotEmpty(t, intel.Bundle.OEMSpec.RenderedText)
}

func TestAnalyzeReviewsNoSignalsSkipsBundle(t *testing.T) {
	f := newFixture()
	reviewsRepo := &fakeReviewsRepo{}
	specsRepo := &fakeSpecsRepo{}
	f.pipeline.repos.Reviews = reviewsRepo
	f.pipeline.repos.Specs = specsRepo

	src := &fakeReviewSource{reviews: map[string][]reviews.Review{
		"B0QUIETMAT2": {
			{ReviewID: "R1", Rating: 5, Body: "Works perfectly"},
			{ReviewID: "R2", Rating: 4, Body: "Happy with it"},
		},
	}}
	f.pipeline.SetReviewSource(src)

	intel, err := f.pipeline.AnalyzeReviews(context.Background(), "B0QUIETMAT2")
	require.NoError(t, err)

	assert.Nil(t, intel.Bundle)
	assert.Empty(t, specsRepo.bundles)
	// The empty profile is still persisted so scoring sees reviews_ready.
	require.Len(t, reviewsRepo.upserted, 1)
	assert.True(t, reviewsRepo.upserted[0].ReviewsReady)
}

func TestAnalyzeReviewsFetchFailure(t *testing.T) {
	f := newFixture()
	f.pipeline.SetReviewSource(&fakeReviewSource{err: errors.New("actor run failed")})

	_, err := f.pipeline.AnalyzeReviews(context.Background(), "B0HOTMOUNT1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "actor run failed")
}

func TestReviewTargetsMergesShortlistAndViable(t *testing.T) {
	f := newFixture()
	f.opps.latest = &shortlist.Shortlist{Items: []shortlist.Item{
		{Rank: 1, ASIN: "B0HOTMOUNT1"},
		{Rank: 2, ASIN: "B0RUNNERUP2"},
	}}
	f.opps.viable = []econ.Opportunity{
		{ASIN: "B0RUNNERUP2"},
		{ASIN: "B0VIABLE003"},
	}

	targets, err := f.pipeline.ReviewTargets(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"B0HOTMOUNT1", "B0RUNNERUP2", "B0VIABLE003"}, targets)
}

func TestReviewTargetsHonorsLimit(t *testing.T) {
	f := newFixture()
	f.opps.latest = &shortlist.Shortlist{Items: []shortlist.Item{
		{Rank: 1, ASIN: "B0HOTMOUNT1"},
		{Rank: 2, ASIN: "B0RUNNERUP2"},
	}}
	f.opps.viable = []econ.Opportunity{{ASIN: "B0VIABLE003"}}

	targets, err := f.pipeline.ReviewTargets(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"B0HOTMOUNT1"}, targets)
}
