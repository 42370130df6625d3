package reviews

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildProfileEmpty(t *testing.T) {
	a := NewAggregator()

	profile := a.BuildProfile("B0EMPTY0001", nil, nil, 0, 0)
	assert.Zero(t, profile.ImprovementScore)
	assert.False(t, profile.ReviewsReady)
	assert.Empty(t, profile.DominantPain)

	// Reviews existed but carried no signals: ready, score still zero.
	profile = a.BuildProfile("B0EMPTY0001", nil, nil, 40, 6)
	assert.Zero(t, profile.ImprovementScore)
	assert.True(t, profile.ReviewsReady)
}

func TestBuildProfileScoreFormula(t *testing.T) {
	a := NewAggregator()

	defects := []DefectSignal{
		{DefectType: "mechanical_failure", Frequency: 2, SeverityScore: 0.9},
		{DefectType: "material_quality", Frequency: 1, SeverityScore: 0.5},
	}
	wishes := []FeatureRequest{
		{Feature: "wireless charging", Mentions: 3},
		{Feature: "longer arm", Mentions: 2},
	}

	profile := a.BuildProfile("B0FORMULA01", defects, wishes, 20, 4)

	// weighted avg (0.9*3 + 0.5*2)/5 = 0.74, coverage 3/4 = 0.75,
	// defect score 0.74*0.875 = 0.6475, wish bonus 0.1.
	assert.InDelta(t, 0.748, profile.ImprovementScore, 0.001)
	assert.Equal(t, "mechanical_failure", profile.DominantPain)
	assert.True(t, profile.ReviewsReady)
	assert.True(t, profile.HasActionableInsights())
}

func TestBuildProfileCapsAtOne(t *testing.T) {
	a := NewAggregator()

	var defects []DefectSignal
	for i := 0; i < 7; i++ {
		defects = append(defects, DefectSignal{
			DefectType:    "mechanical_failure",
			Frequency:     10,
			SeverityScore: 1.0,
		})
	}
	wishes := []FeatureRequest{
		{Feature: "a", Mentions: 5},
		{Feature: "b", Mentions: 5},
		{Feature: "c", Mentions: 5},
	}

	profile := a.BuildProfile("B0CAPPED001", defects, wishes, 100, 10)

	assert.Len(t, profile.TopDefects, 5)
	assert.LessOrEqual(t, profile.ImprovementScore, 1.0)
}

func TestWishBonusCappedAtPointTwo(t *testing.T) {
	a := NewAggregator()

	wishes := []FeatureRequest{
		{Feature: "a", Mentions: 4},
		{Feature: "b", Mentions: 4},
		{Feature: "c", Mentions: 4},
		{Feature: "d", Mentions: 1},
	}

	// No defects: the score is the wish bonus alone.
	profile := a.BuildProfile("B0WISHCAP01", nil, wishes, 30, 5)
	assert.InDelta(t, 0.2, profile.ImprovementScore, 0.001)
}

func TestThesisFragment(t *testing.T) {
	a := NewAggregator()

	defects := []DefectSignal{
		{DefectType: "poor_grip", Frequency: 5, SeverityScore: 0.85, NegativeReviewsScanned: 10},
	}
	wishes := []FeatureRequest{
		{Feature: "magsafe support", Mentions: 4},
	}

	profile := a.BuildProfile("B0THESIS001", defects, wishes, 50, 10)
	frag := profile.ThesisFragment()

	require.NotEmpty(t, frag)
	assert.Contains(t, frag, "poor_grip")
	assert.Contains(t, frag, "magsafe support")
}
