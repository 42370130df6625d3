package reviews

import (
	"fmt"
	"math"
	"strings"
)

// ImprovementProfile is the aggregated review intelligence for one product.
type ImprovementProfile struct {
	ASIN                    string           `json:"asin"`
	TopDefects              []DefectSignal   `json:"top_defects"`
	MissingFeatures         []FeatureRequest `json:"missing_features"`
	DominantPain            string           `json:"dominant_pain,omitempty"`
	ImprovementScore        float64          `json:"improvement_score"`
	ReviewsAnalyzed         int              `json:"reviews_analyzed"`
	NegativeReviewsAnalyzed int              `json:"negative_reviews_analyzed"`
	ReviewsReady            bool             `json:"reviews_ready"`
}

// HasActionableInsights reports whether any defect clears severity 0.3.
func (p ImprovementProfile) HasActionableInsights() bool {
	for _, d := range p.TopDefects {
		if d.SeverityScore > 0.3 {
			return true
		}
	}
	return false
}

// ThesisFragment summarizes the profile for an opportunity thesis.
func (p ImprovementProfile) ThesisFragment() string {
	if len(p.TopDefects) == 0 {
		return ""
	}

	var parts []string
	top := p.TopDefects[0]
	parts = append(parts, fmt.Sprintf("%.0f%% of negative reviews mention %s",
		top.FrequencyRate()*100, top.DefectType))

	if len(p.MissingFeatures) > 0 {
		best := p.MissingFeatures[0]
		parts = append(parts, fmt.Sprintf("requested feature: %q (%d mentions)",
			best.Feature, best.Mentions))
	}

	if p.ImprovementScore > 0.6 {
		parts = append(parts, "defect correctable at OEM stage")
	} else if p.ImprovementScore > 0.3 {
		parts = append(parts, "product improvement possible")
	}

	return strings.Join(parts, " | ")
}

// Aggregator folds extracted signals into per-product improvement profiles.
// The improvement score acts as a ranking bonus downstream; it never feeds
// back into the component scores.
type Aggregator struct{}

// NewAggregator creates an aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// topDefectWeights bias the severity average toward the leading defects.
var topDefectWeights = []float64{3, 2, 1.5, 1, 1}

// BuildProfile aggregates defect and wish signals into a profile.
func (a *Aggregator) BuildProfile(asin string, defects []DefectSignal, wishes []FeatureRequest, reviewsAnalyzed, negativeAnalyzed int) ImprovementProfile {
	profile := ImprovementProfile{
		ASIN:                    asin,
		ReviewsAnalyzed:         reviewsAnalyzed,
		NegativeReviewsAnalyzed: negativeAnalyzed,
		ReviewsReady:            reviewsAnalyzed > 0,
	}
	if len(defects) == 0 && len(wishes) == 0 {
		return profile
	}

	if len(defects) > 5 {
		defects = defects[:5]
	}
	if len(wishes) > 5 {
		wishes = wishes[:5]
	}
	profile.TopDefects = defects
	profile.MissingFeatures = wishes
	if len(defects) > 0 {
		profile.DominantPain = defects[0].DefectType
	}

	defectScore := 0.0
	if len(defects) > 0 {
		weightSum := 0.0
		weightedSum := 0.0
		for i, d := range defects {
			w := topDefectWeights[i]
			weightedSum += d.SeverityScore * w
			weightSum += w
		}
		weightedAvg := weightedSum / weightSum

		// Coverage: share of negative reviews carrying at least one of the
		// top defects. Capped because one review can hit several types.
		coverage := 0.0
		if negativeAnalyzed > 0 {
			mentions := 0
			for _, d := range defects {
				mentions += d.Frequency
			}
			coverage = math.Min(1.0, float64(mentions)/float64(negativeAnalyzed))
		}

		defectScore = weightedAvg * (0.5 + 0.5*coverage)
	}

	wishBonus := 0.0
	for _, w := range wishes {
		if w.Mentions >= 3 {
			wishBonus += 0.1
		}
	}
	wishBonus = math.Min(0.2, wishBonus)

	profile.ImprovementScore = round3(math.Min(1.0, defectScore+wishBonus))
	return profile
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
