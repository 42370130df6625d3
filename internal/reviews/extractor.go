// Package reviews extracts deterministic defect and feature-request signals
// from review text. No model calls: keyword and regex matching only, so a
// given review set always yields the same profile.
package reviews

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	maxQuotes      = 3
	quoteMaxLen    = 300
	minWishLen     = 5
	maxWishLen     = 100
	minWishCount   = 2
	negativeRating = 3

	// similarityThreshold is the minimum ratio to merge two normalized
	// wish keys into one group.
	similarityThreshold = 0.6

	// minSharedTokens guards the fuzzy match: unrelated wishes can score a
	// high character-level ratio without sharing a single word.
	minSharedTokens = 1
)

// Review is one customer review as stored in the catalog.
type Review struct {
	ReviewID     string    `json:"review_id"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	Rating       float64   `json:"rating"`
	HelpfulVotes int       `json:"helpful_votes"`
	ReviewDate   time.Time `json:"review_date"`
}

// DefectSignal is one defect type found across the negative reviews.
type DefectSignal struct {
	DefectType             string   `json:"defect_type"`
	Frequency              int      `json:"frequency"`
	SeverityScore          float64  `json:"severity_score"`
	ExampleQuotes          []string `json:"example_quotes"`
	TotalReviewsScanned    int      `json:"total_reviews_scanned"`
	NegativeReviewsScanned int      `json:"negative_reviews_scanned"`
}

// FrequencyRate is the defect frequency as a share of negative reviews.
func (d DefectSignal) FrequencyRate() float64 {
	if d.NegativeReviewsScanned == 0 {
		return 0
	}
	return float64(d.Frequency) / float64(d.NegativeReviewsScanned)
}

// FeatureRequest is a missing feature detected from wish phrasing.
type FeatureRequest struct {
	Feature      string   `json:"feature"`
	Mentions     int      `json:"mentions"`
	Confidence   float64  `json:"confidence"`
	SourceQuotes []string `json:"source_quotes"`
	HelpfulVotes int      `json:"helpful_votes"`
	WishStrength float64  `json:"wish_strength"`
}

// Extractor runs the keyword and pattern extraction.
type Extractor struct {
	lexicon map[string]DefectEntry
}

// NewExtractor creates an extractor with the default niche lexicon.
func NewExtractor() *Extractor {
	return &Extractor{lexicon: DefaultLexicon}
}

// NewExtractorWithLexicon creates an extractor with a custom lexicon.
func NewExtractorWithLexicon(lexicon map[string]DefectEntry) *Extractor {
	return &Extractor{lexicon: lexicon}
}

// ExtractDefects scans negative reviews (rating <= 3 with a body) for defect
// keywords and returns signals sorted by severity descending.
func (e *Extractor) ExtractDefects(reviews []Review) []DefectSignal {
	var negative []Review
	for _, r := range reviews {
		if r.Rating <= negativeRating && r.Body != "" {
			negative = append(negative, r)
		}
	}
	if len(negative) == 0 {
		return nil
	}

	type hit struct {
		count  int
		quotes []string
	}
	hits := make(map[string]*hit)

	for _, r := range negative {
		text := strings.ToLower(r.Body)
		for defectType, entry := range e.lexicon {
			if !containsAny(text, entry.Keywords) {
				continue
			}
			h := hits[defectType]
			if h == nil {
				h = &hit{}
				hits[defectType] = h
			}
			h.count++
			if len(h.quotes) < maxQuotes {
				h.quotes = append(h.quotes, truncate(r.Body, quoteMaxLen))
			}
		}
	}

	signals := make([]DefectSignal, 0, len(hits))
	for defectType, h := range hits {
		freqRate := float64(h.count) / float64(len(negative))
		// A defect mentioned by half the negative reviews carries its
		// full lexicon weight; less frequent ones scale down linearly.
		severity := round2(e.lexicon[defectType].Weight * math.Min(1.0, freqRate*2))

		signals = append(signals, DefectSignal{
			DefectType:             defectType,
			Frequency:              h.count,
			SeverityScore:          math.Min(1.0, severity),
			ExampleQuotes:          h.quotes,
			TotalReviewsScanned:    len(reviews),
			NegativeReviewsScanned: len(negative),
		})
	}

	sort.Slice(signals, func(i, j int) bool {
		if signals[i].SeverityScore != signals[j].SeverityScore {
			return signals[i].SeverityScore > signals[j].SeverityScore
		}
		return signals[i].DefectType < signals[j].DefectType
	})
	return signals
}

type wishHit struct {
	count        int
	quotes       []string
	helpfulVotes int
}

// ExtractWishes finds feature requests via wish patterns, fuzzy-groups
// similar phrasings, and returns requests with 2+ mentions sorted by
// wish strength descending.
func (e *Extractor) ExtractWishes(reviews []Review) []FeatureRequest {
	hits := make(map[string]*wishHit)
	var order []string

	for _, r := range reviews {
		if r.Body == "" {
			continue
		}
		for _, pattern := range wishPatterns {
			for _, m := range pattern.FindAllStringSubmatch(r.Body, -1) {
				feature := strings.TrimRight(strings.TrimSpace(m[1]), ".,!?")
				if len(feature) < minWishLen || len(feature) > maxWishLen {
					continue
				}
				key := strings.ToLower(strings.TrimSpace(feature))
				h := hits[key]
				if h == nil {
					h = &wishHit{}
					hits[key] = h
					order = append(order, key)
				}
				h.count++
				h.helpfulVotes += r.HelpfulVotes
				if len(h.quotes) < maxQuotes {
					h.quotes = append(h.quotes, truncate(r.Body, quoteMaxLen))
				}
			}
		}
	}

	merged, mergedOrder := groupSimilarWishes(hits, order)

	requests := make([]FeatureRequest, 0, len(merged))
	total := len(reviews)
	for _, feature := range mergedOrder {
		h := merged[feature]
		if h.count < minWishCount {
			continue
		}
		confidence := math.Min(1.0, float64(h.count)/math.Max(1, float64(total))*10)
		requests = append(requests, FeatureRequest{
			Feature:      feature,
			Mentions:     h.count,
			Confidence:   round2(confidence),
			SourceQuotes: h.quotes,
			HelpfulVotes: h.helpfulVotes,
			WishStrength: round2(float64(h.count) + math.Log1p(float64(h.helpfulVotes))),
		})
	}

	sort.Slice(requests, func(i, j int) bool {
		if requests[i].WishStrength != requests[j].WishStrength {
			return requests[i].WishStrength > requests[j].WishStrength
		}
		return requests[i].Feature < requests[j].Feature
	})
	return requests
}

// groupSimilarWishes merges wish keys whose normalized forms are similar.
// Quadratic, but the distinct key count per product is small.
func groupSimilarWishes(hits map[string]*wishHit, order []string) (map[string]*wishHit, []string) {
	normToOriginals := make(map[string][]string)
	var normOrder []string
	for _, raw := range order {
		norm := normalizeWishKey(raw)
		if norm == "" {
			continue
		}
		if _, seen := normToOriginals[norm]; !seen {
			normOrder = append(normOrder, norm)
		}
		normToOriginals[norm] = append(normToOriginals[norm], raw)
	}

	used := make(map[string]bool)
	var groups [][]string
	for i, k1 := range normOrder {
		if used[k1] {
			continue
		}
		group := []string{k1}
		used[k1] = true
		tokens1 := tokenSet(k1)
		for _, k2 := range normOrder[i+1:] {
			if used[k2] {
				continue
			}
			if sharedTokens(tokens1, tokenSet(k2)) < minSharedTokens {
				continue
			}
			if similarityRatio(k1, k2) >= similarityThreshold {
				group = append(group, k2)
				used[k2] = true
			}
		}
		groups = append(groups, group)
	}

	merged := make(map[string]*wishHit)
	var mergedOrder []string
	for _, group := range groups {
		var originals []string
		for _, norm := range group {
			originals = append(originals, normToOriginals[norm]...)
		}

		total := &wishHit{}
		for _, orig := range originals {
			h := hits[orig]
			total.count += h.count
			total.helpfulVotes += h.helpfulVotes
			total.quotes = append(total.quotes, h.quotes...)
		}
		if len(total.quotes) > maxQuotes {
			total.quotes = total.quotes[:maxQuotes]
		}

		// Canonical phrasing: most frequent, then most concise after
		// stopword removal, then shortest raw form. Verbose captures drag
		// trailing clauses along, and those make poor feature keys.
		canonical := originals[0]
		for _, orig := range originals[1:] {
			if betterCanonical(hits, orig, canonical) {
				canonical = orig
			}
		}

		merged[canonical] = total
		mergedOrder = append(mergedOrder, canonical)
	}
	return merged, mergedOrder
}

func betterCanonical(hits map[string]*wishHit, a, b string) bool {
	if hits[a].count != hits[b].count {
		return hits[a].count > hits[b].count
	}
	na, nb := len(normalizeWishKey(a)), len(normalizeWishKey(b))
	if na != nb {
		return na < nb
	}
	return len(a) < len(b)
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9\s]`)

// normalizeWishKey lowercases, strips punctuation, and removes stopwords so
// different phrasings of the same wish collapse to one key.
func normalizeWishKey(text string) string {
	text = nonAlnum.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), "")
	var kept []string
	for _, w := range strings.Fields(text) {
		if _, stop := wishStopwords[w]; stop || len(w) <= 1 {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}

func sharedTokens(a, b map[string]struct{}) int {
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}

// similarityRatio is 2M/T where M counts characters in matching blocks and T
// is the combined length, the classic sequence-matching ratio.
func similarityRatio(a, b string) float64 {
	if len(a)+len(b) == 0 {
		return 0
	}
	matches := matchingChars(a, b)
	return 2 * float64(matches) / float64(len(a)+len(b))
}

// matchingChars recursively finds the longest common substring and sums the
// matches on either side of it.
func matchingChars(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	ai, bi, size := longestCommonSubstring(a, b)
	if size == 0 {
		return 0
	}
	return size +
		matchingChars(a[:ai], b[:bi]) +
		matchingChars(a[ai+size:], b[bi+size:])
}

func longestCommonSubstring(a, b string) (ai, bi, size int) {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > size {
					size = curr[j]
					ai = i - size
					bi = j - size
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return ai, bi, size
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
