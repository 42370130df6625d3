package reviews

import "regexp"

// DefectEntry couples the match keywords for one defect type with its
// severity weight (how much the defect matters for a purchase decision).
type DefectEntry struct {
	Keywords []string
	Weight   float64
}

// DefaultLexicon is the car phone mount defect lexicon. Keywords are matched
// case-insensitively as substrings of the review body.
var DefaultLexicon = map[string]DefectEntry{
	"mechanical_failure": {
		Keywords: []string{
			"broke", "broken", "snapped", "cracked", "fell apart",
			"stopped working", "collapsed", "shattered", "split",
		},
		Weight: 0.9,
	},
	"poor_grip": {
		Keywords: []string{
			"slips", "slides", "falls off", "doesn't hold", "loose",
			"phone fell", "dropped my phone", "can't hold", "keeps falling",
			"doesn't stay", "won't grip", "no grip",
		},
		Weight: 0.85,
	},
	"installation_issue": {
		Keywords: []string{
			"hard to install", "difficult to mount", "instructions",
			"confusing setup", "can't attach", "won't stick",
			"doesn't stick", "suction doesn't hold", "suction cup failed",
			"won't stay on windshield", "won't stay on dash",
		},
		Weight: 0.6,
	},
	"compatibility_issue": {
		Keywords: []string{
			"doesn't fit", "too small", "too big", "case too thick",
			"won't fit my phone", "not compatible", "blocks camera",
			"blocks buttons", "can't charge", "magsafe doesn't work",
			"doesn't work with case", "phone too heavy",
		},
		Weight: 0.7,
	},
	"material_quality": {
		Keywords: []string{
			"cheap plastic", "feels flimsy", "low quality", "thin",
			"feels cheap", "poor quality", "plastic broke",
			"rubber peeled", "paint chipped", "creaks",
		},
		Weight: 0.5,
	},
	"vibration_noise": {
		Keywords: []string{
			"vibrates", "rattles", "shakes", "buzzes", "noisy",
			"wobbles", "jiggles", "unstable on bumps",
		},
		Weight: 0.55,
	},
	"heat_issue": {
		Keywords: []string{
			"overheats", "gets hot", "phone heats up", "too hot",
			"blocks airflow", "heat damage",
		},
		Weight: 0.65,
	},
	"size_fit": {
		Keywords: []string{
			"too bulky", "blocks view", "obstructs", "takes too much space",
			"too large", "sticks out", "in the way",
		},
		Weight: 0.4,
	},
	"durability": {
		Keywords: []string{
			"after a month", "after a week", "few months later",
			"didn't last", "wore out", "degraded", "stopped sticking",
			"adhesive wore off", "suction lost over time",
		},
		Weight: 0.75,
	},
}

// wishPatterns detect "I wish" style feature requests. Group 1 captures the
// requested feature text.
var wishPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)i (?:\w+ )?wish (?:it )?(?:had|was|were|could|would)(.*?)(?:\.|!|$)`),
	regexp.MustCompile(`(?i)would be (?:nice|great|better|awesome) if(.*?)(?:\.|!|$)`),
	regexp.MustCompile(`(?i)should (?:have|come with|include)(.*?)(?:\.|!|$)`),
	regexp.MustCompile(`(?i)needs? (?:a |an |to have )(.*?)(?:\.|!|$)`),
	regexp.MustCompile(`(?i)(?:missing|lacks?) (?:a |an )?(.*?)(?:\.|!|$)`),
	regexp.MustCompile(`(?i)if only (?:it )?(.*?)(?:\.|!|$)`),
}

// wishStopwords are stripped from wish text before fuzzy grouping. The niche
// nouns appear in nearly every wish and would create artificial overlaps.
var wishStopwords = map[string]struct{}{}

func init() {
	english := []string{
		"a", "an", "the", "it", "its", "is", "was", "were", "be", "been",
		"have", "has", "had", "do", "does", "did", "will", "would", "could",
		"should", "can", "may", "might", "shall", "to", "of", "in", "on",
		"for", "with", "at", "by", "from", "that", "this", "these", "those",
		"and", "or", "but", "not", "so", "if", "then", "also", "just",
		"very", "really", "too", "more", "much", "some", "any", "all",
		"my", "your", "their", "our", "i", "me", "you", "we", "they",
		"came", "come", "built", "one", "like",
	}
	niche := []string{
		"phone", "mount", "car", "holder", "dashboard", "windshield",
		"stand", "cradle", "bracket", "device",
	}
	for _, w := range english {
		wishStopwords[w] = struct{}{}
	}
	for _, w := range niche {
		wishStopwords[w] = struct{}{}
	}
}
