// Package specs turns review improvement profiles into OEM specifications,
// QC checklists, and supplier RFQ messages. Template lookups only: the same
// profile always yields the same bundle.
package specs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/smartacus-io/smartacus/internal/reviews"
)

// Generator builds spec bundles from improvement profiles.
type Generator struct{}

// NewGenerator creates a spec generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate produces the OEM spec, QC checklist, and RFQ message for one
// profile.
func (g *Generator) Generate(profile reviews.ImprovementProfile) Bundle {
	now := time.Now().UTC()

	oemSpec := g.buildOEMSpec(profile, now)
	checklist := g.buildQCChecklist(profile, now)
	rfq := g.buildRFQMessage(profile, oemSpec, checklist, now)

	return Bundle{
		ASIN:             profile.ASIN,
		Version:          BundleVersion,
		GeneratedAt:      now,
		OEMSpec:          oemSpec,
		QCChecklist:      checklist,
		RFQMessage:       rfq,
		ImprovementScore: profile.ImprovementScore,
		ReviewsAnalyzed:  profile.ReviewsAnalyzed,
		MappingVersion:   MappingVersion,
		InputsHash:       InputsHash(profile),
	}
}

// hashedDefect and hashedFeature define the canonical hash input. Field
// order is alphabetical so the serialized form is stable.
type hashedDefect struct {
	Freq int     `json:"freq"`
	Sev  float64 `json:"sev"`
	Type string  `json:"type"`
}

type hashedFeature struct {
	Feature  string  `json:"feature"`
	Mentions int     `json:"mentions"`
	Strength float64 `json:"strength"`
}

type hashedInputs struct {
	Defects  []hashedDefect  `json:"defects"`
	Features []hashedFeature `json:"features"`
}

// InputsHash fingerprints the profile inputs so a bundle can be traced back
// to the exact signals that produced it.
func InputsHash(profile reviews.ImprovementProfile) string {
	in := hashedInputs{
		Defects:  make([]hashedDefect, 0, len(profile.TopDefects)),
		Features: make([]hashedFeature, 0, len(profile.MissingFeatures)),
	}
	for _, d := range profile.TopDefects {
		in.Defects = append(in.Defects, hashedDefect{
			Freq: d.Frequency,
			Sev:  round4(d.SeverityScore),
			Type: d.DefectType,
		})
	}
	for _, f := range profile.MissingFeatures {
		in.Features = append(in.Features, hashedFeature{
			Feature:  f.Feature,
			Mentions: f.Mentions,
			Strength: round4(f.WishStrength),
		})
	}
	sort.Slice(in.Defects, func(i, j int) bool { return in.Defects[i].Type < in.Defects[j].Type })
	sort.Slice(in.Features, func(i, j int) bool { return in.Features[i].Feature < in.Features[j].Feature })

	raw, _ := json.Marshal(in)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}

func (g *Generator) buildOEMSpec(profile reviews.ImprovementProfile, now time.Time) OEMSpec {
	blocA := buildBlocA(profile.TopDefects)
	blocB := buildBlocB(profile.MissingFeatures)

	accessories := append([]string{}, DefaultAccessories...)
	for _, feat := range profile.MissingFeatures {
		if mapping, ok := matchFeature(feat.Feature); ok && mapping.Accessory != "" {
			accessories = append(accessories, mapping.Accessory)
		}
	}

	spec := OEMSpec{
		ASIN:                profile.ASIN,
		GeneratedAt:         now,
		BlocARequirements:   blocA,
		BlocBRequirements:   blocB,
		GeneralMaterials:    append([]string{}, DefaultGeneralMaterials...),
		AccessoriesIncluded: accessories,
		PackagingNotes:      append([]string{}, DefaultPackagingNotes...),
	}
	spec.RenderedText = renderOEMSpec(spec, profile)
	return spec
}

// buildBlocA expands defects into correction requirements, worst first.
func buildBlocA(defects []reviews.DefectSignal) []OEMRequirement {
	sorted := append([]reviews.DefectSignal{}, defects...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].SeverityScore != sorted[j].SeverityScore {
			return sorted[i].SeverityScore > sorted[j].SeverityScore
		}
		return sorted[i].Frequency > sorted[j].Frequency
	})

	var requirements []OEMRequirement
	for _, defect := range sorted {
		mapping, ok := DefectToSpec[defect.DefectType]
		if !ok {
			continue
		}
		priority := SeverityToPriority(defect.SeverityScore)
		for _, tmpl := range mapping.Requirements {
			requirements = append(requirements, OEMRequirement{
				SourceBloc:    "A",
				SourceType:    defect.DefectType,
				Requirement:   tmpl.Requirement,
				MaterialSpec:  tmpl.MaterialSpec,
				Tolerance:     tmpl.Tolerance,
				Priority:      priority,
				SeverityScore: defect.SeverityScore,
			})
		}
	}
	return requirements
}

// buildBlocB expands matched feature wishes into enhancements, strongest
// demand first.
func buildBlocB(features []reviews.FeatureRequest) []OEMRequirement {
	sorted := append([]reviews.FeatureRequest{}, features...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].WishStrength > sorted[j].WishStrength
	})

	var requirements []OEMRequirement
	for _, feat := range sorted {
		mapping, ok := matchFeature(feat.Feature)
		if !ok {
			continue
		}
		normStrength := math.Min(1.0, feat.WishStrength/10.0)
		priority := "MEDIUM"
		if normStrength > 0.6 {
			priority = "HIGH"
		}
		requirements = append(requirements, OEMRequirement{
			SourceBloc:    "B",
			SourceType:    feat.Feature,
			Requirement:   mapping.Requirement,
			MaterialSpec:  mapping.MaterialSpec,
			Tolerance:     mapping.Tolerance,
			Priority:      priority,
			SeverityScore: normStrength,
		})
	}
	return requirements
}

// matchFeature finds the enhancement mapping whose keyword appears in the
// wish text. Keys are checked in sorted order so ties resolve the same way
// every run.
func matchFeature(featureText string) (FeatureMapping, bool) {
	lower := strings.ToLower(featureText)
	keywords := make([]string, 0, len(FeatureToSpec))
	for kw := range FeatureToSpec {
		keywords = append(keywords, kw)
	}
	sort.Strings(keywords)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return FeatureToSpec[kw], true
		}
	}
	return FeatureMapping{}, false
}

func renderOEMSpec(spec OEMSpec, profile reviews.ImprovementProfile) string {
	var b strings.Builder
	divider := strings.Repeat("=", 60)
	section := strings.Repeat("-", 50)

	fmt.Fprintln(&b, divider)
	fmt.Fprintln(&b, "OEM PRODUCT SPECIFICATION -- CAR PHONE MOUNT")
	fmt.Fprintf(&b, "ASIN: %s\n", spec.ASIN)
	fmt.Fprintf(&b, "Generated: %s\n", spec.GeneratedAt.Format("2006-01-02 15:04 UTC"))
	fmt.Fprintf(&b, "Improvement Score: %.1f%%\n", profile.ImprovementScore*100)
	fmt.Fprintf(&b, "Based on: %d reviews analyzed\n", profile.ReviewsAnalyzed)
	fmt.Fprintln(&b, divider)
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "BLOC A -- DEFECT CORRECTIONS (Priority Order)")
	fmt.Fprintln(&b, section)
	if len(spec.BlocARequirements) > 0 {
		for i, req := range spec.BlocARequirements {
			fmt.Fprintf(&b, "  A%d. [%s] %s\n", i+1, req.Priority, req.Requirement)
			fmt.Fprintf(&b, "       Source: %s (severity: %.2f)\n", req.SourceType, req.SeverityScore)
			if req.MaterialSpec != "" {
				fmt.Fprintf(&b, "       Material: %s\n", req.MaterialSpec)
			}
			if req.Tolerance != "" {
				fmt.Fprintf(&b, "       Tolerance: %s\n", req.Tolerance)
			}
			fmt.Fprintln(&b)
		}
	} else {
		fmt.Fprintln(&b, "  No critical defects identified.")
		fmt.Fprintln(&b)
	}

	fmt.Fprintln(&b, "BLOC B -- FEATURE ENHANCEMENTS (Demand Order)")
	fmt.Fprintln(&b, section)
	if len(spec.BlocBRequirements) > 0 {
		for i, req := range spec.BlocBRequirements {
			fmt.Fprintf(&b, "  B%d. [%s] %s\n", i+1, req.Priority, req.Requirement)
			fmt.Fprintf(&b, "       Feature: %s\n", req.SourceType)
			if req.MaterialSpec != "" {
				fmt.Fprintf(&b, "       Material: %s\n", req.MaterialSpec)
			}
			if req.Tolerance != "" {
				fmt.Fprintf(&b, "       Tolerance: %s\n", req.Tolerance)
			}
			fmt.Fprintln(&b)
		}
	} else {
		fmt.Fprintln(&b, "  No feature enhancements identified.")
		fmt.Fprintln(&b)
	}

	fmt.Fprintln(&b, "GENERAL MATERIALS")
	fmt.Fprintln(&b, section)
	for _, mat := range spec.GeneralMaterials {
		fmt.Fprintf(&b, "  - %s\n", mat)
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "ACCESSORIES INCLUDED")
	fmt.Fprintln(&b, section)
	for _, acc := range spec.AccessoriesIncluded {
		fmt.Fprintf(&b, "  - %s\n", acc)
	}
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "PACKAGING")
	fmt.Fprintln(&b, section)
	for _, note := range spec.PackagingNotes {
		fmt.Fprintf(&b, "  - %s\n", note)
	}

	return b.String()
}

func (g *Generator) buildQCChecklist(profile reviews.ImprovementProfile, now time.Time) QCChecklist {
	var tests []QCTestItem

	for _, defect := range profile.TopDefects {
		mapping, ok := DefectToSpec[defect.DefectType]
		if !ok {
			continue
		}
		priority := "RECOMMENDED"
		if mapping.PriorityBase == "CRITICAL" || mapping.PriorityBase == "HIGH" {
			priority = "MANDATORY"
		}
		for _, tmpl := range mapping.QCTests {
			tests = append(tests, QCTestItem{
				TestCategory:  tmpl.Category,
				TestName:      tmpl.Name,
				Method:        tmpl.Method,
				PassCriterion: tmpl.PassCriterion,
				SourceDefect:  defect.DefectType,
				Priority:      priority,
			})
		}
	}

	for _, feat := range profile.MissingFeatures {
		mapping, ok := matchFeature(feat.Feature)
		if !ok || mapping.QCTest == nil {
			continue
		}
		tests = append(tests, QCTestItem{
			TestCategory:  mapping.QCTest.Category,
			TestName:      mapping.QCTest.Name,
			Method:        mapping.QCTest.Method,
			PassCriterion: mapping.QCTest.PassCriterion,
			Priority:      "RECOMMENDED",
		})
	}

	// Same test can be triggered by several defects; keep the first.
	seen := make(map[string]bool)
	unique := tests[:0]
	for _, t := range tests {
		if seen[t.TestName] {
			continue
		}
		seen[t.TestName] = true
		unique = append(unique, t)
	}

	checklist := QCChecklist{ASIN: profile.ASIN, GeneratedAt: now, Tests: unique}
	checklist.RenderedText = renderQCChecklist(checklist)
	return checklist
}

func renderQCChecklist(checklist QCChecklist) string {
	var b strings.Builder
	divider := strings.Repeat("=", 60)

	fmt.Fprintln(&b, divider)
	fmt.Fprintln(&b, "QC INSPECTION CHECKLIST -- CAR PHONE MOUNT")
	fmt.Fprintf(&b, "ASIN: %s\n", checklist.ASIN)
	fmt.Fprintf(&b, "Generated: %s\n", checklist.GeneratedAt.Format("2006-01-02 15:04 UTC"))
	fmt.Fprintf(&b, "Total tests: %d (%d mandatory)\n", len(checklist.Tests), checklist.MandatoryCount())
	fmt.Fprintln(&b, divider)
	fmt.Fprintln(&b)

	byCategory := make(map[string][]QCTestItem)
	var categoryOrder []string
	for _, t := range checklist.Tests {
		if _, ok := byCategory[t.TestCategory]; !ok {
			categoryOrder = append(categoryOrder, t.TestCategory)
		}
		byCategory[t.TestCategory] = append(byCategory[t.TestCategory], t)
	}

	for _, cat := range categoryOrder {
		label, ok := categoryLabels[cat]
		if !ok {
			label = strings.ToUpper(cat)
		}
		fmt.Fprintf(&b, "[%s]\n", label)
		fmt.Fprintln(&b, strings.Repeat("-", 40))
		for i, t := range byCategory[cat] {
			fmt.Fprintf(&b, "  %d. %s [%s]\n", i+1, t.TestName, t.Priority)
			fmt.Fprintf(&b, "     Method: %s\n", t.Method)
			fmt.Fprintf(&b, "     Pass: %s\n", t.PassCriterion)
			if t.SourceDefect != "" {
				fmt.Fprintf(&b, "     Triggered by: %s\n", t.SourceDefect)
			}
			fmt.Fprintln(&b, "     Result: [ ] PASS  [ ] FAIL  [ ] N/A")
			fmt.Fprintln(&b)
		}
	}

	return b.String()
}

func (g *Generator) buildRFQMessage(profile reviews.ImprovementProfile, spec OEMSpec, checklist QCChecklist, now time.Time) RFQMessage {
	all := append(append([]OEMRequirement{}, spec.BlocARequirements...), spec.BlocBRequirements...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].SeverityScore > all[j].SeverityScore
	})
	if len(all) > 5 {
		all = all[:5]
	}

	summary := make([]string, 0, len(all))
	for _, r := range all {
		summary = append(summary, r.Requirement)
	}

	subject := fmt.Sprintf("RFQ -- Car Phone Mount (Custom OEM) -- %d specs, %d QC tests",
		spec.TotalRequirements(), len(checklist.Tests))

	return RFQMessage{
		ASIN:                   profile.ASIN,
		GeneratedAt:            now,
		SubjectLine:            subject,
		BodyText:               renderRFQBody(spec, checklist, summary),
		KeyRequirementsSummary: summary,
	}
}

func renderRFQBody(spec OEMSpec, checklist QCChecklist, keySummary []string) string {
	var b strings.Builder

	fmt.Fprintln(&b, "Dear Supplier,")
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "We are sourcing a custom Car Phone Mount for the Amazon US market.")
	fmt.Fprintf(&b, "Our product specification includes %d requirements and %d QC test procedures (%d mandatory).\n",
		spec.TotalRequirements(), len(checklist.Tests), checklist.MandatoryCount())
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "KEY REQUIREMENTS:")
	for i, req := range keySummary {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, req)
	}
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "MATERIALS:")
	materials := spec.GeneralMaterials
	if len(materials) > 3 {
		materials = materials[:3]
	}
	for _, mat := range materials {
		fmt.Fprintf(&b, "  - %s\n", mat)
	}
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "QC HIGHLIGHTS:")
	fmt.Fprintf(&b, "  - %d mandatory tests (vibration, thermal, cycles)\n", checklist.MandatoryCount())
	fmt.Fprintf(&b, "  - %d recommended tests\n", len(checklist.Tests)-checklist.MandatoryCount())
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "VOLUME: Initial order 500-1,000 units. Scaling to 3,000-5,000/month if QC passes.")
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Please provide:")
	fmt.Fprintln(&b, "  1. Unit price for MOQ 500 and MOQ 1,000")
	fmt.Fprintln(&b, "  2. Sample lead time and cost")
	fmt.Fprintln(&b, "  3. Production lead time for first order")
	fmt.Fprintln(&b, "  4. Your QC capabilities (in-house testing equipment)")
	fmt.Fprintln(&b, "  5. Certifications: FCC, CE, RoHS (required)")
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Full technical specification and QC checklist attached.")
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, "Best regards")

	return b.String()
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
