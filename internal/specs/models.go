package specs

import "time"

// BundleVersion labels the bundle layout itself, distinct from the mapping
// data version.
const BundleVersion = "1.8"

// OEMRequirement is a single line item of the OEM specification.
type OEMRequirement struct {
	SourceBloc    string  `json:"source_bloc"` // "A" defect fix, "B" feature add
	SourceType    string  `json:"source_type"`
	Requirement   string  `json:"requirement"`
	MaterialSpec  string  `json:"material_spec,omitempty"`
	Tolerance     string  `json:"tolerance,omitempty"`
	Priority      string  `json:"priority"`
	SeverityScore float64 `json:"severity_score"`
}

// OEMSpec is the full manufacturer-facing product specification.
type OEMSpec struct {
	ASIN                string           `json:"asin"`
	GeneratedAt         time.Time        `json:"generated_at"`
	BlocARequirements   []OEMRequirement `json:"bloc_a_requirements"`
	BlocBRequirements   []OEMRequirement `json:"bloc_b_requirements"`
	GeneralMaterials    []string         `json:"general_materials"`
	AccessoriesIncluded []string         `json:"accessories_included"`
	PackagingNotes      []string         `json:"packaging_notes"`
	RenderedText        string           `json:"rendered_text"`
}

// TotalRequirements counts both blocs.
func (s OEMSpec) TotalRequirements() int {
	return len(s.BlocARequirements) + len(s.BlocBRequirements)
}

// QCTestItem is one inspection procedure on the checklist.
type QCTestItem struct {
	TestCategory  string `json:"test_category"`
	TestName      string `json:"test_name"`
	Method        string `json:"method"`
	PassCriterion string `json:"pass_criterion"`
	SourceDefect  string `json:"source_defect,omitempty"`
	Priority      string `json:"priority"` // MANDATORY or RECOMMENDED
}

// QCChecklist is the inspection plan for a production run.
type QCChecklist struct {
	ASIN         string       `json:"asin"`
	GeneratedAt  time.Time    `json:"generated_at"`
	Tests        []QCTestItem `json:"tests"`
	RenderedText string       `json:"rendered_text"`
}

// MandatoryCount counts tests that block acceptance.
func (c QCChecklist) MandatoryCount() int {
	n := 0
	for _, t := range c.Tests {
		if t.Priority == "MANDATORY" {
			n++
		}
	}
	return n
}

// RFQMessage is the ready-to-send supplier request.
type RFQMessage struct {
	ASIN                   string    `json:"asin"`
	GeneratedAt            time.Time `json:"generated_at"`
	SubjectLine            string    `json:"subject_line"`
	BodyText               string    `json:"body_text"`
	KeyRequirementsSummary []string  `json:"key_requirements_summary"`
}

// Bundle packages the three deliverables for one product.
type Bundle struct {
	ASIN             string      `json:"asin"`
	Version          string      `json:"version"`
	GeneratedAt      time.Time   `json:"generated_at"`
	OEMSpec          OEMSpec     `json:"oem_spec"`
	QCChecklist      QCChecklist `json:"qc_checklist"`
	RFQMessage       RFQMessage  `json:"rfq_message"`
	ImprovementScore float64     `json:"improvement_score"`
	ReviewsAnalyzed  int         `json:"reviews_analyzed"`
	MappingVersion   string      `json:"mapping_version"`
	InputsHash       string      `json:"inputs_hash"`
}
