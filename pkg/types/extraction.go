package types

// ValidationLevel is the discrete confidence tier recording how an extracted
// entity was corroborated. Levels are ordered: a later stage never lowers an
// entity's level.
type ValidationLevel int

const (
	Unvalidated ValidationLevel = iota
	TemplateConfirmed
	LLMConfirmed
	GraphConfirmed
	CrossValidated
)

// String returns the wire label for the level.
func (v ValidationLevel) String() string {
	switch v {
	case TemplateConfirmed:
		return "template_confirmed"
	case LLMConfirmed:
		return "llm_confirmed"
	case GraphConfirmed:
		return "graph_confirmed"
	case CrossValidated:
		return "cross_validated"
	default:
		return "unvalidated"
	}
}

// Score maps the level onto the numeric component used by quality scoring.
func (v ValidationLevel) Score() float64 {
	switch v {
	case TemplateConfirmed:
		return 0.4
	case LLMConfirmed:
		return 0.6
	case GraphConfirmed:
		return 0.8
	case CrossValidated:
		return 1.0
	default:
		return 0.1
	}
}

// ExtractedEntity is an entity candidate flowing through the extraction
// pipeline, carrying per-stage provenance on top of the entity itself.
type ExtractedEntity struct {
	Entity

	ValidationLevel   ValidationLevel `json:"validation_level"`
	VerificationCount int             `json:"verification_count"`
	QualityScore      float64         `json:"quality_score"`
	Context           string          `json:"context,omitempty"`
	Reasoning         string          `json:"reasoning,omitempty"`
}

// Confirm raises the validation level if the new level is higher.
func (e *ExtractedEntity) Confirm(level ValidationLevel) {
	if level > e.ValidationLevel {
		e.ValidationLevel = level
	}
	e.VerificationCount++
}

// ExtractionResult is the consensus output of the extraction pipeline.
type ExtractionResult struct {
	Entities  []*ExtractedEntity `json:"entities"`
	Relations []*Relation        `json:"relations"`
	Facts     []*Fact            `json:"facts"`

	OverallConfidence float64 `json:"overall_confidence"`
	PrecisionEstimate float64 `json:"precision_estimate"`
	RecallEstimate    float64 `json:"recall_estimate"`
	F1Estimate        float64 `json:"f1_estimate"`

	StagesCompleted []string `json:"stages_completed"`
	Warnings        []string `json:"warnings,omitempty"`
}

// EmptyExtractionResult returns the zero-entity result used for empty input
// and for total pipeline degradation.
func EmptyExtractionResult() *ExtractionResult {
	return &ExtractionResult{
		Entities:  []*ExtractedEntity{},
		Relations: []*Relation{},
		Facts:     []*Fact{},
	}
}
