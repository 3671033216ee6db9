package extraction

import (
	"github.com/contextmem/contextmem/pkg/config"
	"github.com/contextmem/contextmem/pkg/types"
	"github.com/contextmem/contextmem/pkg/utils"
)

// typeSpecificity scores how informative an entity type is. Specific types
// like person carry more signal than catch-alls like concept or unknown.
var typeSpecificity = map[types.EntityType]float64{
	types.EntityTypePerson:       1.0,
	types.EntityTypeOrganization: 0.9,
	types.EntityTypeLocation:     0.9,
	types.EntityTypeTechnology:   0.9,
	types.EntityTypeProduct:      0.8,
	types.EntityTypeService:      0.8,
	types.EntityTypeEvent:        0.8,
	types.EntityTypeDocument:     0.7,
	types.EntityTypeProcess:      0.7,
	types.EntityTypeSystem:       0.7,
	types.EntityTypeData:         0.6,
	types.EntityTypeConcept:      0.5,
	types.EntityTypeUnknown:      0.2,
}

// qualityScorer computes per-entity quality scores and turn-level quality
// estimates from the configured component weights.
type qualityScorer struct {
	cfg config.PipelineConfig
}

func newQualityScorer(cfg config.PipelineConfig) *qualityScorer {
	return &qualityScorer{cfg: cfg}
}

// Score blends validation level, confidence, name quality, type specificity,
// and verification count into a single quality score in [0,1].
func (q *qualityScorer) Score(e *types.ExtractedEntity) float64 {
	w := q.cfg.Quality

	verification := float64(e.VerificationCount) / 5.0
	if verification > 1 {
		verification = 1
	}

	score := w.ValidationLevel*e.ValidationLevel.Score() +
		w.Confidence*e.Confidence +
		w.NameQuality*utils.NameQuality(e.Name) +
		w.TypeSpecificity*typeSpecificity[e.Type] +
		w.Verification*verification
	return types.ClampConfidence(score)
}

// Estimate fills the quality estimates of a result. Precision is the fraction
// of entities at or above the quality floor; recall compares the yield against
// the count a text of this length should produce; F1 is their harmonic mean.
func (q *qualityScorer) Estimate(result *types.ExtractionResult, wordCount int) {
	if len(result.Entities) == 0 {
		return
	}

	var confidenceSum float64
	highQuality := 0
	for _, e := range result.Entities {
		e.QualityScore = q.Score(e)
		confidenceSum += e.Confidence
		if e.QualityScore >= q.cfg.PrecisionQualityFloor {
			highQuality++
		}
	}

	result.OverallConfidence = confidenceSum / float64(len(result.Entities))
	result.PrecisionEstimate = float64(highQuality) / float64(len(result.Entities))

	wordsPer := q.cfg.WordsPerExpectedEntity
	if wordsPer <= 0 {
		wordsPer = 12
	}
	expected := wordCount / wordsPer
	if expected < 1 {
		expected = 1
	}
	recall := float64(len(result.Entities)) / float64(expected)
	if recall > 1 {
		recall = 1
	}
	result.RecallEstimate = recall

	if result.PrecisionEstimate+result.RecallEstimate > 0 {
		result.F1Estimate = 2 * result.PrecisionEstimate * result.RecallEstimate /
			(result.PrecisionEstimate + result.RecallEstimate)
	}
}
