// Package extraction implements the four-stage entity extraction pipeline:
// template patterns, collaborator extraction, graph corroboration, and
// consensus merging. Each stage refines the candidates of the previous one,
// and a stage failure degrades the turn to the stages that did complete
// instead of failing it.
package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/contextmem/contextmem/pkg/config"
	"github.com/contextmem/contextmem/pkg/nlp"
	"github.com/contextmem/contextmem/pkg/types"
	"github.com/contextmem/contextmem/pkg/utils"
)

// Stage names recorded in ExtractionResult.StagesCompleted.
const (
	StageTemplate  = "template"
	StageLLM       = "llm"
	StageGraph     = "graph_validation"
	StageConsensus = "consensus"
)

// Pipeline runs the extraction stages in order. The completion collaborator
// and the graph lookup are optional; a nil collaborator skips the stage the
// same way a failing one does.
type Pipeline struct {
	template  *TemplateExtractor
	llm       *LLMExtractor
	validator *GraphValidator
	consensus *consensusMerger
	scorer    *qualityScorer
	cfg       config.PipelineConfig
	logger    *slog.Logger
}

// NewPipeline wires the pipeline. client and lookup may be nil.
func NewPipeline(client nlp.Client, lookup KnowledgeLookup, cfg config.PipelineConfig, model config.ModelConfig, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		template:  NewTemplateExtractor(),
		consensus: newConsensusMerger(cfg),
		scorer:    newQualityScorer(cfg),
		cfg:       cfg,
		logger:    logger,
	}
	if client != nil {
		p.llm = NewLLMExtractor(client, cfg, model, logger)
	}
	if lookup != nil {
		p.validator = NewGraphValidator(lookup, cfg, logger)
	}
	return p
}

// ExtractKnowledge runs the full pipeline over one conversation text. Empty
// or whitespace-only input short-circuits to an empty result with no stages
// run. The returned result always reflects the stages that completed;
// collaborator failures appear as warnings, never as errors.
func (p *Pipeline) ExtractKnowledge(ctx context.Context, text string) *types.ExtractionResult {
	result := types.EmptyExtractionResult()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return result
	}

	candidates := p.template.Extract(trimmed)
	result.StagesCompleted = append(result.StagesCompleted, StageTemplate)

	if p.llm != nil {
		merged, err := p.llm.Extract(ctx, trimmed, candidates)
		if err != nil {
			p.logger.Warn("llm stage degraded", "error", err)
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("llm stage degraded: %v", err))
		} else {
			candidates = merged
			result.StagesCompleted = append(result.StagesCompleted, StageLLM)
		}
	}

	if p.validator != nil && len(candidates) > 0 {
		if err := p.validator.Validate(ctx, candidates); err != nil {
			p.logger.Warn("graph validation stage degraded", "error", err)
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("graph validation degraded: %v", err))
		} else {
			result.StagesCompleted = append(result.StagesCompleted, StageGraph)
		}
	}

	candidates = p.consensus.Merge(candidates)
	result.StagesCompleted = append(result.StagesCompleted, StageConsensus)

	for _, cand := range candidates {
		if cand.ID == "" {
			cand.ID = uuid.NewString()
		}
	}
	result.Entities = candidates
	result.Relations = deriveRelations(trimmed, candidates)
	result.Facts = deriveFacts(trimmed, candidates)

	p.scorer.Estimate(result, len(strings.Fields(trimmed)))

	p.logger.Debug("extraction complete",
		"entities", len(result.Entities),
		"relations", len(result.Relations),
		"facts", len(result.Facts),
		"stages", result.StagesCompleted,
		"confidence", result.OverallConfidence)
	return result
}

// deriveRelations proposes a generic co-occurrence relation for each entity
// pair appearing in the same sentence. Relation confidence is bounded by the
// weaker endpoint.
func deriveRelations(text string, entities []*types.ExtractedEntity) []*types.Relation {
	relations := []*types.Relation{}
	if len(entities) < 2 {
		return relations
	}

	seen := make(map[string]bool)
	for _, sentence := range utils.Sentences(text) {
		lower := strings.ToLower(sentence)

		var present []*types.ExtractedEntity
		for _, e := range entities {
			if strings.Contains(lower, e.CanonicalName) {
				present = append(present, e)
			}
		}

		for i := 0; i < len(present); i++ {
			for j := i + 1; j < len(present); j++ {
				a, b := present[i], present[j]
				key := a.ID + "|" + b.ID
				if seen[key] {
					continue
				}
				seen[key] = true

				confidence := a.Confidence
				if b.Confidence < confidence {
					confidence = b.Confidence
				}
				relations = append(relations, &types.Relation{
					SourceID:   a.ID,
					TargetID:   b.ID,
					Type:       types.RelationGeneric,
					Confidence: confidence,
					Weight:     1,
					Symmetric:  true,
				})
			}
		}
	}
	return relations
}

// deriveFacts records one observation fact per entity, evidenced by the first
// sentence mentioning it.
func deriveFacts(text string, entities []*types.ExtractedEntity) []*types.Fact {
	facts := []*types.Fact{}
	sentences := utils.Sentences(text)

	for _, e := range entities {
		evidence := ""
		for _, sentence := range sentences {
			if strings.Contains(strings.ToLower(sentence), e.CanonicalName) {
				evidence = sentence
				break
			}
		}
		if evidence == "" {
			continue
		}

		facts = append(facts, &types.Fact{
			EntityID:   e.ID,
			Subject:    e.Name,
			Predicate:  "mentioned as",
			Object:     string(e.Type),
			Type:       types.FactObservation,
			Confidence: e.Confidence,
			Source:     "conversation",
			Evidence:   evidence,
		})
	}
	return facts
}
