package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/contextmem/contextmem/pkg/config"
	"github.com/contextmem/contextmem/pkg/nlp"
	"github.com/contextmem/contextmem/pkg/types"
)

const extractionSystemPrompt = `You are an expert entity extraction system for a knowledge graph.
Extract every named entity from the conversation text.

Entity types: person, organization, location, concept, product, service,
technology, event, document, process, system, data.

Respond with a single JSON object and nothing else:
{
  "entities": [
    {
      "name": "entity name exactly as it appears",
      "type": "one of the types above",
      "confidence": 0.0,
      "context": "the phrase the entity appears in",
      "reasoning": "why this is an entity of that type"
    }
  ],
  "reasoning": "overall extraction reasoning"
}

Rules:
- confidence is your certainty in [0,1] that this is a real entity of that type
- do not invent entities that are not in the text
- keep names verbatim, including umlauts and legal suffixes`

// llmEntity mirrors the JSON schema the completion collaborator is asked for.
type llmEntity struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Context    string  `json:"context"`
	Reasoning  string  `json:"reasoning"`
}

type llmExtractionResponse struct {
	Entities  []llmEntity `json:"entities"`
	Reasoning string      `json:"reasoning"`
}

// LLMExtractor is the second pipeline stage: semantic extraction through the
// completion collaborator. Failures are returned to the pipeline, which
// degrades to the template result instead of aborting the turn.
type LLMExtractor struct {
	client nlp.Client
	cfg    config.PipelineConfig
	model  config.ModelConfig
	logger *slog.Logger
}

// NewLLMExtractor wires the stage.
func NewLLMExtractor(client nlp.Client, cfg config.PipelineConfig, model config.ModelConfig, logger *slog.Logger) *LLMExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMExtractor{client: client, cfg: cfg, model: model, logger: logger}
}

// Extract asks the collaborator for entities and merges them with the
// template-stage candidates. Candidates confirmed by both stages get the
// configured confirmation boost; candidates below the confidence floor are
// dropped.
func (l *LLMExtractor) Extract(ctx context.Context, text string, prior []*types.ExtractedEntity) ([]*types.ExtractedEntity, error) {
	resp, err := l.client.Complete(ctx, []types.Message{
		nlp.NewSystemMessage(extractionSystemPrompt),
		nlp.NewUserMessage("Text:\n" + text),
	}, nlp.CompleteOptions{
		JSONMode:    true,
		Temperature: l.model.Temperature,
		MaxTokens:   l.model.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	var parsed llmExtractionResponse
	if err := nlp.DecodeJSONResponse(resp.Content, &parsed); err != nil {
		return nil, err
	}

	merged := make([]*types.ExtractedEntity, len(prior))
	copy(merged, prior)
	byKey := make(map[string]*types.ExtractedEntity, len(prior))
	for _, e := range prior {
		byKey[candidateKey(e)] = e
	}

	floor := l.cfg.MinEntityConfidence
	dropped := 0
	for _, raw := range parsed.Entities {
		name := strings.TrimSpace(raw.Name)
		if name == "" {
			continue
		}
		confidence := types.ClampConfidence(raw.Confidence)
		if confidence < floor {
			dropped++
			continue
		}

		cand := &types.ExtractedEntity{
			Entity: types.Entity{
				Name:          name,
				CanonicalName: types.CanonicalName(name),
				Type:          types.ParseEntityType(raw.Type),
				Confidence:    confidence,
			},
			Context:   raw.Context,
			Reasoning: raw.Reasoning,
		}

		if existing, ok := byKey[candidateKey(cand)]; ok {
			// Agreement between template and collaborator is worth a boost.
			if confidence > existing.Confidence {
				existing.Confidence = confidence
			}
			existing.Confidence = types.ClampConfidence(existing.Confidence + l.cfg.ConfirmationBoost)
			existing.Confirm(types.LLMConfirmed)
			if existing.Context == "" {
				existing.Context = raw.Context
			}
			if existing.Reasoning == "" {
				existing.Reasoning = raw.Reasoning
			}
			continue
		}

		cand.Confirm(types.LLMConfirmed)
		byKey[candidateKey(cand)] = cand
		merged = append(merged, cand)
	}

	if dropped > 0 {
		l.logger.Debug("low-confidence candidates dropped",
			"dropped", dropped, "floor", floor)
	}
	return merged, nil
}

func candidateKey(e *types.ExtractedEntity) string {
	return fmt.Sprintf("%s|%s", e.CanonicalName, e.Type)
}
