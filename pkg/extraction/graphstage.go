package extraction

import (
	"context"
	"log/slog"

	"github.com/contextmem/contextmem/pkg/config"
	"github.com/contextmem/contextmem/pkg/store"
	"github.com/contextmem/contextmem/pkg/types"
)

// KnowledgeLookup is the slice of the graph store the validation stage needs.
type KnowledgeLookup interface {
	Query(ctx context.Context, queryText, sessionID string, entityTypes []types.EntityType, confidenceThreshold float64) (*store.GraphQueryResult, error)
}

// GraphValidator is the third pipeline stage: candidates already known to the
// graph are corroborated with a bounded confidence boost. Unknown candidates
// pass through unchanged; novelty is not a defect.
type GraphValidator struct {
	lookup KnowledgeLookup
	cfg    config.PipelineConfig
	logger *slog.Logger
}

// NewGraphValidator wires the stage.
func NewGraphValidator(lookup KnowledgeLookup, cfg config.PipelineConfig, logger *slog.Logger) *GraphValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &GraphValidator{lookup: lookup, cfg: cfg, logger: logger}
}

// Validate corroborates candidates against stored knowledge. The first lookup
// error aborts the stage so the pipeline can degrade once instead of paying
// the failure per candidate.
func (g *GraphValidator) Validate(ctx context.Context, candidates []*types.ExtractedEntity) error {
	confirmed := 0
	for _, cand := range candidates {
		res, err := g.lookup.Query(ctx, cand.Name, "", []types.EntityType{cand.Type}, 0)
		if err != nil {
			return err
		}

		for _, known := range res.Entities {
			if known.CanonicalName != cand.CanonicalName && !aliasMatch(known, cand.CanonicalName) {
				continue
			}
			cand.Confidence = types.ClampConfidence(cand.Confidence + g.cfg.GraphBoost)
			cand.Confirm(types.GraphConfirmed)
			confirmed++
			break
		}
	}

	if confirmed > 0 {
		g.logger.Debug("graph corroboration", "confirmed", confirmed, "candidates", len(candidates))
	}
	return nil
}

func aliasMatch(e *types.Entity, canonical string) bool {
	for _, a := range e.Aliases {
		if types.CanonicalName(a) == canonical {
			return true
		}
	}
	return false
}
