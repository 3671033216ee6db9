package memory

import (
	"strings"

	"github.com/contextmem/contextmem/pkg/types"
)

// Enhancement bounds: at most this many entity mentions and facts make it
// into the context block so the answer stays readable.
const (
	maxEnhancementEntities = 3
	maxEnhancementFacts    = 3
)

// EnhanceResponse grounds a draft answer in retrieved context. Only context
// that is textually present in the exchange is attached; retrieval may rank
// broadly, but the enhanced response never cites knowledge the conversation
// did not touch. Confidence grows with the context's own confidence and with
// how much of the retrieved knowledge the exchange covered.
func EnhanceResponse(message, answer string, mc *types.MemoryContext) *types.ContextualResponse {
	resp := &types.ContextualResponse{Answer: answer}
	if mc == nil {
		resp.Confidence = types.ClampConfidence(0.7)
		return resp
	}

	exchange := strings.ToLower(message + " " + answer)

	for _, se := range mc.Entities {
		if len(resp.Entities) == maxEnhancementEntities {
			break
		}
		if entityMentioned(exchange, se.Entity) {
			resp.Entities = append(resp.Entities, se.Entity)
		}
	}

	for _, sf := range mc.Facts {
		if len(resp.Facts) == maxEnhancementFacts {
			break
		}
		if strings.Contains(exchange, strings.ToLower(sf.Fact.Subject)) {
			resp.Facts = append(resp.Facts, sf.Fact)
		}
	}

	resp.ContextBlock = buildContextBlock(resp.Entities, resp.Facts)

	entityCoverage := coverage(len(resp.Entities), len(mc.Entities), maxEnhancementEntities)
	factCoverage := coverage(len(resp.Facts), len(mc.Facts), maxEnhancementFacts)
	resp.Confidence = types.ClampConfidence(
		0.7 + 0.3*mc.ConfidenceLevel + 0.2*entityCoverage + 0.2*factCoverage)
	return resp
}

func entityMentioned(exchange string, e *types.Entity) bool {
	if strings.Contains(exchange, e.CanonicalName) {
		return true
	}
	for _, a := range e.Aliases {
		if strings.Contains(exchange, types.CanonicalName(a)) {
			return true
		}
	}
	return false
}

func buildContextBlock(entities []*types.Entity, facts []*types.Fact) string {
	if len(entities) == 0 && len(facts) == 0 {
		return ""
	}

	var b strings.Builder
	for _, e := range entities {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(e.Name)
		b.WriteString(" (")
		b.WriteString(string(e.Type))
		b.WriteString(")")
	}
	for _, f := range facts {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(strings.TrimSpace(strings.Join([]string{f.Subject, f.Predicate, f.Object}, " ")))
	}
	return b.String()
}

func coverage(attached, available, limit int) float64 {
	if available == 0 {
		return 0
	}
	denom := available
	if denom > limit {
		denom = limit
	}
	return float64(attached) / float64(denom)
}
