package memory

import (
	"strings"
	"time"

	"github.com/contextmem/contextmem/pkg/config"
	"github.com/contextmem/contextmem/pkg/types"
	"github.com/contextmem/contextmem/pkg/utils"
)

// recencyHorizon is the window over which recency decays linearly; a week-old
// sighting bottoms out at the floor instead of going to zero so old but
// relevant knowledge stays reachable.
const (
	recencyHorizonHours = 168.0
	recencyFloor        = 0.1
	occurrenceSaturation = 10.0
)

// relevanceScorer blends recency, similarity, confidence, and occurrence into
// one score per entity, with the blend weights chosen by the retrieval mode.
type relevanceScorer struct {
	weights config.ScoringWeights
	now     time.Time

	queryText string
	queryVec  []float32
	keywords  map[string]bool
}

func newRelevanceScorer(weights config.ScoringWeights, now time.Time, queryText string, queryVec []float32) *relevanceScorer {
	kw := make(map[string]bool)
	for _, k := range utils.Keywords(queryText, 10) {
		kw[k] = true
	}
	return &relevanceScorer{
		weights:   weights,
		now:       now,
		queryText: queryText,
		queryVec:  queryVec,
		keywords:  kw,
	}
}

func (s *relevanceScorer) recency(lastSeen time.Time) float64 {
	if lastSeen.IsZero() {
		return recencyFloor
	}
	hours := s.now.Sub(lastSeen).Hours()
	if hours < 0 {
		hours = 0
	}
	r := 1 - hours/recencyHorizonHours
	if r < recencyFloor {
		return recencyFloor
	}
	return r
}

// strictRecency is a monotonic last-seen score with no floor, so RecentFirst
// orders strictly by last-seen even past the decay window.
func (s *relevanceScorer) strictRecency(lastSeen time.Time) float64 {
	if lastSeen.IsZero() {
		return 0
	}
	hours := s.now.Sub(lastSeen).Hours()
	if hours < 0 {
		hours = 0
	}
	return recencyHorizonHours / (recencyHorizonHours + hours)
}

func (s *relevanceScorer) similarity(e *types.Entity) float64 {
	if len(s.queryVec) > 0 && len(e.Embedding) > 0 {
		sim := utils.CosineSimilarity(s.queryVec, e.Embedding)
		if sim < 0 {
			return 0
		}
		return sim
	}
	text := e.Name
	for _, a := range e.Aliases {
		text += " " + a
	}
	return utils.TextOverlapSimilarity(s.queryText, text)
}

func (s *relevanceScorer) occurrence(count int) float64 {
	o := float64(count) / occurrenceSaturation
	if o > 1 {
		return 1
	}
	return o
}

// scoreEntity computes the mode-dependent relevance of an entity.
func (s *relevanceScorer) scoreEntity(e *types.Entity, mode types.RetrievalMode) float64 {
	switch mode {
	case types.RecentFirst:
		return s.strictRecency(e.LastSeen)
	case types.RelevanceFirst:
		return s.similarity(e)
	case types.ImportanceFirst:
		return e.Confidence
	case types.Contextual:
		return types.ClampConfidence(s.blended(e) + s.keywordBonus(e))
	default: // Comprehensive
		return s.blended(e)
	}
}

func (s *relevanceScorer) blended(e *types.Entity) float64 {
	w := s.weights
	return w.Recency*s.recency(e.LastSeen) +
		w.Similarity*s.similarity(e) +
		w.Confidence*e.Confidence +
		w.Occurrence*s.occurrence(e.OccurrenceCount)
}

// keywordBonus rewards entities whose name contains a conversation keyword.
func (s *relevanceScorer) keywordBonus(e *types.Entity) float64 {
	if len(s.keywords) == 0 {
		return 0
	}
	for _, tok := range utils.Tokens(e.Name) {
		if s.keywords[tok] {
			return 0.1
		}
	}
	return 0
}

// scoreFact ranks a fact by its confidence, the recency of its recording, and
// how much of the query its evidence covers.
func (s *relevanceScorer) scoreFact(f *types.Fact, mode types.RetrievalMode) float64 {
	recency := s.recency(f.Validity.Start)
	switch mode {
	case types.RecentFirst:
		return s.strictRecency(f.Validity.Start)
	case types.ImportanceFirst:
		return f.Confidence
	}

	similarity := utils.TextOverlapSimilarity(s.queryText,
		strings.Join([]string{f.Subject, f.Predicate, f.Object, f.Evidence}, " "))
	w := s.weights
	return w.Recency*recency + w.Similarity*similarity + w.Confidence*f.Confidence
}
