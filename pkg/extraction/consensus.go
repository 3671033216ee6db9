package extraction

import (
	"sort"

	"github.com/contextmem/contextmem/pkg/config"
	"github.com/contextmem/contextmem/pkg/types"
	"github.com/contextmem/contextmem/pkg/utils"
)

// consensusMerger is the fourth pipeline stage: near-duplicate candidates are
// folded into one entity per real-world referent, and candidates corroborated
// by more than one method are promoted to the cross-validated level.
type consensusMerger struct {
	cfg config.PipelineConfig
}

func newConsensusMerger(cfg config.PipelineConfig) *consensusMerger {
	return &consensusMerger{cfg: cfg}
}

// Merge groups candidates whose names overlap strongly, or whose names are
// nearly identical at the same type, and folds each group into a single
// candidate. Output order is deterministic: confidence descending, then name.
func (c *consensusMerger) Merge(candidates []*types.ExtractedEntity) []*types.ExtractedEntity {
	if len(candidates) <= 1 {
		c.promote(candidates)
		return candidates
	}

	groups := c.group(candidates)

	merged := make([]*types.ExtractedEntity, 0, len(groups))
	for _, group := range groups {
		merged = append(merged, c.fold(group))
	}
	c.promote(merged)

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Confidence != merged[j].Confidence {
			return merged[i].Confidence > merged[j].Confidence
		}
		return merged[i].Name < merged[j].Name
	})
	return merged
}

func (c *consensusMerger) group(candidates []*types.ExtractedEntity) [][]*types.ExtractedEntity {
	var groups [][]*types.ExtractedEntity
	assigned := make([]bool, len(candidates))

	for i, cand := range candidates {
		if assigned[i] {
			continue
		}
		group := []*types.ExtractedEntity{cand}
		assigned[i] = true

		for j := i + 1; j < len(candidates); j++ {
			if assigned[j] {
				continue
			}
			if c.sameReferent(cand, candidates[j]) {
				group = append(group, candidates[j])
				assigned[j] = true
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// sameReferent decides whether two candidates name the same thing: strong
// token overlap regardless of type, or near-identical surface forms at the
// same type.
func (c *consensusMerger) sameReferent(a, b *types.ExtractedEntity) bool {
	if utils.TokenJaccard(a.Name, b.Name) >= c.cfg.ConsensusJaccard {
		return true
	}
	return a.Type == b.Type && bigramSimilarity(a.CanonicalName, b.CanonicalName) >= c.cfg.HighNameSimilarity
}

// fold collapses a group onto its highest-confidence member. Other surface
// forms become aliases, verification counts sum, and the validation level is
// the maximum across the group.
func (c *consensusMerger) fold(group []*types.ExtractedEntity) *types.ExtractedEntity {
	winner := group[0]
	for _, cand := range group[1:] {
		if cand.Confidence > winner.Confidence {
			winner = cand
		}
	}

	for _, cand := range group {
		if cand == winner {
			continue
		}
		winner.AddAlias(cand.Name)
		for _, a := range cand.Aliases {
			winner.AddAlias(a)
		}
		winner.VerificationCount += cand.VerificationCount
		if cand.ValidationLevel > winner.ValidationLevel {
			winner.ValidationLevel = cand.ValidationLevel
		}
		if cand.Confidence > winner.Confidence {
			winner.Confidence = cand.Confidence
		}
		if winner.Context == "" {
			winner.Context = cand.Context
		}
	}
	if len(group) > 1 {
		winner.Confidence = types.ClampConfidence(winner.Confidence + c.cfg.ConfirmationBoost)
	}
	return winner
}

// promote raises candidates corroborated by at least two methods to the top
// validation level.
func (c *consensusMerger) promote(candidates []*types.ExtractedEntity) {
	for _, cand := range candidates {
		if cand.VerificationCount >= 2 {
			cand.Confirm(types.CrossValidated)
		}
	}
}

// bigramSimilarity is the Jaccard similarity of character bigram sets, a
// cheap stand-in for edit distance on short names.
func bigramSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	setA := bigrams(a)
	setB := bigrams(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for g := range setA {
		if setB[g] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func bigrams(s string) map[string]bool {
	runes := []rune(s)
	set := make(map[string]bool, len(runes))
	for i := 0; i+1 < len(runes); i++ {
		set[string(runes[i:i+2])] = true
	}
	return set
}
