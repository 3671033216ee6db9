package types

import "errors"

// RelationType classifies an edge between two entities.
type RelationType string

const (
	RelationHierarchical RelationType = "hierarchical"
	RelationFunctional   RelationType = "functional"
	RelationTemporal     RelationType = "temporal"
	RelationSpatial      RelationType = "spatial"
	RelationSocial       RelationType = "social"
	RelationGeneric      RelationType = "generic"
)

var ErrMissingEndpoint = errors.New("relation endpoints cannot be empty")

// Relation is a typed, confidence-weighted edge between two entities. Both
// endpoints must reference entities that are valid at write time; the store
// enforces this.
type Relation struct {
	ID         string       `json:"id"`
	SourceID   string       `json:"source_entity_id"`
	TargetID   string       `json:"target_entity_id"`
	Type       RelationType `json:"type"`
	Confidence float64      `json:"confidence"`
	Weight     float64      `json:"weight"`
	Directed   bool         `json:"directed"`
	Symmetric  bool         `json:"symmetric"`

	Validity  Interval `json:"validity"`
	EpisodeID string   `json:"episode_id"`
}

// Validate checks required fields and value ranges.
func (r *Relation) Validate() error {
	if r.SourceID == "" || r.TargetID == "" {
		return ErrMissingEndpoint
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return ErrBadConfidence
	}
	return nil
}

// CurrentlyValid reports whether the relation has not been superseded.
func (r *Relation) CurrentlyValid() bool { return r.Validity.Valid() }
