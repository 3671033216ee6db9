package types

import (
	"errors"
	"time"
)

// FactType classifies an atomic subject-predicate-object statement.
type FactType string

const (
	FactAttribute    FactType = "attribute"
	FactState        FactType = "state"
	FactAction       FactType = "action"
	FactObservation  FactType = "observation"
	FactInference    FactType = "inference"
	FactMeasurement  FactType = "measurement"
	FactRelationship FactType = "relationship"
	FactTemporal     FactType = "temporal"
	FactConditional  FactType = "conditional"
)

var ErrMissingPrimaryEntity = errors.New("fact primary entity id cannot be empty")

// Fact is an atomic statement attributed to an entity, with the source text
// that evidences it. FactTime, when set, is the time the stated fact holds in
// the world, as opposed to the validity interval which tracks when the row
// itself is current.
type Fact struct {
	ID         string   `json:"id"`
	EntityID   string   `json:"primary_entity_id"`
	Subject    string   `json:"subject"`
	Predicate  string   `json:"predicate"`
	Object     string   `json:"object"`
	Type       FactType `json:"type"`
	Confidence float64  `json:"confidence"`
	Source     string   `json:"source,omitempty"`
	Evidence   string   `json:"evidence,omitempty"`

	Validity  Interval   `json:"validity"`
	FactTime  *time.Time `json:"fact_time,omitempty"`
	EpisodeID string     `json:"episode_id"`
}

// Validate checks required fields and value ranges.
func (f *Fact) Validate() error {
	if f.EntityID == "" {
		return ErrMissingPrimaryEntity
	}
	if f.Subject == "" || f.Predicate == "" {
		return errors.New("fact subject and predicate cannot be empty")
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return ErrBadConfidence
	}
	return nil
}

// CurrentlyValid reports whether the fact has not been superseded.
func (f *Fact) CurrentlyValid() bool { return f.Validity.Valid() }
