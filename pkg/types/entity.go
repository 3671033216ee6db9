package types

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// EntityType classifies a knowledge entity.
type EntityType string

const (
	EntityTypePerson       EntityType = "person"
	EntityTypeOrganization EntityType = "organization"
	EntityTypeLocation     EntityType = "location"
	EntityTypeConcept      EntityType = "concept"
	EntityTypeProduct      EntityType = "product"
	EntityTypeService      EntityType = "service"
	EntityTypeTechnology   EntityType = "technology"
	EntityTypeEvent        EntityType = "event"
	EntityTypeDocument     EntityType = "document"
	EntityTypeProcess      EntityType = "process"
	EntityTypeSystem       EntityType = "system"
	EntityTypeData         EntityType = "data"
	EntityTypeUnknown      EntityType = "unknown"
)

// ParseEntityType maps free-form type labels (typically from the completion
// collaborator) onto the known enum, defaulting to unknown.
func ParseEntityType(s string) EntityType {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case EntityTypePerson, EntityTypeOrganization, EntityTypeLocation,
		EntityTypeConcept, EntityTypeProduct, EntityTypeService,
		EntityTypeTechnology, EntityTypeEvent, EntityTypeDocument,
		EntityTypeProcess, EntityTypeSystem, EntityTypeData:
		return t
	}
	return EntityTypeUnknown
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// CanonicalName lowercases a name and collapses whitespace so equal names map
// to the same dedup key.
func CanonicalName(name string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(strings.ToLower(name), " "))
}

// Entity is a named thing with a confidence score and a validity interval.
type Entity struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	CanonicalName string         `json:"canonical_name"`
	Type          EntityType     `json:"type"`
	Confidence    float64        `json:"confidence"`
	Aliases       []string       `json:"aliases,omitempty"`
	Properties    map[string]any `json:"properties,omitempty"`
	Embedding     []float32      `json:"embedding,omitempty"`

	Validity  Interval  `json:"validity"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	OccurrenceCount int    `json:"occurrence_count"`
	EpisodeID       string `json:"episode_id"`

	// Version supports optimistic concurrency: updates must present the
	// version they read, and the store rejects stale writes.
	Version int64 `json:"version"`
}

// Validate checks required fields and value ranges.
func (e *Entity) Validate() error {
	if e.Name == "" {
		return ErrEmptyName
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return ErrBadConfidence
	}
	return nil
}

// CurrentlyValid reports whether the entity has not been superseded.
func (e *Entity) CurrentlyValid() bool { return e.Validity.Valid() }

// Invalidate soft-deletes the entity at t. It never hard-deletes.
func (e *Entity) Invalidate(t time.Time) { e.Validity.Close(t) }

// Touch records another sighting of the entity at t.
func (e *Entity) Touch(t time.Time) {
	if e.FirstSeen.IsZero() || t.Before(e.FirstSeen) {
		e.FirstSeen = t
	}
	if t.After(e.LastSeen) {
		e.LastSeen = t
	}
	e.OccurrenceCount++
}

// AddAlias records an alternative surface form, skipping the canonical name
// and duplicates.
func (e *Entity) AddAlias(alias string) {
	c := CanonicalName(alias)
	if c == "" || c == e.CanonicalName {
		return
	}
	for _, a := range e.Aliases {
		if CanonicalName(a) == c {
			return
		}
	}
	e.Aliases = append(e.Aliases, alias)
}

// MergeEntities folds loser into winner: confidence becomes the max of the
// two, aliases are unioned (minus the winner's own name), occurrence counts
// are summed and the seen window widens. The loser is left untouched; the
// caller soft-invalidates it.
func MergeEntities(winner, loser *Entity) {
	if loser.Confidence > winner.Confidence {
		winner.Confidence = loser.Confidence
	}
	winner.AddAlias(loser.Name)
	for _, a := range loser.Aliases {
		winner.AddAlias(a)
	}
	winner.OccurrenceCount += loser.OccurrenceCount
	if !loser.FirstSeen.IsZero() && (winner.FirstSeen.IsZero() || loser.FirstSeen.Before(winner.FirstSeen)) {
		winner.FirstSeen = loser.FirstSeen
	}
	if loser.LastSeen.After(winner.LastSeen) {
		winner.LastSeen = loser.LastSeen
	}
	if winner.Properties == nil && len(loser.Properties) > 0 {
		winner.Properties = make(map[string]any, len(loser.Properties))
	}
	for k, v := range loser.Properties {
		if _, exists := winner.Properties[k]; !exists {
			winner.Properties[k] = v
		}
	}
	sort.Strings(winner.Aliases)
}
