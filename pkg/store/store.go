// Package store owns durable bi-temporal persistence for the knowledge
// graph: the narrow PersistentStore interface, its SQLite implementation,
// and the TemporalGraphStore built on top of it (episode lifecycle,
// transactional ingestion, duplicate merging, retention, and querying).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/contextmem/contextmem/pkg/types"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// EntityFilter constrains entity lookups. Zero values mean "no constraint".
type EntityFilter struct {
	EpisodeIDs    []string
	Types         []types.EntityType
	CanonicalName string
	MinConfidence float64
	OnlyValid     bool
	LastSeenAfter time.Time
	Limit         int
}

// RelationFilter constrains relation lookups.
type RelationFilter struct {
	EntityIDs  []string // matches either endpoint
	EpisodeIDs []string
	OnlyValid  bool
	Limit      int
}

// FactFilter constrains fact lookups.
type FactFilter struct {
	EntityIDs     []string
	EpisodeIDs    []string
	OnlyValid     bool
	CreatedBefore time.Time
	Limit         int
}

// EpisodeFilter constrains episode lookups.
type EpisodeFilter struct {
	SessionID string
	UserID    string
	OnlyOpen  bool
	Limit     int
}

// PersistentStore is the narrow persistence collaborator: CRUD plus filtered
// query over entities, relations, facts, and episodes, a currently-valid
// convenience filter (OnlyValid), and basic text search. Implementations
// must support optimistic concurrency on entity updates via the Version
// field.
type PersistentStore interface {
	CreateEntity(ctx context.Context, e *types.Entity) error
	GetEntity(ctx context.Context, id string) (*types.Entity, error)
	// UpdateEntity persists e if and only if the stored version equals
	// e.Version; on success the version is incremented, otherwise a
	// ConflictError is returned.
	UpdateEntity(ctx context.Context, e *types.Entity) error
	FindEntities(ctx context.Context, f EntityFilter) ([]*types.Entity, error)
	// SearchEntities performs basic full-text matching on names and aliases.
	SearchEntities(ctx context.Context, query string, f EntityFilter) ([]*types.Entity, error)

	CreateRelation(ctx context.Context, r *types.Relation) error
	UpdateRelation(ctx context.Context, r *types.Relation) error
	FindRelations(ctx context.Context, f RelationFilter) ([]*types.Relation, error)

	CreateFact(ctx context.Context, fa *types.Fact) error
	UpdateFact(ctx context.Context, fa *types.Fact) error
	FindFacts(ctx context.Context, f FactFilter) ([]*types.Fact, error)

	CreateEpisode(ctx context.Context, ep *types.Episode) error
	UpdateEpisode(ctx context.Context, ep *types.Episode) error
	FindEpisodes(ctx context.Context, f EpisodeFilter) ([]*types.Episode, error)

	// WithTx runs fn against a transactional view of the store. If fn
	// returns an error the transaction rolls back; otherwise it commits.
	// Nested transactions are not supported.
	WithTx(ctx context.Context, fn func(tx PersistentStore) error) error

	Close() error
}
