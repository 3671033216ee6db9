package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextmem/contextmem/pkg/config"
	"github.com/contextmem/contextmem/pkg/embedder"
	"github.com/contextmem/contextmem/pkg/types"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestGraph(t *testing.T) (*TemporalGraphStore, *SQLite) {
	t.Helper()
	s := newTestStore(t)
	g := NewTemporalGraphStore(s, embedder.NewMockClient(32), config.StoreConfig{
		RetentionDays: 90,
		MergeRetries:  3,
	}, nil)
	return g, s
}

func makeEntity(episodeID, name string, typ types.EntityType) *types.Entity {
	now := time.Now().UTC()
	return &types.Entity{
		ID:              uuid.NewString(),
		Name:            name,
		CanonicalName:   types.CanonicalName(name),
		Type:            typ,
		Confidence:      0.8,
		Validity:        types.Interval{Start: now},
		FirstSeen:       now,
		LastSeen:        now,
		OccurrenceCount: 1,
		EpisodeID:       episodeID,
		Version:         1,
	}
}

func makeEpisode(t *testing.T, s *SQLite, sessionID string) *types.Episode {
	t.Helper()
	now := time.Now().UTC()
	ep := &types.Episode{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Validity:  types.Interval{Start: now},
		CreatedAt: now,
	}
	require.NoError(t, s.CreateEpisode(context.Background(), ep))
	return ep
}

func TestEntityRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ep := makeEpisode(t, s, "s1")

	e := makeEntity(ep.ID, "SAP GmbH", types.EntityTypeOrganization)
	e.Aliases = []string{"SAP"}
	e.Properties = map[string]any{"industry": "software"}
	e.Embedding = []float32{0.1, 0.2, 0.3}
	require.NoError(t, s.CreateEntity(ctx, e))

	got, err := s.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "SAP GmbH", got.Name)
	assert.Equal(t, "sap gmbh", got.CanonicalName)
	assert.Equal(t, types.EntityTypeOrganization, got.Type)
	assert.Equal(t, []string{"SAP"}, got.Aliases)
	assert.Equal(t, "software", got.Properties["industry"])
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, got.Embedding)
	assert.True(t, got.CurrentlyValid())
	assert.Equal(t, int64(1), got.Version)
}

func TestGetEntityNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetEntity(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateEntityVersionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ep := makeEpisode(t, s, "s1")

	e := makeEntity(ep.ID, "Anna", types.EntityTypePerson)
	require.NoError(t, s.CreateEntity(ctx, e))

	// Two readers load version 1; the second write must lose.
	first, err := s.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	second, err := s.GetEntity(ctx, e.ID)
	require.NoError(t, err)

	first.Confidence = 0.9
	require.NoError(t, s.UpdateEntity(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Confidence = 0.5
	err = s.UpdateEntity(ctx, second)
	require.Error(t, err)
	var conflict *types.ConflictError
	assert.True(t, errors.As(err, &conflict))
	assert.Equal(t, e.ID, conflict.EntityID)

	// The winning write stuck.
	got, err := s.GetEntity(ctx, e.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
}

func TestReferentialIntegrity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ep := makeEpisode(t, s, "s1")

	e := makeEntity(ep.ID, "Anna", types.EntityTypePerson)
	require.NoError(t, s.CreateEntity(ctx, e))

	var integrity *types.IntegrityError

	fact := &types.Fact{
		ID: uuid.NewString(), EntityID: "ghost", Subject: "Anna", Predicate: "works at",
		Type: types.FactObservation, Confidence: 0.7, EpisodeID: ep.ID,
		Validity: types.Interval{Start: time.Now()},
	}
	err := s.CreateFact(ctx, fact)
	require.Error(t, err)
	assert.True(t, errors.As(err, &integrity))

	rel := &types.Relation{
		ID: uuid.NewString(), SourceID: e.ID, TargetID: "ghost",
		Type: types.RelationGeneric, Confidence: 0.7, Weight: 1, EpisodeID: ep.ID,
		Validity: types.Interval{Start: time.Now()},
	}
	err = s.CreateRelation(ctx, rel)
	require.Error(t, err)
	assert.True(t, errors.As(err, &integrity))

	// Invalidated entities count as missing for new writes.
	e.Invalidate(time.Now())
	require.NoError(t, s.UpdateEntity(ctx, e))
	fact.EntityID = e.ID
	err = s.CreateFact(ctx, fact)
	require.Error(t, err)
	assert.True(t, errors.As(err, &integrity))
}

func TestWithTxRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ep := makeEpisode(t, s, "s1")

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx PersistentStore) error {
		if err := tx.CreateEntity(ctx, makeEntity(ep.ID, "Ghost Corp", types.EntityTypeOrganization)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	entities, err := s.FindEntities(ctx, EntityFilter{})
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestWithTxRejectsNesting(t *testing.T) {
	s := newTestStore(t)
	err := s.WithTx(context.Background(), func(tx PersistentStore) error {
		return tx.WithTx(context.Background(), func(PersistentStore) error { return nil })
	})
	assert.Error(t, err)
}

func TestEpisodeIdempotence(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	first, err := g.GetOrCreateEpisode(ctx, "session-1", "user-1")
	require.NoError(t, err)
	again, err := g.GetOrCreateEpisode(ctx, "session-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID, "open episode must be reused")

	require.NoError(t, g.CloseEpisode(ctx, "session-1"))

	fresh, err := g.GetOrCreateEpisode(ctx, "session-1", "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, fresh.ID, "a closed episode is never reopened")
}

func extractionResult(entities ...*types.ExtractedEntity) *types.ExtractionResult {
	r := types.EmptyExtractionResult()
	r.Entities = entities
	return r
}

func candidate(name string, typ types.EntityType, confidence float64) *types.ExtractedEntity {
	return &types.ExtractedEntity{
		Entity: types.Entity{
			ID:         uuid.NewString(),
			Name:       name,
			Type:       typ,
			Confidence: confidence,
		},
		ValidationLevel: types.LLMConfirmed,
	}
}

func TestIngestCreatesAndResolves(t *testing.T) {
	g, s := newTestGraph(t)
	ctx := context.Background()

	ep, err := g.GetOrCreateEpisode(ctx, "session-1", "")
	require.NoError(t, err)

	anna := candidate("Anna Schmidt", types.EntityTypePerson, 0.8)
	sap := candidate("SAP", types.EntityTypeOrganization, 0.9)
	result := extractionResult(anna, sap)
	result.Relations = []*types.Relation{{
		SourceID: anna.ID, TargetID: sap.ID,
		Type: types.RelationGeneric, Confidence: 0.7,
	}}
	result.Facts = []*types.Fact{{
		EntityID: anna.ID, Subject: "Anna Schmidt", Predicate: "works at", Object: "SAP",
		Type: types.FactObservation, Confidence: 0.7,
	}}

	warnings, err := g.Ingest(ctx, ep, result)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, 2, ep.EntityCount)
	assert.Equal(t, 1, ep.RelationCount)
	assert.Equal(t, 1, ep.FactCount)

	// Mentioning Anna again resolves onto the stored entity instead of
	// creating a duplicate.
	_, err = g.Ingest(ctx, ep, extractionResult(candidate("Anna Schmidt", types.EntityTypePerson, 0.95)))
	require.NoError(t, err)

	entities, err := s.FindEntities(ctx, EntityFilter{CanonicalName: "anna schmidt", OnlyValid: true})
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, 2, entities[0].OccurrenceCount)
	assert.InDelta(t, 0.95, entities[0].Confidence, 1e-9, "confidence only ever rises on re-sighting")
	assert.Equal(t, 2, ep.EntityCount, "resolved mention adds no entity")
}

func TestIngestRejectsDanglingReferences(t *testing.T) {
	g, s := newTestGraph(t)
	ctx := context.Background()

	ep, err := g.GetOrCreateEpisode(ctx, "session-1", "")
	require.NoError(t, err)

	anna := candidate("Anna", types.EntityTypePerson, 0.8)
	result := extractionResult(anna)
	result.Relations = []*types.Relation{{
		SourceID: anna.ID, TargetID: "nowhere",
		Type: types.RelationGeneric, Confidence: 0.5,
	}}
	result.Facts = []*types.Fact{{
		EntityID: anna.ID, Subject: "Anna", Predicate: "is", Object: "here",
		Type: types.FactObservation, Confidence: 0.5,
	}}

	warnings, err := g.Ingest(ctx, ep, result)
	require.NoError(t, err, "a dangling relation must not fail the whole ingest")
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "relation rejected")

	facts, err := s.FindFacts(ctx, FactFilter{OnlyValid: true})
	require.NoError(t, err)
	assert.Len(t, facts, 1, "the valid fact still lands")
	relations, err := s.FindRelations(ctx, RelationFilter{})
	require.NoError(t, err)
	assert.Empty(t, relations)
}

func TestIngestRequiresOpenEpisode(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	ep, err := g.GetOrCreateEpisode(ctx, "session-1", "")
	require.NoError(t, err)
	require.NoError(t, g.CloseEpisode(ctx, "session-1"))
	ep.Close(time.Now())

	_, err = g.Ingest(ctx, ep, extractionResult(candidate("Anna", types.EntityTypePerson, 0.8)))
	require.Error(t, err)
	var integrity *types.IntegrityError
	assert.True(t, errors.As(err, &integrity))
}

func TestMergeDuplicateEntities(t *testing.T) {
	g, s := newTestGraph(t)
	ctx := context.Background()

	ep, err := g.GetOrCreateEpisode(ctx, "session-1", "")
	require.NoError(t, err)

	winner := candidate("SAP GmbH", types.EntityTypeOrganization, 0.9)
	loser := candidate("SAP  GmbH Walldorf", types.EntityTypeOrganization, 0.7)
	_, err = g.Ingest(ctx, ep, extractionResult(winner, loser))
	require.NoError(t, err)

	// Attach a fact to the entity that will lose the merge.
	fact := &types.Fact{
		ID: uuid.NewString(), EntityID: loser.ID,
		Subject: "SAP GmbH Walldorf", Predicate: "located in", Object: "Walldorf",
		Type: types.FactObservation, Confidence: 0.8, EpisodeID: ep.ID,
		Validity: types.Interval{Start: time.Now()},
	}
	require.NoError(t, s.CreateFact(ctx, fact))

	// Occurrence tie breaks to the earlier first-seen; force the winner.
	w, err := s.GetEntity(ctx, winner.ID)
	require.NoError(t, err)
	w.OccurrenceCount = 5
	require.NoError(t, s.UpdateEntity(ctx, w))

	merged, err := g.MergeDuplicateEntities(ctx, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1, merged)

	// Winner absorbed the loser.
	w, err = s.GetEntity(ctx, winner.ID)
	require.NoError(t, err)
	assert.True(t, w.CurrentlyValid())
	assert.InDelta(t, 0.9, w.Confidence, 1e-9)
	assert.Equal(t, 6, w.OccurrenceCount)
	assert.Contains(t, w.Aliases, "SAP  GmbH Walldorf")

	// Loser is soft-invalidated, never deleted.
	l, err := s.GetEntity(ctx, loser.ID)
	require.NoError(t, err)
	assert.False(t, l.CurrentlyValid())

	// The loser's fact now points at the winner.
	facts, err := s.FindFacts(ctx, FactFilter{EntityIDs: []string{winner.ID}, OnlyValid: true})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "located in", facts[0].Predicate)

	// A second pass finds nothing to merge.
	merged, err = g.MergeDuplicateEntities(ctx, 0.5)
	require.NoError(t, err)
	assert.Zero(t, merged)
}

func TestCleanupOldFacts(t *testing.T) {
	g, s := newTestGraph(t)
	ctx := context.Background()
	now := time.Now().UTC()
	g.now = func() time.Time { return now }

	ep := makeEpisode(t, s, "s1")
	e := makeEntity(ep.ID, "Anna", types.EntityTypePerson)
	require.NoError(t, s.CreateEntity(ctx, e))

	stale := &types.Fact{
		ID: uuid.NewString(), EntityID: e.ID,
		Subject: "Anna", Predicate: "was", Object: "intern",
		Type: types.FactObservation, Confidence: 0.6, EpisodeID: ep.ID,
		Validity: types.Interval{Start: now.Add(-100 * 24 * time.Hour)},
	}
	fresh := &types.Fact{
		ID: uuid.NewString(), EntityID: e.ID,
		Subject: "Anna", Predicate: "is", Object: "engineer",
		Type: types.FactObservation, Confidence: 0.8, EpisodeID: ep.ID,
		Validity: types.Interval{Start: now.Add(-24 * time.Hour)},
	}
	require.NoError(t, s.CreateFact(ctx, stale))
	require.NoError(t, s.CreateFact(ctx, fresh))

	closed, err := g.CleanupOldFacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	valid, err := s.FindFacts(ctx, FactFilter{OnlyValid: true})
	require.NoError(t, err)
	require.Len(t, valid, 1)
	assert.Equal(t, fresh.ID, valid[0].ID)

	// The stale fact is closed, not deleted.
	all, err := s.FindFacts(ctx, FactFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestQueryScopedBySession(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	ep1, err := g.GetOrCreateEpisode(ctx, "session-1", "")
	require.NoError(t, err)
	_, err = g.Ingest(ctx, ep1, extractionResult(
		candidate("database migration", types.EntityTypeProcess, 0.8),
		candidate("PostgreSQL", types.EntityTypeTechnology, 0.9),
	))
	require.NoError(t, err)

	ep2, err := g.GetOrCreateEpisode(ctx, "session-2", "")
	require.NoError(t, err)
	_, err = g.Ingest(ctx, ep2, extractionResult(
		candidate("birthday cake", types.EntityTypeConcept, 0.7),
	))
	require.NoError(t, err)

	res, err := g.Query(ctx, "database migration status", "session-1", nil, 0)
	require.NoError(t, err)
	require.Len(t, res.Entities, 2)
	assert.Equal(t, "database migration", res.Entities[0].Name, "best similarity ranks first")
	assert.InDelta(t, 0.85, res.AggregateConfidence, 1e-9)

	res, err = g.Query(ctx, "anything", "session-2", []types.EntityType{types.EntityTypeTechnology}, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Entities, "type filter excludes the other session's concept")

	res, err = g.Query(ctx, "cake", "", nil, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Entities, "empty session searches globally")
}

func TestQueryConfidenceThreshold(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	ep, err := g.GetOrCreateEpisode(ctx, "session-1", "")
	require.NoError(t, err)
	_, err = g.Ingest(ctx, ep, extractionResult(
		candidate("strong", types.EntityTypeConcept, 0.9),
		candidate("weak", types.EntityTypeConcept, 0.4),
	))
	require.NoError(t, err)

	res, err := g.Query(ctx, "", "session-1", nil, 0.6)
	require.NoError(t, err)
	require.Len(t, res.Entities, 1)
	assert.Equal(t, "strong", res.Entities[0].Name)
}

func TestQueryCapsResultsAtTopK(t *testing.T) {
	s := newTestStore(t)
	g := NewTemporalGraphStore(s, embedder.NewMockClient(32), config.StoreConfig{
		RetentionDays: 90,
		MergeRetries:  3,
		QueryTopK:     2,
	}, nil)
	ctx := context.Background()

	ep, err := g.GetOrCreateEpisode(ctx, "session-1", "")
	require.NoError(t, err)
	_, err = g.Ingest(ctx, ep, extractionResult(
		candidate("alpha service", types.EntityTypeService, 0.8),
		candidate("beta service", types.EntityTypeService, 0.8),
		candidate("gamma service", types.EntityTypeService, 0.8),
	))
	require.NoError(t, err)

	res, err := g.Query(ctx, "service", "", nil, 0)
	require.NoError(t, err)
	assert.Len(t, res.Entities, 2)
}

func TestSearchEntitiesMatchesNamesAndAliases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ep := makeEpisode(t, s, "session-1")

	anna := makeEntity(ep.ID, "Anna Schmidt", types.EntityTypePerson)
	anna.Aliases = []string{"Schmidt, Anna"}
	require.NoError(t, s.CreateEntity(ctx, anna))
	require.NoError(t, s.CreateEntity(ctx, makeEntity(ep.ID, "Max Weber", types.EntityTypePerson)))

	byName, err := s.SearchEntities(ctx, "anna", EntityFilter{OnlyValid: true})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, anna.ID, byName[0].ID)

	byAlias, err := s.SearchEntities(ctx, "Schmidt, Anna", EntityFilter{OnlyValid: true})
	require.NoError(t, err)
	require.Len(t, byAlias, 1)
	assert.Equal(t, anna.ID, byAlias[0].ID)

	none, err := s.SearchEntities(ctx, "nobody", EntityFilter{OnlyValid: true})
	require.NoError(t, err)
	assert.Empty(t, none)
}
