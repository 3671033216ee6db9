package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextmem/contextmem/pkg/config"
	"github.com/contextmem/contextmem/pkg/store"
	"github.com/contextmem/contextmem/pkg/types"
)

func testMemoryConfig() config.MemoryConfig {
	return config.MemoryConfig{
		MaxContextEntities: 20,
		MaxContextFacts:    50,
		CacheTTLSeconds:    300,
		CacheSize:          64,
		Weights:            config.DefaultScoringWeights(),
	}
}

func newTestSystem(t *testing.T) (*System, *store.SQLite) {
	t.Helper()
	s, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewSystem(s, nil, testMemoryConfig(), nil), s
}

func seedEpisode(t *testing.T, s *store.SQLite, sessionID, userID string) *types.Episode {
	t.Helper()
	now := time.Now().UTC()
	ep := &types.Episode{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		Name:      "session " + sessionID,
		Validity:  types.Interval{Start: now},
		CreatedAt: now,
	}
	require.NoError(t, s.CreateEpisode(context.Background(), ep))
	return ep
}

func seedEntity(t *testing.T, s *store.SQLite, episodeID, name string, confidence float64, lastSeen time.Time) *types.Entity {
	t.Helper()
	e := &types.Entity{
		ID:              uuid.NewString(),
		Name:            name,
		CanonicalName:   types.CanonicalName(name),
		Type:            types.EntityTypeConcept,
		Confidence:      confidence,
		Validity:        types.Interval{Start: lastSeen},
		FirstSeen:       lastSeen,
		LastSeen:        lastSeen,
		OccurrenceCount: 1,
		EpisodeID:       episodeID,
		Version:         1,
	}
	require.NoError(t, s.CreateEntity(context.Background(), e))
	return e
}

func seedFact(t *testing.T, s *store.SQLite, episodeID, entityID, subject, predicate, object string) *types.Fact {
	t.Helper()
	f := &types.Fact{
		ID:         uuid.NewString(),
		EntityID:   entityID,
		Subject:    subject,
		Predicate:  predicate,
		Object:     object,
		Type:       types.FactObservation,
		Confidence: 0.8,
		Validity:   types.Interval{Start: time.Now().UTC()},
		EpisodeID:  episodeID,
	}
	require.NoError(t, s.CreateFact(context.Background(), f))
	return f
}

func entityNames(mc *types.MemoryContext) []string {
	names := make([]string, len(mc.Entities))
	for i, se := range mc.Entities {
		names[i] = se.Entity.Name
	}
	return names
}

func TestRetrievalModesRankDifferently(t *testing.T) {
	sys, s := newTestSystem(t)
	ctx := context.Background()
	now := time.Now().UTC()
	ep := seedEpisode(t, s, "s1", "")

	seedEntity(t, s, ep.ID, "fresh topic", 0.5, now)
	seedEntity(t, s, ep.ID, "critical system", 0.95, now.Add(-100*time.Hour))
	seedEntity(t, s, ep.ID, "database migration", 0.5, now.Add(-100*time.Hour))

	cases := []struct {
		mode  types.RetrievalMode
		first string
	}{
		{types.RecentFirst, "fresh topic"},
		{types.ImportanceFirst, "critical system"},
		{types.RelevanceFirst, "database migration"},
	}
	for _, tc := range cases {
		mc, err := sys.GetContextualMemory(ctx, "database migration", "s1", "", tc.mode, types.ScopeSession, 0)
		require.NoError(t, err)
		require.NotEmpty(t, mc.Entities, "mode %s", tc.mode)
		assert.Equal(t, tc.first, mc.Entities[0].Entity.Name, "mode %s", tc.mode)
		assert.Equal(t, tc.mode, mc.Mode)
	}
}

func TestComprehensiveBlendsAllSignals(t *testing.T) {
	sys, s := newTestSystem(t)
	ctx := context.Background()
	now := time.Now().UTC()
	ep := seedEpisode(t, s, "s1", "")

	// Recent, relevant, and confident beats stale and unrelated on the blend.
	seedEntity(t, s, ep.ID, "database migration", 0.9, now)
	seedEntity(t, s, ep.ID, "old trivia", 0.3, now.Add(-200*time.Hour))

	mc, err := sys.GetContextualMemory(ctx, "database migration", "s1", "", types.Comprehensive, types.ScopeSession, 0)
	require.NoError(t, err)
	require.Len(t, mc.Entities, 2)
	assert.Equal(t, "database migration", mc.Entities[0].Entity.Name)
	assert.Greater(t, mc.Entities[0].Relevance, mc.Entities[1].Relevance)
	assert.Greater(t, mc.ConfidenceLevel, 0.0)
	assert.NotEmpty(t, mc.Summary)
}

func TestScopeIsolation(t *testing.T) {
	sys, s := newTestSystem(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mine := seedEpisode(t, s, "s1", "u1")
	other := seedEpisode(t, s, "s2", "u2")
	seedEntity(t, s, mine.ID, "my topic", 0.8, now)
	seedEntity(t, s, other.ID, "their topic", 0.8, now)

	mc, err := sys.GetContextualMemory(ctx, "topic", "s1", "u1", types.Comprehensive, types.ScopeSession, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"my topic"}, entityNames(mc))

	mc, err = sys.GetContextualMemory(ctx, "topic", "s1", "u1", types.Comprehensive, types.ScopeGlobal, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"my topic", "their topic"}, entityNames(mc))

	_, err = sys.GetContextualMemory(ctx, "topic", "s1", "u1", types.Comprehensive, types.ScopeCommunity, 0)
	assert.ErrorIs(t, err, ErrUnsupportedScope)
}

func TestUserScopeSpansSessions(t *testing.T) {
	sys, s := newTestSystem(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := seedEpisode(t, s, "s1", "u1")
	second := seedEpisode(t, s, "s2", "u1")
	stranger := seedEpisode(t, s, "s3", "u2")
	seedEntity(t, s, first.ID, "earlier topic", 0.8, now)
	seedEntity(t, s, second.ID, "current topic", 0.8, now)
	seedEntity(t, s, stranger.ID, "foreign topic", 0.8, now)

	mc, err := sys.GetContextualMemory(ctx, "topic", "s2", "u1", types.Comprehensive, types.ScopeUser, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"earlier topic", "current topic"}, entityNames(mc))
}

func TestEmptyScopeReturnsEmptyContext(t *testing.T) {
	sys, _ := newTestSystem(t)

	mc, err := sys.GetContextualMemory(context.Background(), "anything", "brand-new", "", types.Comprehensive, types.ScopeSession, 0)
	require.NoError(t, err)
	assert.Empty(t, mc.Entities)
	assert.Empty(t, mc.Facts)
	assert.Zero(t, mc.ConfidenceLevel)
}

func TestCacheServesAndInvalidates(t *testing.T) {
	sys, s := newTestSystem(t)
	ctx := context.Background()
	now := time.Now().UTC()
	ep := seedEpisode(t, s, "s1", "")
	seedEntity(t, s, ep.ID, "first topic", 0.8, now)

	mc1, err := sys.GetContextualMemory(ctx, "topic", "s1", "", types.Comprehensive, types.ScopeSession, 0)
	require.NoError(t, err)

	// New knowledge lands but the cached context is served until invalidation.
	seedEntity(t, s, ep.ID, "second topic", 0.8, now)

	mc2, err := sys.GetContextualMemory(ctx, "topic", "s1", "", types.Comprehensive, types.ScopeSession, 0)
	require.NoError(t, err)
	assert.Same(t, mc1, mc2)

	sys.InvalidateSession("s1")

	mc3, err := sys.GetContextualMemory(ctx, "topic", "s1", "", types.Comprehensive, types.ScopeSession, 0)
	require.NoError(t, err)
	assert.Len(t, mc3.Entities, 2)
}

func TestCacheKeyIncludesModeAndScope(t *testing.T) {
	sys, s := newTestSystem(t)
	ctx := context.Background()
	ep := seedEpisode(t, s, "s1", "")
	seedEntity(t, s, ep.ID, "topic", 0.8, time.Now().UTC())

	byMode, err := sys.GetContextualMemory(ctx, "topic", "s1", "", types.RecentFirst, types.ScopeSession, 0)
	require.NoError(t, err)
	byOther, err := sys.GetContextualMemory(ctx, "topic", "s1", "", types.ImportanceFirst, types.ScopeSession, 0)
	require.NoError(t, err)
	assert.NotSame(t, byMode, byOther, "different modes never share a cache entry")
}

func TestContextConfidenceBlendsEntityFactAndRelevance(t *testing.T) {
	mc := types.EmptyMemoryContext("q", "s1")
	mc.Entities = []*types.ScoredEntity{
		{Entity: &types.Entity{Confidence: 0.9}, Relevance: 0.9},
		{Entity: &types.Entity{Confidence: 0.9}, Relevance: 0.85},
	}
	mc.Facts = []*types.ScoredFact{{Fact: &types.Fact{Confidence: 0.8}}}

	// 0.4·0.9 + 0.3·0.8 + 0.3·0.875
	assert.InDelta(t, 0.8625, contextConfidence(mc), 1e-9)

	// No facts: the fact term contributes nothing.
	mc.Facts = nil
	assert.InDelta(t, 0.6225, contextConfidence(mc), 1e-9)

	assert.Zero(t, contextConfidence(types.EmptyMemoryContext("q", "s1")))
}

func TestTimeHorizonBoundsRetrieval(t *testing.T) {
	sys, s := newTestSystem(t)
	ctx := context.Background()
	now := time.Now().UTC()
	ep := seedEpisode(t, s, "s1", "")
	seedEntity(t, s, ep.ID, "fresh topic", 0.8, now.Add(-time.Hour))
	seedEntity(t, s, ep.ID, "stale topic", 0.8, now.Add(-80*time.Hour))

	bounded, err := sys.GetContextualMemory(ctx, "topic", "s1", "", types.Comprehensive, types.ScopeSession, 24)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh topic"}, entityNames(bounded))

	unbounded, err := sys.GetContextualMemory(ctx, "topic", "s1", "", types.Comprehensive, types.ScopeSession, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fresh topic", "stale topic"}, entityNames(unbounded))
}

func TestRecentFirstOrdersBeyondDecayWindow(t *testing.T) {
	sys, s := newTestSystem(t)
	ctx := context.Background()
	now := time.Now().UTC()
	ep := seedEpisode(t, s, "s1", "")

	// All three are past the one-week decay window; ordering must still
	// follow last-seen, not confidence.
	seedEntity(t, s, ep.ID, "oldest topic", 0.99, now.Add(-400*time.Hour))
	seedEntity(t, s, ep.ID, "older topic", 0.5, now.Add(-300*time.Hour))
	seedEntity(t, s, ep.ID, "old topic", 0.2, now.Add(-200*time.Hour))

	mc, err := sys.GetContextualMemory(ctx, "topic", "s1", "", types.RecentFirst, types.ScopeSession, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"old topic", "older topic", "oldest topic"}, entityNames(mc))
}

func TestSummaryShowsMostRecentFacts(t *testing.T) {
	sys, _ := newTestSystem(t)
	now := time.Now().UTC()

	mc := types.EmptyMemoryContext("q", "s1")
	mc.Entities = []*types.ScoredEntity{{Entity: &types.Entity{Name: "alpha"}}}
	facts := []struct {
		subject string
		age     time.Duration
	}{
		{"ranked-first", 96 * time.Hour},
		{"newest", 1 * time.Hour},
		{"newer", 2 * time.Hour},
		{"recent", 3 * time.Hour},
	}
	for _, f := range facts {
		mc.Facts = append(mc.Facts, &types.ScoredFact{Fact: &types.Fact{
			Subject:   f.subject,
			Predicate: "is",
			Object:    "recorded",
			Validity:  types.Interval{Start: now.Add(-f.age)},
		}})
	}

	summary := sys.summarize(context.Background(), mc)
	assert.Contains(t, summary, "newest is recorded")
	assert.Contains(t, summary, "newer is recorded")
	assert.Contains(t, summary, "recent is recorded")
	assert.NotContains(t, summary, "ranked-first")
}

func TestInvalidateAllDropsEveryCachedContext(t *testing.T) {
	sys, s := newTestSystem(t)
	ctx := context.Background()
	now := time.Now().UTC()
	ep := seedEpisode(t, s, "s1", "")
	seedEntity(t, s, ep.ID, "first topic", 0.8, now)

	mc1, err := sys.GetContextualMemory(ctx, "topic", "s1", "", types.Comprehensive, types.ScopeSession, 0)
	require.NoError(t, err)

	seedEntity(t, s, ep.ID, "second topic", 0.8, now)
	sys.InvalidateAll()

	mc2, err := sys.GetContextualMemory(ctx, "topic", "s1", "", types.Comprehensive, types.ScopeSession, 0)
	require.NoError(t, err)
	assert.NotSame(t, mc1, mc2)
	assert.Len(t, mc2.Entities, 2)
}

func TestEnhanceResponseAttachesOnlyMentionedContext(t *testing.T) {
	mc := types.EmptyMemoryContext("q", "s1")
	mc.ConfidenceLevel = 0.8
	mc.Entities = []*types.ScoredEntity{
		{Entity: &types.Entity{Name: "PostgreSQL", CanonicalName: "postgresql", Type: types.EntityTypeTechnology}, Relevance: 0.9},
		{Entity: &types.Entity{Name: "Kafka", CanonicalName: "kafka", Type: types.EntityTypeTechnology}, Relevance: 0.8},
	}
	mc.Facts = []*types.ScoredFact{
		{Fact: &types.Fact{Subject: "PostgreSQL", Predicate: "runs on", Object: "version 16"}, Relevance: 0.9},
		{Fact: &types.Fact{Subject: "Kafka", Predicate: "handles", Object: "events"}, Relevance: 0.8},
	}

	resp := EnhanceResponse(
		"How is PostgreSQL doing?",
		"PostgreSQL is healthy after the upgrade.",
		mc)

	require.Len(t, resp.Entities, 1, "unmentioned context stays out")
	assert.Equal(t, "PostgreSQL", resp.Entities[0].Name)
	require.Len(t, resp.Facts, 1)
	assert.Equal(t, "runs on", resp.Facts[0].Predicate)
	assert.Contains(t, resp.ContextBlock, "PostgreSQL")
	assert.NotContains(t, resp.ContextBlock, "Kafka")
	assert.Greater(t, resp.Confidence, 0.7)
	assert.LessOrEqual(t, resp.Confidence, 1.0)
}

func TestEnhanceResponseCapsAttachments(t *testing.T) {
	mc := types.EmptyMemoryContext("q", "s1")
	exchangeWords := ""
	for _, name := range []string{"alpha", "beta", "gamma", "delta", "epsilon"} {
		mc.Entities = append(mc.Entities, &types.ScoredEntity{
			Entity: &types.Entity{Name: name, CanonicalName: name, Type: types.EntityTypeConcept},
		})
		mc.Facts = append(mc.Facts, &types.ScoredFact{
			Fact: &types.Fact{Subject: name, Predicate: "is", Object: "here"},
		})
		exchangeWords += name + " "
	}

	resp := EnhanceResponse(exchangeWords, "all of them", mc)
	assert.Len(t, resp.Entities, maxEnhancementEntities)
	assert.Len(t, resp.Facts, maxEnhancementFacts)
}

func TestEnhanceResponseConfidenceWeighting(t *testing.T) {
	mc := types.EmptyMemoryContext("q", "s1")
	mc.ConfidenceLevel = 0.5
	mc.Entities = []*types.ScoredEntity{
		{Entity: &types.Entity{Name: "Kafka", CanonicalName: "kafka", Type: types.EntityTypeTechnology}},
	}

	// Nothing mentioned: confidence = 0.7 + 0.3·0.5.
	resp := EnhanceResponse("unrelated question", "unrelated answer", mc)
	assert.InDelta(t, 0.85, resp.Confidence, 1e-9)

	// Full coverage clamps at 1.
	mc.ConfidenceLevel = 0.8
	resp = EnhanceResponse("How is Kafka doing?", "Kafka is fine.", mc)
	assert.InDelta(t, 1.0, resp.Confidence, 1e-9)
}

func TestEnhanceResponseWithoutContext(t *testing.T) {
	resp := EnhanceResponse("hello", "hi there", nil)
	assert.Equal(t, "hi there", resp.Answer)
	assert.Empty(t, resp.ContextBlock)
	assert.InDelta(t, 0.7, resp.Confidence, 1e-9)
}
