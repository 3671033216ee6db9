// Package memory implements the context memory system: scoped, mode-aware
// retrieval of prior knowledge for a conversation turn, with a TTL-bounded
// cache and response enhancement from retrieved context.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/contextmem/contextmem/pkg/config"
	"github.com/contextmem/contextmem/pkg/embedder"
	"github.com/contextmem/contextmem/pkg/store"
	"github.com/contextmem/contextmem/pkg/types"
	"github.com/contextmem/contextmem/pkg/utils"
)

// ErrUnsupportedScope is returned for declared but unimplemented scopes,
// currently community knowledge.
var ErrUnsupportedScope = errors.New("memory scope not supported")

// candidateLimit bounds how many stored rows one retrieval considers before
// scoring.
const candidateLimit = 500

// System retrieves ranked prior knowledge from the graph for a query.
type System struct {
	store  store.PersistentStore
	embed  embedder.Client
	cfg    config.MemoryConfig
	cache  *contextCache
	logger *slog.Logger
	now    func() time.Time
}

// NewSystem wires the memory system. The embedding client may be nil;
// similarity then falls back to text overlap.
func NewSystem(ps store.PersistentStore, embed embedder.Client, cfg config.MemoryConfig, logger *slog.Logger) *System {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxContextEntities <= 0 {
		cfg.MaxContextEntities = 20
	}
	if cfg.MaxContextFacts <= 0 {
		cfg.MaxContextFacts = 50
	}
	cfg.Weights.Normalize()
	return &System{
		store:  ps,
		embed:  embed,
		cfg:    cfg,
		cache:  newContextCache(cfg.CacheSize, cfg.CacheTTL()),
		logger: logger,
		now:    time.Now,
	}
}

// GetContextualMemory retrieves ranked entities, facts, and relations for the
// query under the given mode and scope. horizonHours bounds how far back
// entities may have been last seen; zero falls back to the configured default
// horizon (which may itself be unbounded). Results are cached per session
// until the TTL elapses or new knowledge is ingested for the session.
func (s *System) GetContextualMemory(ctx context.Context, query, sessionID, userID string, mode types.RetrievalMode, scope types.MemoryScope, horizonHours int) (*types.MemoryContext, error) {
	if sessionID == "" {
		return nil, types.ErrEmptySessionID
	}
	if mode == "" {
		mode = types.Comprehensive
	}
	if scope == "" {
		scope = types.ScopeSession
	}
	if scope == types.ScopeCommunity {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScope, scope)
	}

	if horizonHours <= 0 {
		horizonHours = s.cfg.DefaultTimeHorizonHours
	}

	key := s.cache.key(sessionID, query, mode, scope, horizonHours)
	if cached, ok := s.cache.get(key); ok {
		s.logger.Debug("memory cache hit", "session_id", sessionID, "mode", mode)
		return cached, nil
	}

	episodeIDs, err := s.scopeEpisodes(ctx, sessionID, userID, scope)
	if err != nil {
		return nil, err
	}

	mc := types.EmptyMemoryContext(query, sessionID)
	mc.Mode = mode
	mc.Scope = scope
	mc.GeneratedAt = s.now()

	if scope != types.ScopeGlobal && len(episodeIDs) == 0 {
		// Nothing has been recorded in scope yet.
		s.cache.put(key, mc)
		return mc, nil
	}

	entityFilter := store.EntityFilter{
		EpisodeIDs: episodeIDs,
		OnlyValid:  true,
		Limit:      candidateLimit,
	}
	if horizonHours > 0 {
		entityFilter.LastSeenAfter = s.now().Add(-time.Duration(horizonHours) * time.Hour)
	}

	var (
		entities []*types.Entity
		facts    []*types.Fact
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entities, err = s.store.FindEntities(gctx, entityFilter)
		if err != nil {
			return fmt.Errorf("load entities: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		facts, err = s.store.FindFacts(gctx, store.FactFilter{
			EpisodeIDs: episodeIDs,
			OnlyValid:  true,
			Limit:      candidateLimit,
		})
		if err != nil {
			return fmt.Errorf("load facts: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scorer := newRelevanceScorer(s.cfg.Weights, s.now(), query, s.queryVector(ctx, query))

	scoredEntities := make([]utils.ScoredItem[*types.Entity], len(entities))
	for i, e := range entities {
		scoredEntities[i] = utils.ScoredItem[*types.Entity]{Item: e, Score: scorer.scoreEntity(e, mode)}
	}
	for _, se := range utils.TopKByScore(scoredEntities, s.cfg.MaxContextEntities) {
		mc.Entities = append(mc.Entities, &types.ScoredEntity{Entity: se.Item, Relevance: se.Score})
	}

	scoredFacts := make([]utils.ScoredItem[*types.Fact], len(facts))
	for i, f := range facts {
		scoredFacts[i] = utils.ScoredItem[*types.Fact]{Item: f, Score: scorer.scoreFact(f, mode)}
	}
	for _, sf := range utils.TopKByScore(scoredFacts, s.cfg.MaxContextFacts) {
		mc.Facts = append(mc.Facts, &types.ScoredFact{Fact: sf.Item, Relevance: sf.Score})
	}

	if len(mc.Entities) > 0 {
		ids := make([]string, len(mc.Entities))
		for i, se := range mc.Entities {
			ids[i] = se.Entity.ID
		}
		mc.Relations, err = s.store.FindRelations(ctx, store.RelationFilter{EntityIDs: ids, OnlyValid: true})
		if err != nil {
			return nil, fmt.Errorf("load relations: %w", err)
		}
		mc.ConfidenceLevel = contextConfidence(mc)
	}

	mc.Summary = s.summarize(ctx, mc)

	s.cache.put(key, mc)
	s.logger.Debug("memory retrieved",
		"session_id", sessionID,
		"mode", mode,
		"scope", scope,
		"entities", len(mc.Entities),
		"facts", len(mc.Facts))
	return mc, nil
}

// contextConfidence blends mean entity confidence, mean fact confidence, and
// mean relevance into the context's overall confidence level. An empty fact
// set contributes zero.
func contextConfidence(mc *types.MemoryContext) float64 {
	if len(mc.Entities) == 0 {
		return 0
	}

	var entityConf, relevance float64
	for _, se := range mc.Entities {
		entityConf += se.Entity.Confidence
		relevance += se.Relevance
	}
	entityConf /= float64(len(mc.Entities))
	relevance /= float64(len(mc.Entities))

	var factConf float64
	if len(mc.Facts) > 0 {
		for _, sf := range mc.Facts {
			factConf += sf.Fact.Confidence
		}
		factConf /= float64(len(mc.Facts))
	}

	return types.ClampConfidence(0.4*entityConf + 0.3*factConf + 0.3*relevance)
}

// InvalidateSession drops the session's cached contexts. Called after every
// ingest so reads never serve pre-write knowledge past a write.
func (s *System) InvalidateSession(sessionID string) {
	s.cache.invalidate(sessionID)
}

// InvalidateAll drops every cached context. Called after graph-wide mutations
// such as duplicate merging or retention cleanup, which can change knowledge
// in any session's scope.
func (s *System) InvalidateAll() {
	s.cache.purge()
}

// scopeEpisodes resolves the episode set a scope may read from. Global scope
// returns nil, meaning no episode constraint.
func (s *System) scopeEpisodes(ctx context.Context, sessionID, userID string, scope types.MemoryScope) ([]string, error) {
	var filter store.EpisodeFilter
	switch scope {
	case types.ScopeSession:
		filter.SessionID = sessionID
	case types.ScopeUser:
		if userID == "" {
			filter.SessionID = sessionID
		} else {
			filter.UserID = userID
		}
	case types.ScopeGlobal:
		return nil, nil
	}

	episodes, err := s.store.FindEpisodes(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("resolve scope episodes: %w", err)
	}
	ids := make([]string, len(episodes))
	for i, ep := range episodes {
		ids[i] = ep.ID
	}
	return ids, nil
}

func (s *System) queryVector(ctx context.Context, query string) []float32 {
	if s.embed == nil || query == "" {
		return nil
	}
	vec, err := s.embed.EmbedSingle(ctx, query)
	if err != nil {
		s.logger.Warn("query embedding failed, using text similarity", "error", err)
		return nil
	}
	return vec
}

// summarize renders a short natural-language digest of the context: the top
// entities, the most relevant facts, and the episode the session is in.
func (s *System) summarize(ctx context.Context, mc *types.MemoryContext) string {
	if len(mc.Entities) == 0 && len(mc.Facts) == 0 {
		return ""
	}

	var b strings.Builder
	if len(mc.Entities) > 0 {
		names := make([]string, 0, 5)
		for _, se := range mc.Entities {
			names = append(names, se.Entity.Name)
			if len(names) == 5 {
				break
			}
		}
		b.WriteString("Known entities: ")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString(".")
	}

	if len(mc.Facts) > 0 {
		// The summary shows the most recently recorded facts, not the most
		// relevant ones.
		recent := make([]*types.ScoredFact, len(mc.Facts))
		copy(recent, mc.Facts)
		sort.Slice(recent, func(i, j int) bool {
			return recent[i].Fact.Validity.Start.After(recent[j].Fact.Validity.Start)
		})
		count := len(recent)
		if count > 3 {
			count = 3
		}
		for _, sf := range recent[:count] {
			f := sf.Fact
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(strings.Join([]string{f.Subject, f.Predicate, f.Object}, " ")))
			b.WriteString(".")
		}
	}

	episodes, err := s.store.FindEpisodes(ctx, store.EpisodeFilter{SessionID: mc.SessionID, OnlyOpen: true, Limit: 1})
	if err == nil && len(episodes) > 0 && episodes[0].Name != "" {
		b.WriteString(" Current episode: ")
		b.WriteString(episodes[0].Name)
		b.WriteString(".")
	}
	return b.String()
}
