package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/contextmem/contextmem/pkg/config"
	"github.com/contextmem/contextmem/pkg/embedder"
	"github.com/contextmem/contextmem/pkg/types"
	"github.com/contextmem/contextmem/pkg/utils"
)

// GraphQueryResult bundles the knowledge returned by a graph query together
// with the mean confidence of the matched entities.
type GraphQueryResult struct {
	Entities            []*types.Entity
	Relations           []*types.Relation
	Facts               []*types.Fact
	AggregateConfidence float64
}

// TemporalGraphStore manages the bi-temporal knowledge graph on top of a
// PersistentStore: episode lifecycle, transactional ingestion of extraction
// results, duplicate merging, retention cleanup, and scoped querying.
//
// Writes never hard-delete; superseded rows are closed by setting the end of
// their validity interval.
type TemporalGraphStore struct {
	store  PersistentStore
	embed  embedder.Client
	cfg    config.StoreConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewTemporalGraphStore wires the graph store. The embedding client may be
// nil; similarity then falls back to text matching.
func NewTemporalGraphStore(store PersistentStore, embed embedder.Client, cfg config.StoreConfig, logger *slog.Logger) *TemporalGraphStore {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MergeRetries <= 0 {
		cfg.MergeRetries = 3
	}
	if cfg.QueryTopK <= 0 {
		cfg.QueryTopK = 20
	}
	return &TemporalGraphStore{
		store:  store,
		embed:  embed,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// GetOrCreateEpisode returns the open episode for the session, creating one
// lazily on the first call. Repeated calls while the episode stays open return
// the same episode.
func (g *TemporalGraphStore) GetOrCreateEpisode(ctx context.Context, sessionID, userID string) (*types.Episode, error) {
	if sessionID == "" {
		return nil, types.ErrEmptySessionID
	}

	open, err := g.store.FindEpisodes(ctx, EpisodeFilter{SessionID: sessionID, OnlyOpen: true, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("find open episode: %w", err)
	}
	if len(open) > 0 {
		return open[0], nil
	}

	now := g.now()
	ep := &types.Episode{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    userID,
		Name:      fmt.Sprintf("session %s", sessionID),
		Validity:  types.Interval{Start: now},
		CreatedAt: now,
	}
	if err := g.store.CreateEpisode(ctx, ep); err != nil {
		return nil, fmt.Errorf("create episode: %w", err)
	}
	g.logger.Debug("episode opened", "episode_id", ep.ID, "session_id", sessionID)
	return ep, nil
}

// CloseEpisode ends every open episode of the session. A later message in the
// same session opens a fresh episode.
func (g *TemporalGraphStore) CloseEpisode(ctx context.Context, sessionID string) error {
	open, err := g.store.FindEpisodes(ctx, EpisodeFilter{SessionID: sessionID, OnlyOpen: true})
	if err != nil {
		return fmt.Errorf("find open episodes: %w", err)
	}

	now := g.now()
	for _, ep := range open {
		ep.Close(now)
		if err := g.store.UpdateEpisode(ctx, ep); err != nil {
			return fmt.Errorf("close episode %s: %w", ep.ID, err)
		}
	}
	return nil
}

// Ingest writes an extraction result into the graph under the given episode,
// atomically. Entities resolve against existing valid entities by canonical
// name and type; relations and facts are written only after their entities
// exist. A relation or fact whose endpoint cannot be resolved is rejected
// individually and reported as a warning, without failing the rest.
func (g *TemporalGraphStore) Ingest(ctx context.Context, ep *types.Episode, result *types.ExtractionResult) ([]string, error) {
	if ep == nil || !ep.Open() {
		return nil, &types.IntegrityError{Kind: "episode", Ref: episodeRef(ep), Detail: "episode is not open"}
	}
	if result == nil {
		return nil, nil
	}

	now := g.now()
	var warnings []string

	// Entity IDs assigned by the pipeline are remapped onto stored IDs when a
	// candidate resolves to an existing entity.
	idMap := make(map[string]string, len(result.Entities))

	err := g.store.WithTx(ctx, func(tx PersistentStore) error {
		entityCount := 0
		for _, cand := range result.Entities {
			storedID, created, err := g.resolveEntity(ctx, tx, cand, ep, now)
			if err != nil {
				return err
			}
			if cand.ID != "" {
				idMap[cand.ID] = storedID
			}
			if created {
				entityCount++
			}
		}

		relationCount := 0
		for _, rel := range result.Relations {
			r := *rel
			r.ID = uuid.NewString()
			r.SourceID = remapID(idMap, r.SourceID)
			r.TargetID = remapID(idMap, r.TargetID)
			r.EpisodeID = ep.ID
			r.Validity = types.Interval{Start: now}
			if r.Weight == 0 {
				r.Weight = 1
			}

			if err := tx.CreateRelation(ctx, &r); err != nil {
				var integrity *types.IntegrityError
				if errors.As(err, &integrity) {
					warnings = append(warnings, fmt.Sprintf("relation rejected: %v", err))
					continue
				}
				return err
			}
			relationCount++
		}

		factCount := 0
		for _, fact := range result.Facts {
			f := *fact
			f.ID = uuid.NewString()
			f.EntityID = remapID(idMap, f.EntityID)
			f.EpisodeID = ep.ID
			f.Validity = types.Interval{Start: now}

			if err := tx.CreateFact(ctx, &f); err != nil {
				var integrity *types.IntegrityError
				if errors.As(err, &integrity) {
					warnings = append(warnings, fmt.Sprintf("fact rejected: %v", err))
					continue
				}
				return err
			}
			factCount++
		}

		ep.MessageCount++
		ep.EntityCount += entityCount
		ep.RelationCount += relationCount
		ep.FactCount += factCount
		return tx.UpdateEpisode(ctx, ep)
	})
	if err != nil {
		return warnings, fmt.Errorf("ingest: %w", err)
	}

	g.logger.Debug("extraction ingested",
		"episode_id", ep.ID,
		"entities", len(result.Entities),
		"relations", len(result.Relations),
		"facts", len(result.Facts),
		"rejected", len(warnings))
	return warnings, nil
}

// resolveEntity finds the currently valid entity matching the candidate by
// canonical name and type, updating it in place, or creates a new one.
func (g *TemporalGraphStore) resolveEntity(ctx context.Context, tx PersistentStore, cand *types.ExtractedEntity, ep *types.Episode, now time.Time) (string, bool, error) {
	canonical := cand.CanonicalName
	if canonical == "" {
		canonical = types.CanonicalName(cand.Name)
	}

	existing, err := tx.FindEntities(ctx, EntityFilter{
		CanonicalName: canonical,
		Types:         []types.EntityType{cand.Type},
		OnlyValid:     true,
		Limit:         1,
	})
	if err != nil {
		return "", false, fmt.Errorf("resolve entity %q: %w", cand.Name, err)
	}

	if len(existing) > 0 {
		e := existing[0]
		e.Touch(now)
		if cand.Confidence > e.Confidence {
			e.Confidence = cand.Confidence
		}
		e.AddAlias(cand.Name)
		if err := tx.UpdateEntity(ctx, e); err != nil {
			return "", false, fmt.Errorf("update entity %q: %w", e.Name, err)
		}
		return e.ID, false, nil
	}

	e := cand.Entity
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CanonicalName = canonical
	e.EpisodeID = ep.ID
	e.Validity = types.Interval{Start: now}
	e.Version = 1
	if e.FirstSeen.IsZero() {
		e.FirstSeen = now
	}
	if e.LastSeen.IsZero() {
		e.LastSeen = now
	}
	if e.OccurrenceCount == 0 {
		e.OccurrenceCount = 1
	}
	if len(e.Embedding) == 0 && g.embed != nil {
		if vec, embErr := g.embed.EmbedSingle(ctx, e.Name); embErr == nil {
			e.Embedding = vec
		} else {
			g.logger.Warn("entity embedding skipped", "entity", e.Name, "error", embErr)
		}
	}

	if err := tx.CreateEntity(ctx, &e); err != nil {
		return "", false, fmt.Errorf("create entity %q: %w", e.Name, err)
	}
	cand.ID = e.ID
	return e.ID, true, nil
}

// MergeDuplicateEntities folds currently valid entities of the same type whose
// similarity meets the threshold. The older, more frequently seen entity wins;
// the loser is soft-invalidated and its relations and facts are re-pointed at
// the winner. Running it twice is a no-op because invalidated losers are never
// considered again.
func (g *TemporalGraphStore) MergeDuplicateEntities(ctx context.Context, threshold float64) (int, error) {
	entities, err := g.store.FindEntities(ctx, EntityFilter{OnlyValid: true})
	if err != nil {
		return 0, fmt.Errorf("load entities: %w", err)
	}

	merged := 0
	absorbed := make(map[string]bool)
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			a, b := entities[i], entities[j]
			if absorbed[a.ID] || absorbed[b.ID] {
				continue
			}
			if a.Type != b.Type || !g.similar(a, b, threshold) {
				continue
			}

			winner, loser := pickWinner(a, b)
			if err := g.mergePair(ctx, winner, loser); err != nil {
				var conflict *types.ConflictError
				if errors.As(err, &conflict) {
					g.logger.Warn("merge dropped after retries",
						"winner", winner.ID, "loser", loser.ID, "error", err)
					continue
				}
				return merged, err
			}
			absorbed[loser.ID] = true
			merged++
		}
	}
	return merged, nil
}

// similar decides duplicate candidacy: equal canonical names always match;
// otherwise embedding cosine similarity, falling back to token overlap.
func (g *TemporalGraphStore) similar(a, b *types.Entity, threshold float64) bool {
	if a.CanonicalName == b.CanonicalName {
		return true
	}
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		return utils.CosineSimilarity(a.Embedding, b.Embedding) >= threshold
	}
	return utils.TokenJaccard(a.Name, b.Name) >= threshold
}

func pickWinner(a, b *types.Entity) (winner, loser *types.Entity) {
	if b.OccurrenceCount > a.OccurrenceCount {
		return b, a
	}
	if a.OccurrenceCount == b.OccurrenceCount && b.FirstSeen.Before(a.FirstSeen) {
		return b, a
	}
	return a, b
}

// mergePair performs one winner-absorbs-loser merge transactionally, retrying
// the winner update on version conflicts up to the configured bound.
func (g *TemporalGraphStore) mergePair(ctx context.Context, winner, loser *types.Entity) error {
	now := g.now()

	var lastErr error
	for attempt := 0; attempt < g.cfg.MergeRetries; attempt++ {
		err := g.store.WithTx(ctx, func(tx PersistentStore) error {
			types.MergeEntities(winner, loser)
			if err := tx.UpdateEntity(ctx, winner); err != nil {
				return err
			}

			loser.Invalidate(now)
			if err := tx.UpdateEntity(ctx, loser); err != nil {
				return err
			}

			// Re-point edges and facts before the loser disappears from
			// valid-entity lookups.
			relations, err := tx.FindRelations(ctx, RelationFilter{EntityIDs: []string{loser.ID}, OnlyValid: true})
			if err != nil {
				return err
			}
			for _, r := range relations {
				if r.SourceID == loser.ID {
					r.SourceID = winner.ID
				}
				if r.TargetID == loser.ID {
					r.TargetID = winner.ID
				}
				if err := tx.UpdateRelation(ctx, r); err != nil {
					return err
				}
			}

			facts, err := tx.FindFacts(ctx, FactFilter{EntityIDs: []string{loser.ID}, OnlyValid: true})
			if err != nil {
				return err
			}
			for _, f := range facts {
				f.EntityID = winner.ID
				if err := tx.UpdateFact(ctx, f); err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil {
			g.logger.Info("entities merged", "winner", winner.ID, "loser", loser.ID)
			return nil
		}

		var conflict *types.ConflictError
		if !errors.As(err, &conflict) {
			return fmt.Errorf("merge %s into %s: %w", loser.ID, winner.ID, err)
		}
		lastErr = err

		// Reload both sides and retry against the fresh versions.
		fresh, getErr := g.store.GetEntity(ctx, winner.ID)
		if getErr != nil {
			return fmt.Errorf("reload merge winner: %w", getErr)
		}
		*winner = *fresh
		fresh, getErr = g.store.GetEntity(ctx, loser.ID)
		if getErr != nil {
			return fmt.Errorf("reload merge loser: %w", getErr)
		}
		*loser = *fresh
		if !loser.CurrentlyValid() {
			// Someone else already absorbed it.
			return nil
		}
	}
	return lastErr
}

// CleanupOldFacts soft-invalidates currently valid facts older than the
// retention window. Nothing is deleted; closed facts stay queryable by
// explicit historical lookups.
func (g *TemporalGraphStore) CleanupOldFacts(ctx context.Context) (int, error) {
	if g.cfg.RetentionDays <= 0 {
		return 0, nil
	}

	now := g.now()
	cutoff := now.Add(-time.Duration(g.cfg.RetentionDays) * 24 * time.Hour)
	old, err := g.store.FindFacts(ctx, FactFilter{OnlyValid: true, CreatedBefore: cutoff})
	if err != nil {
		return 0, fmt.Errorf("find old facts: %w", err)
	}

	closed := 0
	for _, f := range old {
		f.Validity.Close(now)
		if err := g.store.UpdateFact(ctx, f); err != nil {
			return closed, fmt.Errorf("close fact %s: %w", f.ID, err)
		}
		closed++
	}
	if closed > 0 {
		g.logger.Info("retention cleanup", "facts_closed", closed, "cutoff", cutoff)
	}
	return closed, nil
}

// Query retrieves currently valid entities matching the query text, ranked by
// similarity, together with the relations and facts attached to them. An empty
// sessionID searches across all sessions; a non-empty one restricts the search
// to that session's episodes.
func (g *TemporalGraphStore) Query(ctx context.Context, queryText, sessionID string, entityTypes []types.EntityType, confidenceThreshold float64) (*GraphQueryResult, error) {
	filter := EntityFilter{
		Types:         entityTypes,
		MinConfidence: confidenceThreshold,
		OnlyValid:     true,
	}
	if sessionID != "" {
		episodes, err := g.store.FindEpisodes(ctx, EpisodeFilter{SessionID: sessionID})
		if err != nil {
			return nil, fmt.Errorf("find session episodes: %w", err)
		}
		if len(episodes) == 0 {
			return &GraphQueryResult{}, nil
		}
		for _, ep := range episodes {
			filter.EpisodeIDs = append(filter.EpisodeIDs, ep.ID)
		}
	}

	candidates, err := g.store.FindEntities(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find entities: %w", err)
	}
	if len(candidates) == 0 {
		return &GraphQueryResult{}, nil
	}

	ranked := g.rankBySimilarity(ctx, queryText, candidates)

	result := &GraphQueryResult{Entities: ranked}
	var sum float64
	ids := make([]string, len(ranked))
	for i, e := range ranked {
		ids[i] = e.ID
		sum += e.Confidence
	}
	result.AggregateConfidence = sum / float64(len(ranked))

	result.Relations, err = g.store.FindRelations(ctx, RelationFilter{EntityIDs: ids, OnlyValid: true})
	if err != nil {
		return nil, fmt.Errorf("find relations: %w", err)
	}
	result.Facts, err = g.store.FindFacts(ctx, FactFilter{EntityIDs: ids, OnlyValid: true})
	if err != nil {
		return nil, fmt.Errorf("find facts: %w", err)
	}
	return result, nil
}

// rankBySimilarity orders candidates by query similarity. With an embedding
// client the query vector is compared against stored entity embeddings;
// entities without embeddings, or any embedding failure, fall back to token
// overlap against the name and aliases.
func (g *TemporalGraphStore) rankBySimilarity(ctx context.Context, queryText string, candidates []*types.Entity) []*types.Entity {
	var queryVec []float32
	if g.embed != nil && queryText != "" {
		vec, err := g.embed.EmbedSingle(ctx, queryText)
		if err != nil {
			g.logger.Warn("query embedding failed, using text similarity", "error", err)
		} else {
			queryVec = vec
		}
	}

	scored := make([]utils.ScoredItem[*types.Entity], len(candidates))
	for i, e := range candidates {
		score := 0.0
		if len(queryVec) > 0 && len(e.Embedding) > 0 {
			score = utils.CosineSimilarity(queryVec, e.Embedding)
		} else if queryText != "" {
			score = utils.TextOverlapSimilarity(queryText, entitySearchText(e))
		}
		scored[i] = utils.ScoredItem[*types.Entity]{Item: e, Score: score}
	}

	top := utils.TopKByScore(scored, g.cfg.QueryTopK)
	ranked := make([]*types.Entity, len(top))
	for i, s := range top {
		ranked[i] = s.Item
	}
	return ranked
}

func entitySearchText(e *types.Entity) string {
	text := e.Name
	for _, a := range e.Aliases {
		text += " " + a
	}
	return text
}

func remapID(idMap map[string]string, id string) string {
	if mapped, ok := idMap[id]; ok {
		return mapped
	}
	return id
}

func episodeRef(ep *types.Episode) string {
	if ep == nil {
		return ""
	}
	return ep.ID
}
