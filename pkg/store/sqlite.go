package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/contextmem/contextmem/pkg/types"
)

// querier abstracts *sql.DB and *sql.Tx so every CRUD method works both
// directly and inside WithTx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLite implements PersistentStore on modernc.org/sqlite.
type SQLite struct {
	db   *sql.DB
	q    querier
	inTx bool
}

// Open opens (or creates) the SQLite database at the given path, configures
// pragmas, and runs migrations.
func Open(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return initDB(sqlDB)
}

// OpenMemory opens an in-memory SQLite database, mainly for tests.
func OpenMemory() (*SQLite, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// The in-memory database vanishes when its last connection closes.
	sqlDB.SetMaxOpenConns(1)
	return initDB(sqlDB)
}

func initDB(sqlDB *sql.DB) (*SQLite, error) {
	s := &SQLite{db: sqlDB, q: sqlDB}
	if err := s.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// DB exposes the underlying connection so telemetry can share the database
// file with the graph.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func (s *SQLite) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS episodes (
		id             TEXT PRIMARY KEY,
		session_id     TEXT NOT NULL,
		user_id        TEXT NOT NULL DEFAULT '',
		name           TEXT NOT NULL DEFAULT '',
		valid_from     INTEGER NOT NULL,
		valid_to       INTEGER,
		created_at     INTEGER NOT NULL,
		message_count  INTEGER NOT NULL DEFAULT 0,
		entity_count   INTEGER NOT NULL DEFAULT 0,
		relation_count INTEGER NOT NULL DEFAULT 0,
		fact_count     INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_episodes_session ON episodes(session_id, valid_to);
	CREATE INDEX IF NOT EXISTS idx_episodes_user ON episodes(user_id);

	CREATE TABLE IF NOT EXISTS entities (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL,
		canonical_name   TEXT NOT NULL,
		type             TEXT NOT NULL,
		confidence       REAL NOT NULL,
		aliases          TEXT NOT NULL DEFAULT '[]',
		properties       TEXT NOT NULL DEFAULT '{}',
		embedding        TEXT,
		valid_from       INTEGER NOT NULL,
		valid_to         INTEGER,
		first_seen       INTEGER NOT NULL DEFAULT 0,
		last_seen        INTEGER NOT NULL DEFAULT 0,
		occurrence_count INTEGER NOT NULL DEFAULT 0,
		episode_id       TEXT NOT NULL REFERENCES episodes(id),
		version          INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_entities_canonical ON entities(canonical_name, type, valid_to);
	CREATE INDEX IF NOT EXISTS idx_entities_episode ON entities(episode_id);

	CREATE TABLE IF NOT EXISTS relations (
		id         TEXT PRIMARY KEY,
		source_id  TEXT NOT NULL REFERENCES entities(id),
		target_id  TEXT NOT NULL REFERENCES entities(id),
		type       TEXT NOT NULL,
		confidence REAL NOT NULL,
		weight     REAL NOT NULL DEFAULT 1,
		directed   INTEGER NOT NULL DEFAULT 0,
		symmetric  INTEGER NOT NULL DEFAULT 0,
		valid_from INTEGER NOT NULL,
		valid_to   INTEGER,
		episode_id TEXT NOT NULL REFERENCES episodes(id)
	);
	CREATE INDEX IF NOT EXISTS idx_relations_source ON relations(source_id, valid_to);
	CREATE INDEX IF NOT EXISTS idx_relations_target ON relations(target_id, valid_to);

	CREATE TABLE IF NOT EXISTS facts (
		id         TEXT PRIMARY KEY,
		entity_id  TEXT NOT NULL REFERENCES entities(id),
		subject    TEXT NOT NULL,
		predicate  TEXT NOT NULL,
		object     TEXT NOT NULL DEFAULT '',
		type       TEXT NOT NULL,
		confidence REAL NOT NULL,
		source     TEXT NOT NULL DEFAULT '',
		evidence   TEXT NOT NULL DEFAULT '',
		valid_from INTEGER NOT NULL,
		valid_to   INTEGER,
		fact_time  INTEGER,
		episode_id TEXT NOT NULL REFERENCES episodes(id)
	);
	CREATE INDEX IF NOT EXISTS idx_facts_entity ON facts(entity_id, valid_to);
	CREATE INDEX IF NOT EXISTS idx_facts_episode ON facts(episode_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WithTx implements PersistentStore.
func (s *SQLite) WithTx(ctx context.Context, fn func(tx PersistentStore) error) error {
	if s.inTx {
		return errors.New("nested transactions are not supported")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	txStore := &SQLite{db: s.db, q: tx, inTx: true}
	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %v: %w", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// Close implements PersistentStore.
func (s *SQLite) Close() error { return s.db.Close() }

// --- encoding helpers ---

func encodeTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func decodeTime(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func decodeTimePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// --- entities ---

const entityColumns = `id, name, canonical_name, type, confidence, aliases, properties,
	embedding, valid_from, valid_to, first_seen, last_seen, occurrence_count, episode_id, version`

// CreateEntity implements PersistentStore.
func (s *SQLite) CreateEntity(ctx context.Context, e *types.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.CanonicalName == "" {
		e.CanonicalName = types.CanonicalName(e.Name)
	}
	if e.Version == 0 {
		e.Version = 1
	}

	var embedding any
	if len(e.Embedding) > 0 {
		embedding = encodeJSON(e.Embedding)
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO entities (`+entityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.CanonicalName, string(e.Type), e.Confidence,
		encodeJSON(e.Aliases), encodeJSON(e.Properties), embedding,
		encodeTime(e.Validity.Start), encodeTimePtr(e.Validity.End),
		encodeTime(e.FirstSeen), encodeTime(e.LastSeen),
		e.OccurrenceCount, e.EpisodeID, e.Version)
	if err != nil {
		return fmt.Errorf("create entity: %w", err)
	}
	return nil
}

// GetEntity implements PersistentStore.
func (s *SQLite) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// UpdateEntity implements PersistentStore with a version check-and-set: the
// row is written only if its stored version still equals e.Version.
func (s *SQLite) UpdateEntity(ctx context.Context, e *types.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}

	var embedding any
	if len(e.Embedding) > 0 {
		embedding = encodeJSON(e.Embedding)
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE entities SET
			name = ?, canonical_name = ?, type = ?, confidence = ?,
			aliases = ?, properties = ?, embedding = ?,
			valid_from = ?, valid_to = ?, first_seen = ?, last_seen = ?,
			occurrence_count = ?, episode_id = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		e.Name, e.CanonicalName, string(e.Type), e.Confidence,
		encodeJSON(e.Aliases), encodeJSON(e.Properties), embedding,
		encodeTime(e.Validity.Start), encodeTimePtr(e.Validity.End),
		encodeTime(e.FirstSeen), encodeTime(e.LastSeen),
		e.OccurrenceCount, e.EpisodeID,
		e.ID, e.Version)
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update entity rows affected: %w", err)
	}
	if affected == 0 {
		// Either the row is gone or someone moved the version under us.
		if _, getErr := s.GetEntity(ctx, e.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return &types.ConflictError{EntityID: e.ID, Expected: e.Version}
	}
	e.Version++
	return nil
}

// FindEntities implements PersistentStore.
func (s *SQLite) FindEntities(ctx context.Context, f EntityFilter) ([]*types.Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities`
	where, args := entityWhere(f)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY last_seen DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find entities: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

// SearchEntities implements PersistentStore with LIKE matching over names
// and aliases.
func (s *SQLite) SearchEntities(ctx context.Context, searchText string, f EntityFilter) ([]*types.Entity, error) {
	where, args := entityWhere(f)
	pattern := "%" + strings.ToLower(strings.TrimSpace(searchText)) + "%"
	where = append(where, "(canonical_name LIKE ? OR lower(aliases) LIKE ?)")
	args = append(args, pattern, pattern)

	query := `SELECT ` + entityColumns + ` FROM entities WHERE ` + strings.Join(where, " AND ") +
		" ORDER BY confidence DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows)
}

func entityWhere(f EntityFilter) ([]string, []any) {
	var where []string
	var args []any

	if len(f.EpisodeIDs) > 0 {
		where = append(where, "episode_id IN ("+placeholders(len(f.EpisodeIDs))+")")
		for _, id := range f.EpisodeIDs {
			args = append(args, id)
		}
	}
	if len(f.Types) > 0 {
		where = append(where, "type IN ("+placeholders(len(f.Types))+")")
		for _, t := range f.Types {
			args = append(args, string(t))
		}
	}
	if f.CanonicalName != "" {
		where = append(where, "canonical_name = ?")
		args = append(args, f.CanonicalName)
	}
	if f.MinConfidence > 0 {
		where = append(where, "confidence >= ?")
		args = append(args, f.MinConfidence)
	}
	if f.OnlyValid {
		where = append(where, "valid_to IS NULL")
	}
	if !f.LastSeenAfter.IsZero() {
		where = append(where, "last_seen >= ?")
		args = append(args, f.LastSeenAfter.UnixMilli())
	}
	return where, args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*types.Entity, error) {
	var (
		e          types.Entity
		typ        string
		aliases    string
		properties string
		embedding  sql.NullString
		validFrom  int64
		validTo    sql.NullInt64
		firstSeen  int64
		lastSeen   int64
	)
	err := row.Scan(&e.ID, &e.Name, &e.CanonicalName, &typ, &e.Confidence,
		&aliases, &properties, &embedding, &validFrom, &validTo,
		&firstSeen, &lastSeen, &e.OccurrenceCount, &e.EpisodeID, &e.Version)
	if err != nil {
		return nil, err
	}

	e.Type = types.EntityType(typ)
	e.Validity = types.Interval{Start: decodeTime(validFrom), End: decodeTimePtr(validTo)}
	e.FirstSeen = decodeTime(firstSeen)
	e.LastSeen = decodeTime(lastSeen)
	_ = json.Unmarshal([]byte(aliases), &e.Aliases)
	_ = json.Unmarshal([]byte(properties), &e.Properties)
	if embedding.Valid {
		_ = json.Unmarshal([]byte(embedding.String), &e.Embedding)
	}
	return &e, nil
}

func scanEntities(rows *sql.Rows) ([]*types.Entity, error) {
	var entities []*types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// --- relations ---

const relationColumns = `id, source_id, target_id, type, confidence, weight,
	directed, symmetric, valid_from, valid_to, episode_id`

// CreateRelation implements PersistentStore. Both endpoints must reference
// existing entities that are valid at write time.
func (s *SQLite) CreateRelation(ctx context.Context, r *types.Relation) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if err := s.requireValidEntity(ctx, r.SourceID, "relation"); err != nil {
		return err
	}
	if err := s.requireValidEntity(ctx, r.TargetID, "relation"); err != nil {
		return err
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO relations (`+relationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SourceID, r.TargetID, string(r.Type), r.Confidence, r.Weight,
		boolToInt(r.Directed), boolToInt(r.Symmetric),
		encodeTime(r.Validity.Start), encodeTimePtr(r.Validity.End), r.EpisodeID)
	if err != nil {
		return fmt.Errorf("create relation: %w", err)
	}
	return nil
}

// UpdateRelation implements PersistentStore.
func (s *SQLite) UpdateRelation(ctx context.Context, r *types.Relation) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE relations SET
			source_id = ?, target_id = ?, type = ?, confidence = ?, weight = ?,
			directed = ?, symmetric = ?, valid_from = ?, valid_to = ?
		WHERE id = ?`,
		r.SourceID, r.TargetID, string(r.Type), r.Confidence, r.Weight,
		boolToInt(r.Directed), boolToInt(r.Symmetric),
		encodeTime(r.Validity.Start), encodeTimePtr(r.Validity.End), r.ID)
	if err != nil {
		return fmt.Errorf("update relation: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindRelations implements PersistentStore.
func (s *SQLite) FindRelations(ctx context.Context, f RelationFilter) ([]*types.Relation, error) {
	var where []string
	var args []any

	if len(f.EntityIDs) > 0 {
		ph := placeholders(len(f.EntityIDs))
		where = append(where, "(source_id IN ("+ph+") OR target_id IN ("+ph+"))")
		for _, id := range f.EntityIDs {
			args = append(args, id)
		}
		for _, id := range f.EntityIDs {
			args = append(args, id)
		}
	}
	if len(f.EpisodeIDs) > 0 {
		where = append(where, "episode_id IN ("+placeholders(len(f.EpisodeIDs))+")")
		for _, id := range f.EpisodeIDs {
			args = append(args, id)
		}
	}
	if f.OnlyValid {
		where = append(where, "valid_to IS NULL")
	}

	query := `SELECT ` + relationColumns + ` FROM relations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY confidence DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find relations: %w", err)
	}
	defer rows.Close()

	var relations []*types.Relation
	for rows.Next() {
		var (
			r         types.Relation
			typ       string
			directed  int
			symmetric int
			validFrom int64
			validTo   sql.NullInt64
		)
		err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &typ, &r.Confidence,
			&r.Weight, &directed, &symmetric, &validFrom, &validTo, &r.EpisodeID)
		if err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		r.Type = types.RelationType(typ)
		r.Directed = directed != 0
		r.Symmetric = symmetric != 0
		r.Validity = types.Interval{Start: decodeTime(validFrom), End: decodeTimePtr(validTo)}
		relations = append(relations, &r)
	}
	return relations, rows.Err()
}

// --- facts ---

const factColumns = `id, entity_id, subject, predicate, object, type, confidence,
	source, evidence, valid_from, valid_to, fact_time, episode_id`

// CreateFact implements PersistentStore. The primary entity must be valid at
// write time.
func (s *SQLite) CreateFact(ctx context.Context, fa *types.Fact) error {
	if err := fa.Validate(); err != nil {
		return err
	}
	if err := s.requireValidEntity(ctx, fa.EntityID, "fact"); err != nil {
		return err
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO facts (`+factColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fa.ID, fa.EntityID, fa.Subject, fa.Predicate, fa.Object, string(fa.Type),
		fa.Confidence, fa.Source, fa.Evidence,
		encodeTime(fa.Validity.Start), encodeTimePtr(fa.Validity.End),
		encodeTimePtr(fa.FactTime), fa.EpisodeID)
	if err != nil {
		return fmt.Errorf("create fact: %w", err)
	}
	return nil
}

// UpdateFact implements PersistentStore.
func (s *SQLite) UpdateFact(ctx context.Context, fa *types.Fact) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE facts SET
			entity_id = ?, subject = ?, predicate = ?, object = ?, type = ?,
			confidence = ?, source = ?, evidence = ?,
			valid_from = ?, valid_to = ?, fact_time = ?
		WHERE id = ?`,
		fa.EntityID, fa.Subject, fa.Predicate, fa.Object, string(fa.Type),
		fa.Confidence, fa.Source, fa.Evidence,
		encodeTime(fa.Validity.Start), encodeTimePtr(fa.Validity.End),
		encodeTimePtr(fa.FactTime), fa.ID)
	if err != nil {
		return fmt.Errorf("update fact: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindFacts implements PersistentStore.
func (s *SQLite) FindFacts(ctx context.Context, f FactFilter) ([]*types.Fact, error) {
	var where []string
	var args []any

	if len(f.EntityIDs) > 0 {
		where = append(where, "entity_id IN ("+placeholders(len(f.EntityIDs))+")")
		for _, id := range f.EntityIDs {
			args = append(args, id)
		}
	}
	if len(f.EpisodeIDs) > 0 {
		where = append(where, "episode_id IN ("+placeholders(len(f.EpisodeIDs))+")")
		for _, id := range f.EpisodeIDs {
			args = append(args, id)
		}
	}
	if f.OnlyValid {
		where = append(where, "valid_to IS NULL")
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "valid_from < ?")
		args = append(args, f.CreatedBefore.UnixMilli())
	}

	query := `SELECT ` + factColumns + ` FROM facts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY valid_from DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find facts: %w", err)
	}
	defer rows.Close()

	var facts []*types.Fact
	for rows.Next() {
		var (
			fa        types.Fact
			typ       string
			validFrom int64
			validTo   sql.NullInt64
			factTime  sql.NullInt64
		)
		err := rows.Scan(&fa.ID, &fa.EntityID, &fa.Subject, &fa.Predicate, &fa.Object,
			&typ, &fa.Confidence, &fa.Source, &fa.Evidence,
			&validFrom, &validTo, &factTime, &fa.EpisodeID)
		if err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		fa.Type = types.FactType(typ)
		fa.Validity = types.Interval{Start: decodeTime(validFrom), End: decodeTimePtr(validTo)}
		fa.FactTime = decodeTimePtr(factTime)
		facts = append(facts, &fa)
	}
	return facts, rows.Err()
}

// --- episodes ---

const episodeColumns = `id, session_id, user_id, name, valid_from, valid_to,
	created_at, message_count, entity_count, relation_count, fact_count`

// CreateEpisode implements PersistentStore.
func (s *SQLite) CreateEpisode(ctx context.Context, ep *types.Episode) error {
	if err := ep.Validate(); err != nil {
		return err
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO episodes (`+episodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.SessionID, ep.UserID, ep.Name,
		encodeTime(ep.Validity.Start), encodeTimePtr(ep.Validity.End),
		encodeTime(ep.CreatedAt),
		ep.MessageCount, ep.EntityCount, ep.RelationCount, ep.FactCount)
	if err != nil {
		return fmt.Errorf("create episode: %w", err)
	}
	return nil
}

// UpdateEpisode implements PersistentStore.
func (s *SQLite) UpdateEpisode(ctx context.Context, ep *types.Episode) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE episodes SET
			name = ?, valid_from = ?, valid_to = ?,
			message_count = ?, entity_count = ?, relation_count = ?, fact_count = ?
		WHERE id = ?`,
		ep.Name, encodeTime(ep.Validity.Start), encodeTimePtr(ep.Validity.End),
		ep.MessageCount, ep.EntityCount, ep.RelationCount, ep.FactCount, ep.ID)
	if err != nil {
		return fmt.Errorf("update episode: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindEpisodes implements PersistentStore.
func (s *SQLite) FindEpisodes(ctx context.Context, f EpisodeFilter) ([]*types.Episode, error) {
	var where []string
	var args []any

	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.OnlyOpen {
		where = append(where, "valid_to IS NULL")
	}

	query := `SELECT ` + episodeColumns + ` FROM episodes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find episodes: %w", err)
	}
	defer rows.Close()

	var episodes []*types.Episode
	for rows.Next() {
		var (
			ep        types.Episode
			validFrom int64
			validTo   sql.NullInt64
			createdAt int64
		)
		err := rows.Scan(&ep.ID, &ep.SessionID, &ep.UserID, &ep.Name,
			&validFrom, &validTo, &createdAt,
			&ep.MessageCount, &ep.EntityCount, &ep.RelationCount, &ep.FactCount)
		if err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		ep.Validity = types.Interval{Start: decodeTime(validFrom), End: decodeTimePtr(validTo)}
		ep.CreatedAt = decodeTime(createdAt)
		episodes = append(episodes, &ep)
	}
	return episodes, rows.Err()
}

// requireValidEntity rejects writes that would dangle: the referenced entity
// must exist and be currently valid.
func (s *SQLite) requireValidEntity(ctx context.Context, entityID, kind string) error {
	var validTo sql.NullInt64
	err := s.q.QueryRowContext(ctx,
		`SELECT valid_to FROM entities WHERE id = ?`, entityID).Scan(&validTo)
	if errors.Is(err, sql.ErrNoRows) {
		return &types.IntegrityError{Kind: kind, Ref: entityID, Detail: "entity does not exist"}
	}
	if err != nil {
		return fmt.Errorf("check entity %s: %w", entityID, err)
	}
	if validTo.Valid {
		return &types.IntegrityError{Kind: kind, Ref: entityID, Detail: "entity is no longer valid"}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
