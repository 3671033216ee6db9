package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/google/uuid"

	"github.com/contextmem/contextmem/pkg/types"
)

// SQLHandler is a slog.Handler that writes error logs into an SQLite table,
// typically sharing the knowledge graph's own database so one file carries
// both the graph and its error trail.
type SQLHandler struct {
	next      slog.Handler
	db        *sql.DB
	tableName string
}

// NewSQLHandler creates the handler on an existing connection and ensures the
// log table exists.
func NewSQLHandler(next slog.Handler, db *sql.DB) (*SQLHandler, error) {
	h := &SQLHandler{
		next:      next,
		db:        db,
		tableName: "telemetry_logs",
	}
	if err := h.ensureTable(); err != nil {
		return nil, fmt.Errorf("ensure telemetry table: %w", err)
	}
	return h, nil
}

func (h *SQLHandler) ensureTable() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id          TEXT PRIMARY KEY,
			timestamp   INTEGER NOT NULL,
			level       TEXT NOT NULL,
			message     TEXT NOT NULL,
			user_id     TEXT NOT NULL DEFAULT '',
			session_id  TEXT NOT NULL DEFAULT '',
			source_file TEXT NOT NULL DEFAULT '',
			line_number INTEGER NOT NULL DEFAULT 0,
			attributes  TEXT NOT NULL DEFAULT '{}'
		)`, h.tableName)
	_, err := h.db.Exec(query)
	return err
}

// Enabled implements slog.Handler.
func (h *SQLHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle implements slog.Handler. A failed insert never blocks the logging
// chain.
func (h *SQLHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.next.Handle(ctx, r); err != nil {
		return err
	}
	if r.Level < slog.LevelError {
		return nil
	}

	attrs := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})
	attrsJSON, _ := json.Marshal(attrs)

	fs := runtime.CallersFrames([]uintptr{r.PC})
	f, _ := fs.Next()

	query := fmt.Sprintf(`
		INSERT INTO %s (id, timestamp, level, message, user_id, session_id, source_file, line_number, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, h.tableName)
	_, err := h.db.ExecContext(ctx, query,
		uuid.NewString(),
		r.Time.UTC().UnixMilli(),
		r.Level.String(),
		r.Message,
		types.UserIDFrom(ctx),
		types.SessionIDFrom(ctx),
		f.File,
		f.Line,
		string(attrsJSON),
	)
	if err != nil {
		fmt.Printf("telemetry sql insert failed: %v\n", err)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *SQLHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SQLHandler{next: h.next.WithAttrs(attrs), db: h.db, tableName: h.tableName}
}

// WithGroup implements slog.Handler.
func (h *SQLHandler) WithGroup(name string) slog.Handler {
	return &SQLHandler{next: h.next.WithGroup(name), db: h.db, tableName: h.tableName}
}
