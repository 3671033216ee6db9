package telemetry

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/contextmem/contextmem/pkg/types"
)

func TestParquetHandlerWritesErrorRecords(t *testing.T) {
	dir := t.TempDir()
	h, err := NewParquetHandler(slog.NewTextHandler(io.Discard, nil), dir, 100)
	require.NoError(t, err)

	ctx := types.WithSessionID(context.Background(), "s1")
	log := slog.New(h)
	log.ErrorContext(ctx, "ingestion failed", "error", "boom")
	log.InfoContext(ctx, "not recorded")

	require.NoError(t, h.Close())

	files, err := filepath.Glob(filepath.Join(dir, "errors_*.parquet"))
	require.NoError(t, err)
	require.Len(t, files, 1, "one flush writes one file")
	info, err := os.Stat(files[0])
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestParquetHandlerCloseWithoutErrorsWritesNothing(t *testing.T) {
	dir := t.TempDir()
	h, err := NewParquetHandler(slog.NewTextHandler(io.Discard, nil), dir, 100)
	require.NoError(t, err)

	slog.New(h).Info("only info")
	require.NoError(t, h.Close())

	files, err := filepath.Glob(filepath.Join(dir, "errors_*.parquet"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestSQLHandlerInsertsErrorRows(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	h, err := NewSQLHandler(slog.NewTextHandler(io.Discard, nil), db)
	require.NoError(t, err)

	ctx := types.WithUserID(types.WithSessionID(context.Background(), "s1"), "u1")
	log := slog.New(h)
	log.ErrorContext(ctx, "merge conflict unresolved", "entity_id", "e1")
	log.InfoContext(ctx, "ignored")

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM telemetry_logs").Scan(&count))
	assert.Equal(t, 1, count)

	var sessionID, userID, message string
	require.NoError(t, db.QueryRow(
		"SELECT session_id, user_id, message FROM telemetry_logs").Scan(&sessionID, &userID, &message))
	assert.Equal(t, "s1", sessionID)
	assert.Equal(t, "u1", userID)
	assert.Equal(t, "merge conflict unresolved", message)
}

func TestParquetTrackerFlushesOnClose(t *testing.T) {
	dir := t.TempDir()
	tr, err := NewParquetTracker(dir, 10)
	require.NoError(t, err)

	tr.RecordTurn(TurnRecord{SessionID: "s1", EntityCount: 2})
	require.NoError(t, tr.Close())

	files, err := filepath.Glob(filepath.Join(dir, "turns_*.parquet"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}
