package contextmem

import (
	"context"

	"github.com/contextmem/contextmem/pkg/types"
)

// ContextMemory is the main interface for the temporal knowledge graph
// memory.
type ContextMemory interface {
	// ProcessConversationTurn runs one conversation turn through extraction,
	// ingestion, and memory retrieval. Internal failures degrade to a minimal
	// result instead of an error; errors are reserved for invalid arguments.
	ProcessConversationTurn(ctx context.Context, sessionID, userID, message string) (*types.ProcessingResult, error)

	// GetContextualMemory retrieves ranked prior knowledge for a query.
	// horizonHours bounds how far back knowledge may have been last seen;
	// zero uses the configured default horizon.
	GetContextualMemory(ctx context.Context, query, sessionID, userID string, mode types.RetrievalMode, scope types.MemoryScope, horizonHours int) (*types.MemoryContext, error)

	// CloseSession ends the session's open episode. The next turn in the
	// session opens a fresh one.
	CloseSession(ctx context.Context, sessionID string) error

	// MergeDuplicates folds duplicate entities across the graph and reports
	// how many were merged.
	MergeDuplicates(ctx context.Context) (int, error)

	// Cleanup soft-invalidates facts older than the retention window and
	// reports how many were closed.
	Cleanup(ctx context.Context) (int, error)

	// Close releases the store, collaborator clients, and telemetry.
	Close() error
}
