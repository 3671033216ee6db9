// Package embedder provides the embedding collaborator interface used for
// similarity, relevance scoring, and duplicate detection.
package embedder

import "context"

// Client defines the embedding collaborator interface.
type Client interface {
	// Embed generates embeddings for the given texts, one vector per input
	// in the same order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle generates an embedding for a single text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the width of the vectors this client produces.
	Dimensions() int

	// Close cleans up any resources.
	Close() error
}
