package contextmem

import (
	"log/slog"
	"time"

	"github.com/contextmem/contextmem/pkg/alert"
	"github.com/contextmem/contextmem/pkg/embedder"
	"github.com/contextmem/contextmem/pkg/nlp"
	"github.com/contextmem/contextmem/pkg/store"
	"github.com/contextmem/contextmem/pkg/telemetry"
)

// Option customizes the orchestrator at construction.
type Option func(*Orchestrator)

// WithLogger replaces the logger built from configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithTracker replaces the telemetry tracker. The default is NopTracker; the
// CLI wires a ParquetTracker when the configuration names a parquet path.
func WithTracker(tracker telemetry.Tracker) Option {
	return func(o *Orchestrator) { o.tracker = tracker }
}

// WithStore replaces the persistent store built from configuration. Mainly
// for tests running against an in-memory store.
func WithStore(ps store.PersistentStore) Option {
	return func(o *Orchestrator) { o.store = ps }
}

// WithCompletionClient replaces the completion collaborator. Passing nil
// disables the LLM extraction stage and response generation.
func WithCompletionClient(client nlp.Client) Option {
	return func(o *Orchestrator) {
		o.completion = client
		o.completionSet = true
	}
}

// WithEmbeddingClient replaces the embedding collaborator. Passing nil makes
// similarity fall back to text overlap.
func WithEmbeddingClient(client embedder.Client) Option {
	return func(o *Orchestrator) {
		o.embed = client
		o.embedSet = true
	}
}

// WithResponseGeneration toggles drafting a contextual answer for each turn.
// Off by default; extraction and memory work without it.
func WithResponseGeneration(enabled bool) Option {
	return func(o *Orchestrator) { o.generateResponses = enabled }
}

// WithAlerter replaces the operator alerter built from configuration.
func WithAlerter(a alert.Alerter) Option {
	return func(o *Orchestrator) { o.alerter = a }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}
