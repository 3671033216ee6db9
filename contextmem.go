package contextmem

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/contextmem/contextmem/pkg/alert"
	"github.com/contextmem/contextmem/pkg/config"
	"github.com/contextmem/contextmem/pkg/embedder"
	"github.com/contextmem/contextmem/pkg/extraction"
	"github.com/contextmem/contextmem/pkg/logger"
	"github.com/contextmem/contextmem/pkg/memory"
	"github.com/contextmem/contextmem/pkg/nlp"
	"github.com/contextmem/contextmem/pkg/store"
	"github.com/contextmem/contextmem/pkg/telemetry"
	"github.com/contextmem/contextmem/pkg/types"
)

// DefaultMergeThreshold is the embedding similarity at or above which two
// entities of the same type are considered duplicates.
const DefaultMergeThreshold = 0.85

// Orchestrator coordinates the extraction pipeline, the temporal graph store,
// and the context memory system for conversation turns. It implements
// ContextMemory.
type Orchestrator struct {
	cfg    *config.Config
	logger *slog.Logger

	store      store.PersistentStore
	graph      *store.TemporalGraphStore
	pipeline   *extraction.Pipeline
	memory     *memory.System
	completion nlp.Client
	embed      embedder.Client
	tracker    telemetry.Tracker
	alerter    alert.Alerter

	completionSet     bool
	embedSet          bool
	generateResponses bool
	now               func() time.Time
}

var _ ContextMemory = (*Orchestrator)(nil)

// New builds the orchestrator from configuration. Collaborator clients are
// constructed only when an API key is configured; without them the pipeline
// runs in degraded (template and graph only) form.
func New(cfg *config.Config, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	o := &Orchestrator{
		cfg:     cfg,
		tracker: telemetry.NopTracker{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = logger.New(cfg.Log)
	}
	if o.alerter == nil {
		if cfg.Alert.Enabled {
			o.alerter = alert.NewEmailAlerter(cfg.Alert)
		} else {
			o.alerter = alert.NopAlerter{}
		}
	}

	if !o.completionSet && cfg.Completion.APIKey != "" {
		var client nlp.Client = nlp.NewOpenAIClient(cfg.Completion)
		client = nlp.NewRetryClient(client, nlp.DefaultRetryConfig())
		if cfg.CircuitBreaker.Enabled {
			client = nlp.NewCircuitBreakerClient(client, cfg.CircuitBreaker, o.logger)
		}
		o.completion = client
	}
	if !o.embedSet && cfg.Embedding.APIKey != "" {
		o.embed = embedder.NewOpenAIClient(cfg.Embedding)
	}

	if o.store == nil {
		var (
			sqlStore *store.SQLite
			err      error
		)
		if cfg.Store.Path == ":memory:" {
			sqlStore, err = store.OpenMemory()
		} else {
			sqlStore, err = store.Open(cfg.Store.Path)
		}
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		o.store = sqlStore
	}

	o.graph = store.NewTemporalGraphStore(o.store, o.embed, cfg.Store, o.logger)
	o.pipeline = extraction.NewPipeline(o.completion, o.graph, cfg.Pipeline, cfg.Completion, o.logger)
	o.memory = memory.NewSystem(o.store, o.embed, cfg.Memory, o.logger)

	return o, nil
}

// ProcessConversationTurn implements ContextMemory. Invalid arguments return
// an error; every internal failure past validation degrades to a minimal
// result so a conversation is never blocked by its memory.
func (o *Orchestrator) ProcessConversationTurn(ctx context.Context, sessionID, userID, message string) (*types.ProcessingResult, error) {
	if sessionID == "" {
		return nil, types.ErrEmptySessionID
	}
	if strings.TrimSpace(message) == "" {
		return nil, types.ErrEmptyMessage
	}

	start := o.now()
	ctx = types.WithSessionID(ctx, sessionID)
	if userID != "" {
		ctx = types.WithUserID(ctx, userID)
	}

	result := &types.ProcessingResult{}
	result.Extraction = o.pipeline.ExtractKnowledge(ctx, message)
	result.Warnings = append(result.Warnings, result.Extraction.Warnings...)

	ep, err := o.graph.GetOrCreateEpisode(ctx, sessionID, userID)
	if err != nil {
		o.degraded(sessionID, "episode resolution failed", err)
		return o.minimalResult(sessionID, start, fmt.Sprintf("episode resolution failed: %v", err)), nil
	}

	ingestWarnings, err := o.graph.Ingest(ctx, ep, result.Extraction)
	result.Warnings = append(result.Warnings, ingestWarnings...)
	if err != nil {
		o.degraded(sessionID, "ingestion failed", err)
		return o.minimalResult(sessionID, start, fmt.Sprintf("ingestion failed: %v", err)), nil
	}
	o.memory.InvalidateSession(sessionID)

	mc, err := o.memory.GetContextualMemory(ctx, message, sessionID, userID, types.Comprehensive, types.ScopeSession, 0)
	if err != nil {
		o.logger.Warn("memory retrieval degraded", "session_id", sessionID, "error", err)
		result.Warnings = append(result.Warnings, fmt.Sprintf("memory retrieval degraded: %v", err))
		mc = types.EmptyMemoryContext(message, sessionID)
	}
	result.Memory = mc

	if o.generateResponses {
		result.Response = o.respond(ctx, message, mc)
	}

	result.ProcessingTime = o.now().Sub(start)
	result.Quality = types.QualityMetrics{
		OverallConfidence: result.Extraction.OverallConfidence,
		PrecisionEstimate: result.Extraction.PrecisionEstimate,
		RecallEstimate:    result.Extraction.RecallEstimate,
		F1Estimate:        result.Extraction.F1Estimate,
		EntityCount:       len(result.Extraction.Entities),
		RelationCount:     len(result.Extraction.Relations),
		FactCount:         len(result.Extraction.Facts),
	}
	result.ConfidenceScore = turnConfidence(result)

	o.tracker.RecordTurn(telemetry.TurnRecord{
		Timestamp:         start,
		SessionID:         sessionID,
		UserID:            userID,
		EntityCount:       result.Quality.EntityCount,
		RelationCount:     result.Quality.RelationCount,
		FactCount:         result.Quality.FactCount,
		OverallConfidence: result.Quality.OverallConfidence,
		PrecisionEstimate: result.Quality.PrecisionEstimate,
		RecallEstimate:    result.Quality.RecallEstimate,
		F1Estimate:        result.Quality.F1Estimate,
		ProcessingMillis:  result.ProcessingTime.Milliseconds(),
		WarningCount:      len(result.Warnings),
		StagesCompleted:   strings.Join(result.Extraction.StagesCompleted, ","),
	})

	o.logger.Info("turn processed",
		"session_id", sessionID,
		"entities", result.Quality.EntityCount,
		"facts", result.Quality.FactCount,
		"confidence", result.ConfidenceScore,
		"duration", result.ProcessingTime)
	return result, nil
}

// GetContextualMemory implements ContextMemory.
func (o *Orchestrator) GetContextualMemory(ctx context.Context, query, sessionID, userID string, mode types.RetrievalMode, scope types.MemoryScope, horizonHours int) (*types.MemoryContext, error) {
	return o.memory.GetContextualMemory(ctx, query, sessionID, userID, mode, scope, horizonHours)
}

// CloseSession implements ContextMemory.
func (o *Orchestrator) CloseSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return types.ErrEmptySessionID
	}
	if err := o.graph.CloseEpisode(ctx, sessionID); err != nil {
		return err
	}
	o.memory.InvalidateSession(sessionID)
	return nil
}

// MergeDuplicates implements ContextMemory. Merging can re-point knowledge in
// any session's scope, so every cached context is dropped.
func (o *Orchestrator) MergeDuplicates(ctx context.Context) (int, error) {
	merged, err := o.graph.MergeDuplicateEntities(ctx, DefaultMergeThreshold)
	if merged > 0 {
		o.memory.InvalidateAll()
	}
	return merged, err
}

// Cleanup implements ContextMemory.
func (o *Orchestrator) Cleanup(ctx context.Context) (int, error) {
	closed, err := o.graph.CleanupOldFacts(ctx)
	if closed > 0 {
		o.memory.InvalidateAll()
	}
	return closed, err
}

// Close implements ContextMemory.
func (o *Orchestrator) Close() error {
	var firstErr error
	if o.completion != nil {
		if err := o.completion.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if o.embed != nil {
		if err := o.embed.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := o.tracker.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := o.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// respond drafts an answer grounded in the memory context. A collaborator
// failure yields an enhancement of an empty draft rather than a failed turn.
func (o *Orchestrator) respond(ctx context.Context, message string, mc *types.MemoryContext) *types.ContextualResponse {
	answer := ""
	if o.completion != nil {
		prompt := "Answer the user's message concisely."
		if mc != nil && mc.Summary != "" {
			prompt += "\n\nKnown context:\n" + mc.Summary
		}
		resp, err := o.completion.Complete(ctx, []types.Message{
			nlp.NewSystemMessage(prompt),
			nlp.NewUserMessage(message),
		}, nlp.CompleteOptions{
			Temperature: o.cfg.Completion.Temperature,
			MaxTokens:   o.cfg.Completion.MaxTokens,
		})
		if err != nil {
			o.logger.Warn("response generation degraded", "error", err)
		} else {
			answer = resp.Content
		}
	}
	return memory.EnhanceResponse(message, answer, mc)
}

// degraded records a store-level failure. The turn itself still succeeds with
// a minimal result, so the operator channel is the only place this surfaces
// beyond logs.
func (o *Orchestrator) degraded(sessionID, what string, err error) {
	o.logger.Error(what, "session_id", sessionID, "error", err)
	if alertErr := o.alerter.Alert(
		fmt.Sprintf("contextmem: %s", what),
		fmt.Sprintf("session %s: %v", sessionID, err),
	); alertErr != nil {
		o.logger.Warn("alert delivery failed", "error", alertErr)
	}
}

func (o *Orchestrator) minimalResult(sessionID string, start time.Time, warning string) *types.ProcessingResult {
	result := types.MinimalProcessingResult(sessionID, warning)
	result.ProcessingTime = o.now().Sub(start)
	return result
}

// turnConfidence blends extraction confidence with the retrieved context's
// confidence. A turn with no prior context scores on extraction alone.
func turnConfidence(result *types.ProcessingResult) float64 {
	if result.Memory == nil || result.Memory.ConfidenceLevel == 0 {
		return result.Extraction.OverallConfidence
	}
	return types.ClampConfidence(
		0.7*result.Extraction.OverallConfidence + 0.3*result.Memory.ConfidenceLevel)
}
