package types

import "time"

// RetrievalMode selects the ranking strategy for contextual memory lookups.
// Strategy selection is explicit; callers name the mode they want.
type RetrievalMode string

const (
	// RecentFirst orders by last-seen descending.
	RecentFirst RetrievalMode = "recent_first"
	// RelevanceFirst orders by embedding similarity, falling back to token
	// overlap when no embedding exists.
	RelevanceFirst RetrievalMode = "relevance_first"
	// ImportanceFirst orders by confidence descending.
	ImportanceFirst RetrievalMode = "importance_first"
	// Comprehensive is the default blended score.
	Comprehensive RetrievalMode = "comprehensive"
	// Contextual is the scope-aware variant weighted by conversation
	// keywords.
	Contextual RetrievalMode = "contextual"
)

// MemoryScope bounds which episodes a lookup may draw from.
type MemoryScope string

const (
	ScopeSession MemoryScope = "session_only"
	ScopeUser    MemoryScope = "user_history"
	ScopeGlobal  MemoryScope = "global_knowledge"
	// ScopeCommunity is a declared extension point; the memory system does
	// not implement community subgraphs yet.
	ScopeCommunity MemoryScope = "community_knowledge"
)

// ScoredEntity pairs an entity with its relevance score for a given query.
type ScoredEntity struct {
	Entity    *Entity `json:"entity"`
	Relevance float64 `json:"relevance"`
}

// ScoredFact pairs a fact with its relevance score for a given query.
type ScoredFact struct {
	Fact      *Fact   `json:"fact"`
	Relevance float64 `json:"relevance"`
}

// MemoryContext is the ranked prior knowledge retrieved for a query.
type MemoryContext struct {
	Query     string      `json:"query"`
	SessionID string      `json:"session_id"`
	Mode      RetrievalMode `json:"mode"`
	Scope     MemoryScope `json:"scope"`

	Entities  []*ScoredEntity `json:"entities"`
	Facts     []*ScoredFact   `json:"facts"`
	Relations []*Relation     `json:"relations,omitempty"`

	Summary         string    `json:"context_summary"`
	ConfidenceLevel float64   `json:"confidence_level"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// EmptyMemoryContext returns a zero-knowledge context for degraded paths.
func EmptyMemoryContext(query, sessionID string) *MemoryContext {
	return &MemoryContext{
		Query:     query,
		SessionID: sessionID,
		Entities:  []*ScoredEntity{},
		Facts:     []*ScoredFact{},
	}
}

// ContextualResponse is a draft answer enriched with the context that is
// textually present in the exchange.
type ContextualResponse struct {
	Answer       string    `json:"answer"`
	ContextBlock string    `json:"context_block,omitempty"`
	Entities     []*Entity `json:"entities,omitempty"`
	Facts        []*Fact   `json:"facts,omitempty"`
	Confidence   float64   `json:"confidence"`
}

// QualityMetrics summarizes extraction quality for one conversation turn.
type QualityMetrics struct {
	OverallConfidence float64 `json:"overall_confidence"`
	PrecisionEstimate float64 `json:"precision_estimate"`
	RecallEstimate    float64 `json:"recall_estimate"`
	F1Estimate        float64 `json:"f1_estimate"`
	EntityCount       int     `json:"entity_count"`
	RelationCount     int     `json:"relation_count"`
	FactCount         int     `json:"fact_count"`
}

// ProcessingResult is the orchestrator's per-turn output. On internal errors
// the orchestrator returns MinimalProcessingResult instead of failing the
// caller.
type ProcessingResult struct {
	Extraction *ExtractionResult   `json:"extraction_result"`
	Memory     *MemoryContext      `json:"memory_context"`
	Response   *ContextualResponse `json:"contextual_response,omitempty"`

	ProcessingTime  time.Duration  `json:"processing_time"`
	ConfidenceScore float64        `json:"confidence_score"`
	Quality         QualityMetrics `json:"quality_metrics"`
	Warnings        []string       `json:"warnings,omitempty"`
}

// MinimalProcessingResult is the safe default returned when a turn fails
// internally: empty extraction and context, confidence zero.
func MinimalProcessingResult(sessionID string, warnings ...string) *ProcessingResult {
	return &ProcessingResult{
		Extraction: EmptyExtractionResult(),
		Memory:     EmptyMemoryContext("", sessionID),
		Warnings:   warnings,
	}
}
