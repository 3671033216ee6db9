// Package config centralizes every tunable weight, threshold, and
// collaborator setting. Components receive the relevant sub-config explicitly
// at construction; nothing reads configuration at call time.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the knowledge graph core.
type Config struct {
	Log            LogConfig            `mapstructure:"log"`
	Completion     ModelConfig          `mapstructure:"completion"`
	Embedding      ModelConfig          `mapstructure:"embedding"`
	Store          StoreConfig          `mapstructure:"store"`
	Pipeline       PipelineConfig       `mapstructure:"pipeline"`
	Memory         MemoryConfig         `mapstructure:"memory"`
	Telemetry      TelemetryConfig      `mapstructure:"telemetry"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Alert          AlertConfig          `mapstructure:"alert"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ModelConfig holds configuration for a collaborator model endpoint.
type ModelConfig struct {
	Provider    string  `mapstructure:"provider"` // openai, or any openai-compatible endpoint
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`

	// TimeoutSeconds bounds every collaborator call; on timeout the calling
	// stage degrades instead of blocking.
	TimeoutSeconds int `mapstructure:"timeout_seconds"`

	// RequestsPerSecond and Burst configure client-side rate limiting.
	// Zero disables the limiter.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// Timeout returns the call timeout as a duration.
func (m ModelConfig) Timeout() time.Duration {
	if m.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Driver        string `mapstructure:"driver"` // sqlite
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`

	// MergeRetries bounds optimistic-concurrency retries during duplicate
	// merging before a conflicting pair is dropped and logged.
	MergeRetries int `mapstructure:"merge_retries"`

	// QueryTopK caps how many entities one graph query returns.
	QueryTopK int `mapstructure:"query_top_k"`
}

// CircuitBreakerConfig holds configuration for circuit breaking around
// collaborator calls.
type CircuitBreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests"`
	IntervalSeconds  int     `mapstructure:"interval_seconds"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio"`
}

// AlertConfig holds operator alerting configuration. Disabled by default;
// ingestion failures are then only logged.
type AlertConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// TelemetryConfig holds telemetry configuration.
type TelemetryConfig struct {
	ParquetPath string `mapstructure:"parquet_path"`
	BatchSize   int    `mapstructure:"batch_size"`
}

// PipelineConfig tunes the extraction pipeline.
type PipelineConfig struct {
	// MinEntityConfidence is the floor below which candidates are dropped.
	MinEntityConfidence float64 `mapstructure:"min_entity_confidence"`

	// ConfirmationBoost is added when a later stage confirms a candidate
	// found by an earlier one.
	ConfirmationBoost float64 `mapstructure:"confirmation_boost"`

	// GraphBoost is the bounded confidence boost for graph-corroborated
	// candidates.
	GraphBoost float64 `mapstructure:"graph_boost"`

	// ConsensusJaccard is the name-token similarity at or above which two
	// candidates are grouped for consensus merging.
	ConsensusJaccard float64 `mapstructure:"consensus_jaccard"`

	// HighNameSimilarity groups same-type candidates whose names are nearly
	// identical even when token Jaccard falls short.
	HighNameSimilarity float64 `mapstructure:"high_name_similarity"`

	// PrecisionQualityFloor is the quality score at or above which an entity
	// counts toward the precision estimate.
	PrecisionQualityFloor float64 `mapstructure:"precision_quality_floor"`

	// WordsPerExpectedEntity drives the recall heuristic: the longer the
	// text, the more entities a complete extraction should find.
	WordsPerExpectedEntity int `mapstructure:"words_per_expected_entity"`

	Quality QualityWeights `mapstructure:"quality"`
}

// QualityWeights are the components of the per-entity quality score.
type QualityWeights struct {
	ValidationLevel float64 `mapstructure:"validation_level"`
	Confidence      float64 `mapstructure:"confidence"`
	NameQuality     float64 `mapstructure:"name_quality"`
	TypeSpecificity float64 `mapstructure:"type_specificity"`
	Verification    float64 `mapstructure:"verification"`
}

// MemoryConfig tunes the context memory system.
type MemoryConfig struct {
	MaxContextEntities int `mapstructure:"max_context_entities"`
	MaxContextFacts    int `mapstructure:"max_context_facts"`

	// CacheTTLSeconds is the wall-clock staleness bound for cached contexts.
	CacheTTLSeconds int `mapstructure:"cache_ttl_seconds"`
	CacheSize       int `mapstructure:"cache_size"`

	// DefaultTimeHorizonHours bounds retrieval when the caller does not pass
	// an explicit horizon. Zero means unbounded.
	DefaultTimeHorizonHours int `mapstructure:"default_time_horizon_hours"`

	Weights ScoringWeights `mapstructure:"weights"`
}

// CacheTTL returns the context cache TTL as a duration.
func (m MemoryConfig) CacheTTL() time.Duration {
	if m.CacheTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(m.CacheTTLSeconds) * time.Second
}

// ScoringWeights are the blended relevance score components. They are
// normalized to sum to 1 at load time rather than assumed to.
type ScoringWeights struct {
	Recency    float64 `mapstructure:"recency"`
	Similarity float64 `mapstructure:"similarity"`
	Confidence float64 `mapstructure:"confidence"`
	Occurrence float64 `mapstructure:"occurrence"`
}

// Normalize scales the weights so they sum to 1. Weights that sum to zero are
// replaced with the defaults.
func (w *ScoringWeights) Normalize() {
	sum := w.Recency + w.Similarity + w.Confidence + w.Occurrence
	if sum <= 0 {
		*w = DefaultScoringWeights()
		return
	}
	w.Recency /= sum
	w.Similarity /= sum
	w.Confidence /= sum
	w.Occurrence /= sum
}

// DefaultScoringWeights returns the standard relevance weighting.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{Recency: 0.3, Similarity: 0.4, Confidence: 0.2, Occurrence: 0.1}
}

// Load loads configuration from viper-bound sources and environment
// variables, applies defaults, and normalizes weights.
func Load() (*Config, error) {
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	overrideWithEnv(config)
	config.Memory.Weights.Normalize()

	return config, nil
}

// Default returns the built-in configuration without reading any sources.
func Default() *Config {
	setDefaults()
	config := &Config{}
	// Unmarshal over defaults only; viper carries no user sources here.
	_ = viper.Unmarshal(config)
	config.Memory.Weights.Normalize()
	return config
}

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	viper.SetDefault("completion.provider", "openai")
	viper.SetDefault("completion.model", "gpt-4o-mini")
	viper.SetDefault("completion.temperature", 0.2)
	viper.SetDefault("completion.max_tokens", 1024)
	viper.SetDefault("completion.timeout_seconds", 30)
	viper.SetDefault("completion.requests_per_second", 5)
	viper.SetDefault("completion.burst", 5)

	viper.SetDefault("embedding.provider", "openai")
	viper.SetDefault("embedding.model", "text-embedding-3-small")
	viper.SetDefault("embedding.timeout_seconds", 15)

	viper.SetDefault("store.driver", "sqlite")
	viper.SetDefault("store.path", defaultStorePath())
	viper.SetDefault("store.retention_days", 90)
	viper.SetDefault("store.merge_retries", 3)
	viper.SetDefault("store.query_top_k", 20)

	viper.SetDefault("pipeline.min_entity_confidence", 0.3)
	viper.SetDefault("pipeline.confirmation_boost", 0.1)
	viper.SetDefault("pipeline.graph_boost", 0.1)
	viper.SetDefault("pipeline.consensus_jaccard", 0.8)
	viper.SetDefault("pipeline.high_name_similarity", 0.9)
	viper.SetDefault("pipeline.precision_quality_floor", 0.7)
	viper.SetDefault("pipeline.words_per_expected_entity", 12)
	viper.SetDefault("pipeline.quality.validation_level", 0.25)
	viper.SetDefault("pipeline.quality.confidence", 0.3)
	viper.SetDefault("pipeline.quality.name_quality", 0.2)
	viper.SetDefault("pipeline.quality.type_specificity", 0.15)
	viper.SetDefault("pipeline.quality.verification", 0.1)

	viper.SetDefault("memory.max_context_entities", 20)
	viper.SetDefault("memory.max_context_facts", 50)
	viper.SetDefault("memory.cache_ttl_seconds", 300)
	viper.SetDefault("memory.cache_size", 1024)
	viper.SetDefault("memory.default_time_horizon_hours", 0)
	viper.SetDefault("memory.weights.recency", 0.3)
	viper.SetDefault("memory.weights.similarity", 0.4)
	viper.SetDefault("memory.weights.confidence", 0.2)
	viper.SetDefault("memory.weights.occurrence", 0.1)

	viper.SetDefault("circuit_breaker.enabled", true)
	viper.SetDefault("circuit_breaker.max_requests", 3)
	viper.SetDefault("circuit_breaker.interval_seconds", 60)
	viper.SetDefault("circuit_breaker.timeout_seconds", 30)
	viper.SetDefault("circuit_breaker.ready_to_trip_ratio", 0.6)

	viper.SetDefault("alert.enabled", false)
	viper.SetDefault("alert.smtp_port", 587)

	viper.SetDefault("telemetry.batch_size", 100)
	home, err := os.UserHomeDir()
	if err == nil {
		viper.SetDefault("telemetry.parquet_path", fmt.Sprintf("%s/.contextmem/telemetry", home))
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./contextmem.db"
	}
	return fmt.Sprintf("%s/.contextmem/contextmem.db", home)
}

func overrideWithEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		if config.Completion.APIKey == "" {
			config.Completion.APIKey = apiKey
		}
		if config.Embedding.APIKey == "" {
			config.Embedding.APIKey = apiKey
		}
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		if config.Completion.BaseURL == "" {
			config.Completion.BaseURL = baseURL
		}
		if config.Embedding.BaseURL == "" {
			config.Embedding.BaseURL = baseURL
		}
	}
	if path := os.Getenv("CONTEXTMEM_DB_PATH"); path != "" {
		config.Store.Path = path
	}
	if path := os.Getenv("TELEMETRY_PARQUET_PATH"); path != "" {
		config.Telemetry.ParquetPath = path
	}
}
