package types

import (
	"errors"
	"time"
)

// Validation errors
var (
	ErrEmptyName      = errors.New("name cannot be empty")
	ErrEmptySessionID = errors.New("session id cannot be empty")
	ErrEmptyID        = errors.New("id cannot be empty")
	ErrEmptyMessage   = errors.New("message cannot be empty")
	ErrBadConfidence  = errors.New("confidence must be in [0,1]")
)

// Role identifies the author of a chat message sent to the completion
// collaborator.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat message exchanged with the completion collaborator.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Response is the raw response returned by the completion collaborator.
type Response struct {
	Content      string      `json:"content"`
	Model        string      `json:"model,omitempty"`
	FinishReason string      `json:"finish_reason,omitempty"`
	TokensUsed   *TokenUsage `json:"tokens_used,omitempty"`
}

// TokenUsage reports token accounting for a single completion call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ClampConfidence forces a confidence score into [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Interval is a bi-temporal validity window. A nil End means the record is
// currently valid.
type Interval struct {
	Start time.Time  `json:"valid_from"`
	End   *time.Time `json:"valid_to,omitempty"`
}

// Valid reports whether the interval is open, i.e. the record has not been
// superseded.
func (i Interval) Valid() bool { return i.End == nil }

// Close ends the interval at t. Closing an already closed interval is a no-op
// so records are never resurrected or re-dated.
func (i *Interval) Close(t time.Time) {
	if i.End == nil {
		i.End = &t
	}
}
