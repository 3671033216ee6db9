// Package nlp provides the completion collaborator interface and its
// OpenAI-compatible implementation, plus retry and circuit-breaker wrappers.
// All failures surface as the shared error taxonomy in pkg/types so the
// extraction pipeline can match on the kind and degrade instead of aborting.
package nlp

import (
	"context"

	"github.com/contextmem/contextmem/pkg/types"
)

// CompleteOptions tune a single completion call.
type CompleteOptions struct {
	// JSONMode asks the model to return a single JSON object.
	JSONMode    bool
	Temperature float32
	MaxTokens   int
}

// Client defines the completion collaborator interface.
type Client interface {
	// Complete sends a chat completion request and returns the response.
	Complete(ctx context.Context, messages []types.Message, opts CompleteOptions) (*types.Response, error)

	// Close cleans up any resources.
	Close() error
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) types.Message {
	return types.Message{Role: types.RoleSystem, Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) types.Message {
	return types.Message{Role: types.RoleUser, Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) types.Message {
	return types.Message{Role: types.RoleAssistant, Content: content}
}
