package nlp

import (
	"context"
	"sync"

	"github.com/contextmem/contextmem/pkg/types"
)

// MockClient is a scripted completion client for tests. Responses and errors
// are consumed in order; when the script runs out the last entry repeats.
type MockClient struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int

	// LastMessages records the most recent request for assertions.
	LastMessages []types.Message
	LastOptions  CompleteOptions
}

// NewMockClient creates a mock that returns the given responses in order.
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{responses: responses}
}

// FailWith makes the mock return err on every call.
func (m *MockClient) FailWith(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = []error{err}
	m.responses = nil
	return m
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, messages []types.Message, opts CompleteOptions) (*types.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewCollaboratorError("completion", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.LastMessages = messages
	m.LastOptions = opts

	if len(m.errs) > 0 {
		idx := m.calls - 1
		if idx >= len(m.errs) {
			idx = len(m.errs) - 1
		}
		if m.errs[idx] != nil {
			return nil, m.errs[idx]
		}
	}

	if len(m.responses) == 0 {
		return &types.Response{Content: "{}"}, nil
	}
	idx := m.calls - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return &types.Response{Content: m.responses[idx], Model: "mock"}, nil
}

// Calls reports how many times Complete was invoked.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close implements Client.
func (m *MockClient) Close() error { return nil }
