package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"sync"

	"github.com/contextmem/contextmem/pkg/types"
)

// MockClient is a deterministic embedding client for tests. Vectors are
// derived from token hashes, so identical texts always embed identically and
// texts sharing tokens land near each other — enough structure for dedup and
// relevance tests without a model.
type MockClient struct {
	mu         sync.Mutex
	dimensions int
	failErr    error
	calls      int
}

// NewMockClient creates a mock embedder with the given vector width.
func NewMockClient(dimensions int) *MockClient {
	if dimensions <= 0 {
		dimensions = 32
	}
	return &MockClient{dimensions: dimensions}
}

// FailWith makes every call return err.
func (m *MockClient) FailWith(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
	return m
}

// Embed implements Client.
func (m *MockClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.NewCollaboratorError("embedding", err)
	}

	m.mu.Lock()
	m.calls++
	failErr := m.failErr
	m.mu.Unlock()

	if failErr != nil {
		return nil, failErr
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = m.vectorFor(text)
	}
	return vectors, nil
}

// EmbedSingle implements Client.
func (m *MockClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Dimensions implements Client.
func (m *MockClient) Dimensions() int { return m.dimensions }

// Calls reports how many Embed calls were made.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close implements Client.
func (m *MockClient) Close() error { return nil }

func (m *MockClient) vectorFor(text string) []float32 {
	vec := make([]float32, m.dimensions)
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		tokens = []string{""}
	}

	for _, tok := range tokens {
		h := sha256.Sum256([]byte(tok))
		for d := 0; d < m.dimensions; d++ {
			bits := binary.BigEndian.Uint32(h[(d*4)%28 : (d*4)%28+4])
			// Spread each token across dimensions with a stable sign.
			component := float32(bits%1000)/1000.0 - 0.5
			if (bits/1000+uint32(d))%2 == 0 {
				component = -component
			}
			vec[d] += component
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for d := range vec {
		vec[d] *= scale
	}
	return vec
}
