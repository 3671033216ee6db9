package embedder

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/contextmem/contextmem/pkg/config"
	"github.com/contextmem/contextmem/pkg/types"
)

// defaultDimensions matches text-embedding-3-small.
const defaultDimensions = 1536

// OpenAIClient implements Client against the OpenAI embeddings API or any
// compatible endpoint.
type OpenAIClient struct {
	client     *openai.Client
	cfg        config.ModelConfig
	dimensions int
}

// NewOpenAIClient creates an embedding client from the model configuration.
func NewOpenAIClient(cfg config.ModelConfig) *OpenAIClient {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client:     openai.NewClientWithConfig(apiCfg),
		cfg:        cfg,
		dimensions: defaultDimensions,
	}
}

// Embed implements Client. Failures surface as CollaboratorError so callers
// fall back to text similarity instead of aborting.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()

	resp, err := c.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.cfg.Model),
		Input: texts,
	})
	if err != nil {
		return nil, types.NewCollaboratorError("embedding", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, types.NewMalformedResponseError("embedding",
			fmt.Sprintf("expected %d vectors, got %d", len(texts), len(resp.Data)))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	if len(vectors) > 0 && len(vectors[0]) > 0 {
		c.dimensions = len(vectors[0])
	}
	return vectors, nil
}

// EmbedSingle implements Client.
func (c *OpenAIClient) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, types.NewMalformedResponseError("embedding", "no embeddings returned")
	}
	return vectors[0], nil
}

// Dimensions implements Client.
func (c *OpenAIClient) Dimensions() int { return c.dimensions }

// Close implements Client.
func (c *OpenAIClient) Close() error { return nil }
