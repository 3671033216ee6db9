package nlp

import (
	"context"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/contextmem/contextmem/pkg/config"
	"github.com/contextmem/contextmem/pkg/types"
)

// OpenAIClient implements Client against the OpenAI chat completion API or
// any compatible endpoint.
type OpenAIClient struct {
	client  *openai.Client
	cfg     config.ModelConfig
	limiter *rate.Limiter
}

// NewOpenAIClient creates a completion client from the model configuration.
func NewOpenAIClient(cfg config.ModelConfig) *OpenAIClient {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(apiCfg),
		cfg:     cfg,
		limiter: limiter,
	}
}

// Complete implements Client. Every call carries the configured timeout; a
// timed-out or failed transport surfaces as a CollaboratorError so callers
// degrade rather than block.
func (c *OpenAIClient) Complete(ctx context.Context, messages []types.Message, opts CompleteOptions) (*types.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, types.NewCollaboratorError("completion", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:    c.cfg.Model,
		Messages: convertMessages(messages),
		Stream:   false,
	}
	req.Temperature = opts.Temperature
	if req.Temperature == 0 {
		req.Temperature = c.cfg.Temperature
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	} else if c.cfg.MaxTokens > 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}
	if opts.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(callCtx, req)
	if err != nil {
		return nil, types.NewCollaboratorError("completion", err)
	}
	if len(resp.Choices) == 0 {
		return nil, types.NewMalformedResponseError("completion", "no choices returned")
	}

	response := &types.Response{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		FinishReason: string(resp.Choices[0].FinishReason),
	}
	if resp.Usage.TotalTokens > 0 {
		response.TokensUsed = &types.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return response, nil
}

// Close implements Client.
func (c *OpenAIClient) Close() error { return nil }

func convertMessages(messages []types.Message) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case types.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case types.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		converted = append(converted, openai.ChatCompletionMessage{
			Role:    role,
			Content: cleanInput(m.Content),
		})
	}
	return converted
}

// cleanInput strips zero-width unicode and control characters that some
// upstream sources leak into message content.
func cleanInput(input string) string {
	zeroWidthChars := []string{"\u200b", "\u200c", "\u200d", "\ufeff", "\u2060"}
	cleaned := input
	for _, char := range zeroWidthChars {
		cleaned = strings.ReplaceAll(cleaned, char, "")
	}

	var builder strings.Builder
	for _, r := range cleaned {
		if r >= 32 || r == '\n' || r == '\r' || r == '\t' {
			builder.WriteRune(r)
		}
	}
	return builder.String()
}

// IsTimeout reports whether an error chain contains a deadline expiry.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "deadline exceeded") ||
		strings.Contains(strings.ToLower(err.Error()), "timeout")
}
