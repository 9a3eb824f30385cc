package llm

import (
	"context"
	"fmt"
	"net/http"

	"verdict/internal/consensus"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

type OpenAIProvider struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAI builds an OpenAI chat-completions provider. baseURL overrides
// the API endpoint when non-empty.
func NewOpenAI(apiKey, model string, httpClient *http.Client, logger *zap.Logger, baseURL ...string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	if len(baseURL) > 0 && baseURL[0] != "" {
		cfg.BaseURL = baseURL[0]
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger.Named("openai"),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, consensus.Usage, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     p.model,
		MaxTokens: maxOutputTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", consensus.Usage{}, fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", consensus.Usage{}, fmt.Errorf("no choices in openai response")
	}
	usage := consensus.Usage{
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}
	content := resp.Choices[0].Message.Content
	p.logger.Debug("openai response", zap.Int("size", len(content)))
	return content, usage, nil
}
