package llm

import (
	"context"
	"fmt"
	"net/http"

	"verdict/internal/consensus"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

type AnthropicProvider struct {
	client anthropic.Client
	model  string
	logger *zap.Logger
}

func NewAnthropic(apiKey, model string, httpClient *http.Client, logger *zap.Logger, opts ...option.RequestOption) *AnthropicProvider {
	base := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if httpClient != nil {
		base = append(base, option.WithHTTPClient(httpClient))
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(append(base, opts...)...),
		model:  model,
		logger: logger.Named("anthropic"),
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, consensus.Usage, error) {
	message, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: maxOutputTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", consensus.Usage{}, fmt.Errorf("anthropic API error: %w", err)
	}
	usage := consensus.Usage{
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			p.logger.Debug("anthropic response",
				zap.Int("size", len(block.Text)),
				zap.Int64("cache_read", message.Usage.CacheReadInputTokens))
			return block.Text, usage, nil
		}
	}
	return "", usage, fmt.Errorf("no text content in anthropic response")
}
