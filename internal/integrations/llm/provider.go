// Package llm implements consensus.Provider on top of the hosted model
// APIs: Anthropic, OpenAI and Gemini.
package llm

import (
	"context"
	"fmt"
	"net/http"

	"verdict/internal/config"
	"verdict/internal/consensus"

	"go.uber.org/zap"
)

// NewProvider returns the provider selected by cfg.LLMProvider, or nil
// when synthesis is disabled.
func NewProvider(ctx context.Context, cfg config.Config, httpClient *http.Client, logger *zap.Logger) (consensus.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.LLMProvider {
	case "":
		return nil, nil
	case "anthropic":
		return NewAnthropic(cfg.AnthropicAPIKey, cfg.LLMModel, httpClient, logger), nil
	case "openai":
		return NewOpenAI(cfg.OpenAIAPIKey, cfg.LLMModel, httpClient, logger), nil
	case "gemini":
		g, err := NewGemini(ctx, cfg.GeminiAPIKey, cfg.LLMModel, httpClient, logger)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
}

const maxOutputTokens = 4096
