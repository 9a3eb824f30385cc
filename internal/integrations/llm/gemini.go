package llm

import (
	"context"
	"fmt"
	"net/http"

	"verdict/internal/consensus"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

type GeminiProvider struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGemini builds a Gemini provider. baseURL overrides the API endpoint
// when non-empty.
func NewGemini(ctx context.Context, apiKey, model string, httpClient *http.Client, logger *zap.Logger, baseURL ...string) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if len(baseURL) > 0 && baseURL[0] != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL[0]}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiProvider{client: client, model: model, logger: logger.Named("gemini")}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, consensus.Usage, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(userPrompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		MaxOutputTokens:   maxOutputTokens,
	})
	if err != nil {
		return "", consensus.Usage{}, fmt.Errorf("gemini API error: %w", err)
	}
	var usage consensus.Usage
	if resp.UsageMetadata != nil {
		usage.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	text := resp.Text()
	if text == "" {
		return "", usage, fmt.Errorf("no text content in gemini response")
	}
	p.logger.Debug("gemini response", zap.Int("size", len(text)))
	return text, usage, nil
}
