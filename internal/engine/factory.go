package engine

import (
	"context"

	"github.com/kalambet/leadnexus/internal/apperr"
)

// Credentials carries the per-provider settings New needs.
type Credentials struct {
	GoogleAPIKey  string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OllamaBaseURL string
}

// New builds the engine for provider ("gemini", "openai" or "ollama").
func New(ctx context.Context, provider string, creds Credentials) (Engine, error) {
	switch provider {
	case "gemini":
		return NewGeminiEngine(ctx, creds.GoogleAPIKey)
	case "openai":
		return NewOpenAIEngine(creds.OpenAIAPIKey, creds.OpenAIBaseURL)
	case "ollama":
		return NewOllamaEngine(creds.OllamaBaseURL), nil
	default:
		return nil, apperr.New(apperr.ValidationFailure, "unknown provider %q: must be gemini, openai or ollama", provider)
	}
}
