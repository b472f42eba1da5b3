package engine

import (
	"context"
	"strings"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/kalambet/leadnexus/internal/apperr"
)

// OpenAIEngine targets the OpenAI API or any server that speaks its
// chat/completions and embeddings endpoints.
type OpenAIEngine struct {
	client *openai.Client
}

// NewOpenAIEngine creates an engine for apiKey. An empty baseURL keeps the
// library default.
func NewOpenAIEngine(apiKey, baseURL string) (*OpenAIEngine, error) {
	if apiKey == "" {
		return nil, apperr.New(apperr.ConfigurationMissing,
			"missing required config: OpenAI API key. Set it via environment variable LEADNEXUS_OPENAI_API_KEY")
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIEngine{client: openai.NewClientWithConfig(config)}, nil
}

func (e *OpenAIEngine) Name() string { return "openai" }

func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	temp := float32(0)
	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: &temp,
	}
	if jsonSchema != nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", apperr.Wrap(apperr.UpstreamProviderFailure, err, "openai chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", apperr.New(apperr.UpstreamProviderFailure, "openai chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func (e *OpenAIEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamProviderFailure, err, "openai create embeddings")
	}
	if len(resp.Data) == 0 {
		return nil, apperr.New(apperr.UpstreamProviderFailure, "openai create embeddings: no embeddings returned")
	}
	return resp.Data[0].Embedding, nil
}
