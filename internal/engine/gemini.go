package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/kalambet/leadnexus/internal/apperr"
)

// GeminiEngine talks to the Google Generative Language API.
type GeminiEngine struct {
	client *genai.Client
}

// NewGeminiEngine creates a client authenticated with apiKey.
func NewGeminiEngine(ctx context.Context, apiKey string, opts ...option.ClientOption) (*GeminiEngine, error) {
	if apiKey == "" {
		return nil, apperr.New(apperr.ConfigurationMissing,
			"missing required config: Google API key. Set it via environment variable LEADNEXUS_GOOGLE_API_KEY")
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamProviderFailure, err, "creating gemini client")
	}
	return &GeminiEngine{client: client}, nil
}

func (e *GeminiEngine) Name() string { return "gemini" }

// Close releases the underlying connection.
func (e *GeminiEngine) Close() error {
	return e.client.Close()
}

func (e *GeminiEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	gm := e.client.GenerativeModel(model)
	var temp float32
	gm.Temperature = &temp

	system, history, last := splitGeminiMessages(messages)
	if system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if jsonSchema != nil {
		gm.ResponseMIMEType = "application/json"
	}
	if last == nil {
		return "", apperr.New(apperr.ValidationFailure, "gemini chat: no user message")
	}

	cs := gm.StartChat()
	cs.History = history
	resp, err := cs.SendMessage(ctx, last.Parts...)
	if err != nil {
		return "", apperr.Wrap(apperr.UpstreamProviderFailure, err, "gemini generate content")
	}
	return responseText(resp), nil
}

func (e *GeminiEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	res, err := e.client.EmbeddingModel(model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, apperr.Wrap(apperr.UpstreamProviderFailure, err, "gemini embed content")
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, apperr.New(apperr.UpstreamProviderFailure, "gemini embed content: empty embedding")
	}
	return res.Embedding.Values, nil
}

// splitGeminiMessages maps chat messages onto Gemini's shape: system text is
// joined into the system instruction, the final user turn is sent and
// everything before it becomes history.
func splitGeminiMessages(messages []Message) (system string, history []*genai.Content, last *genai.Content) {
	var sys []string
	var turns []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			sys = append(sys, m.Content)
		case RoleAssistant:
			turns = append(turns, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			turns = append(turns, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}
	if len(turns) == 0 {
		return strings.Join(sys, "\n\n"), nil, nil
	}
	return strings.Join(sys, "\n\n"), turns[:len(turns)-1], turns[len(turns)-1]
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			} else {
				fmt.Fprint(&b, part)
			}
		}
		break
	}
	return b.String()
}
