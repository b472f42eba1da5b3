// Package extract turns fetched page content into structured lead candidates
// using a chat model.
package extract

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/leadnexus/internal/apperr"
	"github.com/kalambet/leadnexus/internal/engine"
)

// MaxContentRunes bounds how much page content is sent to the model.
const MaxContentRunes = 60000

const maxLoggedResponse = 500

// Chatter is the slice of engine.Engine the extractor needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Extractor asks a chat model for lead candidates and validates what comes
// back. Output that does not match the candidate shape is dropped, never
// retried.
type Extractor struct {
	client  Chatter
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewExtractor creates an Extractor. A zero timeout leaves the caller's
// context deadline in charge.
func NewExtractor(client Chatter, model string, timeout time.Duration) *Extractor {
	return &Extractor{client: client, model: model, timeout: timeout, logger: slog.Default()}
}

// Extract returns at most one candidate for content fetched from sourceURL.
// Only a failed model call is an error; unusable output yields no candidates.
func (e *Extractor) Extract(ctx context.Context, content, sourceURL string) ([]Candidate, error) {
	content = truncate(strings.TrimSpace(content), MaxContentRunes)
	if content == "" {
		return nil, nil
	}

	raw, err := e.chat(ctx, BuildPrompt(content, sourceURL), candidateSchema())
	if err != nil {
		return nil, err
	}

	body := stripFences(raw)
	if body == "" || body == "null" {
		return nil, nil
	}
	var c Candidate
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		e.logger.Warn("failed to unmarshal lead from LLM response", "url", sourceURL, "error", err, "response", clip(raw))
		return nil, nil
	}
	c = c.clean()
	if c.Name == "" && c.Bio == "" && c.Category == "" {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		e.logger.Warn("discarding invalid lead candidate", "url", sourceURL, "error", err, "response", clip(raw))
		return nil, nil
	}
	return []Candidate{c}, nil
}

// ExtractAll returns every candidate on a listing page. One invalid element
// discards the whole response.
func (e *Extractor) ExtractAll(ctx context.Context, content, sourceURL string) ([]Candidate, error) {
	content = truncate(strings.TrimSpace(content), MaxContentRunes)
	if content == "" {
		return nil, nil
	}

	raw, err := e.chat(ctx, BuildMultiPrompt(content, sourceURL), multiCandidateSchema())
	if err != nil {
		return nil, err
	}

	body := stripFences(raw)
	if body == "" || body == "null" {
		return nil, nil
	}
	var resp struct {
		Leads []Candidate `json:"leads"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		e.logger.Warn("failed to unmarshal leads from LLM response", "url", sourceURL, "error", err, "response", clip(raw))
		return nil, nil
	}
	out := make([]Candidate, 0, len(resp.Leads))
	for i, c := range resp.Leads {
		c = c.clean()
		if err := c.Validate(); err != nil {
			e.logger.Warn("discarding lead list with invalid element", "url", sourceURL, "index", i, "error", err)
			return nil, nil
		}
		out = append(out, c)
	}
	return out, nil
}

func (e *Extractor) chat(ctx context.Context, msgs []engine.Message, schema *engine.Schema) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	raw, err := e.client.Chat(ctx, e.model, msgs, schema)
	if err != nil {
		if k := apperr.KindOf(err); k == apperr.ConfigurationMissing || k == apperr.UpstreamProviderFailure {
			return "", err
		}
		return "", apperr.Wrap(apperr.UpstreamProviderFailure, err, "lead extraction failed")
	}
	return raw, nil
}

// stripFences removes a surrounding ``` or ```json block.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func clip(s string) string {
	return truncate(s, maxLoggedResponse)
}
