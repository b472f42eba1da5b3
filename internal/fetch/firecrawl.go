package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/leadnexus/internal/apperr"
)

// Firecrawl scrapes pages through the Firecrawl scrape API, which renders
// JavaScript and returns Markdown.
type Firecrawl struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewFirecrawl returns a client for the Firecrawl API at baseURL.
func NewFirecrawl(baseURL, apiKey string, timeout time.Duration) (*Firecrawl, error) {
	if apiKey == "" {
		return nil, apperr.New(apperr.ConfigurationMissing,
			"missing required config: Firecrawl API key. Set it via environment variable LEADNEXUS_FIRECRAWL_API_KEY")
	}
	return &Firecrawl{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Data    struct {
		Markdown string         `json:"markdown"`
		Metadata map[string]any `json:"metadata"`
	} `json:"data"`
}

func (f *Firecrawl) Fetch(ctx context.Context, url string) (Page, error) {
	body, err := json.Marshal(scrapeRequest{URL: url, Formats: []string{"markdown"}})
	if err != nil {
		return Page{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/v1/scrape", bytes.NewReader(body))
	if err != nil {
		return Page{}, fmt.Errorf("creating scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.apiKey)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Page{}, apperr.Wrap(apperr.UpstreamProviderFailure, err, "failed to scrape URL %s", url)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Page{}, apperr.Wrap(apperr.UpstreamProviderFailure, err, "reading scrape response for %s", url)
	}

	var sr scrapeResponse
	decodeErr := json.Unmarshal(raw, &sr)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := sr.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return Page{}, apperr.New(apperr.UpstreamProviderFailure, "failed to scrape URL %s: status %d: %s", url, resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return Page{}, apperr.Wrap(apperr.UpstreamProviderFailure, decodeErr, "decoding scrape response for %s", url)
	}
	if !sr.Success {
		msg := sr.Error
		if msg == "" {
			msg = "unknown error"
		}
		return Page{}, apperr.New(apperr.UpstreamProviderFailure, "failed to scrape URL %s: %s", url, msg)
	}

	meta := make(map[string]string, len(sr.Data.Metadata))
	for k, v := range sr.Data.Metadata {
		if s, ok := v.(string); ok {
			meta[k] = s
		}
	}
	return Page{
		URL:      url,
		Title:    meta["title"],
		Content:  sr.Data.Markdown,
		Metadata: meta,
	}, nil
}
