// Package ingest runs the scrape, extract, embed and persist pipeline over a
// batch of URLs, isolating failures per URL.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/leadnexus/internal/apperr"
	"github.com/kalambet/leadnexus/internal/events"
	"github.com/kalambet/leadnexus/internal/extract"
	"github.com/kalambet/leadnexus/internal/fetch"
	"github.com/kalambet/leadnexus/internal/memory"
	"github.com/kalambet/leadnexus/internal/metrics"
	"github.com/kalambet/leadnexus/internal/storage"
	"github.com/kalambet/leadnexus/internal/vector"
)

// MaxURLs bounds a single ingest batch.
const MaxURLs = 10

// Status is the terminal state of one URL.
type Status string

const (
	StatusSucceeded        Status = "succeeded"
	StatusSkippedDuplicate Status = "skipped_duplicate"
	StatusSkippedNoLead    Status = "skipped_no_lead"
	StatusFailed           Status = "failed"
)

// Extractor turns page content into lead candidates.
type Extractor interface {
	Extract(ctx context.Context, content, sourceURL string) ([]extract.Candidate, error)
	ExtractAll(ctx context.Context, content, sourceURL string) ([]extract.Candidate, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// LeadStore is the part of the lead store ingestion writes to.
type LeadStore interface {
	GetLeadByEmail(ctx context.Context, email string) (storage.Lead, error)
	CreateLead(ctx context.Context, l storage.Lead) (storage.Lead, error)
}

// MemoryWriter records the context note for a new lead.
type MemoryWriter interface {
	AddForLead(ctx context.Context, l storage.Lead, additionalContext string) (memory.Memory, error)
}

// ExtractedData carries candidate fields that have no column on the lead.
type ExtractedData struct {
	Organization string               `json:"organization,omitempty"`
	Location     string               `json:"location,omitempty"`
	Expertise    []string             `json:"expertise,omitempty"`
	SocialLinks  []extract.SocialLink `json:"socialLinks,omitempty"`
}

// LeadResult is a lead created by ingestion.
type LeadResult struct {
	storage.Lead
	ExtractedData ExtractedData `json:"extractedData"`
}

// Outcome is the result of processing one URL.
type Outcome struct {
	URL    string       `json:"url"`
	Status Status       `json:"status"`
	Leads  []LeadResult `json:"leads,omitempty"`
	Error  string       `json:"error,omitempty"`
}

type URLError struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// Result summarises a batch. Successful counts URLs that produced at least
// one lead; every other URL appears in Errors.
type Result struct {
	Success    bool         `json:"success"`
	Processed  int          `json:"processed"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Results    []LeadResult `json:"results"`
	Errors     []URLError   `json:"errors"`
	Outcomes   []Outcome    `json:"outcomes"`
}

type Options struct {
	// Concurrency bounds how many URLs are processed at once. Defaults to 3.
	Concurrency int
	// MultiLead extracts every lead on a page instead of just one.
	MultiLead bool
}

// Pipeline wires the fetch, extract, embed, store and memory collaborators.
type Pipeline struct {
	fetcher   fetch.Fetcher
	extractor Extractor
	embedder  Embedder
	leads     LeadStore
	memory    MemoryWriter
	publisher events.Publisher
	opts      Options
	logger    *slog.Logger
}

// NewPipeline creates a Pipeline. memory may be nil; a nil publisher
// discards events.
func NewPipeline(f fetch.Fetcher, x Extractor, e Embedder, leads LeadStore, mem MemoryWriter, pub events.Publisher, opts Options) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Pipeline{
		fetcher:   f,
		extractor: x,
		embedder:  e,
		leads:     leads,
		memory:    mem,
		publisher: pub,
		opts:      opts,
		logger:    slog.Default(),
	}
}

// ValidateURLs checks the batch shape: 1..MaxURLs absolute http(s) URLs.
func ValidateURLs(urls []string) error {
	if len(urls) == 0 || len(urls) > MaxURLs {
		return apperr.New(apperr.ValidationFailure, "between 1 and %d URLs are required, got %d", MaxURLs, len(urls))
	}
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return apperr.New(apperr.ValidationFailure, "invalid URL %q", raw)
		}
	}
	return nil
}

// Ingest processes every URL and reports per-URL outcomes in input order.
// One URL failing never stops the others. Only a ConfigurationMissing error
// aborts the batch, since every remaining URL would fail the same way.
func (p *Pipeline) Ingest(ctx context.Context, urls []string) (Result, error) {
	if err := ValidateURLs(urls); err != nil {
		return Result{}, err
	}

	outcomes := make([]Outcome, len(urls))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for i, u := range urls {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				outcomes[i] = Outcome{URL: u, Status: StatusFailed, Error: errorMessage(err)}
				return nil
			}
			out, err := p.processURL(gCtx, u)
			outcomes[i] = out
			if apperr.Is(err, apperr.ConfigurationMissing) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{Processed: len(urls), Results: []LeadResult{}, Errors: []URLError{}, Outcomes: outcomes}
	for _, o := range outcomes {
		metrics.RecordIngestOutcome(string(o.Status))
		if o.Status == StatusSucceeded {
			res.Successful++
			res.Results = append(res.Results, o.Leads...)
			continue
		}
		res.Errors = append(res.Errors, URLError{URL: o.URL, Error: o.Error})
	}
	res.Failed = len(res.Errors)
	res.Success = res.Successful > 0
	p.logger.Info("ingest batch finished", "processed", res.Processed, "successful", res.Successful, "failed", res.Failed)
	return res, nil
}

func (p *Pipeline) processURL(ctx context.Context, rawURL string) (Outcome, error) {
	out := Outcome{URL: rawURL}
	fail := func(err error) (Outcome, error) {
		p.logger.Warn("ingest failed", "url", rawURL, "error", err)
		out.Status = StatusFailed
		out.Error = errorMessage(err)
		return out, err
	}

	page, err := p.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return fail(err)
	}

	var candidates []extract.Candidate
	if p.opts.MultiLead {
		candidates, err = p.extractor.ExtractAll(ctx, page.Content, rawURL)
	} else {
		candidates, err = p.extractor.Extract(ctx, page.Content, rawURL)
	}
	if err != nil {
		return fail(err)
	}
	if len(candidates) == 0 {
		out.Status = StatusSkippedNoLead
		out.Error = "No lead information found on this page"
		return out, nil
	}

	var duplicates []string
	var firstErr error
	for _, c := range candidates {
		lead, err := p.persist(ctx, c, rawURL)
		switch {
		case err == nil:
			out.Leads = append(out.Leads, LeadResult{Lead: lead, ExtractedData: ExtractedData{
				Organization: c.Organization,
				Location:     c.Location,
				Expertise:    c.Expertise,
				SocialLinks:  c.SocialLinks,
			}})
		case apperr.Is(err, apperr.DuplicateEmail):
			duplicates = append(duplicates, leadEmail(c, rawURL))
		case apperr.Is(err, apperr.ConfigurationMissing):
			return fail(err)
		default:
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	switch {
	case len(out.Leads) > 0:
		out.Status = StatusSucceeded
		for _, l := range out.Leads {
			p.logger.Info("ingested lead", "url", rawURL, "lead_id", l.ID, "name", l.Name)
		}
		return out, nil
	case firstErr != nil:
		return fail(firstErr)
	default:
		out.Status = StatusSkippedDuplicate
		out.Error = fmt.Sprintf("Lead with email %s already exists", strings.Join(duplicates, ", "))
		return out, nil
	}
}

// persist creates one lead. An existing lead with the same email yields a
// DuplicateEmail error.
func (p *Pipeline) persist(ctx context.Context, c extract.Candidate, sourceURL string) (storage.Lead, error) {
	email := leadEmail(c, sourceURL)
	if _, err := p.leads.GetLeadByEmail(ctx, email); err == nil {
		return storage.Lead{}, apperr.New(apperr.DuplicateEmail, "lead with email %s already exists", email)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return storage.Lead{}, fmt.Errorf("checking for existing lead: %w", err)
	}

	vec, err := p.embedder.Embed(ctx, c.EmbeddingText())
	if err != nil {
		return storage.Lead{}, err
	}

	lead, err := p.leads.CreateLead(ctx, storage.Lead{
		Name:      c.Name,
		Email:     email,
		Bio:       c.Bio,
		Category:  c.Category,
		SourceURL: sourceURL,
		Embedding: vector.Normalize(vec, vector.Dimension),
	})
	if err != nil {
		return storage.Lead{}, err
	}

	if p.memory != nil {
		if _, err := p.memory.AddForLead(ctx, lead, c.AdditionalContext()); err != nil {
			p.logger.Warn("failed to store memory for lead", "lead_id", lead.ID, "error", err)
			metrics.RecordMemoryFailure("add_lead")
		}
	}
	if err := p.publisher.PublishLeadCreated(ctx, lead); err != nil {
		p.logger.Warn("failed to publish lead event", "lead_id", lead.ID, "error", err)
	}
	return lead, nil
}

// errorMessage is the client-facing text for a failed URL. Unclassified
// errors are reduced to a generic message, except cancellation.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "ingest cancelled: " + context.DeadlineExceeded.Error()
	case errors.Is(err, context.Canceled):
		return "ingest cancelled: " + context.Canceled.Error()
	}
	return apperr.PublicMessage(err)
}

// leadEmail returns the candidate's email, or a placeholder derived from the
// name and source URL when the page had none.
func leadEmail(c extract.Candidate, sourceURL string) string {
	if c.Email != "" {
		return storage.NormalizeEmail(c.Email)
	}
	return PlaceholderEmail(c.Name, sourceURL)
}

// PlaceholderEmail builds name.dotted.<hash>@unknown.com. The hash suffix
// keeps two same-named leads from different pages apart while re-ingesting
// the same page stays idempotent.
func PlaceholderEmail(name, sourceURL string) string {
	local := strings.Join(strings.Fields(strings.ToLower(name)), ".")
	sum := sha256.Sum256([]byte(sourceURL))
	return local + "." + hex.EncodeToString(sum[:4]) + "@unknown.com"
}
