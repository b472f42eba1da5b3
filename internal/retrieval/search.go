// Package retrieval embeds text and ranks stored leads against it.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/leadnexus/internal/apperr"
	"github.com/kalambet/leadnexus/internal/metrics"
	"github.com/kalambet/leadnexus/internal/storage"
)

const (
	MaxQueryRunes   = 1000
	DefaultPageSize = 10
	MaxPageSize     = 100
	// MaxPage keeps (page-1)*pageSize inside int range.
	MaxPage        = math.MaxInt / MaxPageSize
	DefaultSimilar = 5
	MaxSimilar     = 50

	contextPerLead = 3
)

// LeadIndex is the part of the lead store the search pipeline reads from.
// Both storage.Store and storage.PGStore implement it.
type LeadIndex interface {
	GetLead(ctx context.Context, id string) (storage.Lead, error)
	CountLeads(ctx context.Context, category storage.Category) (int, error)
	FindSimilar(ctx context.Context, vec []float32, k int) ([]storage.ScoredLead, error)
	SearchLeads(ctx context.Context, vec []float32, category storage.Category, limit, offset int) ([]storage.ScoredLead, error)
}

// ContextSource produces a memory summary for a set of leads.
type ContextSource interface {
	SearchContext(ctx context.Context, query string, leadIDs []string, limitPerLead int) (string, error)
}

// Query is one page of a semantic search.
type Query struct {
	Text     string           `json:"query"`
	Category storage.Category `json:"category,omitempty"`
	Page     int              `json:"page,omitempty"`
	PageSize int              `json:"pageSize,omitempty"`
}

type Pagination struct {
	Page            int  `json:"page"`
	PageSize        int  `json:"pageSize"`
	TotalItems      int  `json:"totalItems"`
	TotalPages      int  `json:"totalPages"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
}

type Result struct {
	Items         []storage.ScoredLead `json:"items"`
	Pagination    Pagination           `json:"pagination"`
	MemoryContext string               `json:"memoryContext,omitempty"`
}

// Searcher runs the search pipeline: embed the query, rank, paginate and
// optionally enrich with memory context.
type Searcher struct {
	embedder *Embedder
	leads    LeadIndex
	memory   ContextSource
	logger   *slog.Logger
}

// NewSearcher creates a Searcher. memory may be nil when the memory layer
// is disabled.
func NewSearcher(embedder *Embedder, leads LeadIndex, memory ContextSource) *Searcher {
	return &Searcher{embedder: embedder, leads: leads, memory: memory, logger: slog.Default()}
}

// Normalize applies defaults and validates q.
func (q Query) Normalize() (Query, error) {
	q.Text = strings.TrimSpace(q.Text)
	if n := utf8.RuneCountInString(q.Text); n == 0 || n > MaxQueryRunes {
		return q, apperr.New(apperr.ValidationFailure, "query must be between 1 and %d characters", MaxQueryRunes)
	}
	if q.Category != "" && !q.Category.Valid() {
		return q, apperr.New(apperr.ValidationFailure, "invalid category %q", q.Category)
	}
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Page < 1 || q.Page > MaxPage {
		return q, apperr.New(apperr.ValidationFailure, "page must be between 1 and %d", MaxPage)
	}
	if q.PageSize == 0 {
		q.PageSize = DefaultPageSize
	}
	if q.PageSize < 1 || q.PageSize > MaxPageSize {
		return q, apperr.New(apperr.ValidationFailure, "pageSize must be between 1 and %d", MaxPageSize)
	}
	return q, nil
}

func (s *Searcher) Search(ctx context.Context, q Query) (Result, error) {
	res, err := s.search(ctx, q)
	if err != nil {
		metrics.RecordSearch("error")
		return Result{}, err
	}
	metrics.RecordSearch("ok")
	return res, nil
}

func (s *Searcher) search(ctx context.Context, q Query) (Result, error) {
	q, err := q.Normalize()
	if err != nil {
		return Result{}, err
	}

	vec, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return Result{}, fmt.Errorf("embedding query: %w", err)
	}

	offset := (q.Page - 1) * q.PageSize
	items, err := s.leads.SearchLeads(ctx, vec, q.Category, q.PageSize, offset)
	if err != nil {
		return Result{}, fmt.Errorf("searching leads: %w", err)
	}
	total, err := s.leads.CountLeads(ctx, q.Category)
	if err != nil {
		return Result{}, fmt.Errorf("counting leads: %w", err)
	}
	if items == nil {
		items = []storage.ScoredLead{}
	}

	res := Result{Items: items, Pagination: paginate(q.Page, q.PageSize, total)}
	if s.memory != nil && len(items) > 0 {
		ids := make([]string, len(items))
		for i, it := range items {
			ids[i] = it.ID
		}
		mc, err := s.memory.SearchContext(ctx, q.Text, ids, contextPerLead)
		if err != nil {
			s.logger.Warn("memory context unavailable", "error", err)
			metrics.RecordMemoryFailure("search_context")
		} else {
			res.MemoryContext = mc
		}
	}
	return res, nil
}

func paginate(page, pageSize, total int) Pagination {
	totalPages := (total + pageSize - 1) / pageSize
	return Pagination{
		Page:            page,
		PageSize:        pageSize,
		TotalItems:      total,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}
}

// Similar returns up to k leads closest to the stored lead, excluding the
// lead itself.
func (s *Searcher) Similar(ctx context.Context, leadID string, k int) ([]storage.ScoredLead, error) {
	if k == 0 {
		k = DefaultSimilar
	}
	if k < 1 || k > MaxSimilar {
		return nil, apperr.New(apperr.ValidationFailure, "limit must be between 1 and %d", MaxSimilar)
	}
	lead, err := s.leads.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	ranked, err := s.leads.FindSimilar(ctx, lead.Embedding, k+1)
	if err != nil {
		return nil, fmt.Errorf("finding similar leads: %w", err)
	}
	out := make([]storage.ScoredLead, 0, k)
	for _, r := range ranked {
		if r.ID == leadID {
			continue
		}
		if len(out) == k {
			break
		}
		out = append(out, r)
	}
	return out, nil
}
