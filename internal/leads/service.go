// Package leads is the entry point callers use to manage leads directly:
// CRUD, relationships, the knowledge graph and demo seeding. Ingestion and
// search live in their own packages.
package leads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/leadnexus/internal/apperr"
	"github.com/kalambet/leadnexus/internal/events"
	"github.com/kalambet/leadnexus/internal/extract"
	"github.com/kalambet/leadnexus/internal/memory"
	"github.com/kalambet/leadnexus/internal/metrics"
	"github.com/kalambet/leadnexus/internal/storage"
	"github.com/kalambet/leadnexus/internal/vector"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Store is the lead persistence the service needs. Both *storage.Store and
// *storage.PGStore satisfy it.
type Store interface {
	CreateLead(ctx context.Context, l storage.Lead) (storage.Lead, error)
	GetLead(ctx context.Context, id string) (storage.Lead, error)
	GetLeadByEmail(ctx context.Context, email string) (storage.Lead, error)
	UpdateLead(ctx context.Context, l storage.Lead) (storage.Lead, error)
	DeleteLead(ctx context.Context, id string) error
	ListLeads(ctx context.Context, category storage.Category, limit, offset int) ([]storage.Lead, error)
	CountLeads(ctx context.Context, category storage.Category) (int, error)
	CreateRelationship(ctx context.Context, r storage.Relationship) (storage.Relationship, error)
	ListRelationships(ctx context.Context, leadID string) ([]storage.Relationship, error)
	DeleteRelationship(ctx context.Context, id string) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Memory is the subset of memory.Service used here.
type Memory interface {
	AddForLead(ctx context.Context, l storage.Lead, additionalContext string) (memory.Memory, error)
	AddRelationship(ctx context.Context, leadID1, leadID2, relationshipType string) (memory.Memory, error)
	ForLead(ctx context.Context, leadID string) ([]memory.Memory, error)
	DeleteForLead(ctx context.Context, leadID string) (int, error)
	BuildGraph(ctx context.Context, query, category string) (memory.Graph, error)
}

// Service coordinates the store, embeddings, memory and events.
type Service struct {
	store     Store
	embedder  Embedder
	memory    Memory
	publisher events.Publisher
	now       func() time.Time
	logger    *slog.Logger
}

// NewService builds a Service. mem may be nil when memory is disabled; a nil
// publisher discards events.
func NewService(store Store, embedder Embedder, mem Memory, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		store:     store,
		embedder:  embedder,
		memory:    mem,
		publisher: pub,
		now:       time.Now,
		logger:    slog.Default(),
	}
}

// Input carries the caller-supplied fields of a lead.
type Input struct {
	Name      string           `json:"name"`
	Email     string           `json:"email"`
	Bio       string           `json:"bio"`
	Category  storage.Category `json:"category"`
	SourceURL string           `json:"sourceUrl"`
}

// Patch holds the fields to change on an existing lead; nil means unchanged.
type Patch struct {
	Name      *string           `json:"name,omitempty"`
	Email     *string           `json:"email,omitempty"`
	Bio       *string           `json:"bio,omitempty"`
	Category  *storage.Category `json:"category,omitempty"`
	SourceURL *string           `json:"sourceUrl,omitempty"`
}

// Detail is a lead with its memories and relationships.
type Detail struct {
	storage.Lead
	Memories      []memory.Memory        `json:"memories"`
	Relationships []storage.Relationship `json:"relationships"`
}

// Page is one page of a lead listing.
type Page struct {
	Items  []storage.Lead `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

func embeddingText(l storage.Lead) string {
	return extract.Candidate{Name: l.Name, Category: l.Category, Bio: l.Bio}.EmbeddingText()
}

// CreateLead inserts a lead supplied directly by the caller. The embedding is
// computed from the same canonical text ingestion uses.
func (s *Service) CreateLead(ctx context.Context, in Input) (storage.Lead, error) {
	l := storage.Lead{
		Name:      strings.TrimSpace(in.Name),
		Email:     storage.NormalizeEmail(in.Email),
		Bio:       strings.TrimSpace(in.Bio),
		Category:  storage.Category(strings.ToLower(strings.TrimSpace(string(in.Category)))),
		SourceURL: strings.TrimSpace(in.SourceURL),
	}
	if l.Email == "" {
		return storage.Lead{}, apperr.New(apperr.MissingRequiredField, "email is required")
	}
	if err := (extract.Candidate{Name: l.Name, Email: l.Email, Bio: l.Bio, Category: l.Category}).Validate(); err != nil {
		return storage.Lead{}, err
	}
	if _, err := s.store.GetLeadByEmail(ctx, l.Email); err == nil {
		return storage.Lead{}, apperr.New(apperr.DuplicateEmail, "Lead with email %s already exists", l.Email)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return storage.Lead{}, fmt.Errorf("checking for existing lead: %w", err)
	}

	vec, err := s.embedder.Embed(ctx, embeddingText(l))
	if err != nil {
		return storage.Lead{}, err
	}
	l.Embedding = vector.Normalize(vec, vector.Dimension)

	created, err := s.store.CreateLead(ctx, l)
	if err != nil {
		return storage.Lead{}, err
	}
	if s.memory != nil {
		if _, err := s.memory.AddForLead(ctx, created, ""); err != nil {
			s.logger.Warn("failed to store memory for lead", "lead_id", created.ID, "error", err)
			metrics.RecordMemoryFailure("add_lead")
		}
	}
	if err := s.publisher.PublishLeadCreated(ctx, created); err != nil {
		s.logger.Warn("failed to publish lead event", "lead_id", created.ID, "error", err)
	}
	return created, nil
}

// GetLead returns the lead with its memories and relationships. Memories
// are best effort: a memory failure yields an empty list.
func (s *Service) GetLead(ctx context.Context, id string) (Detail, error) {
	l, err := s.store.GetLead(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Detail{}, apperr.Wrap(apperr.NotFound, err, "Lead with ID %s not found", id)
		}
		return Detail{}, err
	}
	rels, err := s.store.ListRelationships(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	if rels == nil {
		rels = []storage.Relationship{}
	}

	mems := []memory.Memory{}
	if s.memory != nil {
		found, err := s.memory.ForLead(ctx, id)
		if err != nil {
			s.logger.Warn("failed to fetch lead memories", "lead_id", id, "error", err)
			metrics.RecordMemoryFailure("get_lead")
		} else {
			mems = found
		}
	}
	return Detail{Lead: l, Memories: mems, Relationships: rels}, nil
}

// ListLeads pages through leads newest first.
func (s *Service) ListLeads(ctx context.Context, category storage.Category, limit, offset int) (Page, error) {
	if category != "" && !category.Valid() {
		return Page{}, apperr.New(apperr.ValidationFailure, "invalid category %q", category)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		return Page{}, apperr.New(apperr.ValidationFailure, "limit must be at most %d", MaxListLimit)
	}
	if offset < 0 {
		return Page{}, apperr.New(apperr.ValidationFailure, "offset must not be negative")
	}

	items, err := s.store.ListLeads(ctx, category, limit, offset)
	if err != nil {
		return Page{}, err
	}
	total, err := s.store.CountLeads(ctx, category)
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []storage.Lead{}
	}
	return Page{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// UpdateLead applies p to the lead. The embedding is recomputed when a field
// that feeds it changes.
func (s *Service) UpdateLead(ctx context.Context, id string, p Patch) (storage.Lead, error) {
	l, err := s.store.GetLead(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Lead{}, apperr.Wrap(apperr.NotFound, err, "Lead with ID %s not found", id)
		}
		return storage.Lead{}, err
	}

	before := embeddingText(l)
	if p.Name != nil {
		l.Name = strings.TrimSpace(*p.Name)
	}
	if p.Email != nil {
		l.Email = storage.NormalizeEmail(*p.Email)
	}
	if p.Bio != nil {
		l.Bio = strings.TrimSpace(*p.Bio)
	}
	if p.Category != nil {
		l.Category = storage.Category(strings.ToLower(strings.TrimSpace(string(*p.Category))))
	}
	if p.SourceURL != nil {
		l.SourceURL = strings.TrimSpace(*p.SourceURL)
	}
	if err := (extract.Candidate{Name: l.Name, Email: l.Email, Bio: l.Bio, Category: l.Category}).Validate(); err != nil {
		return storage.Lead{}, err
	}

	if after := embeddingText(l); after != before {
		vec, err := s.embedder.Embed(ctx, after)
		if err != nil {
			return storage.Lead{}, err
		}
		l.Embedding = vector.Normalize(vec, vector.Dimension)
	}
	return s.store.UpdateLead(ctx, l)
}

// DeleteLead removes the lead; relationships go with it. Its memories are
// purged best effort.
func (s *Service) DeleteLead(ctx context.Context, id string) error {
	if err := s.store.DeleteLead(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.Wrap(apperr.NotFound, err, "Lead with ID %s not found", id)
		}
		return err
	}
	if s.memory != nil {
		if n, err := s.memory.DeleteForLead(ctx, id); err != nil {
			s.logger.Warn("failed to purge lead memories", "lead_id", id, "error", err)
			metrics.RecordMemoryFailure("delete_lead")
		} else if n > 0 {
			s.logger.Debug("purged lead memories", "lead_id", id, "count", n)
		}
	}
	return nil
}
