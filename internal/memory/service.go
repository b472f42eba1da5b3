package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/leadnexus/internal/apperr"
	"github.com/kalambet/leadnexus/internal/storage"
)

const (
	DefaultSearchLimit = 10
	GraphSearchLimit   = 20
)

// Embedder turns memory text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service writes and queries lead memories. Callers treat every error as
// non-fatal to their primary operation.
type Service struct {
	store    Store
	embedder Embedder
	now      func() time.Time
	logger   *slog.Logger
}

func NewService(store Store, embedder Embedder) *Service {
	return &Service{store: store, embedder: embedder, now: time.Now, logger: slog.Default()}
}

// LeadText is the note stored for a newly created lead.
func LeadText(l storage.Lead, additionalContext string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Lead Information:\nName: %s\nCategory: %s\nBio: %s\nSource: %s", l.Name, l.Category, l.Bio, l.SourceURL)
	if additionalContext != "" {
		fmt.Fprintf(&sb, "\nAdditional Context: %s", additionalContext)
	}
	return sb.String()
}

// RelationshipText is the note stored when two leads are connected.
func RelationshipText(leadID1, leadID2, relationshipType string) string {
	return fmt.Sprintf("Relationship established: Lead %s is connected to Lead %s via %s", leadID1, leadID2, relationshipType)
}

// AddForLead stores the canonical note for a lead, owned by the lead's id.
func (s *Service) AddForLead(ctx context.Context, l storage.Lead, additionalContext string) (Memory, error) {
	return s.add(ctx, l.ID, LeadText(l, additionalContext), Metadata{
		LeadID:    l.ID,
		Category:  string(l.Category),
		SourceURL: l.SourceURL,
	})
}

// AddRelationship stores a directed relationship note in leadID1's scope.
func (s *Service) AddRelationship(ctx context.Context, leadID1, leadID2, relationshipType string) (Memory, error) {
	return s.add(ctx, leadID1, RelationshipText(leadID1, leadID2, relationshipType), Metadata{
		LeadID:           leadID1,
		Category:         RelationshipCategory,
		RelatedLeadID:    leadID2,
		RelationshipType: relationshipType,
	})
}

func (s *Service) add(ctx context.Context, ownerID, text string, md Metadata) (Memory, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return Memory{}, fmt.Errorf("embedding memory: %w", err)
	}
	now := s.now().UTC()
	md.Timestamp = now.Format(time.RFC3339)
	m := Memory{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Text:      text,
		Metadata:  md,
		Embedding: vec,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Insert(ctx, m); err != nil {
		return Memory{}, err
	}
	s.logger.Debug("stored memory", "memory_id", m.ID, "owner_id", ownerID, "category", md.Category)
	return m, nil
}

// Search returns memories matching query, filtered by owner and category.
func (s *Service) Search(ctx context.Context, query string, f Filter) ([]Memory, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.New(apperr.ValidationFailure, "memory query is empty")
	}
	if f.Limit <= 0 {
		f.Limit = DefaultSearchLimit
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding memory query: %w", err)
	}
	return s.store.Search(ctx, vec, f)
}

// SearchContext collects up to limitPerLead memories per lead, in leadIDs
// order, and renders them as one context block. It returns "" when nothing
// matches.
func (s *Service) SearchContext(ctx context.Context, query string, leadIDs []string, limitPerLead int) (string, error) {
	if len(leadIDs) == 0 {
		return "", nil
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embedding memory query: %w", err)
	}
	var lines []string
	for _, id := range leadIDs {
		mems, err := s.store.Search(ctx, vec, Filter{OwnerID: id, Limit: limitPerLead})
		if err != nil {
			return "", fmt.Errorf("searching memories for lead %s: %w", id, err)
		}
		for _, m := range mems {
			lines = append(lines, fmt.Sprintf("- %s (Lead: %s)", m.Text, m.Metadata.LeadID))
		}
	}
	if len(lines) == 0 {
		return "", nil
	}
	return "Related context from memory:\n" + strings.Join(lines, "\n"), nil
}

// BuildGraph searches memories for query and folds the hits into a graph.
// A non-empty category restricts the search to memories with that category.
func (s *Service) BuildGraph(ctx context.Context, query, category string) (Graph, error) {
	mems, err := s.Search(ctx, query, Filter{Category: category, Limit: GraphSearchLimit})
	if err != nil {
		return Graph{}, err
	}
	return FoldGraph(mems), nil
}

// ForLead lists every memory owned by the lead.
func (s *Service) ForLead(ctx context.Context, leadID string) ([]Memory, error) {
	mems, err := s.store.ListByOwner(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if mems == nil {
		mems = []Memory{}
	}
	return mems, nil
}

// Update replaces a memory's text and re-embeds it.
func (s *Service) Update(ctx context.Context, id, text string) error {
	if strings.TrimSpace(text) == "" {
		return apperr.New(apperr.ValidationFailure, "memory text is empty")
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embedding memory: %w", err)
	}
	return s.store.Update(ctx, id, text, vec)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// DeleteForLead removes every memory owned by the lead.
func (s *Service) DeleteForLead(ctx context.Context, leadID string) (int, error) {
	return s.store.DeleteByOwner(ctx, leadID)
}
