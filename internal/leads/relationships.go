package leads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/leadnexus/internal/apperr"
	"github.com/kalambet/leadnexus/internal/memory"
	"github.com/kalambet/leadnexus/internal/metrics"
	"github.com/kalambet/leadnexus/internal/storage"
)

const (
	MaxRelationshipTypeLen = 100
	MaxGraphQueryLen       = 1000
	MaxGraphDepth          = 5
)

// RelationshipResult is returned by AddRelationship.
type RelationshipResult struct {
	Success          bool   `json:"success"`
	ID               string `json:"id"`
	LeadID1          string `json:"leadId1"`
	LeadID2          string `json:"leadId2"`
	RelationshipType string `json:"relationshipType"`
	Message          string `json:"message"`
}

// AddRelationship records that leadID1 relates to leadID2. The edge row is
// written first; the memory note that feeds the knowledge graph is best
// effort.
func (s *Service) AddRelationship(ctx context.Context, leadID1, leadID2, relationshipType string) (RelationshipResult, error) {
	relationshipType = strings.TrimSpace(relationshipType)
	switch n := utf8.RuneCountInString(relationshipType); {
	case n == 0:
		return RelationshipResult{}, apperr.New(apperr.MissingRequiredField, "relationshipType is required")
	case n > MaxRelationshipTypeLen:
		return RelationshipResult{}, apperr.New(apperr.ValidationFailure, "relationshipType must be at most %d characters", MaxRelationshipTypeLen)
	}
	if leadID1 == "" || leadID2 == "" {
		return RelationshipResult{}, apperr.New(apperr.MissingRequiredField, "leadId1 and leadId2 are required")
	}
	if leadID1 == leadID2 {
		return RelationshipResult{}, apperr.New(apperr.ValidationFailure, "a lead cannot be related to itself")
	}

	for _, id := range []string{leadID1, leadID2} {
		if _, err := s.store.GetLead(ctx, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return RelationshipResult{}, apperr.Wrap(apperr.NotFound, err, "One or both leads not found")
			}
			return RelationshipResult{}, fmt.Errorf("looking up lead %s: %w", id, err)
		}
	}

	rel, err := s.store.CreateRelationship(ctx, storage.Relationship{
		LeadID:           leadID1,
		RelatedLeadID:    leadID2,
		RelationshipType: relationshipType,
	})
	if err != nil {
		return RelationshipResult{}, err
	}

	if s.memory != nil {
		if _, err := s.memory.AddRelationship(ctx, leadID1, leadID2, relationshipType); err != nil {
			s.logger.Warn("failed to store relationship memory", "lead_id", leadID1, "related_lead_id", leadID2, "error", err)
			metrics.RecordMemoryFailure("add_relationship")
		}
	}
	if err := s.publisher.PublishRelationshipCreated(ctx, rel); err != nil {
		s.logger.Warn("failed to publish relationship event", "relationship_id", rel.ID, "error", err)
	}

	return RelationshipResult{
		Success:          true,
		ID:               rel.ID,
		LeadID1:          leadID1,
		LeadID2:          leadID2,
		RelationshipType: relationshipType,
		Message:          fmt.Sprintf("Relationship '%s' established between leads", relationshipType),
	}, nil
}

// Relationships lists the edges touching an existing lead.
func (s *Service) Relationships(ctx context.Context, leadID string) ([]storage.Relationship, error) {
	if _, err := s.store.GetLead(ctx, leadID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.Wrap(apperr.NotFound, err, "Lead with ID %s not found", leadID)
		}
		return nil, err
	}
	rels, err := s.store.ListRelationships(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if rels == nil {
		rels = []storage.Relationship{}
	}
	return rels, nil
}

func (s *Service) DeleteRelationship(ctx context.Context, id string) error {
	if err := s.store.DeleteRelationship(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.Wrap(apperr.NotFound, err, "Relationship with ID %s not found", id)
		}
		return err
	}
	return nil
}

// GraphQuery selects the memories folded into a knowledge graph.
type GraphQuery struct {
	Query    string           `json:"query"`
	MaxDepth int              `json:"maxDepth,omitempty"`
	Category storage.Category `json:"leadCategory,omitempty"`
}

// GraphResult is the knowledge graph response.
type GraphResult struct {
	Nodes     []memory.Node `json:"nodes"`
	Edges     []memory.Edge `json:"edges"`
	Query     string        `json:"query"`
	Timestamp time.Time     `json:"timestamp"`
}

// QueryKnowledgeGraph derives a graph from the memories most similar to the
// query. MaxDepth is accepted for compatibility and bounded, but the graph
// is always a single hop.
func (s *Service) QueryKnowledgeGraph(ctx context.Context, q GraphQuery) (GraphResult, error) {
	q.Query = strings.TrimSpace(q.Query)
	switch n := utf8.RuneCountInString(q.Query); {
	case n == 0:
		return GraphResult{}, apperr.New(apperr.MissingRequiredField, "query is required")
	case n > MaxGraphQueryLen:
		return GraphResult{}, apperr.New(apperr.ValidationFailure, "query must be at most %d characters", MaxGraphQueryLen)
	}
	if q.MaxDepth < 0 || q.MaxDepth > MaxGraphDepth {
		return GraphResult{}, apperr.New(apperr.ValidationFailure, "maxDepth must be at most %d", MaxGraphDepth)
	}
	if q.Category != "" && !q.Category.Valid() {
		return GraphResult{}, apperr.New(apperr.ValidationFailure, "invalid category %q", q.Category)
	}
	if s.memory == nil {
		return GraphResult{}, apperr.New(apperr.ConfigurationMissing,
			"memory service is disabled. Set LEADNEXUS_MEMORY_ENABLED=true to query the knowledge graph")
	}

	g, err := s.memory.BuildGraph(ctx, q.Query, string(q.Category))
	if err != nil {
		if k := apperr.KindOf(err); k == apperr.ConfigurationMissing || k == apperr.ValidationFailure {
			return GraphResult{}, err
		}
		return GraphResult{}, apperr.Wrap(apperr.UpstreamProviderFailure, err, "Failed to query knowledge graph")
	}
	return GraphResult{Nodes: g.Nodes, Edges: g.Edges, Query: q.Query, Timestamp: s.now().UTC()}, nil
}
