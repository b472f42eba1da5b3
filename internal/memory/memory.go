// Package memory keeps free-text notes about leads and their relationships,
// searchable by semantic similarity, and folds search results into a
// point-in-time knowledge graph.
package memory

import "time"

// RelationshipCategory tags memories that describe an edge between leads.
const RelationshipCategory = "relationship"

// Metadata is stored alongside each memory text. LeadID references a lead by
// id only; there is no foreign key.
type Metadata struct {
	LeadID           string `json:"leadId"`
	Category         string `json:"category"`
	SourceURL        string `json:"sourceUrl,omitempty"`
	RelatedLeadID    string `json:"relatedLeadId,omitempty"`
	RelationshipType string `json:"relationshipType,omitempty"`
	Timestamp        string `json:"timestamp"`
}

// Memory is a note scoped to an owner, usually a lead id.
type Memory struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Text      string    `json:"memory"`
	Metadata  Metadata  `json:"metadata"`
	Score     float32   `json:"score,omitempty"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Filter narrows a similarity search. Empty fields match everything.
type Filter struct {
	OwnerID  string
	Category string
	Limit    int
}
