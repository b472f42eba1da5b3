package storage

import (
	"strings"
	"time"

	"github.com/kalambet/leadnexus/internal/apperr"
	"github.com/kalambet/leadnexus/internal/vector"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = &apperr.Error{Kind: apperr.NotFound, Message: "not found"}

// Category is the closed set of lead kinds.
type Category string

const (
	CategoryInfluencer Category = "influencer"
	CategoryJournalist Category = "journalist"
	CategoryPublisher  Category = "publisher"
)

// Categories lists every valid Category in display order.
var Categories = []Category{CategoryInfluencer, CategoryJournalist, CategoryPublisher}

func (c Category) Valid() bool {
	switch c {
	case CategoryInfluencer, CategoryJournalist, CategoryPublisher:
		return true
	}
	return false
}

// ParseCategory accepts a category name case-insensitively. An empty string
// parses to the empty Category, meaning "no filter".
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c == "" || c.Valid() {
		return c, nil
	}
	return "", apperr.New(apperr.ValidationFailure, "invalid category %q: must be one of influencer, journalist, publisher", s)
}

type Lead struct {
	ID        string    `json:"id"`
	Category  Category  `json:"category"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Bio       string    `json:"bio"`
	SourceURL string    `json:"sourceUrl"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate enforces the invariants every persisted lead must satisfy.
func (l Lead) Validate() error {
	switch {
	case strings.TrimSpace(l.Name) == "":
		return apperr.New(apperr.MissingRequiredField, "name is required")
	case strings.TrimSpace(l.Email) == "":
		return apperr.New(apperr.MissingRequiredField, "email is required")
	case strings.TrimSpace(l.Bio) == "":
		return apperr.New(apperr.MissingRequiredField, "bio is required")
	case !l.Category.Valid():
		return apperr.New(apperr.ValidationFailure, "invalid category %q", l.Category)
	case len(l.Embedding) != vector.Dimension:
		return apperr.New(apperr.ValidationFailure, "embedding must have %d dimensions, got %d", vector.Dimension, len(l.Embedding))
	}
	return nil
}

// ScoredLead is a Lead ranked by similarity (1 - cosine distance).
type ScoredLead struct {
	Lead
	Similarity float32 `json:"similarity"`
}

// Relationship is a directed, typed edge between two leads.
type Relationship struct {
	ID               string    `json:"id"`
	LeadID           string    `json:"leadId"`
	RelatedLeadID    string    `json:"relatedLeadId"`
	RelationshipType string    `json:"relationshipType"`
	CreatedAt        time.Time `json:"createdAt"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	ResultJSON  string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
