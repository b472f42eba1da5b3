// Package events publishes lead domain events to a message broker.
package events

import (
	"context"
	"time"

	"github.com/kalambet/leadnexus/internal/storage"
)

const (
	LeadCreated         = "lead.created"
	RelationshipCreated = "relationship.created"
)

// Publisher announces domain changes. Publishing is best effort: callers log
// failures and carry on.
type Publisher interface {
	PublishLeadCreated(ctx context.Context, l storage.Lead) error
	PublishRelationshipCreated(ctx context.Context, r storage.Relationship) error
	Close() error
}

// Envelope is the JSON body of every message.
type Envelope struct {
	Type         string                `json:"type"`
	OccurredAt   time.Time             `json:"occurredAt"`
	Lead         *storage.Lead         `json:"lead,omitempty"`
	Relationship *storage.Relationship `json:"relationship,omitempty"`
}

// Nop discards every event.
type Nop struct{}

func (Nop) PublishLeadCreated(context.Context, storage.Lead) error                 { return nil }
func (Nop) PublishRelationshipCreated(context.Context, storage.Relationship) error { return nil }
func (Nop) Close() error                                                           { return nil }
