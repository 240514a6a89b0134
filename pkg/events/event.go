package events

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/partnerhubhq/partnerhub-backend/pkg/enums"
)

// DomainEvent is the in-memory unit exchanged between the business layer,
// the outbox and the event bus. It is never persisted directly; the outbox
// stores a serialized copy.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   string
	TenantID      uuid.UUID
	CorrelationID string
	OccurredAt    time.Time
	Payload       map[string]any
	Metadata      map[string]string
}

// Validate checks the fields every consumer relies on.
func (e DomainEvent) Validate() error {
	if !e.EventType.IsValid() {
		return errors.New("event type is required")
	}
	if !e.AggregateType.IsValid() {
		return errors.New("aggregate type is required")
	}
	if e.AggregateID == "" {
		return errors.New("aggregate id is required")
	}
	if e.TenantID == uuid.Nil {
		return errors.New("tenant id is required")
	}
	return nil
}
