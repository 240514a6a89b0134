package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/partnerhubhq/partnerhub-backend/pkg/db/models"
	"github.com/partnerhubhq/partnerhub-backend/pkg/events"
)

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// Rebuild reconstructs the in-memory domain event from a stored outbox row.
func Rebuild(row models.OutboxEvent) (events.DomainEvent, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &envelope); err != nil {
		return events.DomainEvent{}, fmt.Errorf("decode envelope for %s: %w", row.ID, err)
	}

	payload := map[string]any{}
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return events.DomainEvent{}, fmt.Errorf("decode payload for %s: %w", row.ID, err)
		}
	}

	var metadata map[string]string
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			return events.DomainEvent{}, fmt.Errorf("decode metadata for %s: %w", row.ID, err)
		}
	}

	event := events.DomainEvent{
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		TenantID:      row.TenantID,
		OccurredAt:    envelope.OccurredAt,
		Payload:       payload,
		Metadata:      metadata,
	}
	if row.CorrelationID != nil {
		event.CorrelationID = *row.CorrelationID
	}
	return event, nil
}

func newEnvelope(event events.DomainEvent) (json.RawMessage, error) {
	data, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	envelope := PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: event.OccurredAt,
		Data:       data,
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return raw, nil
}
