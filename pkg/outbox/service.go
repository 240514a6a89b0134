package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/partnerhubhq/partnerhub-backend/pkg/db/models"
	"github.com/partnerhubhq/partnerhub-backend/pkg/events"
	"github.com/partnerhubhq/partnerhub-backend/pkg/logger"
)

// Service enqueues domain events for reliable delivery. Enqueue must run
// inside the business operation's transaction so the event and the state
// change commit or roll back together.
type Service struct {
	store *Store
	logg  *logger.Logger
}

func NewService(store *Store, logg *logger.Logger) *Service {
	return &Service{store: store, logg: logg}
}

// Enqueue serializes the event and appends it to the outbox within tx. The
// returned id identifies the queued row for the post-commit fast path.
func (s *Service) Enqueue(ctx context.Context, tx *gorm.DB, event events.DomainEvent) (uuid.UUID, error) {
	if tx == nil {
		return uuid.Nil, errors.New("transaction required")
	}
	if err := event.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("invalid domain event: %w", err)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := newEnvelope(event)
	if err != nil {
		return uuid.Nil, err
	}

	row := models.OutboxEvent{
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		TenantID:      event.TenantID,
		Payload:       payload,
	}
	if event.CorrelationID != "" {
		correlationID := event.CorrelationID
		row.CorrelationID = &correlationID
	}
	if len(event.Metadata) > 0 {
		metadata, marshalErr := json.Marshal(event.Metadata)
		if marshalErr != nil {
			return uuid.Nil, fmt.Errorf("marshal metadata: %w", marshalErr)
		}
		row.Metadata = metadata
	}

	if err := s.store.Insert(tx, &row); err != nil {
		return uuid.Nil, err
	}

	if s.logg != nil {
		fields := map[string]any{
			"event_type":     event.EventType,
			"aggregate_type": event.AggregateType,
			"aggregate_id":   event.AggregateID,
			"tenant_id":      event.TenantID.String(),
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event queued")
	}
	return row.ID, nil
}
