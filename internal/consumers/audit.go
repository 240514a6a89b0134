package consumers

import (
	"context"
	"fmt"

	"github.com/partnerhubhq/partnerhub-backend/pkg/enums"
	"github.com/partnerhubhq/partnerhub-backend/pkg/eventbus"
	"github.com/partnerhubhq/partnerhub-backend/pkg/events"
	"github.com/partnerhubhq/partnerhub-backend/pkg/logger"
)

// AuditConsumer writes one structured audit line per delivered domain event.
// It subscribes to every known event type so the audit trail stays complete
// as new types are added to the enum.
type AuditConsumer struct {
	logg *logger.Logger
}

func NewAuditConsumer(logg *logger.Logger) *AuditConsumer {
	return &AuditConsumer{logg: logg}
}

func (c *AuditConsumer) Register(bus *eventbus.Bus) error {
	for _, eventType := range enums.AllOutboxEventTypes() {
		if _, err := bus.Subscribe(eventType, "audit", c.handle); err != nil {
			return fmt.Errorf("subscribing audit consumer to %s: %w", eventType, err)
		}
	}
	return nil
}

func (c *AuditConsumer) handle(ctx context.Context, event events.DomainEvent) error {
	fields := map[string]any{
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"tenant_id":      event.TenantID.String(),
		"occurred_at":    event.OccurredAt,
	}
	if event.CorrelationID != "" {
		fields["correlation_id"] = event.CorrelationID
	}
	c.logg.Info(c.logg.WithFields(ctx, fields), "audit: domain event delivered")
	return nil
}
