package consumers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/partnerhubhq/partnerhub-backend/pkg/enums"
	"github.com/partnerhubhq/partnerhub-backend/pkg/eventbus"
	"github.com/partnerhubhq/partnerhub-backend/pkg/events"
	"github.com/partnerhubhq/partnerhub-backend/pkg/logger"
)

// ApprovalNotifier reacts to decided approvals. Today that means notifying
// through the log; the handler is the seam where mail or webhook delivery
// plugs in.
type ApprovalNotifier struct {
	logg *logger.Logger
}

func NewApprovalNotifier(logg *logger.Logger) *ApprovalNotifier {
	return &ApprovalNotifier{logg: logg}
}

func (c *ApprovalNotifier) Register(bus *eventbus.Bus) error {
	if _, err := bus.Subscribe(enums.EventApprovalDecided, "approval-notifier", c.handle); err != nil {
		return fmt.Errorf("subscribing approval notifier: %w", err)
	}
	return nil
}

func (c *ApprovalNotifier) handle(ctx context.Context, event events.DomainEvent) error {
	var payload events.ApprovalDecidedPayload
	raw, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("encode approval payload: %w", err)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode approval payload: %w", err)
	}

	ctx = c.logg.WithFields(ctx, map[string]any{
		"approval_id": event.AggregateID,
		"tenant_id":   event.TenantID.String(),
		"decision":    payload.Decision,
		"decided_by":  payload.DecidedBy,
	})
	c.logg.Info(ctx, "approval decision notification queued")
	return nil
}
