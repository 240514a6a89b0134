package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/partnerhubhq/partnerhub-backend/pkg/enums"
)

// OutboxEvent is a durable, not-yet-published domain event. Rows are written
// inside the transaction of the business operation that produced them and
// mutated only by the dispatcher afterwards.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;not null"`
	AggregateID   string                    `gorm:"column:aggregate_id;not null"`
	TenantID      uuid.UUID                 `gorm:"column:tenant_id;type:uuid;not null"`
	CorrelationID *string                   `gorm:"column:correlation_id"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	Metadata      json.RawMessage           `gorm:"column:metadata;type:jsonb"`
	Status        enums.OutboxStatus        `gorm:"column:status;not null;default:PENDING"`
	RetryCount    int                       `gorm:"column:retry_count;not null;default:0"`
	MaxRetries    int                       `gorm:"column:max_retries;not null;default:5"`
	LastError     *string                   `gorm:"column:last_error"`
	ScheduledAt   time.Time                 `gorm:"column:scheduled_at;not null"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
	ProcessedAt   *time.Time                `gorm:"column:processed_at"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}
