package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/partnerhubhq/partnerhub-backend/pkg/enums"
)

// IdempotencyRecord stores the fingerprint and outcome of a guarded request.
// A record is uniquely identified by (scope, idem_key, tenant_id) while
// unexpired; the unique index ux_idempotency_scope_key_tenant backs the
// first-writer-wins guarantee.
type IdempotencyRecord struct {
	ID              uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Scope           string                  `gorm:"column:scope;not null"`
	IdemKey         string                  `gorm:"column:idem_key;not null"`
	TenantID        uuid.UUID               `gorm:"column:tenant_id;type:uuid;not null"`
	Status          enums.IdempotencyStatus `gorm:"column:status;not null"`
	RequestHash     string                  `gorm:"column:request_hash;not null"`
	HTTPStatus      *int                    `gorm:"column:http_status"`
	ResponsePayload json.RawMessage         `gorm:"column:response_payload;type:jsonb"`
	ErrorPayload    json.RawMessage         `gorm:"column:error_payload;type:jsonb"`
	CreatedAt       time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time               `gorm:"column:updated_at;autoUpdateTime"`
	ExpiresAt       time.Time               `gorm:"column:expires_at;not null"`
}

func (IdempotencyRecord) TableName() string {
	return "idempotency_records"
}
