package models

import (
	"time"

	"github.com/google/uuid"
)

// Approval is the decision state the BFF owns for a pending approval request.
// The surrounding policy evaluation lives in the core API; this table only
// records what was decided here.
type Approval struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID   uuid.UUID  `gorm:"column:tenant_id;type:uuid;not null"`
	SubjectRef string     `gorm:"column:subject_ref;not null"`
	Status     string     `gorm:"column:status;not null;default:pending"`
	Decision   *string    `gorm:"column:decision"`
	DecidedBy  *uuid.UUID `gorm:"column:decided_by;type:uuid"`
	DecidedAt  *time.Time `gorm:"column:decided_at"`
	Reason     *string    `gorm:"column:reason"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Approval) TableName() string {
	return "approvals"
}
