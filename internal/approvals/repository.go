package approvals

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/partnerhubhq/partnerhub-backend/pkg/db/models"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a pending approval row.
func (r *Repository) Create(tx *gorm.DB, approval *models.Approval) error {
	if approval.ID == uuid.Nil {
		approval.ID = uuid.New()
	}
	if approval.Status == "" {
		approval.Status = StatusPending
	}
	return tx.Create(approval).Error
}

// GetForUpdate loads the approval row, locked for the duration of tx on
// Postgres. sqlite (tests) is single-writer and takes no row lock.
func (r *Repository) GetForUpdate(tx *gorm.DB, id, tenantID uuid.UUID) (*models.Approval, error) {
	query := tx.Where("id = ? AND tenant_id = ?", id, tenantID)
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var approval models.Approval
	if err := query.First(&approval).Error; err != nil {
		return nil, err
	}
	return &approval, nil
}

// RecordDecision finalizes the approval inside tx.
func (r *Repository) RecordDecision(tx *gorm.DB, approval *models.Approval, decision string, decidedBy uuid.UUID, reason string, decidedAt time.Time) error {
	updates := map[string]any{
		"status":     StatusDecided,
		"decision":   decision,
		"decided_by": decidedBy,
		"decided_at": decidedAt,
		"updated_at": decidedAt,
	}
	if reason != "" {
		updates["reason"] = reason
	}
	return tx.Model(&models.Approval{}).
		Where("id = ?", approval.ID).
		Updates(updates).Error
}
