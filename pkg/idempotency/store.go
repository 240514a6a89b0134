package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/partnerhubhq/partnerhub-backend/pkg/db/models"
	"github.com/partnerhubhq/partnerhub-backend/pkg/enums"
)

// UniqueConstraintName backs (scope, idem_key, tenant_id) uniqueness; insert
// races surface as violations of this constraint.
const UniqueConstraintName = "ux_idempotency_scope_key_tenant"

// Store persists idempotency records.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Find returns the record for the dedup key, or nil. Expiry is not filtered
// here: the caller decides whether a stale record is evicted or honored, and
// the row has to be visible either way because it still occupies the unique
// index.
func (s *Store) Find(ctx context.Context, scope, idemKey string, tenantID uuid.UUID) (*models.IdempotencyRecord, error) {
	var record models.IdempotencyRecord
	err := s.db.WithContext(ctx).
		Where("scope = ? AND idem_key = ? AND tenant_id = ?", scope, idemKey, tenantID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// Create inserts a new record; the unique index enforces first-writer-wins.
func (s *Store) Create(ctx context.Context, record *models.IdempotencyRecord) error {
	return s.db.WithContext(ctx).Create(record).Error
}

// MarkCompleted stores the successful outcome so replays can return it.
func (s *Store) MarkCompleted(ctx context.Context, id uuid.UUID, httpStatus int, payload json.RawMessage) error {
	return s.db.WithContext(ctx).Model(&models.IdempotencyRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":           enums.IdempotencyCompleted,
			"http_status":      httpStatus,
			"response_payload": payload,
			"updated_at":       time.Now().UTC(),
		}).Error
}

// MarkFailed records the failure summary; failed records are deleted on the
// next attempt so a retry starts from scratch.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, httpStatus int, errorPayload json.RawMessage) error {
	return s.db.WithContext(ctx).Model(&models.IdempotencyRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        enums.IdempotencyFailed,
			"http_status":   httpStatus,
			"error_payload": errorPayload,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// Delete removes a record by id.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.IdempotencyRecord{}).Error
}

// DeleteExpired sweeps records past their TTL and reports the count.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at <= ?", time.Now().UTC()).
		Delete(&models.IdempotencyRecord{})
	return result.RowsAffected, result.Error
}
