package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/partnerhubhq/partnerhub-backend/pkg/db/models"
	"github.com/partnerhubhq/partnerhub-backend/pkg/enums"
)

const defaultMaxRetries = 5

// ErrNotReprocessable signals a reprocess attempt on a row that is not DEAD.
var ErrNotReprocessable = errors.New("only dead outbox events can be reprocessed")

// Store owns all mutations of outbox_events. Claiming is a single atomic
// statement so N concurrent dispatcher instances never double-deliver.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Insert appends a row inside the caller's transaction. The tx requirement is
// the whole point of the outbox: the event becomes durable if and only if the
// surrounding state change commits.
func (s *Store) Insert(tx *gorm.DB, row *models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.MaxRetries <= 0 {
		row.MaxRetries = defaultMaxRetries
	}
	if row.Status == "" {
		row.Status = enums.OutboxStatusPending
	}
	if row.ScheduledAt.IsZero() {
		row.ScheduledAt = time.Now().UTC()
	}
	return tx.Create(row).Error
}

// ClaimPending atomically moves up to limit due PENDING rows to PROCESSING
// and returns them, oldest first. On Postgres the inner select takes row
// locks with SKIP LOCKED so concurrent claimers pull disjoint batches;
// sqlite (tests) is single-writer and needs no lock clause.
func (s *Store) ClaimPending(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := time.Now().UTC()

	locking := ""
	if s.db.Dialector.Name() == "postgres" {
		locking = " FOR UPDATE SKIP LOCKED"
	}
	query := fmt.Sprintf(`
UPDATE outbox_events
SET status = ?, updated_at = ?
WHERE id IN (
	SELECT id FROM outbox_events
	WHERE status = ? AND scheduled_at <= ?
	ORDER BY created_at ASC
	LIMIT ?%s
)
RETURNING *`, locking)

	var claimed []models.OutboxEvent
	err := s.db.WithContext(ctx).
		Raw(query, enums.OutboxStatusProcessing, now, enums.OutboxStatusPending, now, limit).
		Scan(&claimed).Error
	if err != nil {
		return nil, fmt.Errorf("claim pending outbox events: %w", err)
	}
	return claimed, nil
}

// MarkPublished finalizes a claimed row.
func (s *Store) MarkPublished(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", id, enums.OutboxStatusProcessing).
		Updates(map[string]any{
			"status":       enums.OutboxStatusPublished,
			"processed_at": now,
			"updated_at":   now,
		}).Error
}

// MarkPublishedIfPending finalizes a row straight from PENDING. Used by the
// synchronous fast path after a successful post-commit publish; if the
// dispatcher already claimed the row this is a no-op and the dispatcher's
// own delivery decides the outcome.
func (s *Store) MarkPublishedIfPending(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", id, enums.OutboxStatusPending).
		Updates(map[string]any{
			"status":       enums.OutboxStatusPublished,
			"processed_at": now,
			"updated_at":   now,
		}).Error
}

// MarkForRetry bumps the retry count and either reschedules the row with
// exponential backoff (1, 2, 4, 8, 16 minutes) or parks it as DEAD once the
// retry budget is spent. The resulting status is returned so callers can tell
// a reschedule from a dead-letter. Only the claiming dispatcher mutates a
// PROCESSING row, so read-then-write is safe here.
func (s *Store) MarkForRetry(ctx context.Context, id uuid.UUID, cause error) (enums.OutboxStatus, error) {
	row, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}

	retryCount := row.RetryCount + 1
	maxRetries := row.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"retry_count": retryCount,
		"last_error":  errorMessage(cause),
		"updated_at":  now,
	}
	next := enums.OutboxStatusPending
	if retryCount >= maxRetries {
		next = enums.OutboxStatusDead
	} else {
		updates["scheduled_at"] = now.Add(retryBackoff(retryCount))
	}
	updates["status"] = next

	err = s.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
	if err != nil {
		return "", err
	}
	return next, nil
}

// MarkDead parks the row immediately, bypassing remaining retries. Used for
// errors classified non-retryable.
func (s *Store) MarkDead(ctx context.Context, id uuid.UUID, cause error) error {
	return s.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     enums.OutboxStatusDead,
			"last_error": errorMessage(cause),
			"updated_at": time.Now().UTC(),
		}).Error
}

// Reprocess revives a DEAD row: back to PENDING with a fresh retry budget,
// immediately claimable.
func (s *Store) Reprocess(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ? AND status = ?", id, enums.OutboxStatusDead).
		Updates(map[string]any{
			"status":       enums.OutboxStatusPending,
			"retry_count":  0,
			"scheduled_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotReprocessable
	}
	return nil
}

// ReclaimStuckProcessing returns PROCESSING rows older than the cutoff to
// PENDING so a crashed dispatcher cannot strand them. The retry count is left
// untouched; a crash is not a delivery failure.
func (s *Store) ReclaimStuckProcessing(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("status = ? AND updated_at < ?", enums.OutboxStatusProcessing, now.Add(-olderThan)).
		Updates(map[string]any{
			"status":       enums.OutboxStatusPending,
			"scheduled_at": now,
			"updated_at":   now,
		})
	return result.RowsAffected, result.Error
}

// PurgePublishedOlderThan removes PUBLISHED rows past the retention window
// and reports how many were deleted.
func (s *Store) PurgePublishedOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 14
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	result := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.OutboxStatusPublished, cutoff).
		Delete(&models.OutboxEvent{})
	return result.RowsAffected, result.Error
}

// GetByID fetches a single row.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*models.OutboxEvent, error) {
	var row models.OutboxEvent
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ListDead returns parked rows for the operator surface, newest first.
func (s *Store) ListDead(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.db.WithContext(ctx).Where("status = ?", enums.OutboxStatusDead)
	if tenantID != uuid.Nil {
		query = query.Where("tenant_id = ?", tenantID)
	}
	var rows []models.OutboxEvent
	err := query.Order("updated_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// CountByStatus feeds the queue-depth gauge.
func (s *Store) CountByStatus(ctx context.Context, status enums.OutboxStatus) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}

func retryBackoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	// 1, 2, 4, 8, 16 minutes for retries 1-5. Minutes, not seconds: this
	// guards against downstream outages, not transient blips.
	return time.Duration(1<<(retryCount-1)) * time.Minute
}

func errorMessage(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if len(msg) > 1024 {
		msg = msg[:1024]
	}
	return &msg
}
