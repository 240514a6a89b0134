package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/partnerhubhq/partnerhub-backend/pkg/db"
	"github.com/partnerhubhq/partnerhub-backend/pkg/db/models"
	"github.com/partnerhubhq/partnerhub-backend/pkg/enums"
	pkgerrors "github.com/partnerhubhq/partnerhub-backend/pkg/errors"
	"github.com/partnerhubhq/partnerhub-backend/pkg/logger"
	"github.com/partnerhubhq/partnerhub-backend/pkg/retry"
)

const defaultTTL = 24 * time.Hour

// Outcome is what a guarded operation produces on success.
type Outcome struct {
	Payload    any
	HTTPStatus int
}

// Operation is the business logic wrapped by Guard. It runs at most once per
// (scope, key, tenant) while the record is unexpired.
type Operation func(ctx context.Context) (Outcome, error)

// GuardResult carries the response to hand back to the client. IsNew is false
// when the response was served from a previous completion.
type GuardResult struct {
	Payload    json.RawMessage
	HTTPStatus int
	IsNew      bool
}

// Service mediates idempotent execution: first writer wins, duplicates get
// the cached result or a conflict.
type Service struct {
	store *Store
	ttl   time.Duration
	logg  *logger.Logger
}

func NewService(store *Store, ttl time.Duration, logg *logger.Logger) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{store: store, ttl: ttl, logg: logg}
}

// Guard executes op under the dedup key (scope, key, tenantID).
//
// A replay with the identical body returns the cached response without side
// effects. The same key with a different body is a client bug and fails with
// IDEMPOTENCY_KEY_MISMATCH. A duplicate while the first attempt is still in
// flight fails with IDEMPOTENCY_CONFLICT. A previously failed attempt is
// forgotten and retried from scratch.
func (s *Service) Guard(ctx context.Context, scope, key string, tenantID uuid.UUID, requestBody any, op Operation) (GuardResult, error) {
	if scope == "" {
		return GuardResult{}, pkgerrors.New(pkgerrors.CodeValidation, "idempotency scope is required")
	}
	if key == "" {
		return GuardResult{}, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required")
	}
	if tenantID == uuid.Nil {
		return GuardResult{}, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}

	requestHash, err := RequestHash(requestBody)
	if err != nil {
		return GuardResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "hash request body")
	}

	existing, err := s.store.Find(ctx, scope, key, tenantID)
	if err != nil {
		return GuardResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up idempotency record")
	}

	// Uniqueness only holds while the record is unexpired: a stale row is
	// evicted here rather than left to poison the key until the cleanup
	// sweep runs.
	if existing != nil && isExpired(existing) {
		if err := s.store.Delete(ctx, existing.ID); err != nil {
			return GuardResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear expired idempotency record")
		}
		existing = nil
	}

	if existing != nil {
		switch {
		case existing.RequestHash != requestHash:
			return GuardResult{}, pkgerrors.
				New(pkgerrors.CodeIdempotencyMismatch, "idempotency key reused with different request body").
				WithCorrelationID(existing.ID.String())
		case existing.Status == enums.IdempotencyInProgress:
			return GuardResult{}, pkgerrors.
				New(pkgerrors.CodeIdempotencyConflict, "request with this idempotency key is in progress").
				WithCorrelationID(existing.ID.String())
		case existing.Status == enums.IdempotencyCompleted:
			return GuardResult{
				Payload:    existing.ResponsePayload,
				HTTPStatus: statusOrDefault(existing.HTTPStatus, http.StatusOK),
				IsNew:      false,
			}, nil
		default: // FAILED: retryable from scratch.
			if err := s.store.Delete(ctx, existing.ID); err != nil {
				return GuardResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear failed idempotency record")
			}
		}
	}

	record := &models.IdempotencyRecord{
		ID:          uuid.New(),
		Scope:       scope,
		IdemKey:     key,
		TenantID:    tenantID,
		Status:      enums.IdempotencyInProgress,
		RequestHash: requestHash,
		ExpiresAt:   time.Now().UTC().Add(s.ttl),
	}
	if err := s.createRecord(ctx, record); err != nil {
		return GuardResult{}, err
	}

	outcome, opErr := op(ctx)
	if opErr != nil {
		s.recordFailure(ctx, record.ID, opErr)
		return GuardResult{}, opErr
	}

	payload, err := json.Marshal(outcome.Payload)
	if err != nil {
		marshalErr := pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal operation result")
		s.recordFailure(ctx, record.ID, marshalErr)
		return GuardResult{}, marshalErr
	}

	status := statusOrDefaultInt(outcome.HTTPStatus, http.StatusOK)
	if err := s.store.MarkCompleted(ctx, record.ID, status, payload); err != nil {
		// The operation already ran; surface the result but log the gap.
		if s.logg != nil {
			s.logg.Error(ctx, "failed to persist completed idempotency record", err)
		}
	}

	return GuardResult{Payload: payload, HTTPStatus: status, IsNew: true}, nil
}

// createRecord inserts the IN_PROGRESS marker. The unique constraint is the
// arbiter for concurrent first-time requests: losing the race surfaces the
// winning record's id as the conflict's correlation id. A winner that already
// expired is evicted and the insert retried once.
func (s *Service) createRecord(ctx context.Context, record *models.IdempotencyRecord) error {
	for attempt := 0; ; attempt++ {
		err := s.store.Create(ctx, record)
		if err == nil {
			return nil
		}
		if !db.IsUniqueViolation(err, UniqueConstraintName) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create idempotency record")
		}

		winner, findErr := s.store.Find(ctx, record.Scope, record.IdemKey, record.TenantID)
		if findErr != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "look up conflicting idempotency record")
		}
		if winner != nil && attempt == 0 && isExpired(winner) {
			if delErr := s.store.Delete(ctx, winner.ID); delErr != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, delErr, "clear expired idempotency record")
			}
			continue
		}

		conflict := pkgerrors.New(pkgerrors.CodeIdempotencyConflict, "request with this idempotency key is in progress")
		if winner != nil {
			conflict = conflict.WithCorrelationID(winner.ID.String())
		}
		return conflict
	}
}

func isExpired(record *models.IdempotencyRecord) bool {
	return !record.ExpiresAt.After(time.Now().UTC())
}

func (s *Service) recordFailure(ctx context.Context, id uuid.UUID, cause error) {
	status := http.StatusInternalServerError
	summary := map[string]string{"message": cause.Error()}
	if typed := pkgerrors.As(cause); typed != nil {
		status = pkgerrors.MetadataFor(typed.Code()).HTTPStatus
		summary["code"] = string(typed.Code())
	} else if coder, ok := cause.(retry.StatusCoder); ok {
		status = coder.StatusCode()
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		payload = json.RawMessage(fmt.Sprintf("{%q:%q}", "message", "unserializable error"))
	}
	if err := s.store.MarkFailed(ctx, id, status, payload); err != nil && s.logg != nil {
		s.logg.Error(ctx, "failed to persist failed idempotency record", err)
	}
}

func statusOrDefault(status *int, fallback int) int {
	if status == nil || *status == 0 {
		return fallback
	}
	return *status
}

func statusOrDefaultInt(status, fallback int) int {
	if status == 0 {
		return fallback
	}
	return status
}
