package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/partnerhubhq/partnerhub-backend/api/middleware"
	"github.com/partnerhubhq/partnerhub-backend/api/responses"
	pkgerrors "github.com/partnerhubhq/partnerhub-backend/pkg/errors"
	"github.com/partnerhubhq/partnerhub-backend/pkg/logger"
	"github.com/partnerhubhq/partnerhub-backend/pkg/outbox"
)

type deadLetterView struct {
	ID            string     `json:"id"`
	EventType     string     `json:"eventType"`
	AggregateType string     `json:"aggregateType"`
	AggregateID   string     `json:"aggregateId"`
	RetryCount    int        `json:"retryCount"`
	MaxRetries    int        `json:"maxRetries"`
	LastError     *string    `json:"lastError,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	CorrelationID *string    `json:"correlationId,omitempty"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
}

// OutboxListDead is the operator view over parked events for the caller's
// tenant.
func OutboxListDead(store *outbox.Store, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := middleware.TenantIDFromContext(r.Context())

		rows, err := store.ListDead(r.Context(), tenantID, 50)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead outbox events"))
			return
		}

		views := make([]deadLetterView, 0, len(rows))
		for _, row := range rows {
			views = append(views, deadLetterView{
				ID:            row.ID.String(),
				EventType:     string(row.EventType),
				AggregateType: string(row.AggregateType),
				AggregateID:   row.AggregateID,
				RetryCount:    row.RetryCount,
				MaxRetries:    row.MaxRetries,
				LastError:     row.LastError,
				CreatedAt:     row.CreatedAt,
				UpdatedAt:     row.UpdatedAt,
				CorrelationID: row.CorrelationID,
				ProcessedAt:   row.ProcessedAt,
			})
		}
		responses.WriteSuccess(w, views)
	}
}

// OutboxReprocess revives a dead-lettered event for another delivery attempt.
func OutboxReprocess(store *outbox.Store, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(chi.URLParam(r, "outboxId"))
		if raw == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "outbox id is required"))
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid outbox id"))
			return
		}

		tenantID := middleware.TenantIDFromContext(r.Context())
		row, err := store.GetByID(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "outbox event not found"))
			return
		}
		if row.TenantID != tenantID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "outbox event not found"))
			return
		}

		if err := store.Reprocess(r.Context(), id); err != nil {
			if errors.Is(err, outbox.ErrNotReprocessable) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "only dead events can be reprocessed"))
				return
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reprocess outbox event"))
			return
		}

		responses.WriteSuccess(w, map[string]string{
			"id":     id.String(),
			"status": "PENDING",
		})
	}
}
