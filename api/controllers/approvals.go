package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/partnerhubhq/partnerhub-backend/api/middleware"
	"github.com/partnerhubhq/partnerhub-backend/api/responses"
	"github.com/partnerhubhq/partnerhub-backend/api/validators"
	"github.com/partnerhubhq/partnerhub-backend/internal/approvals"
	pkgerrors "github.com/partnerhubhq/partnerhub-backend/pkg/errors"
	"github.com/partnerhubhq/partnerhub-backend/pkg/idempotency"
	"github.com/partnerhubhq/partnerhub-backend/pkg/logger"
)

const (
	scopeApprovalDecide     = "approvals.decide"
	scopeApprovalBulkDecide = "approvals.bulkDecide"

	idempotencyKeyHeader = "Idempotency-Key"
)

type decisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approved rejected"`
	Reason   string `json:"reason,omitempty" validate:"max=1024"`
}

type bulkDecisionItem struct {
	ApprovalID string `json:"approvalId" validate:"required,uuid"`
	Decision   string `json:"decision" validate:"required,oneof=approved rejected"`
	Reason     string `json:"reason,omitempty" validate:"max=1024"`
}

type bulkDecisionRequest struct {
	Decisions []bulkDecisionItem `json:"decisions" validate:"required,min=1,max=100,dive"`
}

// ApprovalDecide records a single approval decision. The whole operation runs
// under the idempotency guard keyed by the Idempotency-Key header.
func ApprovalDecide(svc *approvals.Service, guard *idempotency.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		approvalID, err := parseApprovalID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		tenantID := middleware.TenantIDFromContext(r.Context())
		userID, err := parseActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
		if key == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}
		var req decisionRequest
		if err := validators.DecodeJSON(body, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		// The approval id rides along in the fingerprint so the same key and
		// body against a different approval is flagged as a mismatch instead
		// of replaying the first approval's cached response.
		fingerprint := map[string]any{
			"approvalId": approvalID.String(),
			"body":       json.RawMessage(body),
		}
		result, err := guard.Guard(r.Context(), scopeApprovalDecide, key, tenantID, fingerprint, func(ctx context.Context) (idempotency.Outcome, error) {
			decided, err := svc.Decide(ctx, approvals.DecideInput{
				ApprovalID: approvalID,
				TenantID:   tenantID,
				DecidedBy:  userID,
				Decision:   req.Decision,
				Reason:     req.Reason,
			})
			if err != nil {
				return idempotency.Outcome{}, err
			}
			return idempotency.Outcome{Payload: decided, HTTPStatus: http.StatusOK}, nil
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteRaw(w, result.HTTPStatus, result.Payload)
	}
}

// ApprovalBulkDecide applies a batch of decisions atomically under one
// idempotency key.
func ApprovalBulkDecide(svc *approvals.Service, guard *idempotency.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := middleware.TenantIDFromContext(r.Context())
		userID, err := parseActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
		if key == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}
		var req bulkDecisionRequest
		if err := validators.DecodeJSON(body, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]approvals.BulkDecideItem, 0, len(req.Decisions))
		for _, item := range req.Decisions {
			id, parseErr := uuid.Parse(item.ApprovalID)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid approval id"))
				return
			}
			items = append(items, approvals.BulkDecideItem{
				ApprovalID: id,
				Decision:   item.Decision,
				Reason:     item.Reason,
			})
		}

		result, err := guard.Guard(r.Context(), scopeApprovalBulkDecide, key, tenantID, body, func(ctx context.Context) (idempotency.Outcome, error) {
			decided, err := svc.BulkDecide(ctx, approvals.BulkDecideInput{
				TenantID:  tenantID,
				DecidedBy: userID,
				Items:     items,
			})
			if err != nil {
				return idempotency.Outcome{}, err
			}
			return idempotency.Outcome{Payload: decided, HTTPStatus: http.StatusOK}, nil
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteRaw(w, result.HTTPStatus, result.Payload)
	}
}

func parseApprovalID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "approvalId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "approval id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid approval id")
	}
	return id, nil
}

func parseActor(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return id, nil
}
