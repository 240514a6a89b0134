package approvals

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/partnerhubhq/partnerhub-backend/pkg/enums"
	"github.com/partnerhubhq/partnerhub-backend/pkg/eventbus"
	pkgerrors "github.com/partnerhubhq/partnerhub-backend/pkg/errors"
	"github.com/partnerhubhq/partnerhub-backend/pkg/events"
	"github.com/partnerhubhq/partnerhub-backend/pkg/logger"
)

const (
	StatusPending = "pending"
	StatusDecided = "decided"

	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventPublisher interface {
	Publish(ctx context.Context, event events.DomainEvent) eventbus.Result
}

type outboxEnqueuer interface {
	Enqueue(ctx context.Context, tx *gorm.DB, event events.DomainEvent) (uuid.UUID, error)
}

type publishFinalizer interface {
	MarkPublishedIfPending(ctx context.Context, id uuid.UUID) error
}

type ServiceParams struct {
	DB     txRunner
	Repo   *Repository
	Outbox outboxEnqueuer
	Store  publishFinalizer
	Bus    eventPublisher
	Logger *logger.Logger
}

// Service owns the approval decision flow: the decision row and its outbox
// event commit in one transaction, then the bus gets a best-effort synchronous
// publish so subscribers see the decision without waiting for the dispatcher.
type Service struct {
	db     txRunner
	repo   *Repository
	outbox outboxEnqueuer
	store  publishFinalizer
	bus    eventPublisher
	logg   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, errors.New("db runner is required")
	}
	if params.Repo == nil {
		return nil, errors.New("approvals repository is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox service is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		db:     params.DB,
		repo:   params.Repo,
		outbox: params.Outbox,
		store:  params.Store,
		bus:    params.Bus,
		logg:   params.Logger,
	}, nil
}

type DecideInput struct {
	ApprovalID uuid.UUID
	TenantID   uuid.UUID
	DecidedBy  uuid.UUID
	Decision   string
	Reason     string
}

type DecisionResult struct {
	ApprovalID uuid.UUID `json:"approvalId"`
	Status     string    `json:"status"`
	Decision   string    `json:"decision"`
	DecidedAt  time.Time `json:"decidedAt"`
}

// Decide records a decision on a pending approval and queues the
// approval.decided event atomically.
func (s *Service) Decide(ctx context.Context, input DecideInput) (*DecisionResult, error) {
	if err := validateDecision(input.Decision); err != nil {
		return nil, err
	}

	var (
		result   *DecisionResult
		outboxID uuid.UUID
		event    events.DomainEvent
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		decided, queuedID, queuedEvent, err := s.decideTx(ctx, tx, input)
		if err != nil {
			return err
		}
		result = decided
		outboxID = queuedID
		event = queuedEvent
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishCommitted(ctx, outboxID, event)
	return result, nil
}

type BulkDecideItem struct {
	ApprovalID uuid.UUID
	Decision   string
	Reason     string
}

type BulkDecideInput struct {
	TenantID  uuid.UUID
	DecidedBy uuid.UUID
	Items     []BulkDecideItem
}

type BulkDecisionResult struct {
	Decided []DecisionResult `json:"decided"`
}

// BulkDecide applies every decision in one transaction; any failure rolls the
// whole batch back so a partial bulk never commits.
func (s *Service) BulkDecide(ctx context.Context, input BulkDecideInput) (*BulkDecisionResult, error) {
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one decision is required")
	}
	for _, item := range input.Items {
		if err := validateDecision(item.Decision); err != nil {
			return nil, err
		}
	}

	type queued struct {
		id    uuid.UUID
		event events.DomainEvent
	}
	var (
		results []DecisionResult
		batch   []queued
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		results = results[:0]
		batch = batch[:0]
		for _, item := range input.Items {
			decided, queuedID, queuedEvent, err := s.decideTx(ctx, tx, DecideInput{
				ApprovalID: item.ApprovalID,
				TenantID:   input.TenantID,
				DecidedBy:  input.DecidedBy,
				Decision:   item.Decision,
				Reason:     item.Reason,
			})
			if err != nil {
				return err
			}
			results = append(results, *decided)
			batch = append(batch, queued{id: queuedID, event: queuedEvent})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, q := range batch {
		s.publishCommitted(ctx, q.id, q.event)
	}
	return &BulkDecisionResult{Decided: results}, nil
}

func (s *Service) decideTx(ctx context.Context, tx *gorm.DB, input DecideInput) (*DecisionResult, uuid.UUID, events.DomainEvent, error) {
	approval, err := s.repo.GetForUpdate(tx, input.ApprovalID, input.TenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, uuid.Nil, events.DomainEvent{}, pkgerrors.New(pkgerrors.CodeNotFound, "approval not found")
		}
		return nil, uuid.Nil, events.DomainEvent{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load approval")
	}
	if approval.Status != StatusPending {
		return nil, uuid.Nil, events.DomainEvent{}, pkgerrors.New(pkgerrors.CodeConflict, "approval already decided")
	}

	now := time.Now().UTC()
	if err := s.repo.RecordDecision(tx, approval, input.Decision, input.DecidedBy, input.Reason, now); err != nil {
		return nil, uuid.Nil, events.DomainEvent{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record decision")
	}

	payload := events.ApprovalDecidedPayload{
		ApprovalID: approval.ID.String(),
		Decision:   input.Decision,
		DecidedBy:  input.DecidedBy.String(),
		DecidedAt:  now,
		Reason:     input.Reason,
	}
	event := events.DomainEvent{
		EventType:     enums.EventApprovalDecided,
		AggregateType: enums.AggregateApproval,
		AggregateID:   approval.ID.String(),
		TenantID:      input.TenantID,
		OccurredAt:    now,
		Payload:       toPayloadMap(payload),
	}
	outboxID, err := s.outbox.Enqueue(ctx, tx, event)
	if err != nil {
		return nil, uuid.Nil, events.DomainEvent{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue approval event")
	}

	return &DecisionResult{
		ApprovalID: approval.ID,
		Status:     StatusDecided,
		Decision:   input.Decision,
		DecidedAt:  now,
	}, outboxID, event, nil
}

// publishCommitted is the post-commit fast path. A failure here is not an
// error for the caller: the dispatcher will deliver from the outbox.
func (s *Service) publishCommitted(ctx context.Context, outboxID uuid.UUID, event events.DomainEvent) {
	if s.bus == nil {
		return
	}
	result := s.bus.Publish(ctx, event)
	if err := result.Err(); err != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"outbox_id": outboxID.String(),
			"error":     err.Error(),
		})
		s.logg.Warn(ctx, "synchronous publish failed, deferring to dispatcher")
		return
	}
	if s.store == nil {
		return
	}
	if err := s.store.MarkPublishedIfPending(ctx, outboxID); err != nil {
		s.logg.Error(ctx, "marking fast-path publish", err)
	}
}

func validateDecision(decision string) error {
	if decision != DecisionApproved && decision != DecisionRejected {
		return pkgerrors.New(pkgerrors.CodeValidation, "decision must be approved or rejected")
	}
	return nil
}

func toPayloadMap(payload any) map[string]any {
	raw, err := json.Marshal(payload)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
