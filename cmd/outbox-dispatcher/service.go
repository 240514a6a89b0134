package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/partnerhubhq/partnerhub-backend/pkg/config"
	"github.com/partnerhubhq/partnerhub-backend/pkg/db/models"
	"github.com/partnerhubhq/partnerhub-backend/pkg/enums"
	"github.com/partnerhubhq/partnerhub-backend/pkg/eventbus"
	"github.com/partnerhubhq/partnerhub-backend/pkg/events"
	"github.com/partnerhubhq/partnerhub-backend/pkg/logger"
	"github.com/partnerhubhq/partnerhub-backend/pkg/metrics"
	"github.com/partnerhubhq/partnerhub-backend/pkg/outbox"
)

const (
	defaultBatchSize    = 10
	defaultPollInterval = 5 * time.Second
)

type outboxStore interface {
	ClaimPending(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkPublished(ctx context.Context, id uuid.UUID) error
	MarkForRetry(ctx context.Context, id uuid.UUID, cause error) (enums.OutboxStatus, error)
	ReclaimStuckProcessing(ctx context.Context, olderThan time.Duration) (int64, error)
	CountByStatus(ctx context.Context, status enums.OutboxStatus) (int64, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, event events.DomainEvent) eventbus.Result
}

type ServiceParams struct {
	Config  *config.Config
	Logger  *logger.Logger
	Store   outboxStore
	Bus     eventPublisher
	Metrics *metrics.OutboxMetrics
}

// Service drains the outbox: claim due PENDING rows, fan each out on the bus,
// and record the result. One instance runs one batch at a time; extra ticks
// while a batch is in flight are skipped, not queued.
type Service struct {
	cfg     *config.Config
	logg    *logger.Logger
	store   outboxStore
	bus     eventPublisher
	metrics *metrics.OutboxMetrics

	busy sync.Mutex

	batchSize       int
	pollInterval    time.Duration
	reclaimInterval time.Duration
	reclaimAfter    time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Store == nil {
		return nil, errors.New("outbox store is required")
	}
	if params.Bus == nil {
		return nil, errors.New("event bus is required")
	}

	batch := params.Config.Outbox.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	poll := params.Config.Outbox.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}

	return &Service{
		cfg:             params.Config,
		logg:            params.Logger,
		store:           params.Store,
		bus:             params.Bus,
		metrics:         params.Metrics,
		batchSize:       batch,
		pollInterval:    poll,
		reclaimInterval: params.Config.Outbox.ReclaimInterval,
		reclaimAfter:    params.Config.Outbox.ReclaimAfter,
	}, nil
}

// Run polls until the context is canceled. The batch in flight when
// cancellation arrives is finished before returning; claimed rows are never
// abandoned mid-batch on a clean shutdown.
func (s *Service) Run(ctx context.Context) error {
	if !s.cfg.Outbox.Enabled {
		s.logg.Info(ctx, "outbox dispatch disabled, idling until shutdown")
		<-ctx.Done()
		return ctx.Err()
	}

	lastReclaim := time.Now().UTC()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "outbox dispatcher context canceled")
			return ctx.Err()
		default:
		}

		if s.reclaimInterval > 0 && time.Since(lastReclaim) >= s.reclaimInterval {
			lastReclaim = time.Now().UTC()
			s.reclaim(ctx)
		}

		processed, err := s.Tick(ctx)
		if err != nil {
			s.logg.Error(ctx, "outbox dispatch batch error", err)
		}
		s.observeQueueDepth(ctx)

		if processed && err == nil {
			// More rows may be due; drain without waiting for the next tick.
			continue
		}
		if err := s.sleep(ctx, s.pollInterval); err != nil {
			return err
		}
	}
}

// Tick runs at most one batch. It returns false without touching the store
// when a previous batch is still in flight or nothing was due.
func (s *Service) Tick(ctx context.Context) (bool, error) {
	if !s.busy.TryLock() {
		return false, nil
	}
	defer s.busy.Unlock()

	claimed, err := s.store.ClaimPending(ctx, s.batchSize)
	if err != nil {
		return false, fmt.Errorf("claiming outbox batch: %w", err)
	}
	if len(claimed) == 0 {
		return false, nil
	}

	// Cancellation is checked between batches, not between rows: every
	// claimed row gets its delivery attempt recorded before Tick returns.
	dispatchCtx := context.WithoutCancel(ctx)
	for _, row := range claimed {
		s.dispatchOne(dispatchCtx, row)
	}
	return true, nil
}

func (s *Service) dispatchOne(ctx context.Context, row models.OutboxEvent) {
	fields := map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID,
		"retry_count":    row.RetryCount,
	}
	if row.CorrelationID != nil {
		fields["correlation_id"] = *row.CorrelationID
	}
	rowCtx := s.logg.WithFields(ctx, fields)

	event, err := outbox.Rebuild(row)
	if err != nil {
		// An undecodable payload will never decode; burn retries toward DEAD
		// rather than looping forever.
		s.recordFailure(rowCtx, row.ID, err)
		return
	}

	result := s.bus.Publish(rowCtx, event)
	if publishErr := result.Err(); publishErr != nil {
		s.recordFailure(rowCtx, row.ID, publishErr)
		return
	}

	if err := s.store.MarkPublished(ctx, row.ID); err != nil {
		s.logg.Error(rowCtx, "marking outbox event published", err)
		return
	}
	s.metrics.IncPublished()
	s.logg.Info(rowCtx, "outbox event published")
}

func (s *Service) recordFailure(ctx context.Context, id uuid.UUID, cause error) {
	status, err := s.store.MarkForRetry(ctx, id, cause)
	if err != nil {
		s.logg.Error(ctx, "marking outbox event for retry", err)
		return
	}
	ctx = s.logg.WithField(ctx, "error", cause.Error())
	if status == enums.OutboxStatusDead {
		s.metrics.IncDead()
		s.logg.Error(ctx, "outbox event dead-lettered", cause)
		return
	}
	s.metrics.IncRetried()
	s.logg.Warn(ctx, "outbox publish failed, rescheduled")
}

func (s *Service) reclaim(ctx context.Context) {
	reclaimed, err := s.store.ReclaimStuckProcessing(ctx, s.reclaimAfter)
	if err != nil {
		s.logg.Error(ctx, "reclaiming stuck outbox events", err)
		return
	}
	if reclaimed > 0 {
		s.logg.Warn(s.logg.WithField(ctx, "reclaimed", reclaimed), "requeued stuck PROCESSING outbox events")
	}
}

func (s *Service) observeQueueDepth(ctx context.Context) {
	depth, err := s.store.CountByStatus(ctx, enums.OutboxStatusPending)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "counting pending outbox events")
		return
	}
	s.metrics.SetQueueDepth(depth)
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
