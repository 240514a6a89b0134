package cron

import (
	"context"
	"fmt"

	"github.com/partnerhubhq/partnerhub-backend/pkg/logger"
)

type idempotencyCleaner interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

type IdempotencyCleanupJobParams struct {
	Logger *logger.Logger
	Store  idempotencyCleaner
}

// NewIdempotencyCleanupJob removes idempotency records whose TTL has lapsed.
// Expired records are already invisible to the guard; this reclaims the rows.
func NewIdempotencyCleanupJob(params IdempotencyCleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("idempotency store required")
	}
	return &idempotencyCleanupJob{logg: params.Logger, store: params.Store}, nil
}

type idempotencyCleanupJob struct {
	logg  *logger.Logger
	store idempotencyCleaner
}

func (j *idempotencyCleanupJob) Name() string { return "idempotency-cleanup" }

func (j *idempotencyCleanupJob) Run(ctx context.Context) error {
	deleted, err := j.store.DeleteExpired(ctx)
	if err != nil {
		return fmt.Errorf("idempotency cleanup: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "rows_deleted", deleted), "idempotency cleanup complete")
	return nil
}
