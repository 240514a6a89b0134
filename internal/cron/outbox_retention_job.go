package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/partnerhubhq/partnerhub-backend/pkg/logger"
)

const outboxRetentionDays = 14

type outboxPurger interface {
	PurgePublishedOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger    *logger.Logger
	Store     outboxPurger
	Retention int
}

// NewOutboxRetentionJob deletes PUBLISHED outbox rows past the retention
// window. PENDING and DEAD rows are never touched; DEAD rows stay visible
// until an operator reprocesses or deletes them.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("outbox store required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = outboxRetentionDays
	}
	return &outboxRetentionJob{
		logg:      params.Logger,
		store:     params.Store,
		retention: retention,
	}, nil
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	store     outboxPurger
	retention int
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	deleted, err := j.store.PurgePublishedOlderThan(ctx, j.retention)
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         time.Now().UTC().AddDate(0, 0, -j.retention),
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "outbox retention cleanup complete")
	return nil
}
