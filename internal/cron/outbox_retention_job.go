package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
)

const (
	OutboxRetentionJobName = "outbox-retention"

	defaultRetentionDays   = 30
	defaultTerminalAttempt = 10
	retentionChunk         = 1000
	maxRetentionChunks     = 50
)

// OutboxRetentionJobParams configure the outbox cleanup. TerminalAttempts
// must match the publisher's max attempts so parked rows age out too.
type OutboxRetentionJobParams struct {
	Logger           *logger.Logger
	DB               txRunner
	Repository       outboxRetentionRepo
	RetentionDays    int
	TerminalAttempts int
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, terminalAttempts, limit int) (int64, error)
}

// NewOutboxRetentionJob builds the job that prunes delivered settlement events.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:             params.Logger,
		db:               params.DB,
		repo:             params.Repository,
		retention:        time.Duration(defaultRetentionDays) * 24 * time.Hour,
		terminalAttempts: defaultTerminalAttempt,
		chunk:            retentionChunk,
		now:              time.Now,
	}
	if params.RetentionDays > 0 {
		job.retention = time.Duration(params.RetentionDays) * 24 * time.Hour
	}
	if params.TerminalAttempts > 0 {
		job.terminalAttempts = params.TerminalAttempts
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg             *logger.Logger
	db               txRunner
	repo             outboxRetentionRepo
	retention        time.Duration
	terminalAttempts int
	chunk            int
	now              func() time.Time
}

func (j *outboxRetentionJob) Name() string { return OutboxRetentionJobName }

// Run deletes in chunks, one transaction each, and stops at the first short
// chunk or after maxRetentionChunks so a backlog is worked off over ticks.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	chunks := 0
	for chunks < maxRetentionChunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		var deleted int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			n, err := j.repo.DeletePublishedBefore(ctx, tx, cutoff, j.terminalAttempts, j.chunk)
			deleted = n
			return err
		})
		if err != nil {
			return fmt.Errorf("outbox retention after %d rows: %w", total, err)
		}
		chunks++
		total += deleted
		if deleted < int64(j.chunk) {
			break
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": total,
		"chunks":       chunks,
	}), "outbox retention cleanup complete")
	return nil
}
