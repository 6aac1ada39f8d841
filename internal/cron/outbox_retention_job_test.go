package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
)

func TestOutboxRetentionJobUsesCutoffAndTerminalAttempts(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeOutboxRetentionRepo{batches: []int64{7}}
	job := newOutboxRetentionJob(t, repo, OutboxRetentionJobParams{RetentionDays: 14, TerminalAttempts: 6})
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := now.Add(-14 * 24 * time.Hour); !repo.lastCutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, repo.lastCutoff)
	}
	if repo.terminalAttempts != 6 {
		t.Fatalf("expected terminal attempts 6, got %d", repo.terminalAttempts)
	}
	if repo.called != 1 {
		t.Fatalf("expected a single short chunk, got %d calls", repo.called)
	}
}

func TestOutboxRetentionJobLoopsWhileChunksAreFull(t *testing.T) {
	repo := &fakeOutboxRetentionRepo{batches: []int64{2, 2, 1}}
	job := newOutboxRetentionJob(t, repo, OutboxRetentionJobParams{})
	job.chunk = 2

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if repo.called != 3 {
		t.Fatalf("expected three chunks, got %d", repo.called)
	}
	if repo.lastLimit != 2 {
		t.Fatalf("expected chunk limit 2, got %d", repo.lastLimit)
	}
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	repo := &fakeOutboxRetentionRepo{err: errors.New("boom")}
	job := newOutboxRetentionJob(t, repo, OutboxRetentionJobParams{})

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func newOutboxRetentionJob(t *testing.T, repo *fakeOutboxRetentionRepo, params OutboxRetentionJobParams) *outboxRetentionJob {
	t.Helper()
	params.Logger = logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	params.DB = outboxRetentionTxRunner{}
	params.Repository = repo
	jobIface, err := NewOutboxRetentionJob(params)
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	job, ok := jobIface.(*outboxRetentionJob)
	if !ok {
		t.Fatalf("expected outboxRetentionJob, got %T", jobIface)
	}
	return job
}

type fakeOutboxRetentionRepo struct {
	batches          []int64
	lastCutoff       time.Time
	terminalAttempts int
	lastLimit        int
	called           int
	err              error
}

func (f *fakeOutboxRetentionRepo) DeletePublishedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, terminalAttempts, limit int) (int64, error) {
	f.called++
	f.lastCutoff = cutoff
	f.terminalAttempts = terminalAttempts
	f.lastLimit = limit
	if f.err != nil {
		return 0, f.err
	}
	if len(f.batches) == 0 {
		return 0, nil
	}
	n := f.batches[0]
	f.batches = f.batches[1:]
	return n, nil
}

type outboxRetentionTxRunner struct{}

func (outboxRetentionTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
