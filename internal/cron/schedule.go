package cron

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"
)

// Job is one unit of periodic work run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry pairs a job with its minimum spacing. Every <= 0 runs the job on
// every tick.
type Entry struct {
	Job   Job
	Every time.Duration
}

type slot struct {
	job     Job
	every   time.Duration
	lastRun time.Time
}

// Schedule decides which jobs are due on a tick. A job is only marked as run
// after it succeeds, so a failed sweep is retried on the next tick instead of
// waiting out its full spacing.
type Schedule struct {
	mu    sync.Mutex
	slots []*slot
}

// NewSchedule builds a schedule preserving entry order. Nil jobs are skipped.
func NewSchedule(entries ...Entry) *Schedule {
	s := &Schedule{}
	for _, e := range entries {
		s.Add(e.Job, e.Every)
	}
	return s
}

// Add appends a job.
func (s *Schedule) Add(job Job, every time.Duration) {
	if job == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = append(s.slots, &slot{job: job, every: every})
}

// Due returns the jobs whose spacing has elapsed at now, in entry order.
func (s *Schedule) Due(now time.Time) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Job
	for _, sl := range s.slots {
		if sl.every <= 0 || sl.lastRun.IsZero() || !now.Before(sl.lastRun.Add(sl.every)) {
			due = append(due, sl.job)
		}
	}
	return due
}

// MarkRun records a successful run of the named job.
func (s *Schedule) MarkRun(name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range s.slots {
		if sl.job.Name() == name {
			sl.lastRun = at
		}
	}
}

// Len reports the number of scheduled jobs.
func (s *Schedule) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
