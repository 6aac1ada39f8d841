package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/lackmarkt-backend/internal/settlement"
	"github.com/angelmondragon/lackmarkt-backend/pkg/logger"
	"github.com/angelmondragon/lackmarkt-backend/pkg/metrics"
)

const (
	AutoReleaseJobName = "settlement-auto-release"
	AutoRefundJobName  = "settlement-auto-refund"
)

type sweeper interface {
	AutoRelease(ctx context.Context) (settlement.SweepResult, error)
	AutoRefund(ctx context.Context) (settlement.SweepResult, error)
}

// SettlementSweepJobParams configure the auto-release and auto-refund jobs.
type SettlementSweepJobParams struct {
	Logger     *logger.Logger
	Settlement sweeper
	Metrics    *metrics.SettlementMetrics
}

// NewAutoReleaseJob builds the job that pays out orders whose release timer expired.
func NewAutoReleaseJob(params SettlementSweepJobParams) (Job, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &settlementSweepJob{
		name:    AutoReleaseJobName,
		sweep:   "auto_release",
		run:     params.Settlement.AutoRelease,
		logg:    params.Logger,
		metrics: params.Metrics,
	}, nil
}

// NewAutoRefundJob builds the job that refunds held orders never reported as fulfilled.
func NewAutoRefundJob(params SettlementSweepJobParams) (Job, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &settlementSweepJob{
		name:    AutoRefundJobName,
		sweep:   "auto_refund",
		run:     params.Settlement.AutoRefund,
		logg:    params.Logger,
		metrics: params.Metrics,
	}, nil
}

func (p SettlementSweepJobParams) validate() error {
	if p.Logger == nil {
		return fmt.Errorf("logger required")
	}
	if p.Settlement == nil {
		return fmt.Errorf("settlement service required")
	}
	return nil
}

type settlementSweepJob struct {
	name    string
	sweep   string
	run     func(ctx context.Context) (settlement.SweepResult, error)
	logg    *logger.Logger
	metrics *metrics.SettlementMetrics
}

func (j *settlementSweepJob) Name() string { return j.name }

// Run executes one batch. Per-order failures are already logged by the sweep;
// the job fails only so the cycle metrics reflect them.
func (j *settlementSweepJob) Run(ctx context.Context) error {
	result, err := j.run(ctx)
	j.metrics.AddSweep(j.sweep, metrics.OutcomeApplied, result.Applied)
	j.metrics.AddSweep(j.sweep, metrics.OutcomeNoOp, result.Skipped)
	j.metrics.AddSweep(j.sweep, metrics.OutcomeError, result.Failed)

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"sweep":   j.sweep,
		"scanned": result.Scanned,
		"applied": result.Applied,
		"skipped": result.Skipped,
		"failed":  result.Failed,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", j.sweep, err)
	}
	j.logg.Info(logCtx, "settlement sweep complete")
	return nil
}
