package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCronMetricsRecordsRunsAndLastSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronMetrics(reg)
	end := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	m.ObserveRun("settlement-auto-release", 250*time.Millisecond, end, nil)
	m.ObserveRun("settlement-auto-release", time.Second, end.Add(time.Minute), errors.New("stripe down"))
	m.IncCycle(CycleRan)
	m.IncCycle(CycleLocked)
	m.IncCycle(CycleLocked)

	if got := testutil.ToFloat64(m.runs.WithLabelValues("settlement-auto-release", OutcomeOK)); got != 1 {
		t.Fatalf("expected one ok run, got %v", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("settlement-auto-release", OutcomeError)); got != 1 {
		t.Fatalf("expected one failed run, got %v", got)
	}
	if got := testutil.ToFloat64(m.lastSuccess.WithLabelValues("settlement-auto-release")); got != float64(end.Unix()) {
		t.Fatalf("failed run must not move last success, got %v", got)
	}
	if got := testutil.ToFloat64(m.cycles.WithLabelValues(CycleLocked)); got != 2 {
		t.Fatalf("expected two locked cycles, got %v", got)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	hist := findMetricFamily(mfs, "cron_job_duration_seconds")
	if hist == nil || hist.GetMetric()[0].GetHistogram().GetSampleCount() != 2 {
		t.Fatalf("expected two duration samples")
	}
}

func TestCronMetricsNilSafe(t *testing.T) {
	var m *CronMetrics
	m.ObserveRun("x", time.Second, time.Now(), nil)
	m.IncCycle(CycleRan)
	NewCronMetrics(nil).IncCycle(CycleRan)
}
