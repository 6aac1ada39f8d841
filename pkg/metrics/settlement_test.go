package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSettlementMetricsCountsTransitions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSettlementMetrics(reg)
	m.IncTransition("order", "release", OutcomeApplied)
	m.IncTransition("order", "release", OutcomeApplied)
	m.ObserveGateway("transfer", time.Now().Add(-100*time.Millisecond), errors.New("down"))

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "settlement_transitions_total", "action", "release"); err != nil {
		t.Fatalf("fetch transitions: %v", err)
	} else if got != 2 {
		t.Fatalf("expected 2 transitions, got %f", got)
	}
	if got, err := fetchHistogramSum(mfs, "payment_gateway_duration_seconds", "outcome", OutcomeError); err != nil {
		t.Fatalf("fetch gateway: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected gateway duration > 0, got %f", got)
	}
}

func TestSettlementMetricsNilSafe(t *testing.T) {
	var m *SettlementMetrics
	m.IncTransition("order", "release", OutcomeApplied)
	m.ObserveGateway("transfer", time.Now(), nil)
	m.AddSweep("auto_release", OutcomeApplied, 3)
	NewSettlementMetrics(nil).IncTransition("job", "select", OutcomeNoOp)
}

func TestSettlementMetricsAddsSweepOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSettlementMetrics(reg)
	m.AddSweep("auto_refund", OutcomeApplied, 3)
	m.AddSweep("auto_refund", OutcomeApplied, 2)
	m.AddSweep("auto_refund", OutcomeError, 0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	got, err := fetchCounterValue(mfs, "settlement_sweep_orders_total", "outcome", OutcomeApplied)
	if err != nil {
		t.Fatalf("fetch sweeps: %v", err)
	}
	if got != 5 {
		t.Fatalf("expected 5 applied, got %f", got)
	}
	if _, err := fetchCounterValue(mfs, "settlement_sweep_orders_total", "outcome", OutcomeError); err == nil {
		t.Fatal("expected zero-count outcome to stay unobserved")
	}
}
