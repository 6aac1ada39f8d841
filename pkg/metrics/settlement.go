package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeApplied  = "applied"
	OutcomeNoOp     = "noop"
	OutcomeRejected = "rejected"
	OutcomeOK       = "ok"
	OutcomeError    = "error"
)

// SettlementMetrics counts state transitions and times payment gateway calls.
type SettlementMetrics struct {
	transitions *prometheus.CounterVec
	gateway     *prometheus.HistogramVec
	sweeps      *prometheus.CounterVec
}

// NewSettlementMetrics registers the settlement metrics on the provided registerer.
func NewSettlementMetrics(reg prometheus.Registerer) *SettlementMetrics {
	if reg == nil {
		return &SettlementMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_transitions_total",
		Help: "Settlement state transitions by entity, action and outcome.",
	}, []string{"entity", "action", "outcome"})
	gateway := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_gateway_duration_seconds",
		Help:    "Latency of payment gateway calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})
	sweeps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_sweep_orders_total",
		Help: "Orders handled by the auto-release and auto-refund sweeps.",
	}, []string{"sweep", "outcome"})
	reg.MustRegister(transitions, gateway, sweeps)
	return &SettlementMetrics{transitions: transitions, gateway: gateway, sweeps: sweeps}
}

// IncTransition records one evaluated transition.
func (m *SettlementMetrics) IncTransition(entity, action, outcome string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(entity), normalizeLabel(action), normalizeLabel(outcome)).Inc()
}

// ObserveGateway records the latency of a gateway call; err decides the outcome label.
func (m *SettlementMetrics) ObserveGateway(operation string, started time.Time, err error) {
	if m == nil || m.gateway == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.gateway.WithLabelValues(normalizeLabel(operation), outcome).Observe(time.Since(started).Seconds())
}

// AddSweep adds n orders with the given outcome to the sweep counter.
func (m *SettlementMetrics) AddSweep(sweep, outcome string, n int) {
	if m == nil || m.sweeps == nil || n <= 0 {
		return
	}
	m.sweeps.WithLabelValues(normalizeLabel(sweep), normalizeLabel(outcome)).Add(float64(n))
}
