package inventory

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes engine counters. A nil *Metrics records nothing.
type Metrics struct {
	Operations  *prometheus.CounterVec
	LatencyMS   *prometheus.HistogramVec
	Retries     *prometheus.CounterVec
	Transitions *prometheus.CounterVec
}

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "unitledger",
		Subsystem: "engine",
		Name:      "operations_total",
		Help:      "Ledger operations by outcome kind.",
	}, []string{"op", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "unitledger",
		Subsystem: "engine",
		Name:      "operation_duration_ms",
		Help:      "Ledger operation latency in milliseconds, retries included.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"op"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "unitledger",
		Subsystem: "engine",
		Name:      "retries_total",
		Help:      "Retried attempts after transient contention.",
	}, []string{"op"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "unitledger",
		Subsystem: "ledger",
		Name:      "unit_transitions_total",
		Help:      "Committed unit state transitions by target status.",
	}, []string{"to"})

	reg.MustRegister(ops, latency, retries, transitions)
	return &Metrics{Operations: ops, LatencyMS: latency, Retries: retries, Transitions: transitions}
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
	m.LatencyMS.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000)
}

func (m *Metrics) retried(op string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(op).Inc()
}

func (m *Metrics) transitioned(to UnitStatus, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Transitions.WithLabelValues(string(to)).Add(float64(n))
}
