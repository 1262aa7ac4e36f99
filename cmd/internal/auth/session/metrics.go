package session

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the session subsystem's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ops           *prometheus.CounterVec
	swept         prometheus.Counter
	sweepFailures prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg (when non-nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "folio",
			Subsystem: "auth",
			Name:      "operations_total",
			Help:      "Auth session operations by outcome.",
		}, []string{"op", "outcome"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "folio",
			Subsystem: "auth",
			Name:      "revocations_swept_total",
			Help:      "Expired revocation entries removed by the sweeper.",
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "folio",
			Subsystem: "auth",
			Name:      "sweep_failures_total",
			Help:      "Revocation sweeps that returned an error.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ops, m.swept, m.sweepFailures)
	}
	return m
}

func (m *Metrics) observe(op string, err error) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, Reason(err)).Inc()
}

func (m *Metrics) sweepResult(n int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.sweepFailures.Inc()
		return
	}
	m.swept.Add(float64(n))
}
