package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "roomcall"

// PrometheusSink counts failures by kind and component.
type PrometheusSink struct {
	failures *prometheus.CounterVec
}

// NewPrometheusSink creates the failure counter and registers it with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "failures_total",
		Help:      "Failures reported by call session components.",
	}, []string{"kind", "component"})

	if err := reg.Register(failures); err != nil {
		return nil, err
	}
	return &PrometheusSink{failures: failures}, nil
}

// Report increments the counter for f.
func (p *PrometheusSink) Report(f Failure) {
	p.failures.WithLabelValues(string(f.Kind), f.Component).Inc()
}

// Collector exposes the underlying counter, mainly for tests.
func (p *PrometheusSink) Collector() *prometheus.CounterVec {
	return p.failures
}
