package selfimprove

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the tuning controller.
type Metrics struct {
	ProposalsCreated prometheus.Counter
}

// NewMetrics creates and registers controller metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		ProposalsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "steward",
			Subsystem: "selfimprove",
			Name:      "proposals_created_total",
			Help:      "Total canary change proposals filed.",
		}),
	}

	reg.MustRegister(m.ProposalsCreated)
	return m
}
