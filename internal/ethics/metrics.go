package ethics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the policy gate.
type Metrics struct {
	Verifications  prometheus.Counter
	Denials        prometheus.Counter
	IncidentsFiled prometheus.Counter
}

// NewMetrics creates and registers gate metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		Verifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "steward",
			Subsystem: "ethics",
			Name:      "verifications_total",
			Help:      "Total plans evaluated by the policy gate.",
		}),
		Denials: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "steward",
			Subsystem: "ethics",
			Name:      "denials_total",
			Help:      "Total plans denied autonomous execution.",
		}),
		IncidentsFiled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "steward",
			Subsystem: "ethics",
			Name:      "incidents_filed_total",
			Help:      "Total incidents created for human review.",
		}),
	}

	reg.MustRegister(m.Verifications, m.Denials, m.IncidentsFiled)
	return m
}
