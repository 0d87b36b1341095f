package consensus

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the consensus selector.
type Metrics struct {
	Selections       prometheus.Counter
	CandidatesScored prometheus.Counter
}

// NewMetrics creates and registers consensus metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		Selections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "steward",
			Subsystem: "consensus",
			Name:      "selections_total",
			Help:      "Total consensus rows written.",
		}),
		CandidatesScored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "steward",
			Subsystem: "consensus",
			Name:      "candidates_scored_total",
			Help:      "Total plan candidates scored across selections.",
		}),
	}

	reg.MustRegister(m.Selections, m.CandidatesScored)
	return m
}
