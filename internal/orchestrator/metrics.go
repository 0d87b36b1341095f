package orchestrator

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the orchestrator.
type Metrics struct {
	SpawnsTotal  prometheus.Counter
	SpawnsPaused prometheus.Counter
	AgentsQueued prometheus.Counter
}

// NewMetrics creates and registers orchestrator metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		SpawnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "steward",
			Subsystem: "orchestrator",
			Name:      "spawns_total",
			Help:      "Total completed fan-out invocations.",
		}),
		SpawnsPaused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "steward",
			Subsystem: "orchestrator",
			Name:      "spawns_paused_total",
			Help:      "Total invocations refused because the tenant was paused.",
		}),
		AgentsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "steward",
			Subsystem: "orchestrator",
			Name:      "agents_queued_total",
			Help:      "Total sub-agent events enqueued.",
		}),
	}

	reg.MustRegister(
		m.SpawnsTotal,
		m.SpawnsPaused,
		m.AgentsQueued,
	)

	return m
}
