package queue

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the job queue.
type Metrics struct {
	EventsPublished prometheus.Counter
	EventsProcessed prometheus.Counter
	EventsRetried   prometheus.Counter
	EventsFailed    prometheus.Counter
	HandleDuration  prometheus.Histogram
}

// NewMetrics creates and registers queue metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "steward",
			Subsystem: "queue",
			Name:      "events_published_total",
			Help:      "Total events enqueued.",
		}),
		EventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "steward",
			Subsystem: "queue",
			Name:      "events_processed_total",
			Help:      "Total events handled successfully.",
		}),
		EventsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "steward",
			Subsystem: "queue",
			Name:      "events_retried_total",
			Help:      "Total handler failures released for another attempt.",
		}),
		EventsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "steward",
			Subsystem: "queue",
			Name:      "events_failed_total",
			Help:      "Total events parked as failed after exhausting attempts.",
		}),
		HandleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "steward",
			Subsystem: "queue",
			Name:      "handle_duration_seconds",
			Help:      "Duration of each event handler invocation.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
	}

	reg.MustRegister(
		m.EventsPublished,
		m.EventsProcessed,
		m.EventsRetried,
		m.EventsFailed,
		m.HandleDuration,
	)

	return m
}
