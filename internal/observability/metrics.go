package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds the gateway-level Prometheus metrics and the shared
// registry. Component packages register their own metrics on the same
// registry through their NewMetrics constructors.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Event publish metrics (instrumented publisher wrapper).
	PublishesTotal  *prometheus.CounterVec
	PublishDuration *prometheus.HistogramVec

	// Incident escalation metrics (instrumented escalator wrapper).
	EscalationsTotal *prometheus.CounterVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "steward",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "steward",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		PublishesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "steward",
			Subsystem: "publish",
			Name:      "total",
			Help:      "Total event publish attempts.",
		}, []string{"topic", "status"}),

		PublishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "steward",
			Subsystem: "publish",
			Name:      "duration_seconds",
			Help:      "Event publish duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"topic"}),

		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "steward",
			Subsystem: "escalation",
			Name:      "total",
			Help:      "Total incident escalation attempts.",
		}, []string{"status"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "steward",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PublishesTotal,
		m.PublishDuration,
		m.EscalationsTotal,
		m.ActiveRequests,
	)

	return m
}
