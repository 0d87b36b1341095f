package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/stewardhq/steward/internal/config"
)

// AnomalyDetector performs threshold-based anomaly detection using sliding
// windows. It tracks handler failure rates per topic and spend per tenant.
type AnomalyDetector struct {
	mu            sync.Mutex
	errorCounts   map[string]*slidingWindow
	successCounts map[string]*slidingWindow
	tenantSpend   map[string]*slidingWindow
	cfg           *config.AnomalyConfig
	logger        *slog.Logger
}

type slidingWindow struct {
	entries []windowEntry
	window  time.Duration
}

type windowEntry struct {
	timestamp time.Time
	value     float64
}

// NewAnomalyDetector creates an anomaly detector from config.
func NewAnomalyDetector(cfg *config.AnomalyConfig, logger *slog.Logger) *AnomalyDetector {
	return &AnomalyDetector{
		errorCounts:   make(map[string]*slidingWindow),
		successCounts: make(map[string]*slidingWindow),
		tenantSpend:   make(map[string]*slidingWindow),
		cfg:           cfg,
		logger:        logger,
	}
}

func (a *AnomalyDetector) windowDuration() time.Duration {
	secs := a.cfg.WindowSeconds
	if secs <= 0 {
		secs = 300
	}
	return time.Duration(secs) * time.Second
}

func (a *AnomalyDetector) minSamples() float64 {
	if a.cfg.MinSamples > 0 {
		return float64(a.cfg.MinSamples)
	}
	return 10
}

func (a *AnomalyDetector) spendSpike() float64 {
	if a.cfg.SpendSpikeCents > 0 {
		return a.cfg.SpendSpikeCents
	}
	return 500
}

// RecordError records a failed operation for anomaly tracking.
func (a *AnomalyDetector) RecordError(topic string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	w := a.getOrCreateWindow(a.errorCounts, topic)
	w.add(1)
	a.checkErrorRate(topic)
}

// RecordSuccess records a successful operation.
func (a *AnomalyDetector) RecordSuccess(topic string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	w := a.getOrCreateWindow(a.successCounts, topic)
	w.add(1)
}

// RecordSpend records ledger spend for a tenant and warns when the spend
// inside the sliding window crosses the configured spike threshold.
func (a *AnomalyDetector) RecordSpend(tenantID string, costCents float64) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	w := a.getOrCreateWindow(a.tenantSpend, tenantID)
	w.add(costCents)

	if total := w.sum(); total > a.spendSpike() && a.logger != nil {
		a.logger.Warn("anomaly detected: spend spike",
			slog.String("tenant_id", tenantID),
			slog.Float64("window_spend_cents", total),
			slog.Float64("threshold_cents", a.spendSpike()),
		)
	}
}

// checkErrorRate checks if the error rate exceeds the configured threshold.
// Must be called with a.mu held.
func (a *AnomalyDetector) checkErrorRate(topic string) {
	threshold := a.cfg.ErrorRateThreshold
	if threshold <= 0 {
		threshold = 0.5
	}

	errors := a.getOrCreateWindow(a.errorCounts, topic).sum()
	successes := a.getOrCreateWindow(a.successCounts, topic).sum()
	total := errors + successes

	if total < a.minSamples() {
		return // Not enough data.
	}

	rate := errors / total
	if rate > threshold && a.logger != nil {
		a.logger.Warn("anomaly detected: high error rate",
			slog.String("topic", topic),
			slog.Float64("error_rate", rate),
			slog.Float64("threshold", threshold),
			slog.Float64("errors", errors),
			slog.Float64("total", total),
		)
	}
}

func (a *AnomalyDetector) getOrCreateWindow(m map[string]*slidingWindow, key string) *slidingWindow {
	w, ok := m[key]
	if !ok {
		w = &slidingWindow{window: a.windowDuration()}
		m[key] = w
	}
	return w
}

// add appends a value and prunes expired entries.
func (w *slidingWindow) add(value float64) {
	now := time.Now()
	w.entries = append(w.entries, windowEntry{timestamp: now, value: value})
	w.prune(now)
}

// sum returns the total value within the window.
func (w *slidingWindow) sum() float64 {
	w.prune(time.Now())
	var total float64
	for _, e := range w.entries {
		total += e.value
	}
	return total
}

// prune removes entries older than the window duration.
func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
}
