package observability

import (
	"context"
	"log/slog"
	"time"
)

// Each readiness sweep gets one shared deadline so a hung dependency
// cannot stall the /readyz handler indefinitely.
const readinessTimeout = 3 * time.Second

// HealthCheck pings one dependency, such as the store behind the
// scheduler and queue.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthChecker runs the registered dependency checks for the gateway's
// probe endpoints.
type HealthChecker struct {
	checks []HealthCheck
	logger *slog.Logger
}

// NewHealthChecker creates an empty HealthChecker. The logger may be nil.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger}
}

// AddCheck registers a dependency under the given name. Checks run in
// registration order on every readiness sweep.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.checks = append(h.checks, HealthCheck{Name: name, Check: check})
}

// HealthStatus is the body served on /healthz and /readyz.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult reports one dependency's outcome within a sweep.
type CheckResult struct {
	Status  string `json:"status"`            // "ok" or "fail"
	Message string `json:"message,omitempty"` // Error message on failure.
}

// CheckHealth is the liveness probe: the process answering is the signal,
// so no dependency checks run.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady sweeps every registered check and reports "ok" only when all
// pass. Any failure degrades the aggregate but never aborts the sweep, so
// the response names each broken dependency.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	if len(h.checks) == 0 {
		return HealthStatus{Status: "ok"}
	}

	sweepCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	results := make(map[string]CheckResult, len(h.checks))
	failed := 0
	for _, c := range h.checks {
		err := c.Check(sweepCtx)
		if err == nil {
			results[c.Name] = CheckResult{Status: "ok"}
			continue
		}
		failed++
		results[c.Name] = CheckResult{Status: "fail", Message: err.Error()}
		if h.logger != nil {
			h.logger.Warn("readiness check failed",
				slog.String("check", c.Name),
				slog.String("error", err.Error()),
			)
		}
	}

	status := "ok"
	if failed > 0 {
		status = "degraded"
	}
	return HealthStatus{Status: status, Checks: results}
}
