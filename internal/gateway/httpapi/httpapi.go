// Package httpapi implements the HTTP API gateway for Steward.
//
// Security:
//   - API key authentication on every request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-user rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"

	"github.com/stewardhq/steward/internal/budget"
	"github.com/stewardhq/steward/internal/consensus"
	"github.com/stewardhq/steward/internal/control"
	"github.com/stewardhq/steward/internal/domain"
	"github.com/stewardhq/steward/internal/ethics"
	"github.com/stewardhq/steward/internal/ledger"
	"github.com/stewardhq/steward/internal/observability"
	"github.com/stewardhq/steward/internal/orchestrator"
	"github.com/stewardhq/steward/internal/queue"
	"github.com/stewardhq/steward/internal/ratelimit"
	"github.com/stewardhq/steward/internal/scheduler"
	"github.com/stewardhq/steward/internal/selfimprove"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// RatingStore persists outcome ratings submitted through the API.
type RatingStore interface {
	CreateRating(ctx context.Context, r *domain.OutcomeRating) error
}

// BudgetPolicyStore persists per-tenant budget limits.
type BudgetPolicyStore interface {
	SaveBudgetPolicy(ctx context.Context, policy *domain.BudgetPolicy) error
}

// EventPublisher enqueues events for the dispatcher. Satisfied by
// queue.Publisher and the instrumented wrapper.
type EventPublisher interface {
	Publish(ctx context.Context, tenantID uuid.UUID, topic string, payload any) (*domain.Event, error)
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr     string // e.g., ":8080"
	EnableDocs     bool
	APIKeys        map[string]string // API key -> user ID mapping. Keys from env.
	MaxRequestSize int64             // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config   Config
	tenantID uuid.UUID
	limiter  *ratelimit.Limiter
	logger   *slog.Logger
	server   *http.Server

	orchestrator *orchestrator.Orchestrator // nil = orchestration endpoints disabled.
	selector     *consensus.Selector
	gate         *ethics.Gate
	controller   *selfimprove.Controller
	guard        *budget.Guard
	budgets      BudgetPolicyStore
	ratings      RatingStore
	ledgerStore  ledger.Store
	control      *control.Service

	cronStore  scheduler.DefinitionStore // nil = cron endpoints disabled.
	scheduler  *scheduler.Scheduler      // nil = manual tick disabled.
	publisher  EventPublisher
	eventStore queue.EventStore // nil = event inspection disabled.
	dispatcher *queue.Dispatcher

	okapi *okapi.Okapi
	group *okapi.Group
}

// NewGateway creates an HTTP API gateway bound to one tenant.
func NewGateway(cfg Config, tenantID uuid.UUID, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:   cfg,
		tenantID: tenantID,
		limiter:  rl,
		logger:   logger,
		okapi:    okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithOrchestration attaches the orchestrator and consensus selector.
func (g *Gateway) WithOrchestration(o *orchestrator.Orchestrator, sel *consensus.Selector) *Gateway {
	g.orchestrator = o
	g.selector = sel
	return g
}

// WithGovernance attaches the ethics gate, self-improvement controller, and
// rating ingestion.
func (g *Gateway) WithGovernance(gate *ethics.Gate, ctrl *selfimprove.Controller, ratings RatingStore) *Gateway {
	g.gate = gate
	g.controller = ctrl
	g.ratings = ratings
	return g
}

// WithBudget attaches the budget guard, policy writes, and ledger reads.
func (g *Gateway) WithBudget(guard *budget.Guard, budgets BudgetPolicyStore, ledgerStore ledger.Store) *Gateway {
	g.guard = guard
	g.budgets = budgets
	g.ledgerStore = ledgerStore
	return g
}

// WithControl attaches the control plane service.
func (g *Gateway) WithControl(svc *control.Service) *Gateway {
	g.control = svc
	return g
}

// WithCronJobs attaches cron definition management and the manual tick.
func (g *Gateway) WithCronJobs(store scheduler.DefinitionStore, sched *scheduler.Scheduler, pub EventPublisher) *Gateway {
	g.cronStore = store
	g.scheduler = sched
	g.publisher = pub
	return g
}

// WithQueue attaches event inspection and the manual drain.
func (g *Gateway) WithQueue(store queue.EventStore, d *queue.Dispatcher) *Gateway {
	g.eventStore = store
	g.dispatcher = d
	return g
}

// WithOpenAPIDocs enables the interactive API docs.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Steward",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	// Authenticated /v1 group. Metrics wrap the auth middleware so
	// rejected requests still count.
	middlewares := []okapi.Middleware{}
	if g.config.Metrics != nil || g.config.Tracer != nil {
		middlewares = append(middlewares, observability.MetricsMiddleware(g.config.Metrics, g.config.Tracer))
	}
	middlewares = append(middlewares, g.authenticate)
	g.group = g.okapi.Group("/v1", middlewares...)

	g.registerTaskRoutes()
	g.registerGovernanceRoutes()
	g.registerScheduleRoutes()

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Health ---

// HealthResponse is the JSON response for the health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe.
func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the API key and stores the mapped user ID on the
// request context.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		userID := ""
		for key, mapped := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				userID = mapped
			}
		}
		if userID == "" {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("userID", userID)
		return next(c)
	}
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
