package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"

	"github.com/stewardhq/steward/internal/domain"
	"github.com/stewardhq/steward/internal/scheduler"
)

func (g *Gateway) registerScheduleRoutes() {
	if g.cronStore != nil {
		g.group.Post("/cronjobs", g.handleCronJobCreate,
			okapi.DocSummary("Create a cron job definition"),
			okapi.DocTags("CronJobs"),
			okapi.DocRequestBody(CronJobRequest{}),
			okapi.DocResponse(http.StatusCreated, CronJobResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
		g.group.Get("/cronjobs", g.handleCronJobList,
			okapi.DocSummary("List cron job definitions"),
			okapi.DocTags("CronJobs"),
			okapi.DocResponse([]CronJobResponse{}),
		)
		g.group.Get("/cronjobs/{id}", g.handleCronJobGet,
			okapi.DocSummary("Get a cron job definition by ID"),
			okapi.DocTags("CronJobs"),
			okapi.DocPathParam("id", "string", "Definition ID (UUID)"),
			okapi.DocResponse(CronJobResponse{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
		g.group.Put("/cronjobs/{id}", g.handleCronJobUpdate,
			okapi.DocSummary("Update a cron job definition"),
			okapi.DocTags("CronJobs"),
			okapi.DocPathParam("id", "string", "Definition ID (UUID)"),
			okapi.DocRequestBody(CronJobRequest{}),
			okapi.DocResponse(CronJobResponse{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
		g.group.Delete("/cronjobs/{id}", g.handleCronJobDelete,
			okapi.DocSummary("Delete a cron job definition"),
			okapi.DocTags("CronJobs"),
			okapi.DocPathParam("id", "string", "Definition ID (UUID)"),
			okapi.DocResponse(map[string]string{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
		if g.publisher != nil {
			g.group.Post("/cronjobs/{id}/trigger", g.handleCronJobTrigger,
				okapi.DocSummary("Fire a cron job definition immediately"),
				okapi.DocTags("CronJobs"),
				okapi.DocPathParam("id", "string", "Definition ID (UUID)"),
				okapi.DocResponse(http.StatusAccepted, TriggerResponse{}),
				okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
			)
		}
	}

	if g.scheduler != nil {
		g.group.Post("/scheduler/tick", g.handleSchedulerTick,
			okapi.DocSummary("Run one scheduler pass over due definitions"),
			okapi.DocTags("Scheduler"),
			okapi.DocResponse(http.StatusAccepted, TickResponse{}),
		)
	}

	if g.eventStore != nil {
		g.group.Get("/events", g.handleEventList,
			okapi.DocSummary("List queued events"),
			okapi.DocTags("Queue"),
			okapi.DocResponse([]EventResponse{}),
		)
	}
	if g.dispatcher != nil {
		g.group.Post("/queue/drain", g.handleQueueDrain,
			okapi.DocSummary("Process pending events until the queue is empty"),
			okapi.DocTags("Queue"),
			okapi.DocResponse(DrainResponse{}),
		)
	}
}

// **** CronJob request/response types ****

// CronJobRequest is the JSON body for POST/PUT /v1/cronjobs.
type CronJobRequest struct {
	Topic          string          `json:"topic"`
	CronExpression string          `json:"cron_expression"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	JitterSeconds  int             `json:"jitter_seconds,omitempty"`
	Enabled        *bool           `json:"enabled,omitempty"` // Pointer to distinguish absent from false.
}

// CronJobResponse is the JSON response for cron job endpoints.
type CronJobResponse struct {
	ID             string          `json:"id"`
	Topic          string          `json:"topic"`
	CronExpression string          `json:"cron_expression"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	JitterSeconds  int             `json:"jitter_seconds"`
	Enabled        bool            `json:"enabled"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func toCronJobResponse(def *domain.CronJobDefinition) CronJobResponse {
	return CronJobResponse{
		ID:             def.ID.String(),
		Topic:          def.Topic,
		CronExpression: def.CronExpression,
		Payload:        def.Payload,
		JitterSeconds:  def.JitterSeconds,
		Enabled:        def.Enabled,
		NextRunAt:      def.NextRunAt,
		LastRunAt:      def.LastRunAt,
		LastError:      def.LastError,
		CreatedAt:      def.CreatedAt,
		UpdatedAt:      def.UpdatedAt,
	}
}

// **** Handlers ****

func (g *Gateway) handleCronJobCreate(c *okapi.Context) error {
	userID := c.GetString("userID")
	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req CronJobRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Topic == "" {
		return c.AbortBadRequest("topic is required")
	}
	if req.CronExpression == "" {
		return c.AbortBadRequest("cron_expression is required")
	}
	if req.JitterSeconds < 0 {
		return c.AbortBadRequest("jitter_seconds must be non-negative")
	}

	// Validate cron expression.
	nextRun, err := scheduler.ComputeNextRunFrom(req.CronExpression, time.Now().UTC())
	if err != nil {
		return c.AbortBadRequest(fmt.Sprintf("invalid cron_expression: %v", err))
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := time.Now().UTC()
	def := &domain.CronJobDefinition{
		ID:             uuid.New(),
		TenantID:       g.tenantID,
		Topic:          req.Topic,
		CronExpression: req.CronExpression,
		Payload:        req.Payload,
		JitterSeconds:  req.JitterSeconds,
		Enabled:        enabled,
		NextRunAt:      &nextRun,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := g.cronStore.Create(c.Context(), def); err != nil {
		g.logger.Error("cron job creation failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to create cron job")
	}

	g.logger.Info("cron job created",
		slog.String("cronjob_id", def.ID.String()),
		slog.String("topic", def.Topic),
		slog.String("cron_expression", def.CronExpression),
		slog.String("created_by", userID),
	)

	return c.JSON(http.StatusCreated, toCronJobResponse(def))
}

func (g *Gateway) handleCronJobList(c *okapi.Context) error {
	defs, err := g.cronStore.List(c.Context(), g.tenantID)
	if err != nil {
		return c.AbortInternalServerError("failed to list cron jobs")
	}

	resp := make([]CronJobResponse, len(defs))
	for i := range defs {
		resp[i] = toCronJobResponse(&defs[i])
	}
	return c.OK(resp)
}

func (g *Gateway) handleCronJobGet(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid cron job ID")
	}

	def, err := g.cronStore.Get(c.Context(), g.tenantID, id)
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "cron job not found"})
	}

	return c.OK(toCronJobResponse(def))
}

func (g *Gateway) handleCronJobUpdate(c *okapi.Context) error {
	userID := c.GetString("userID")

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid cron job ID")
	}

	def, err := g.cronStore.Get(c.Context(), g.tenantID, id)
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "cron job not found"})
	}

	var req CronJobRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	if req.Topic != "" {
		def.Topic = req.Topic
	}
	if len(req.Payload) > 0 {
		def.Payload = req.Payload
	}
	if req.CronExpression != "" {
		nextRun, cronErr := scheduler.ComputeNextRunFrom(req.CronExpression, time.Now().UTC())
		if cronErr != nil {
			return c.AbortBadRequest(fmt.Sprintf("invalid cron_expression: %v", cronErr))
		}
		def.CronExpression = req.CronExpression
		def.NextRunAt = &nextRun
	}
	if req.JitterSeconds > 0 {
		def.JitterSeconds = req.JitterSeconds
	}
	if req.Enabled != nil {
		def.Enabled = *req.Enabled
	}
	def.UpdatedAt = time.Now().UTC()

	if err := g.cronStore.Update(c.Context(), def); err != nil {
		return c.AbortInternalServerError("failed to update cron job")
	}

	g.logger.Info("cron job updated",
		slog.String("cronjob_id", def.ID.String()),
		slog.String("updated_by", userID),
	)

	return c.OK(toCronJobResponse(def))
}

func (g *Gateway) handleCronJobDelete(c *okapi.Context) error {
	userID := c.GetString("userID")

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid cron job ID")
	}

	if err := g.cronStore.Delete(c.Context(), g.tenantID, id); err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "cron job not found"})
	}

	g.logger.Info("cron job deleted",
		slog.String("cronjob_id", id.String()),
		slog.String("deleted_by", userID),
	)

	return c.OK(map[string]string{"status": "deleted"})
}

// TriggerResponse reports the event enqueued by a manual trigger.
type TriggerResponse struct {
	EventID string `json:"event_id"`
	Topic   string `json:"topic"`
}

func (g *Gateway) handleCronJobTrigger(c *okapi.Context) error {
	userID := c.GetString("userID")
	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid cron job ID")
	}

	def, err := g.cronStore.Get(c.Context(), g.tenantID, id)
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "cron job not found"})
	}

	ev, err := g.publisher.Publish(c.Context(), g.tenantID, def.Topic, def.Payload)
	if err != nil {
		g.logger.Error("cron job manual trigger failed",
			slog.String("cronjob_id", id.String()),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("failed to enqueue event")
	}

	g.logger.Info("cron job manually triggered",
		slog.String("cronjob_id", id.String()),
		slog.String("event_id", ev.ID.String()),
		slog.String("triggered_by", userID),
	)

	return c.JSON(http.StatusAccepted, TriggerResponse{
		EventID: ev.ID.String(),
		Topic:   ev.Topic,
	})
}

// --- Scheduler ---

// TickResponse reports how many definitions a manual pass fired.
type TickResponse struct {
	Fired int `json:"fired"`
}

func (g *Gateway) handleSchedulerTick(c *okapi.Context) error {
	userID := c.GetString("userID")
	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	fired := g.scheduler.Tick(c.Context())
	g.logger.Info("manual scheduler tick",
		slog.Int("fired", fired),
		slog.String("triggered_by", userID),
	)
	return c.JSON(http.StatusAccepted, TickResponse{Fired: fired})
}

// --- Queue ---

// EventResponse is the JSON shape of a queued event.
type EventResponse struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (g *Gateway) handleEventList(c *okapi.Context) error {
	status := c.Request().URL.Query().Get("status")
	limit := queryInt(c, "limit", 100)

	events, err := g.eventStore.List(c.Context(), g.tenantID, status, limit)
	if err != nil {
		return c.AbortInternalServerError("failed to list events")
	}

	resp := make([]EventResponse, len(events))
	for i, ev := range events {
		resp[i] = EventResponse{
			ID:          ev.ID.String(),
			Topic:       ev.Topic,
			Payload:     ev.Payload,
			Status:      ev.Status,
			Attempts:    ev.Attempts,
			MaxAttempts: ev.MaxAttempts,
			Error:       ev.Error,
			CreatedAt:   ev.CreatedAt,
		}
	}
	return c.OK(resp)
}

// DrainResponse reports how many events a manual drain processed.
type DrainResponse struct {
	Processed int `json:"processed"`
}

func (g *Gateway) handleQueueDrain(c *okapi.Context) error {
	userID := c.GetString("userID")
	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	processed := g.dispatcher.Drain(c.Context())
	g.logger.Info("manual queue drain",
		slog.Int("processed", processed),
		slog.String("triggered_by", userID),
	)
	return c.OK(DrainResponse{Processed: processed})
}
