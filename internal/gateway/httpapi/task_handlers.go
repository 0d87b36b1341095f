package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"

	"github.com/stewardhq/steward/internal/consensus"
	"github.com/stewardhq/steward/internal/domain"
	"github.com/stewardhq/steward/internal/ethics"
	"github.com/stewardhq/steward/internal/orchestrator"
	"github.com/stewardhq/steward/internal/router"

	"log/slog"
)

func (g *Gateway) registerTaskRoutes() {
	if g.orchestrator != nil {
		g.group.Post("/orchestrate", g.handleOrchestrate,
			okapi.DocSummary("Fan a task out to the sub-agent pool"),
			okapi.DocTags("Tasks"),
			okapi.DocRequestBody(OrchestrateRequest{}),
			okapi.DocResponse(http.StatusAccepted, orchestrator.SpawnResult{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
			okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
			okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
		)
		g.group.Get("/orchestrate/{taskID}/runs", g.handleRunsList,
			okapi.DocSummary("List sub-agent runs for a task"),
			okapi.DocTags("Tasks"),
			okapi.DocPathParam("taskID", "string", "Task ID"),
			okapi.DocResponse([]RunResponse{}),
		)
	}

	if g.selector != nil {
		g.group.Post("/consensus", g.handleConsensus,
			okapi.DocSummary("Select the winning plan for a task"),
			okapi.DocTags("Tasks"),
			okapi.DocRequestBody(ConsensusRequest{}),
			okapi.DocResponse(ConsensusResponse{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
		g.group.Get("/consensus/{taskID}/history", g.handleConsensusHistory,
			okapi.DocSummary("List consensus decisions for a task"),
			okapi.DocTags("Tasks"),
			okapi.DocPathParam("taskID", "string", "Task ID"),
			okapi.DocResponse([]ConsensusResponse{}),
		)
	}

	if g.gate != nil {
		g.group.Post("/ethics/verify", g.handleEthicsVerify,
			okapi.DocSummary("Evaluate a plan against the ethics policy"),
			okapi.DocTags("Governance"),
			okapi.DocRequestBody(ethics.PlanInput{}),
			okapi.DocResponse(ethics.Verdict{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
	}

	g.group.Post("/router/pick", g.handleRouterPick,
		okapi.DocSummary("Pick a model tier for a task"),
		okapi.DocTags("Tasks"),
		okapi.DocRequestBody(RouterPickRequest{}),
		okapi.DocResponse(RouterPickResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)

	if g.guard != nil {
		g.group.Post("/budget/check", g.handleBudgetCheck,
			okapi.DocSummary("Check projected spend against the daily budget"),
			okapi.DocTags("Budget"),
			okapi.DocRequestBody(BudgetCheckRequest{}),
			okapi.DocResponse(BudgetCheckResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
	}

	if g.ratings != nil {
		g.group.Post("/ratings", g.handleRatingCreate,
			okapi.DocSummary("Record an outcome rating"),
			okapi.DocTags("Governance"),
			okapi.DocRequestBody(RatingRequest{}),
			okapi.DocResponse(http.StatusCreated, RatingResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
	}
}

// --- Orchestration ---

// OrchestrateRequest is the JSON body for POST /v1/orchestrate.
type OrchestrateRequest struct {
	TaskID  string          `json:"task_id"`
	Context json.RawMessage `json:"context,omitempty"`
}

func (g *Gateway) handleOrchestrate(c *okapi.Context) error {
	userID := c.GetString("userID")
	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req OrchestrateRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.TaskID == "" {
		return c.AbortBadRequest("task_id is required")
	}

	correlationID := newCorrelationID()
	g.logger.Info("http orchestrate",
		slog.String("user_id", userID),
		slog.String("task_id", req.TaskID),
		slog.String("correlation_id", correlationID),
	)

	result, err := g.orchestrator.Spawn(c.Context(), &orchestrator.SpawnRequest{
		TenantID: g.tenantID,
		TaskID:   req.TaskID,
		Context:  req.Context,
	})
	if err != nil {
		g.logger.Error("orchestration failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("orchestration failed")
	}

	if result.Paused {
		return c.OK(result)
	}
	return c.JSON(http.StatusAccepted, result)
}

// RunResponse is a single sub-agent run in the run list.
type RunResponse struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"task_id"`
	AgentName string          `json:"agent_name"`
	Output    json.RawMessage `json:"output,omitempty"`
	Success   bool            `json:"success"`
	CreatedAt time.Time       `json:"created_at"`
}

func (g *Gateway) handleRunsList(c *okapi.Context) error {
	taskID := c.Param("taskID")
	if taskID == "" {
		return c.AbortBadRequest("taskID is required")
	}

	runs, err := g.orchestrator.Runs(c.Context(), g.tenantID, taskID)
	if err != nil {
		return c.AbortInternalServerError("failed to list runs")
	}

	resp := make([]RunResponse, len(runs))
	for i, r := range runs {
		resp[i] = RunResponse{
			ID:        r.ID.String(),
			TaskID:    r.TaskID,
			AgentName: r.AgentName,
			Output:    r.Output,
			Success:   r.Success,
			CreatedAt: r.CreatedAt,
		}
	}
	return c.OK(resp)
}

// --- Consensus ---

// ConsensusRequest is the JSON body for POST /v1/consensus.
type ConsensusRequest struct {
	TaskID         string `json:"task_id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ConsensusResponse is the JSON shape of a consensus decision.
type ConsensusResponse struct {
	ID           string                     `json:"id"`
	TaskID       string                     `json:"task_id"`
	ChosenPlanID string                     `json:"chosen_plan_id"`
	Confidence   int                        `json:"confidence"`
	Reasoning    string                     `json:"reasoning"`
	Alternatives []domain.RankedAlternative `json:"alternatives"`
	CreatedAt    time.Time                  `json:"created_at"`
}

func toConsensusResponse(dec *domain.Consensus) ConsensusResponse {
	return ConsensusResponse{
		ID:           dec.ID.String(),
		TaskID:       dec.TaskID,
		ChosenPlanID: dec.ChosenPlanID.String(),
		Confidence:   dec.Confidence,
		Reasoning:    dec.Reasoning,
		Alternatives: dec.Alternatives,
		CreatedAt:    dec.CreatedAt,
	}
}

func (g *Gateway) handleConsensus(c *okapi.Context) error {
	userID := c.GetString("userID")
	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req ConsensusRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.TaskID == "" {
		return c.AbortBadRequest("task_id is required")
	}

	dec, err := g.selector.Select(c.Context(), g.tenantID, req.TaskID, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, consensus.ErrNoCandidates) {
			return c.JSON(http.StatusNotFound, okapi.M{"error": "no plan candidates for task"})
		}
		g.logger.Error("consensus selection failed",
			slog.String("task_id", req.TaskID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("consensus selection failed")
	}

	return c.OK(toConsensusResponse(dec))
}

func (g *Gateway) handleConsensusHistory(c *okapi.Context) error {
	taskID := c.Param("taskID")
	if taskID == "" {
		return c.AbortBadRequest("taskID is required")
	}

	decisions, err := g.selector.History(c.Context(), g.tenantID, taskID)
	if err != nil {
		return c.AbortInternalServerError("failed to list consensus history")
	}

	resp := make([]ConsensusResponse, len(decisions))
	for i := range decisions {
		resp[i] = toConsensusResponse(&decisions[i])
	}
	return c.OK(resp)
}

// --- Ethics ---

func (g *Gateway) handleEthicsVerify(c *okapi.Context) error {
	userID := c.GetString("userID")
	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var plan ethics.PlanInput
	if err := c.Bind(&plan); err != nil {
		return c.AbortBadRequest("invalid request body")
	}

	verdict, err := g.gate.Verify(c.Context(), g.tenantID, plan)
	if err != nil {
		g.logger.Error("ethics verification failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("ethics verification failed")
	}
	return c.OK(verdict)
}

// --- Router ---

// RouterPickRequest is the JSON body for POST /v1/router/pick.
type RouterPickRequest struct {
	Kind           string  `json:"kind"`
	Difficulty     int     `json:"difficulty"`
	Prompt         string  `json:"prompt,omitempty"`
	HasTools       bool    `json:"has_tools,omitempty"`
	Realtime       bool    `json:"realtime,omitempty"`
	CentsRemaining float64 `json:"cents_remaining"`
	EstimateTokens int     `json:"estimate_tokens,omitempty"`
}

// RouterPickResponse is the chosen tier plus an optional cost estimate.
type RouterPickResponse struct {
	Tier               router.Tier `json:"tier"`
	Complexity         string      `json:"complexity,omitempty"`
	EstimatedCostCents float64     `json:"estimated_cost_cents,omitempty"`
}

func (g *Gateway) handleRouterPick(c *okapi.Context) error {
	var req RouterPickRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Kind == "" && req.Prompt == "" {
		return c.AbortBadRequest("kind or prompt is required")
	}

	resp := RouterPickResponse{}
	if req.Prompt != "" {
		complexity := router.AnalyzeComplexity(req.Prompt, req.HasTools)
		resp.Complexity = string(complexity)
		resp.Tier = router.Downgrade(router.TierForComplexity(complexity, req.Realtime), req.CentsRemaining)
	} else {
		resp.Tier = router.PickModel(router.Task{Kind: req.Kind, Difficulty: req.Difficulty}, req.CentsRemaining)
	}
	if req.EstimateTokens > 0 {
		resp.EstimatedCostCents = router.EstimateCostCents(resp.Tier, req.EstimateTokens)
	}
	return c.OK(resp)
}

// --- Budget ---

// BudgetCheckRequest is the JSON body for POST /v1/budget/check.
// HardBlock defaults to true; false makes the check advisory, reporting
// an overrun without denying it.
type BudgetCheckRequest struct {
	ProjectedCents float64 `json:"projected_cents"`
	HardBlock      *bool   `json:"hard_block,omitempty"`
}

// BudgetCheckResponse wraps the guard decision.
type BudgetCheckResponse struct {
	Allowed        bool    `json:"allowed"`
	RemainingCents float64 `json:"remaining_cents"`
	LimitCents     float64 `json:"limit_cents"`
	SpentCents     float64 `json:"spent_cents"`
	Reason         string  `json:"reason,omitempty"`
}

func (g *Gateway) handleBudgetCheck(c *okapi.Context) error {
	var req BudgetCheckRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.ProjectedCents < 0 {
		return c.AbortBadRequest("projected_cents must be non-negative")
	}

	hardBlock := true
	if req.HardBlock != nil {
		hardBlock = *req.HardBlock
	}

	d := g.guard.Check(c.Context(), g.tenantID, req.ProjectedCents, hardBlock)
	return c.OK(BudgetCheckResponse{
		Allowed:        d.Allowed,
		RemainingCents: d.RemainingCents,
		LimitCents:     d.LimitCents,
		SpentCents:     d.SpentCents,
		Reason:         d.Reason,
	})
}

// --- Ratings ---

// RatingRequest is the JSON body for POST /v1/ratings.
type RatingRequest struct {
	TaskID string `json:"task_id"`
	UserID string `json:"user_id,omitempty"` // Defaults to the API key's user.
	Rating int    `json:"rating"`
}

// RatingResponse echoes the stored rating.
type RatingResponse struct {
	ID     string `json:"id"`
	TaskID string `json:"task_id"`
	UserID string `json:"user_id"`
	Rating int    `json:"rating"`
}

func (g *Gateway) handleRatingCreate(c *okapi.Context) error {
	userID := c.GetString("userID")
	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req RatingRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.TaskID == "" {
		return c.AbortBadRequest("task_id is required")
	}
	if req.Rating < 1 || req.Rating > 5 {
		return c.AbortBadRequest("rating must be between 1 and 5")
	}
	if req.UserID == "" {
		req.UserID = userID
	}

	rating := &domain.OutcomeRating{
		ID:        uuid.New(),
		TenantID:  g.tenantID,
		TaskID:    req.TaskID,
		UserID:    req.UserID,
		Rating:    req.Rating,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.ratings.CreateRating(c.Context(), rating); err != nil {
		g.logger.Error("rating creation failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to record rating")
	}

	return c.JSON(http.StatusCreated, RatingResponse{
		ID:     rating.ID.String(),
		TaskID: rating.TaskID,
		UserID: rating.UserID,
		Rating: rating.Rating,
	})
}
