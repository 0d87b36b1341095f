package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"

	"github.com/stewardhq/steward/internal/control"
	"github.com/stewardhq/steward/internal/domain"
	"github.com/stewardhq/steward/internal/selfimprove"
)

func (g *Gateway) registerGovernanceRoutes() {
	if g.gate != nil {
		g.group.Get("/ethics/policy", g.handleEthicsPolicyGet,
			okapi.DocSummary("Get the tenant's ethics weights"),
			okapi.DocTags("Governance"),
			okapi.DocResponse(domain.EthicsWeights{}),
		)
		g.group.Put("/ethics/policy", g.handleEthicsPolicySet,
			okapi.DocSummary("Replace the tenant's ethics weights"),
			okapi.DocTags("Governance"),
			okapi.DocRequestBody(domain.EthicsWeights{}),
			okapi.DocResponse(domain.EthicsWeights{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
		g.group.Get("/incidents", g.handleIncidentList,
			okapi.DocSummary("List incidents"),
			okapi.DocTags("Governance"),
			okapi.DocResponse([]IncidentResponse{}),
		)
		g.group.Post("/incidents/{id}/resolve", g.handleIncidentResolve,
			okapi.DocSummary("Resolve an incident"),
			okapi.DocTags("Governance"),
			okapi.DocPathParam("id", "string", "Incident ID (UUID)"),
			okapi.DocRequestBody(ResolveRequest{}),
			okapi.DocResponse(map[string]string{}),
			okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
		)
	}

	if g.controller != nil {
		g.group.Post("/selfimprove/run", g.handleSelfImproveRun,
			okapi.DocSummary("Run the daily self-improvement pass"),
			okapi.DocTags("Governance"),
			okapi.DocResponse(selfimprove.RunResult{}),
		)
		g.group.Get("/proposals", g.handleProposalList,
			okapi.DocSummary("List change proposals"),
			okapi.DocTags("Governance"),
			okapi.DocResponse([]ProposalResponse{}),
		)
		g.group.Post("/proposals/{id}/promote", g.handleProposalPromote,
			okapi.DocSummary("Promote a canary proposal"),
			okapi.DocTags("Governance"),
			okapi.DocPathParam("id", "string", "Proposal ID (UUID)"),
			okapi.DocRequestBody(DecisionRequest{}),
			okapi.DocResponse(map[string]string{}),
			okapi.DocResponse(http.StatusConflict, ErrorBody{}),
		)
		g.group.Post("/proposals/{id}/reject", g.handleProposalReject,
			okapi.DocSummary("Reject a canary proposal"),
			okapi.DocTags("Governance"),
			okapi.DocPathParam("id", "string", "Proposal ID (UUID)"),
			okapi.DocRequestBody(DecisionRequest{}),
			okapi.DocResponse(map[string]string{}),
			okapi.DocResponse(http.StatusConflict, ErrorBody{}),
		)
	}

	if g.budgets != nil {
		g.group.Put("/budget/policy", g.handleBudgetPolicySet,
			okapi.DocSummary("Set the tenant's daily budget limit"),
			okapi.DocTags("Budget"),
			okapi.DocRequestBody(BudgetPolicyRequest{}),
			okapi.DocResponse(BudgetPolicyRequest{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
	}

	if g.ledgerStore != nil {
		g.group.Get("/ledger", g.handleLedgerList,
			okapi.DocSummary("List recent action ledger entries"),
			okapi.DocTags("Budget"),
			okapi.DocResponse([]LedgerEntryResponse{}),
		)
	}

	if g.control != nil {
		g.group.Get("/control", g.handleControlGet,
			okapi.DocSummary("Get the tenant's control flags"),
			okapi.DocTags("Control"),
			okapi.DocResponse(ControlResponse{}),
		)
		g.group.Post("/control", g.handleControlUpdate,
			okapi.DocSummary("Update control flags"),
			okapi.DocTags("Control"),
			okapi.DocRequestBody(ControlUpdateRequest{}),
			okapi.DocResponse(ControlResponse{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		)
		g.group.Post("/control/kill", g.handleControlKill,
			okapi.DocSummary("Pause everything and freeze writes"),
			okapi.DocTags("Control"),
			okapi.DocRequestBody(KillRequest{}),
			okapi.DocResponse(ControlResponse{}),
		)
	}
}

// --- Ethics policy ---

func (g *Gateway) handleEthicsPolicyGet(c *okapi.Context) error {
	weights, err := g.gate.Policy(c.Context(), g.tenantID)
	if err != nil {
		return c.AbortInternalServerError("failed to load ethics policy")
	}
	return c.OK(weights)
}

func (g *Gateway) handleEthicsPolicySet(c *okapi.Context) error {
	userID := c.GetString("userID")

	var weights domain.EthicsWeights
	if err := c.Bind(&weights); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if weights.LifeImpact < 0 || weights.GapPriority < 0 || weights.RiskAvoidance < 0 || weights.CostEfficiency < 0 {
		return c.AbortBadRequest("weights must be non-negative")
	}

	if err := g.gate.SetPolicy(c.Context(), g.tenantID, weights); err != nil {
		g.logger.Error("ethics policy update failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to save ethics policy")
	}

	g.logger.Info("ethics policy updated", slog.String("updated_by", userID))
	return c.OK(weights)
}

// --- Incidents ---

// IncidentResponse is the JSON shape of an incident.
type IncidentResponse struct {
	ID         string          `json:"id"`
	Severity   string          `json:"severity"`
	Source     string          `json:"source"`
	Summary    string          `json:"summary"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	Resolved   bool            `json:"resolved"`
	ResolvedBy string          `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func toIncidentResponse(inc *domain.Incident) IncidentResponse {
	return IncidentResponse{
		ID:         inc.ID.String(),
		Severity:   inc.Severity,
		Source:     inc.Source,
		Summary:    inc.Summary,
		Detail:     inc.Detail,
		Resolved:   inc.Resolved,
		ResolvedBy: inc.ResolvedBy,
		ResolvedAt: inc.ResolvedAt,
		CreatedAt:  inc.CreatedAt,
	}
}

func (g *Gateway) handleIncidentList(c *okapi.Context) error {
	onlyOpen := c.Request().URL.Query().Get("open") == "true"
	limit := queryInt(c, "limit", 100)

	incidents, err := g.gate.Incidents(c.Context(), g.tenantID, onlyOpen, limit)
	if err != nil {
		return c.AbortInternalServerError("failed to list incidents")
	}

	resp := make([]IncidentResponse, len(incidents))
	for i := range incidents {
		resp[i] = toIncidentResponse(&incidents[i])
	}
	return c.OK(resp)
}

// ResolveRequest is the JSON body for incident resolution.
type ResolveRequest struct {
	ResolvedBy string `json:"resolved_by,omitempty"` // Defaults to the API key's user.
}

func (g *Gateway) handleIncidentResolve(c *okapi.Context) error {
	userID := c.GetString("userID")

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid incident ID")
	}

	var req ResolveRequest
	_ = c.Bind(&req) // Body is optional.
	if req.ResolvedBy == "" {
		req.ResolvedBy = userID
	}

	if err := g.gate.Resolve(c.Context(), g.tenantID, id, req.ResolvedBy); err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "incident not found or already resolved"})
	}

	g.logger.Info("incident resolved",
		slog.String("incident_id", id.String()),
		slog.String("resolved_by", req.ResolvedBy),
	)
	return c.OK(map[string]string{"status": "resolved"})
}

// --- Self-improvement ---

func (g *Gateway) handleSelfImproveRun(c *okapi.Context) error {
	userID := c.GetString("userID")
	if g.limiter != nil {
		if err := g.limiter.Allow(userID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	result, err := g.controller.RunDaily(c.Context(), g.tenantID)
	if err != nil {
		g.logger.Error("self-improvement run failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("self-improvement run failed")
	}
	return c.OK(result)
}

// ProposalResponse is the JSON shape of a change proposal.
type ProposalResponse struct {
	ID            string          `json:"id"`
	Topic         string          `json:"topic"`
	Status        string          `json:"status"`
	RiskScore     float64         `json:"risk_score"`
	DryRunMetrics json.RawMessage `json:"dry_run_metrics,omitempty"`
	Canary        domain.Canary   `json:"canary"`
	DecidedBy     string          `json:"decided_by,omitempty"`
	DecidedAt     *time.Time      `json:"decided_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func toProposalResponse(p *domain.ChangeProposal) ProposalResponse {
	return ProposalResponse{
		ID:            p.ID.String(),
		Topic:         p.Topic,
		Status:        p.Status,
		RiskScore:     p.RiskScore,
		DryRunMetrics: p.DryRunMetrics,
		Canary:        p.Canary,
		DecidedBy:     p.DecidedBy,
		DecidedAt:     p.DecidedAt,
		CreatedAt:     p.CreatedAt,
	}
}

func (g *Gateway) handleProposalList(c *okapi.Context) error {
	status := c.Request().URL.Query().Get("status")
	limit := queryInt(c, "limit", 100)

	proposals, err := g.controller.Proposals(c.Context(), g.tenantID, status, limit)
	if err != nil {
		return c.AbortInternalServerError("failed to list proposals")
	}

	resp := make([]ProposalResponse, len(proposals))
	for i := range proposals {
		resp[i] = toProposalResponse(&proposals[i])
	}
	return c.OK(resp)
}

// DecisionRequest is the JSON body for proposal promote/reject.
type DecisionRequest struct {
	DecidedBy string `json:"decided_by,omitempty"` // Defaults to the API key's user.
}

func (g *Gateway) handleProposalPromote(c *okapi.Context) error {
	return g.decideProposal(c, domain.ProposalStatusPromoted)
}

func (g *Gateway) handleProposalReject(c *okapi.Context) error {
	return g.decideProposal(c, domain.ProposalStatusRejected)
}

func (g *Gateway) decideProposal(c *okapi.Context, status string) error {
	userID := c.GetString("userID")

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid proposal ID")
	}

	var req DecisionRequest
	_ = c.Bind(&req) // Body is optional.
	if req.DecidedBy == "" {
		req.DecidedBy = userID
	}

	if status == domain.ProposalStatusPromoted {
		err = g.controller.Promote(c.Context(), id, req.DecidedBy)
	} else {
		err = g.controller.Reject(c.Context(), id, req.DecidedBy)
	}
	if err != nil {
		return c.JSON(http.StatusConflict, okapi.M{"error": err.Error()})
	}

	g.logger.Info("proposal decided",
		slog.String("proposal_id", id.String()),
		slog.String("status", status),
		slog.String("decided_by", req.DecidedBy),
	)
	return c.OK(map[string]string{"status": status})
}

// --- Budget policy ---

// BudgetPolicyRequest is the JSON body for PUT /v1/budget/policy.
type BudgetPolicyRequest struct {
	DailyLimitCents int `json:"daily_limit_cents"`
}

func (g *Gateway) handleBudgetPolicySet(c *okapi.Context) error {
	userID := c.GetString("userID")

	var req BudgetPolicyRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.DailyLimitCents <= 0 {
		return c.AbortBadRequest("daily_limit_cents must be positive")
	}

	policy := &domain.BudgetPolicy{
		TenantID:        g.tenantID,
		DailyLimitCents: req.DailyLimitCents,
		UpdatedAt:       time.Now().UTC(),
	}
	if err := g.budgets.SaveBudgetPolicy(c.Context(), policy); err != nil {
		g.logger.Error("budget policy update failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to save budget policy")
	}

	g.logger.Info("budget policy updated",
		slog.Int("daily_limit_cents", req.DailyLimitCents),
		slog.String("updated_by", userID),
	)
	return c.OK(req)
}

// --- Ledger ---

// LedgerEntryResponse is the JSON shape of one ledger row.
type LedgerEntryResponse struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Actor     string          `json:"actor"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CostCents float64         `json:"cost_cents"`
	CreatedAt time.Time       `json:"created_at"`
}

func (g *Gateway) handleLedgerList(c *okapi.Context) error {
	sinceHours := queryInt(c, "since_hours", 24)
	limit := queryInt(c, "limit", 100)
	since := time.Now().UTC().Add(-time.Duration(sinceHours) * time.Hour)

	entries, err := g.ledgerStore.ListSince(c.Context(), g.tenantID, since, limit)
	if err != nil {
		return c.AbortInternalServerError("failed to list ledger entries")
	}

	resp := make([]LedgerEntryResponse, len(entries))
	for i, e := range entries {
		resp[i] = LedgerEntryResponse{
			ID:        e.ID.String(),
			Topic:     e.Topic,
			Actor:     e.Actor,
			Payload:   e.Payload,
			CostCents: e.CostCents,
			CreatedAt: e.CreatedAt,
		}
	}
	return c.OK(resp)
}

// --- Control ---

// ControlResponse is the JSON shape of the control flags.
type ControlResponse struct {
	GlobalPause          bool      `json:"global_pause"`
	WriteFreeze          bool      `json:"write_freeze"`
	ExternalCallsEnabled bool      `json:"external_calls_enabled"`
	LastReason           string    `json:"last_reason,omitempty"`
	LastChangedBy        string    `json:"last_changed_by,omitempty"`
	ChangedAt            time.Time `json:"changed_at"`
}

func toControlResponse(f *domain.ControlFlags) ControlResponse {
	return ControlResponse{
		GlobalPause:          f.GlobalPause,
		WriteFreeze:          f.WriteFreeze,
		ExternalCallsEnabled: f.ExternalCallsEnabled,
		LastReason:           f.LastReason,
		LastChangedBy:        f.LastChangedBy,
		ChangedAt:            f.ChangedAt,
	}
}

func (g *Gateway) handleControlGet(c *okapi.Context) error {
	flags, err := g.control.Snapshot(c.Context(), g.tenantID)
	if err != nil {
		return c.AbortInternalServerError("failed to load control flags")
	}
	return c.OK(toControlResponse(flags))
}

// ControlUpdateRequest is the JSON body for POST /v1/control.
// Absent fields are left untouched.
type ControlUpdateRequest struct {
	GlobalPause          *bool  `json:"global_pause,omitempty"`
	WriteFreeze          *bool  `json:"write_freeze,omitempty"`
	ExternalCallsEnabled *bool  `json:"external_calls_enabled,omitempty"`
	Reason               string `json:"reason"`
}

func (g *Gateway) handleControlUpdate(c *okapi.Context) error {
	userID := c.GetString("userID")

	var req ControlUpdateRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.GlobalPause == nil && req.WriteFreeze == nil && req.ExternalCallsEnabled == nil {
		return c.AbortBadRequest("at least one flag is required")
	}
	if req.Reason == "" {
		return c.AbortBadRequest("reason is required")
	}

	flags, err := g.control.Apply(c.Context(), g.tenantID, control.Update{
		GlobalPause:          req.GlobalPause,
		WriteFreeze:          req.WriteFreeze,
		ExternalCallsEnabled: req.ExternalCallsEnabled,
		Reason:               req.Reason,
		RequestedBy:          userID,
	})
	if err != nil {
		g.logger.Error("control update failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to update control flags")
	}
	return c.OK(toControlResponse(flags))
}

// KillRequest is the JSON body for POST /v1/control/kill.
type KillRequest struct {
	Reason string `json:"reason"`
}

func (g *Gateway) handleControlKill(c *okapi.Context) error {
	userID := c.GetString("userID")

	var req KillRequest
	_ = c.Bind(&req) // Body is optional.
	if req.Reason == "" {
		req.Reason = "manual kill"
	}

	flags, err := g.control.Kill(c.Context(), g.tenantID, userID, req.Reason)
	if err != nil {
		g.logger.Error("control kill failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("failed to apply kill")
	}

	g.logger.Warn("kill switch engaged",
		slog.String("requested_by", userID),
		slog.String("reason", req.Reason),
	)
	return c.OK(toControlResponse(flags))
}

// --- Helpers ---

func queryInt(c *okapi.Context, name string, def int) int {
	raw := c.Request().URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
