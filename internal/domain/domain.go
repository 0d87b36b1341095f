// Package domain defines cross-cutting entity types used across the system.
package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Tenant is an isolated customer/organization scope. Most records are
// partitioned by tenant ID.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	Slug      string
	CreatedAt time.Time
}

// CronJobDefinition is a recurring job definition polled by the scheduler.
// next_run_at advances on every tick; definitions are never deleted
// automatically.
type CronJobDefinition struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	Topic          string // Event topic enqueued when the definition fires.
	CronExpression string // Standard 5-field cron (minute hour dom month dow).
	Payload        json.RawMessage
	JitterSeconds  int // Upper bound of the random delay added to next_run_at.
	Enabled        bool
	NextRunAt      *time.Time
	LastRunAt      *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Event statuses. Transitions: new -> claimed -> done | failed.
// A failed event with attempts remaining is reset to new for retry.
const (
	EventStatusNew     = "new"
	EventStatusClaimed = "claimed"
	EventStatusDone    = "done"
	EventStatusFailed  = "failed"
)

// Event is one unit of pending work in the append-only job queue.
// The payload is immutable after creation; only the status and attempt
// bookkeeping change. Delivery is at-least-once — consumers must tolerate
// duplicate events for the same topic.
type Event struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Topic       string
	Payload     json.RawMessage
	Status      string
	Attempts    int
	MaxAttempts int
	Error       string
	CreatedAt   time.Time
	ClaimedAt   *time.Time
	CompletedAt *time.Time
}

// SubagentRun is an append-only audit record of one spawned agent
// invocation. Owned by the orchestrator.
type SubagentRun struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	TaskID    string
	AgentName string
	Input     json.RawMessage
	Output    json.RawMessage
	Success   bool
	CreatedAt time.Time
}

// PlanCandidate is one proposed course of action for a task, produced by a
// sub-agent. Read-only once written; many candidates map to one task.
type PlanCandidate struct {
	ID                 uuid.UUID
	TenantID           uuid.UUID
	TaskID             string
	RiskScore          float64 // 0-100.
	EstimatedCostCents float64
	LifeImpact         float64
	GapPriority        float64
	Body               json.RawMessage
	CreatedAt          time.Time
}

// RankedAlternative is a runner-up plan with its rounded score.
type RankedAlternative struct {
	PlanID uuid.UUID `json:"plan_id"`
	Score  int       `json:"score"`
}

// Consensus records the chosen plan for a task plus the reasoning and the
// ranked runner-up alternatives. Never mutated after creation — re-runs
// insert a new row, preserving the audit trail.
type Consensus struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	TaskID         string
	ChosenPlanID   uuid.UUID
	Confidence     int // 0-100, capped at 95 by the selector.
	Reasoning      string
	Alternatives   []RankedAlternative
	IdempotencyKey string // Empty = append-only audit semantics.
	CreatedAt      time.Time
}

// EthicsWeights are the per-tenant factor weights used by the policy gate.
// They conceptually sum to 1.0.
type EthicsWeights struct {
	LifeImpact     float64 `json:"life_impact"`
	GapPriority    float64 `json:"gap_priority"`
	RiskAvoidance  float64 `json:"risk_avoidance"`
	CostEfficiency float64 `json:"cost_efficiency"`
}

// EthicsPolicy is tenant-scoped gate configuration, mutated by
// administrators and read by the policy gate.
type EthicsPolicy struct {
	TenantID  uuid.UUID
	Weights   EthicsWeights
	UpdatedAt time.Time
}

// Incident severities.
const (
	IncidentSeverityLow      = "low"
	IncidentSeverityMedium   = "medium"
	IncidentSeverityHigh     = "high"
	IncidentSeverityCritical = "critical"
)

// Incident is the durable trace of an autonomous-execution denial. Created
// by the policy gate, never auto-deleted, resolved out-of-band by a human.
type Incident struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	Severity   string
	Source     string
	Summary    string
	Detail     json.RawMessage
	Resolved   bool
	ResolvedBy string
	ResolvedAt *time.Time
	CreatedAt  time.Time
}

// ChangeProposal statuses. The only mutation path is
// canary -> promoted | rejected; the decision is external.
const (
	ProposalStatusCanary   = "canary"
	ProposalStatusPromoted = "promoted"
	ProposalStatusRejected = "rejected"
)

// Canary describes the cohort a proposal is first deployed to. Cohort size
// is frozen at proposal time, never recomputed.
type Canary struct {
	CohortSize    int      `json:"cohort_size"`
	UserIDs       []string `json:"user_ids"`
	DurationHours int      `json:"duration_hours"`
}

// ChangeProposal is a self-improvement parameter change deployed first to a
// random canary cohort. TenantID nil means a global proposal.
type ChangeProposal struct {
	ID            uuid.UUID
	TenantID      *uuid.UUID
	Topic         string
	DryRunMetrics json.RawMessage
	Canary        Canary
	Status        string
	RiskScore     float64
	DecidedBy     string
	DecidedAt     *time.Time
	CreatedAt     time.Time
}

// SelfImproveLogEntry is the append-only justification trail paired 1:1
// with a ChangeProposal.
type SelfImproveLogEntry struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	ProposalID uuid.UUID
	ChangeType string
	Before     json.RawMessage
	After      json.RawMessage
	Rationale  string
	CreatedAt  time.Time
}

// OutcomeRating is an externally produced quality rating for a completed
// task: 1-5, or 0 for unrated. Zero ratings are excluded from averages.
type OutcomeRating struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	TaskID    string
	UserID    string
	Rating    int
	CreatedAt time.Time
}

// BudgetPolicy is the per-tenant daily spending allowance in cents.
type BudgetPolicy struct {
	TenantID        uuid.UUID
	DailyLimitCents int
	UpdatedAt       time.Time
}

// LedgerEntry is one append-only row in the action ledger. Downstream
// spend is derived by summing CostCents over the current period.
type LedgerEntry struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Topic     string
	Actor     string
	Payload   json.RawMessage
	CostCents float64
	CreatedAt time.Time
}

// ControlFlags are the tenant control-plane switches read once per
// invocation by the orchestrator and the self-improvement controller.
type ControlFlags struct {
	TenantID             uuid.UUID
	GlobalPause          bool
	WriteFreeze          bool
	ExternalCallsEnabled bool
	LastReason           string
	LastChangedBy        string
	ChangedAt            time.Time
}

// KillEvent is an append-only record of every control-plane change.
type KillEvent struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Level       string // "global" or a scope type.
	Key         string
	Action      string
	RequestedBy string
	Reason      string
	CreatedAt   time.Time
}
