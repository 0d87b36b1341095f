package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TenantModel maps to the "tenants" table.
type TenantModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"not null;uniqueIndex"`
	Slug      string    `gorm:"not null;uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (TenantModel) TableName() string { return "tenants" }

// CronJobDefinitionModel maps to the "cron_job_definitions" table.
type CronJobDefinitionModel struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TenantID       uuid.UUID       `gorm:"type:uuid;not null;index"`
	Topic          string          `gorm:"not null"`
	CronExpression string          `gorm:"not null"`
	Payload        json.RawMessage `gorm:"type:jsonb"`
	JitterSeconds  int             `gorm:"not null;default:0"`
	Enabled        bool            `gorm:"not null;default:true;index"`
	NextRunAt      *time.Time      `gorm:"index"`
	LastRunAt      *time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`
}

func (CronJobDefinitionModel) TableName() string { return "cron_job_definitions" }

// EventModel maps to the "events" table.
type EventModel struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TenantID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	Topic       string          `gorm:"not null;index"`
	Payload     json.RawMessage `gorm:"type:jsonb"`
	Status      string          `gorm:"not null;default:'new';index"`
	Attempts    int             `gorm:"not null;default:0"`
	MaxAttempts int             `gorm:"not null;default:3"`
	Error       string
	CreatedAt   time.Time `gorm:"index"`
	ClaimedAt   *time.Time
	CompletedAt *time.Time
}

func (EventModel) TableName() string { return "events" }

// SubagentRunModel maps to the "subagent_runs" table.
type SubagentRunModel struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TenantID  uuid.UUID       `gorm:"type:uuid;not null;index"`
	TaskID    string          `gorm:"not null;index"`
	AgentName string          `gorm:"not null"`
	Input     json.RawMessage `gorm:"type:jsonb"`
	Output    json.RawMessage `gorm:"type:jsonb"`
	Success   bool
	CreatedAt time.Time
}

func (SubagentRunModel) TableName() string { return "subagent_runs" }

// PlanCandidateModel maps to the "plan_candidates" table.
type PlanCandidateModel struct {
	ID                 uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TenantID           uuid.UUID       `gorm:"type:uuid;not null;index"`
	TaskID             string          `gorm:"not null;index"`
	RiskScore          float64         `gorm:"not null;default:0"`
	EstimatedCostCents float64         `gorm:"not null;default:0"`
	LifeImpact         float64         `gorm:"not null;default:0"`
	GapPriority        float64         `gorm:"not null;default:0"`
	Body               json.RawMessage `gorm:"type:jsonb"`
	CreatedAt          time.Time
}

func (PlanCandidateModel) TableName() string { return "plan_candidates" }

// ConsensusModel maps to the "consensus_records" table.
// IdempotencyKey is NULL for audit-append rows; the composite unique index
// makes a (tenant, task, key) triple insert-once so a racing get-then-create
// cannot write duplicates.
type ConsensusModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID       uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_consensus_tenant_task_key"`
	TaskID         string    `gorm:"not null;index;uniqueIndex:idx_consensus_tenant_task_key"`
	ChosenPlanID   uuid.UUID `gorm:"type:uuid;not null"`
	Confidence     int       `gorm:"not null;default:0"`
	Reasoning      string
	Alternatives   json.RawMessage `gorm:"type:jsonb"`
	IdempotencyKey *string         `gorm:"uniqueIndex:idx_consensus_tenant_task_key"`
	CreatedAt      time.Time
}

func (ConsensusModel) TableName() string { return "consensus_records" }

// EthicsPolicyModel maps to the "ethics_policies" table. One row per tenant.
type EthicsPolicyModel struct {
	TenantID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	LifeImpact     float64   `gorm:"not null;default:0.3"`
	GapPriority    float64   `gorm:"not null;default:0.3"`
	RiskAvoidance  float64   `gorm:"not null;default:0.2"`
	CostEfficiency float64   `gorm:"not null;default:0.2"`
	UpdatedAt      time.Time
}

func (EthicsPolicyModel) TableName() string { return "ethics_policies" }

// IncidentModel maps to the "incidents" table.
type IncidentModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID   uuid.UUID `gorm:"type:uuid;not null;index"`
	Severity   string    `gorm:"not null"`
	Source     string    `gorm:"not null"`
	Summary    string
	Detail     json.RawMessage `gorm:"type:jsonb"`
	Resolved   bool            `gorm:"not null;default:false;index"`
	ResolvedBy string
	ResolvedAt *time.Time
	CreatedAt  time.Time `gorm:"index"`
}

func (IncidentModel) TableName() string { return "incidents" }

// ChangeProposalModel maps to the "change_proposals" table.
// TenantID is nullable: a NULL tenant means a global proposal.
type ChangeProposalModel struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TenantID      *uuid.UUID      `gorm:"type:uuid;index"`
	Topic         string          `gorm:"not null;index"`
	DryRunMetrics json.RawMessage `gorm:"type:jsonb"`
	Canary        json.RawMessage `gorm:"type:jsonb"`
	Status        string          `gorm:"not null;default:'canary';index"`
	RiskScore     float64         `gorm:"not null;default:0"`
	DecidedBy     string
	DecidedAt     *time.Time
	CreatedAt     time.Time `gorm:"index"`
}

func (ChangeProposalModel) TableName() string { return "change_proposals" }

// SelfImproveLogModel maps to the "self_improve_log" table.
type SelfImproveLogModel struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TenantID   uuid.UUID       `gorm:"type:uuid;not null;index"`
	ProposalID uuid.UUID       `gorm:"type:uuid;not null;index"`
	ChangeType string          `gorm:"not null"`
	Before     json.RawMessage `gorm:"type:jsonb"`
	After      json.RawMessage `gorm:"type:jsonb"`
	Rationale  string
	CreatedAt  time.Time
}

func (SelfImproveLogModel) TableName() string { return "self_improve_log" }

// OutcomeRatingModel maps to the "outcome_ratings" table.
type OutcomeRatingModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index"`
	TaskID    string    `gorm:"not null;index"`
	UserID    string    `gorm:"index"`
	Rating    int       `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"index"`
}

func (OutcomeRatingModel) TableName() string { return "outcome_ratings" }

// BudgetPolicyModel maps to the "budget_policies" table. One row per tenant.
type BudgetPolicyModel struct {
	TenantID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	DailyLimitCents int       `gorm:"not null;default:1000"`
	UpdatedAt       time.Time
}

func (BudgetPolicyModel) TableName() string { return "budget_policies" }

// LedgerEntryModel maps to the "action_ledger" table. Append-only.
type LedgerEntryModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index"`
	Topic     string    `gorm:"not null;index"`
	Actor     string
	Payload   json.RawMessage `gorm:"type:jsonb"`
	CostCents float64         `gorm:"not null;default:0"`
	CreatedAt time.Time       `gorm:"index"`
}

func (LedgerEntryModel) TableName() string { return "action_ledger" }

// ControlFlagsModel maps to the "control_flags" table. One row per tenant.
type ControlFlagsModel struct {
	TenantID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	GlobalPause          bool      `gorm:"not null;default:false"`
	WriteFreeze          bool      `gorm:"not null;default:false"`
	ExternalCallsEnabled bool      `gorm:"not null;default:true"`
	LastReason           string
	LastChangedBy        string
	ChangedAt            time.Time
}

func (ControlFlagsModel) TableName() string { return "control_flags" }

// KillEventModel maps to the "kill_events" table. Append-only.
type KillEventModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID    uuid.UUID `gorm:"type:uuid;not null;index"`
	Level       string    `gorm:"not null"`
	Key         string
	Action      string `gorm:"not null"`
	RequestedBy string
	Reason      string
	CreatedAt   time.Time `gorm:"index"`
}

func (KillEventModel) TableName() string { return "kill_events" }
