package postgres

import (
	"encoding/json"

	"github.com/stewardhq/steward/internal/domain"
)

// --- Cron job definitions ---

func toCronJobModel(def *domain.CronJobDefinition) CronJobDefinitionModel {
	return CronJobDefinitionModel{
		ID:             def.ID,
		TenantID:       def.TenantID,
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

func toCronJobDomain(m *CronJobDefinitionModel) *domain.CronJobDefinition {
	return &domain.CronJobDefinition{
		ID:             m.ID,
		TenantID:       m.TenantID,
		Topic:          m.Topic,
		CronExpression: m.CronExpression,
		Payload:        m.Payload,
		JitterSeconds:  m.JitterSeconds,
		Enabled:        m.Enabled,
		NextRunAt:      m.NextRunAt,
		LastRunAt:      m.LastRunAt,
		LastError:      m.LastError,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// --- Events ---

func toEventModel(ev *domain.Event) EventModel {
	return EventModel{
		ID:          ev.ID,
		TenantID:    ev.TenantID,
		Topic:       ev.Topic,
		Payload:     ev.Payload,
		Status:      ev.Status,
		Attempts:    ev.Attempts,
		MaxAttempts: ev.MaxAttempts,
		Error:       ev.Error,
		CreatedAt:   ev.CreatedAt,
		ClaimedAt:   ev.ClaimedAt,
		CompletedAt: ev.CompletedAt,
	}
}

func toEventDomain(m *EventModel) *domain.Event {
	return &domain.Event{
		ID:          m.ID,
		TenantID:    m.TenantID,
		Topic:       m.Topic,
		Payload:     m.Payload,
		Status:      m.Status,
		Attempts:    m.Attempts,
		MaxAttempts: m.MaxAttempts,
		Error:       m.Error,
		CreatedAt:   m.CreatedAt,
		ClaimedAt:   m.ClaimedAt,
		CompletedAt: m.CompletedAt,
	}
}

// --- Sub-agent runs and plans ---

func toRunModel(run *domain.SubagentRun) SubagentRunModel {
	return SubagentRunModel{
		ID:        run.ID,
		TenantID:  run.TenantID,
		TaskID:    run.TaskID,
		AgentName: run.AgentName,
		Input:     run.Input,
		Output:    run.Output,
		Success:   run.Success,
		CreatedAt: run.CreatedAt,
	}
}

func toRunDomain(m *SubagentRunModel) *domain.SubagentRun {
	return &domain.SubagentRun{
		ID:        m.ID,
		TenantID:  m.TenantID,
		TaskID:    m.TaskID,
		AgentName: m.AgentName,
		Input:     m.Input,
		Output:    m.Output,
		Success:   m.Success,
		CreatedAt: m.CreatedAt,
	}
}

func toCandidateModel(c *domain.PlanCandidate) PlanCandidateModel {
	return PlanCandidateModel{
		ID:                 c.ID,
		TenantID:           c.TenantID,
		TaskID:             c.TaskID,
		RiskScore:          c.RiskScore,
		EstimatedCostCents: c.EstimatedCostCents,
		LifeImpact:         c.LifeImpact,
		GapPriority:        c.GapPriority,
		Body:               c.Body,
		CreatedAt:          c.CreatedAt,
	}
}

func toCandidateDomain(m *PlanCandidateModel) *domain.PlanCandidate {
	return &domain.PlanCandidate{
		ID:                 m.ID,
		TenantID:           m.TenantID,
		TaskID:             m.TaskID,
		RiskScore:          m.RiskScore,
		EstimatedCostCents: m.EstimatedCostCents,
		LifeImpact:         m.LifeImpact,
		GapPriority:        m.GapPriority,
		Body:               m.Body,
		CreatedAt:          m.CreatedAt,
	}
}

func toConsensusModel(c *domain.Consensus) ConsensusModel {
	alternatives, _ := json.Marshal(c.Alternatives)
	// Audit-append rows carry no key; store NULL so the unique index
	// never collides repeats of the same task.
	var key *string
	if c.IdempotencyKey != "" {
		key = &c.IdempotencyKey
	}
	return ConsensusModel{
		ID:             c.ID,
		TenantID:       c.TenantID,
		TaskID:         c.TaskID,
		ChosenPlanID:   c.ChosenPlanID,
		Confidence:     c.Confidence,
		Reasoning:      c.Reasoning,
		Alternatives:   alternatives,
		IdempotencyKey: key,
		CreatedAt:      c.CreatedAt,
	}
}

func toConsensusDomain(m *ConsensusModel) *domain.Consensus {
	var alternatives []domain.RankedAlternative
	_ = json.Unmarshal(m.Alternatives, &alternatives)
	var key string
	if m.IdempotencyKey != nil {
		key = *m.IdempotencyKey
	}
	return &domain.Consensus{
		ID:             m.ID,
		TenantID:       m.TenantID,
		TaskID:         m.TaskID,
		ChosenPlanID:   m.ChosenPlanID,
		Confidence:     m.Confidence,
		Reasoning:      m.Reasoning,
		Alternatives:   alternatives,
		IdempotencyKey: key,
		CreatedAt:      m.CreatedAt,
	}
}

// --- Governance ---

func toPolicyModel(p *domain.EthicsPolicy) EthicsPolicyModel {
	return EthicsPolicyModel{
		TenantID:       p.TenantID,
		LifeImpact:     p.Weights.LifeImpact,
		GapPriority:    p.Weights.GapPriority,
		RiskAvoidance:  p.Weights.RiskAvoidance,
		CostEfficiency: p.Weights.CostEfficiency,
		UpdatedAt:      p.UpdatedAt,
	}
}

func toPolicyDomain(m *EthicsPolicyModel) *domain.EthicsPolicy {
	return &domain.EthicsPolicy{
		TenantID: m.TenantID,
		Weights: domain.EthicsWeights{
			LifeImpact:     m.LifeImpact,
			GapPriority:    m.GapPriority,
			RiskAvoidance:  m.RiskAvoidance,
			CostEfficiency: m.CostEfficiency,
		},
		UpdatedAt: m.UpdatedAt,
	}
}

func toIncidentModel(inc *domain.Incident) IncidentModel {
	return IncidentModel{
		ID:         inc.ID,
		TenantID:   inc.TenantID,
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

func toIncidentDomain(m *IncidentModel) *domain.Incident {
	return &domain.Incident{
		ID:         m.ID,
		TenantID:   m.TenantID,
		Severity:   m.Severity,
		Source:     m.Source,
		Summary:    m.Summary,
		Detail:     m.Detail,
		Resolved:   m.Resolved,
		ResolvedBy: m.ResolvedBy,
		ResolvedAt: m.ResolvedAt,
		CreatedAt:  m.CreatedAt,
	}
}

// --- Self-improvement ---

func toProposalModel(p *domain.ChangeProposal) ChangeProposalModel {
	canary, _ := json.Marshal(p.Canary)
	return ChangeProposalModel{
		ID:            p.ID,
		TenantID:      p.TenantID,
		Topic:         p.Topic,
		DryRunMetrics: p.DryRunMetrics,
		Canary:        canary,
		Status:        p.Status,
		RiskScore:     p.RiskScore,
		DecidedBy:     p.DecidedBy,
		DecidedAt:     p.DecidedAt,
		CreatedAt:     p.CreatedAt,
	}
}

func toProposalDomain(m *ChangeProposalModel) *domain.ChangeProposal {
	var canary domain.Canary
	_ = json.Unmarshal(m.Canary, &canary)
	return &domain.ChangeProposal{
		ID:            m.ID,
		TenantID:      m.TenantID,
		Topic:         m.Topic,
		DryRunMetrics: m.DryRunMetrics,
		Canary:        canary,
		Status:        m.Status,
		RiskScore:     m.RiskScore,
		DecidedBy:     m.DecidedBy,
		DecidedAt:     m.DecidedAt,
		CreatedAt:     m.CreatedAt,
	}
}

func toLogModel(e *domain.SelfImproveLogEntry) SelfImproveLogModel {
	return SelfImproveLogModel{
		ID:         e.ID,
		TenantID:   e.TenantID,
		ProposalID: e.ProposalID,
		ChangeType: e.ChangeType,
		Before:     e.Before,
		After:      e.After,
		Rationale:  e.Rationale,
		CreatedAt:  e.CreatedAt,
	}
}

func toRatingDomain(m *OutcomeRatingModel) *domain.OutcomeRating {
	return &domain.OutcomeRating{
		ID:        m.ID,
		TenantID:  m.TenantID,
		TaskID:    m.TaskID,
		UserID:    m.UserID,
		Rating:    m.Rating,
		CreatedAt: m.CreatedAt,
	}
}

// --- Budget and ledger ---

func toLedgerModel(e *domain.LedgerEntry) LedgerEntryModel {
	return LedgerEntryModel{
		ID:        e.ID,
		TenantID:  e.TenantID,
		Topic:     e.Topic,
		Actor:     e.Actor,
		Payload:   e.Payload,
		CostCents: e.CostCents,
		CreatedAt: e.CreatedAt,
	}
}

func toLedgerDomain(m *LedgerEntryModel) *domain.LedgerEntry {
	return &domain.LedgerEntry{
		ID:        m.ID,
		TenantID:  m.TenantID,
		Topic:     m.Topic,
		Actor:     m.Actor,
		Payload:   m.Payload,
		CostCents: m.CostCents,
		CreatedAt: m.CreatedAt,
	}
}

// --- Control plane ---

func toFlagsModel(f *domain.ControlFlags) ControlFlagsModel {
	return ControlFlagsModel{
		TenantID:             f.TenantID,
		GlobalPause:          f.GlobalPause,
		WriteFreeze:          f.WriteFreeze,
		ExternalCallsEnabled: f.ExternalCallsEnabled,
		LastReason:           f.LastReason,
		LastChangedBy:        f.LastChangedBy,
		ChangedAt:            f.ChangedAt,
	}
}

func toFlagsDomain(m *ControlFlagsModel) *domain.ControlFlags {
	return &domain.ControlFlags{
		TenantID:             m.TenantID,
		GlobalPause:          m.GlobalPause,
		WriteFreeze:          m.WriteFreeze,
		ExternalCallsEnabled: m.ExternalCallsEnabled,
		LastReason:           m.LastReason,
		LastChangedBy:        m.LastChangedBy,
		ChangedAt:            m.ChangedAt,
	}
}

func toKillEventModel(k *domain.KillEvent) KillEventModel {
	return KillEventModel{
		ID:          k.ID,
		TenantID:    k.TenantID,
		Level:       k.Level,
		Key:         k.Key,
		Action:      k.Action,
		RequestedBy: k.RequestedBy,
		Reason:      k.Reason,
		CreatedAt:   k.CreatedAt,
	}
}
