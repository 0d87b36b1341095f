// Package ethics implements the policy gate that decides whether a plan
// may execute autonomously. The gate is a pure function of its inputs and
// the tenant's policy; its sole side effect is the Incident it files when
// a human needs to look.
package ethics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/domain"
)

// IncidentSource tags incidents created by the gate.
const IncidentSource = "verify_output"

// Store is the persistence interface for policies and incidents.
type Store interface {
	// GetEthicsPolicy returns the tenant's policy, or nil when unset.
	GetEthicsPolicy(ctx context.Context, tenantID uuid.UUID) (*domain.EthicsPolicy, error)
	SaveEthicsPolicy(ctx context.Context, policy *domain.EthicsPolicy) error
	CreateIncident(ctx context.Context, inc *domain.Incident) error
	ListIncidents(ctx context.Context, tenantID uuid.UUID, onlyOpen bool, limit int) ([]domain.Incident, error)
	ResolveIncident(ctx context.Context, tenantID, id uuid.UUID, resolvedBy string) error
}

// Escalator delivers incident notifications to humans. Satisfied by
// notification.Dispatcher.
type Escalator interface {
	Escalate(ctx context.Context, inc *domain.Incident) error
}

// PlanInput carries the plan factors under review. Pointer fields
// distinguish absent values, which take documented defaults.
type PlanInput struct {
	LifeImpact         *float64 `json:"life_impact,omitempty"`
	GapPriority        *float64 `json:"gap_priority,omitempty"`
	RiskScore          *float64 `json:"risk_score,omitempty"`
	EstimatedCostCents *float64 `json:"estimated_cost_cents,omitempty"`
	Summary            string   `json:"summary,omitempty"`
}

// Defaults applied to absent plan factors.
const (
	DefaultLifeImpact  = 0.7
	DefaultGapPriority = 0.7
	DefaultRiskScore   = 30.0
	DefaultCostCents   = 100.0
)

// Verdict is the gate's decision. Denials are results, not errors; callers
// branch on the fields.
type Verdict struct {
	Allowed     bool    `json:"allowed"`
	NeedsHuman  bool    `json:"needs_human"`
	EthicsScore float64 `json:"ethics_score"`
	IncidentID  string  `json:"incident_id,omitempty"`
}

// Gate evaluates plans against the tenant's ethics policy.
type Gate struct {
	store     Store
	escalator Escalator
	metrics   *Metrics
	logger    *slog.Logger
	config    config.EthicsConfig
}

// NewGate creates a Gate. escalator may be nil to disable notifications.
func NewGate(store Store, escalator Escalator, cfg config.EthicsConfig, metrics *Metrics, logger *slog.Logger) *Gate {
	return &Gate{store: store, escalator: escalator, config: cfg, metrics: metrics, logger: logger}
}

// DefaultWeights returns the factor weights used when a tenant has no
// policy row.
func DefaultWeights() domain.EthicsWeights {
	return domain.EthicsWeights{
		LifeImpact:     0.3,
		GapPriority:    0.3,
		RiskAvoidance:  0.2,
		CostEfficiency: 0.2,
	}
}

// Verify scores the plan and decides whether it may run autonomously.
// When a human review is needed, exactly one Incident is filed; the gate
// never blocks or retries on its own.
func (g *Gate) Verify(ctx context.Context, tenantID uuid.UUID, plan PlanInput) (*Verdict, error) {
	weights := DefaultWeights()
	policy, err := g.store.GetEthicsPolicy(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading ethics policy: %w", err)
	}
	if policy != nil {
		weights = policy.Weights
	}

	lifeImpact := valueOr(plan.LifeImpact, DefaultLifeImpact)
	gapPriority := valueOr(plan.GapPriority, DefaultGapPriority)
	riskScore := valueOr(plan.RiskScore, DefaultRiskScore)
	costCents := valueOr(plan.EstimatedCostCents, DefaultCostCents)

	riskAvoidance := 1 - riskScore/100
	costRatio := costCents / g.config.CostCeiling()
	if costRatio > 1 {
		costRatio = 1
	}
	costEfficiency := 1 - costRatio

	score := weights.LifeImpact*lifeImpact +
		weights.GapPriority*gapPriority +
		weights.RiskAvoidance*riskAvoidance +
		weights.CostEfficiency*costEfficiency

	allowed := score >= g.config.Threshold() && riskScore <= g.config.MaxRisk()
	needsHuman := costCents > g.config.HumanCost() || riskScore > g.config.HumanRisk() || !allowed

	v := &Verdict{Allowed: allowed, NeedsHuman: needsHuman, EthicsScore: score}

	if needsHuman {
		inc := &domain.Incident{
			ID:        uuid.New(),
			TenantID:  tenantID,
			Severity:  domain.IncidentSeverityMedium,
			Source:    IncidentSource,
			Summary:   fmt.Sprintf("plan needs human review (score %.2f, risk %.0f, cost %.0fc)", score, riskScore, costCents),
			CreatedAt: time.Now().UTC(),
		}
		inc.Detail, _ = json.Marshal(map[string]any{
			"life_impact":          lifeImpact,
			"gap_priority":         gapPriority,
			"risk_score":           riskScore,
			"estimated_cost_cents": costCents,
			"ethics_score":         score,
			"allowed":              allowed,
			"plan_summary":         plan.Summary,
		})
		if err := g.store.CreateIncident(ctx, inc); err != nil {
			return nil, fmt.Errorf("filing incident: %w", err)
		}
		v.IncidentID = inc.ID.String()

		if g.metrics != nil {
			g.metrics.IncidentsFiled.Inc()
		}
		g.logger.WarnContext(ctx, "plan escalated to human review",
			slog.String("tenant_id", tenantID.String()),
			slog.String("incident_id", inc.ID.String()),
			slog.Float64("ethics_score", score),
			slog.Bool("allowed", allowed),
		)

		// Escalation delivery is best-effort; the incident row is the
		// durable trace.
		if g.escalator != nil {
			if escErr := g.escalator.Escalate(ctx, inc); escErr != nil {
				g.logger.WarnContext(ctx, "incident escalation delivery failed",
					slog.String("incident_id", inc.ID.String()),
					slog.String("error", escErr.Error()),
				)
			}
		}
	}

	if g.metrics != nil {
		g.metrics.Verifications.Inc()
		if !allowed {
			g.metrics.Denials.Inc()
		}
	}

	return v, nil
}

// Incidents lists the tenant's incidents, optionally only unresolved ones.
func (g *Gate) Incidents(ctx context.Context, tenantID uuid.UUID, onlyOpen bool, limit int) ([]domain.Incident, error) {
	incidents, err := g.store.ListIncidents(ctx, tenantID, onlyOpen, limit)
	if err != nil {
		return nil, fmt.Errorf("listing incidents: %w", err)
	}
	return incidents, nil
}

// Resolve marks an incident handled by the named human.
func (g *Gate) Resolve(ctx context.Context, tenantID, id uuid.UUID, resolvedBy string) error {
	if resolvedBy == "" {
		return fmt.Errorf("resolved_by is required")
	}
	if err := g.store.ResolveIncident(ctx, tenantID, id, resolvedBy); err != nil {
		return fmt.Errorf("resolving incident: %w", err)
	}
	g.logger.InfoContext(ctx, "incident resolved",
		slog.String("incident_id", id.String()),
		slog.String("resolved_by", resolvedBy),
	)
	return nil
}

// SetPolicy replaces the tenant's factor weights.
func (g *Gate) SetPolicy(ctx context.Context, tenantID uuid.UUID, weights domain.EthicsWeights) error {
	policy := &domain.EthicsPolicy{
		TenantID:  tenantID,
		Weights:   weights,
		UpdatedAt: time.Now().UTC(),
	}
	if err := g.store.SaveEthicsPolicy(ctx, policy); err != nil {
		return fmt.Errorf("saving ethics policy: %w", err)
	}
	return nil
}

// Policy returns the tenant's effective weights, falling back to defaults.
func (g *Gate) Policy(ctx context.Context, tenantID uuid.UUID) (domain.EthicsWeights, error) {
	policy, err := g.store.GetEthicsPolicy(ctx, tenantID)
	if err != nil {
		return domain.EthicsWeights{}, fmt.Errorf("loading ethics policy: %w", err)
	}
	if policy == nil {
		return DefaultWeights(), nil
	}
	return policy.Weights, nil
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
