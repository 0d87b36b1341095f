// Package budget guards per-tenant daily spend. The remaining balance is
// derived from the action ledger rather than a mutable counter, so a
// crashed process never leaks budget.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/domain"
)

// PolicyStore loads per-tenant budget policies.
type PolicyStore interface {
	GetBudgetPolicy(ctx context.Context, tenantID uuid.UUID) (*domain.BudgetPolicy, error)
}

// SpendReader reports the tenant's spend for the current period. Satisfied
// by ledger.Recorder.
type SpendReader interface {
	SpentToday(ctx context.Context, tenantID uuid.UUID) (float64, error)
}

// Decision is the outcome of a budget check.
type Decision struct {
	Allowed        bool    `json:"allowed"`
	RemainingCents float64 `json:"remaining_cents"`
	LimitCents     float64 `json:"limit_cents"`
	SpentCents     float64 `json:"spent_cents"`
	Reason         string  `json:"reason,omitempty"`
}

// Guard checks projected spend against the tenant's daily limit.
type Guard struct {
	policies PolicyStore
	spend    SpendReader
	logger   *slog.Logger

	defaultLimit float64
}

// NewGuard creates a Guard. defaultLimit applies to tenants without an
// explicit policy.
func NewGuard(policies PolicyStore, spend SpendReader, defaultLimit float64, logger *slog.Logger) *Guard {
	return &Guard{
		policies:     policies,
		spend:        spend,
		logger:       logger,
		defaultLimit: defaultLimit,
	}
}

// Check decides whether an action with the given projected cost may
// proceed. With hardBlock an overrun or an unreadable policy/ledger
// denies; otherwise the check is advisory and allows with a reason.
func (g *Guard) Check(ctx context.Context, tenantID uuid.UUID, projectedCents float64, hardBlock bool) Decision {
	limit := g.defaultLimit
	policy, err := g.policies.GetBudgetPolicy(ctx, tenantID)
	if err != nil {
		return g.degraded(ctx, tenantID, fmt.Sprintf("budget policy unavailable: %v", err), hardBlock)
	}
	if policy != nil && policy.DailyLimitCents > 0 {
		limit = float64(policy.DailyLimitCents)
	}

	spent, err := g.spend.SpentToday(ctx, tenantID)
	if err != nil {
		return g.degraded(ctx, tenantID, fmt.Sprintf("ledger unavailable: %v", err), hardBlock)
	}

	remaining := limit - spent
	d := Decision{
		RemainingCents: remaining,
		LimitCents:     limit,
		SpentCents:     spent,
	}
	if remaining < projectedCents || remaining <= 0 {
		d.Reason = fmt.Sprintf("projected cost %.0fc exceeds remaining daily budget %.0fc", projectedCents, remaining)
		g.logger.WarnContext(ctx, "budget check over limit",
			slog.String("tenant_id", tenantID.String()),
			slog.Float64("projected_cents", projectedCents),
			slog.Float64("remaining_cents", remaining),
			slog.Bool("hard_block", hardBlock),
		)
		// Advisory mode reports the overrun but never blocks.
		d.Allowed = !hardBlock
		return d
	}
	d.Allowed = true
	return d
}

// Remaining returns the tenant's remaining daily budget in cents.
func (g *Guard) Remaining(ctx context.Context, tenantID uuid.UUID) (float64, error) {
	limit := g.defaultLimit
	policy, err := g.policies.GetBudgetPolicy(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("loading budget policy: %w", err)
	}
	if policy != nil && policy.DailyLimitCents > 0 {
		limit = float64(policy.DailyLimitCents)
	}
	spent, err := g.spend.SpentToday(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("reading ledger spend: %w", err)
	}
	return limit - spent, nil
}

// degraded produces the decision for an unreadable policy or ledger. Hard
// blocking fails closed; advisory mode allows and carries the reason.
func (g *Guard) degraded(ctx context.Context, tenantID uuid.UUID, reason string, hardBlock bool) Decision {
	g.logger.WarnContext(ctx, "budget check degraded",
		slog.String("tenant_id", tenantID.String()),
		slog.String("reason", reason),
		slog.Bool("hard_block", hardBlock),
	)
	return Decision{
		Allowed: !hardBlock,
		Reason:  reason,
	}
}

// WindowStart returns the UTC day boundary the spend derivation uses.
// Exposed for handlers that report the accounting period.
func WindowStart(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour)
}
