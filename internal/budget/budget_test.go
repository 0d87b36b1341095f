package budget

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/domain"
)

type fakePolicies struct {
	policy *domain.BudgetPolicy
	err    error
}

func (f *fakePolicies) GetBudgetPolicy(ctx context.Context, tenantID uuid.UUID) (*domain.BudgetPolicy, error) {
	return f.policy, f.err
}

type fakeSpend struct {
	spent float64
	err   error
}

func (f *fakeSpend) SpentToday(ctx context.Context, tenantID uuid.UUID) (float64, error) {
	return f.spent, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCheck_WithinBudget(t *testing.T) {
	g := NewGuard(&fakePolicies{}, &fakeSpend{spent: 200}, 1000, testLogger())

	d := g.Check(context.Background(), uuid.New(), 300, false)
	if !d.Allowed {
		t.Fatalf("expected allowed, got %+v", d)
	}
	if d.RemainingCents != 800 {
		t.Errorf("expected remaining 800, got %v", d.RemainingCents)
	}
}

func TestCheck_ExceedsBudgetHardBlock(t *testing.T) {
	g := NewGuard(&fakePolicies{}, &fakeSpend{spent: 950}, 1000, testLogger())

	d := g.Check(context.Background(), uuid.New(), 100, true)
	if d.Allowed {
		t.Fatalf("expected denied, got %+v", d)
	}
	if d.Reason == "" {
		t.Error("denial should carry a reason")
	}
}

func TestCheck_ExceedsBudgetAdvisory(t *testing.T) {
	g := NewGuard(&fakePolicies{}, &fakeSpend{spent: 950}, 1000, testLogger())

	d := g.Check(context.Background(), uuid.New(), 100, false)
	if !d.Allowed {
		t.Fatalf("advisory mode should allow, got %+v", d)
	}
	if d.Reason == "" {
		t.Error("overrun should still carry a reason")
	}
}

func TestCheck_ModeIsPerCall(t *testing.T) {
	// The same guard serves both modes; the caller picks per check.
	g := NewGuard(&fakePolicies{}, &fakeSpend{spent: 950}, 1000, testLogger())

	if d := g.Check(context.Background(), uuid.New(), 100, true); d.Allowed {
		t.Fatalf("hard check should deny the overrun, got %+v", d)
	}
	if d := g.Check(context.Background(), uuid.New(), 100, false); !d.Allowed {
		t.Fatalf("advisory check on the same guard should allow, got %+v", d)
	}
}

func TestCheck_ExhaustedHardBlock(t *testing.T) {
	g := NewGuard(&fakePolicies{}, &fakeSpend{spent: 1000}, 1000, testLogger())

	d := g.Check(context.Background(), uuid.New(), 0, true)
	if d.Allowed {
		t.Fatal("zero remaining budget should deny under hard block")
	}
}

func TestCheck_TenantPolicyOverridesDefault(t *testing.T) {
	policies := &fakePolicies{policy: &domain.BudgetPolicy{DailyLimitCents: 5000}}
	g := NewGuard(policies, &fakeSpend{spent: 2000}, 1000, testLogger())

	d := g.Check(context.Background(), uuid.New(), 1500, false)
	if !d.Allowed {
		t.Fatalf("expected allowed under tenant limit, got %+v", d)
	}
	if d.LimitCents != 5000 {
		t.Errorf("expected limit 5000, got %v", d.LimitCents)
	}
}

func TestCheck_LedgerFailureHardBlock(t *testing.T) {
	g := NewGuard(&fakePolicies{}, &fakeSpend{err: errors.New("db down")}, 1000, testLogger())

	d := g.Check(context.Background(), uuid.New(), 10, true)
	if d.Allowed {
		t.Fatal("hard block should fail closed when the ledger is unreadable")
	}
}

func TestCheck_LedgerFailureAdvisory(t *testing.T) {
	g := NewGuard(&fakePolicies{}, &fakeSpend{err: errors.New("db down")}, 1000, testLogger())

	d := g.Check(context.Background(), uuid.New(), 10, false)
	if !d.Allowed {
		t.Fatal("advisory mode should allow when the ledger is unreadable")
	}
	if d.Reason == "" {
		t.Error("degraded decision should carry a reason")
	}
}

func TestRemaining(t *testing.T) {
	g := NewGuard(&fakePolicies{}, &fakeSpend{spent: 400}, 1000, testLogger())

	remaining, err := g.Remaining(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if remaining != 600 {
		t.Errorf("expected 600, got %v", remaining)
	}
}
