package ethics

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/domain"
)

type fakeStore struct {
	policy    *domain.EthicsPolicy
	incidents []domain.Incident
}

func (f *fakeStore) GetEthicsPolicy(ctx context.Context, tenantID uuid.UUID) (*domain.EthicsPolicy, error) {
	return f.policy, nil
}

func (f *fakeStore) SaveEthicsPolicy(ctx context.Context, policy *domain.EthicsPolicy) error {
	f.policy = policy
	return nil
}

func (f *fakeStore) CreateIncident(ctx context.Context, inc *domain.Incident) error {
	f.incidents = append(f.incidents, *inc)
	return nil
}

func (f *fakeStore) ListIncidents(ctx context.Context, tenantID uuid.UUID, onlyOpen bool, limit int) ([]domain.Incident, error) {
	return f.incidents, nil
}

func (f *fakeStore) ResolveIncident(ctx context.Context, tenantID, id uuid.UUID, resolvedBy string) error {
	for i := range f.incidents {
		if f.incidents[i].ID == id {
			f.incidents[i].Resolved = true
			f.incidents[i].ResolvedBy = resolvedBy
		}
	}
	return nil
}

type fakeEscalator struct {
	calls int
}

func (f *fakeEscalator) Escalate(ctx context.Context, inc *domain.Incident) error {
	f.calls++
	return nil
}

func testGate(store Store, esc Escalator) *Gate {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewGate(store, esc, config.EthicsConfig{}, nil, logger)
}

func ptr(v float64) *float64 { return &v }

func TestVerify_BenignPlanAllowed(t *testing.T) {
	store := &fakeStore{}
	g := testGate(store, nil)

	v, err := g.Verify(context.Background(), uuid.New(), PlanInput{
		LifeImpact:         ptr(0.9),
		GapPriority:        ptr(0.9),
		RiskScore:          ptr(10),
		EstimatedCostCents: ptr(50),
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	// 0.3*0.9 + 0.3*0.9 + 0.2*0.9 + 0.2*0.95 = 0.88.
	if math.Abs(v.EthicsScore-0.88) > 1e-9 {
		t.Errorf("expected score 0.88, got %v", v.EthicsScore)
	}
	if !v.Allowed || v.NeedsHuman {
		t.Errorf("expected allowed without review, got %+v", v)
	}
	if len(store.incidents) != 0 {
		t.Errorf("no incident expected, got %d", len(store.incidents))
	}
}

func TestVerify_ExpensivePlanNeedsHuman(t *testing.T) {
	store := &fakeStore{}
	esc := &fakeEscalator{}
	g := testGate(store, esc)

	v, err := g.Verify(context.Background(), uuid.New(), PlanInput{
		LifeImpact:         ptr(0.9),
		GapPriority:        ptr(0.9),
		RiskScore:          ptr(10),
		EstimatedCostCents: ptr(600),
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !v.NeedsHuman {
		t.Fatal("cost over 500 must need a human")
	}
	if len(store.incidents) != 1 {
		t.Fatalf("expected exactly one incident, got %d", len(store.incidents))
	}
	inc := store.incidents[0]
	if inc.Severity != domain.IncidentSeverityMedium || inc.Source != IncidentSource {
		t.Errorf("unexpected incident shape: %+v", inc)
	}
	if esc.calls != 1 {
		t.Errorf("expected 1 escalation, got %d", esc.calls)
	}
}

func TestVerify_HighRiskDenied(t *testing.T) {
	store := &fakeStore{}
	g := testGate(store, nil)

	v, err := g.Verify(context.Background(), uuid.New(), PlanInput{
		RiskScore: ptr(70),
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if v.Allowed {
		t.Error("risk over 60 must be denied")
	}
	if !v.NeedsHuman {
		t.Error("denial implies human review")
	}
}

func TestVerify_DefaultsApplied(t *testing.T) {
	store := &fakeStore{}
	g := testGate(store, nil)

	// Absent factors default to life 0.7, gap 0.7, risk 30, cost 100.
	v, err := g.Verify(context.Background(), uuid.New(), PlanInput{})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	want := 0.3*0.7 + 0.3*0.7 + 0.2*0.7 + 0.2*0.9
	if math.Abs(v.EthicsScore-want) > 1e-9 {
		t.Errorf("expected score %v, got %v", want, v.EthicsScore)
	}
	if !v.Allowed {
		t.Error("default inputs should pass the gate")
	}
	// Default risk of 30 sits exactly at the review threshold, not above.
	if v.NeedsHuman {
		t.Error("default inputs should not need review")
	}
}

func TestVerify_TenantWeightsOverrideDefaults(t *testing.T) {
	store := &fakeStore{policy: &domain.EthicsPolicy{Weights: domain.EthicsWeights{
		LifeImpact:     1.0,
		GapPriority:    0,
		RiskAvoidance:  0,
		CostEfficiency: 0,
	}}}
	g := testGate(store, nil)

	v, err := g.Verify(context.Background(), uuid.New(), PlanInput{
		LifeImpact: ptr(0.5),
		RiskScore:  ptr(10),
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if math.Abs(v.EthicsScore-0.5) > 1e-9 {
		t.Errorf("expected score 0.5 under custom weights, got %v", v.EthicsScore)
	}
}

func TestVerify_Deterministic(t *testing.T) {
	g := testGate(&fakeStore{}, nil)
	in := PlanInput{RiskScore: ptr(20), EstimatedCostCents: ptr(200)}

	a, _ := g.Verify(context.Background(), uuid.New(), in)
	b, _ := g.Verify(context.Background(), uuid.New(), in)
	if a.Allowed != b.Allowed || a.NeedsHuman != b.NeedsHuman || a.EthicsScore != b.EthicsScore {
		t.Errorf("identical inputs must produce identical verdicts: %+v vs %+v", a, b)
	}
}

func TestResolve(t *testing.T) {
	store := &fakeStore{}
	g := testGate(store, nil)

	tenant := uuid.New()
	g.Verify(context.Background(), tenant, PlanInput{EstimatedCostCents: ptr(900)})
	if len(store.incidents) != 1 {
		t.Fatal("setup: expected one incident")
	}

	if err := g.Resolve(context.Background(), tenant, store.incidents[0].ID, "ops@example.com"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !store.incidents[0].Resolved || store.incidents[0].ResolvedBy != "ops@example.com" {
		t.Errorf("incident not resolved: %+v", store.incidents[0])
	}

	if err := g.Resolve(context.Background(), tenant, store.incidents[0].ID, ""); err == nil {
		t.Error("expected error for empty resolved_by")
	}
}
