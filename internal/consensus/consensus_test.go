package consensus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/domain"
)

type fakeStore struct {
	candidates []domain.PlanCandidate
	written    []domain.Consensus
}

func (f *fakeStore) ListCandidates(ctx context.Context, tenantID uuid.UUID, taskID string) ([]domain.PlanCandidate, error) {
	return f.candidates, nil
}

func (f *fakeStore) CreateConsensus(ctx context.Context, c *domain.Consensus) error {
	f.written = append(f.written, *c)
	return nil
}

func (f *fakeStore) GetConsensusByKey(ctx context.Context, tenantID uuid.UUID, taskID, key string) (*domain.Consensus, error) {
	for i := range f.written {
		if f.written[i].TaskID == taskID && f.written[i].IdempotencyKey == key {
			return &f.written[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListConsensus(ctx context.Context, tenantID uuid.UUID, taskID string) ([]domain.Consensus, error) {
	return f.written, nil
}

func testSelector(store Store) *Selector {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSelector(store, config.ConsensusConfig{}, nil, logger)
}

func candidate(risk, cost float64) domain.PlanCandidate {
	return domain.PlanCandidate{ID: uuid.New(), RiskScore: risk, EstimatedCostCents: cost}
}

func TestSelect_LowerRiskWins(t *testing.T) {
	low := candidate(10, 100)
	high := candidate(80, 100)
	store := &fakeStore{candidates: []domain.PlanCandidate{low, high}}
	s := testSelector(store)

	c, err := s.Select(context.Background(), uuid.New(), "task-1", "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if c.ChosenPlanID != low.ID {
		t.Errorf("expected low-risk plan chosen, got %s", c.ChosenPlanID)
	}
	if c.Confidence > 95 {
		t.Errorf("confidence must be capped at 95, got %d", c.Confidence)
	}
}

func TestSelect_ConfidenceCapped(t *testing.T) {
	// risk 0, cost 0 scores exactly 100; confidence still caps at 95.
	store := &fakeStore{candidates: []domain.PlanCandidate{candidate(0, 0)}}
	s := testSelector(store)

	c, err := s.Select(context.Background(), uuid.New(), "task-1", "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if c.Confidence != 95 {
		t.Errorf("expected confidence 95, got %d", c.Confidence)
	}
}

func TestSelect_AlternativesAreNextTwoByScore(t *testing.T) {
	best := candidate(5, 50)
	second := candidate(20, 50)
	third := candidate(40, 50)
	fourth := candidate(90, 900)
	store := &fakeStore{candidates: []domain.PlanCandidate{third, best, fourth, second}}
	s := testSelector(store)

	c, err := s.Select(context.Background(), uuid.New(), "task-1", "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if c.ChosenPlanID != best.ID {
		t.Fatalf("expected best plan chosen")
	}
	if len(c.Alternatives) != 2 {
		t.Fatalf("expected 2 alternatives, got %d", len(c.Alternatives))
	}
	if c.Alternatives[0].PlanID != second.ID || c.Alternatives[1].PlanID != third.ID {
		t.Errorf("alternatives out of order: %+v", c.Alternatives)
	}
}

func TestSelect_TieBreakKeepsInputOrder(t *testing.T) {
	first := candidate(30, 200)
	twin := candidate(30, 200)
	store := &fakeStore{candidates: []domain.PlanCandidate{first, twin}}
	s := testSelector(store)

	c, err := s.Select(context.Background(), uuid.New(), "task-1", "")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if c.ChosenPlanID != first.ID {
		t.Errorf("tie must resolve to first-seen candidate")
	}
}

func TestSelect_NoCandidates(t *testing.T) {
	s := testSelector(&fakeStore{})

	_, err := s.Select(context.Background(), uuid.New(), "task-1", "")
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
}

func TestSelect_RerunAppendsAuditRow(t *testing.T) {
	store := &fakeStore{candidates: []domain.PlanCandidate{candidate(10, 100)}}
	s := testSelector(store)

	tenant := uuid.New()
	s.Select(context.Background(), tenant, "task-1", "")
	s.Select(context.Background(), tenant, "task-1", "")
	if len(store.written) != 2 {
		t.Errorf("re-runs should append rows, got %d", len(store.written))
	}
}

func TestSelect_IdempotencyKeyReturnsExisting(t *testing.T) {
	store := &fakeStore{candidates: []domain.PlanCandidate{candidate(10, 100)}}
	s := testSelector(store)

	tenant := uuid.New()
	first, err := s.Select(context.Background(), tenant, "task-1", "key-1")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	second, err := s.Select(context.Background(), tenant, "task-1", "key-1")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("same idempotency key must return the same consensus")
	}
	if len(store.written) != 1 {
		t.Errorf("expected a single row, got %d", len(store.written))
	}
}

func TestSelect_IdempotencyKeyScopedPerTask(t *testing.T) {
	store := &fakeStore{candidates: []domain.PlanCandidate{candidate(10, 100)}}
	s := testSelector(store)

	tenant := uuid.New()
	first, err := s.Select(context.Background(), tenant, "task-a", "shared-key")
	if err != nil {
		t.Fatalf("Select task-a: %v", err)
	}
	second, err := s.Select(context.Background(), tenant, "task-b", "shared-key")
	if err != nil {
		t.Fatalf("Select task-b: %v", err)
	}
	if second.ID == first.ID {
		t.Errorf("key reuse across tasks must not return the other task's consensus")
	}
	if second.TaskID != "task-b" {
		t.Errorf("expected consensus for task-b, got %q", second.TaskID)
	}
	if len(store.written) != 2 {
		t.Errorf("each task should get its own row, got %d", len(store.written))
	}
}

func TestScore_Formula(t *testing.T) {
	s := testSelector(&fakeStore{})
	// 100 - (40*0.6 + 200/20*0.4) = 100 - (24 + 4) = 72.
	got := s.Score(domain.PlanCandidate{RiskScore: 40, EstimatedCostCents: 200})
	if got != 72 {
		t.Errorf("expected 72, got %v", got)
	}
}
