package selfimprove

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/domain"
)

type fakeStore struct {
	ratings   []domain.OutcomeRating
	users     []string
	proposals map[uuid.UUID]*domain.ChangeProposal
	logs      []domain.SelfImproveLogEntry
	promoted  *domain.ChangeProposal
}

func newFakeStore() *fakeStore {
	return &fakeStore{proposals: make(map[uuid.UUID]*domain.ChangeProposal)}
}

func (f *fakeStore) ListRatingsSince(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]domain.OutcomeRating, error) {
	return f.ratings, nil
}

func (f *fakeStore) ListEligibleUsers(ctx context.Context, tenantID uuid.UUID) ([]string, error) {
	return f.users, nil
}

func (f *fakeStore) CreateProposal(ctx context.Context, p *domain.ChangeProposal) error {
	cp := *p
	f.proposals[p.ID] = &cp
	return nil
}

func (f *fakeStore) CreateLogEntry(ctx context.Context, e *domain.SelfImproveLogEntry) error {
	f.logs = append(f.logs, *e)
	return nil
}

func (f *fakeStore) ListProposals(ctx context.Context, tenantID uuid.UUID, status string, limit int) ([]domain.ChangeProposal, error) {
	var out []domain.ChangeProposal
	for _, p := range f.proposals {
		if status == "" || p.Status == status {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) GetProposal(ctx context.Context, id uuid.UUID) (*domain.ChangeProposal, error) {
	cp := *f.proposals[id]
	return &cp, nil
}

func (f *fakeStore) UpdateProposalStatus(ctx context.Context, id uuid.UUID, status, decidedBy string) error {
	f.proposals[id].Status = status
	f.proposals[id].DecidedBy = decidedBy
	return nil
}

func (f *fakeStore) LatestPromoted(ctx context.Context, tenantID uuid.UUID, topic string) (*domain.ChangeProposal, error) {
	return f.promoted, nil
}

type fakeControl struct {
	paused bool
	frozen bool
}

func (f *fakeControl) Snapshot(ctx context.Context, tenantID uuid.UUID) (*domain.ControlFlags, error) {
	return &domain.ControlFlags{GlobalPause: f.paused, WriteFreeze: f.frozen, ExternalCallsEnabled: true}, nil
}

type fakeLedger struct{ records int }

func (f *fakeLedger) Record(ctx context.Context, tenantID uuid.UUID, topic, actor string, payload any, costCents float64) string {
	f.records++
	return ""
}

func rated(values ...int) []domain.OutcomeRating {
	out := make([]domain.OutcomeRating, len(values))
	for i, v := range values {
		out[i] = domain.OutcomeRating{ID: uuid.New(), Rating: v, CreatedAt: time.Now().UTC()}
	}
	return out
}

func testController(store Store, ctl ControlPlane) *Controller {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewController(store, ctl, &fakeLedger{}, config.SelfImproveConfig{}, nil, logger)
	// Identity shuffle keeps cohort selection deterministic.
	return c.WithShuffleFunc(func(n int, swap func(i, j int)) {})
}

func TestRunDaily_GoodRatingsNoProposal(t *testing.T) {
	store := newFakeStore()
	// Mean of [5,5,5,2] = 4.25; the 0 is unrated and excluded.
	store.ratings = rated(5, 5, 5, 2, 0)
	c := testController(store, &fakeControl{})

	res, err := c.RunDaily(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("RunDaily: %v", err)
	}
	if res.Proposed {
		t.Fatal("mean 4.25 must not propose")
	}
	if res.MeanRating != 4.25 || res.RatingCount != 4 {
		t.Errorf("unexpected stats: %+v", res)
	}
	if len(store.proposals) != 0 {
		t.Errorf("no proposal expected, got %d", len(store.proposals))
	}
}

func TestRunDaily_PoorRatingsProposeCanary(t *testing.T) {
	store := newFakeStore()
	store.ratings = rated(3, 2, 2)
	store.users = []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8", "u9", "u10", "u11", "u12"}
	c := testController(store, &fakeControl{})

	res, err := c.RunDaily(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("RunDaily: %v", err)
	}
	if !res.Proposed {
		t.Fatalf("mean 2.33 must propose, got %+v", res)
	}
	if len(store.proposals) != 1 {
		t.Fatalf("expected exactly one proposal, got %d", len(store.proposals))
	}

	var p *domain.ChangeProposal
	for _, v := range store.proposals {
		p = v
	}
	if p.Status != domain.ProposalStatusCanary {
		t.Errorf("expected canary status, got %s", p.Status)
	}
	// ceil(0.1 * 12) = 2.
	if p.Canary.CohortSize != 2 || len(p.Canary.UserIDs) != 2 {
		t.Errorf("expected cohort of 2, got %+v", p.Canary)
	}
	if p.Canary.DurationHours != 24 {
		t.Errorf("expected 24h canary, got %d", p.Canary.DurationHours)
	}
}

func TestRunDaily_LogEntryPairedWithProposal(t *testing.T) {
	store := newFakeStore()
	store.ratings = rated(1, 1)
	store.users = []string{"u1"}
	c := testController(store, &fakeControl{})

	res, err := c.RunDaily(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("RunDaily: %v", err)
	}
	if len(store.logs) != 1 {
		t.Fatalf("expected one log entry, got %d", len(store.logs))
	}
	entry := store.logs[0]
	if entry.ProposalID.String() != res.ProposalID {
		t.Error("log entry must reference the proposal")
	}
	if !strings.Contains(entry.Rationale, "1.00") {
		t.Errorf("rationale should embed the computed mean, got %q", entry.Rationale)
	}
	if !strings.Contains(entry.Rationale, "cohort of 1") {
		t.Errorf("rationale should embed the cohort size, got %q", entry.Rationale)
	}
	if !strings.Contains(string(entry.After), "1.15") {
		t.Errorf("after-weights should show the 15%% quality raise, got %s", entry.After)
	}
}

func TestRunDaily_PausedSkips(t *testing.T) {
	store := newFakeStore()
	store.ratings = rated(1, 1)
	c := testController(store, &fakeControl{paused: true})

	res, err := c.RunDaily(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("RunDaily: %v", err)
	}
	if !res.Paused {
		t.Fatal("expected paused result")
	}
	if len(store.proposals) != 0 {
		t.Error("paused run must not propose")
	}
}

func TestRunDaily_NoRatedOutcomes(t *testing.T) {
	store := newFakeStore()
	store.ratings = rated(0, 0)
	c := testController(store, &fakeControl{})

	res, err := c.RunDaily(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("RunDaily: %v", err)
	}
	if res.Proposed || res.RatingCount != 0 {
		t.Errorf("all-unrated day must not propose: %+v", res)
	}
}

func TestPromoteAndReject(t *testing.T) {
	store := newFakeStore()
	store.ratings = rated(1)
	store.users = []string{"u1"}
	c := testController(store, &fakeControl{})

	res, _ := c.RunDaily(context.Background(), uuid.New())
	id := uuid.MustParse(res.ProposalID)

	if err := c.Promote(context.Background(), id, "ops"); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if store.proposals[id].Status != domain.ProposalStatusPromoted {
		t.Errorf("expected promoted, got %s", store.proposals[id].Status)
	}

	// A decided proposal cannot be decided again.
	if err := c.Reject(context.Background(), id, "ops"); err == nil {
		t.Error("expected error deciding a promoted proposal")
	}
}
