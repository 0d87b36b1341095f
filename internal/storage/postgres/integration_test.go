//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/domain"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set, skipping integration test")
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	db, err := Open(Config{DSN: dsn}, logger)
	if err != nil {
		t.Fatalf("opening postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testTenant(t *testing.T, db *DB) uuid.UUID {
	t.Helper()
	repo := NewTenantRepository(db.GormDB())
	tenantID, err := repo.EnsureTenant(context.Background(), fmt.Sprintf("test-%s", uuid.New().String()[:8]))
	if err != nil {
		t.Fatalf("creating test tenant: %v", err)
	}
	return tenantID
}

// --- Queue claim exclusivity ---

func TestClaimBatch_ConcurrentWorkersNeverShareEvents(t *testing.T) {
	db := testDB(t)
	tenantID := testTenant(t, db)
	repo := NewEventRepository(db.GormDB())
	ctx := context.Background()

	const total = 20
	for i := 0; i < total; i++ {
		ev := &domain.Event{
			ID:          uuid.New(),
			TenantID:    tenantID,
			Topic:       "subagent.run",
			Payload:     json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
			Status:      domain.EventStatusNew,
			MaxAttempts: 3,
			CreatedAt:   time.Now().UTC(),
		}
		if err := repo.Insert(ctx, ev); err != nil {
			t.Fatalf("inserting event %d: %v", i, err)
		}
	}

	const workers = 4
	var mu sync.Mutex
	seen := make(map[uuid.UUID]int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := repo.ClaimBatch(ctx, tenantID, 3)
				if err != nil {
					t.Errorf("claiming: %v", err)
					return
				}
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, ev := range batch {
					seen[ev.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("expected %d claimed events, got %d", total, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("event %s claimed %d times", id, n)
		}
	}
}

func TestMarkFailed_RetryReleasesUntilAttemptsExhausted(t *testing.T) {
	db := testDB(t)
	tenantID := testTenant(t, db)
	repo := NewEventRepository(db.GormDB())
	ctx := context.Background()

	ev := &domain.Event{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Topic:       "subagent.run",
		Payload:     json.RawMessage(`{}`),
		Status:      domain.EventStatusNew,
		MaxAttempts: 2,
		CreatedAt:   time.Now().UTC(),
	}
	if err := repo.Insert(ctx, ev); err != nil {
		t.Fatalf("inserting: %v", err)
	}

	for attempt := 1; attempt <= 2; attempt++ {
		batch, err := repo.ClaimBatch(ctx, tenantID, 10)
		if err != nil {
			t.Fatalf("claiming attempt %d: %v", attempt, err)
		}
		if len(batch) != 1 {
			t.Fatalf("attempt %d: expected 1 event, got %d", attempt, len(batch))
		}
		retry := batch[0].Attempts < batch[0].MaxAttempts
		if err := repo.MarkFailed(ctx, ev.ID, "handler boom", retry); err != nil {
			t.Fatalf("marking failed: %v", err)
		}
	}

	got, err := repo.Get(ctx, tenantID, ev.ID)
	if err != nil {
		t.Fatalf("getting event: %v", err)
	}
	if got.Status != domain.EventStatusFailed {
		t.Errorf("expected failed status after exhausted attempts, got %q", got.Status)
	}
	if got.Error == "" {
		t.Error("expected recorded handler error")
	}
}

// --- Cron due selection ---

func TestGetDue_ReturnsOnlyEnabledDue(t *testing.T) {
	db := testDB(t)
	tenantID := testTenant(t, db)
	repo := NewCronJobRepository(db.GormDB())
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	defs := []*domain.CronJobDefinition{
		{ID: uuid.New(), TenantID: tenantID, Topic: "due", CronExpression: "* * * * *", Enabled: true, NextRunAt: &past, CreatedAt: now, UpdatedAt: now},
		{ID: uuid.New(), TenantID: tenantID, Topic: "future", CronExpression: "* * * * *", Enabled: true, NextRunAt: &future, CreatedAt: now, UpdatedAt: now},
		{ID: uuid.New(), TenantID: tenantID, Topic: "disabled", CronExpression: "* * * * *", Enabled: false, NextRunAt: &past, CreatedAt: now, UpdatedAt: now},
	}
	for _, def := range defs {
		if err := repo.Create(ctx, def); err != nil {
			t.Fatalf("creating %s: %v", def.Topic, err)
		}
	}

	due, err := repo.GetDue(ctx, tenantID, now)
	if err != nil {
		t.Fatalf("getting due: %v", err)
	}
	if len(due) != 1 || due[0].Topic != "due" {
		t.Fatalf("expected exactly the due definition, got %+v", due)
	}

	next := now.Add(time.Minute)
	if err := repo.RecordRun(ctx, due[0].ID, next, ""); err != nil {
		t.Fatalf("recording run: %v", err)
	}
	again, err := repo.GetDue(ctx, tenantID, now)
	if err != nil {
		t.Fatalf("getting due again: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("definition still due after RecordRun: %+v", again)
	}
}

// --- Ledger aggregation ---

func TestSumCostSince_WindowsByTime(t *testing.T) {
	db := testDB(t)
	tenantID := testTenant(t, db)
	repo := NewLedgerRepository(db.GormDB())
	ctx := context.Background()
	now := time.Now().UTC()

	entries := []struct {
		cost float64
		at   time.Time
	}{
		{100, now.Add(-2 * time.Hour)},
		{250, now.Add(-30 * time.Minute)},
		{999, now.Add(-48 * time.Hour)},
	}
	for _, e := range entries {
		entry := &domain.LedgerEntry{
			ID:        uuid.New(),
			TenantID:  tenantID,
			Topic:     "orchestrate",
			Actor:     "test",
			Payload:   json.RawMessage(`{}`),
			CostCents: e.cost,
			CreatedAt: e.at,
		}
		if err := repo.Append(ctx, entry); err != nil {
			t.Fatalf("appending: %v", err)
		}
	}

	sum, err := repo.SumCostSince(ctx, tenantID, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("summing: %v", err)
	}
	if sum != 350 {
		t.Errorf("expected 350 cents in window, got %v", sum)
	}
}

// --- Proposal lifecycle ---

func TestProposalStatus_OnlyCanaryTransitions(t *testing.T) {
	db := testDB(t)
	tenantID := testTenant(t, db)
	repo := NewImproveRepository(db.GormDB())
	ctx := context.Background()

	p := &domain.ChangeProposal{
		ID:            uuid.New(),
		TenantID:      &tenantID,
		Topic:         "policy_weights",
		DryRunMetrics: json.RawMessage(`{"quality":0.345,"cost":0.285}`),
		Canary: domain.Canary{
			CohortSize:    2,
			UserIDs:       []string{"alice", "bob"},
			DurationHours: 24,
		},
		Status:    domain.ProposalStatusCanary,
		CreatedAt: time.Now().UTC(),
	}
	if err := repo.CreateProposal(ctx, p); err != nil {
		t.Fatalf("creating proposal: %v", err)
	}

	if err := repo.UpdateProposalStatus(ctx, p.ID, domain.ProposalStatusPromoted, "reviewer"); err != nil {
		t.Fatalf("promoting: %v", err)
	}

	// A second transition must fail: the row is no longer canary.
	if err := repo.UpdateProposalStatus(ctx, p.ID, domain.ProposalStatusRejected, "reviewer"); err == nil {
		t.Fatal("expected error transitioning a promoted proposal")
	}

	latest, err := repo.LatestPromoted(ctx, tenantID, "policy_weights")
	if err != nil {
		t.Fatalf("loading latest promoted: %v", err)
	}
	if latest == nil || latest.ID != p.ID {
		t.Errorf("expected promoted proposal to be latest, got %+v", latest)
	}
}

func TestListProposals_IncludesGlobalRows(t *testing.T) {
	db := testDB(t)
	tenantID := testTenant(t, db)
	repo := NewImproveRepository(db.GormDB())
	ctx := context.Background()

	topic := fmt.Sprintf("topic-%s", uuid.New().String()[:8])
	scoped := &domain.ChangeProposal{
		ID:        uuid.New(),
		TenantID:  &tenantID,
		Topic:     topic,
		Status:    domain.ProposalStatusCanary,
		CreatedAt: time.Now().UTC(),
	}
	global := &domain.ChangeProposal{
		ID:        uuid.New(),
		Topic:     topic,
		Status:    domain.ProposalStatusCanary,
		CreatedAt: time.Now().UTC(),
	}
	for _, p := range []*domain.ChangeProposal{scoped, global} {
		if err := repo.CreateProposal(ctx, p); err != nil {
			t.Fatalf("creating proposal: %v", err)
		}
	}

	proposals, err := repo.ListProposals(ctx, tenantID, domain.ProposalStatusCanary, 0)
	if err != nil {
		t.Fatalf("listing proposals: %v", err)
	}
	found := map[uuid.UUID]bool{}
	for _, p := range proposals {
		found[p.ID] = true
	}
	if !found[scoped.ID] {
		t.Error("tenant-scoped proposal missing from listing")
	}
	if !found[global.ID] {
		t.Error("global proposal (NULL tenant) missing from tenant listing")
	}
}

// --- Consensus idempotency ---

func TestGetConsensusByKey_ScopedPerTask(t *testing.T) {
	db := testDB(t)
	tenantID := testTenant(t, db)
	repo := NewRunRepository(db.GormDB())
	ctx := context.Background()

	key := fmt.Sprintf("key-%s", uuid.New().String()[:8])
	taskA := fmt.Sprintf("task-%s", uuid.New().String()[:8])
	taskB := fmt.Sprintf("task-%s", uuid.New().String()[:8])

	recordA := &domain.Consensus{
		ID:             uuid.New(),
		TenantID:       tenantID,
		TaskID:         taskA,
		ChosenPlanID:   uuid.New(),
		Confidence:     90,
		IdempotencyKey: key,
		CreatedAt:      time.Now().UTC(),
	}
	if err := repo.CreateConsensus(ctx, recordA); err != nil {
		t.Fatalf("creating consensus: %v", err)
	}

	// The same key on another task names a different decision.
	got, err := repo.GetConsensusByKey(ctx, tenantID, taskB, key)
	if err != nil {
		t.Fatalf("getting by key: %v", err)
	}
	if got != nil {
		t.Errorf("key lookup for %s returned %s's consensus", taskB, got.TaskID)
	}

	got, err = repo.GetConsensusByKey(ctx, tenantID, taskA, key)
	if err != nil {
		t.Fatalf("getting by key: %v", err)
	}
	if got == nil || got.ID != recordA.ID {
		t.Fatalf("expected %s's consensus back, got %+v", taskA, got)
	}

	// The unique index rejects a duplicate (tenant, task, key) insert.
	dup := &domain.Consensus{
		ID:             uuid.New(),
		TenantID:       tenantID,
		TaskID:         taskA,
		ChosenPlanID:   uuid.New(),
		IdempotencyKey: key,
		CreatedAt:      time.Now().UTC(),
	}
	if err := repo.CreateConsensus(ctx, dup); err == nil {
		t.Error("expected unique violation inserting the same task and key twice")
	}

	// Keyless audit rows never collide.
	for i := 0; i < 2; i++ {
		audit := &domain.Consensus{
			ID:           uuid.New(),
			TenantID:     tenantID,
			TaskID:       taskA,
			ChosenPlanID: uuid.New(),
			CreatedAt:    time.Now().UTC(),
		}
		if err := repo.CreateConsensus(ctx, audit); err != nil {
			t.Fatalf("appending audit row %d: %v", i, err)
		}
	}
}
