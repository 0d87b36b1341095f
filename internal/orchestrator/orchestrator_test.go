package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/domain"
)

type fakeRunStore struct {
	runs []domain.SubagentRun
}

func (f *fakeRunStore) CreateRun(ctx context.Context, run *domain.SubagentRun) error {
	f.runs = append(f.runs, *run)
	return nil
}

func (f *fakeRunStore) ListRuns(ctx context.Context, tenantID uuid.UUID, taskID string) ([]domain.SubagentRun, error) {
	return f.runs, nil
}

type fakePublisher struct {
	payloads []agentJob
}

func (f *fakePublisher) Publish(ctx context.Context, tenantID uuid.UUID, topic string, payload any) (*domain.Event, error) {
	f.payloads = append(f.payloads, payload.(agentJob))
	return &domain.Event{ID: uuid.New(), Topic: topic}, nil
}

type fakeControl struct {
	paused bool
}

func (f *fakeControl) Snapshot(ctx context.Context, tenantID uuid.UUID) (*domain.ControlFlags, error) {
	return &domain.ControlFlags{GlobalPause: f.paused, ExternalCallsEnabled: true}, nil
}

type fakeLedger struct {
	records int
}

func (f *fakeLedger) Record(ctx context.Context, tenantID uuid.UUID, topic, actor string, payload any, costCents float64) string {
	f.records++
	return ""
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOrchestrator(runs RunStore, pub EventPublisher, ctl ControlPlane, led LedgerRecorder, cfg *config.OrchestratorConfig) *Orchestrator {
	if cfg == nil {
		cfg = &config.OrchestratorConfig{}
	}
	return New(runs, pub, ctl, led, nil, testLogger(), cfg)
}

func TestSpawn_CapsFanOut(t *testing.T) {
	runs := &fakeRunStore{}
	pub := &fakePublisher{}
	led := &fakeLedger{}
	// Default catalog is larger than the cap.
	o := testOrchestrator(runs, pub, &fakeControl{}, led, nil)

	res, err := o.Spawn(context.Background(), &SpawnRequest{
		TenantID: uuid.New(),
		TaskID:   "task-1",
		Context:  json.RawMessage(`{"goal":"plan the week"}`),
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if res.Paused {
		t.Fatal("unexpected pause")
	}
	if len(res.QueuedAgents) != 5 {
		t.Fatalf("expected fan-out capped at 5, got %d", len(res.QueuedAgents))
	}
	if len(pub.payloads) != 5 {
		t.Fatalf("expected 5 enqueued events, got %d", len(pub.payloads))
	}
	for _, p := range pub.payloads {
		if p.TaskID != "task-1" {
			t.Errorf("event payload missing task id: %+v", p)
		}
	}
}

func TestSpawn_PausedEnqueuesNothing(t *testing.T) {
	runs := &fakeRunStore{}
	pub := &fakePublisher{}
	led := &fakeLedger{}
	o := testOrchestrator(runs, pub, &fakeControl{paused: true}, led, nil)

	res, err := o.Spawn(context.Background(), &SpawnRequest{TenantID: uuid.New(), TaskID: "task-1"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !res.Paused {
		t.Fatal("expected paused result")
	}
	if len(pub.payloads) != 0 {
		t.Errorf("paused spawn must not enqueue, got %d events", len(pub.payloads))
	}
	if len(runs.runs) != 0 {
		t.Errorf("paused spawn must not record a run")
	}
}

func TestSpawn_RecordsRunAndLedger(t *testing.T) {
	runs := &fakeRunStore{}
	pub := &fakePublisher{}
	led := &fakeLedger{}
	o := testOrchestrator(runs, pub, &fakeControl{}, led, nil)

	res, err := o.Spawn(context.Background(), &SpawnRequest{TenantID: uuid.New(), TaskID: "task-9"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if len(runs.runs) != 1 {
		t.Fatalf("expected 1 run record, got %d", len(runs.runs))
	}
	run := runs.runs[0]
	if !run.Success || run.TaskID != "task-9" {
		t.Errorf("unexpected run record: %+v", run)
	}
	var out map[string][]string
	if err := json.Unmarshal(run.Output, &out); err != nil {
		t.Fatalf("run output not JSON: %v", err)
	}
	if len(out["queued_agents"]) != len(res.QueuedAgents) {
		t.Errorf("run output disagrees with result: %v vs %v", out, res.QueuedAgents)
	}
	if led.records != 1 {
		t.Errorf("expected 1 ledger entry, got %d", led.records)
	}
}

func TestSpawn_RequiresTaskID(t *testing.T) {
	o := testOrchestrator(&fakeRunStore{}, &fakePublisher{}, &fakeControl{}, &fakeLedger{}, nil)
	if _, err := o.Spawn(context.Background(), &SpawnRequest{TenantID: uuid.New()}); err == nil {
		t.Fatal("expected error for missing task_id")
	}
}

func TestSpawn_SmallCatalogUnderCap(t *testing.T) {
	cfg := &config.OrchestratorConfig{Agents: []string{"planner", "verifier"}}
	pub := &fakePublisher{}
	o := testOrchestrator(&fakeRunStore{}, pub, &fakeControl{}, &fakeLedger{}, cfg)

	res, err := o.Spawn(context.Background(), &SpawnRequest{TenantID: uuid.New(), TaskID: "t"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if len(res.QueuedAgents) != 2 {
		t.Errorf("expected 2 queued agents, got %d", len(res.QueuedAgents))
	}
}
