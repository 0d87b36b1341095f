package control

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/domain"
)

type fakeFlagStore struct {
	flags      map[uuid.UUID]*domain.ControlFlags
	killEvents []*domain.KillEvent
	killErr    error
}

func newFakeFlagStore() *fakeFlagStore {
	return &fakeFlagStore{flags: make(map[uuid.UUID]*domain.ControlFlags)}
}

func (f *fakeFlagStore) GetFlags(_ context.Context, tenantID uuid.UUID) (*domain.ControlFlags, error) {
	if fl, ok := f.flags[tenantID]; ok {
		cp := *fl
		return &cp, nil
	}
	return DefaultFlags(tenantID), nil
}

func (f *fakeFlagStore) SaveFlags(_ context.Context, flags *domain.ControlFlags) error {
	cp := *flags
	f.flags[flags.TenantID] = &cp
	return nil
}

func (f *fakeFlagStore) AppendKillEvent(_ context.Context, event *domain.KillEvent) error {
	if f.killErr != nil {
		return f.killErr
	}
	f.killEvents = append(f.killEvents, event)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSnapshot_Defaults(t *testing.T) {
	svc := NewService(newFakeFlagStore(), testLogger())
	tenant := uuid.New()

	flags, err := svc.Snapshot(context.Background(), tenant)
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if flags.GlobalPause {
		t.Error("default flags should not be paused")
	}
	if !flags.ExternalCallsEnabled {
		t.Error("default flags should allow external calls")
	}
}

func TestApply_PauseRecordsKillEvent(t *testing.T) {
	store := newFakeFlagStore()
	svc := NewService(store, testLogger())
	tenant := uuid.New()

	paused := true
	flags, err := svc.Apply(context.Background(), tenant, Update{
		GlobalPause: &paused,
		Reason:      "maintenance window",
		RequestedBy: "admin-1",
	})
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if !flags.GlobalPause {
		t.Error("expected GlobalPause = true")
	}
	if len(store.killEvents) != 1 {
		t.Fatalf("kill events = %d, want 1", len(store.killEvents))
	}
	if store.killEvents[0].Action != "pause" {
		t.Errorf("action = %q, want pause", store.killEvents[0].Action)
	}

	// Snapshot reflects the persisted change.
	snap, err := svc.Snapshot(context.Background(), tenant)
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if !snap.GlobalPause {
		t.Error("snapshot should report paused")
	}
}

func TestApply_NoFieldsIsNoop(t *testing.T) {
	store := newFakeFlagStore()
	svc := NewService(store, testLogger())

	if _, err := svc.Apply(context.Background(), uuid.New(), Update{Reason: "nothing"}); err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if len(store.killEvents) != 0 {
		t.Errorf("kill events = %d, want 0", len(store.killEvents))
	}
}

func TestApply_KillEventFailureDoesNotPropagate(t *testing.T) {
	store := newFakeFlagStore()
	store.killErr = context.DeadlineExceeded
	svc := NewService(store, testLogger())

	paused := true
	if _, err := svc.Apply(context.Background(), uuid.New(), Update{GlobalPause: &paused}); err != nil {
		t.Fatalf("Apply() should not fail on kill event write error, got: %v", err)
	}
}

func TestKill(t *testing.T) {
	store := newFakeFlagStore()
	svc := NewService(store, testLogger())
	tenant := uuid.New()

	flags, err := svc.Kill(context.Background(), tenant, "admin-2", "")
	if err != nil {
		t.Fatalf("Kill() error: %v", err)
	}
	if !flags.GlobalPause {
		t.Error("Kill should pause")
	}
	if flags.LastReason == "" {
		t.Error("Kill should set a default reason")
	}
}
