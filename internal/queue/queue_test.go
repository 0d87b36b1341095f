package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/domain"
)

type fakeEventStore struct {
	mu     sync.Mutex
	events map[uuid.UUID]*domain.Event
	order  []uuid.UUID
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{events: make(map[uuid.UUID]*domain.Event)}
}

func (f *fakeEventStore) Insert(ctx context.Context, ev *domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *ev
	f.events[ev.ID] = &cp
	f.order = append(f.order, ev.ID)
	return nil
}

func (f *fakeEventStore) ClaimBatch(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Event
	for _, id := range f.order {
		if len(out) >= limit {
			break
		}
		ev := f.events[id]
		if ev.Status != domain.EventStatusNew {
			continue
		}
		ev.Status = domain.EventStatusClaimed
		ev.Attempts++
		out = append(out, *ev)
	}
	return out, nil
}

func (f *fakeEventStore) MarkDone(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[id].Status = domain.EventStatusDone
	return nil
}

func (f *fakeEventStore) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retry bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := f.events[id]
	ev.Error = errMsg
	if retry {
		ev.Status = domain.EventStatusNew
	} else {
		ev.Status = domain.EventStatusFailed
	}
	return nil
}

func (f *fakeEventStore) Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *ev
	return &cp, nil
}

func (f *fakeEventStore) List(ctx context.Context, tenantID uuid.UUID, status string, limit int) ([]domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Event
	for _, id := range f.order {
		if f.events[id].Status == status {
			out = append(out, *f.events[id])
		}
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDispatcher(store EventStore) *Dispatcher {
	return NewDispatcher(store, &config.QueueConfig{}, nil, testLogger(), uuid.New())
}

func TestPublish_InsertsNewEvent(t *testing.T) {
	store := newFakeEventStore()
	pub := NewPublisher(store, 3, nil, testLogger())

	ev, err := pub.Publish(context.Background(), uuid.New(), "subagent.run", map[string]string{"agent": "planner"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if ev.Status != domain.EventStatusNew {
		t.Errorf("expected status new, got %s", ev.Status)
	}
	if ev.MaxAttempts != 3 {
		t.Errorf("expected max attempts 3, got %d", ev.MaxAttempts)
	}
}

func TestDrain_HandlerSuccessMarksDone(t *testing.T) {
	store := newFakeEventStore()
	pub := NewPublisher(store, 3, nil, testLogger())
	ev, _ := pub.Publish(context.Background(), uuid.New(), "subagent.run", nil)

	d := testDispatcher(store)
	var handled int
	d.Handle("subagent.run", func(ctx context.Context, ev *domain.Event) error {
		handled++
		return nil
	})

	n := d.Drain(context.Background())
	if n != 1 || handled != 1 {
		t.Fatalf("expected 1 event handled, got n=%d handled=%d", n, handled)
	}

	got, _ := store.Get(context.Background(), ev.TenantID, ev.ID)
	if got.Status != domain.EventStatusDone {
		t.Errorf("expected done, got %s", got.Status)
	}
}

func TestDrain_HandlerFailureRetriesThenParks(t *testing.T) {
	store := newFakeEventStore()
	pub := NewPublisher(store, 2, nil, testLogger())
	ev, _ := pub.Publish(context.Background(), uuid.New(), "subagent.run", nil)

	d := testDispatcher(store)
	var calls int
	d.Handle("subagent.run", func(ctx context.Context, ev *domain.Event) error {
		calls++
		return errors.New("boom")
	})

	// First failure releases the event for a second attempt.
	d.Drain(context.Background())
	got, _ := store.Get(context.Background(), ev.TenantID, ev.ID)
	if got.Status != domain.EventStatusNew {
		t.Fatalf("expected release to new after first failure, got %s", got.Status)
	}

	// Second failure exhausts the attempt budget.
	d.Drain(context.Background())
	got, _ = store.Get(context.Background(), ev.TenantID, ev.ID)
	if got.Status != domain.EventStatusFailed {
		t.Fatalf("expected failed after exhausting attempts, got %s", got.Status)
	}
	if calls != 2 {
		t.Errorf("expected 2 handler calls, got %d", calls)
	}
	if got.Error != "boom" {
		t.Errorf("expected last error recorded, got %q", got.Error)
	}
}

func TestDrain_UnknownTopicParksEvent(t *testing.T) {
	store := newFakeEventStore()
	pub := NewPublisher(store, 3, nil, testLogger())
	ev, _ := pub.Publish(context.Background(), uuid.New(), "nobody.home", nil)

	d := testDispatcher(store)
	d.Drain(context.Background())

	got, _ := store.Get(context.Background(), ev.TenantID, ev.ID)
	if got.Status != domain.EventStatusFailed {
		t.Errorf("expected failed for unhandled topic, got %s", got.Status)
	}
}

func TestDrain_RespectsBatchLimit(t *testing.T) {
	store := newFakeEventStore()
	pub := NewPublisher(store, 3, nil, testLogger())
	for i := 0; i < 15; i++ {
		pub.Publish(context.Background(), uuid.New(), "subagent.run", nil)
	}

	d := testDispatcher(store)
	d.Handle("subagent.run", func(ctx context.Context, ev *domain.Event) error { return nil })

	if n := d.Drain(context.Background()); n != 10 {
		t.Errorf("expected default batch of 10, got %d", n)
	}
}
