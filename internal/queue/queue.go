// Package queue implements the durable job queue backing all asynchronous
// work. Events are rows in the shared store; delivery is at-least-once,
// so handlers must tolerate duplicate invocations for the same event.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/domain"
)

// EventStore is the persistence interface for queued events.
type EventStore interface {
	Insert(ctx context.Context, ev *domain.Event) error
	// ClaimBatch atomically moves up to limit new events to claimed,
	// incrementing each event's attempt count, and returns them.
	// Concurrent callers never receive the same event.
	ClaimBatch(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.Event, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	// MarkFailed records the error and either releases the event for
	// another attempt or parks it as failed when retry is false.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retry bool) error
	Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.Event, error)
	List(ctx context.Context, tenantID uuid.UUID, status string, limit int) ([]domain.Event, error)
}

// Handler processes one claimed event. A returned error triggers a retry
// until the event's attempt budget is spent.
type Handler func(ctx context.Context, ev *domain.Event) error

// Publisher enqueues events.
type Publisher struct {
	store       EventStore
	logger      *slog.Logger
	metrics     *Metrics
	maxAttempts int
}

// NewPublisher creates a Publisher. maxAttempts bounds redelivery per event.
func NewPublisher(store EventStore, maxAttempts int, metrics *Metrics, logger *slog.Logger) *Publisher {
	return &Publisher{store: store, logger: logger, metrics: metrics, maxAttempts: maxAttempts}
}

// Publish inserts a new event for the topic. The payload is serialized to
// JSON; a nil payload produces an empty object.
func (p *Publisher) Publish(ctx context.Context, tenantID uuid.UUID, topic string, payload any) (*domain.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding event payload: %w", err)
	}
	if payload == nil {
		raw = []byte("{}")
	}

	ev := &domain.Event{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Topic:       topic,
		Payload:     raw,
		Status:      domain.EventStatusNew,
		MaxAttempts: p.maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
	if err := p.store.Insert(ctx, ev); err != nil {
		return nil, fmt.Errorf("enqueueing event: %w", err)
	}

	if p.metrics != nil {
		p.metrics.EventsPublished.Inc()
	}
	p.logger.InfoContext(ctx, "event published",
		slog.String("event_id", ev.ID.String()),
		slog.String("topic", topic),
	)
	return ev, nil
}

// Dispatcher polls the store for claimable events and routes them to
// registered topic handlers. It runs as a background goroutine in gateway
// mode.
type Dispatcher struct {
	store   EventStore
	logger  *slog.Logger
	metrics *Metrics
	config  *config.QueueConfig

	tenantID uuid.UUID

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewDispatcher creates a Dispatcher with no handlers registered.
func NewDispatcher(store EventStore, cfg *config.QueueConfig, metrics *Metrics, logger *slog.Logger, tenantID uuid.UUID) *Dispatcher {
	return &Dispatcher{
		store:    store,
		logger:   logger,
		metrics:  metrics,
		config:   cfg,
		tenantID: tenantID,
		handlers: make(map[string]Handler),
	}
}

// Handle registers a handler for a topic. Last registration wins.
func (d *Dispatcher) Handle(topic string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[topic] = h
}

// Start begins the dispatch loop. Returns a cancel function.
func (d *Dispatcher) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		d.logger.InfoContext(ctx, "queue dispatcher started",
			slog.String("poll_interval", d.config.PollInterval().String()),
			slog.Int("batch", d.config.Batch()),
		)

		ticker := time.NewTicker(d.config.PollInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				d.logger.Info("queue dispatcher stopped")
				return
			case <-ticker.C:
				d.Drain(ctx)
			}
		}
	}()

	return cancel
}

// Drain claims one batch of events and processes it. Exported so the HTTP
// API can trigger an immediate pass without waiting for the poll interval.
func (d *Dispatcher) Drain(ctx context.Context) int {
	events, err := d.store.ClaimBatch(ctx, d.tenantID, d.config.Batch())
	if err != nil {
		d.logger.ErrorContext(ctx, "claiming events failed",
			slog.String("error", err.Error()),
		)
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	var wg sync.WaitGroup
	for i := range events {
		ev := events[i]
		wg.Add(1)
		go func(ev domain.Event) {
			defer wg.Done()
			d.process(ctx, &ev)
		}(ev)
	}
	wg.Wait()
	return len(events)
}

// process runs the topic handler for one claimed event under an explicit
// deadline, then records the outcome.
func (d *Dispatcher) process(ctx context.Context, ev *domain.Event) {
	start := time.Now()

	d.mu.RLock()
	handler, ok := d.handlers[ev.Topic]
	d.mu.RUnlock()

	if !ok {
		// No handler for the topic is terminal; retrying cannot help.
		d.logger.WarnContext(ctx, "no handler for event topic",
			slog.String("event_id", ev.ID.String()),
			slog.String("topic", ev.Topic),
		)
		_ = d.store.MarkFailed(ctx, ev.ID, fmt.Sprintf("no handler registered for topic %q", ev.Topic), false)
		if d.metrics != nil {
			d.metrics.EventsFailed.Inc()
		}
		return
	}

	hctx, hcancel := context.WithTimeout(ctx, d.config.HandlerTimeout())
	err := handler(hctx, ev)
	hcancel()

	if d.metrics != nil {
		d.metrics.HandleDuration.Observe(time.Since(start).Seconds())
	}

	if err == nil {
		if markErr := d.store.MarkDone(ctx, ev.ID); markErr != nil {
			d.logger.ErrorContext(ctx, "marking event done failed",
				slog.String("event_id", ev.ID.String()),
				slog.String("error", markErr.Error()),
			)
		}
		if d.metrics != nil {
			d.metrics.EventsProcessed.Inc()
		}
		return
	}

	// Attempts counts this delivery; the claim already incremented it.
	retry := ev.Attempts < ev.MaxAttempts
	d.logger.WarnContext(ctx, "event handler failed",
		slog.String("event_id", ev.ID.String()),
		slog.String("topic", ev.Topic),
		slog.Int("attempts", ev.Attempts),
		slog.Int("max_attempts", ev.MaxAttempts),
		slog.Bool("retry", retry),
		slog.String("error", err.Error()),
	)
	if markErr := d.store.MarkFailed(ctx, ev.ID, err.Error(), retry); markErr != nil {
		d.logger.ErrorContext(ctx, "marking event failed",
			slog.String("event_id", ev.ID.String()),
			slog.String("error", markErr.Error()),
		)
	}
	if d.metrics != nil {
		if retry {
			d.metrics.EventsRetried.Inc()
		} else {
			d.metrics.EventsFailed.Inc()
		}
	}
}
