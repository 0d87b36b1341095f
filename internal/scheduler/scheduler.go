// Package scheduler advances cron job definitions and enqueues an event
// for each one that comes due. Firing is publishing: the scheduler never
// executes work itself, it only feeds the queue.
//
// Core invariant: after a successful tick, every fired definition's
// next_run_at strictly increases and lands inside
// [cron_next, cron_next + jitter].
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/domain"
)

// DefinitionStore is the persistence interface for cron job definitions.
type DefinitionStore interface {
	Create(ctx context.Context, def *domain.CronJobDefinition) error
	Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.CronJobDefinition, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]domain.CronJobDefinition, error)
	Update(ctx context.Context, def *domain.CronJobDefinition) error
	Delete(ctx context.Context, tenantID, id uuid.UUID) error
	GetDue(ctx context.Context, tenantID uuid.UUID, now time.Time) ([]domain.CronJobDefinition, error)
	RecordRun(ctx context.Context, id uuid.UUID, nextRunAt time.Time, errMsg string) error
}

// StoreFactory creates a DefinitionStore from a *gorm.DB.
// Used to create transaction-scoped stores without importing the postgres package.
type StoreFactory func(db *gorm.DB) DefinitionStore

// EventPublisher enqueues the event a due definition fires. Satisfied by
// queue.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, tenantID uuid.UUID, topic string, payload any) (*domain.Event, error)
}

// Scheduler polls for due definitions and publishes their events.
// It runs as a background goroutine in gateway mode.
type Scheduler struct {
	store        DefinitionStore
	storeFactory StoreFactory
	db           *gorm.DB // For transaction wrapping around GetDue + RecordRun. Optional.
	publisher    EventPublisher
	metrics      *Metrics
	logger       *slog.Logger
	config       *config.SchedulerConfig
	tenantID     uuid.UUID

	parser cron.Parser

	// jitterFn returns a random delay in [0, n) seconds. Injectable so
	// tests run with a fixed value.
	jitterFn func(n int) int
}

// New creates a Scheduler.
func New(
	store DefinitionStore,
	storeFactory StoreFactory,
	db *gorm.DB,
	publisher EventPublisher,
	metrics *Metrics,
	logger *slog.Logger,
	cfg *config.SchedulerConfig,
	tenantID uuid.UUID,
) *Scheduler {
	return &Scheduler{
		store:        store,
		storeFactory: storeFactory,
		db:           db,
		publisher:    publisher,
		metrics:      metrics,
		logger:       logger,
		config:       cfg,
		tenantID:     tenantID,
		parser:       cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		jitterFn:     rand.IntN,
	}
}

// WithJitterFunc replaces the jitter source. Intended for tests.
func (s *Scheduler) WithJitterFunc(fn func(n int) int) *Scheduler {
	s.jitterFn = fn
	return s
}

// Start begins the scheduler loop. Returns a cancel function.
func (s *Scheduler) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		s.logger.InfoContext(ctx, "cron scheduler started",
			slog.String("poll_interval", s.config.PollInterval().String()),
			slog.Int("max_concurrent", s.config.MaxConcurrent()),
		)

		// Recover missed definitions on startup.
		s.recoverMissed(ctx)

		ticker := time.NewTicker(s.config.PollInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("cron scheduler stopped")
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()

	return cancel
}

// Tick runs a single poll cycle: find due definitions, fire them, record
// results. Exported so the HTTP API can trigger a cycle on demand. Returns
// the number of definitions fired.
func (s *Scheduler) Tick(ctx context.Context) int {
	start := time.Now()
	now := start.UTC()
	var fired int

	// Execute within a transaction so that SELECT FOR UPDATE SKIP LOCKED
	// holds each row's lock until RecordRun commits.
	err := s.withTx(ctx, func(store DefinitionStore) error {
		due, err := store.GetDue(ctx, s.tenantID, now)
		if err != nil {
			return fmt.Errorf("polling due definitions: %w", err)
		}
		if len(due) == 0 {
			return nil
		}

		s.logger.InfoContext(ctx, "cron definitions due",
			slog.Int("count", len(due)),
		)

		sem := make(chan struct{}, s.config.MaxConcurrent())
		var wg sync.WaitGroup

		for i := range due {
			def := due[i]
			sem <- struct{}{}
			wg.Add(1)

			go func(d domain.CronJobDefinition) {
				defer wg.Done()
				defer func() { <-sem }()
				s.fire(ctx, store, &d, now)
			}(def)
		}

		wg.Wait()
		fired = len(due)
		return nil
	})

	if err != nil {
		s.logger.ErrorContext(ctx, "scheduler tick failed",
			slog.String("error", err.Error()),
		)
	}

	if s.metrics != nil {
		s.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
	return fired
}

// fire publishes one due definition's event and advances its schedule.
// Failures stay contained to the definition: the event error is recorded
// on the row and the rest of the batch proceeds.
func (s *Scheduler) fire(ctx context.Context, store DefinitionStore, def *domain.CronJobDefinition, now time.Time) {
	s.logger.InfoContext(ctx, "firing cron definition",
		slog.String("definition_id", def.ID.String()),
		slog.String("topic", def.Topic),
	)

	if s.metrics != nil {
		s.metrics.JobsFired.Inc()
	}

	_, err := s.publisher.Publish(ctx, def.TenantID, def.Topic, def.Payload)

	nextRun := s.nextRun(def, now)

	var errMsg string
	if err != nil {
		errMsg = err.Error()
		s.logger.ErrorContext(ctx, "cron definition publish failed",
			slog.String("definition_id", def.ID.String()),
			slog.String("error", errMsg),
		)
		if s.metrics != nil {
			s.metrics.JobsFailed.Inc()
		}
	} else if s.metrics != nil {
		s.metrics.JobsSucceeded.Inc()
	}

	if recordErr := store.RecordRun(ctx, def.ID, nextRun, errMsg); recordErr != nil {
		s.logger.ErrorContext(ctx, "failed to record cron run",
			slog.String("definition_id", def.ID.String()),
			slog.String("error", recordErr.Error()),
		)
	}
}

// nextRun computes the definition's next fire time: the cron schedule's
// next occurrence after now plus a random jitter in [0, JitterSeconds].
// Jitter spreads simultaneous fleet-wide fires.
func (s *Scheduler) nextRun(def *domain.CronJobDefinition, now time.Time) time.Time {
	sched, err := s.parser.Parse(def.CronExpression)
	if err != nil {
		s.logger.Error("invalid cron expression",
			slog.String("definition_id", def.ID.String()),
			slog.String("expr", def.CronExpression),
			slog.String("error", err.Error()),
		)
		return now.Add(24 * time.Hour)
	}

	next := sched.Next(now)
	jitter := def.JitterSeconds
	if jitter <= 0 {
		jitter = int(s.config.DefaultJitter().Seconds())
	}
	if jitter > 0 {
		next = next.Add(time.Duration(s.jitterFn(jitter+1)) * time.Second)
	}
	return next
}

// recoverMissed fires definitions whose next_run_at fell behind while the
// process was down. Anything older than the missed window is skipped and
// advanced to its next valid time.
func (s *Scheduler) recoverMissed(ctx context.Context) {
	now := time.Now().UTC()
	window := now.Add(-s.config.MissedJobWindow())

	err := s.withTx(ctx, func(store DefinitionStore) error {
		due, err := store.GetDue(ctx, s.tenantID, now)
		if err != nil {
			return err
		}

		var missed, fired int
		for i := range due {
			def := &due[i]
			if def.NextRunAt != nil && def.NextRunAt.Before(window) {
				nextRun := s.nextRun(def, now)
				_ = store.RecordRun(ctx, def.ID, nextRun, "skipped: outside missed job window")
				if s.metrics != nil {
					s.metrics.JobsMissed.Inc()
				}
				missed++
				continue
			}
			fired++
			s.fire(ctx, store, def, now)
		}

		if fired > 0 || missed > 0 {
			s.logger.InfoContext(ctx, "recovered missed cron definitions",
				slog.Int("fired", fired),
				slog.Int("skipped", missed),
			)
		}
		return nil
	})

	if err != nil {
		s.logger.ErrorContext(ctx, "failed to recover missed definitions",
			slog.String("error", err.Error()),
		)
	}
}

// withTx runs fn against a transaction-scoped store when a database handle
// is configured, and against the plain store otherwise.
func (s *Scheduler) withTx(ctx context.Context, fn func(store DefinitionStore) error) error {
	if s.db == nil || s.storeFactory == nil {
		return fn(s.store)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(s.storeFactory(tx))
	})
}

// ComputeNextRunFrom computes the next run time from a given reference time.
// Exported for use by the HTTP API when creating/updating definitions.
func ComputeNextRunFrom(expr string, from time.Time) (time.Time, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(from), nil
}
