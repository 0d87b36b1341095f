package postgres

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/control"
	"github.com/stewardhq/steward/internal/ethics"
	"github.com/stewardhq/steward/internal/ledger"
	"github.com/stewardhq/steward/internal/orchestrator"
	"github.com/stewardhq/steward/internal/queue"
	"github.com/stewardhq/steward/internal/scheduler"
	"github.com/stewardhq/steward/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
// It wraps the existing DB and lazily creates sub-store repositories.
type Store struct {
	pgDB *DB

	mu       sync.Mutex
	cronJobs scheduler.DefinitionStore
	events   queue.EventStore
	runs     *RunRepository
	ethics   ethics.Store
	improve  storage.ImproveStore
	budgets  storage.BudgetStore
	ledger   ledger.Store
	control  control.FlagStore
}

// NewStore wraps an existing DB as a unified Store.
func NewStore(pgDB *DB) *Store {
	return &Store{pgDB: pgDB}
}

func (s *Store) Migrate(_ context.Context) error {
	// PostgreSQL migration runs in Open() via AutoMigrate.
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pgDB.Ping(ctx)
}

func (s *Store) Close() error {
	return s.pgDB.Close()
}

func (s *Store) Driver() string {
	return storage.DriverPostgres
}

// GormDB returns the underlying DB for direct access when needed.
func (s *Store) GormDB() *DB {
	return s.pgDB
}

func (s *Store) EnsureTenant(ctx context.Context, name string) (uuid.UUID, error) {
	repo := NewTenantRepository(s.pgDB.GormDB())
	return repo.EnsureTenant(ctx, name)
}

// --- Sub-store accessors ---

func (s *Store) CronJobs() scheduler.DefinitionStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cronJobs == nil {
		s.cronJobs = NewCronJobRepository(s.pgDB.GormDB())
	}
	return s.cronJobs
}

func (s *Store) Events() queue.EventStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		s.events = NewEventRepository(s.pgDB.GormDB())
	}
	return s.events
}

func (s *Store) Runs() orchestrator.RunStore {
	return s.runRepo()
}

func (s *Store) Plans() storage.PlanStore {
	return s.runRepo()
}

func (s *Store) runRepo() *RunRepository {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		s.runs = NewRunRepository(s.pgDB.GormDB())
	}
	return s.runs
}

func (s *Store) Ethics() ethics.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ethics == nil {
		s.ethics = NewGovernanceRepository(s.pgDB.GormDB())
	}
	return s.ethics
}

func (s *Store) SelfImprove() storage.ImproveStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.improve == nil {
		s.improve = NewImproveRepository(s.pgDB.GormDB())
	}
	return s.improve
}

func (s *Store) Budgets() storage.BudgetStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.budgets == nil {
		s.budgets = NewBudgetRepository(s.pgDB.GormDB())
	}
	return s.budgets
}

func (s *Store) Ledger() ledger.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ledger == nil {
		s.ledger = NewLedgerRepository(s.pgDB.GormDB())
	}
	return s.ledger
}

func (s *Store) Control() control.FlagStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.control == nil {
		s.control = NewControlRepository(s.pgDB.GormDB())
	}
	return s.control
}
