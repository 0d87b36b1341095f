// Package sqlite implements the unified Store interface using SQLite via GORM.
// Uses modernc.org/sqlite (pure Go, no CGO) through the glebarez/sqlite GORM driver.
//
// Key differences from the PostgreSQL backend:
//   - WAL mode enabled by default for concurrent reads
//   - Row claiming relies on busy_timeout rather than SELECT FOR UPDATE SKIP LOCKED
//   - JSONB columns use TEXT type (SQLite stores JSON as text natively)
//   - No connection pooling (single file, WAL handles concurrency)
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/stewardhq/steward/internal/control"
	"github.com/stewardhq/steward/internal/ethics"
	"github.com/stewardhq/steward/internal/ledger"
	"github.com/stewardhq/steward/internal/orchestrator"
	"github.com/stewardhq/steward/internal/queue"
	"github.com/stewardhq/steward/internal/scheduler"
	"github.com/stewardhq/steward/internal/storage"
	pgstore "github.com/stewardhq/steward/internal/storage/postgres"
)

// Config holds SQLite-specific configuration.
type Config struct {
	Path        string // Database file path.
	JournalMode string // WAL mode by default.
}

// Store implements storage.Store backed by SQLite.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	path   string

	// Sub-store instances (created lazily on first access).
	mu       sync.Mutex
	cronJobs scheduler.DefinitionStore
	events   queue.EventStore
	runs     *pgstore.RunRepository
	ethics   ethics.Store
	improve  storage.ImproveStore
	budgets  storage.BudgetStore
	ledger   ledger.Store
	control  control.FlagStore
}

// Open creates a new SQLite-backed Store.
func Open(cfg Config, slogger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	// Ensure parent directory exists.
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating database directory %s: %w", dir, err)
	}

	journalMode := cfg.JournalMode
	if journalMode == "" {
		journalMode = "wal"
	}

	// Build DSN with pragmas.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(%s)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path, journalMode)

	gormLogger := logger.New(
		slogAdapter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: slogger,
		path:   cfg.Path,
	}

	slogger.Info("sqlite store opened", slog.String("path", cfg.Path), slog.String("journal_mode", journalMode))
	return s, nil
}

// Migrate runs GORM AutoMigrate to create/update tables.
// Uses the same models as the PostgreSQL backend.
func (s *Store) Migrate(_ context.Context) error {
	return pgstore.AutoMigrate(s.db)
}

// Ping checks the database connection for health/readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Driver returns "sqlite".
func (s *Store) Driver() string {
	return storage.DriverSQLite
}

// GormDB returns the underlying GORM DB for sub-store construction.
func (s *Store) GormDB() *gorm.DB {
	return s.db
}

// EnsureTenant creates or retrieves a tenant by name.
func (s *Store) EnsureTenant(ctx context.Context, name string) (uuid.UUID, error) {
	repo := pgstore.NewTenantRepository(s.db)
	return repo.EnsureTenant(ctx, name)
}

// --- Sub-store accessors ---
// All sub-stores reuse the existing PostgreSQL repository implementations
// since they operate on the same GORM models. GORM's SQLite dialect
// handles the SQL differences transparently.

func (s *Store) CronJobs() scheduler.DefinitionStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cronJobs == nil {
		s.cronJobs = pgstore.NewCronJobRepository(s.db)
	}
	return s.cronJobs
}

func (s *Store) Events() queue.EventStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		s.events = pgstore.NewEventRepository(s.db)
	}
	return s.events
}

func (s *Store) Runs() orchestrator.RunStore {
	return s.runRepo()
}

func (s *Store) Plans() storage.PlanStore {
	return s.runRepo()
}

func (s *Store) runRepo() *pgstore.RunRepository {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		s.runs = pgstore.NewRunRepository(s.db)
	}
	return s.runs
}

func (s *Store) Ethics() ethics.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ethics == nil {
		s.ethics = pgstore.NewGovernanceRepository(s.db)
	}
	return s.ethics
}

func (s *Store) SelfImprove() storage.ImproveStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.improve == nil {
		s.improve = pgstore.NewImproveRepository(s.db)
	}
	return s.improve
}

func (s *Store) Budgets() storage.BudgetStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.budgets == nil {
		s.budgets = pgstore.NewBudgetRepository(s.db)
	}
	return s.budgets
}

func (s *Store) Ledger() ledger.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ledger == nil {
		s.ledger = pgstore.NewLedgerRepository(s.db)
	}
	return s.ledger
}

func (s *Store) Control() control.FlagStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.control == nil {
		s.control = pgstore.NewControlRepository(s.db)
	}
	return s.control
}

// slogAdapter wraps *slog.Logger for GORM's logger.Writer interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (s slogAdapter) Printf(format string, args ...any) {
	s.logger.Info(fmt.Sprintf(format, args...))
}
