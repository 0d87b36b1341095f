package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stewardhq/steward/internal/budget"
	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/consensus"
	"github.com/stewardhq/steward/internal/control"
	"github.com/stewardhq/steward/internal/domain"
	"github.com/stewardhq/steward/internal/ethics"
	"github.com/stewardhq/steward/internal/ledger"
	"github.com/stewardhq/steward/internal/notification"
	"github.com/stewardhq/steward/internal/observability"
	"github.com/stewardhq/steward/internal/orchestrator"
	"github.com/stewardhq/steward/internal/queue"
	"github.com/stewardhq/steward/internal/scheduler"
	"github.com/stewardhq/steward/internal/selfimprove"
	"github.com/stewardhq/steward/internal/storage"
	pgstore "github.com/stewardhq/steward/internal/storage/postgres"
	sqlitestore "github.com/stewardhq/steward/internal/storage/sqlite"
)

// SharedComponents holds all initialized subsystems that both gateway and
// tick modes require. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    storage.Store // Unified store (SQLite or PostgreSQL).
	TenantID uuid.UUID     // Resolved tenant ID.

	Obs          *observability.Observability
	Recorder     *ledger.Recorder
	Guard        *budget.Guard
	Control      *control.Service
	Gate         *ethics.Gate
	Selector     *consensus.Selector
	Controller   *selfimprove.Controller
	Orchestrator *orchestrator.Orchestrator
	Publisher    orchestrator.EventPublisher // Instrumented when metrics are enabled.
	Dispatcher   *queue.Dispatcher           // nil = queue disabled.
	Scheduler    *scheduler.Scheduler        // nil = scheduler disabled.

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared performs all common initialization shared between gateway and
// tick modes. Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Ensure data directory exists.
	dataDir, err := cfg.ResolveDataDir()
	if err != nil {
		return nil, fmt.Errorf("resolving data directory: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}
	logger.Debug("data directory initialized", slog.String("path", dataDir))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
			slog.Bool("anomaly", obs.Anomaly != nil),
		)
	}

	// Storage (unified: SQLite default, PostgreSQL optional).
	store, err := initStore(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})

	// Run migrations.
	if err := store.Migrate(context.Background()); err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	tenantName := "default"
	if cfg.Storage != nil && cfg.Storage.Postgres != nil && cfg.Storage.Postgres.DefaultTenantName != "" {
		tenantName = cfg.Storage.Postgres.DefaultTenantName
	}
	tenantID, err := store.EnsureTenant(context.Background(), tenantName)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("ensuring default tenant: %w", err)
	}
	sc.TenantID = tenantID
	logger.Debug("tenant initialized",
		slog.String("tenant_name", tenantName),
		slog.String("tenant_id", tenantID.String()),
	)

	// Health checks.
	if obs != nil && obs.Health != nil {
		obs.Health.AddCheck("database", store.Ping)
	}

	// Action ledger. The JSONL mirror defaults to the data directory.
	ledgerPath := cfg.Ledger.FilePath
	if ledgerPath == "" {
		ledgerPath = filepath.Join(dataDir, "ledger.jsonl")
	}
	recorder, err := ledger.NewRecorder(store.Ledger(), ledgerPath, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing ledger recorder: %w", err)
	}
	sc.Recorder = recorder
	sc.addCleanup(func() {
		if err := recorder.Close(); err != nil {
			logger.Error("closing ledger recorder", slog.String("error", err.Error()))
		}
	})
	logger.Debug("ledger recorder initialized", slog.String("file", ledgerPath))

	// Budget guard. Callers pick hard or advisory mode per check; hard
	// checks fail closed on read errors.
	sc.Guard = budget.NewGuard(store.Budgets(), recorder, float64(cfg.Budget.DailyLimit()), logger)

	// Control plane.
	sc.Control = control.NewService(store.Control(), logger)

	// Incident escalation (optional webhook).
	var escalator ethics.Escalator
	if cfg.Notification != nil && cfg.Notification.WebhookURL != "" {
		dispatcher := notification.NewDispatcher(cfg.Notification, logger)
		escalator = dispatcher
		if obs != nil && obs.Metrics != nil {
			escalator = observability.NewInstrumentedEscalator(dispatcher, obs.Metrics, obs.Tracer)
		}
		logger.Debug("escalation webhook configured")
	}

	// Ethics gate.
	var ethicsMetrics *ethics.Metrics
	if obs != nil && obs.Metrics != nil {
		ethicsMetrics = ethics.NewMetrics(obs.Metrics.Registry)
	}
	sc.Gate = ethics.NewGate(store.Ethics(), escalator, cfg.Ethics, ethicsMetrics, logger)

	// Consensus selector.
	var consensusMetrics *consensus.Metrics
	if obs != nil && obs.Metrics != nil {
		consensusMetrics = consensus.NewMetrics(obs.Metrics.Registry)
	}
	sc.Selector = consensus.NewSelector(store.Plans(), cfg.Consensus, consensusMetrics, logger)

	// Self-improvement controller.
	var improveMetrics *selfimprove.Metrics
	if obs != nil && obs.Metrics != nil {
		improveMetrics = selfimprove.NewMetrics(obs.Metrics.Registry)
	}
	sc.Controller = selfimprove.NewController(store.SelfImprove(), sc.Control, recorder, cfg.SelfImprove, improveMetrics, logger)

	// Event publisher, instrumented when metrics are enabled.
	var queueMetrics *queue.Metrics
	if obs != nil && obs.Metrics != nil {
		queueMetrics = queue.NewMetrics(obs.Metrics.Registry)
	}
	publisher := queue.NewPublisher(store.Events(), cfg.Queue.Attempts(), queueMetrics, logger)
	var pub orchestrator.EventPublisher = publisher
	if obs != nil && obs.Metrics != nil {
		pub = observability.NewInstrumentedPublisher(publisher, obs.Metrics, obs.Tracer, obs.Anomaly)
	}
	sc.Publisher = pub

	// Orchestrator.
	var orchMetrics *orchestrator.Metrics
	if obs != nil && obs.Metrics != nil {
		orchMetrics = orchestrator.NewMetrics(obs.Metrics.Registry)
	}
	sc.Orchestrator = orchestrator.New(store.Runs(), pub, sc.Control, recorder, orchMetrics, logger, &cfg.Orchestrator)

	// Event dispatcher with the sub-agent worker and the daily tuning job.
	if cfg.Queue != nil && cfg.Queue.Enabled {
		dispatcher := queue.NewDispatcher(store.Events(), cfg.Queue, queueMetrics, logger, tenantID)
		worker := orchestrator.NewWorker(store.Runs(), store.Plans(), recorder, logger)
		dispatcher.Handle(cfg.Orchestrator.Topic(), worker.Handle)
		dispatcher.Handle(selfImproveTopic, sc.handleSelfImprove)
		sc.Dispatcher = dispatcher
		logger.Debug("event dispatcher initialized",
			slog.String("poll_interval", cfg.Queue.PollInterval().String()),
			slog.Int("batch", cfg.Queue.Batch()),
		)
	}

	// Cron scheduler (requires GORM access for transactional claims).
	gormDB := storeGormDB(store)
	if cfg.Scheduler != nil && cfg.Scheduler.Enabled && gormDB != nil {
		var schedMetrics *scheduler.Metrics
		if obs != nil && obs.Metrics != nil {
			schedMetrics = scheduler.NewMetrics(obs.Metrics.Registry)
		}
		sc.Scheduler = scheduler.New(
			store.CronJobs(),
			func(db *gorm.DB) scheduler.DefinitionStore {
				return pgstore.NewCronJobRepository(db)
			},
			gormDB,
			pub,
			schedMetrics,
			logger,
			cfg.Scheduler,
			tenantID,
		)
		logger.Debug("cron scheduler initialized",
			slog.String("poll_interval", cfg.Scheduler.PollInterval().String()),
			slog.Int("max_concurrent", cfg.Scheduler.MaxConcurrent()),
		)
	}

	return sc, nil
}

// selfImproveTopic is the queue topic that triggers a daily tuning pass.
// Schedule a cron job on this topic to run the controller automatically.
const selfImproveTopic = "daily.selfimprove"

// handleSelfImprove runs one self-improvement pass for the tenant the
// event belongs to.
func (sc *SharedComponents) handleSelfImprove(ctx context.Context, ev *domain.Event) error {
	result, err := sc.Controller.RunDaily(ctx, ev.TenantID)
	if err != nil {
		return fmt.Errorf("running daily tuning: %w", err)
	}
	sc.Logger.InfoContext(ctx, "daily tuning pass completed",
		slog.String("tenant_id", ev.TenantID.String()),
		slog.Bool("proposed", result.Proposed),
	)
	return nil
}

// initStore creates the appropriate storage backend from config.
func initStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.Storage.StorageDriver(); driver {
	case storage.DriverPostgres:
		return initPostgresStore(cfg, logger)
	case storage.DriverSQLite:
		return initSQLiteStore(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func initSQLiteStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	dbPath, err := cfg.SQLitePath()
	if err != nil {
		return nil, fmt.Errorf("resolving database path: %w", err)
	}
	journalMode := "wal"
	if cfg.Storage != nil && cfg.Storage.SQLite != nil && cfg.Storage.SQLite.JournalMode != "" {
		journalMode = cfg.Storage.SQLite.JournalMode
	}

	return sqlitestore.Open(sqlitestore.Config{
		Path:        dbPath,
		JournalMode: journalMode,
	}, logger)
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	pg := cfg.Storage.Postgres
	if pg == nil || pg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required (set storage.postgres.dsn or STEWARD_DB_DSN)")
	}

	pgDB, err := pgstore.Open(pgstore.Config{
		DSN:             pg.DSN,
		MaxOpenConns:    pg.MaxOpenConns,
		MaxIdleConns:    pg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	return pgstore.NewStore(pgDB), nil
}

// storeGormDB extracts the underlying *gorm.DB from the unified store.
// The scheduler needs direct GORM access for transaction-based claiming
// (SELECT FOR UPDATE SKIP LOCKED).
func storeGormDB(store storage.Store) *gorm.DB {
	switch s := store.(type) {
	case *pgstore.Store:
		return s.GormDB().GormDB()
	case *sqlitestore.Store:
		return s.GormDB()
	default:
		return nil
	}
}
