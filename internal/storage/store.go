// Package storage defines the unified Store interface that abstracts all
// persistence operations. Two backends are provided: SQLite (default,
// zero-config) and PostgreSQL (production/multi-tenant).
package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/budget"
	"github.com/stewardhq/steward/internal/consensus"
	"github.com/stewardhq/steward/internal/control"
	"github.com/stewardhq/steward/internal/domain"
	"github.com/stewardhq/steward/internal/ethics"
	"github.com/stewardhq/steward/internal/ledger"
	"github.com/stewardhq/steward/internal/orchestrator"
	"github.com/stewardhq/steward/internal/queue"
	"github.com/stewardhq/steward/internal/scheduler"
	"github.com/stewardhq/steward/internal/selfimprove"
)

// PlanStore extends the consensus selector's view with the candidate
// writes performed by sub-agent workers.
type PlanStore interface {
	consensus.Store
	CreateCandidate(ctx context.Context, c *domain.PlanCandidate) error
}

// BudgetStore extends the guard's read view with administrative writes.
type BudgetStore interface {
	budget.PolicyStore
	SaveBudgetPolicy(ctx context.Context, policy *domain.BudgetPolicy) error
}

// ImproveStore extends the controller's view with the rating writes
// performed by the outcome-ingestion endpoint.
type ImproveStore interface {
	selfimprove.Store
	CreateRating(ctx context.Context, r *domain.OutcomeRating) error
}

// Store is the unified persistence interface.
// It provides access to all domain-specific sub-stores through accessor
// methods. Both SQLite and PostgreSQL backends implement this interface.
type Store interface {
	CronJobs() scheduler.DefinitionStore
	Events() queue.EventStore
	Runs() orchestrator.RunStore
	Plans() PlanStore
	Ethics() ethics.Store
	SelfImprove() ImproveStore
	Budgets() BudgetStore
	Ledger() ledger.Store
	Control() control.FlagStore

	// EnsureTenant returns the tenant with the given name, creating it on
	// first use.
	EnsureTenant(ctx context.Context, name string) (uuid.UUID, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// Driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)
