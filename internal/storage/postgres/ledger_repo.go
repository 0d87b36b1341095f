package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stewardhq/steward/internal/domain"
)

// LedgerRepository persists the append-only action ledger with PostgreSQL.
type LedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a LedgerRepository.
func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Append inserts one ledger entry. Entries are never updated or deleted.
func (r *LedgerRepository) Append(ctx context.Context, entry *domain.LedgerEntry) error {
	model := toLedgerModel(entry)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending ledger entry: %w", err)
	}
	return nil
}

// SumCostSince returns the tenant's total spend since the given time.
func (r *LedgerRepository) SumCostSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (float64, error) {
	var total float64
	if err := r.db.WithContext(ctx).
		Model(&LedgerEntryModel{}).
		Scopes(TenantScope(tenantID)).
		Where("created_at >= ?", since).
		Select("COALESCE(SUM(cost_cents), 0)").
		Scan(&total).Error; err != nil {
		return 0, fmt.Errorf("summing ledger cost: %w", err)
	}
	return total, nil
}

// ListSince returns entries for a tenant since the given time, newest first.
func (r *LedgerRepository) ListSince(ctx context.Context, tenantID uuid.UUID, since time.Time, limit int) ([]domain.LedgerEntry, error) {
	q := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Where("created_at >= ?", since).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []LedgerEntryModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing ledger entries: %w", err)
	}
	entries := make([]domain.LedgerEntry, len(models))
	for i := range models {
		entries[i] = *toLedgerDomain(&models[i])
	}
	return entries, nil
}
