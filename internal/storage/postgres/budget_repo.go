package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stewardhq/steward/internal/domain"
)

// BudgetRepository persists per-tenant budget policies with PostgreSQL.
type BudgetRepository struct {
	db *gorm.DB
}

// NewBudgetRepository creates a BudgetRepository.
func NewBudgetRepository(db *gorm.DB) *BudgetRepository {
	return &BudgetRepository{db: db}
}

// GetBudgetPolicy returns the tenant's policy, or nil when unset.
func (r *BudgetRepository) GetBudgetPolicy(ctx context.Context, tenantID uuid.UUID) (*domain.BudgetPolicy, error) {
	var model BudgetPolicyModel
	err := r.db.WithContext(ctx).
		First(&model, "tenant_id = ?", tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting budget policy: %w", err)
	}
	return &domain.BudgetPolicy{
		TenantID:        model.TenantID,
		DailyLimitCents: model.DailyLimitCents,
		UpdatedAt:       model.UpdatedAt,
	}, nil
}

// SaveBudgetPolicy upserts the tenant's daily limit.
func (r *BudgetRepository) SaveBudgetPolicy(ctx context.Context, policy *domain.BudgetPolicy) error {
	model := BudgetPolicyModel{
		TenantID:        policy.TenantID,
		DailyLimitCents: policy.DailyLimitCents,
		UpdatedAt:       time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			UpdateAll: true,
		}).
		Create(&model).Error; err != nil {
		return fmt.Errorf("saving budget policy: %w", err)
	}
	return nil
}
