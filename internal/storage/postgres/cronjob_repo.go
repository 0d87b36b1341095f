package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stewardhq/steward/internal/domain"
)

// CronJobRepository implements cron definition persistence with PostgreSQL.
type CronJobRepository struct {
	db *gorm.DB
}

// NewCronJobRepository creates a CronJobRepository.
func NewCronJobRepository(db *gorm.DB) *CronJobRepository {
	return &CronJobRepository{db: db}
}

// Create persists a new cron definition.
func (r *CronJobRepository) Create(ctx context.Context, def *domain.CronJobDefinition) error {
	model := toCronJobModel(def)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating cron definition: %w", err)
	}
	return nil
}

// Get retrieves a cron definition by ID within a tenant.
func (r *CronJobRepository) Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.CronJobDefinition, error) {
	var model CronJobDefinitionModel
	if err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		First(&model, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("getting cron definition %s: %w", id, err)
	}
	return toCronJobDomain(&model), nil
}

// List returns all cron definitions for a tenant.
func (r *CronJobRepository) List(ctx context.Context, tenantID uuid.UUID) ([]domain.CronJobDefinition, error) {
	var models []CronJobDefinitionModel
	if err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing cron definitions: %w", err)
	}
	defs := make([]domain.CronJobDefinition, len(models))
	for i := range models {
		defs[i] = *toCronJobDomain(&models[i])
	}
	return defs, nil
}

// Update persists changes to an existing cron definition.
func (r *CronJobRepository) Update(ctx context.Context, def *domain.CronJobDefinition) error {
	model := toCronJobModel(def)
	if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
		return fmt.Errorf("updating cron definition: %w", err)
	}
	return nil
}

// Delete soft-deletes a cron definition by ID within a tenant.
func (r *CronJobRepository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Delete(&CronJobDefinitionModel{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("deleting cron definition %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("cron definition %s not found", id)
	}
	return nil
}

// GetDue returns enabled definitions whose NextRunAt <= now, atomically
// locking them with SELECT ... FOR UPDATE SKIP LOCKED to prevent
// double-firing across multiple gateway instances.
func (r *CronJobRepository) GetDue(ctx context.Context, tenantID uuid.UUID, now time.Time) ([]domain.CronJobDefinition, error) {
	var models []CronJobDefinitionModel
	if err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("enabled = ? AND next_run_at IS NOT NULL AND next_run_at <= ?", true, now).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("getting due cron definitions: %w", err)
	}
	defs := make([]domain.CronJobDefinition, len(models))
	for i := range models {
		defs[i] = *toCronJobDomain(&models[i])
	}
	return defs, nil
}

// RecordRun updates the definition after its event has been published.
func (r *CronJobRepository) RecordRun(ctx context.Context, id uuid.UUID, nextRunAt time.Time, errMsg string) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"last_run_at": now,
		"last_error":  errMsg,
		"next_run_at": nextRunAt,
		"updated_at":  now,
	}
	if err := r.db.WithContext(ctx).
		Model(&CronJobDefinitionModel{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("recording run for cron definition %s: %w", id, err)
	}
	return nil
}
