package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stewardhq/steward/internal/domain"
)

// ControlRepository persists control-plane flags and kill events with
// PostgreSQL.
type ControlRepository struct {
	db *gorm.DB
}

// NewControlRepository creates a ControlRepository.
func NewControlRepository(db *gorm.DB) *ControlRepository {
	return &ControlRepository{db: db}
}

// GetFlags returns the tenant's control flags, or nil when no row exists
// yet. Callers substitute defaults for a nil result.
func (r *ControlRepository) GetFlags(ctx context.Context, tenantID uuid.UUID) (*domain.ControlFlags, error) {
	var model ControlFlagsModel
	err := r.db.WithContext(ctx).
		First(&model, "tenant_id = ?", tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting control flags: %w", err)
	}
	return toFlagsDomain(&model), nil
}

// SaveFlags upserts the tenant's control flags.
func (r *ControlRepository) SaveFlags(ctx context.Context, flags *domain.ControlFlags) error {
	model := toFlagsModel(flags)
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			UpdateAll: true,
		}).
		Create(&model).Error; err != nil {
		return fmt.Errorf("saving control flags: %w", err)
	}
	return nil
}

// AppendKillEvent records one control-plane change. Append-only.
func (r *ControlRepository) AppendKillEvent(ctx context.Context, ev *domain.KillEvent) error {
	model := toKillEventModel(ev)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("appending kill event: %w", err)
	}
	return nil
}
