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

// GovernanceRepository persists ethics policies and incidents with
// PostgreSQL.
type GovernanceRepository struct {
	db *gorm.DB
}

// NewGovernanceRepository creates a GovernanceRepository.
func NewGovernanceRepository(db *gorm.DB) *GovernanceRepository {
	return &GovernanceRepository{db: db}
}

// GetEthicsPolicy returns the tenant's policy, or nil when unset.
func (r *GovernanceRepository) GetEthicsPolicy(ctx context.Context, tenantID uuid.UUID) (*domain.EthicsPolicy, error) {
	var model EthicsPolicyModel
	err := r.db.WithContext(ctx).
		First(&model, "tenant_id = ?", tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting ethics policy: %w", err)
	}
	return toPolicyDomain(&model), nil
}

// SaveEthicsPolicy upserts the tenant's policy weights.
func (r *GovernanceRepository) SaveEthicsPolicy(ctx context.Context, policy *domain.EthicsPolicy) error {
	model := toPolicyModel(policy)
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}},
			UpdateAll: true,
		}).
		Create(&model).Error; err != nil {
		return fmt.Errorf("saving ethics policy: %w", err)
	}
	return nil
}

// CreateIncident appends an incident record.
func (r *GovernanceRepository) CreateIncident(ctx context.Context, inc *domain.Incident) error {
	model := toIncidentModel(inc)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating incident: %w", err)
	}
	return nil
}

// ListIncidents returns the tenant's incidents, newest first.
func (r *GovernanceRepository) ListIncidents(ctx context.Context, tenantID uuid.UUID, onlyOpen bool, limit int) ([]domain.Incident, error) {
	q := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Order("created_at DESC")
	if onlyOpen {
		q = q.Where("resolved = ?", false)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []IncidentModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing incidents: %w", err)
	}
	incidents := make([]domain.Incident, len(models))
	for i := range models {
		incidents[i] = *toIncidentDomain(&models[i])
	}
	return incidents, nil
}

// ResolveIncident marks an incident handled by the named human.
func (r *GovernanceRepository) ResolveIncident(ctx context.Context, tenantID, id uuid.UUID, resolvedBy string) error {
	result := r.db.WithContext(ctx).
		Model(&IncidentModel{}).
		Scopes(TenantScope(tenantID)).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]any{
			"resolved":    true,
			"resolved_by": resolvedBy,
			"resolved_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("resolving incident %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("incident %s not found or already resolved", id)
	}
	return nil
}
