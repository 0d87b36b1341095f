package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stewardhq/steward/internal/domain"
)

// ImproveRepository persists outcome ratings, change proposals, and the
// self-improvement log with PostgreSQL.
type ImproveRepository struct {
	db *gorm.DB
}

// NewImproveRepository creates an ImproveRepository.
func NewImproveRepository(db *gorm.DB) *ImproveRepository {
	return &ImproveRepository{db: db}
}

// CreateRating appends an outcome rating.
func (r *ImproveRepository) CreateRating(ctx context.Context, rating *domain.OutcomeRating) error {
	model := OutcomeRatingModel{
		ID:        rating.ID,
		TenantID:  rating.TenantID,
		TaskID:    rating.TaskID,
		UserID:    rating.UserID,
		Rating:    rating.Rating,
		CreatedAt: rating.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating outcome rating: %w", err)
	}
	return nil
}

// ListRatingsSince returns ratings recorded since the given time.
func (r *ImproveRepository) ListRatingsSince(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]domain.OutcomeRating, error) {
	var models []OutcomeRatingModel
	if err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Where("created_at >= ?", since).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing outcome ratings: %w", err)
	}
	ratings := make([]domain.OutcomeRating, len(models))
	for i := range models {
		ratings[i] = *toRatingDomain(&models[i])
	}
	return ratings, nil
}

// ListEligibleUsers returns the distinct users who have rated outcomes for
// the tenant. This population is what canary cohorts sample from.
func (r *ImproveRepository) ListEligibleUsers(ctx context.Context, tenantID uuid.UUID) ([]string, error) {
	var users []string
	if err := r.db.WithContext(ctx).
		Model(&OutcomeRatingModel{}).
		Scopes(TenantScope(tenantID)).
		Where("user_id <> ''").
		Distinct("user_id").
		Order("user_id ASC").
		Pluck("user_id", &users).Error; err != nil {
		return nil, fmt.Errorf("listing eligible users: %w", err)
	}
	return users, nil
}

// CreateProposal appends a change proposal.
func (r *ImproveRepository) CreateProposal(ctx context.Context, p *domain.ChangeProposal) error {
	model := toProposalModel(p)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating change proposal: %w", err)
	}
	return nil
}

// CreateLogEntry appends a self-improvement log entry.
func (r *ImproveRepository) CreateLogEntry(ctx context.Context, e *domain.SelfImproveLogEntry) error {
	model := toLogModel(e)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating self-improve log entry: %w", err)
	}
	return nil
}

// ListProposals returns the tenant's proposals filtered by status, newest
// first. Empty status returns all. Global proposals (NULL tenant) apply to
// every tenant and are included.
func (r *ImproveRepository) ListProposals(ctx context.Context, tenantID uuid.UUID, status string, limit int) ([]domain.ChangeProposal, error) {
	q := r.db.WithContext(ctx).
		Where("tenant_id = ? OR tenant_id IS NULL", tenantID).
		Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []ChangeProposalModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing change proposals: %w", err)
	}
	proposals := make([]domain.ChangeProposal, len(models))
	for i := range models {
		proposals[i] = *toProposalDomain(&models[i])
	}
	return proposals, nil
}

// GetProposal retrieves a proposal by ID.
func (r *ImproveRepository) GetProposal(ctx context.Context, id uuid.UUID) (*domain.ChangeProposal, error) {
	var model ChangeProposalModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("getting change proposal %s: %w", id, err)
	}
	return toProposalDomain(&model), nil
}

// UpdateProposalStatus transitions a canary proposal to its decision.
// Guarded at the row level so two concurrent decisions cannot both win.
func (r *ImproveRepository) UpdateProposalStatus(ctx context.Context, id uuid.UUID, status, decidedBy string) error {
	result := r.db.WithContext(ctx).
		Model(&ChangeProposalModel{}).
		Where("id = ? AND status = ?", id, domain.ProposalStatusCanary).
		Updates(map[string]any{
			"status":     status,
			"decided_by": decidedBy,
			"decided_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("updating change proposal %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("change proposal %s not found or already decided", id)
	}
	return nil
}

// LatestPromoted returns the most recently promoted proposal for a topic,
// or nil when none exists. Global proposals count for every tenant.
func (r *ImproveRepository) LatestPromoted(ctx context.Context, tenantID uuid.UUID, topic string) (*domain.ChangeProposal, error) {
	var model ChangeProposalModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? OR tenant_id IS NULL", tenantID).
		Where("topic = ? AND status = ?", topic, domain.ProposalStatusPromoted).
		Order("decided_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest promoted proposal: %w", err)
	}
	return toProposalDomain(&model), nil
}
