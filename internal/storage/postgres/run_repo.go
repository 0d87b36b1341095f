package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stewardhq/steward/internal/domain"
)

// RunRepository persists sub-agent runs, plan candidates, and consensus
// records with PostgreSQL.
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a RunRepository.
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// CreateRun appends a sub-agent run record.
func (r *RunRepository) CreateRun(ctx context.Context, run *domain.SubagentRun) error {
	model := toRunModel(run)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating subagent run: %w", err)
	}
	return nil
}

// ListRuns returns the run audit trail for a task, newest first.
func (r *RunRepository) ListRuns(ctx context.Context, tenantID uuid.UUID, taskID string) ([]domain.SubagentRun, error) {
	var models []SubagentRunModel
	if err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Where("task_id = ?", taskID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing subagent runs: %w", err)
	}
	runs := make([]domain.SubagentRun, len(models))
	for i := range models {
		runs[i] = *toRunDomain(&models[i])
	}
	return runs, nil
}

// CreateCandidate appends a plan candidate. Candidates are read-only once
// written.
func (r *RunRepository) CreateCandidate(ctx context.Context, c *domain.PlanCandidate) error {
	model := toCandidateModel(c)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating plan candidate: %w", err)
	}
	return nil
}

// ListCandidates returns a task's candidates in insertion order. The
// selector's tie-break depends on this ordering being stable.
func (r *RunRepository) ListCandidates(ctx context.Context, tenantID uuid.UUID, taskID string) ([]domain.PlanCandidate, error) {
	var models []PlanCandidateModel
	if err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Where("task_id = ?", taskID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing plan candidates: %w", err)
	}
	candidates := make([]domain.PlanCandidate, len(models))
	for i := range models {
		candidates[i] = *toCandidateDomain(&models[i])
	}
	return candidates, nil
}

// CreateConsensus appends a consensus record.
func (r *RunRepository) CreateConsensus(ctx context.Context, c *domain.Consensus) error {
	model := toConsensusModel(c)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating consensus: %w", err)
	}
	return nil
}

// GetConsensusByKey returns the consensus written for the task with the
// idempotency key, or nil when none exists. The key is scoped per task so
// reuse across tasks never returns another task's decision.
func (r *RunRepository) GetConsensusByKey(ctx context.Context, tenantID uuid.UUID, taskID, key string) (*domain.Consensus, error) {
	var model ConsensusModel
	err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Where("task_id = ? AND idempotency_key = ?", taskID, key).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting consensus by key: %w", err)
	}
	return toConsensusDomain(&model), nil
}

// ListConsensus returns all consensus rows for a task, newest first.
func (r *RunRepository) ListConsensus(ctx context.Context, tenantID uuid.UUID, taskID string) ([]domain.Consensus, error) {
	var models []ConsensusModel
	if err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Where("task_id = ?", taskID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing consensus records: %w", err)
	}
	records := make([]domain.Consensus, len(models))
	for i := range models {
		records[i] = *toConsensusDomain(&models[i])
	}
	return records, nil
}
