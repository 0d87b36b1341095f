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

// EventRepository implements the durable job queue with PostgreSQL.
type EventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates an EventRepository.
func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Insert persists a new event.
func (r *EventRepository) Insert(ctx context.Context, ev *domain.Event) error {
	model := toEventModel(ev)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// ClaimBatch atomically flips up to limit new events to claimed and
// increments their attempt counts. SELECT ... FOR UPDATE SKIP LOCKED keeps
// concurrent dispatchers from claiming the same rows.
func (r *EventRepository) ClaimBatch(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.Event, error) {
	var claimed []domain.Event

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var models []EventModel
		if err := tx.
			Scopes(TenantScope(tenantID)).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", domain.EventStatusNew).
			Order("created_at ASC").
			Limit(limit).
			Find(&models).Error; err != nil {
			return fmt.Errorf("selecting claimable events: %w", err)
		}
		if len(models) == 0 {
			return nil
		}

		now := time.Now().UTC()
		ids := make([]uuid.UUID, len(models))
		for i := range models {
			ids[i] = models[i].ID
		}
		if err := tx.Model(&EventModel{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":     domain.EventStatusClaimed,
				"attempts":   gorm.Expr("attempts + 1"),
				"claimed_at": now,
			}).Error; err != nil {
			return fmt.Errorf("claiming events: %w", err)
		}

		claimed = make([]domain.Event, len(models))
		for i := range models {
			ev := toEventDomain(&models[i])
			ev.Status = domain.EventStatusClaimed
			ev.Attempts++
			ev.ClaimedAt = &now
			claimed[i] = *ev
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkDone flips a claimed event to done.
func (r *EventRepository) MarkDone(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	if err := r.db.WithContext(ctx).
		Model(&EventModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       domain.EventStatusDone,
			"completed_at": now,
		}).Error; err != nil {
		return fmt.Errorf("marking event %s done: %w", id, err)
	}
	return nil
}

// MarkFailed records the handler error. With retry the event returns to
// new for redelivery; without it the event is parked as failed.
func (r *EventRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string, retry bool) error {
	updates := map[string]any{"error": errMsg}
	if retry {
		updates["status"] = domain.EventStatusNew
	} else {
		updates["status"] = domain.EventStatusFailed
		updates["completed_at"] = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).
		Model(&EventModel{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("marking event %s failed: %w", id, err)
	}
	return nil
}

// Get retrieves an event by ID within a tenant.
func (r *EventRepository) Get(ctx context.Context, tenantID, id uuid.UUID) (*domain.Event, error) {
	var model EventModel
	if err := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		First(&model, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("getting event %s: %w", id, err)
	}
	return toEventDomain(&model), nil
}

// List returns events for a tenant filtered by status, newest first.
func (r *EventRepository) List(ctx context.Context, tenantID uuid.UUID, status string, limit int) ([]domain.Event, error) {
	q := r.db.WithContext(ctx).
		Scopes(TenantScope(tenantID)).
		Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []EventModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	events := make([]domain.Event, len(models))
	for i := range models {
		events[i] = *toEventDomain(&models[i])
	}
	return events, nil
}
