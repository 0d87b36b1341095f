// Package control implements the tenant control plane: pause flags and
// kill switches honored by the orchestrator and the self-improvement
// controller.
//
// Flags are fetched once per invocation through Snapshot rather than held
// as process-global state, so components stay testable in isolation and a
// flag flip takes effect on the next trigger delivery.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/domain"
)

// FlagStore is the persistence interface for control flags.
type FlagStore interface {
	// GetFlags returns the flags for a tenant, or defaults when unset.
	GetFlags(ctx context.Context, tenantID uuid.UUID) (*domain.ControlFlags, error)
	// SaveFlags upserts the flags for a tenant.
	SaveFlags(ctx context.Context, flags *domain.ControlFlags) error
	// AppendKillEvent records a control-plane change. Append-only.
	AppendKillEvent(ctx context.Context, event *domain.KillEvent) error
}

// Update is a partial control flag change. Nil fields are left untouched.
type Update struct {
	GlobalPause          *bool
	WriteFreeze          *bool
	ExternalCallsEnabled *bool
	Reason               string
	RequestedBy          string
}

// Service reads and mutates control flags, recording every change as a
// kill event.
type Service struct {
	store  FlagStore
	logger *slog.Logger
}

// NewService creates a control Service.
func NewService(store FlagStore, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Snapshot fetches the current flags for a tenant. Callers read flags once
// at the start of an invocation and act on that snapshot.
func (s *Service) Snapshot(ctx context.Context, tenantID uuid.UUID) (*domain.ControlFlags, error) {
	flags, err := s.store.GetFlags(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("fetching control flags: %w", err)
	}
	return flags, nil
}

// Apply merges an update into the tenant's flags and appends a kill event.
// The kill event write is best-effort: a failure is logged, not propagated,
// so an audit hiccup cannot leave the control plane stuck.
func (s *Service) Apply(ctx context.Context, tenantID uuid.UUID, upd Update) (*domain.ControlFlags, error) {
	flags, err := s.store.GetFlags(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("fetching control flags: %w", err)
	}

	action := ""
	if upd.GlobalPause != nil {
		flags.GlobalPause = *upd.GlobalPause
		if *upd.GlobalPause {
			action = "pause"
		} else {
			action = "resume"
		}
	}
	if upd.WriteFreeze != nil {
		flags.WriteFreeze = *upd.WriteFreeze
		if action == "" {
			action = "write_freeze"
		}
	}
	if upd.ExternalCallsEnabled != nil {
		flags.ExternalCallsEnabled = *upd.ExternalCallsEnabled
		if action == "" {
			action = "external_calls"
		}
	}
	if action == "" {
		return flags, nil // Nothing to change.
	}

	now := time.Now().UTC()
	flags.TenantID = tenantID
	flags.LastReason = upd.Reason
	flags.LastChangedBy = upd.RequestedBy
	flags.ChangedAt = now

	if err := s.store.SaveFlags(ctx, flags); err != nil {
		return nil, fmt.Errorf("saving control flags: %w", err)
	}

	if err := s.store.AppendKillEvent(ctx, &domain.KillEvent{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Level:       "global",
		Action:      action,
		RequestedBy: upd.RequestedBy,
		Reason:      upd.Reason,
		CreatedAt:   now,
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to record kill event",
			slog.String("tenant_id", tenantID.String()),
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "control flags updated",
		slog.String("tenant_id", tenantID.String()),
		slog.String("action", action),
		slog.Bool("global_pause", flags.GlobalPause),
		slog.String("requested_by", upd.RequestedBy),
	)

	return flags, nil
}

// Kill activates the global pause as an emergency stop.
func (s *Service) Kill(ctx context.Context, tenantID uuid.UUID, requestedBy, reason string) (*domain.ControlFlags, error) {
	if reason == "" {
		reason = "emergency kill switch activated"
	}
	paused := true
	return s.Apply(ctx, tenantID, Update{
		GlobalPause: &paused,
		Reason:      reason,
		RequestedBy: requestedBy,
	})
}

// DefaultFlags returns the flags used when a tenant has no stored record:
// not paused, writes allowed, external calls enabled.
func DefaultFlags(tenantID uuid.UUID) *domain.ControlFlags {
	return &domain.ControlFlags{
		TenantID:             tenantID,
		ExternalCallsEnabled: true,
	}
}
