// Package ledger implements the append-only action ledger. Every
// autonomous action lands here as one row; daily spend is derived by
// summing cost over the current period.
//
// Ledger writes are fire-and-forget by contract: Record never fails the
// caller. A failed write is surfaced as a warning string for the caller's
// telemetry instead.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/domain"
)

// Store is the persistence interface for ledger entries.
type Store interface {
	// Append writes a single entry. Never updates or deletes.
	Append(ctx context.Context, entry *domain.LedgerEntry) error
	// SumCostSince returns the total cost in cents for a tenant since the
	// given time.
	SumCostSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (float64, error)
	// ListSince returns entries for a tenant since the given time, newest first.
	ListSince(ctx context.Context, tenantID uuid.UUID, since time.Time, limit int) ([]domain.LedgerEntry, error)
}

// Recorder writes ledger entries to the store and optionally mirrors them
// to an append-only JSONL file. Thread-safe.
type Recorder struct {
	store  Store
	logger *slog.Logger

	mu   sync.Mutex
	file *os.File
}

// NewRecorder creates a Recorder. filePath is optional; when non-empty the
// file is opened append-only with 0600 permissions.
func NewRecorder(store Store, filePath string, logger *slog.Logger) (*Recorder, error) {
	r := &Recorder{store: store, logger: logger}
	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("opening ledger file %s: %w", filePath, err)
		}
		r.file = f
	}
	return r, nil
}

// Record appends one entry. It never returns an error: on failure the
// entry is logged and a warning string is returned for the caller to carry
// in its telemetry.
func (r *Recorder) Record(ctx context.Context, tenantID uuid.UUID, topic, actor string, payload any, costCents float64) (warning string) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}

	entry := &domain.LedgerEntry{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Topic:     topic,
		Actor:     actor,
		Payload:   raw,
		CostCents: costCents,
		CreatedAt: time.Now().UTC(),
	}

	if err := r.store.Append(ctx, entry); err != nil {
		warning = fmt.Sprintf("ledger write failed: %v", err)
		r.logger.WarnContext(ctx, "ledger write failed",
			slog.String("tenant_id", tenantID.String()),
			slog.String("topic", topic),
			slog.String("error", err.Error()),
		)
	}

	r.mirror(ctx, entry)
	return warning
}

// mirror appends the entry to the JSONL file when configured. Marshal
// happens outside the lock; only the file write is serialized.
func (r *Recorder) mirror(ctx context.Context, entry *domain.LedgerEntry) {
	if r.file == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	r.mu.Lock()
	_, writeErr := r.file.Write(data)
	r.mu.Unlock()

	if writeErr != nil {
		r.logger.WarnContext(ctx, "ledger file mirror failed",
			slog.String("error", writeErr.Error()),
		)
	}
}

// SpentToday returns the tenant's total spend since the current UTC
// day boundary.
func (r *Recorder) SpentToday(ctx context.Context, tenantID uuid.UUID) (float64, error) {
	since := time.Now().UTC().Truncate(24 * time.Hour)
	spent, err := r.store.SumCostSince(ctx, tenantID, since)
	if err != nil {
		return 0, fmt.Errorf("summing ledger cost: %w", err)
	}
	return spent, nil
}

// Close closes the JSONL mirror file if one is open.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}
