// Package consensus picks the winning plan for a task from its candidates.
// Scoring blends risk and cost; lower of either strictly raises the score.
// Ties resolve to first-seen input order.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/domain"
)

// ErrNoCandidates reports a task with no plan candidates to choose from.
// Callers may retry later; candidates can simply not exist yet.
var ErrNoCandidates = errors.New("no plan candidates for task")

// Store is the persistence interface for the selector.
type Store interface {
	ListCandidates(ctx context.Context, tenantID uuid.UUID, taskID string) ([]domain.PlanCandidate, error)
	CreateConsensus(ctx context.Context, c *domain.Consensus) error
	// GetConsensusByKey returns the consensus previously written for the
	// task with the idempotency key, or nil when none exists. Keys are
	// scoped per task: the same key on two tasks names two decisions.
	GetConsensusByKey(ctx context.Context, tenantID uuid.UUID, taskID, key string) (*domain.Consensus, error)
	ListConsensus(ctx context.Context, tenantID uuid.UUID, taskID string) ([]domain.Consensus, error)
}

// Selector scores candidates and persists the chosen plan.
type Selector struct {
	store   Store
	metrics *Metrics
	logger  *slog.Logger
	config  config.ConsensusConfig
}

// NewSelector creates a Selector.
func NewSelector(store Store, cfg config.ConsensusConfig, metrics *Metrics, logger *slog.Logger) *Selector {
	return &Selector{store: store, config: cfg, metrics: metrics, logger: logger}
}

// scored pairs a candidate with its computed score. Index preserves input
// order for the stable tie-break.
type scored struct {
	candidate domain.PlanCandidate
	score     float64
	index     int
}

// Select loads the task's candidates, scores them, and persists a new
// Consensus row for the winner. Repeat calls append rows as an audit
// trail unless idempotencyKey is set, in which case an existing row with
// that key is returned unchanged.
func (s *Selector) Select(ctx context.Context, tenantID uuid.UUID, taskID, idempotencyKey string) (*domain.Consensus, error) {
	if taskID == "" {
		return nil, fmt.Errorf("task_id is required")
	}

	if idempotencyKey != "" {
		existing, err := s.store.GetConsensusByKey(ctx, tenantID, taskID, idempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("checking idempotency key: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	candidates, err := s.store.ListCandidates(ctx, tenantID, taskID)
	if err != nil {
		return nil, fmt.Errorf("loading candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNoCandidates)
	}

	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		ranked[i] = scored{candidate: c, score: s.Score(c), index: i}
	}
	// Stable tie-break: equal scores keep first-seen order.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	winner := ranked[0]
	confidence := int(math.Round(winner.score))
	if maxC := s.config.MaxConfidence(); confidence > maxC {
		confidence = maxC
	}
	if confidence < 0 {
		confidence = 0
	}

	alternatives := make([]domain.RankedAlternative, 0, 2)
	for _, r := range ranked[1:] {
		if len(alternatives) == 2 {
			break
		}
		alternatives = append(alternatives, domain.RankedAlternative{
			PlanID: r.candidate.ID,
			Score:  int(math.Round(r.score)),
		})
	}

	c := &domain.Consensus{
		ID:           uuid.New(),
		TenantID:     tenantID,
		TaskID:       taskID,
		ChosenPlanID: winner.candidate.ID,
		Confidence:   confidence,
		Reasoning: fmt.Sprintf(
			"selected plan %s with score %.1f (risk %.0f, cost %.0fc) out of %d candidates",
			winner.candidate.ID, winner.score, winner.candidate.RiskScore,
			winner.candidate.EstimatedCostCents, len(candidates),
		),
		Alternatives:   alternatives,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreateConsensus(ctx, c); err != nil {
		return nil, fmt.Errorf("persisting consensus: %w", err)
	}

	if s.metrics != nil {
		s.metrics.Selections.Inc()
		s.metrics.CandidatesScored.Add(float64(len(candidates)))
	}
	s.logger.InfoContext(ctx, "consensus selected",
		slog.String("tenant_id", tenantID.String()),
		slog.String("task_id", taskID),
		slog.String("chosen_plan_id", winner.candidate.ID.String()),
		slog.Int("confidence", confidence),
	)

	return c, nil
}

// Score computes a candidate's blended score. Higher risk or higher cost
// strictly lowers it.
func (s *Selector) Score(c domain.PlanCandidate) float64 {
	return 100 - (c.RiskScore*s.config.RiskW() + c.EstimatedCostCents/s.config.CostDiv()*s.config.CostW())
}

// History returns all consensus rows recorded for a task, newest first.
func (s *Selector) History(ctx context.Context, tenantID uuid.UUID, taskID string) ([]domain.Consensus, error) {
	rows, err := s.store.ListConsensus(ctx, tenantID, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing consensus history: %w", err)
	}
	return rows, nil
}
