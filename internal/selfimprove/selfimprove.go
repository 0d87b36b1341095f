// Package selfimprove implements the daily tuning controller. When
// recent outcome quality sags it proposes a weight change, deployed first
// to a small random canary cohort. Promotion is always a human decision;
// nothing here ever widens a rollout on its own.
package selfimprove

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/domain"
)

// ProposalTopic tags weight-tuning proposals.
const ProposalTopic = "policy_weights"

// Store is the persistence interface for the controller.
type Store interface {
	// ListRatingsSince returns outcome ratings recorded since the given time.
	ListRatingsSince(ctx context.Context, tenantID uuid.UUID, since time.Time) ([]domain.OutcomeRating, error)
	// ListEligibleUsers returns the user population canary cohorts sample from.
	ListEligibleUsers(ctx context.Context, tenantID uuid.UUID) ([]string, error)
	CreateProposal(ctx context.Context, p *domain.ChangeProposal) error
	CreateLogEntry(ctx context.Context, e *domain.SelfImproveLogEntry) error
	ListProposals(ctx context.Context, tenantID uuid.UUID, status string, limit int) ([]domain.ChangeProposal, error)
	GetProposal(ctx context.Context, id uuid.UUID) (*domain.ChangeProposal, error)
	// UpdateProposalStatus transitions a proposal. Only canary rows may move.
	UpdateProposalStatus(ctx context.Context, id uuid.UUID, status, decidedBy string) error
	// LatestPromoted returns the most recently promoted proposal for a
	// topic, or nil when none exists.
	LatestPromoted(ctx context.Context, tenantID uuid.UUID, topic string) (*domain.ChangeProposal, error)
}

// ControlPlane reports the tenant's control flags.
type ControlPlane interface {
	Snapshot(ctx context.Context, tenantID uuid.UUID) (*domain.ControlFlags, error)
}

// LedgerRecorder appends audit entries. Satisfied by ledger.Recorder.
type LedgerRecorder interface {
	Record(ctx context.Context, tenantID uuid.UUID, topic, actor string, payload any, costCents float64) (warning string)
}

// Weights is the tuning pair the controller adjusts: quality up when
// outcomes sag, cost pressure down.
type Weights struct {
	Quality float64 `json:"quality"`
	Cost    float64 `json:"cost"`
}

// DefaultWeights is the starting point before any promoted proposal.
var DefaultWeights = Weights{Quality: 1.0, Cost: 1.0}

// proposalPayload is the JSON stored on each proposal's dry-run metrics.
type proposalPayload struct {
	Before     Weights `json:"before"`
	After      Weights `json:"after"`
	MeanRating float64 `json:"mean_rating"`
	Ratings    int     `json:"ratings"`
}

// RunResult reports what a daily run did. A run that proposes nothing is a
// normal outcome, not an error.
type RunResult struct {
	Paused      bool    `json:"paused"`
	Proposed    bool    `json:"proposed"`
	Reason      string  `json:"reason"`
	MeanRating  float64 `json:"mean_rating"`
	RatingCount int     `json:"rating_count"`
	ProposalID  string  `json:"proposal_id,omitempty"`
	CohortSize  int     `json:"cohort_size,omitempty"`
	Warning     string  `json:"warning,omitempty"`
}

// Controller runs the daily tuning pass.
type Controller struct {
	store   Store
	control ControlPlane
	ledger  LedgerRecorder
	metrics *Metrics
	logger  *slog.Logger
	config  config.SelfImproveConfig

	// shuffle reorders the eligible population before the cohort cut.
	// Injectable so tests run deterministically.
	shuffle func(n int, swap func(i, j int))
}

// NewController creates a Controller.
func NewController(store Store, control ControlPlane, ledger LedgerRecorder, cfg config.SelfImproveConfig, metrics *Metrics, logger *slog.Logger) *Controller {
	return &Controller{
		store:   store,
		control: control,
		ledger:  ledger,
		config:  cfg,
		metrics: metrics,
		logger:  logger,
		shuffle: rand.Shuffle,
	}
}

// WithShuffleFunc replaces the cohort shuffle. Intended for tests.
func (c *Controller) WithShuffleFunc(fn func(n int, swap func(i, j int))) *Controller {
	c.shuffle = fn
	return c
}

// RunDaily evaluates the current day's outcome ratings and, when the mean
// falls below the quality floor, files one canary ChangeProposal with its
// paired log entry. Ratings of 0 are unrated and excluded from the mean.
func (c *Controller) RunDaily(ctx context.Context, tenantID uuid.UUID) (*RunResult, error) {
	flags, err := c.control.Snapshot(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("reading control flags: %w", err)
	}
	if flags.GlobalPause || flags.WriteFreeze {
		c.logger.InfoContext(ctx, "self-improvement run skipped",
			slog.String("tenant_id", tenantID.String()),
			slog.Bool("global_pause", flags.GlobalPause),
			slog.Bool("write_freeze", flags.WriteFreeze),
		)
		return &RunResult{Paused: true, Reason: "tenant paused or write-frozen"}, nil
	}

	since := time.Now().UTC().Truncate(24 * time.Hour)
	ratings, err := c.store.ListRatingsSince(ctx, tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("loading outcome ratings: %w", err)
	}

	var sum, count float64
	for _, r := range ratings {
		if r.Rating > 0 {
			sum += float64(r.Rating)
			count++
		}
	}
	if count == 0 {
		return &RunResult{Reason: "no rated outcomes today"}, nil
	}

	mean := sum / count
	result := &RunResult{MeanRating: mean, RatingCount: int(count)}

	if mean >= c.config.Floor() {
		result.Reason = fmt.Sprintf("mean rating %.2f meets the %.1f floor", mean, c.config.Floor())
		return result, nil
	}

	before, err := c.currentWeights(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	after := Weights{
		Quality: before.Quality * (1 + c.config.QualityRaise()),
		Cost:    before.Cost * (1 - c.config.CostTrim()),
	}

	users, err := c.store.ListEligibleUsers(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading eligible users: %w", err)
	}
	cohort := c.sampleCohort(users)

	payload, _ := json.Marshal(proposalPayload{
		Before:     before,
		After:      after,
		MeanRating: mean,
		Ratings:    int(count),
	})
	proposal := &domain.ChangeProposal{
		ID:            uuid.New(),
		TenantID:      &tenantID,
		Topic:         ProposalTopic,
		DryRunMetrics: payload,
		Canary: domain.Canary{
			CohortSize:    len(cohort),
			UserIDs:       cohort,
			DurationHours: c.config.Duration(),
		},
		Status:    domain.ProposalStatusCanary,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.CreateProposal(ctx, proposal); err != nil {
		return nil, fmt.Errorf("persisting proposal: %w", err)
	}

	entry := &domain.SelfImproveLogEntry{
		ID:         uuid.New(),
		TenantID:   tenantID,
		ProposalID: proposal.ID,
		ChangeType: ProposalTopic,
		Rationale: fmt.Sprintf(
			"mean outcome rating %.2f over %d rated tasks fell below %.1f; raising quality weight %.2f -> %.2f, trimming cost weight %.2f -> %.2f; canary cohort of %d users for %dh",
			mean, int(count), c.config.Floor(),
			before.Quality, after.Quality, before.Cost, after.Cost,
			len(cohort), c.config.Duration(),
		),
		CreatedAt: time.Now().UTC(),
	}
	entry.Before, _ = json.Marshal(before)
	entry.After, _ = json.Marshal(after)
	if err := c.store.CreateLogEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("persisting log entry: %w", err)
	}

	result.Proposed = true
	result.Reason = "mean rating below quality floor"
	result.ProposalID = proposal.ID.String()
	result.CohortSize = len(cohort)
	result.Warning = c.ledger.Record(ctx, tenantID, "self_improve.propose", "selfimprove", map[string]any{
		"proposal_id": proposal.ID.String(),
		"mean_rating": mean,
		"cohort_size": len(cohort),
	}, 0)

	if c.metrics != nil {
		c.metrics.ProposalsCreated.Inc()
	}
	c.logger.InfoContext(ctx, "change proposal filed",
		slog.String("tenant_id", tenantID.String()),
		slog.String("proposal_id", proposal.ID.String()),
		slog.Float64("mean_rating", mean),
		slog.Int("cohort_size", len(cohort)),
	)

	return result, nil
}

// sampleCohort shuffles the population and cuts an exact top-N slice of
// size ceil(fraction * len). Frozen at proposal time, never recomputed.
func (c *Controller) sampleCohort(users []string) []string {
	if len(users) == 0 {
		return []string{}
	}
	shuffled := make([]string, len(users))
	copy(shuffled, users)
	c.shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	n := int(math.Ceil(c.config.Fraction() * float64(len(users))))
	if n > len(shuffled) {
		n = len(shuffled)
	}
	return shuffled[:n]
}

// currentWeights resolves the active tuning pair: the most recently
// promoted proposal's after-weights, or the defaults.
func (c *Controller) currentWeights(ctx context.Context, tenantID uuid.UUID) (Weights, error) {
	promoted, err := c.store.LatestPromoted(ctx, tenantID, ProposalTopic)
	if err != nil {
		return Weights{}, fmt.Errorf("loading promoted weights: %w", err)
	}
	if promoted == nil {
		return DefaultWeights, nil
	}
	var p proposalPayload
	if err := json.Unmarshal(promoted.DryRunMetrics, &p); err != nil {
		return Weights{}, fmt.Errorf("decoding promoted proposal %s: %w", promoted.ID, err)
	}
	return p.After, nil
}

// Promote marks a canary proposal as rolled out. The decision is external;
// this only records it.
func (c *Controller) Promote(ctx context.Context, id uuid.UUID, decidedBy string) error {
	return c.decide(ctx, id, domain.ProposalStatusPromoted, decidedBy)
}

// Reject discards a canary proposal.
func (c *Controller) Reject(ctx context.Context, id uuid.UUID, decidedBy string) error {
	return c.decide(ctx, id, domain.ProposalStatusRejected, decidedBy)
}

func (c *Controller) decide(ctx context.Context, id uuid.UUID, status, decidedBy string) error {
	if decidedBy == "" {
		return fmt.Errorf("decided_by is required")
	}
	proposal, err := c.store.GetProposal(ctx, id)
	if err != nil {
		return fmt.Errorf("loading proposal: %w", err)
	}
	if proposal.Status != domain.ProposalStatusCanary {
		return fmt.Errorf("proposal %s is %s; only canary proposals can be decided", id, proposal.Status)
	}
	if err := c.store.UpdateProposalStatus(ctx, id, status, decidedBy); err != nil {
		return fmt.Errorf("updating proposal status: %w", err)
	}
	c.logger.InfoContext(ctx, "proposal decided",
		slog.String("proposal_id", id.String()),
		slog.String("status", status),
		slog.String("decided_by", decidedBy),
	)
	return nil
}

// Proposals lists the tenant's proposals filtered by status. Empty status
// returns all.
func (c *Controller) Proposals(ctx context.Context, tenantID uuid.UUID, status string, limit int) ([]domain.ChangeProposal, error) {
	proposals, err := c.store.ListProposals(ctx, tenantID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("listing proposals: %w", err)
	}
	return proposals, nil
}
