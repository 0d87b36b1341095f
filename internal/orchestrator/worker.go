package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/domain"
)

// CandidateStore persists plan candidates produced by planner agents.
type CandidateStore interface {
	CreateCandidate(ctx context.Context, c *domain.PlanCandidate) error
}

// Worker consumes the fan-out events the orchestrator enqueues and records
// one run per agent. Planner agents additionally write a plan candidate so
// the consensus selector has material to rank. Handle matches the
// dispatcher's handler shape.
type Worker struct {
	runs   RunStore
	plans  CandidateStore
	ledger LedgerRecorder
	logger *slog.Logger
}

// NewWorker creates a Worker.
func NewWorker(runs RunStore, plans CandidateStore, ledger LedgerRecorder, logger *slog.Logger) *Worker {
	return &Worker{runs: runs, plans: plans, ledger: ledger, logger: logger}
}

// planFactors are the scoring inputs a task's context may carry. Absent
// fields default to zero, which scores as lowest risk and cost.
type planFactors struct {
	RiskScore          float64 `json:"risk_score"`
	EstimatedCostCents float64 `json:"estimated_cost_cents"`
	LifeImpact         float64 `json:"life_impact"`
	GapPriority        float64 `json:"gap_priority"`
}

// Handle processes one spawned-agent event. Errors propagate to the
// dispatcher, which owns the retry decision.
func (w *Worker) Handle(ctx context.Context, ev *domain.Event) error {
	var job agentJob
	if err := json.Unmarshal(ev.Payload, &job); err != nil {
		return fmt.Errorf("decoding agent job: %w", err)
	}
	if job.TaskID == "" || job.AgentName == "" {
		return fmt.Errorf("agent job missing task_id or agent_name")
	}

	run := &domain.SubagentRun{
		ID:        uuid.New(),
		TenantID:  ev.TenantID,
		TaskID:    job.TaskID,
		AgentName: job.AgentName,
		Input:     job.Context,
		Success:   true,
		CreatedAt: time.Now().UTC(),
	}
	run.Output, _ = json.Marshal(map[string]any{
		"agent":  job.AgentName,
		"status": "completed",
	})
	if err := w.runs.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("recording agent run: %w", err)
	}

	if job.AgentName == "planner" && w.plans != nil {
		var factors planFactors
		if len(job.Context) > 0 {
			_ = json.Unmarshal(job.Context, &factors)
		}
		candidate := &domain.PlanCandidate{
			ID:                 uuid.New(),
			TenantID:           ev.TenantID,
			TaskID:             job.TaskID,
			RiskScore:          factors.RiskScore,
			EstimatedCostCents: factors.EstimatedCostCents,
			LifeImpact:         factors.LifeImpact,
			GapPriority:        factors.GapPriority,
			Body:               job.Context,
			CreatedAt:          time.Now().UTC(),
		}
		if err := w.plans.CreateCandidate(ctx, candidate); err != nil {
			return fmt.Errorf("recording plan candidate: %w", err)
		}
	}

	if w.ledger != nil {
		w.ledger.Record(ctx, ev.TenantID, "subagent.run", job.AgentName, map[string]any{
			"task_id": job.TaskID,
			"run_id":  run.ID.String(),
		}, 0)
	}

	w.logger.InfoContext(ctx, "agent run recorded",
		slog.String("tenant_id", ev.TenantID.String()),
		slog.String("task_id", job.TaskID),
		slog.String("agent", job.AgentName),
	)
	return nil
}
