// Package orchestrator fans tasks out to sub-agents. The fan-out list is
// bounded before any enqueue call, so the cap holds by construction even
// under concurrent invocations for the same task.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/domain"
)

// RunStore persists sub-agent run records.
type RunStore interface {
	CreateRun(ctx context.Context, run *domain.SubagentRun) error
	ListRuns(ctx context.Context, tenantID uuid.UUID, taskID string) ([]domain.SubagentRun, error)
}

// EventPublisher enqueues one event per spawned agent. Satisfied by
// queue.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, tenantID uuid.UUID, topic string, payload any) (*domain.Event, error)
}

// ControlPlane reports the tenant's control flags. Satisfied by
// control.Service.
type ControlPlane interface {
	Snapshot(ctx context.Context, tenantID uuid.UUID) (*domain.ControlFlags, error)
}

// LedgerRecorder appends audit entries. Satisfied by ledger.Recorder.
type LedgerRecorder interface {
	Record(ctx context.Context, tenantID uuid.UUID, topic, actor string, payload any, costCents float64) (warning string)
}

// SpawnRequest describes one orchestration invocation.
type SpawnRequest struct {
	TenantID uuid.UUID       `json:"tenant_id"`
	TaskID   string          `json:"task_id"`
	Context  json.RawMessage `json:"context"`
}

// SpawnResult reports what an orchestration invocation did. Paused
// invocations enqueue nothing and carry Paused=true rather than an error.
type SpawnResult struct {
	Paused       bool     `json:"paused"`
	QueuedAgents []string `json:"queued_agents"`
	RunID        string   `json:"run_id,omitempty"`
	Warning      string   `json:"warning,omitempty"`
}

// agentJob is the payload of each fan-out event.
type agentJob struct {
	TaskID    string          `json:"task_id"`
	AgentName string          `json:"agent_name"`
	Context   json.RawMessage `json:"context"`
}

// Orchestrator spawns capped sub-agent fan-outs for tasks.
type Orchestrator struct {
	runs      RunStore
	publisher EventPublisher
	control   ControlPlane
	ledger    LedgerRecorder
	metrics   *Metrics
	logger    *slog.Logger
	config    *config.OrchestratorConfig
}

// New creates an Orchestrator.
func New(
	runs RunStore,
	publisher EventPublisher,
	control ControlPlane,
	ledger LedgerRecorder,
	metrics *Metrics,
	logger *slog.Logger,
	cfg *config.OrchestratorConfig,
) *Orchestrator {
	return &Orchestrator{
		runs:      runs,
		publisher: publisher,
		control:   control,
		ledger:    ledger,
		metrics:   metrics,
		logger:    logger,
		config:    cfg,
	}
}

// Spawn fans a task out to sub-agents. The control flags are read once at
// the start; a paused tenant gets an empty result, not an error. The agent
// list is truncated to the cap before the first enqueue.
func (o *Orchestrator) Spawn(ctx context.Context, req *SpawnRequest) (*SpawnResult, error) {
	if req.TaskID == "" {
		return nil, fmt.Errorf("task_id is required")
	}

	flags, err := o.control.Snapshot(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("reading control flags: %w", err)
	}
	if flags.GlobalPause {
		o.logger.InfoContext(ctx, "orchestration paused",
			slog.String("tenant_id", req.TenantID.String()),
			slog.String("task_id", req.TaskID),
		)
		if o.metrics != nil {
			o.metrics.SpawnsPaused.Inc()
		}
		return &SpawnResult{Paused: true, QueuedAgents: []string{}}, nil
	}

	agents := o.config.Catalog()
	if limit := o.config.Cap(); len(agents) > limit {
		agents = agents[:limit]
	}

	queued := make([]string, 0, len(agents))
	for _, agent := range agents {
		pubCtx, cancel := context.WithTimeout(ctx, o.config.CallTimeout())
		_, err := o.publisher.Publish(pubCtx, req.TenantID, o.config.Topic(), agentJob{
			TaskID:    req.TaskID,
			AgentName: agent,
			Context:   req.Context,
		})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("enqueueing agent %s: %w", agent, err)
		}
		queued = append(queued, agent)
	}

	run := &domain.SubagentRun{
		ID:        uuid.New(),
		TenantID:  req.TenantID,
		TaskID:    req.TaskID,
		AgentName: "orchestrator",
		Input:     req.Context,
		Success:   true,
		CreatedAt: time.Now().UTC(),
	}
	run.Output, _ = json.Marshal(map[string]any{"queued_agents": queued})
	if err := o.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("recording spawn: %w", err)
	}

	warning := o.ledger.Record(ctx, req.TenantID, "orchestrate", "orchestrator", map[string]any{
		"task_id":       req.TaskID,
		"queued_agents": queued,
	}, 0)

	if o.metrics != nil {
		o.metrics.SpawnsTotal.Inc()
		o.metrics.AgentsQueued.Add(float64(len(queued)))
	}
	o.logger.InfoContext(ctx, "task fanned out",
		slog.String("tenant_id", req.TenantID.String()),
		slog.String("task_id", req.TaskID),
		slog.Int("agents", len(queued)),
	)

	return &SpawnResult{
		QueuedAgents: queued,
		RunID:        run.ID.String(),
		Warning:      warning,
	}, nil
}

// Runs returns the audit trail of spawns for a task.
func (o *Orchestrator) Runs(ctx context.Context, tenantID uuid.UUID, taskID string) ([]domain.SubagentRun, error) {
	runs, err := o.runs.ListRuns(ctx, tenantID, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}
