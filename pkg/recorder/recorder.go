// Package recorder keeps the append-only audit trail of workflow executions.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dukex/rentflow/pkg/models"
	"github.com/dukex/rentflow/pkg/persistence"
	"github.com/google/uuid"
)

// ErrExecutionCompleted is returned when writing to an execution that already completed.
var ErrExecutionCompleted = errors.New("execution already completed")

type Recorder struct {
	executions persistence.ExecutionRepository
	workflows  persistence.WorkflowRepository
	logger     *slog.Logger
	nowFunc    func() time.Time

	mu      sync.Mutex
	running map[string]*models.Execution
}

func New(executions persistence.ExecutionRepository, workflows persistence.WorkflowRepository, logger *slog.Logger) *Recorder {
	return &Recorder{
		executions: executions,
		workflows:  workflows,
		logger:     logger.With("module", "recorder"),
		nowFunc:    time.Now,
		running:    make(map[string]*models.Execution),
	}
}

// Begin creates a running execution and returns its id.
func (r *Recorder) Begin(ctx context.Context, workflowID string, kind models.TriggerKind, triggeredBy string, snapshot map[string]any) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate execution ID: %w", err)
	}

	execution := &models.Execution{
		ID:              id.String(),
		WorkflowID:      workflowID,
		TriggerKind:     kind,
		TriggeredBy:     triggeredBy,
		ContextSnapshot: snapshot,
		Status:          models.ExecutionStatusRunning,
		StartedAt:       r.nowFunc().UTC(),
		PerAction:       make([]models.ActionRecord, 0),
	}

	err = r.executions.Create(ctx, execution)
	if err != nil {
		return "", fmt.Errorf("failed to create execution: %w", err)
	}

	r.mu.Lock()
	r.running[execution.ID] = execution
	r.mu.Unlock()

	r.logger.DebugContext(ctx, "Execution started", "execution_id", execution.ID, "workflow_id", workflowID, "trigger_kind", kind)

	return execution.ID, nil
}

// RecordAction stores the outcome of one action, replacing an earlier record with the same index.
func (r *Recorder) RecordAction(ctx context.Context, id string, record models.ActionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, err := r.open(ctx, id)
	if err != nil {
		return err
	}

	replaced := false

	for i := range execution.PerAction {
		if execution.PerAction[i].Index == record.Index {
			execution.PerAction[i] = record
			replaced = true

			break
		}
	}

	if !replaced {
		execution.PerAction = append(execution.PerAction, record)
		sort.SliceStable(execution.PerAction, func(i, j int) bool {
			return execution.PerAction[i].Index < execution.PerAction[j].Index
		})
	}

	err = r.executions.Save(ctx, execution)
	if err != nil {
		return fmt.Errorf("failed to record action %d: %w", record.Index, err)
	}

	return nil
}

// Complete finalizes the execution and folds it into the workflow statistics.
func (r *Recorder) Complete(ctx context.Context, id string, status models.ExecutionStatus, errMsg string) (*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	execution, err := r.open(ctx, id)
	if err != nil {
		return nil, err
	}

	completedAt := r.nowFunc().UTC()

	execution.Status = status
	execution.Error = errMsg
	execution.CompletedAt = &completedAt
	execution.DurationMs = max(completedAt.Sub(execution.StartedAt).Milliseconds(), 0)

	err = r.executions.Save(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to complete execution: %w", err)
	}

	delete(r.running, id)

	err = r.workflows.RecordRun(ctx, execution.WorkflowID, status, execution.DurationMs, completedAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to update workflow statistics", "execution_id", id, "workflow_id", execution.WorkflowID, "error", err)

		return execution.Clone(), fmt.Errorf("failed to update workflow statistics: %w", err)
	}

	r.logger.InfoContext(ctx, "Execution completed",
		"execution_id", id,
		"workflow_id", execution.WorkflowID,
		"status", status,
		"duration_ms", execution.DurationMs,
	)

	return execution.Clone(), nil
}

// Get returns an execution, preferring the in-flight copy.
func (r *Recorder) Get(ctx context.Context, id string) (*models.Execution, error) {
	r.mu.Lock()
	if execution, ok := r.running[id]; ok {
		clone := execution.Clone()
		r.mu.Unlock()

		return clone, nil
	}
	r.mu.Unlock()

	return r.executions.GetByID(ctx, id)
}

// List returns the most recent executions of a workflow.
func (r *Recorder) List(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	return r.executions.ListByWorkflow(ctx, workflowID, persistence.NormalizeLimit(limit))
}

// open returns the mutable running execution. Callers hold r.mu.
func (r *Recorder) open(ctx context.Context, id string) (*models.Execution, error) {
	if execution, ok := r.running[id]; ok {
		return execution, nil
	}

	execution, err := r.executions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if execution.IsCompleted() {
		return nil, persistence.NewExecutionError("Record", id, ErrExecutionCompleted)
	}

	r.running[id] = execution

	return execution, nil
}
