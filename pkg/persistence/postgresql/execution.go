package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/rentflow/pkg/models"
	"github.com/dukex/rentflow/pkg/persistence"
)

const executionColumns = `
			id
		  , workflow_id
		  , trigger_kind
		  , triggered_by
		  , context_snapshot
		  , status
		  , error
		  , started_at
		  , completed_at
		  , per_action
		  , duration_ms`

// ExecutionRepository handles execution audit records.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	args, err := executionArgs(execution)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx, query, args...)
	if isUniqueViolation(err) {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	args, err := executionArgs(execution)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			completed_at = EXCLUDED.completed_at,
			per_action = EXCLUDED.per_action,
			duration_ms = EXCLUDED.duration_ms
	`

	_, err = r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	row := r.db.QueryRowContext(ctx, "SELECT"+executionColumns+" FROM executions WHERE id = $1", id)

	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	query := "SELECT" + executionColumns + ` FROM executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC, id DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, workflowID, persistence.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func executionArgs(execution *models.Execution) ([]any, error) {
	snapshotJSON, err := json.Marshal(execution.ContextSnapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context snapshot: %w", err)
	}

	perAction := execution.PerAction
	if perAction == nil {
		perAction = []models.ActionRecord{}
	}

	perActionJSON, err := json.Marshal(perAction)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal action records: %w", err)
	}

	return []any{
		execution.ID,
		execution.WorkflowID,
		string(execution.TriggerKind),
		execution.TriggeredBy,
		snapshotJSON,
		string(execution.Status),
		execution.Error,
		execution.StartedAt,
		execution.CompletedAt,
		perActionJSON,
		execution.DurationMs,
	}, nil
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		execution     models.Execution
		triggerKind   string
		status        string
		snapshotJSON  []byte
		perActionJSON []byte
		completedAt   sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&triggerKind,
		&execution.TriggeredBy,
		&snapshotJSON,
		&status,
		&execution.Error,
		&execution.StartedAt,
		&completedAt,
		&perActionJSON,
		&execution.DurationMs,
	)
	if err != nil {
		return nil, err
	}

	execution.TriggerKind = models.TriggerKind(triggerKind)
	execution.Status = models.ExecutionStatus(status)

	if len(snapshotJSON) > 0 {
		err = json.Unmarshal(snapshotJSON, &execution.ContextSnapshot)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal context snapshot: %w", err)
		}
	}

	err = json.Unmarshal(perActionJSON, &execution.PerAction)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal action records: %w", err)
	}

	if completedAt.Valid {
		execution.CompletedAt = &completedAt.Time
	}

	return &execution, nil
}
