package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/rentflow/pkg/models"
	"github.com/dukex/rentflow/pkg/persistence"
)

const workflowColumns = `
			id
		  , owner
		  , name
		  , description
		  , status
		  , trigger
		  , conditions
		  , actions
		  , total_runs
		  , succeeded
		  , failed
		  , partial
		  , avg_duration_ms
		  , last_run_at
		  , created_at
		  , updated_at
		  , archived_at`

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// ListWorkflows returns paginated and filtered workflows, newest first.
func (r *WorkflowRepository) ListWorkflows(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	opts.Limit = persistence.NormalizeLimit(opts.Limit)

	where, args := listFilter(opts)

	var totalCount int64

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflows"+where, args...).Scan(&totalCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count workflows: %w", err)
	}

	query := "SELECT" + workflowColumns + " FROM workflows" + where +
		" ORDER BY created_at DESC, id DESC" +
		" LIMIT $" + strconv.Itoa(len(args)+1) +
		" OFFSET $" + strconv.Itoa(len(args)+2)

	rows, err := r.db.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return &persistence.WorkflowListResult{
		Workflows:   workflows,
		TotalCount:  totalCount,
		HasNextPage: int64(opts.Offset+len(workflows)) < totalCount,
	}, nil
}

func listFilter(opts persistence.ListWorkflowsOptions) (string, []any) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 4)

	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if !opts.IncludeArchived {
		clauses = append(clauses, "archived_at IS NULL")
	}

	if opts.OwnerID != "" {
		add("owner = $%d", opts.OwnerID)
	}

	if opts.Status != nil {
		add("status = $%d", string(*opts.Status))
	}

	if opts.TriggerKind != "" {
		add("trigger->>'type' = $%d", string(opts.TriggerKind))
	}

	if len(clauses) == 0 {
		return "", args
	}

	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, "SELECT"+workflowColumns+" FROM workflows WHERE id = $1", id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return workflow, nil
}

// Save upserts the workflow definition. Statistics are only written on insert; RecordRun owns them afterwards.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	if workflow.UpdatedAt.IsZero() {
		workflow.UpdatedAt = now
	}

	triggerJSON, err := models.MarshalTrigger(workflow.Trigger)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger: %w", err)
	}

	conditions := workflow.Conditions
	if conditions == nil {
		conditions = []models.Condition{}
	}

	conditionsJSON, err := json.Marshal(conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	actions := workflow.Actions
	if actions == nil {
		actions = []models.Action{}
	}

	actionsJSON, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("failed to marshal actions: %w", err)
	}

	query := `
		INSERT INTO workflows (id, owner, name, description, status, trigger, conditions, actions,
			total_runs, succeeded, failed, partial, avg_duration_ms, last_run_at, created_at, updated_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			owner = EXCLUDED.owner,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			trigger = EXCLUDED.trigger,
			conditions = EXCLUDED.conditions,
			actions = EXCLUDED.actions,
			updated_at = EXCLUDED.updated_at,
			archived_at = EXCLUDED.archived_at
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.Owner,
		workflow.Name,
		workflow.Description,
		string(workflow.Status),
		triggerJSON,
		conditionsJSON,
		actionsJSON,
		workflow.Stats.TotalRuns,
		workflow.Stats.Succeeded,
		workflow.Stats.Failed,
		workflow.Stats.Partial,
		workflow.Stats.AvgDurationMs,
		workflow.LastRunAt,
		workflow.CreatedAt,
		workflow.UpdatedAt,
		workflow.ArchivedAt,
	)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

// RecordRun folds one run into the statistics in a single statement; the right-hand sides see the old row.
func (r *WorkflowRepository) RecordRun(ctx context.Context, id string, status models.ExecutionStatus, durationMs int64, completedAt time.Time) error {
	query := `
		UPDATE workflows SET
			total_runs = total_runs + 1,
			succeeded = succeeded + CASE WHEN $2::text = 'succeeded' THEN 1 ELSE 0 END,
			failed = failed + CASE WHEN $2::text = 'failed' THEN 1 ELSE 0 END,
			partial = partial + CASE WHEN $2::text = 'partial' THEN 1 ELSE 0 END,
			avg_duration_ms = avg_duration_ms + ($3::double precision - avg_duration_ms) / (total_runs + 1),
			last_run_at = $4
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, string(status), float64(durationMs), completedAt.UTC())
	if err != nil {
		return persistence.NewWorkflowError("RecordRun", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewWorkflowError("RecordRun", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		workflow       models.Workflow
		status         string
		triggerJSON    []byte
		conditionsJSON []byte
		actionsJSON    []byte
		lastRunAt      sql.NullTime
		archivedAt     sql.NullTime
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.Owner,
		&workflow.Name,
		&workflow.Description,
		&status,
		&triggerJSON,
		&conditionsJSON,
		&actionsJSON,
		&workflow.Stats.TotalRuns,
		&workflow.Stats.Succeeded,
		&workflow.Stats.Failed,
		&workflow.Stats.Partial,
		&workflow.Stats.AvgDurationMs,
		&lastRunAt,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&archivedAt,
	)
	if err != nil {
		return nil, err
	}

	workflow.Status = models.WorkflowStatus(status)

	if string(triggerJSON) != "null" {
		workflow.Trigger, err = models.UnmarshalTrigger(triggerJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger of workflow %s: %w", workflow.ID, err)
		}
	}

	err = json.Unmarshal(conditionsJSON, &workflow.Conditions)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions of workflow %s: %w", workflow.ID, err)
	}

	err = json.Unmarshal(actionsJSON, &workflow.Actions)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal actions of workflow %s: %w", workflow.ID, err)
	}

	if lastRunAt.Valid {
		workflow.LastRunAt = &lastRunAt.Time
	}

	if archivedAt.Valid {
		workflow.ArchivedAt = &archivedAt.Time
	}

	return &workflow, nil
}
