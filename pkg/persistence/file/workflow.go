package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dukex/rentflow/pkg/models"
	"github.com/dukex/rentflow/pkg/persistence"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	dir string
	mu  sync.RWMutex
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{dir: filepath.Join(root, "workflows")}
}

// ListWorkflows returns paginated and filtered workflows, newest first.
func (wr *WorkflowRepository) ListWorkflows(_ context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	opts.Limit = persistence.NormalizeLimit(opts.Limit)

	wr.mu.RLock()
	files, err := listJSON(wr.dir)
	if err != nil {
		wr.mu.RUnlock()

		return nil, err
	}

	filtered := make([]*models.Workflow, 0, len(files))

	for _, file := range files {
		var workflow models.Workflow

		err := readJSON(file, &workflow)
		if err != nil {
			wr.mu.RUnlock()

			return nil, fmt.Errorf("failed to load workflow %s: %w", file, err)
		}

		if opts.MatchesFilter(&workflow) {
			filtered = append(filtered, &workflow)
		}
	}
	wr.mu.RUnlock()

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].ID > filtered[j].ID
		}

		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	totalCount := int64(len(filtered))

	if opts.Offset >= len(filtered) {
		return &persistence.WorkflowListResult{
			Workflows:   make([]*models.Workflow, 0),
			TotalCount:  totalCount,
			HasNextPage: false,
		}, nil
	}

	end := min(opts.Offset+opts.Limit, len(filtered))

	return &persistence.WorkflowListResult{
		Workflows:   filtered[opts.Offset:end],
		TotalCount:  totalCount,
		HasNextPage: end < len(filtered),
	}, nil
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, workflowID string) (*models.Workflow, error) {
	wr.mu.RLock()
	defer wr.mu.RUnlock()

	return wr.load(workflowID)
}

// Save writes the workflow, creating or replacing it.
// Statistics of an existing workflow are owned by RecordRun: the stored values are kept
// and copied back into workflow.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	existing, err := wr.load(workflow.ID)

	switch {
	case err == nil:
		workflow.Stats = existing.Stats
		workflow.LastRunAt = existing.LastRunAt
	case !errors.Is(err, persistence.ErrWorkflowNotFound):
		return err
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	if workflow.UpdatedAt.IsZero() {
		workflow.UpdatedAt = now
	}

	err = writeJSON(wr.path(workflow.ID), workflow)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

// RecordRun updates statistics under the repository lock so concurrent completions are not lost.
func (wr *WorkflowRepository) RecordRun(_ context.Context, id string, status models.ExecutionStatus, durationMs int64, completedAt time.Time) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	workflow, err := wr.load(id)
	if err != nil {
		return err
	}

	workflow.Stats.Record(status, durationMs)

	lastRunAt := completedAt.UTC()
	workflow.LastRunAt = &lastRunAt

	err = writeJSON(wr.path(id), workflow)
	if err != nil {
		return persistence.NewWorkflowError("RecordRun", id, err)
	}

	return nil
}

func (wr *WorkflowRepository) load(workflowID string) (*models.Workflow, error) {
	var workflow models.Workflow

	err := readJSON(wr.path(workflowID), &workflow)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewWorkflowError("GetByID", workflowID, persistence.ErrWorkflowNotFound)
	}

	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", workflowID, err)
	}

	return &workflow, nil
}

func (wr *WorkflowRepository) path(workflowID string) string {
	return filepath.Join(wr.dir, segment(workflowID)+".json")
}
