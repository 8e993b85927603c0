package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dukex/rentflow/pkg/models"
	"github.com/dukex/rentflow/pkg/persistence"
)

// ExecutionRepository keeps one JSON document per execution, grouped by workflow.
type ExecutionRepository struct {
	dir string
	mu  sync.RWMutex

	// byID maps execution ids to workflow ids for executions written by this process.
	byID map[string]string
}

func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{
		dir:  filepath.Join(root, "executions"),
		byID: make(map[string]string),
	}
}

func (er *ExecutionRepository) Create(_ context.Context, execution *models.Execution) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	path := er.path(execution.WorkflowID, execution.ID)

	if _, err := os.Stat(path); err == nil {
		return persistence.NewExecutionError("Create", execution.ID, persistence.ErrExecutionAlreadyExists)
	}

	err := writeJSON(path, execution)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	er.byID[execution.ID] = execution.WorkflowID

	return nil
}

func (er *ExecutionRepository) Save(_ context.Context, execution *models.Execution) error {
	er.mu.Lock()
	defer er.mu.Unlock()

	err := writeJSON(er.path(execution.WorkflowID, execution.ID), execution)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	er.byID[execution.ID] = execution.WorkflowID

	return nil
}

func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	path, err := er.locate(id)
	if err != nil {
		return nil, err
	}

	var execution models.Execution

	err = readJSON(path, &execution)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return &execution, nil
}

func (er *ExecutionRepository) ListByWorkflow(_ context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	limit = persistence.NormalizeLimit(limit)

	er.mu.RLock()
	defer er.mu.RUnlock()

	files, err := listJSON(filepath.Join(er.dir, segment(workflowID)))
	if err != nil {
		return nil, err
	}

	executions := make([]*models.Execution, 0, len(files))

	for _, file := range files {
		var execution models.Execution

		err := readJSON(file, &execution)
		if err != nil {
			return nil, fmt.Errorf("failed to load execution %s: %w", file, err)
		}

		executions = append(executions, &execution)
	}

	sort.Slice(executions, func(i, j int) bool {
		if executions[i].StartedAt.Equal(executions[j].StartedAt) {
			return executions[i].ID > executions[j].ID
		}

		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	if len(executions) > limit {
		executions = executions[:limit]
	}

	return executions, nil
}

// locate finds the document of an execution, falling back to a scan for executions written by another process.
func (er *ExecutionRepository) locate(id string) (string, error) {
	if workflowID, ok := er.byID[id]; ok {
		return er.path(workflowID, id), nil
	}

	matches, err := filepath.Glob(filepath.Join(er.dir, "*", segment(id)+".json"))
	if err != nil {
		return "", persistence.NewExecutionError("GetByID", id, err)
	}

	if len(matches) == 0 {
		return "", persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	return matches[0], nil
}

func (er *ExecutionRepository) path(workflowID, id string) string {
	return filepath.Join(er.dir, segment(workflowID), segment(id)+".json")
}
