// Package persistence provides the storage abstraction for workflows, executions, the firing ledger and entity snapshots.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/rentflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	LedgerRepository() LedgerRepository
	EntityRepository() EntityRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	ListWorkflows(ctx context.Context, opts ListWorkflowsOptions) (*WorkflowListResult, error)
	// GetByID returns ErrWorkflowNotFound when no workflow has the id, archived ones included.
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	// RecordRun folds one completed execution into the workflow statistics atomically.
	RecordRun(ctx context.Context, id string, status models.ExecutionStatus, durationMs int64, completedAt time.Time) error
}

// ExecutionRepository stores execution audit records.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.Execution) error
	Save(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	// ListByWorkflow returns the most recent executions first.
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error)
}

// LedgerRepository records which (workflow, entity, window) firings already happened.
type LedgerRepository interface {
	// TryFire inserts the key and reports whether this call was the first to do so.
	// A non-nil error always comes with false: the key was not recorded.
	TryFire(ctx context.Context, key models.FiringKey, firedAt time.Time) (bool, error)
	Has(ctx context.Context, key models.FiringKey) (bool, error)
}

// EntityRepository stores entity snapshots that date based triggers scan.
type EntityRepository interface {
	Save(ctx context.Context, entity *models.Entity) error
	// FindByDateRange returns entities of entityType whose date field falls within [from, to], by calendar day.
	FindByDateRange(ctx context.Context, entityType, field string, from, to time.Time) ([]*models.Entity, error)
}

type ListWorkflowsOptions struct {
	Status          *models.WorkflowStatus
	OwnerID         string
	TriggerKind     models.TriggerKind
	IncludeArchived bool
	Limit           int
	Offset          int
}

type WorkflowListResult struct {
	Workflows   []*models.Workflow
	TotalCount  int64
	HasNextPage bool
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// NormalizeLimit clamps a page size into [1, MaxListLimit], using DefaultListLimit when unset.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}

	if limit > MaxListLimit {
		return MaxListLimit
	}

	return limit
}

// AllWorkflows pages through ListWorkflows until every matching workflow is loaded.
func AllWorkflows(ctx context.Context, repo WorkflowRepository, opts ListWorkflowsOptions) ([]*models.Workflow, error) {
	opts.Limit = MaxListLimit
	opts.Offset = 0

	workflows := make([]*models.Workflow, 0)

	for {
		page, err := repo.ListWorkflows(ctx, opts)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, page.Workflows...)

		if !page.HasNextPage || len(page.Workflows) == 0 {
			return workflows, nil
		}

		opts.Offset += len(page.Workflows)
	}
}

// MatchesFilter applies the non-paging parts of opts to one workflow.
func (opts ListWorkflowsOptions) MatchesFilter(workflow *models.Workflow) bool {
	if !opts.IncludeArchived && workflow.IsArchived() {
		return false
	}

	if opts.OwnerID != "" && workflow.Owner != opts.OwnerID {
		return false
	}

	if opts.Status != nil && workflow.Status != *opts.Status {
		return false
	}

	if opts.TriggerKind != "" && workflow.TriggerKind() != opts.TriggerKind {
		return false
	}

	return true
}
