package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/dukex/rentflow/pkg/conditions"
	"github.com/dukex/rentflow/pkg/models"
	"github.com/dukex/rentflow/pkg/persistence"
	"github.com/dukex/rentflow/pkg/template"
	"github.com/dukex/rentflow/pkg/triggers/schedule"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrWorkflowNotFound is returned when a workflow is not found.
var ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

// WorkflowSpec is the authored part of a workflow, as accepted by Create and Update.
// Trigger and actions stay raw until their declared type selects a schema.
type WorkflowSpec struct {
	Name        string                `json:"name"                  validate:"required,max=200"`
	Description string                `json:"description,omitempty" validate:"max=2000"`
	Owner       string                `json:"owner"                 validate:"required,max=200"`
	Status      models.WorkflowStatus `json:"status,omitempty"      validate:"omitempty,oneof=draft active inactive"`
	Trigger     json.RawMessage       `json:"trigger"`
	Conditions  []models.Condition    `json:"conditions"            validate:"dive"`
	Actions     []json.RawMessage     `json:"actions"`
}

type Workflow struct {
	persistence persistence.Persistence
	validate    *validator.Validate
	logger      *slog.Logger
	nowFunc     func() time.Time
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(persistence persistence.Persistence, logger *slog.Logger) *Workflow {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(jsonFieldName)

	return &Workflow{
		persistence: persistence,
		validate:    validate,
		logger:      logger.With("module", "workflow_store"),
		nowFunc:     time.Now,
	}
}

func jsonFieldName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}

	if name == "" {
		return field.Name
	}

	return name
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (w *Workflow) now() time.Time {
	return w.nowFunc().UTC().Truncate(time.Microsecond)
}

// Create validates spec and stores it as a new workflow. Status defaults to draft.
func (w *Workflow) Create(ctx context.Context, spec WorkflowSpec) (*models.Workflow, error) {
	workflow, err := w.Validate(spec)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate workflow id: %w", err)
	}

	now := w.now()
	workflow.ID = id.String()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow created",
		"workflow_id", workflow.ID,
		"owner", workflow.Owner,
		"trigger_kind", workflow.TriggerKind(),
		"status", workflow.Status,
	)

	return workflow, nil
}

// Update replaces the authored part of a workflow. Statistics and history are kept.
func (w *Workflow) Update(ctx context.Context, workflowID string, spec WorkflowSpec) (*models.Workflow, error) {
	existing, err := w.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if existing.IsArchived() {
		return nil, fmt.Errorf("update %s: %w", workflowID, ErrWorkflowArchived)
	}

	workflow, err := w.Validate(spec)
	if err != nil {
		return nil, err
	}

	if spec.Status == "" {
		workflow.Status = existing.Status
		if workflow.Status == models.WorkflowStatusActive && len(workflow.Actions) == 0 {
			return nil, NewValidationError("update", "actions", "an active workflow needs at least one action")
		}
	}

	workflow.ID = existing.ID
	workflow.CreatedAt = existing.CreatedAt
	workflow.UpdatedAt = w.now()
	workflow.Stats = existing.Stats
	workflow.LastRunAt = existing.LastRunAt

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow updated", "workflow_id", workflow.ID, "status", workflow.Status)

	return workflow, nil
}

// Get returns a workflow by id, archived ones included.
func (w *Workflow) Get(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, ErrWorkflowNotFound
	}

	return workflow, nil
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	// Pagination
	Limit  int
	Offset int

	// Filtering
	OwnerID         string
	Status          *models.WorkflowStatus
	TriggerKind     models.TriggerKind
	IncludeArchived bool
}

// ListWorkflowsResponse contains the result of listing workflows.
type ListWorkflowsResponse struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

// List retrieves workflows with filtering and pagination.
func (w *Workflow) List(ctx context.Context, req ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	err := validateListWorkflowsRequest(&req)
	if err != nil {
		return nil, err
	}

	result, err := w.persistence.WorkflowRepository().ListWorkflows(ctx, persistence.ListWorkflowsOptions{
		Status:          req.Status,
		OwnerID:         req.OwnerID,
		TriggerKind:     req.TriggerKind,
		IncludeArchived: req.IncludeArchived,
		Limit:           req.Limit,
		Offset:          req.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	workflows := result.Workflows
	if workflows == nil {
		workflows = []*models.Workflow{}
	}

	return &ListWorkflowsResponse{
		Workflows:   workflows,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
	}, nil
}

// validateListWorkflowsRequest validates and sets defaults for the request.
func validateListWorkflowsRequest(req *ListWorkflowsRequest) error {
	req.Limit = persistence.NormalizeLimit(req.Limit)

	if req.Offset < 0 {
		req.Offset = 0
	}

	verr := &ValidationError{Op: "list"}

	if req.Status != nil && !req.Status.Valid() {
		verr.add("status", "invalid status '%s'", *req.Status)
	}

	if req.TriggerKind != "" && !req.TriggerKind.Valid() {
		verr.add("trigger", "invalid trigger kind '%s'", req.TriggerKind)
	}

	req.OwnerID = strings.TrimSpace(req.OwnerID)

	return verr.orNil()
}

// SetStatus moves a workflow between draft, active and inactive.
func (w *Workflow) SetStatus(ctx context.Context, workflowID string, status models.WorkflowStatus) (*models.Workflow, error) {
	if !status.Valid() {
		return nil, NewValidationError("setStatus", "status", fmt.Sprintf("invalid status '%s'", status))
	}

	workflow, err := w.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.IsArchived() {
		return nil, fmt.Errorf("set status of %s: %w", workflowID, ErrWorkflowArchived)
	}

	if status == models.WorkflowStatusActive {
		verr := &ValidationError{Op: "setStatus"}

		if workflow.Trigger == nil {
			verr.add("trigger", "an active workflow needs a trigger")
		}

		if len(workflow.Actions) == 0 {
			verr.add("actions", "an active workflow needs at least one action")
		}

		if err := verr.orNil(); err != nil {
			return nil, err
		}
	}

	if workflow.Status == status {
		return workflow, nil
	}

	previous := workflow.Status
	workflow.Status = status
	workflow.UpdatedAt = w.now()

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow status: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow status changed", "workflow_id", workflowID, "from", previous, "to", status)

	return workflow, nil
}

// Archive soft-deletes a workflow: it becomes inactive and disappears from listings
// and trigger resolution, but stays readable by id. Archiving twice is a no-op.
func (w *Workflow) Archive(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := w.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.IsArchived() {
		return workflow, nil
	}

	now := w.now()
	workflow.Status = models.WorkflowStatusInactive
	workflow.ArchivedAt = &now
	workflow.UpdatedAt = now

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to archive workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow archived", "workflow_id", workflowID)

	return workflow, nil
}

// Validate runs the full validation pipeline on spec and returns the decoded workflow.
// Nothing is written. Every problem found is reported in a single *ValidationError.
func (w *Workflow) Validate(spec WorkflowSpec) (*models.Workflow, error) {
	set, err := loadSchemas()
	if err != nil {
		return nil, err
	}

	verr := &ValidationError{Op: "validate"}

	w.structErrors(spec, "", verr)

	workflow := &models.Workflow{
		Owner:       strings.TrimSpace(spec.Owner),
		Name:        strings.TrimSpace(spec.Name),
		Description: spec.Description,
		Status:      spec.Status,
		Conditions:  spec.Conditions,
		Actions:     make([]models.Action, 0, len(spec.Actions)),
	}

	if workflow.Status == "" {
		workflow.Status = models.WorkflowStatusDraft
	}

	if workflow.Conditions == nil {
		workflow.Conditions = []models.Condition{}
	}

	workflow.Trigger = w.decodeTrigger(set, spec.Trigger, verr)

	for i, raw := range spec.Actions {
		action, ok := w.decodeAction(set, raw, fmt.Sprintf("actions[%d]", i), verr)
		if ok {
			workflow.Actions = append(workflow.Actions, action)
		}
	}

	err = conditions.Validate(spec.Conditions)
	if err != nil {
		verr.add("conditions", "%v", err)
	}

	if workflow.Status == models.WorkflowStatusActive && len(spec.Actions) == 0 {
		verr.add("actions", "an active workflow needs at least one action")
	}

	if err := verr.orNil(); err != nil {
		return nil, err
	}

	return workflow, nil
}

func (w *Workflow) decodeTrigger(set schemaSet, raw json.RawMessage, verr *ValidationError) models.Trigger {
	if len(raw) == 0 || string(raw) == "null" {
		verr.add("trigger", "is required")

		return nil
	}

	var tag struct {
		Type string `json:"type"`
	}

	err := json.Unmarshal(raw, &tag)
	if err != nil {
		verr.add("trigger", "must be an object with a type")

		return nil
	}

	schema, ok := set.triggers[models.TriggerKind(tag.Type)]
	if !ok {
		verr.add("trigger.type", "unknown trigger type '%s'", tag.Type)

		return nil
	}

	before := len(verr.Fields)
	validateDocument(schema, raw, "trigger", verr)

	if len(verr.Fields) > before {
		return nil
	}

	trigger, err := models.UnmarshalTrigger(raw)
	if err != nil {
		verr.add("trigger", "%v", err)

		return nil
	}

	w.structErrors(trigger, "trigger", verr)

	if scheduleTrigger, ok := trigger.(*models.ScheduleTrigger); ok {
		_, err := schedule.Parse(scheduleTrigger)
		if err != nil {
			verr.add("trigger", "%v", err)
		}
	}

	return trigger
}

func (w *Workflow) decodeAction(set schemaSet, raw json.RawMessage, field string, verr *ValidationError) (models.Action, bool) {
	var fields map[string]any

	err := json.Unmarshal(raw, &fields)
	if err != nil {
		verr.add(field, "must be an object with a type")

		return models.Action{}, false
	}

	actionType, _ := fields["type"].(string)

	schema, ok := set.actions[models.ActionType(actionType)]
	if !ok {
		verr.add(field+".type", "unknown action type '%s'", actionType)

		return models.Action{}, false
	}

	before := len(verr.Fields)
	validateDocument(schema, raw, field, verr)

	if len(verr.Fields) > before {
		return models.Action{}, false
	}

	var action models.Action

	err = json.Unmarshal(raw, &action)
	if err != nil {
		verr.add(field, "%v", err)

		return models.Action{}, false
	}

	w.structErrors(action.Spec, field, verr)

	for key, value := range fields {
		if key == "type" {
			continue
		}

		err := template.Check(value)
		if err != nil {
			verr.add(field+"."+key, "%v", err)
		}
	}

	return action, len(verr.Fields) == before
}

// structErrors runs struct validation and reports each failed rule under prefix.
func (w *Workflow) structErrors(v any, prefix string, verr *ValidationError) {
	err := w.validate.Struct(v)
	if err == nil {
		return
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		verr.add(prefix, "%v", err)

		return
	}

	for _, fe := range fieldErrors {
		_, path, _ := strings.Cut(fe.Namespace(), ".")
		if prefix != "" {
			path = prefix + "." + path
		}

		message := fmt.Sprintf("failed on '%s'", fe.Tag())
		if fe.Param() != "" {
			message = fmt.Sprintf("failed on '%s=%s'", fe.Tag(), fe.Param())
		}

		verr.add(path, "%s", message)
	}
}
