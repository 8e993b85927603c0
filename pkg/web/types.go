// Package web provides HTTP request and response types for the workflow API.
package web

import "github.com/dukex/rentflow/pkg/models"

// SetStatusRequest represents the request body for moving a workflow between statuses.
type SetStatusRequest struct {
	Status models.WorkflowStatus `json:"status" validate:"required,oneof=draft active inactive"`
}

// ExecuteWorkflowRequest starts a manual run. TriggeredBy defaults to the workflow owner.
type ExecuteWorkflowRequest struct {
	Context     map[string]any `json:"context"`
	TriggeredBy string         `json:"triggered_by,omitempty" validate:"omitempty,max=200"`
}

// PublishEventRequest represents a domain event posted by the platform.
type PublishEventRequest struct {
	Name   string         `json:"name"   validate:"required,max=200"`
	Entity map[string]any `json:"entity"`
}

// StatusChangeRequest represents an entity status transition posted by the platform.
type StatusChangeRequest struct {
	EntityType string         `json:"entity_type" validate:"required"`
	EntityID   string         `json:"entity_id"   validate:"required"`
	From       string         `json:"from"`
	To         string         `json:"to"          validate:"required"`
	Entity     map[string]any `json:"entity"`
}

// MatchedResponse lists the workflows a published event started.
type MatchedResponse struct {
	Matched []string `json:"matched"`
}

// ExecutionListResponse wraps the recent executions of a workflow.
type ExecutionListResponse struct {
	Executions []*models.Execution `json:"executions"`
	Limit      int                 `json:"limit"`
}
