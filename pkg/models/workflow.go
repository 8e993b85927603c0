// Package models defines the core domain models for rule-based workflow automation.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, never triggered automatically
	WorkflowStatusActive   WorkflowStatus = "active"   // Evaluated by the scheduler and the event dispatcher
	WorkflowStatusInactive WorkflowStatus = "inactive" // Paused, manual runs only
)

// Valid reports whether s is a known workflow status.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusDraft, WorkflowStatusActive, WorkflowStatusInactive:
		return true
	default:
		return false
	}
}

// WorkflowStats holds rolling execution statistics for a workflow.
type WorkflowStats struct {
	TotalRuns     int64   `json:"total_runs"`
	Succeeded     int64   `json:"succeeded"`
	Failed        int64   `json:"failed"`
	Partial       int64   `json:"partial"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// Record folds one completed run into the statistics.
// The average is maintained incrementally: avg' = avg + (d - avg) / n.
func (s *WorkflowStats) Record(status ExecutionStatus, durationMs int64) {
	s.TotalRuns++

	switch status {
	case ExecutionStatusSucceeded:
		s.Succeeded++
	case ExecutionStatusFailed:
		s.Failed++
	case ExecutionStatusPartial:
		s.Partial++
	case ExecutionStatusRunning:
	}

	s.AvgDurationMs += (float64(durationMs) - s.AvgDurationMs) / float64(s.TotalRuns)
}

// Workflow is a rule: one trigger, an optional condition set and an ordered list of actions.
type Workflow struct {
	ID          string         `json:"id"`
	Owner       string         `json:"owner"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Status      WorkflowStatus `json:"status"`
	Trigger     Trigger        `json:"-"`
	Conditions  []Condition    `json:"conditions"`
	Actions     []Action       `json:"actions"`
	Stats       WorkflowStats  `json:"stats"`
	LastRunAt   *time.Time     `json:"last_run_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ArchivedAt  *time.Time     `json:"archived_at,omitempty"`
}

// TriggerKind returns the kind of the workflow trigger, or an empty kind when unset.
func (w *Workflow) TriggerKind() TriggerKind {
	if w.Trigger == nil {
		return ""
	}

	return w.Trigger.Kind()
}

// IsArchived reports whether the workflow has been soft-archived.
func (w *Workflow) IsArchived() bool {
	return w.ArchivedAt != nil
}

// Runnable reports whether automatic triggers may start the workflow.
func (w *Workflow) Runnable() bool {
	return w.Status == WorkflowStatusActive && !w.IsArchived() && len(w.Actions) > 0
}

type workflowAlias Workflow

type workflowJSON struct {
	*workflowAlias

	Trigger json.RawMessage `json:"trigger"`
}

// MarshalJSON encodes the workflow with its trigger as a tagged object.
func (w Workflow) MarshalJSON() ([]byte, error) {
	trigger, err := MarshalTrigger(w.Trigger)
	if err != nil {
		return nil, err
	}

	alias := workflowAlias(w)
	if alias.Conditions == nil {
		alias.Conditions = []Condition{}
	}

	if alias.Actions == nil {
		alias.Actions = []Action{}
	}

	return json.Marshal(workflowJSON{workflowAlias: &alias, Trigger: trigger})
}

// UnmarshalJSON decodes a workflow, resolving the trigger variant from its type tag.
func (w *Workflow) UnmarshalJSON(data []byte) error {
	aux := workflowJSON{workflowAlias: (*workflowAlias)(w)}

	err := json.Unmarshal(data, &aux)
	if err != nil {
		return err
	}

	if len(aux.Trigger) == 0 || string(aux.Trigger) == "null" {
		w.Trigger = nil

		return nil
	}

	trigger, err := UnmarshalTrigger(aux.Trigger)
	if err != nil {
		return fmt.Errorf("workflow %s: %w", w.ID, err)
	}

	w.Trigger = trigger

	return nil
}
