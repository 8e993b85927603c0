package models

import "time"

// TriggeredBySystem marks executions started by the scheduler or the event dispatcher.
const TriggeredBySystem = "system"

// ExecutionStatus represents the state of one workflow run.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusPartial   ExecutionStatus = "partial"
)

// ActionStatus represents the outcome of one action within an execution.
type ActionStatus string

const (
	ActionStatusSucceeded ActionStatus = "succeeded"
	ActionStatusFailed    ActionStatus = "failed"
	ActionStatusSkipped   ActionStatus = "skipped"
)

// ActionRecord is the audit entry of one action.
type ActionRecord struct {
	Index      int          `json:"index"`
	ActionType ActionType   `json:"action_type"`
	Status     ActionStatus `json:"status"`
	Attempts   int          `json:"attempts"`
	LastError  string       `json:"last_error,omitempty"`
	DurationMs int64        `json:"duration_ms"`
}

// Execution is the audit record of one workflow run.
// Once CompletedAt is set the record is never rewritten.
type Execution struct {
	ID              string          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	TriggerKind     TriggerKind     `json:"trigger_kind"`
	TriggeredBy     string          `json:"triggered_by"`
	ContextSnapshot map[string]any  `json:"context_snapshot,omitempty"`
	Status          ExecutionStatus `json:"status"`
	Error           string          `json:"error,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	PerAction       []ActionRecord  `json:"per_action"`
	DurationMs      int64           `json:"duration_ms"`
}

// IsCompleted reports whether the execution reached a final state.
func (e *Execution) IsCompleted() bool {
	return e.CompletedAt != nil
}

// Clone returns a copy safe to hand out while the original keeps being recorded.
func (e *Execution) Clone() *Execution {
	clone := *e

	clone.PerAction = append([]ActionRecord(nil), e.PerAction...)
	if e.CompletedAt != nil {
		completedAt := *e.CompletedAt
		clone.CompletedAt = &completedAt
	}

	return &clone
}
