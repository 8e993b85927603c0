// Package events defines the messages exchanged over the event bus.
package events

import (
	"time"

	"github.com/dukex/rentflow/pkg/models"
)

type EventType string

const (
	// DomainTopic carries inbound business events from the property platform.
	DomainTopic = "rentflow.domain.events"
	// ExecutionTopic carries execution lifecycle notifications.
	ExecutionTopic = "rentflow.executions"
)

const (
	EventMetadataKey     = "key"
	EventTypeMetadataKey = "event_type"
)

const (
	DomainEventType   EventType = "domain.event"
	StatusChangedType EventType = "domain.status_changed"

	ExecutionStartedType   EventType = "execution.started"
	ExecutionCompletedType EventType = "execution.completed"
)

// TopicFor returns the topic an event type travels on.
func TopicFor(eventType EventType) string {
	switch eventType {
	case ExecutionStartedType, ExecutionCompletedType:
		return ExecutionTopic
	default:
		return DomainTopic
	}
}

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBase stamps an event header.
func NewBase(id string, eventType EventType, now time.Time) BaseEvent {
	return BaseEvent{ID: id, Type: eventType, Timestamp: now.UTC()}
}

// DomainEvent announces that something happened to an entity, e.g. "payment.received".
type DomainEvent struct {
	BaseEvent

	Name   string         `json:"name"`
	Entity map[string]any `json:"entity"`
}

func (DomainEvent) GetType() EventType {
	return DomainEventType
}

// StatusChanged announces an entity status transition.
type StatusChanged struct {
	BaseEvent

	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	FromStatus string         `json:"from_status"`
	ToStatus   string         `json:"to_status"`
	Entity     map[string]any `json:"entity,omitempty"`
}

func (StatusChanged) GetType() EventType {
	return StatusChangedType
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string             `json:"execution_id"`
	WorkflowID  string             `json:"workflow_id"`
	TriggerKind models.TriggerKind `json:"trigger_kind"`
	TriggeredBy string             `json:"triggered_by"`
}

func (ExecutionStarted) GetType() EventType {
	return ExecutionStartedType
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      models.ExecutionStatus `json:"status"`
	Error       string                 `json:"error,omitempty"`
	DurationMs  int64                  `json:"duration_ms"`
}

func (ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedType
}
