package executor

import (
	"context"
	"time"
)

type EmailSender interface {
	SendEmail(ctx context.Context, to, template string, vars map[string]any) error
}

type SMSSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

// Task is a follow-up item assigned to a person.
type Task struct {
	Assignee    string    `json:"assignee"`
	Title       string    `json:"title"`
	DueDate     time.Time `json:"due_date"`
	WorkflowID  string    `json:"workflow_id"`
	ExecutionID string    `json:"execution_id"`
}

type TaskCreator interface {
	CreateTask(ctx context.Context, task Task) (string, error)
}

type RecordUpdater interface {
	UpdateRecord(ctx context.Context, entityType, id string, patch map[string]any) error
}

type DocumentGenerator interface {
	GenerateDocument(ctx context.Context, template string, vars map[string]any) (string, error)
}

type NotificationSender interface {
	SendNotification(ctx context.Context, recipientID string, payload map[string]any) error
}

// WebhookCaller posts the payload and returns the HTTP status code received.
type WebhookCaller interface {
	CallWebhook(ctx context.Context, url string, payload map[string]any) (int, error)
}

type StatusUpdater interface {
	SetStatus(ctx context.Context, entityType, id, status string) error
}

// Collaborators groups the external services actions are delegated to.
// A nil member makes the matching action type fail permanently.
type Collaborators struct {
	Email         EmailSender
	SMS           SMSSender
	Tasks         TaskCreator
	Records       RecordUpdater
	Documents     DocumentGenerator
	Notifications NotificationSender
	Webhooks      WebhookCaller
	Statuses      StatusUpdater
}
