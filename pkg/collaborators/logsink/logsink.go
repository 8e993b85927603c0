// Package logsink implements every collaborator by logging the call. Used for dry runs.
package logsink

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/dukex/rentflow/pkg/executor"
)

type Sink struct {
	logger *slog.Logger
	calls  atomic.Int64
}

func New(logger *slog.Logger) *Sink {
	return &Sink{logger: logger.With("module", "logsink")}
}

// Calls returns how many collaborator calls were logged.
func (s *Sink) Calls() int64 {
	return s.calls.Load()
}

// Collaborators wires the sink as every collaborator.
func (s *Sink) Collaborators() executor.Collaborators {
	return executor.Collaborators{
		Email:         s,
		SMS:           s,
		Tasks:         s,
		Records:       s,
		Documents:     s,
		Notifications: s,
		Webhooks:      s,
		Statuses:      s,
	}
}

func (s *Sink) log(ctx context.Context, call string, args ...any) {
	s.calls.Add(1)
	s.logger.InfoContext(ctx, "Dry run: "+call, args...)
}

func (s *Sink) SendEmail(ctx context.Context, to, template string, vars map[string]any) error {
	s.log(ctx, "send email", "to", to, "template", template, "vars", vars)

	return nil
}

func (s *Sink) SendSMS(ctx context.Context, to, message string) error {
	s.log(ctx, "send sms", "to", to, "message", message)

	return nil
}

func (s *Sink) CreateTask(ctx context.Context, task executor.Task) (string, error) {
	s.log(ctx, "create task", "assignee", task.Assignee, "title", task.Title, "due_date", task.DueDate)

	return "dry-run-task", nil
}

func (s *Sink) UpdateRecord(ctx context.Context, entityType, id string, patch map[string]any) error {
	s.log(ctx, "update record", "entity_type", entityType, "id", id, "patch", patch)

	return nil
}

func (s *Sink) GenerateDocument(ctx context.Context, template string, vars map[string]any) (string, error) {
	s.log(ctx, "generate document", "template", template, "vars", vars)

	return "dry-run://documents/" + template, nil
}

func (s *Sink) SendNotification(ctx context.Context, recipientID string, payload map[string]any) error {
	s.log(ctx, "send notification", "recipient_id", recipientID, "payload", payload)

	return nil
}

func (s *Sink) CallWebhook(ctx context.Context, url string, payload map[string]any) (int, error) {
	s.log(ctx, "call webhook", "url", url, "payload", payload)

	return http.StatusOK, nil
}

func (s *Sink) SetStatus(ctx context.Context, entityType, id, status string) error {
	s.log(ctx, "set status", "entity_type", entityType, "id", id, "status", status)

	return nil
}
