// Package outbox hands action side effects to the platform's delivery services
// through Redis lists, one list per command kind.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/rentflow/pkg/executor"
	"github.com/dukex/rentflow/pkg/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Kind string

const (
	KindEmail        Kind = "email"
	KindSMS          Kind = "sms"
	KindTask         Kind = "task"
	KindRecord       Kind = "record"
	KindDocument     Kind = "document"
	KindNotification Kind = "notification"
	KindStatus       Kind = "status"
)

// Command is one queued side effect. Consumers pop from the head of the list.
type Command struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	CreatedAt time.Time      `json:"created_at"`
	Payload   map[string]any `json:"payload"`
}

type Outbox struct {
	client  redis.UniversalClient
	prefix  string
	maxLen  int64
	logger  *slog.Logger
	nowFunc func() time.Time
}

type Option func(*Outbox)

// WithPrefix namespaces list keys. Default is "rentflow:outbox:".
func WithPrefix(prefix string) Option {
	return func(o *Outbox) {
		o.prefix = prefix
	}
}

// WithMaxLen caps each list; the oldest commands are trimmed first. Zero keeps everything.
func WithMaxLen(maxLen int64) Option {
	return func(o *Outbox) {
		o.maxLen = maxLen
	}
}

func New(client redis.UniversalClient, logger *slog.Logger, opts ...Option) *Outbox {
	outbox := &Outbox{
		client:  client,
		prefix:  "rentflow:outbox:",
		logger:  logger.With("module", "outbox"),
		nowFunc: time.Now,
	}

	for _, opt := range opts {
		opt(outbox)
	}

	return outbox
}

// Key returns the Redis list holding commands of kind.
func (o *Outbox) Key(kind Kind) string {
	return o.prefix + string(kind)
}

// Collaborators wires every action the outbox can deliver. Webhooks are called directly.
func (o *Outbox) Collaborators() executor.Collaborators {
	return executor.Collaborators{
		Email:         o,
		SMS:           o,
		Tasks:         o,
		Records:       o,
		Documents:     o,
		Notifications: o,
		Statuses:      o,
	}
}

func (o *Outbox) push(ctx context.Context, kind Kind, payload map[string]any) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", executor.Transient(fmt.Errorf("failed to generate command id: %w", err))
	}

	command := Command{
		ID:        id.String(),
		Kind:      kind,
		CreatedAt: o.nowFunc().UTC(),
		Payload:   payload,
	}

	raw, err := json.Marshal(command)
	if err != nil {
		return "", executor.Permanent(fmt.Errorf("failed to encode %s command: %w", kind, err))
	}

	key := o.Key(kind)

	_, err = o.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, raw)

		if o.maxLen > 0 {
			pipe.LTrim(ctx, key, -o.maxLen, -1)
		}

		return nil
	})
	if err != nil {
		return "", executor.Transient(fmt.Errorf("failed to enqueue %s command: %w", kind, err))
	}

	log.FromContext(ctx, o.logger).DebugContext(ctx, "Command enqueued", "kind", kind, "command_id", command.ID)

	return command.ID, nil
}

// Pending returns up to limit queued commands of kind without removing them.
func (o *Outbox) Pending(ctx context.Context, kind Kind, limit int64) ([]Command, error) {
	if limit <= 0 {
		return []Command{}, nil
	}

	raws, err := o.client.LRange(ctx, o.Key(kind), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s outbox: %w", kind, err)
	}

	commands := make([]Command, 0, len(raws))

	for _, raw := range raws {
		var command Command

		err := json.Unmarshal([]byte(raw), &command)
		if err != nil {
			return nil, fmt.Errorf("invalid %s command: %w", kind, err)
		}

		commands = append(commands, command)
	}

	return commands, nil
}

func (o *Outbox) SendEmail(ctx context.Context, to, template string, vars map[string]any) error {
	_, err := o.push(ctx, KindEmail, map[string]any{"to": to, "template": template, "vars": vars})

	return err
}

func (o *Outbox) SendSMS(ctx context.Context, to, message string) error {
	_, err := o.push(ctx, KindSMS, map[string]any{"to": to, "message": message})

	return err
}

// CreateTask queues the task and returns the command id as the task id.
func (o *Outbox) CreateTask(ctx context.Context, task executor.Task) (string, error) {
	return o.push(ctx, KindTask, map[string]any{
		"assignee":     task.Assignee,
		"title":        task.Title,
		"due_date":     task.DueDate.UTC().Format(time.RFC3339),
		"workflow_id":  task.WorkflowID,
		"execution_id": task.ExecutionID,
	})
}

func (o *Outbox) UpdateRecord(ctx context.Context, entityType, id string, patch map[string]any) error {
	_, err := o.push(ctx, KindRecord, map[string]any{"entity_type": entityType, "id": id, "patch": patch})

	return err
}

// GenerateDocument queues the render and returns the location the document will be served from.
func (o *Outbox) GenerateDocument(ctx context.Context, template string, vars map[string]any) (string, error) {
	id, err := o.push(ctx, KindDocument, map[string]any{"template": template, "vars": vars})
	if err != nil {
		return "", err
	}

	return "outbox://documents/" + id, nil
}

func (o *Outbox) SendNotification(ctx context.Context, recipientID string, payload map[string]any) error {
	_, err := o.push(ctx, KindNotification, map[string]any{"recipient_id": recipientID, "payload": payload})

	return err
}

func (o *Outbox) SetStatus(ctx context.Context, entityType, id, status string) error {
	_, err := o.push(ctx, KindStatus, map[string]any{"entity_type": entityType, "id": id, "status": status})

	return err
}
