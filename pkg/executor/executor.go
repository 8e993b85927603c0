// Package executor performs workflow actions through injected collaborators, with retry and classification.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dukex/rentflow/pkg/log"
	"github.com/dukex/rentflow/pkg/models"
	"github.com/dukex/rentflow/pkg/otelhelper"
	"github.com/dukex/rentflow/pkg/template"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const DefaultAttemptTimeout = 30 * time.Second

// ActionContext is what templates in an action payload can reference.
type ActionContext struct {
	WorkflowID   string
	WorkflowName string
	ExecutionID  string
	Entity       map[string]any
	Now          time.Time
}

// TemplateData exposes the context to text/template as .entity, .workflow, .execution and .now.
func (a ActionContext) TemplateData() map[string]any {
	entity := a.Entity
	if entity == nil {
		entity = map[string]any{}
	}

	return map[string]any{
		"entity": entity,
		"workflow": map[string]any{
			"id":   a.WorkflowID,
			"name": a.WorkflowName,
		},
		"execution": map[string]any{
			"id": a.ExecutionID,
		},
		"now": a.Now.UTC().Format(time.RFC3339),
	}
}

// Result is the outcome of one action after all attempts.
type Result struct {
	Status   models.ActionStatus
	Attempts int
	Err      error
	Output   map[string]any
}

type Executor struct {
	collaborators  Collaborators
	logger         *slog.Logger
	tracer         trace.Tracer
	policy         RetryPolicy
	attemptTimeout time.Duration
	nowFunc        func() time.Time
}

type Option func(*Executor)

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(e *Executor) {
		e.policy = policy
	}
}

func WithAttemptTimeout(timeout time.Duration) Option {
	return func(e *Executor) {
		e.attemptTimeout = timeout
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

func New(collaborators Collaborators, logger *slog.Logger, opts ...Option) *Executor {
	executor := &Executor{
		collaborators:  collaborators,
		logger:         logger.With("module", "executor"),
		tracer:         otelhelper.NoopTracer(),
		policy:         DefaultRetryPolicy(),
		attemptTimeout: DefaultAttemptTimeout,
		nowFunc:        time.Now,
	}

	for _, opt := range opts {
		opt(executor)
	}

	return executor
}

// Execute renders the action payload, then calls the collaborator, retrying transient failures.
func (e *Executor) Execute(ctx context.Context, action models.Action, actx ActionContext) Result {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "action.execute",
		attribute.String(otelhelper.ActionTypeKey, string(action.Type())),
		attribute.String(otelhelper.WorkflowIDKey, actx.WorkflowID),
		attribute.String(otelhelper.ExecutionIDKey, actx.ExecutionID),
	)
	defer span.End()

	logger := e.logger.With("action_type", action.Type(), "workflow_id", actx.WorkflowID, "execution_id", actx.ExecutionID)
	ctx = log.WithContext(ctx, logger)

	call, err := e.prepare(action, actx)
	if err != nil {
		err = Permanent(err)
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Action could not be prepared", "error", err)

		return Result{Status: models.ActionStatusFailed, Attempts: 1, Err: err}
	}

	attempts := 0

	var output map[string]any

	operation := func() error {
		attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, e.attemptTimeout)
		defer cancel()

		out, err := call(attemptCtx)
		if err == nil {
			output = out

			return nil
		}

		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = Transient(fmt.Errorf("attempt timed out after %s: %w", e.attemptTimeout, err))
		}

		err = Classify(err)
		if IsPermanent(err) {
			return backoff.Permanent(err)
		}

		return err
	}

	notify := func(err error, wait time.Duration) {
		logger.WarnContext(ctx, "Action attempt failed, retrying", "attempt", attempts, "wait", wait, "error", err)
	}

	err = backoff.RetryNotify(operation, backoff.WithContext(e.policy.backOff(), ctx), notify)

	span.SetAttributes(attribute.Int(otelhelper.AttemptsKey, attempts))

	if err != nil {
		err = Classify(err)
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Action failed", "attempts", attempts, "error", err)

		return Result{Status: models.ActionStatusFailed, Attempts: max(attempts, 1), Err: err}
	}

	logger.DebugContext(ctx, "Action succeeded", "attempts", attempts)

	return Result{Status: models.ActionStatusSucceeded, Attempts: attempts, Output: output}
}

type callFunc func(ctx context.Context) (map[string]any, error)

// prepare renders templates and binds the collaborator call. Errors here are never retried.
func (e *Executor) prepare(action models.Action, actx ActionContext) (callFunc, error) {
	data := actx.TemplateData()
	r := renderer{data: data}

	switch spec := action.Spec.(type) {
	case *models.SendEmailAction:
		to, tmpl, vars := r.str(spec.To), r.str(spec.Template), r.vars(spec.Vars)
		if r.err != nil {
			return nil, r.err
		}

		if e.collaborators.Email == nil {
			return nil, fmt.Errorf("%w: email", ErrNoCollaborator)
		}

		return func(ctx context.Context) (map[string]any, error) {
			return nil, e.collaborators.Email.SendEmail(ctx, to, tmpl, vars)
		}, nil

	case *models.SendSMSAction:
		to, message := r.str(spec.To), r.str(spec.Message)
		if r.err != nil {
			return nil, r.err
		}

		if e.collaborators.SMS == nil {
			return nil, fmt.Errorf("%w: sms", ErrNoCollaborator)
		}

		return func(ctx context.Context) (map[string]any, error) {
			return nil, e.collaborators.SMS.SendSMS(ctx, to, message)
		}, nil

	case *models.CreateTaskAction:
		task := Task{
			Assignee:    r.str(spec.Assignee),
			Title:       r.str(spec.Title),
			DueDate:     e.nowFunc().UTC().AddDate(0, 0, spec.DueInDays),
			WorkflowID:  actx.WorkflowID,
			ExecutionID: actx.ExecutionID,
		}
		if r.err != nil {
			return nil, r.err
		}

		if e.collaborators.Tasks == nil {
			return nil, fmt.Errorf("%w: tasks", ErrNoCollaborator)
		}

		return func(ctx context.Context) (map[string]any, error) {
			taskID, err := e.collaborators.Tasks.CreateTask(ctx, task)

			return map[string]any{"taskId": taskID}, err
		}, nil

	case *models.UpdateRecordAction:
		entityType, id, patch := r.str(spec.EntityType), r.str(spec.ID), r.vars(spec.Patch)
		if r.err != nil {
			return nil, r.err
		}

		if e.collaborators.Records == nil {
			return nil, fmt.Errorf("%w: records", ErrNoCollaborator)
		}

		return func(ctx context.Context) (map[string]any, error) {
			return nil, e.collaborators.Records.UpdateRecord(ctx, entityType, id, patch)
		}, nil

	case *models.GenerateDocumentAction:
		tmpl, vars := r.str(spec.Template), r.vars(spec.Vars)
		if r.err != nil {
			return nil, r.err
		}

		if e.collaborators.Documents == nil {
			return nil, fmt.Errorf("%w: documents", ErrNoCollaborator)
		}

		return func(ctx context.Context) (map[string]any, error) {
			url, err := e.collaborators.Documents.GenerateDocument(ctx, tmpl, vars)

			return map[string]any{"url": url}, err
		}, nil

	case *models.SendNotificationAction:
		recipientID, payload := r.str(spec.RecipientID), r.vars(spec.Payload)
		if r.err != nil {
			return nil, r.err
		}

		if e.collaborators.Notifications == nil {
			return nil, fmt.Errorf("%w: notifications", ErrNoCollaborator)
		}

		return func(ctx context.Context) (map[string]any, error) {
			return nil, e.collaborators.Notifications.SendNotification(ctx, recipientID, payload)
		}, nil

	case *models.CallWebhookAction:
		url, payload := r.str(spec.URL), r.vars(spec.Payload)
		if r.err != nil {
			return nil, r.err
		}

		if e.collaborators.Webhooks == nil {
			return nil, fmt.Errorf("%w: webhooks", ErrNoCollaborator)
		}

		return func(ctx context.Context) (map[string]any, error) {
			statusCode, err := e.collaborators.Webhooks.CallWebhook(ctx, url, payload)
			output := map[string]any{"statusCode": statusCode}

			if err != nil {
				return output, err
			}

			if statusCode < 200 || statusCode >= 400 {
				return output, NewStatusError(statusCode)
			}

			return output, nil
		}, nil

	case *models.UpdateStatusAction:
		entityType, id, status := r.str(spec.EntityType), r.str(spec.ID), r.str(spec.Status)
		if r.err != nil {
			return nil, r.err
		}

		if e.collaborators.Statuses == nil {
			return nil, fmt.Errorf("%w: statuses", ErrNoCollaborator)
		}

		return func(ctx context.Context) (map[string]any, error) {
			return nil, e.collaborators.Statuses.SetStatus(ctx, entityType, id, status)
		}, nil

	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedAction, action.Spec)
	}
}

// renderer keeps the first template error so a spec can be rendered field by field.
type renderer struct {
	data map[string]any
	err  error
}

func (r *renderer) str(tmpl string) string {
	if r.err != nil {
		return ""
	}

	out, err := template.Render(tmpl, r.data)
	if err != nil {
		r.err = err
	}

	return out
}

func (r *renderer) vars(m map[string]any) map[string]any {
	if r.err != nil {
		return nil
	}

	out, err := template.RenderMap(m, r.data)
	if err != nil {
		r.err = err
	}

	return out
}
