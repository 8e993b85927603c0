// Package dispatcher routes domain events to the workflows they trigger.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/dukex/rentflow/pkg/engine"
	"github.com/dukex/rentflow/pkg/eventbus"
	"github.com/dukex/rentflow/pkg/events"
	"github.com/dukex/rentflow/pkg/models"
	"github.com/dukex/rentflow/pkg/otelhelper"
	"github.com/dukex/rentflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Engine runs one workflow execution.
type Engine interface {
	Dispatch(ctx context.Context, req engine.Request) (*models.Execution, error)
}

type Dispatcher struct {
	workflows persistence.WorkflowRepository
	engine    Engine
	logger    *slog.Logger
	tracer    trace.Tracer

	inflight sync.WaitGroup
}

type Option func(*Dispatcher)

func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		d.tracer = tracer
	}
}

func New(workflows persistence.WorkflowRepository, eng Engine, logger *slog.Logger, opts ...Option) *Dispatcher {
	dispatcher := &Dispatcher{
		workflows: workflows,
		engine:    eng,
		logger:    logger.With("module", "event_dispatcher"),
		tracer:    otelhelper.NoopTracer(),
	}

	for _, opt := range opts {
		opt(dispatcher)
	}

	return dispatcher
}

// Publish starts every active workflow listening for eventName and returns their IDs.
// Executions run in the background; use Wait to drain them.
func (d *Dispatcher) Publish(ctx context.Context, eventName string, snapshot map[string]any) ([]string, error) {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatcher.publish",
		attribute.String(otelhelper.EventNameKey, eventName),
	)
	defer span.End()

	matched, err := d.match(ctx, models.TriggerKindEvent, func(trigger models.Trigger) bool {
		event, ok := trigger.(*models.EventTrigger)

		return ok && event.EventName == eventName
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	d.logger.InfoContext(ctx, "Event published", "event_name", eventName, "matched", len(matched))

	return d.dispatchAll(ctx, matched, models.TriggerKindEvent, snapshot), nil
}

// PublishStatusChange starts every active workflow listening for the transition and returns their IDs.
// The snapshot passed to conditions and templates carries id, entityType, previousStatus and status.
func (d *Dispatcher) PublishStatusChange(ctx context.Context, entityType, entityID, from, to string, snapshot map[string]any) ([]string, error) {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatcher.status_change",
		attribute.String(otelhelper.EntityTypeKey, entityType),
		attribute.String(otelhelper.EntityIDKey, entityID),
	)
	defer span.End()

	matched, err := d.match(ctx, models.TriggerKindStatusChange, func(trigger models.Trigger) bool {
		statusChange, ok := trigger.(*models.StatusChangeTrigger)

		return ok && statusChange.Matches(entityType, from, to)
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	enriched := make(map[string]any, len(snapshot)+4)
	maps.Copy(enriched, snapshot)
	enriched["id"] = entityID
	enriched["entityType"] = entityType
	enriched["previousStatus"] = from
	enriched["status"] = to

	d.logger.InfoContext(ctx, "Status change published",
		"entity_type", entityType,
		"entity_id", entityID,
		"from", from,
		"to", to,
		"matched", len(matched),
	)

	return d.dispatchAll(ctx, matched, models.TriggerKindStatusChange, enriched), nil
}

// Wait blocks until every execution started by this dispatcher has finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

func (d *Dispatcher) match(ctx context.Context, kind models.TriggerKind, accept func(models.Trigger) bool) ([]*models.Workflow, error) {
	active := models.WorkflowStatusActive

	workflows, err := persistence.AllWorkflows(ctx, d.workflows, persistence.ListWorkflowsOptions{
		Status:      &active,
		TriggerKind: kind,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s workflows: %w", kind, err)
	}

	matched := make([]*models.Workflow, 0)

	for _, workflow := range workflows {
		if workflow.Runnable() && accept(workflow.Trigger) {
			matched = append(matched, workflow)
		}
	}

	return matched, nil
}

func (d *Dispatcher) dispatchAll(ctx context.Context, workflows []*models.Workflow, kind models.TriggerKind, snapshot map[string]any) []string {
	ids := make([]string, 0, len(workflows))
	background := context.WithoutCancel(ctx)

	for _, workflow := range workflows {
		ids = append(ids, workflow.ID)

		d.inflight.Add(1)

		go func() {
			defer d.inflight.Done()

			_, err := d.engine.Dispatch(background, engine.Request{
				Workflow:    workflow,
				TriggerKind: kind,
				TriggeredBy: models.TriggeredBySystem,
				Entity:      maps.Clone(snapshot),
			})
			if err != nil && !errors.Is(err, engine.ErrDropped) {
				d.logger.ErrorContext(background, "Dispatch failed", "workflow_id", workflow.ID, "error", err)
			}
		}()
	}

	return ids
}

// Subscribe forwards domain events arriving on the bus to the dispatcher.
func (d *Dispatcher) Subscribe(bus eventbus.EventSubscriber) error {
	err := bus.Handle(events.DomainEventType, func(ctx context.Context, event any) error {
		domainEvent, ok := event.(*events.DomainEvent)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", event, events.DomainEventType)
		}

		_, err := d.Publish(ctx, domainEvent.Name, domainEvent.Entity)

		return err
	})
	if err != nil {
		return err
	}

	return bus.Handle(events.StatusChangedType, func(ctx context.Context, event any) error {
		change, ok := event.(*events.StatusChanged)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", event, events.StatusChangedType)
		}

		_, err := d.PublishStatusChange(ctx, change.EntityType, change.EntityID, change.FromStatus, change.ToStatus, change.Entity)

		return err
	})
}
