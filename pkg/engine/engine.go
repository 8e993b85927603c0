// Package engine runs workflow executions: lock, conditions, actions, audit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/rentflow/pkg/conditions"
	"github.com/dukex/rentflow/pkg/eventbus"
	"github.com/dukex/rentflow/pkg/events"
	"github.com/dukex/rentflow/pkg/executor"
	"github.com/dukex/rentflow/pkg/lock"
	"github.com/dukex/rentflow/pkg/models"
	"github.com/dukex/rentflow/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultLockTTL       = 5 * time.Minute
	DefaultTimeout       = 10 * time.Minute
	DefaultParallelLimit = 4

	// lockMargin keeps the lease alive past the global timeout while the run is recorded.
	lockMargin = time.Minute
)

var (
	// ErrConcurrencyConflict is returned to manual callers when the workflow is already running.
	ErrConcurrencyConflict = errors.New("workflow is already running")
	// ErrDropped is returned for system triggers that lost the lock; the firing is not retried.
	ErrDropped = errors.New("execution dropped: workflow is already running")
	// ErrNotRunnable is returned for archived workflows, workflows without actions,
	// and inactive workflows fired by a system trigger.
	ErrNotRunnable = errors.New("workflow is not runnable")
)

// State is the lifecycle stage of one dispatch.
type State string

const (
	StatePending    State = "pending"
	StateLocked     State = "locked"
	StateEvaluating State = "evaluating"
	StateExecuting  State = "executing"
	StateRecording  State = "recording"
	StateDone       State = "done"
	StateRejected   State = "rejected"
)

// Request asks the engine to run one workflow against one entity snapshot.
type Request struct {
	Workflow    *models.Workflow
	TriggerKind models.TriggerKind
	TriggeredBy string
	Entity      map[string]any
}

func (r Request) manual() bool {
	return r.TriggerKind == models.TriggerKindManual
}

// Recorder is the audit trail the engine writes to.
type Recorder interface {
	Begin(ctx context.Context, workflowID string, kind models.TriggerKind, triggeredBy string, snapshot map[string]any) (string, error)
	RecordAction(ctx context.Context, id string, record models.ActionRecord) error
	Complete(ctx context.Context, id string, status models.ExecutionStatus, errMsg string) (*models.Execution, error)
	Get(ctx context.Context, id string) (*models.Execution, error)
}

// ActionExecutor performs one action with its retry policy.
type ActionExecutor interface {
	Execute(ctx context.Context, action models.Action, actx executor.ActionContext) executor.Result
}

// StateObserver is notified on every state transition.
type StateObserver func(workflowID string, state State)

type Engine struct {
	locker    lock.Locker
	recorder  Recorder
	executor  ActionExecutor
	publisher eventbus.EventPublisher
	logger    *slog.Logger
	tracer    trace.Tracer
	observer  StateObserver
	nowFunc   func() time.Time

	lockTTL       time.Duration
	timeout       time.Duration
	parallelLimit int

	inflight sync.WaitGroup
}

type Option func(*Engine)

func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.lockTTL = ttl
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		e.timeout = timeout
	}
}

func WithParallelLimit(limit int) Option {
	return func(e *Engine) {
		e.parallelLimit = limit
	}
}

// WithPublisher publishes execution lifecycle events.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func WithStateObserver(observer StateObserver) Option {
	return func(e *Engine) {
		e.observer = observer
	}
}

func New(locker lock.Locker, recorder Recorder, exec ActionExecutor, logger *slog.Logger, opts ...Option) *Engine {
	engine := &Engine{
		locker:        locker,
		recorder:      recorder,
		executor:      exec,
		logger:        logger.With("module", "engine"),
		tracer:        otelhelper.NoopTracer(),
		nowFunc:       time.Now,
		lockTTL:       DefaultLockTTL,
		timeout:       DefaultTimeout,
		parallelLimit: DefaultParallelLimit,
	}

	for _, opt := range opts {
		opt(engine)
	}

	if engine.parallelLimit < 1 {
		engine.parallelLimit = 1
	}

	// The lease must outlive the longest possible run.
	engine.lockTTL = max(engine.lockTTL, engine.timeout+lockMargin)

	return engine
}

// run is one execution in progress.
type run struct {
	req     Request
	id      string
	lease   lock.Lease
	started time.Time
	logger  *slog.Logger
}

// Dispatch runs the workflow to completion and returns the final execution record.
func (e *Engine) Dispatch(ctx context.Context, req Request) (*models.Execution, error) {
	r, err := e.start(ctx, req)
	if err != nil {
		return nil, err
	}

	return e.finish(ctx, r)
}

// Submit locks and begins the execution synchronously, then finishes it in the background.
// The returned execution is still running.
func (e *Engine) Submit(ctx context.Context, req Request) (*models.Execution, error) {
	r, err := e.start(ctx, req)
	if err != nil {
		return nil, err
	}

	execution, err := e.recorder.Get(ctx, r.id)
	if err != nil {
		// The run is started either way; report what was begun.
		execution = &models.Execution{
			ID:          r.id,
			WorkflowID:  req.Workflow.ID,
			TriggerKind: req.TriggerKind,
			TriggeredBy: req.TriggeredBy,
			Status:      models.ExecutionStatusRunning,
			StartedAt:   r.started,
		}
	}

	background := context.WithoutCancel(ctx)

	e.inflight.Add(1)

	go func() {
		defer e.inflight.Done()

		_, err := e.finish(background, r)
		if err != nil {
			r.logger.ErrorContext(background, "Background execution failed", "error", err)
		}
	}()

	return execution, nil
}

// Wait blocks until every submitted execution has completed.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

func (e *Engine) start(ctx context.Context, req Request) (*run, error) {
	if req.Workflow == nil {
		return nil, fmt.Errorf("%w: no workflow", ErrNotRunnable)
	}

	workflowID := req.Workflow.ID
	logger := e.logger.With("workflow_id", workflowID, "trigger_kind", req.TriggerKind, "triggered_by", req.TriggeredBy)

	e.transition(workflowID, StatePending)

	err := e.admit(req)
	if err != nil {
		e.transition(workflowID, StateRejected)

		return nil, err
	}

	lease, err := e.locker.Acquire(ctx, lock.WorkflowKey(workflowID), e.lockTTL)
	if err != nil {
		e.transition(workflowID, StateRejected)

		if !errors.Is(err, lock.ErrNotAcquired) {
			return nil, fmt.Errorf("failed to acquire workflow lock: %w", err)
		}

		if req.manual() {
			logger.InfoContext(ctx, "Manual execution rejected, workflow already running")

			return nil, ErrConcurrencyConflict
		}

		logger.WarnContext(ctx, "Dropping execution, workflow already running")

		return nil, ErrDropped
	}

	e.transition(workflowID, StateLocked)

	id, err := e.recorder.Begin(ctx, workflowID, req.TriggerKind, req.TriggeredBy, req.Entity)
	if err != nil {
		e.release(ctx, lease, logger)
		e.transition(workflowID, StateRejected)

		return nil, err
	}

	r := &run{
		req:     req,
		id:      id,
		lease:   lease,
		started: e.nowFunc(),
		logger:  logger.With("execution_id", id),
	}

	e.publish(ctx, workflowID, events.ExecutionStarted{
		BaseEvent:   events.NewBase(id, events.ExecutionStartedType, r.started),
		ExecutionID: id,
		WorkflowID:  workflowID,
		TriggerKind: req.TriggerKind,
		TriggeredBy: req.TriggeredBy,
	})

	return r, nil
}

// admit rejects requests that must not create an execution at all.
func (e *Engine) admit(req Request) error {
	workflow := req.Workflow

	if workflow.IsArchived() {
		return fmt.Errorf("%w: workflow %s is archived", ErrNotRunnable, workflow.ID)
	}

	if len(workflow.Actions) == 0 {
		return fmt.Errorf("%w: workflow %s has no actions", ErrNotRunnable, workflow.ID)
	}

	if !req.manual() && workflow.Status != models.WorkflowStatusActive {
		return fmt.Errorf("%w: workflow %s is %s", ErrNotRunnable, workflow.ID, workflow.Status)
	}

	return nil
}

// outcome is the verdict of the evaluating and executing stages.
type outcome struct {
	status models.ExecutionStatus
	err    string
}

func (e *Engine) finish(ctx context.Context, r *run) (*models.Execution, error) {
	workflow := r.req.Workflow

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.dispatch",
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.WorkflowNameKey, workflow.Name),
		attribute.String(otelhelper.TriggerKindKey, string(r.req.TriggerKind)),
		attribute.String(otelhelper.TriggeredByKey, r.req.TriggeredBy),
		attribute.String(otelhelper.ExecutionIDKey, r.id),
	)
	defer span.End()

	// Recording and unlocking must happen even when ctx is cancelled.
	detached := context.WithoutCancel(ctx)
	defer e.release(detached, r.lease, r.logger)

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result := e.execute(runCtx, r)

	e.transition(workflow.ID, StateRecording)

	execution, err := e.recorder.Complete(detached, r.id, result.status, result.err)
	if err != nil && execution == nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.StatusKey, string(result.status)))

	if result.status != models.ExecutionStatusSucceeded {
		span.SetAttributes(attribute.String("rentflow.error", result.err))
	}

	e.publish(detached, workflow.ID, events.ExecutionCompleted{
		BaseEvent:   events.NewBase(r.id+":completed", events.ExecutionCompletedType, e.nowFunc()),
		ExecutionID: r.id,
		WorkflowID:  workflow.ID,
		Status:      execution.Status,
		Error:       execution.Error,
		DurationMs:  execution.DurationMs,
	})

	e.transition(workflow.ID, StateDone)

	return execution, err
}

func (e *Engine) execute(ctx context.Context, r *run) outcome {
	workflow := r.req.Workflow

	e.transition(workflow.ID, StateEvaluating)

	matched, err := conditions.Evaluate(workflow.Conditions, r.req.Entity)
	if err != nil {
		r.logger.ErrorContext(ctx, "Condition evaluation failed", "error", err)

		return outcome{status: models.ExecutionStatusFailed, err: err.Error()}
	}

	if !matched {
		r.logger.InfoContext(ctx, "Conditions not met, no actions run")

		return outcome{status: models.ExecutionStatusSucceeded}
	}

	e.transition(workflow.ID, StateExecuting)

	actx := executor.ActionContext{
		WorkflowID:   workflow.ID,
		WorkflowName: workflow.Name,
		ExecutionID:  r.id,
		Entity:       r.req.Entity,
		Now:          r.started,
	}

	var (
		criticalFailure string
		anyFailed       bool
		lastFailed      bool
		next            int
	)

	for next < len(workflow.Actions) {
		if ctx.Err() != nil {
			break
		}

		end := batchEnd(workflow.Actions, next)
		records := e.runBatch(ctx, workflow.Actions, next, end, actx)
		lastFailed = false

		for _, record := range records {
			e.record(ctx, r, record)

			if record.Status != models.ActionStatusFailed {
				continue
			}

			anyFailed = true
			lastFailed = true

			if workflow.Actions[record.Index].Critical {
				criticalFailure = fmt.Sprintf("critical action %d (%s) failed: %s", record.Index, record.ActionType, record.LastError)
			}
		}

		next = end

		if criticalFailure != "" {
			break
		}
	}

	// Interrupted: actions were left over, or the last batch failed because the deadline hit it.
	timedOut := ctx.Err() != nil && (next < len(workflow.Actions) || lastFailed)

	for i := next; i < len(workflow.Actions); i++ {
		e.record(ctx, r, models.ActionRecord{
			Index:      i,
			ActionType: workflow.Actions[i].Type(),
			Status:     models.ActionStatusSkipped,
		})
	}

	switch {
	case timedOut:
		return outcome{status: models.ExecutionStatusFailed, err: timeoutReason(ctx)}
	case criticalFailure != "":
		return outcome{status: models.ExecutionStatusFailed, err: criticalFailure}
	case anyFailed:
		return outcome{status: models.ExecutionStatusPartial, err: "one or more actions failed"}
	default:
		return outcome{status: models.ExecutionStatusSucceeded}
	}
}

func timeoutReason(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.Canceled) {
		return "canceled"
	}

	return "timeout"
}

// batchEnd returns the end (exclusive) of the batch starting at start.
// Consecutive parallel, non-critical actions form one batch; anything else runs alone.
func batchEnd(actions []models.Action, start int) int {
	if !parallelizable(actions[start]) {
		return start + 1
	}

	end := start + 1
	for end < len(actions) && parallelizable(actions[end]) {
		end++
	}

	return end
}

func parallelizable(action models.Action) bool {
	return action.Parallel && !action.Critical
}

// runBatch executes actions[start:end] and returns their records in index order.
func (e *Engine) runBatch(ctx context.Context, actions []models.Action, start, end int, actx executor.ActionContext) []models.ActionRecord {
	records := make([]models.ActionRecord, end-start)

	if end-start == 1 {
		records[0] = e.runAction(ctx, start, actions[start], actx)

		return records
	}

	var group errgroup.Group

	group.SetLimit(e.parallelLimit)

	for i := start; i < end; i++ {
		group.Go(func() error {
			records[i-start] = e.runAction(ctx, i, actions[i], actx)

			return nil
		})
	}

	_ = group.Wait()

	return records
}

func (e *Engine) runAction(ctx context.Context, index int, action models.Action, actx executor.ActionContext) models.ActionRecord {
	started := e.nowFunc()
	result := e.executor.Execute(ctx, action, actx)

	record := models.ActionRecord{
		Index:      index,
		ActionType: action.Type(),
		Status:     result.Status,
		Attempts:   result.Attempts,
		DurationMs: max(e.nowFunc().Sub(started).Milliseconds(), 0),
	}

	if result.Err != nil {
		record.LastError = result.Err.Error()
	}

	return record
}

func (e *Engine) record(ctx context.Context, r *run, record models.ActionRecord) {
	err := e.recorder.RecordAction(context.WithoutCancel(ctx), r.id, record)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to record action", "index", record.Index, "error", err)
	}
}

func (e *Engine) release(ctx context.Context, lease lock.Lease, logger *slog.Logger) {
	err := lease.Release(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to release workflow lock", "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, workflowID string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, workflowID, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish execution event", "workflow_id", workflowID, "event_type", event.GetType(), "error", err)
	}
}

func (e *Engine) transition(workflowID string, state State) {
	if e.observer != nil {
		e.observer(workflowID, state)
	}
}
