// Package triggers fires time based workflows: schedule and dateBased triggers.
package triggers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dukex/rentflow/pkg/engine"
	"github.com/dukex/rentflow/pkg/models"
	"github.com/dukex/rentflow/pkg/persistence"
	"github.com/dukex/rentflow/pkg/triggers/schedule"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTick        = time.Minute
	DefaultConcurrency = 8
)

// Dispatcher runs one workflow execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, req engine.Request) (*models.Execution, error)
}

// Shard selects the workflows one evaluator instance owns.
type Shard struct {
	Index int
	Count int
}

// Owns reports whether the workflow hashes into this shard. A Count of 0 or 1 owns everything.
func (s Shard) Owns(workflowID string) bool {
	if s.Count <= 1 {
		return true
	}

	return xxhash.Sum64String(workflowID)%uint64(s.Count) == uint64(s.Index)
}

func (s Shard) Validate() error {
	if s.Count < 0 || s.Index < 0 || (s.Count > 0 && s.Index >= s.Count) {
		return fmt.Errorf("invalid shard %d of %d", s.Index, s.Count)
	}

	return nil
}

// TickResult summarizes one evaluation pass.
type TickResult struct {
	Workflows  int
	Candidates int
	Fired      int
	Skipped    int
	Errors     int
}

func (r *TickResult) merge(other TickResult) {
	r.Candidates += other.Candidates
	r.Fired += other.Fired
	r.Skipped += other.Skipped
	r.Errors += other.Errors
}

type candidate struct {
	entityID  string
	windowKey string
	snapshot  map[string]any
}

type Evaluator struct {
	workflows  persistence.WorkflowRepository
	entities   persistence.EntityRepository
	ledger     persistence.LedgerRepository
	dispatcher Dispatcher
	logger     *slog.Logger
	nowFunc    func() time.Time

	tick        time.Duration
	grace       time.Duration
	shard       Shard
	location    *time.Location
	concurrency int

	mu   sync.Mutex
	cron *cron.Cron
}

type Option func(*Evaluator)

func WithTick(tick time.Duration) Option {
	return func(e *Evaluator) {
		e.tick = tick
	}
}

// WithGrace sets how late a schedule may be noticed and still fire. Defaults to the tick.
func WithGrace(grace time.Duration) Option {
	return func(e *Evaluator) {
		e.grace = grace
	}
}

func WithShard(shard Shard) Option {
	return func(e *Evaluator) {
		e.shard = shard
	}
}

// WithLocation sets the timezone that defines "today" for dateBased triggers.
func WithLocation(loc *time.Location) Option {
	return func(e *Evaluator) {
		e.location = loc
	}
}

// WithConcurrency bounds how many workflows are evaluated at once.
func WithConcurrency(n int) Option {
	return func(e *Evaluator) {
		e.concurrency = n
	}
}

func NewEvaluator(
	workflows persistence.WorkflowRepository,
	entities persistence.EntityRepository,
	ledger persistence.LedgerRepository,
	dispatcher Dispatcher,
	logger *slog.Logger,
	opts ...Option,
) *Evaluator {
	evaluator := &Evaluator{
		workflows:   workflows,
		entities:    entities,
		ledger:      ledger,
		dispatcher:  dispatcher,
		logger:      logger.With("module", "trigger_evaluator"),
		nowFunc:     time.Now,
		tick:        DefaultTick,
		location:    time.UTC,
		concurrency: DefaultConcurrency,
	}

	for _, opt := range opts {
		opt(evaluator)
	}

	if evaluator.grace <= 0 {
		evaluator.grace = evaluator.tick
	}

	if evaluator.concurrency < 1 {
		evaluator.concurrency = 1
	}

	return evaluator
}

// Start runs Tick on a fixed interval until Stop is called or ctx is done.
func (e *Evaluator) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cron != nil {
		return errors.New("evaluator already started")
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(e.logger.Handler(), slog.LevelWarn))

	e.cron = cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(
			cron.SkipIfStillRunning(cronLogger),
			cron.Recover(cronLogger),
		),
	)

	_, err := e.cron.AddFunc("@every "+e.tick.String(), func() {
		if ctx.Err() != nil {
			return
		}

		e.Tick(ctx, e.nowFunc())
	})
	if err != nil {
		e.cron = nil

		return fmt.Errorf("failed to schedule evaluator tick: %w", err)
	}

	e.cron.Start()
	e.logger.InfoContext(ctx, "Trigger evaluator started", "tick", e.tick, "shard_index", e.shard.Index, "shard_count", e.shard.Count)

	return nil
}

// Stop halts the ticker and waits for a running tick to finish.
func (e *Evaluator) Stop(ctx context.Context) {
	e.mu.Lock()
	c := e.cron
	e.cron = nil
	e.mu.Unlock()

	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}

	e.logger.InfoContext(ctx, "Trigger evaluator stopped")
}

// Tick evaluates every owned, active time based workflow once.
// A failing workflow is logged and does not stop the others.
func (e *Evaluator) Tick(ctx context.Context, now time.Time) TickResult {
	var result TickResult

	workflows, err := e.candidateWorkflows(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to list workflows", "error", err)
		result.Errors++

		return result
	}

	result.Workflows = len(workflows)

	var (
		mu    sync.Mutex
		group errgroup.Group
	)

	group.SetLimit(e.concurrency)

	for _, workflow := range workflows {
		group.Go(func() error {
			partial := e.evaluate(ctx, workflow, now)

			mu.Lock()
			result.merge(partial)
			mu.Unlock()

			return nil
		})
	}

	_ = group.Wait()

	if result.Fired > 0 || result.Errors > 0 {
		e.logger.InfoContext(ctx, "Evaluator tick finished",
			"workflows", result.Workflows,
			"candidates", result.Candidates,
			"fired", result.Fired,
			"skipped", result.Skipped,
			"errors", result.Errors,
		)
	}

	return result
}

func (e *Evaluator) candidateWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	active := models.WorkflowStatusActive
	owned := make([]*models.Workflow, 0)

	for _, kind := range []models.TriggerKind{models.TriggerKindSchedule, models.TriggerKindDateBased} {
		workflows, err := persistence.AllWorkflows(ctx, e.workflows, persistence.ListWorkflowsOptions{
			Status:      &active,
			TriggerKind: kind,
		})
		if err != nil {
			return nil, err
		}

		for _, workflow := range workflows {
			if workflow.Runnable() && e.shard.Owns(workflow.ID) {
				owned = append(owned, workflow)
			}
		}
	}

	return owned, nil
}

func (e *Evaluator) evaluate(ctx context.Context, workflow *models.Workflow, now time.Time) TickResult {
	var result TickResult

	logger := e.logger.With("workflow_id", workflow.ID, "trigger_kind", workflow.TriggerKind())

	candidates, err := e.candidates(ctx, workflow, now)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to evaluate trigger", "error", err)
		result.Errors++

		return result
	}

	result.Candidates = len(candidates)

	for _, c := range candidates {
		key := models.FiringKey{WorkflowID: workflow.ID, EntityID: c.entityID, WindowKey: c.windowKey}

		first, err := e.ledger.TryFire(ctx, key, now.UTC())
		if err != nil {
			logger.ErrorContext(ctx, "Failed to record firing", "key", key.String(), "error", err)
			result.Errors++

			continue
		}

		if !first {
			result.Skipped++

			continue
		}

		result.Fired++

		_, err = e.dispatcher.Dispatch(ctx, engine.Request{
			Workflow:    workflow,
			TriggerKind: workflow.TriggerKind(),
			TriggeredBy: models.TriggeredBySystem,
			Entity:      c.snapshot,
		})
		if err != nil {
			logger.WarnContext(ctx, "Dispatch after firing failed", "key", key.String(), "error", err)
		}
	}

	return result
}

func (e *Evaluator) candidates(ctx context.Context, workflow *models.Workflow, now time.Time) ([]candidate, error) {
	switch trigger := workflow.Trigger.(type) {
	case *models.ScheduleTrigger:
		return e.scheduleCandidates(trigger, now)
	case *models.DateBasedTrigger:
		return e.dateCandidates(ctx, trigger, now)
	default:
		return nil, fmt.Errorf("trigger %q is not time based", workflow.TriggerKind())
	}
}

func (e *Evaluator) scheduleCandidates(trigger *models.ScheduleTrigger, now time.Time) ([]candidate, error) {
	sched, err := schedule.Parse(trigger)
	if err != nil {
		return nil, err
	}

	fire, due := schedule.Due(sched, now, e.grace)
	if !due {
		return nil, nil
	}

	return []candidate{{
		entityID:  models.ScheduleEntityID,
		windowKey: schedule.WindowKey(trigger.Recurrence, fire),
		snapshot: map[string]any{
			"firedAt":    fire.Format(time.RFC3339),
			"recurrence": string(trigger.Recurrence),
		},
	}}, nil
}

// DateWindow returns the calendar range a dateBased trigger scans on the day of now.
func DateWindow(trigger *models.DateBasedTrigger, today time.Time) (time.Time, time.Time) {
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	if trigger.Direction == models.DirectionAfter {
		return day.AddDate(0, 0, -trigger.DaysOffset), day
	}

	return day, day.AddDate(0, 0, trigger.DaysOffset)
}

func (e *Evaluator) dateCandidates(ctx context.Context, trigger *models.DateBasedTrigger, now time.Time) ([]candidate, error) {
	today := now.In(e.location)
	from, to := DateWindow(trigger, today)

	entities, err := e.entities.FindByDateRange(ctx, trigger.EntityType, trigger.Field, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s entities by %s: %w", trigger.EntityType, trigger.Field, err)
	}

	windowKey := models.FormatDate(today)
	result := make([]candidate, 0, len(entities))

	for _, entity := range entities {
		result = append(result, candidate{
			entityID:  entity.ID,
			windowKey: windowKey,
			snapshot:  entity.Snapshot(),
		})
	}

	return result, nil
}
