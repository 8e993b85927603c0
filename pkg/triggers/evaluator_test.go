package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dukex/rentflow/pkg/engine"
	"github.com/dukex/rentflow/pkg/executor"
	"github.com/dukex/rentflow/pkg/lock"
	"github.com/dukex/rentflow/pkg/mocks"
	"github.com/dukex/rentflow/pkg/models"
	"github.com/dukex/rentflow/pkg/persistence/file"
	"github.com/dukex/rentflow/pkg/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingDispatcher struct {
	mu       sync.Mutex
	requests []engine.Request
}

func (d *recordingDispatcher) Dispatch(_ context.Context, req engine.Request) (*models.Execution, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests = append(d.requests, req)

	return &models.Execution{WorkflowID: req.Workflow.ID, Status: models.ExecutionStatusSucceeded}, nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.requests)
}

func newPersistence(t *testing.T) *file.Persistence {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	return p
}

func saveWorkflow(t *testing.T, p *file.Persistence, workflow *models.Workflow) {
	t.Helper()

	require.NoError(t, p.WorkflowRepository().Save(context.Background(), workflow))
}

func smsAction(to, message string) []models.Action {
	return []models.Action{{Spec: &models.SendSMSAction{To: to, Message: message}}}
}

func TestEvaluator_RentReminder(t *testing.T) {
	ctx := context.Background()
	p := newPersistence(t)
	now := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
	dueDate := models.FormatDate(now.AddDate(0, 0, 3))

	workflow := &models.Workflow{
		ID:     "W1",
		Owner:  "landlord-1",
		Name:   "Rent Reminder",
		Status: models.WorkflowStatusActive,
		Trigger: &models.DateBasedTrigger{
			EntityType: "lease",
			Field:      "rentDueDate",
			DaysOffset: 3,
			Direction:  models.DirectionBefore,
		},
		Actions: smsAction("{{.entity.tenantPhone}}", "Hi {{.entity.tenantName}}, rent is due on {{.entity.rentDueDate}}"),
	}
	saveWorkflow(t, p, workflow)

	require.NoError(t, p.EntityRepository().Save(ctx, &models.Entity{
		ID:   "L1",
		Type: "lease",
		Data: map[string]any{"rentDueDate": dueDate, "tenantPhone": "+254700000001", "tenantName": "Amina"},
	}))
	require.NoError(t, p.EntityRepository().Save(ctx, &models.Entity{
		ID:   "L2",
		Type: "lease",
		Data: map[string]any{"rentDueDate": models.FormatDate(now.AddDate(0, 0, 10)), "tenantPhone": "+254700000002", "tenantName": "Baraka"},
	}))

	sender := &mocks.MockSMSSender{}
	sender.On("SendSMS", mock.Anything, "+254700000001", "Hi Amina, rent is due on "+dueDate).Return(nil).Once()

	newEvaluator := func() *Evaluator {
		rec := recorder.New(p.ExecutionRepository(), p.WorkflowRepository(), testLogger())
		exec := executor.New(executor.Collaborators{SMS: sender}, testLogger())
		eng := engine.New(lock.NewMemory(), rec, exec, testLogger())

		return NewEvaluator(p.WorkflowRepository(), p.EntityRepository(), p.LedgerRepository(), eng, testLogger())
	}

	evaluator := newEvaluator()

	result := evaluator.Tick(ctx, now)
	assert.Equal(t, 1, result.Workflows)
	assert.Equal(t, 1, result.Candidates)
	assert.Equal(t, 1, result.Fired)
	assert.Zero(t, result.Errors)

	fired, err := p.LedgerRepository().Has(ctx, models.FiringKey{WorkflowID: "W1", EntityID: "L1", WindowKey: "2026-10-16"})
	require.NoError(t, err)
	assert.True(t, fired)

	result = evaluator.Tick(ctx, now.Add(time.Hour))
	assert.Equal(t, 0, result.Fired)
	assert.Equal(t, 1, result.Skipped)

	// A restarted evaluator sees the same ledger.
	result = newEvaluator().Tick(ctx, now.Add(2*time.Hour))
	assert.Equal(t, 0, result.Fired)
	assert.Equal(t, 1, result.Skipped)

	sender.AssertExpectations(t)

	executions, err := p.ExecutionRepository().ListByWorkflow(ctx, "W1", 10)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.ExecutionStatusSucceeded, executions[0].Status)
	assert.Equal(t, models.TriggerKindDateBased, executions[0].TriggerKind)
	assert.Equal(t, models.TriggeredBySystem, executions[0].TriggeredBy)
}

func TestEvaluator_DateBasedAfter(t *testing.T) {
	ctx := context.Background()
	p := newPersistence(t)
	now := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)

	saveWorkflow(t, p, &models.Workflow{
		ID:      "late-fee",
		Status:  models.WorkflowStatusActive,
		Trigger: &models.DateBasedTrigger{EntityType: "invoice", Field: "dueDate", DaysOffset: 5, Direction: models.DirectionAfter},
		Actions: smsAction("x", "late"),
	})

	for i, offset := range []int{-6, -5, -1, 0, 1} {
		require.NoError(t, p.EntityRepository().Save(ctx, &models.Entity{
			ID:   fmt.Sprintf("inv-%d", i),
			Type: "invoice",
			Data: map[string]any{"dueDate": models.FormatDate(now.AddDate(0, 0, offset))},
		}))
	}

	dispatcher := &recordingDispatcher{}
	result := NewEvaluator(p.WorkflowRepository(), p.EntityRepository(), p.LedgerRepository(), dispatcher, testLogger()).Tick(ctx, now)

	assert.Equal(t, 3, result.Fired)
	assert.Equal(t, 3, dispatcher.count())

	ids := make([]string, 0)
	for _, req := range dispatcher.requests {
		ids = append(ids, req.Entity["id"].(string))
	}

	assert.ElementsMatch(t, []string{"inv-1", "inv-2", "inv-3"}, ids)
}

func TestEvaluator_Schedule(t *testing.T) {
	ctx := context.Background()
	p := newPersistence(t)

	saveWorkflow(t, p, &models.Workflow{
		ID:      "monthly-statement",
		Status:  models.WorkflowStatusActive,
		Trigger: &models.ScheduleTrigger{Recurrence: models.RecurrenceMonthly, AtTime: "09:00", DayOfMonth: 16},
		Actions: smsAction("x", "statement"),
	})

	dispatcher := &recordingDispatcher{}
	evaluator := NewEvaluator(p.WorkflowRepository(), p.EntityRepository(), p.LedgerRepository(), dispatcher, testLogger(), WithTick(time.Minute))

	fireAt := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	result := evaluator.Tick(ctx, fireAt.Add(-30*time.Second))
	assert.Zero(t, result.Candidates)

	result = evaluator.Tick(ctx, fireAt.Add(20*time.Second))
	assert.Equal(t, 1, result.Fired)

	result = evaluator.Tick(ctx, fireAt.Add(50*time.Second))
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Fired)

	result = evaluator.Tick(ctx, fireAt.Add(5*time.Minute))
	assert.Zero(t, result.Candidates)

	require.Equal(t, 1, dispatcher.count())
	assert.Equal(t, models.TriggerKindSchedule, dispatcher.requests[0].TriggerKind)

	fired, err := p.LedgerRepository().Has(ctx, models.FiringKey{WorkflowID: "monthly-statement", EntityID: models.ScheduleEntityID, WindowKey: "2026-10"})
	require.NoError(t, err)
	assert.True(t, fired)
}

func TestEvaluator_SkipsInactiveAndOtherKinds(t *testing.T) {
	ctx := context.Background()
	p := newPersistence(t)
	trigger := &models.ScheduleTrigger{Recurrence: models.RecurrenceDaily, AtTime: "09:00"}

	saveWorkflow(t, p, &models.Workflow{ID: "paused", Status: models.WorkflowStatusInactive, Trigger: trigger, Actions: smsAction("x", "y")})
	saveWorkflow(t, p, &models.Workflow{ID: "draft", Status: models.WorkflowStatusDraft, Trigger: trigger, Actions: smsAction("x", "y")})
	saveWorkflow(t, p, &models.Workflow{ID: "event", Status: models.WorkflowStatusActive, Trigger: &models.EventTrigger{EventName: "lease.signed"}, Actions: smsAction("x", "y")})

	archivedAt := time.Now()
	saveWorkflow(t, p, &models.Workflow{ID: "archived", Status: models.WorkflowStatusActive, Trigger: trigger, Actions: smsAction("x", "y"), ArchivedAt: &archivedAt})

	dispatcher := &recordingDispatcher{}
	result := NewEvaluator(p.WorkflowRepository(), p.EntityRepository(), p.LedgerRepository(), dispatcher, testLogger()).
		Tick(ctx, time.Date(2026, 10, 16, 9, 0, 10, 0, time.UTC))

	assert.Zero(t, result.Workflows)
	assert.Zero(t, dispatcher.count())
}

func TestEvaluator_ErrorDoesNotAbortTick(t *testing.T) {
	ctx := context.Background()
	p := newPersistence(t)

	saveWorkflow(t, p, &models.Workflow{
		ID:      "broken",
		Status:  models.WorkflowStatusActive,
		Trigger: &models.ScheduleTrigger{Recurrence: models.RecurrenceDaily, AtTime: "09:00", Timezone: "Mars/Olympus"},
		Actions: smsAction("x", "y"),
	})
	saveWorkflow(t, p, &models.Workflow{
		ID:      "healthy",
		Status:  models.WorkflowStatusActive,
		Trigger: &models.ScheduleTrigger{Recurrence: models.RecurrenceDaily, AtTime: "09:00"},
		Actions: smsAction("x", "y"),
	})

	dispatcher := &recordingDispatcher{}
	result := NewEvaluator(p.WorkflowRepository(), p.EntityRepository(), p.LedgerRepository(), dispatcher, testLogger()).
		Tick(ctx, time.Date(2026, 10, 16, 9, 0, 10, 0, time.UTC))

	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, 1, result.Fired)
	assert.Equal(t, "healthy", dispatcher.requests[0].Workflow.ID)
}

func TestEvaluator_ShardsPartitionWorkflows(t *testing.T) {
	ctx := context.Background()
	p := newPersistence(t)

	for i := range 12 {
		saveWorkflow(t, p, &models.Workflow{
			ID:      fmt.Sprintf("wf-%02d", i),
			Status:  models.WorkflowStatusActive,
			Trigger: &models.ScheduleTrigger{Recurrence: models.RecurrenceDaily, AtTime: "09:00"},
			Actions: smsAction("x", "y"),
		})
	}

	now := time.Date(2026, 10, 16, 9, 0, 10, 0, time.UTC)
	total := 0

	for index := range 3 {
		dispatcher := &recordingDispatcher{}
		evaluator := NewEvaluator(p.WorkflowRepository(), p.EntityRepository(), p.LedgerRepository(), dispatcher, testLogger(),
			WithShard(Shard{Index: index, Count: 3}))

		evaluator.Tick(ctx, now)

		for _, req := range dispatcher.requests {
			assert.True(t, Shard{Index: index, Count: 3}.Owns(req.Workflow.ID))
		}

		total += dispatcher.count()
	}

	assert.Equal(t, 12, total)
}

func TestShard(t *testing.T) {
	assert.True(t, Shard{}.Owns("anything"))
	assert.True(t, Shard{Index: 0, Count: 1}.Owns("anything"))

	owners := 0

	for index := range 4 {
		if (Shard{Index: index, Count: 4}).Owns("wf-42") {
			owners++
		}
	}

	assert.Equal(t, 1, owners)

	require.NoError(t, Shard{Index: 2, Count: 3}.Validate())
	require.Error(t, Shard{Index: 3, Count: 3}.Validate())
	require.Error(t, Shard{Index: -1, Count: 3}.Validate())
}

func TestDateWindow(t *testing.T) {
	today := time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)

	from, to := DateWindow(&models.DateBasedTrigger{DaysOffset: 3, Direction: models.DirectionBefore}, today)
	assert.Equal(t, "2026-10-16", models.FormatDate(from))
	assert.Equal(t, "2026-10-19", models.FormatDate(to))

	from, to = DateWindow(&models.DateBasedTrigger{DaysOffset: 2, Direction: models.DirectionAfter}, today)
	assert.Equal(t, "2026-10-14", models.FormatDate(from))
	assert.Equal(t, "2026-10-16", models.FormatDate(to))
}

func TestEvaluator_StartStop(t *testing.T) {
	p := newPersistence(t)
	evaluator := NewEvaluator(p.WorkflowRepository(), p.EntityRepository(), p.LedgerRepository(), &recordingDispatcher{}, testLogger(), WithTick(time.Hour))

	require.NoError(t, evaluator.Start(context.Background()))
	require.Error(t, evaluator.Start(context.Background()))

	evaluator.Stop(context.Background())
	evaluator.Stop(context.Background())
}
