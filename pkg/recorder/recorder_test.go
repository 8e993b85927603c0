package recorder

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/rentflow/pkg/models"
	"github.com/dukex/rentflow/pkg/persistence"
	"github.com/dukex/rentflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Recorder, *file.Persistence) {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, p.WorkflowRepository().Save(context.Background(), &models.Workflow{
		ID:      "W1",
		Owner:   "owner-1",
		Name:    "Payment receipt",
		Status:  models.WorkflowStatusActive,
		Trigger: &models.EventTrigger{EventName: "payment.received"},
		Actions: []models.Action{{Spec: &models.SendSMSAction{To: "1", Message: "thanks"}}},
	}))

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	return New(p.ExecutionRepository(), p.WorkflowRepository(), logger), p
}

func TestRecorder_Lifecycle(t *testing.T) {
	ctx := context.Background()
	rec, p := setup(t)

	start := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	now := start
	rec.nowFunc = func() time.Time { return now }

	id, err := rec.Begin(ctx, "W1", models.TriggerKindEvent, models.TriggeredBySystem, map[string]any{"id": "P1"})
	require.NoError(t, err)

	running, err := rec.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, running.Status)

	require.NoError(t, rec.RecordAction(ctx, id, models.ActionRecord{Index: 1, ActionType: models.ActionTypeSendSMS, Status: models.ActionStatusFailed, Attempts: 3}))
	require.NoError(t, rec.RecordAction(ctx, id, models.ActionRecord{Index: 0, ActionType: models.ActionTypeSendEmail, Status: models.ActionStatusSucceeded, Attempts: 1}))

	now = start.Add(1500 * time.Millisecond)

	done, err := rec.Complete(ctx, id, models.ExecutionStatusPartial, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), done.DurationMs)
	require.Len(t, done.PerAction, 2)
	assert.Equal(t, 0, done.PerAction[0].Index)

	stored, err := rec.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPartial, stored.Status)
	assert.True(t, stored.IsCompleted())

	workflow, err := p.WorkflowRepository().GetByID(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), workflow.Stats.TotalRuns)
	assert.Equal(t, int64(1), workflow.Stats.Partial)
	assert.InDelta(t, 1500.0, workflow.Stats.AvgDurationMs, 0.001)
	require.NotNil(t, workflow.LastRunAt)
	assert.True(t, now.Equal(*workflow.LastRunAt))
}

func TestRecorder_CompletedIsImmutable(t *testing.T) {
	ctx := context.Background()
	rec, _ := setup(t)

	id, err := rec.Begin(ctx, "W1", models.TriggerKindManual, "user-1", nil)
	require.NoError(t, err)

	_, err = rec.Complete(ctx, id, models.ExecutionStatusSucceeded, "")
	require.NoError(t, err)

	_, err = rec.Complete(ctx, id, models.ExecutionStatusFailed, "again")
	require.ErrorIs(t, err, ErrExecutionCompleted)

	err = rec.RecordAction(ctx, id, models.ActionRecord{Index: 0})
	require.ErrorIs(t, err, ErrExecutionCompleted)

	stored, err := rec.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSucceeded, stored.Status)
}

func TestRecorder_ListAndMissing(t *testing.T) {
	ctx := context.Background()
	rec, _ := setup(t)

	for range 3 {
		id, err := rec.Begin(ctx, "W1", models.TriggerKindManual, "user-1", nil)
		require.NoError(t, err)

		_, err = rec.Complete(ctx, id, models.ExecutionStatusSucceeded, "")
		require.NoError(t, err)
	}

	executions, err := rec.List(ctx, "W1", 2)
	require.NoError(t, err)
	assert.Len(t, executions, 2)

	_, err = rec.Get(ctx, "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))

	_, err = rec.Complete(ctx, "missing", models.ExecutionStatusFailed, "")
	assert.True(t, persistence.IsExecutionNotFound(err))
}
