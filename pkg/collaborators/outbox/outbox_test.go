package outbox

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/rentflow/pkg/executor"
	"github.com/dukex/rentflow/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOutbox(t *testing.T, opts ...Option) (*Outbox, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	return New(client, logger, opts...), mr
}

func TestOutbox_QueuesEveryKind(t *testing.T) {
	ctx := context.Background()
	o, mr := newOutbox(t)

	require.NoError(t, o.SendEmail(ctx, "amina@example.com", "rent-reminder", map[string]any{"amount": 1200}))
	require.NoError(t, o.SendSMS(ctx, "+254700000001", "Rent is due"))
	require.NoError(t, o.UpdateRecord(ctx, "lease", "L1", map[string]any{"reminded": true}))
	require.NoError(t, o.SendNotification(ctx, "landlord-1", map[string]any{"text": "Rent paid"}))
	require.NoError(t, o.SetStatus(ctx, "maintenance", "M1", "closed"))

	taskID, err := o.CreateTask(ctx, executor.Task{Assignee: "landlord-1", Title: "Inspect", DueDate: time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	url, err := o.GenerateDocument(ctx, "lease-renewal", nil)
	require.NoError(t, err)
	assert.Contains(t, url, "outbox://documents/")

	for _, kind := range []Kind{KindEmail, KindSMS, KindTask, KindRecord, KindDocument, KindNotification, KindStatus} {
		assert.True(t, mr.Exists(o.Key(kind)), "missing list for %s", kind)
	}

	sms, err := o.Pending(ctx, KindSMS, 10)
	require.NoError(t, err)
	require.Len(t, sms, 1)
	assert.Equal(t, KindSMS, sms[0].Kind)
	assert.Equal(t, "+254700000001", sms[0].Payload["to"])
	assert.Equal(t, "Rent is due", sms[0].Payload["message"])

	tasks, err := o.Pending(ctx, KindTask, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, taskID, tasks[0].ID)
	assert.Equal(t, "2026-10-19T00:00:00Z", tasks[0].Payload["due_date"])
}

func TestOutbox_PreservesOrderAndTrims(t *testing.T) {
	ctx := context.Background()
	o, _ := newOutbox(t, WithPrefix("test:"), WithMaxLen(2))

	for _, message := range []string{"one", "two", "three"} {
		require.NoError(t, o.SendSMS(ctx, "+1", message))
	}

	assert.Equal(t, "test:sms", o.Key(KindSMS))

	pending, err := o.Pending(ctx, KindSMS, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "two", pending[0].Payload["message"])
	assert.Equal(t, "three", pending[1].Payload["message"])
}

func TestOutbox_RedisDownIsTransient(t *testing.T) {
	o, mr := newOutbox(t)
	mr.Close()

	err := o.SendSMS(context.Background(), "+1", "hello")
	require.Error(t, err)
	assert.True(t, executor.IsTransient(err))
}

func TestOutbox_DrivesExecutor(t *testing.T) {
	ctx := context.Background()
	o, _ := newOutbox(t)

	exec := executor.New(o.Collaborators(), slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))

	result := exec.Execute(ctx, models.Action{
		Spec: &models.SendEmailAction{To: "{{.entity.tenantEmail}}", Template: "welcome"},
	}, executor.ActionContext{WorkflowID: "W1", ExecutionID: "E1", Entity: map[string]any{"tenantEmail": "amina@example.com"}, Now: time.Now()})

	require.Equal(t, models.ActionStatusSucceeded, result.Status, "%v", result.Err)

	emails, err := o.Pending(ctx, KindEmail, 1)
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, "amina@example.com", emails[0].Payload["to"])
	assert.Equal(t, "welcome", emails[0].Payload["template"])
}
