package dispatcher

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/rentflow/pkg/channels/gochannel"
	"github.com/dukex/rentflow/pkg/engine"
	"github.com/dukex/rentflow/pkg/eventbus"
	"github.com/dukex/rentflow/pkg/events"
	"github.com/dukex/rentflow/pkg/models"
	"github.com/dukex/rentflow/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeEngine struct {
	mu       sync.Mutex
	requests []engine.Request
}

func (f *fakeEngine) Dispatch(_ context.Context, req engine.Request) (*models.Execution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)

	return &models.Execution{WorkflowID: req.Workflow.ID}, nil
}

func (f *fakeEngine) snapshot() []engine.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]engine.Request(nil), f.requests...)
}

func newDispatcher(t *testing.T, workflows ...*models.Workflow) (*Dispatcher, *fakeEngine) {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	for _, workflow := range workflows {
		require.NoError(t, p.WorkflowRepository().Save(context.Background(), workflow))
	}

	eng := &fakeEngine{}

	return New(p.WorkflowRepository(), eng, testLogger()), eng
}

func workflow(id string, status models.WorkflowStatus, trigger models.Trigger) *models.Workflow {
	return &models.Workflow{
		ID:      id,
		Owner:   "landlord-1",
		Name:    id,
		Status:  status,
		Trigger: trigger,
		Actions: []models.Action{{Spec: &models.SendNotificationAction{RecipientID: "landlord-1"}}},
	}
}

func TestPublish_MatchesActiveEventWorkflows(t *testing.T) {
	d, eng := newDispatcher(t,
		workflow("thank-tenant", models.WorkflowStatusActive, &models.EventTrigger{EventName: "payment.received"}),
		workflow("notify-owner", models.WorkflowStatusActive, &models.EventTrigger{EventName: "payment.received"}),
		workflow("paused", models.WorkflowStatusInactive, &models.EventTrigger{EventName: "payment.received"}),
		workflow("other-event", models.WorkflowStatusActive, &models.EventTrigger{EventName: "lease.signed"}),
		workflow("scheduled", models.WorkflowStatusActive, &models.ScheduleTrigger{Recurrence: models.RecurrenceDaily, AtTime: "09:00"}),
	)

	matched, err := d.Publish(context.Background(), "payment.received", map[string]any{"id": "P1", "amount": 1200})
	require.NoError(t, err)

	sort.Strings(matched)
	assert.Equal(t, []string{"notify-owner", "thank-tenant"}, matched)

	d.Wait()

	requests := eng.snapshot()
	require.Len(t, requests, 2)

	for _, req := range requests {
		assert.Equal(t, models.TriggerKindEvent, req.TriggerKind)
		assert.Equal(t, models.TriggeredBySystem, req.TriggeredBy)
		assert.Equal(t, "P1", req.Entity["id"])
	}
}

func TestPublish_NoMatch(t *testing.T) {
	d, eng := newDispatcher(t, workflow("w", models.WorkflowStatusActive, &models.EventTrigger{EventName: "lease.signed"}))

	matched, err := d.Publish(context.Background(), "lease.terminated", nil)
	require.NoError(t, err)
	assert.Empty(t, matched)
	assert.NotNil(t, matched)

	d.Wait()
	assert.Empty(t, eng.snapshot())
}

func TestPublishStatusChange(t *testing.T) {
	d, eng := newDispatcher(t,
		workflow("any-to-resolved", models.WorkflowStatusActive, &models.StatusChangeTrigger{EntityType: "maintenance", ToStatus: "resolved"}),
		workflow("in-progress-to-resolved", models.WorkflowStatusActive, &models.StatusChangeTrigger{EntityType: "maintenance", FromStatus: "in_progress", ToStatus: "resolved"}),
		workflow("lease-resolved", models.WorkflowStatusActive, &models.StatusChangeTrigger{EntityType: "lease", ToStatus: "resolved"}),
	)

	matched, err := d.PublishStatusChange(context.Background(), "maintenance", "M7", "open", "resolved", map[string]any{"unit": "4B"})
	require.NoError(t, err)
	assert.Equal(t, []string{"any-to-resolved"}, matched)

	d.Wait()

	requests := eng.snapshot()
	require.Len(t, requests, 1)

	entity := requests[0].Entity
	assert.Equal(t, "M7", entity["id"])
	assert.Equal(t, "maintenance", entity["entityType"])
	assert.Equal(t, "open", entity["previousStatus"])
	assert.Equal(t, "resolved", entity["status"])
	assert.Equal(t, "4B", entity["unit"])
	assert.Equal(t, models.TriggerKindStatusChange, requests[0].TriggerKind)

	matched, err = d.PublishStatusChange(context.Background(), "maintenance", "M8", "in_progress", "resolved", nil)
	require.NoError(t, err)

	sort.Strings(matched)
	assert.Equal(t, []string{"any-to-resolved", "in-progress-to-resolved"}, matched)
	d.Wait()
}

func TestSubscribe_ForwardsBusEvents(t *testing.T) {
	d, eng := newDispatcher(t,
		workflow("welcome", models.WorkflowStatusActive, &models.EventTrigger{EventName: "lease.signed"}),
		workflow("closed", models.WorkflowStatusActive, &models.StatusChangeTrigger{EntityType: "maintenance", ToStatus: "closed"}),
	)

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, testLogger())
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, d.Subscribe(bus))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "L1", events.DomainEvent{
		BaseEvent: events.NewBase(bus.GenerateID(), events.DomainEventType, time.Now()),
		Name:      "lease.signed",
		Entity:    map[string]any{"id": "L1"},
	}))
	require.NoError(t, bus.Publish(ctx, "M1", events.StatusChanged{
		BaseEvent:  events.NewBase(bus.GenerateID(), events.StatusChangedType, time.Now()),
		EntityType: "maintenance",
		EntityID:   "M1",
		FromStatus: "resolved",
		ToStatus:   "closed",
	}))

	assert.Eventually(t, func() bool {
		return len(eng.snapshot()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	d.Wait()

	ids := make([]string, 0)
	for _, req := range eng.snapshot() {
		ids = append(ids, req.Workflow.ID)
	}

	assert.ElementsMatch(t, []string{"welcome", "closed"}, ids)
}
