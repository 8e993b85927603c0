package logsink

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/rentflow/pkg/executor"
	"github.com/dukex/rentflow/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestSink_LogsEveryAction(t *testing.T) {
	var buf bytes.Buffer

	sink := New(slog.New(slog.NewTextHandler(&buf, nil)))
	exec := executor.New(sink.Collaborators(), slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	actions := []models.ActionSpec{
		&models.SendEmailAction{To: "a@example.com", Template: "welcome"},
		&models.SendSMSAction{To: "+1", Message: "hi"},
		&models.CreateTaskAction{Assignee: "landlord-1", DueInDays: 2},
		&models.UpdateRecordAction{EntityType: "lease", ID: "L1", Patch: map[string]any{"x": 1}},
		&models.GenerateDocumentAction{Template: "renewal"},
		&models.SendNotificationAction{RecipientID: "landlord-1"},
		&models.CallWebhookAction{URL: "https://example.com/hook"},
		&models.UpdateStatusAction{EntityType: "lease", ID: "L1", Status: "renewed"},
	}

	for _, spec := range actions {
		result := exec.Execute(context.Background(), models.Action{Spec: spec}, executor.ActionContext{
			WorkflowID:  "W1",
			ExecutionID: "E1",
			Now:         time.Now(),
		})
		assert.Equal(t, models.ActionStatusSucceeded, result.Status, "%s: %v", spec.Type(), result.Err)
	}

	assert.Equal(t, int64(len(actions)), sink.Calls())
	assert.Contains(t, buf.String(), "Dry run: call webhook")
	assert.Contains(t, buf.String(), "renewed")
}
