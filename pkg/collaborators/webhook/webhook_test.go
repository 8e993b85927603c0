package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/rentflow/pkg/executor"
	"github.com/dukex/rentflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCallWebhook_PostsJSON(t *testing.T) {
	var received map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	code, err := New(testLogger()).CallWebhook(context.Background(), server.URL, map[string]any{"leaseId": "L1"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "L1", received["leaseId"])
}

func TestCallWebhook_StatusIsReturned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	code, err := New(testLogger()).CallWebhook(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCallWebhook_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := New(testLogger()).CallWebhook(context.Background(), url, nil)
	require.Error(t, err)
	assert.True(t, executor.IsTransient(err))
}

func TestCallWebhook_ClientTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	caller := New(testLogger(), WithClient(&http.Client{Timeout: 20 * time.Millisecond}))

	_, err := caller.CallWebhook(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.True(t, executor.IsTransient(err))
}

func TestCallWebhook_RetriedByExecutor(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	exec := executor.New(executor.Collaborators{Webhooks: New(testLogger())}, testLogger(),
		executor.WithRetryPolicy(executor.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}),
	)

	result := exec.Execute(context.Background(), models.Action{
		Spec: &models.CallWebhookAction{URL: server.URL, Payload: map[string]any{"id": "{{.entity.id}}"}},
	}, executor.ActionContext{WorkflowID: "W1", ExecutionID: "E1", Entity: map[string]any{"id": "L1"}, Now: time.Now()})

	assert.Equal(t, models.ActionStatusSucceeded, result.Status)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCallWebhook_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	exec := executor.New(executor.Collaborators{Webhooks: New(testLogger())}, testLogger(),
		executor.WithRetryPolicy(executor.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}),
	)

	result := exec.Execute(context.Background(), models.Action{
		Spec: &models.CallWebhookAction{URL: server.URL},
	}, executor.ActionContext{WorkflowID: "W1", ExecutionID: "E1", Now: time.Now()})

	assert.Equal(t, models.ActionStatusFailed, result.Status)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, int32(1), calls.Load())
}
