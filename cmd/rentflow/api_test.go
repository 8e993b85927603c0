package main

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dukex/rentflow/pkg/dispatcher"
	"github.com/dukex/rentflow/pkg/engine"
	"github.com/dukex/rentflow/pkg/executor"
	"github.com/dukex/rentflow/pkg/lock"
	"github.com/dukex/rentflow/pkg/persistence/file"
	"github.com/dukex/rentflow/pkg/recorder"
	"github.com/dukex/rentflow/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestApp(t *testing.T) *fiber.App {
	t.Helper()

	p, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	logger := testLogger()
	rec := recorder.New(p.ExecutionRepository(), p.WorkflowRepository(), logger)
	eng := engine.New(lock.NewMemory(), rec, executor.New(executor.Collaborators{}, logger), logger)

	api := NewAPI(
		logger,
		services.NewWorkflow(p, logger),
		eng,
		rec,
		dispatcher.New(p.WorkflowRepository(), eng, logger),
	)

	return api.App()
}

func TestAPI_RootEndpoint(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Rentflow API", string(body))
}

func TestAPI_Probes(t *testing.T) {
	app := setupTestApp(t)

	for _, path := range []string{"/livez", "/readyz", "/health"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			resp, err := app.Test(req)
			require.NoError(t, err)

			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, http.StatusOK, resp.StatusCode)
		})
	}
}

func TestAPI_MountsWorkflowRoutes(t *testing.T) {
	app := setupTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/workflows", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

const validWorkflow = `{
	"name": "Rent reminder",
	"owner": "landlord-1",
	"status": "active",
	"trigger": {"type": "dateBased", "entity_type": "lease", "field": "rentDueDate", "days_offset": 3, "direction": "before"},
	"actions": [{"type": "sendSMS", "to": "{{.entity.tenantPhone}}", "message": "Rent is due {{.entity.rentDueDate}}"}]
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestValidateFiles(t *testing.T) {
	workflows := services.NewWorkflow(nil, testLogger())

	t.Run("valid file", func(t *testing.T) {
		var out bytes.Buffer

		path := writeFile(t, "ok.json", validWorkflow)

		require.NoError(t, validateFiles(&out, workflows, []string{path}))
		assert.Equal(t, path+": ok\n", out.String())
	})

	t.Run("field errors are listed", func(t *testing.T) {
		var out bytes.Buffer

		path := writeFile(t, "bad.json", `{"name": "", "owner": "manager-1", "trigger": {"type": "nope"}, "actions": []}`)

		err := validateFiles(&out, workflows, []string{path})
		require.ErrorIs(t, err, ErrInvalidWorkflows)
		assert.Contains(t, out.String(), path+": name:")
		assert.Contains(t, out.String(), path+": trigger.type:")
	})

	t.Run("broken json", func(t *testing.T) {
		var out bytes.Buffer

		path := writeFile(t, "broken.json", `{`)

		err := validateFiles(&out, workflows, []string{path})
		require.ErrorIs(t, err, ErrInvalidWorkflows)
		assert.True(t, strings.HasPrefix(out.String(), path+": invalid JSON"))
	})

	t.Run("no files", func(t *testing.T) {
		require.ErrorIs(t, validateFiles(io.Discard, workflows, nil), ErrNoWorkflowFiles)
	})
}
