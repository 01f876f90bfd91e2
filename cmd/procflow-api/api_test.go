package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/dukex/procflow/pkg/persistence/file"
	"github.com/dukex/procflow/pkg/persistence/memory"
	"github.com/dukex/procflow/pkg/registry"
	"github.com/dukex/procflow/pkg/services"
	"github.com/dukex/procflow/pkg/testutil"
	"github.com/dukex/procflow/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type unhealthyPersistence struct {
	*memory.Persistence
}

func (unhealthyPersistence) HealthCheck(context.Context) error { return assert.AnError }

func setupTestApp(t *testing.T, store persistence.Persistence) (*fiber.App, *services.Definitions) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	clock := clockwork.NewFakeClock()

	definitions := services.NewDefinitions(store, clock, logger)
	actions := registry.NewRegistry(logger)

	engine, err := workflow.NewEngine(workflow.Dependencies{
		Definitions: definitions,
		Instances:   store.InstanceRepository(),
		Actions:     actions,
		Clock:       clock,
		Logger:      logger,
	}, workflow.Config{})
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return NewAPI(logger, store, definitions, engine, actions).App(), definitions
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

func TestAPI_RootEndpoint(t *testing.T) {
	app, _ := setupTestApp(t, file.NewPersistence(t.TempDir()))

	status, body := get(t, app, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "procflow API", body)
}

func TestAPI_HealthChecks(t *testing.T) {
	app, _ := setupTestApp(t, file.NewPersistence(t.TempDir()))

	status, body := get(t, app, "/livez")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body)

	status, _ = get(t, app, "/readyz")
	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_ReadinessFailsWhenStoreIsDown(t *testing.T) {
	app, _ := setupTestApp(t, unhealthyPersistence{memory.NewPersistence()})

	status, _ := get(t, app, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, _ = get(t, app, "/livez")
	assert.Equal(t, http.StatusOK, status)
}

func TestAPI_StartsAndReadsInstance(t *testing.T) {
	app, definitions := setupTestApp(t, file.NewPersistence(t.TempDir()))

	_, err := definitions.Register(t.Context(), testutil.CreateTestDefinition(
		testutil.WithID("onboarding"),
		testutil.WithSteps(
			testutil.CreateTestStep("laptop", models.StepTypeTask,
				testutil.WithAssignee(models.AssigneeTypeRole, "it")),
		),
	))
	require.NoError(t, err)

	payload, err := json.Marshal(map[string]any{
		"definition_id": "onboarding",
		"entity_type":   "employee",
		"entity_id":     "emp-7",
		"started_by":    "hr-1",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/instances", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var started struct {
		Instance models.WorkflowInstance `json:"instance"`
	}

	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	assert.Equal(t, "laptop", started.Instance.CurrentStepID)
	assert.Equal(t, models.InstanceStatusActive, started.Instance.Status)

	status, body := get(t, app, "/instances/"+started.Instance.ID)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"entity_id":"emp-7"`)

	status, body = get(t, app, "/definitions")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "onboarding")
}

func TestValidateDefinitions(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	definitions := services.NewDefinitions(memory.NewPersistence(), clockwork.NewFakeClock(), logger)

	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}

	write("a.json", `{"id": "leave", "name": "Leave", "steps": [{"id": "ok", "name": "OK", "type": "task"}]}`)

	var out strings.Builder

	printf := func(format string, args ...any) { fmt.Fprintf(&out, format, args...) }

	require.NoError(t, validateDefinitions(t.Context(), dir, printf, definitions))
	assert.Contains(t, out.String(), "ok   "+filepath.Join(dir, "a.json"))

	write("b.yaml", "id: leave\nname: Copy\nsteps:\n  - {id: x, name: X, type: task}\n")
	write("c.json", `{"id": "broken", "name": "Broken", "steps": [{"id": "a", "name": "A", "type": "task", "next_step_id": "missing"}]}`)

	out.Reset()

	err := validateDefinitions(t.Context(), dir, printf, definitions)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3 definitions are invalid")
	assert.Contains(t, out.String(), `definition id "leave" is already used`)
	assert.Contains(t, out.String(), "unknown step")
}
