package httprequest

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/procflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testInstance() *models.WorkflowInstance {
	return &models.WorkflowInstance{
		ID:       "i-1",
		EntityID: "req-7",
		Data:     map[string]any{"days": 2, "token": "secret"},
	}
}

func TestNewAction(t *testing.T) {
	_, err := NewAction(http.DefaultClient, map[string]any{})
	require.Error(t, err)

	action, err := NewAction(http.DefaultClient, map[string]any{
		"url":             "http://example.com",
		"method":          "put",
		"headers":         map[string]any{"X-Token": "t", "X-Ignored": 1},
		"timeout_seconds": float64(5),
		"retry":           map[string]any{"attempts": float64(3), "delay": 0.5},
		"result_key":      "webhook",
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, action.Method)
	assert.Equal(t, map[string]string{"X-Token": "t"}, action.Headers)
	assert.Equal(t, 5*time.Second, action.Timeout)
	assert.Equal(t, RetryConfig{Attempts: 3, Delay: 500 * time.Millisecond}, action.Retry)
	assert.Equal(t, "webhook", action.ResultKey)

	defaults, err := NewAction(http.DefaultClient, map[string]any{"url": "http://example.com"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, defaults.Method)
	assert.Equal(t, 1, defaults.Retry.Attempts)
}

func TestAction_ExecuteInterpolatesRequest(t *testing.T) {
	var (
		gotPath   string
		gotHeader string
		gotBody   map[string]any
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Get("Authorization")

		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accepted": true}`))
	}))
	defer server.Close()

	action, err := NewAction(server.Client(), map[string]any{
		"url":        server.URL + "/leave/{{.instance.entity_id}}",
		"headers":    map[string]any{"Authorization": "Bearer {{.token}}"},
		"body":       `{"days": {{.days}}}`,
		"result_key": "webhook",
	})
	require.NoError(t, err)

	result, err := action.Execute(t.Context(), testInstance(), &models.WorkflowStep{ID: "notify-hr"}, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "/leave/req-7", gotPath)
	assert.Equal(t, "Bearer secret", gotHeader)
	assert.Equal(t, map[string]any{"days": float64(2)}, gotBody)

	response, ok := result["webhook"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, response["status_code"])
	assert.Equal(t, map[string]any{"accepted": true}, response["body"])
}

func TestAction_ExecuteObjectBodyWithoutResultKey(t *testing.T) {
	var contentType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	action, err := NewAction(server.Client(), map[string]any{
		"url":  server.URL,
		"body": map[string]any{"event": "approved"},
	})
	require.NoError(t, err)

	result, err := action.Execute(t.Context(), testInstance(), &models.WorkflowStep{ID: "s"}, testLogger())
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, "application/json", contentType)
}

func TestAction_ExecuteRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)

			return
		}

		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	action, err := NewAction(server.Client(), map[string]any{
		"url":        server.URL,
		"retry":      map[string]any{"attempts": float64(3)},
		"result_key": "out",
	})
	require.NoError(t, err)

	result, err := action.Execute(t.Context(), testInstance(), &models.WorkflowStep{ID: "s"}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "ok", result["out"].(map[string]any)["body"])
}

func TestAction_ExecuteClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	action, err := NewAction(server.Client(), map[string]any{
		"url":   server.URL,
		"retry": map[string]any{"attempts": float64(3)},
	})
	require.NoError(t, err)

	_, err = action.Execute(t.Context(), testInstance(), &models.WorkflowStep{ID: "s"}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 422")
	assert.Equal(t, int32(1), calls.Load())
}

func TestActionFactory(t *testing.T) {
	factory := NewActionFactory(nil)
	assert.Equal(t, "http_request", factory.ID())
	assert.Equal(t, defaultClientTimeout, factory.client.Timeout)
	assert.Equal(t, []string{"url"}, factory.Schema()["required"])

	action, err := factory.Create(t.Context(), map[string]any{"url": "http://example.com"})
	require.NoError(t, err)
	assert.IsType(t, &Action{}, action)
}
