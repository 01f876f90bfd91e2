package registry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type echoAction struct {
	value string
}

func (a *echoAction) Execute(_ context.Context, instance *models.WorkflowInstance, step *models.WorkflowStep, _ *slog.Logger) (map[string]any, error) {
	return map[string]any{"echo": a.value, "instance": instance.ID, "step": step.ID}, nil
}

type echoFactory struct {
	created int
}

func (*echoFactory) ID() string          { return "echo" }
func (*echoFactory) Name() string        { return "Echo" }
func (*echoFactory) Description() string { return "Echoes its payload" }

func (*echoFactory) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"value": map[string]any{"type": "string"}},
		"required":   []string{"value"},
	}
}

func (f *echoFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	f.created++

	value, _ := config["value"].(string)
	if value == "boom" {
		return nil, errors.New("refusing to echo")
	}

	return &echoAction{value: value}, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := NewRegistry(testLogger())

	_, ok := registry.Get("custom")
	assert.False(t, ok)

	registry.Register("custom", func(_ context.Context, _ *models.WorkflowInstance, _ *models.WorkflowStep, payload map[string]any) (map[string]any, error) {
		return payload, nil
	})

	handler, ok := registry.Get("custom")
	require.True(t, ok)

	result, err := handler(t.Context(), &models.WorkflowInstance{}, &models.WorkflowStep{}, map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, result)

	registry.Register("custom", func(context.Context, *models.WorkflowInstance, *models.WorkflowStep, map[string]any) (map[string]any, error) {
		return nil, nil
	})

	handler, _ = registry.Get("custom")
	result, err = handler(t.Context(), &models.WorkflowInstance{}, &models.WorkflowStep{}, map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Nil(t, result, "later registration replaces the handler")
}

func TestRegistry_RegisterAction(t *testing.T) {
	registry := NewRegistry(testLogger())
	factory := &echoFactory{}
	registry.RegisterAction(factory)

	handler, ok := registry.Get("echo")
	require.True(t, ok)

	instance := &models.WorkflowInstance{ID: "i-1"}
	step := &models.WorkflowStep{ID: "s-1"}

	result, err := handler(t.Context(), instance, step, map[string]any{"value": "hi"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"echo": "hi", "instance": "i-1", "step": "s-1"}, result)

	_, err = handler(t.Context(), instance, step, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid payload for action 'echo'")
	assert.Equal(t, 1, factory.created, "invalid payloads never reach the factory")

	_, err = handler(t.Context(), instance, step, map[string]any{"value": "boom"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create action 'echo'")
}

func TestRegistry_DefaultActions(t *testing.T) {
	registry := NewRegistry(testLogger())
	registry.RegisterDefaultActions(nil)
	registry.Register("custom", func(context.Context, *models.WorkflowInstance, *models.WorkflowStep, map[string]any) (map[string]any, error) {
		return nil, nil
	})

	assert.Equal(t, []string{"custom", "http_request", "log", "transform"}, registry.Types())

	components := registry.Components()
	require.Len(t, components, 4)
	assert.Equal(t, "custom", components[0].Type)
	assert.Nil(t, components[0].Schema)
	assert.Equal(t, "HTTP Request", components[1].Name)
	assert.NotNil(t, components[2].Schema)

	handler, ok := registry.Get("transform")
	require.True(t, ok)

	result, err := handler(t.Context(),
		&models.WorkflowInstance{ID: "i-1", Data: map[string]any{"days": 4}},
		&models.WorkflowStep{ID: "t"},
		map[string]any{"expression": "{{.days}}", "target": "copied"},
	)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"copied": float64(4)}, result)
}
