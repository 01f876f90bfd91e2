// Package log provides the action that writes a templated message to the service log.
package log

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/template"
)

// Action logs a message.
type Action struct {
	Message string
	Level   string
}

func NewAction(config map[string]any) *Action {
	message, _ := config["message"].(string)
	level, _ := config["level"].(string)

	if level == "" {
		level = "info"
	}

	return &Action{
		Message: message,
		Level:   strings.ToLower(level),
	}
}

// Execute logs the interpolated message. It never changes the instance data.
func (a *Action) Execute(ctx context.Context, instance *models.WorkflowInstance, step *models.WorkflowStep, logger *slog.Logger) (map[string]any, error) {
	message, err := template.InterpolateInstance(a.Message, instance)
	if err != nil {
		return nil, fmt.Errorf("failed to render log message: %w", err)
	}

	logger.Log(ctx, parseLevel(a.Level), message,
		"instance_id", instance.ID,
		"step_id", step.ID,
		"definition_id", instance.DefinitionID,
	)

	return nil, nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
