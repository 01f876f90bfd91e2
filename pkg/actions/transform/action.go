// Package transform provides the action that derives new instance data from a template.
package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/template"
)

// Action renders Expression and stores the result.
type Action struct {
	Expression string
	Target     string
}

func NewAction(config map[string]any) (*Action, error) {
	expression, _ := config["expression"].(string)
	target, _ := config["target"].(string)

	if expression == "" {
		return nil, errors.New("expression is required")
	}

	return &Action{
		Expression: expression,
		Target:     target,
	}, nil
}

func (a *Action) Execute(ctx context.Context, instance *models.WorkflowInstance, step *models.WorkflowStep, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("instance_id", instance.ID, "step_id", step.ID)

	result, err := template.RenderWithInstance(a.Expression, instance)
	if err != nil {
		return nil, fmt.Errorf("transformation failed: %w", err)
	}

	if a.Target != "" {
		logger.DebugContext(ctx, "Transform stored result", "target", a.Target)

		return map[string]any{a.Target: result}, nil
	}

	values, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("transformation produced %T without a target key", result)
	}

	logger.DebugContext(ctx, "Transform merged result", "keys", len(values))

	return values, nil
}
