// Package protocol defines the contracts between the engine and pluggable action implementations.
package protocol

import (
	"context"
	"log/slog"

	"github.com/dukex/procflow/pkg/models"
)

// Action is a configured side effect run by an action step.
// The returned map is shallow-merged into the instance data; nil merges nothing.
type Action interface {
	Execute(ctx context.Context, instance *models.WorkflowInstance, step *models.WorkflowStep, logger *slog.Logger) (map[string]any, error)
}

// ActionFactory builds actions from a step's action payload.
type ActionFactory interface {
	ID() string
	Name() string
	Description() string
	// Schema is the JSON schema the payload must satisfy. Nil disables payload validation.
	Schema() map[string]any
	Create(ctx context.Context, config map[string]any) (Action, error)
}
