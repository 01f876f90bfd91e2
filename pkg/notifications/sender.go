// Package notifications delivers step notifications to users.
//
// Delivery is best-effort: the engine records a failed Send as a warning and
// keeps processing.
package notifications

import (
	"context"
	"maps"

	"github.com/dukex/procflow/pkg/template"
)

// Kind tells the recipient why a notification was sent.
type Kind string

const (
	KindNotification      Kind = "notification"       // Notification step
	KindApprovalRequested Kind = "approval_requested" // Approval step entered
	KindTaskAssigned      Kind = "task_assigned"      // Task step entered
)

// Meta identifies the instance and step a notification belongs to.
type Meta struct {
	Kind         Kind   `json:"kind"`
	InstanceID   string `json:"instance_id"`
	DefinitionID string `json:"definition_id"`
	StepID       string `json:"step_id"`
	StepName     string `json:"step_name"`
}

// Sender delivers a notification to one user.
type Sender interface {
	Send(ctx context.Context, userID, template string, variables map[string]any, meta Meta) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, userID, template string, variables map[string]any, meta Meta) error

func (f SenderFunc) Send(ctx context.Context, userID, template string, variables map[string]any, meta Meta) error {
	return f(ctx, userID, template, variables, meta)
}

// Render interpolates variables into tmpl. An empty template yields a default
// message built from meta.
func Render(tmpl string, variables map[string]any, meta Meta) (string, error) {
	if tmpl == "" {
		return defaultMessage(meta), nil
	}

	scope := maps.Clone(variables)
	if scope == nil {
		scope = make(map[string]any)
	}

	if _, ok := scope["step"]; !ok {
		scope["step"] = map[string]any{"id": meta.StepID, "name": meta.StepName}
	}

	return template.Interpolate(tmpl, scope)
}

func defaultMessage(meta Meta) string {
	switch meta.Kind {
	case KindApprovalRequested:
		return "Approval requested: " + meta.StepName
	case KindTaskAssigned:
		return "Task assigned: " + meta.StepName
	default:
		return meta.StepName
	}
}
