package transform

import (
	"context"

	"github.com/dukex/procflow/pkg/protocol"
)

// ActionFactory is the factory for creating Transform actions.
type ActionFactory struct{}

// NewActionFactory creates a new instance of ActionFactory for the Transform action.
func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

// Create creates a new Action instance based on the provided configuration.
func (h *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

func (h *ActionFactory) ID() string {
	return "transform"
}

func (h *ActionFactory) Name() string {
	return "Transform"
}

func (h *ActionFactory) Description() string {
	return "Renders a template against the instance data and writes the result back into the data bag."
}

// Schema returns the JSON schema for the Transform action payload.
func (h *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"format":      "template",
				"description": "Go template rendered against the instance data. JSON objects, numbers and booleans are decoded.",
				"examples": []string{
					"{\"total_days\": {{.days}}, \"requester\": \"{{.instance.started_by}}\"}",
					"{{.employee.manager.id}}",
				},
			},
			"target": map[string]any{
				"type":        "string",
				"description": "Data key receiving the result. Without it the result must be an object, merged into the data.",
			},
		},
		"required": []string{"expression"},
	}
}
