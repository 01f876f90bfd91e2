package httprequest

import (
	"context"
	"net/http"
	"time"

	"github.com/dukex/procflow/pkg/protocol"
)

const defaultClientTimeout = 30 * time.Second

// ActionFactory creates http_request actions sharing one client.
type ActionFactory struct {
	client *http.Client
}

// NewActionFactory creates the factory. A nil client gets a 30 second timeout.
func NewActionFactory(client *http.Client) *ActionFactory {
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}

	return &ActionFactory{client: client}
}

func (f *ActionFactory) ID() string {
	return "http_request"
}

func (f *ActionFactory) Name() string {
	return "HTTP Request"
}

func (f *ActionFactory) Description() string {
	return "Calls an outbound webhook. URL, headers and body are interpolated with the instance data."
}

func (f *ActionFactory) Create(_ context.Context, config map[string]any) (protocol.Action, error) {
	return NewAction(f.client, config)
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Target URL. Supports templating.",
				"examples":    []string{"https://hooks.example.com/leave/{{.instance.entity_id}}"},
			},
			"method": map[string]any{
				"type":    "string",
				"default": "POST",
				"enum":    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "get", "post", "put", "patch", "delete"},
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body": map[string]any{
				"description": "Request body. A string is interpolated; any other value is sent as JSON.",
			},
			"timeout_seconds": map[string]any{
				"type":    "number",
				"minimum": 0,
			},
			"retry": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"attempts": map[string]any{"type": "integer", "minimum": 1, "maximum": 5},
					"delay":    map[string]any{"type": "number", "minimum": 0, "description": "Seconds between attempts"},
				},
			},
			"result_key": map[string]any{
				"type":        "string",
				"description": "Data key receiving {status_code, body, headers}. Without it nothing is stored.",
			},
		},
		"required": []string{"url"},
	}
}
