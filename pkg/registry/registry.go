// Package registry keeps the handlers invoked by action steps.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// Handler runs an action step. The returned map is shallow-merged into the instance data.
type Handler func(ctx context.Context, instance *models.WorkflowInstance, step *models.WorkflowStep, payload map[string]any) (map[string]any, error)

// Component describes a registered action type.
type Component struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// Registry maps action types to handlers. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	logger     *slog.Logger
	handlers   map[string]Handler
	components map[string]Component
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:     logger.With("module", "action_registry"),
		handlers:   make(map[string]Handler),
		components: make(map[string]Component),
	}
}

// Register binds handler to actionType, replacing any previous handler.
func (r *Registry) Register(actionType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[actionType]; exists {
		r.logger.Warn("Replacing action handler", "action_type", actionType)
	}

	r.handlers[actionType] = handler
	r.components[actionType] = Component{Type: actionType, Name: actionType}
}

// RegisterAction registers a factory. Each invocation validates the payload
// against the factory schema, creates the action and executes it.
func (r *Registry) RegisterAction(factory protocol.ActionFactory) {
	actionType := factory.ID()
	schema := factory.Schema()
	logger := r.logger.With("action_type", actionType)

	handler := func(ctx context.Context, instance *models.WorkflowInstance, step *models.WorkflowStep, payload map[string]any) (map[string]any, error) {
		if payload == nil {
			payload = map[string]any{}
		}

		if err := validatePayload(schema, payload); err != nil {
			return nil, fmt.Errorf("invalid payload for action '%s': %w", actionType, err)
		}

		action, err := factory.Create(ctx, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to create action '%s': %w", actionType, err)
		}

		return action.Execute(ctx, instance, step, logger)
	}

	r.Register(actionType, handler)

	r.mu.Lock()
	r.components[actionType] = Component{
		Type:        actionType,
		Name:        factory.Name(),
		Description: factory.Description(),
		Schema:      schema,
	}
	r.mu.Unlock()
}

// Get returns the handler of actionType.
func (r *Registry) Get(actionType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[actionType]

	return handler, ok
}

// Types returns the registered action types in lexical order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for actionType := range r.handlers {
		types = append(types, actionType)
	}

	slices.Sort(types)

	return types
}

// Components describes every registered action type, ordered by type.
func (r *Registry) Components() []Component {
	r.mu.RLock()
	defer r.mu.RUnlock()

	components := make([]Component, 0, len(r.components))
	for _, component := range r.components {
		components = append(components, component)
	}

	slices.SortFunc(components, func(a, b Component) int {
		return strings.Compare(a.Type, b.Type)
	})

	return components
}

func validatePayload(schema map[string]any, payload map[string]any) error {
	if schema == nil {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(payload))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}

	return errors.New(strings.Join(messages, "; "))
}
