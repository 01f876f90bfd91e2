package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"github.com/xeipuuv/gojsonschema"
)

// DefinitionFilter narrows a definition listing. Zero fields match everything.
type DefinitionFilter struct {
	ModuleID string
	Active   *bool
}

// Definitions is the registry of workflow definitions. Mutations are serialized;
// reads go straight to the repository.
type Definitions struct {
	mu sync.Mutex

	persistence persistence.Persistence
	validate    *validator.Validate
	clock       clockwork.Clock
	logger      *slog.Logger
}

// NewDefinitions creates a new definition registry.
func NewDefinitions(p persistence.Persistence, clock clockwork.Clock, logger *slog.Logger) *Definitions {
	return &Definitions{
		persistence: p,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		clock:       clock,
		logger:      logger,
	}
}

// Register validates and stores a new definition.
func (d *Definitions) Register(ctx context.Context, definition *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	err := d.Validate(definition)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err = d.persistence.DefinitionRepository().GetByID(ctx, definition.ID)
	if err == nil {
		return nil, NewConflictError("Register", "definition_exists",
			fmt.Sprintf("workflow definition %s already exists", definition.ID), ErrDefinitionExists)
	}

	if !persistence.IsDefinitionNotFound(err) {
		return nil, fmt.Errorf("failed to check definition %s: %w", definition.ID, err)
	}

	stored := definition.Clone()
	now := d.clock.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	err = d.persistence.DefinitionRepository().Save(ctx, stored)
	if err != nil {
		return nil, fmt.Errorf("failed to save definition %s: %w", definition.ID, err)
	}

	d.logger.InfoContext(ctx, "Registered workflow definition", "definition_id", stored.ID, "steps", len(stored.Steps))

	return stored.Clone(), nil
}

// Update merges patch into the stored definition, re-validates it and replaces it wholesale.
func (d *Definitions) Update(ctx context.Context, id string, patch models.DefinitionPatch) (*models.WorkflowDefinition, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current, err := d.get(ctx, "Update", id)
	if err != nil {
		return nil, err
	}

	merged := patch.Apply(current)
	merged.ID = id

	err = d.Validate(merged)
	if err != nil {
		return nil, err
	}

	err = d.checkCurrentSteps(ctx, merged)
	if err != nil {
		return nil, err
	}

	merged.UpdatedAt = d.clock.Now().UTC()

	err = d.persistence.DefinitionRepository().Save(ctx, merged)
	if err != nil {
		return nil, fmt.Errorf("failed to save definition %s: %w", id, err)
	}

	d.logger.InfoContext(ctx, "Updated workflow definition", "definition_id", id)

	return merged.Clone(), nil
}

// checkCurrentSteps refuses a definition that drops the step an unfinished
// instance is parked on.
func (d *Definitions) checkCurrentSteps(ctx context.Context, definition *models.WorkflowDefinition) error {
	instances, err := d.persistence.InstanceRepository().List(ctx, persistence.InstanceFilter{DefinitionID: definition.ID})
	if err != nil {
		return fmt.Errorf("failed to list instances of definition %s: %w", definition.ID, err)
	}

	for _, instance := range instances {
		if instance.Status.IsTerminal() {
			continue
		}

		if _, ok := definition.Step(instance.CurrentStepID); !ok {
			return NewConflictError("Update", "step_in_use",
				fmt.Sprintf("step %q is current for unfinished instance %s", instance.CurrentStepID, instance.ID), ErrStepInUse)
		}
	}

	return nil
}

// Delete removes a definition that has no unfinished instances.
func (d *Definitions) Delete(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.get(ctx, "Delete", id)
	if err != nil {
		return err
	}

	instances, err := d.persistence.InstanceRepository().List(ctx, persistence.InstanceFilter{DefinitionID: id})
	if err != nil {
		return fmt.Errorf("failed to list instances of definition %s: %w", id, err)
	}

	for _, instance := range instances {
		if !instance.Status.IsTerminal() {
			return NewConflictError("Delete", "definition_in_use",
				fmt.Sprintf("workflow definition %s has unfinished instance %s", id, instance.ID), ErrDefinitionInUse)
		}
	}

	err = d.persistence.DefinitionRepository().Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete definition %s: %w", id, err)
	}

	d.logger.InfoContext(ctx, "Deleted workflow definition", "definition_id", id)

	return nil
}

// Get returns a copy of the stored definition.
func (d *Definitions) Get(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return d.get(ctx, "Get", id)
}

func (d *Definitions) get(ctx context.Context, op, id string) (*models.WorkflowDefinition, error) {
	definition, err := d.persistence.DefinitionRepository().GetByID(ctx, id)
	if err != nil {
		if persistence.IsDefinitionNotFound(err) {
			return nil, NewNotFoundError(op, "definition", id, err)
		}

		return nil, fmt.Errorf("failed to get definition %s: %w", id, err)
	}

	return definition, nil
}

// List returns the definitions matching filter.
func (d *Definitions) List(ctx context.Context, filter DefinitionFilter) ([]*models.WorkflowDefinition, error) {
	all, err := d.persistence.DefinitionRepository().GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	definitions := make([]*models.WorkflowDefinition, 0, len(all))

	for _, definition := range all {
		if filter.ModuleID != "" && definition.ModuleID != filter.ModuleID {
			continue
		}

		if filter.Active != nil && definition.IsActive != *filter.Active {
			continue
		}

		definitions = append(definitions, definition)
	}

	return definitions, nil
}

// Validate checks a definition for structural and referential errors.
func (d *Definitions) Validate(definition *models.WorkflowDefinition) error {
	if definition == nil {
		return NewValidationError("Validate", "definition_required", "workflow definition is required", nil)
	}

	err := d.validate.Struct(definition)
	if err != nil {
		return NewValidationError("Validate", "invalid_definition", DescribeValidation(err), err)
	}

	ids := make(map[string]*models.WorkflowStep, len(definition.Steps))

	for _, step := range definition.Steps {
		if _, ok := ids[step.ID]; ok {
			return NewValidationError("Validate", "duplicate_step_id",
				fmt.Sprintf("step id %q is used more than once", step.ID), nil)
		}

		ids[step.ID] = step
	}

	for _, step := range definition.Steps {
		edges := [][2]string{{"next_step_id", step.Next()}, {"on_reject_step_id", step.OnReject()}}

		for _, edge := range edges {
			if edge[1] == "" {
				continue
			}

			if _, ok := ids[edge[1]]; !ok {
				return NewValidationError("Validate", "unknown_step_reference",
					fmt.Sprintf("step %q %s references unknown step %q", step.ID, edge[0], edge[1]), nil)
			}
		}
	}

	if cycle := autoAdvanceCycle(definition.Steps, ids); cycle != nil {
		return NewValidationError("Validate", "auto_advance_cycle",
			"steps "+strings.Join(cycle, " -> ")+" form a cycle that never waits for input", nil)
	}

	if definition.DataSchema != nil {
		_, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(definition.DataSchema))
		if err != nil {
			return NewValidationError("Validate", "invalid_data_schema",
				"data_schema is not a valid JSON Schema: "+err.Error(), err)
		}
	}

	return nil
}

// ValidateData checks an instance data bag against the definition's JSON Schema.
func ValidateData(definition *models.WorkflowDefinition, data map[string]any) error {
	if definition.DataSchema == nil {
		return nil
	}

	if data == nil {
		data = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(definition.DataSchema), gojsonschema.NewGoLoader(data))
	if err != nil {
		return NewValidationError("ValidateData", "invalid_data_schema", err.Error(), err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, resultErr := range result.Errors() {
			messages = append(messages, resultErr.String())
		}

		return NewValidationError("ValidateData", "invalid_data",
			"JSON schema validation failed: "+strings.Join(messages, "; "), nil)
	}

	return nil
}

// autoAdvanceCycle returns the step ids of a cycle made only of unconditional
// notification and action steps, or nil.
func autoAdvanceCycle(steps []*models.WorkflowStep, ids map[string]*models.WorkflowStep) []string {
	autoAdvances := func(step *models.WorkflowStep) bool {
		return (step.Type == models.StepTypeNotification || step.Type == models.StepTypeAction) &&
			len(step.Conditions) == 0
	}

	for _, start := range steps {
		if !autoAdvances(start) {
			continue
		}

		path := []string{start.ID}
		seen := map[string]bool{start.ID: true}

		for step := start; ; {
			next, ok := ids[step.Next()]
			if !ok || !autoAdvances(next) {
				break
			}

			path = append(path, next.ID)

			if seen[next.ID] {
				return path
			}

			seen[next.ID] = true
			step = next
		}
	}

	return nil
}

// DescribeValidation renders validator errors as "Namespace failed on 'tag'" messages.
func DescribeValidation(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		messages = append(messages, fmt.Sprintf("%s failed on '%s'", fieldErr.Namespace(), fieldErr.Tag()))
	}

	return strings.Join(messages, "; ")
}
