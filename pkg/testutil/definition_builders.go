// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/dukex/procflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestStep creates a test WorkflowStep of the given type that can be overridden.
func CreateTestStep(id string, stepType models.StepType, overrides ...func(*models.WorkflowStep)) *models.WorkflowStep {
	step := &models.WorkflowStep{
		ID:   id,
		Name: "Step " + id,
		Type: stepType,
	}

	for _, override := range overrides {
		override(step)
	}

	return step
}

// WithNext sets the forward edge.
func WithNext(stepID string) func(*models.WorkflowStep) {
	return func(s *models.WorkflowStep) {
		s.NextStepID = &stepID
	}
}

// WithOnReject sets the reject edge.
func WithOnReject(stepID string) func(*models.WorkflowStep) {
	return func(s *models.WorkflowStep) {
		s.OnRejectStepID = &stepID
	}
}

// WithOrder sets the step order.
func WithOrder(order int) func(*models.WorkflowStep) {
	return func(s *models.WorkflowStep) {
		s.Order = order
	}
}

// WithAssignee sets a static or dynamic assignee.
func WithAssignee(assigneeType models.AssigneeType, value string) func(*models.WorkflowStep) {
	return func(s *models.WorkflowStep) {
		s.Config.AssigneeType = assigneeType
		if assigneeType == models.AssigneeTypeDynamic {
			s.Config.AssigneeField = value
		} else {
			s.Config.AssigneeID = value
		}
	}
}

// WithTimeoutHours arms a timer when the step is entered.
func WithTimeoutHours(hours float64) func(*models.WorkflowStep) {
	return func(s *models.WorkflowStep) {
		s.Config.TimeoutHours = hours
	}
}

// WithAutoApprove makes an approval step approve itself.
func WithAutoApprove() func(*models.WorkflowStep) {
	return func(s *models.WorkflowStep) {
		s.Config.AutoApprove = true
	}
}

// WithTemplate sets the notification template.
func WithTemplate(template string) func(*models.WorkflowStep) {
	return func(s *models.WorkflowStep) {
		s.Config.NotificationTemplate = template
	}
}

// WithAction sets the action handler and its payload.
func WithAction(actionType string, payload map[string]any) func(*models.WorkflowStep) {
	return func(s *models.WorkflowStep) {
		s.Config.ActionType = actionType
		s.Config.ActionPayload = payload
	}
}

// WithCondition appends an entry condition.
func WithCondition(field string, operator models.ConditionOperator, value any) func(*models.WorkflowStep) {
	return func(s *models.WorkflowStep) {
		s.Conditions = append(s.Conditions, &models.WorkflowCondition{Field: field, Operator: operator, Value: value})
	}
}

// CreateTestDefinition creates an active test definition with a single approval step by default.
func CreateTestDefinition(overrides ...func(*models.WorkflowDefinition)) *models.WorkflowDefinition {
	definition := &models.WorkflowDefinition{
		ID:       uuid.New().String(),
		Name:     "Test Definition",
		ModuleID: "test",
		IsActive: true,
		Steps: []*models.WorkflowStep{
			CreateTestStep("approve", models.StepTypeApproval,
				WithOrder(1), WithAssignee(models.AssigneeTypeUser, "manager-1")),
		},
	}

	for _, override := range overrides {
		override(definition)
	}

	return definition
}

// WithID sets the definition id.
func WithID(id string) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.ID = id
	}
}

// WithSteps replaces the definition steps, numbering them in sequence.
func WithSteps(steps ...*models.WorkflowStep) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		for i, step := range steps {
			if step.Order == 0 {
				step.Order = i + 1
			}
		}

		d.Steps = steps
	}
}

// WithInactive disables the definition.
func WithInactive() func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.IsActive = false
	}
}

// WithModule sets the owning module.
func WithModule(moduleID string) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.ModuleID = moduleID
	}
}

// WithDataSchema sets the JSON Schema of the instance data bag.
func WithDataSchema(schema map[string]any) func(*models.WorkflowDefinition) {
	return func(d *models.WorkflowDefinition) {
		d.DataSchema = schema
	}
}
