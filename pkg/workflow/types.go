package workflow

import (
	"github.com/dukex/procflow/pkg/models"
)

// StartRequest starts a workflow instance for a business entity.
type StartRequest struct {
	DefinitionID string         `json:"definition_id" validate:"required"`
	EntityType   string         `json:"entity_type"   validate:"required"`
	EntityID     string         `json:"entity_id"     validate:"required"`
	Data         map[string]any `json:"data,omitempty"`
	StartedBy    string         `json:"started_by"    validate:"required"`
}

// StepActionRequest performs an action on the current step of an instance.
type StepActionRequest struct {
	InstanceID  string            `json:"instance_id"  validate:"required"`
	StepID      string            `json:"step_id"      validate:"required"`
	Action      models.StepAction `json:"action"       validate:"required"`
	PerformedBy string            `json:"performed_by" validate:"required"`
	Comment     string            `json:"comment,omitempty"`
	Data        map[string]any    `json:"data,omitempty"`
}

// WarningKind names the collaborator whose failure produced a warning.
type WarningKind string

const (
	WarningNotification WarningKind = "notification"
	WarningAction       WarningKind = "action"
	WarningSubscriber   WarningKind = "subscriber"
	WarningAssignee     WarningKind = "assignee"
)

// Warning is a non-fatal failure that happened while serving a call.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	StepID  string      `json:"step_id,omitempty"`
	Message string      `json:"message"`
}

// Result is returned by every mutating engine operation.
type Result struct {
	Instance *models.WorkflowInstance `json:"instance"`
	Warnings []Warning                `json:"warnings,omitempty"`
}
