// Package web provides the HTTP API over the definition registry and the workflow engine.
package web

import (
	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/workflow"
)

// StartInstanceRequest represents the request body for starting a workflow instance.
type StartInstanceRequest struct {
	DefinitionID string         `json:"definition_id" validate:"required"`
	EntityType   string         `json:"entity_type"   validate:"required"`
	EntityID     string         `json:"entity_id"     validate:"required"`
	StartedBy    string         `json:"started_by"    validate:"required"`
	Data         map[string]any `json:"data,omitempty"`
}

// StepActionRequest represents the request body for acting on the current step.
// The instance and step come from the path.
type StepActionRequest struct {
	Action      models.StepAction `json:"action"       validate:"required,oneof=approve reject complete skip"`
	PerformedBy string            `json:"performed_by" validate:"required"`
	Comment     string            `json:"comment,omitempty"`
	Data        map[string]any    `json:"data,omitempty"`
}

// LifecycleRequest represents the request body for cancel, hold and resume.
type LifecycleRequest struct {
	PerformedBy string `json:"performed_by" validate:"required"`
	Reason      string `json:"reason,omitempty"`
}

// ListDefinitionsResponse wraps a definition listing.
type ListDefinitionsResponse struct {
	Definitions []*models.WorkflowDefinition `json:"definitions"`
	TotalCount  int                          `json:"total_count"`
}

// ListInstancesResponse wraps an instance listing.
type ListInstancesResponse struct {
	Instances  []*models.WorkflowInstance `json:"instances"`
	TotalCount int                        `json:"total_count"`
}

func (r StartInstanceRequest) toEngine() workflow.StartRequest {
	return workflow.StartRequest{
		DefinitionID: r.DefinitionID,
		EntityType:   r.EntityType,
		EntityID:     r.EntityID,
		Data:         r.Data,
		StartedBy:    r.StartedBy,
	}
}

func (r StepActionRequest) toEngine(instanceID, stepID string) workflow.StepActionRequest {
	return workflow.StepActionRequest{
		InstanceID:  instanceID,
		StepID:      stepID,
		Action:      r.Action,
		PerformedBy: r.PerformedBy,
		Comment:     r.Comment,
		Data:        r.Data,
	}
}
