// Package models defines the core domain models for approval and automation workflows.
package models

import (
	"maps"
	"time"
)

// WorkflowDefinition is an immutable template describing a directed graph of steps.
// Updates replace a definition wholesale.
type WorkflowDefinition struct {
	ID          string          `json:"id"                     validate:"required"`
	Name        string          `json:"name"                   validate:"required"`
	Description string          `json:"description,omitempty"`
	ModuleID    string          `json:"module_id"`
	IsActive    bool            `json:"is_active"`
	Steps       []*WorkflowStep `json:"steps"                  validate:"required,min=1,dive,required"`
	DataSchema  map[string]any  `json:"data_schema,omitempty"` // JSON Schema for the instance data bag
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Step returns the step with the given id.
func (d *WorkflowDefinition) Step(stepID string) (*WorkflowStep, bool) {
	for _, step := range d.Steps {
		if step.ID == stepID {
			return step, true
		}
	}

	return nil, false
}

// EntryStep returns the step with order 1, falling back to the first step in sequence.
func (d *WorkflowDefinition) EntryStep() *WorkflowStep {
	if len(d.Steps) == 0 {
		return nil
	}

	for _, step := range d.Steps {
		if step.Order == 1 {
			return step
		}
	}

	return d.Steps[0]
}

// Clone returns a deep enough copy of the definition so callers cannot mutate stored templates.
func (d *WorkflowDefinition) Clone() *WorkflowDefinition {
	if d == nil {
		return nil
	}

	clone := *d

	clone.Steps = make([]*WorkflowStep, 0, len(d.Steps))
	for _, step := range d.Steps {
		clone.Steps = append(clone.Steps, step.Clone())
	}

	if d.DataSchema != nil {
		clone.DataSchema = maps.Clone(d.DataSchema)
	}

	return &clone
}

// DefinitionPatch carries a partial update of a definition. Nil fields are left untouched.
type DefinitionPatch struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	ModuleID    *string         `json:"module_id,omitempty"`
	IsActive    *bool           `json:"is_active,omitempty"`
	Steps       []*WorkflowStep `json:"steps,omitempty"`
	DataSchema  map[string]any  `json:"data_schema,omitempty"`
}

// Apply merges the patch into a copy of the definition.
func (p DefinitionPatch) Apply(d *WorkflowDefinition) *WorkflowDefinition {
	merged := d.Clone()

	if p.Name != nil {
		merged.Name = *p.Name
	}

	if p.Description != nil {
		merged.Description = *p.Description
	}

	if p.ModuleID != nil {
		merged.ModuleID = *p.ModuleID
	}

	if p.IsActive != nil {
		merged.IsActive = *p.IsActive
	}

	if p.Steps != nil {
		merged.Steps = make([]*WorkflowStep, 0, len(p.Steps))
		for _, step := range p.Steps {
			merged.Steps = append(merged.Steps, step.Clone())
		}
	}

	if p.DataSchema != nil {
		merged.DataSchema = maps.Clone(p.DataSchema)
	}

	return merged
}
