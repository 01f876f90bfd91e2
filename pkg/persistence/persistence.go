// Package persistence provides the storage abstraction for workflow definitions and instances.
package persistence

import (
	"context"

	"github.com/dukex/procflow/pkg/models"
)

type Persistence interface {
	DefinitionRepository() DefinitionRepository
	InstanceRepository() InstanceRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// DefinitionRepository stores workflow definitions.
type DefinitionRepository interface {
	// GetAll returns every stored definition ordered by creation time.
	GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error)
	// GetByID returns ErrDefinitionNotFound when the id is unknown.
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	// Save inserts or replaces the definition.
	Save(ctx context.Context, definition *models.WorkflowDefinition) error
	// Delete returns ErrDefinitionNotFound when the id is unknown.
	Delete(ctx context.Context, id string) error
}

// InstanceRepository stores workflow instances.
type InstanceRepository interface {
	// GetByID returns ErrInstanceNotFound when the id is unknown.
	GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error)
	// Save inserts or replaces the instance.
	Save(ctx context.Context, instance *models.WorkflowInstance) error
	// List returns the instances matching filter ordered by start time.
	List(ctx context.Context, filter InstanceFilter) ([]*models.WorkflowInstance, error)
}

// InstanceFilter narrows an instance listing. Zero fields match everything.
type InstanceFilter struct {
	DefinitionID string
	Status       models.InstanceStatus
	EntityType   string
	EntityID     string
}

// Matches reports whether the instance satisfies the filter.
func (f InstanceFilter) Matches(instance *models.WorkflowInstance) bool {
	if f.DefinitionID != "" && instance.DefinitionID != f.DefinitionID {
		return false
	}

	if f.Status != "" && instance.Status != f.Status {
		return false
	}

	if f.EntityType != "" && instance.EntityType != f.EntityType {
		return false
	}

	if f.EntityID != "" && instance.EntityID != f.EntityID {
		return false
	}

	return true
}
