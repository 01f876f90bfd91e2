// Package memory provides an in-memory persistence used for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

var (
	_ persistence.Persistence          = (*Persistence)(nil)
	_ persistence.DefinitionRepository = (*definitionRepository)(nil)
	_ persistence.InstanceRepository   = (*instanceRepository)(nil)
)

// Persistence keeps definitions and instances in maps. Safe for concurrent access.
// Stored values are cloned on the way in and out.
type Persistence struct {
	mu sync.RWMutex

	definitions map[string]*models.WorkflowDefinition
	instances   map[string]*models.WorkflowInstance
}

// NewPersistence returns an empty store.
func NewPersistence() *Persistence {
	return &Persistence{
		definitions: make(map[string]*models.WorkflowDefinition),
		instances:   make(map[string]*models.WorkflowInstance),
	}
}

func (p *Persistence) DefinitionRepository() persistence.DefinitionRepository {
	return &definitionRepository{store: p}
}

func (p *Persistence) InstanceRepository() persistence.InstanceRepository {
	return &instanceRepository{store: p}
}

// HealthCheck always succeeds for the memory store.
func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (p *Persistence) Close(_ context.Context) error { return nil }

type definitionRepository struct {
	store *Persistence
}

func (r *definitionRepository) GetAll(_ context.Context) ([]*models.WorkflowDefinition, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	definitions := make([]*models.WorkflowDefinition, 0, len(r.store.definitions))
	for _, definition := range r.store.definitions {
		definitions = append(definitions, definition.Clone())
	}

	sort.Slice(definitions, func(i, j int) bool {
		if definitions[i].CreatedAt.Equal(definitions[j].CreatedAt) {
			return definitions[i].ID < definitions[j].ID
		}

		return definitions[i].CreatedAt.Before(definitions[j].CreatedAt)
	})

	return definitions, nil
}

func (r *definitionRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	definition, ok := r.store.definitions[id]
	if !ok {
		return nil, persistence.NewDefinitionError("GetByID", id, persistence.ErrDefinitionNotFound)
	}

	return definition.Clone(), nil
}

func (r *definitionRepository) Save(_ context.Context, definition *models.WorkflowDefinition) error {
	if definition.ID == "" {
		return persistence.NewDefinitionError("Save", definition.ID, persistence.ErrInvalidID)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.definitions[definition.ID] = definition.Clone()

	return nil
}

func (r *definitionRepository) Delete(_ context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.definitions[id]; !ok {
		return persistence.NewDefinitionError("Delete", id, persistence.ErrDefinitionNotFound)
	}

	delete(r.store.definitions, id)

	return nil
}

type instanceRepository struct {
	store *Persistence
}

func (r *instanceRepository) GetByID(_ context.Context, id string) (*models.WorkflowInstance, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	instance, ok := r.store.instances[id]
	if !ok {
		return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
	}

	return instance.Clone(), nil
}

func (r *instanceRepository) Save(_ context.Context, instance *models.WorkflowInstance) error {
	if instance.ID == "" {
		return persistence.NewInstanceError("Save", instance.ID, persistence.ErrInvalidID)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.instances[instance.ID] = instance.Clone()

	return nil
}

func (r *instanceRepository) List(_ context.Context, filter persistence.InstanceFilter) ([]*models.WorkflowInstance, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	instances := make([]*models.WorkflowInstance, 0)

	for _, instance := range r.store.instances {
		if filter.Matches(instance) {
			instances = append(instances, instance.Clone())
		}
	}

	sort.Slice(instances, func(i, j int) bool {
		if instances[i].StartedAt.Equal(instances[j].StartedAt) {
			return instances[i].ID < instances[j].ID
		}

		return instances[i].StartedAt.Before(instances[j].StartedAt)
	})

	return instances, nil
}
