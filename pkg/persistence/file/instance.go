package file

import (
	"context"
	"fmt"
	"sort"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// InstanceRepository handles instance-related file operations.
type InstanceRepository struct {
	root string
}

// NewInstanceRepository creates a new instance repository.
func NewInstanceRepository(root string) *InstanceRepository {
	return &InstanceRepository{root: root}
}

// GetByID retrieves an instance by its ID.
func (ir *InstanceRepository) GetByID(_ context.Context, id string) (*models.WorkflowInstance, error) {
	filePath, err := recordPath(ir.root, instancesDir, id)
	if err != nil {
		return nil, persistence.NewInstanceError("GetByID", id, err)
	}

	var instance models.WorkflowInstance

	err = readRecord(filePath, &instance)
	if err != nil {
		if isNotExist(err) {
			return nil, persistence.NewInstanceError("GetByID", id, persistence.ErrInstanceNotFound)
		}

		return nil, persistence.NewInstanceError("GetByID", id, err)
	}

	if instance.Data == nil {
		instance.Data = make(map[string]any)
	}

	return &instance, nil
}

// Save writes an instance to the file system, replacing any previous version.
func (ir *InstanceRepository) Save(_ context.Context, instance *models.WorkflowInstance) error {
	filePath, err := recordPath(ir.root, instancesDir, instance.ID)
	if err != nil {
		return persistence.NewInstanceError("Save", instance.ID, err)
	}

	err = writeRecord(filePath, instance)
	if err != nil {
		return persistence.NewInstanceError("Save", instance.ID, err)
	}

	return nil
}

// List loads every instance and filters in memory.
func (ir *InstanceRepository) List(ctx context.Context, filter persistence.InstanceFilter) ([]*models.WorkflowInstance, error) {
	ids, err := recordIDs(ir.root, instancesDir)
	if err != nil {
		return nil, err
	}

	instances := make([]*models.WorkflowInstance, 0)

	for _, id := range ids {
		instance, err := ir.GetByID(ctx, id)
		if err != nil {
			if persistence.IsInstanceNotFound(err) {
				continue
			}

			return nil, fmt.Errorf("failed to load instance %s: %w", id, err)
		}

		if filter.Matches(instance) {
			instances = append(instances, instance)
		}
	}

	sort.SliceStable(instances, func(i, j int) bool {
		if instances[i].StartedAt.Equal(instances[j].StartedAt) {
			return instances[i].ID < instances[j].ID
		}

		return instances[i].StartedAt.Before(instances[j].StartedAt)
	})

	return instances, nil
}
