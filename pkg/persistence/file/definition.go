package file

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// DefinitionRepository handles definition-related file operations.
type DefinitionRepository struct {
	root string // File system root for storing definitions
}

// NewDefinitionRepository creates a new definition repository.
func NewDefinitionRepository(root string) *DefinitionRepository {
	return &DefinitionRepository{root: root}
}

// GetAll returns all definitions ordered by creation time.
func (dr *DefinitionRepository) GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	ids, err := recordIDs(dr.root, definitionsDir)
	if err != nil {
		return nil, err
	}

	definitions := make([]*models.WorkflowDefinition, 0, len(ids))

	for _, id := range ids {
		definition, err := dr.GetByID(ctx, id)
		if err != nil {
			if persistence.IsDefinitionNotFound(err) {
				continue
			}

			return nil, fmt.Errorf("failed to load definition %s: %w", id, err)
		}

		definitions = append(definitions, definition)
	}

	sort.SliceStable(definitions, func(i, j int) bool {
		if definitions[i].CreatedAt.Equal(definitions[j].CreatedAt) {
			return definitions[i].ID < definitions[j].ID
		}

		return definitions[i].CreatedAt.Before(definitions[j].CreatedAt)
	})

	return definitions, nil
}

// GetByID retrieves a definition by its ID from the file system.
func (dr *DefinitionRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	filePath, err := recordPath(dr.root, definitionsDir, id)
	if err != nil {
		return nil, persistence.NewDefinitionError("GetByID", id, err)
	}

	var definition models.WorkflowDefinition

	err = readRecord(filePath, &definition)
	if err != nil {
		if isNotExist(err) {
			return nil, persistence.NewDefinitionError("GetByID", id, persistence.ErrDefinitionNotFound)
		}

		return nil, persistence.NewDefinitionError("GetByID", id, err)
	}

	return &definition, nil
}

// Save writes a definition to the file system, replacing any previous version.
func (dr *DefinitionRepository) Save(_ context.Context, definition *models.WorkflowDefinition) error {
	filePath, err := recordPath(dr.root, definitionsDir, definition.ID)
	if err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, err)
	}

	err = writeRecord(filePath, definition)
	if err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, err)
	}

	return nil
}

// Delete removes a definition by its ID.
func (dr *DefinitionRepository) Delete(_ context.Context, id string) error {
	filePath, err := recordPath(dr.root, definitionsDir, id)
	if err != nil {
		return persistence.NewDefinitionError("Delete", id, err)
	}

	err = os.Remove(filePath)
	if err != nil {
		if isNotExist(err) {
			return persistence.NewDefinitionError("Delete", id, persistence.ErrDefinitionNotFound)
		}

		return persistence.NewDefinitionError("Delete", id, err)
	}

	return nil
}
