package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		definitionErr := persistence.NewDefinitionError("GetByID", "leave-request", persistence.ErrDefinitionNotFound)
		instanceErr := persistence.NewInstanceError("GetByID", "inst-1", persistence.ErrInstanceNotFound)

		assert.True(t, persistence.IsDefinitionNotFound(definitionErr))
		assert.False(t, persistence.IsInstanceNotFound(definitionErr))
		assert.True(t, persistence.IsInstanceNotFound(instanceErr))
		assert.True(t, persistence.IsNotFound(definitionErr))
		assert.True(t, persistence.IsNotFound(instanceErr))

		assert.True(t, errors.Is(definitionErr, persistence.ErrDefinitionNotFound))
		assert.True(t, errors.Is(instanceErr, persistence.ErrInstanceNotFound))
	})

	t.Run("wrapped errors keep their classification", func(t *testing.T) {
		err := fmt.Errorf("loading: %w", persistence.NewInstanceError("GetByID", "inst-1", persistence.ErrInstanceNotFound))

		assert.True(t, persistence.IsInstanceNotFound(err))

		var instanceErr *persistence.InstanceError

		assert.True(t, errors.As(err, &instanceErr))
		assert.Equal(t, "inst-1", instanceErr.InstanceID)
	})

	t.Run("definition error contains context", func(t *testing.T) {
		err := persistence.NewDefinitionError("Delete", "leave-request", persistence.ErrDefinitionNotFound)

		assert.Contains(t, err.Error(), "Delete")
		assert.Contains(t, err.Error(), "leave-request")
		assert.Contains(t, err.Error(), "workflow definition not found")

		err.Message = "while cleaning up"
		assert.Contains(t, err.Error(), "while cleaning up")
	})
}

func TestInstanceFilter_Matches(t *testing.T) {
	t.Parallel()

	instance := &models.WorkflowInstance{
		DefinitionID: "leave-request",
		Status:       models.InstanceStatusActive,
		EntityType:   "leave",
		EntityID:     "L-1",
	}

	assert.True(t, persistence.InstanceFilter{}.Matches(instance))
	assert.True(t, persistence.InstanceFilter{DefinitionID: "leave-request", Status: models.InstanceStatusActive}.Matches(instance))
	assert.False(t, persistence.InstanceFilter{Status: models.InstanceStatusCompleted}.Matches(instance))
	assert.False(t, persistence.InstanceFilter{EntityID: "L-2"}.Matches(instance))
	assert.False(t, persistence.InstanceFilter{EntityType: "expense"}.Matches(instance))
	assert.False(t, persistence.InstanceFilter{DefinitionID: "other"}.Matches(instance))
}
