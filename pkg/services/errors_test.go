package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		classify func(error) bool
	}{
		{"validation sentinel", ErrValidation, IsValidationError},
		{"validation service error", NewValidationError("Start", "invalid_data", "bad data", nil), IsValidationError},
		{"wrapped cause keeps validation class", NewValidationError("Start", "x", "y", errors.New("cause")), IsValidationError},
		{"auto advance limit", ErrAutoAdvanceLimit, IsValidationError},
		{"unknown action", fmt.Errorf("perform: %w", ErrUnknownAction), IsValidationError},
		{"not found service error", NewNotFoundError("Get", "instance", "i-1", nil), IsNotFoundError},
		{"persistence definition not found", persistence.NewDefinitionError("GetByID", "d", persistence.ErrDefinitionNotFound), IsNotFoundError},
		{"persistence instance not found", fmt.Errorf("load: %w", persistence.ErrInstanceNotFound), IsNotFoundError},
		{"conflict", NewConflictError("Delete", "definition_in_use", "in use", ErrDefinitionInUse), IsConflictError},
		{"definition exists", ErrDefinitionExists, IsConflictError},
		{"inactive", fmt.Errorf("start: %w", ErrInactiveDefinition), IsInactiveDefinitionError},
		{"invalid state", &InvalidStateError{InstanceID: "i-1", Current: models.InstanceStatusCompleted, Attempted: "cancel"}, IsInvalidStateError},
		{"step mismatch", fmt.Errorf("act: %w", &StepMismatchError{InstanceID: "i-1", Expected: "a", Got: "b"}), IsStepMismatchError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.classify(tt.err))
		})
	}
}

func TestErrorClasses_AreDisjoint(t *testing.T) {
	t.Parallel()

	invalidState := &InvalidStateError{InstanceID: "i-1", Current: models.InstanceStatusOnHold, Attempted: "hold"}

	assert.False(t, IsValidationError(invalidState))
	assert.False(t, IsConflictError(invalidState))
	assert.False(t, IsStepMismatchError(invalidState))
	assert.False(t, IsNotFoundError(ErrValidation))
	assert.False(t, IsConflictError(ErrAutoAdvanceLimit))
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	invalidState := &InvalidStateError{InstanceID: "i-1", Current: models.InstanceStatusCancelled, Attempted: "resume"}
	assert.Equal(t, "cannot resume instance i-1: instance is cancelled", invalidState.Error())

	mismatch := &StepMismatchError{InstanceID: "i-1", Expected: "approve", Got: "notify"}
	assert.Contains(t, mismatch.Error(), `"approve"`)
	assert.Contains(t, mismatch.Error(), `"notify"`)

	notFound := NewNotFoundError("GetInstance", "instance", "i-9", nil)
	assert.Equal(t, "GetInstance: instance i-9 not found", notFound.Error())
	assert.Equal(t, "instance_not_found", notFound.Code)

	var serviceErr *ServiceError

	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", notFound), &serviceErr))
	assert.Equal(t, "GetInstance", serviceErr.Op)
}
