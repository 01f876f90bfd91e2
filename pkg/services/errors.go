// Package services provides the definition registry and the error taxonomy shared by the engine and the API.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/procflow/pkg/models"
	"github.com/dukex/procflow/pkg/persistence"
)

// Error classes. Every error returned by the registry and the engine matches exactly one of them.
var (
	// ErrValidation marks malformed input (400 Bad Request).
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an unknown definition or instance (404 Not Found).
	ErrNotFound = errors.New("not found")

	// ErrInactiveDefinition marks a start against a disabled definition (409 Conflict).
	ErrInactiveDefinition = errors.New("workflow definition is inactive")

	// ErrInvalidState marks a transition the instance status does not allow (409 Conflict).
	ErrInvalidState = errors.New("invalid instance state")

	// ErrStepMismatch marks an action addressed to a step that is not current (409 Conflict).
	ErrStepMismatch = errors.New("step is not the current step")

	// ErrConflict marks a registry operation that clashes with stored state (409 Conflict).
	ErrConflict = errors.New("conflict")
)

var (
	ErrDefinitionNotFound = persistence.ErrDefinitionNotFound
	ErrInstanceNotFound   = persistence.ErrInstanceNotFound

	ErrDefinitionExists = fmt.Errorf("%w: workflow definition already exists", ErrConflict)
	ErrDefinitionInUse  = fmt.Errorf("%w: workflow definition has unfinished instances", ErrConflict)
	ErrStepInUse        = fmt.Errorf("%w: step is current for unfinished instances", ErrConflict)

	ErrUnknownAction = fmt.Errorf("%w: unknown step action", ErrValidation)
	// ErrAutoAdvanceLimit is returned when one call walks more auto-advancing steps than allowed.
	ErrAutoAdvanceLimit = fmt.Errorf("%w: auto-advance limit exceeded", ErrValidation)
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// InvalidStateError reports a lifecycle transition rejected by the current status.
type InvalidStateError struct {
	InstanceID string
	Current    models.InstanceStatus
	Attempted  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s instance %s: instance is %s", e.Attempted, e.InstanceID, e.Current)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// StepMismatchError reports an action addressed to a step other than the current one.
type StepMismatchError struct {
	InstanceID string
	Expected   string
	Got        string
}

func (e *StepMismatchError) Error() string {
	return fmt.Sprintf("instance %s is at step %q, not %q", e.InstanceID, e.Expected, e.Got)
}

func (e *StepMismatchError) Is(target error) bool {
	return target == ErrStepMismatch
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) || persistence.IsNotFound(err)
}

// IsConflictError checks if an error is a registry conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsInactiveDefinitionError(err error) bool {
	return errors.Is(err, ErrInactiveDefinition)
}

func IsInvalidStateError(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

func IsStepMismatchError(err error) bool {
	return errors.Is(err, ErrStepMismatch)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	if err == nil {
		err = ErrValidation
	} else if !errors.Is(err, ErrValidation) {
		err = fmt.Errorf("%w: %w", ErrValidation, err)
	}

	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError creates a not-found error for the given resource kind and id.
func NewNotFoundError(op, kind, id string, err error) *ServiceError {
	if err == nil {
		err = ErrNotFound
	}

	return &ServiceError{
		Op:      op,
		Code:    kind + "_not_found",
		Message: fmt.Sprintf("%s %s not found", kind, id),
		Err:     err,
	}
}

// NewConflictError creates a conflict error with context.
func NewConflictError(op, code, message string, err error) *ServiceError {
	if err == nil {
		err = ErrConflict
	}

	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
