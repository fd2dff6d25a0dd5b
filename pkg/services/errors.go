// Package services provides the workflow management service layer used by
// the HTTP gateway.
package services

import (
	"errors"
	"fmt"
)

// Business logic errors. These map to client errors (4xx responses).
var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrInvalidStatus      = errors.New("invalid workflow status")
	ErrEmptyOwnerID       = errors.New("owner ID cannot be empty")
	ErrStepsRequired      = errors.New("workflow must have at least one step")
	ErrWorkflowNil        = errors.New("workflow cannot be nil")
	ErrCannotActivate     = errors.New("workflow cannot be activated")
	ErrCannotModifyActive = errors.New("cannot modify an active workflow")
)

// ServiceError wraps service-level errors with the failing operation.
type ServiceError struct {
	Op      string
	Message string
	Err     error
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

// IsValidationError reports whether an error should surface as HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrEmptyOwnerID) ||
		errors.Is(err, ErrStepsRequired) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrCannotActivate)
}

// IsConflictError reports whether an error should surface as HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrCannotModifyActive)
}
