package models

import "errors"

var (
	// ErrInvalidWorkflow indicates a structurally invalid workflow definition.
	ErrInvalidWorkflow = errors.New("invalid workflow definition")

	// ErrInvalidStep indicates a step with a missing or mismatched configuration.
	ErrInvalidStep = errors.New("invalid step configuration")

	// ErrInvalidCondition indicates a condition that cannot be evaluated.
	ErrInvalidCondition = errors.New("invalid condition")

	// ErrInvalidSchedule indicates a schedule definition that fails validation.
	ErrInvalidSchedule = errors.New("invalid schedule definition")

	// ErrInvalidTimezone indicates an unrecognized IANA timezone identifier.
	ErrInvalidTimezone = errors.New("invalid timezone")
)
