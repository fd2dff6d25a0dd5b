package workflow

import "errors"

var (
	// ErrWorkflowInactive indicates the workflow exists but is not in a
	// runnable status.
	ErrWorkflowInactive = errors.New("workflow is not active")

	// ErrNotResumable indicates a resume was requested for an execution
	// that is not paused or has no checkpoint.
	ErrNotResumable = errors.New("execution is not resumable")
)
