// Package models defines the core domain models for workflow automation.
package models

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft  WorkflowStatus = "draft"  // Editable, not executable
	WorkflowStatusActive WorkflowStatus = "active" // Executable
	WorkflowStatusPaused WorkflowStatus = "paused" // Temporarily not executable
)

// Workflow represents a stored workflow definition. The engine reads a
// snapshot at run start; definitions are immutable during a run.
type Workflow struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"        validate:"required,min=3"`
	Description string           `json:"description"`
	Status      WorkflowStatus   `json:"status"      validate:"required,oneof=draft active paused"`
	OwnerID     string           `json:"owner_id"    validate:"required"` // Organization that owns this workflow
	Steps       []*Step          `json:"steps"`
	EntryStepID string           `json:"entry_step_id"`
	Variables   map[string]any   `json:"variables,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
	Triggers    []*TriggerConfig `json:"triggers,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	DeletedAt   *time.Time       `json:"deleted_at,omitempty"`
}

// StepByID returns the step with the given ID, if present.
func (w *Workflow) StepByID(id string) (*Step, bool) {
	for _, step := range w.Steps {
		if step.ID == id {
			return step, true
		}
	}

	return nil, false
}

// Entry returns the designated entry step, falling back to the first step
// when no entry is declared.
func (w *Workflow) Entry() (*Step, bool) {
	if w.EntryStepID != "" {
		return w.StepByID(w.EntryStepID)
	}

	if len(w.Steps) > 0 {
		return w.Steps[0], true
	}

	return nil, false
}

// IsExecutable reports whether the workflow may be started.
func (w *Workflow) IsExecutable() bool {
	return w.Status == WorkflowStatusActive && w.DeletedAt == nil
}

// Validate checks structural integrity: struct tags, per-step configuration,
// and that every successor reference resolves to a known step.
func (w *Workflow) Validate(validate *validator.Validate) error {
	if err := validate.Struct(w); err != nil {
		return err
	}

	known := make(map[string]bool, len(w.Steps))
	for _, step := range w.Steps {
		known[step.ID] = true
	}

	if w.EntryStepID != "" && !known[w.EntryStepID] {
		return fmt.Errorf("%w: entry step %q not found", ErrInvalidWorkflow, w.EntryStepID)
	}

	for _, step := range w.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("step %s: %w", step.ID, err)
		}

		for _, next := range step.Successors() {
			if !known[next] {
				return fmt.Errorf("%w: step %s references unknown step %q", ErrInvalidWorkflow, step.ID, next)
			}
		}
	}

	return nil
}
