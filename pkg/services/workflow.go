package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/veloflow/veloflow/pkg/models"
	"github.com/veloflow/veloflow/pkg/persistence"
)

// ErrWorkflowNotFound is returned when a workflow is not found.
var ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

// ActionConfigValidator checks raw action configuration against the
// registered schema for the action type.
type ActionConfigValidator interface {
	ValidateConfig(actionType string, config map[string]any) error
}

// Workflow is the workflow definition management service. Definitions start
// as drafts and must be activated before they can run.
type Workflow struct {
	persistence persistence.Persistence
	actions     ActionConfigValidator
	validate    *validator.Validate
}

// NewWorkflow builds the service. actions may be nil, in which case action
// configuration is only checked structurally, not against schemas.
func NewWorkflow(persistence persistence.Persistence, actions ActionConfigValidator) *Workflow {
	return &Workflow{
		persistence: persistence,
		actions:     actions,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// validateActionConfigs schema-checks every action step at save time so
// malformed configurations never reach a run.
func (w *Workflow) validateActionConfigs(workflow *models.Workflow) error {
	if w.actions == nil {
		return nil
	}

	for _, step := range workflow.Steps {
		if step.Kind != models.StepKindAction || step.Action == nil {
			continue
		}

		if err := w.actions.ValidateConfig(step.Action.Type, step.Action.Configuration); err != nil {
			return fmt.Errorf("%w: step %s: %v", ErrInvalidRequest, step.ID, err)
		}
	}

	return nil
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := w.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List returns workflows, optionally filtered by status and owner.
func (w *Workflow) List(ctx context.Context, ownerID string, status *models.WorkflowStatus) ([]*models.Workflow, error) {
	var (
		workflows []*models.Workflow
		err       error
	)

	if status != nil {
		workflows, err = w.persistence.WorkflowsByStatus(ctx, *status)
	} else {
		workflows, err = w.persistence.Workflows(ctx)
	}

	if err != nil {
		return nil, &ServiceError{Op: "ListWorkflows", Err: err}
	}

	if ownerID == "" {
		return workflows, nil
	}

	filtered := make([]*models.Workflow, 0, len(workflows))

	for _, wf := range workflows {
		if wf.OwnerID == ownerID {
			filtered = append(filtered, wf)
		}
	}

	return filtered, nil
}

// Get returns one workflow by ID.
func (w *Workflow) Get(ctx context.Context, id string) (*models.Workflow, error) {
	return w.persistence.WorkflowByID(ctx, id)
}

// Create validates and stores a new workflow as a draft. Step configuration
// is validated at save time so malformed definitions never reach the engine.
func (w *Workflow) Create(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	if workflow.OwnerID == "" {
		return nil, ErrEmptyOwnerID
	}

	now := time.Now().UTC()
	workflow.ID = "wf-" + uuid.New().String()[:8]
	workflow.Status = models.WorkflowStatusDraft
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	if err := workflow.Validate(w.validate); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if err := w.validateActionConfigs(workflow); err != nil {
		return nil, err
	}

	if err := w.persistence.SaveWorkflow(ctx, workflow); err != nil {
		return nil, &ServiceError{Op: "CreateWorkflow", Err: err}
	}

	return workflow, nil
}

// Update applies changes to a draft or paused workflow. Active workflows are
// immutable; pause or deactivate first.
func (w *Workflow) Update(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	current, err := w.persistence.WorkflowByID(ctx, workflow.ID)
	if err != nil {
		return nil, err
	}

	if current.Status == models.WorkflowStatusActive {
		return nil, ErrCannotModifyActive
	}

	workflow.Status = current.Status
	workflow.CreatedAt = current.CreatedAt
	workflow.UpdatedAt = time.Now().UTC()

	if err := workflow.Validate(w.validate); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if err := w.validateActionConfigs(workflow); err != nil {
		return nil, err
	}

	if err := w.persistence.SaveWorkflow(ctx, workflow); err != nil {
		return nil, &ServiceError{Op: "UpdateWorkflow", Err: err}
	}

	return workflow, nil
}

// SetStatus moves a workflow through its lifecycle. Activation requires at
// least one step so activated workflows are always runnable.
func (w *Workflow) SetStatus(ctx context.Context, id string, status models.WorkflowStatus) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch status {
	case models.WorkflowStatusActive:
		if len(workflow.Steps) == 0 {
			return nil, fmt.Errorf("%w: %v", ErrCannotActivate, ErrStepsRequired)
		}

		if err := workflow.Validate(w.validate); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCannotActivate, err)
		}
	case models.WorkflowStatusDraft, models.WorkflowStatusPaused:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	workflow.Status = status
	workflow.UpdatedAt = time.Now().UTC()

	if err := w.persistence.SaveWorkflow(ctx, workflow); err != nil {
		return nil, &ServiceError{Op: "SetWorkflowStatus", Err: err}
	}

	return workflow, nil
}

// Delete soft-deletes a workflow. The definition is kept for execution
// history; the engine refuses to start deleted workflows.
func (w *Workflow) Delete(ctx context.Context, id string) error {
	workflow, err := w.persistence.WorkflowByID(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowNotFound) {
			return err
		}

		return &ServiceError{Op: "DeleteWorkflow", Err: err}
	}

	now := time.Now().UTC()
	workflow.DeletedAt = &now
	workflow.Status = models.WorkflowStatusPaused
	workflow.UpdatedAt = now

	if err := w.persistence.SaveWorkflow(ctx, workflow); err != nil {
		return &ServiceError{Op: "DeleteWorkflow", Err: err}
	}

	return nil
}
