// Package web provides the HTTP gateway: trigger intake endpoints and the
// workflow management API.
package web

import "github.com/veloflow/veloflow/pkg/models"

// CreateWorkflowRequest is the request body for creating a workflow. New
// workflows always start as drafts.
type CreateWorkflowRequest struct {
	Name        string                  `json:"name"        validate:"required,min=3"`
	Description string                  `json:"description"`
	OwnerID     string                  `json:"owner_id"    validate:"required"`
	Steps       []*models.Step          `json:"steps"`
	EntryStepID string                  `json:"entry_step_id,omitempty"`
	Variables   map[string]any          `json:"variables,omitempty"`
	Metadata    map[string]any          `json:"metadata,omitempty"`
	Triggers    []*models.TriggerConfig `json:"triggers,omitempty"`
}

// UpdateWorkflowRequest is the request body for replacing a draft workflow's
// definition.
type UpdateWorkflowRequest struct {
	Name        string                  `json:"name"        validate:"required,min=3"`
	Description string                  `json:"description"`
	Steps       []*models.Step          `json:"steps"`
	EntryStepID string                  `json:"entry_step_id,omitempty"`
	Variables   map[string]any          `json:"variables,omitempty"`
	Metadata    map[string]any          `json:"metadata,omitempty"`
	Triggers    []*models.TriggerConfig `json:"triggers,omitempty"`
}

// RunWorkflowRequest starts a manual run.
type RunWorkflowRequest struct {
	TriggerData map[string]any `json:"trigger_data,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
}

// RunWorkflowResponse carries the execution identity of a started run.
type RunWorkflowResponse struct {
	ExecutionID string `json:"execution_id"`
}

// TriggerResponse lists the runs started by one inbound event.
type TriggerResponse struct {
	ExecutionIDs []string `json:"execution_ids"`
}

// EmailEventRequest is the inbound email payload.
type EmailEventRequest struct {
	From      string `json:"from"    validate:"required"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	MessageID string `json:"message_id"`
}

// FormSubmissionRequest is the inbound form payload. The form identity comes
// from the URL path.
type FormSubmissionRequest struct {
	Fields map[string]any `json:"fields" validate:"required"`
}

// HealthResponse reports gateway and persistence health.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
