package web

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/veloflow/veloflow/pkg/models"
	"github.com/veloflow/veloflow/pkg/persistence"
	"github.com/veloflow/veloflow/pkg/scheduler"
	"github.com/veloflow/veloflow/pkg/services"
	"github.com/veloflow/veloflow/pkg/triggers"
)

// Engine is the execution surface the gateway needs.
type Engine interface {
	Run(ctx context.Context, workflowID string, triggerData map[string]any, userID string) (string, error)
	Cancel(ctx context.Context, executionID string) error
	Pause(ctx context.Context, executionID string) error
	Resume(ctx context.Context, executionID string) error
}

type APIHandlers struct {
	workflowService *services.Workflow
	store           persistence.Persistence
	engine          Engine
	router          *triggers.Router
	scheduler       *scheduler.Scheduler
	validator       *validator.Validate
	logger          *slog.Logger
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	store persistence.Persistence,
	engine Engine,
	router *triggers.Router,
	sched *scheduler.Scheduler,
	validate *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		store:           store,
		engine:          engine,
		router:          router,
		scheduler:       sched,
		validator:       validate,
		logger:          logger.With("module", "gateway"),
	}
}

// HandleWebhook receives one webhook delivery and routes it. The raw body is
// passed through untouched so signature verification sees the exact bytes.
func (h *APIHandlers) HandleWebhook(c fiber.Ctx) error {
	var payload map[string]any
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&payload); err != nil {
			return badRequest(c, "request body is not valid JSON")
		}
	}

	executionIDs, err := h.router.RouteWebhook(c.Context(), triggers.WebhookRequest{
		WebhookID: c.Params("id"),
		Method:    c.Method(),
		Headers:   map[string]string{triggers.SignatureHeader: c.Get(triggers.SignatureHeader)},
		Body:      c.Body(),
		Payload:   payload,
	})
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(TriggerResponse{ExecutionIDs: executionIDs})
}

// HandleEmail fans an inbound email out to every matching workflow.
func (h *APIHandlers) HandleEmail(c fiber.Ctx) error {
	var req EmailEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	executionIDs, err := h.router.RouteEmail(c.Context(), models.EmailEvent{
		From:      req.From,
		To:        req.To,
		Subject:   req.Subject,
		Body:      req.Body,
		MessageID: req.MessageID,
	})
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(TriggerResponse{ExecutionIDs: executionIDs})
}

// HandleForm fans an inbound form submission out to every matching workflow.
func (h *APIHandlers) HandleForm(c fiber.Ctx) error {
	var req FormSubmissionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	executionIDs, err := h.router.RouteForm(c.Context(), models.FormSubmission{
		FormID: c.Params("id"),
		Fields: req.Fields,
	})
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(TriggerResponse{ExecutionIDs: executionIDs})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	var status *models.WorkflowStatus

	if statusStr := c.Query("status"); statusStr != "" {
		s := models.WorkflowStatus(statusStr)
		status = &s
	}

	workflows, err := h.workflowService.List(c.Context(), c.Query("owner_id"), status)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(workflows)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	wf, err := h.workflowService.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(wf)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	wf, err := h.workflowService.Create(c.Context(), &models.Workflow{
		Name:        req.Name,
		Description: req.Description,
		OwnerID:     req.OwnerID,
		Steps:       req.Steps,
		EntryStepID: req.EntryStepID,
		Variables:   req.Variables,
		Metadata:    req.Metadata,
		Triggers:    req.Triggers,
	})
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(wf)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	wf, err := h.workflowService.Update(c.Context(), &models.Workflow{
		ID:          c.Params("id"),
		Name:        req.Name,
		Description: req.Description,
		Steps:       req.Steps,
		EntryStepID: req.EntryStepID,
		Variables:   req.Variables,
		Metadata:    req.Metadata,
		Triggers:    req.Triggers,
	})
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(wf)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if err := h.workflowService.Delete(c.Context(), c.Params("id")); err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ActivateWorkflow moves a draft or paused workflow to active.
func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	wf, err := h.workflowService.SetStatus(c.Context(), c.Params("id"), models.WorkflowStatusActive)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(wf)
}

// PauseWorkflow moves an active workflow to paused.
func (h *APIHandlers) PauseWorkflow(c fiber.Ctx) error {
	wf, err := h.workflowService.SetStatus(c.Context(), c.Params("id"), models.WorkflowStatusPaused)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(wf)
}

// RunWorkflow starts a manual run of an active workflow.
func (h *APIHandlers) RunWorkflow(c fiber.Ctx) error {
	var req RunWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid request body: "+err.Error())
		}
	}

	executionID, err := h.engine.Run(c.Context(), c.Params("id"), req.TriggerData, req.UserID)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(RunWorkflowResponse{ExecutionID: executionID})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	record, err := h.store.ExecutionByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(record)
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	records, err := h.store.ExecutionsByWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(records)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	if err := h.engine.Cancel(c.Context(), c.Params("id")); err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) PauseExecution(c fiber.Ctx) error {
	if err := h.engine.Pause(c.Context(), c.Params("id")); err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	if err := h.engine.Resume(c.Context(), c.Params("id")); err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) CreateSchedule(c fiber.Ctx) error {
	var schedule models.ScheduleDefinition
	if err := c.Bind().JSON(&schedule); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.scheduler.Add(c.Context(), &schedule); err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(schedule)
}

func (h *APIHandlers) DeleteSchedule(c fiber.Ctx) error {
	if err := h.scheduler.Remove(c.Context(), c.Params("id")); err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) EnableSchedule(c fiber.Ctx) error {
	if err := h.scheduler.Enable(c.Context(), c.Params("id")); err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) DisableSchedule(c fiber.Ctx) error {
	if err := h.scheduler.Disable(c.Context(), c.Params("id")); err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetSchedulerStats(c fiber.Ctx) error {
	stats, err := h.scheduler.Stats(c.Context())
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(stats)
}

func (h *APIHandlers) GetUpcomingFires(c fiber.Ctx) error {
	n := 10
	if limit := c.Query("limit"); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil || parsed < 1 {
			return badRequest(c, "limit must be a positive integer")
		}

		n = parsed
	}

	upcoming, err := h.scheduler.Upcoming(c.Context(), n)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(upcoming)
}

// NotifyEvent delivers a named external event to the scheduler, firing any
// matching event or delay schedules.
func (h *APIHandlers) NotifyEvent(c fiber.Ctx) error {
	var payload map[string]any
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&payload); err != nil {
			return badRequest(c, "request body is not valid JSON")
		}
	}

	if err := h.scheduler.NotifyEvent(c.Context(), c.Params("name"), payload); err != nil {
		return handleError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	message, healthy := h.workflowService.HealthCheck(c.Context())
	if !healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(HealthResponse{Status: "unhealthy", Message: message})
	}

	return c.JSON(HealthResponse{Status: "ok"})
}
