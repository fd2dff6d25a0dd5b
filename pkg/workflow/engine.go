// Package workflow implements the execution engine: it walks a workflow's
// step graph, branches on conditions, forks and joins parallel steps,
// iterates bounded loops and checkpoints progress before every attempt.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/veloflow/veloflow/pkg/conditions"
	"github.com/veloflow/veloflow/pkg/eventbus"
	"github.com/veloflow/veloflow/pkg/events"
	"github.com/veloflow/veloflow/pkg/models"
	"github.com/veloflow/veloflow/pkg/otelhelper"
	"github.com/veloflow/veloflow/pkg/persistence"
	"github.com/veloflow/veloflow/pkg/registry"
	"github.com/veloflow/veloflow/pkg/retry"
	"github.com/veloflow/veloflow/pkg/template"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// stepRetryPolicy shapes the delays for action steps that carry an explicit
// retry bound.
var stepRetryPolicy = models.RetryPolicy{
	MaxRetries:      3,
	InitialDelay:    time.Second,
	MaxDelay:        time.Minute,
	ExponentialBase: 2.0,
	Multiplier:      1.0,
	Jitter:          true,
}

type Engine struct {
	store     persistence.Persistence
	registry  *registry.Registry
	evaluator *conditions.Evaluator
	retrier   *retry.Coordinator
	eventBus  eventbus.EventBus
	tracer    trace.Tracer
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewEngine(
	store persistence.Persistence,
	reg *registry.Registry,
	evaluator *conditions.Evaluator,
	retrier *retry.Coordinator,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		store:     store,
		registry:  reg,
		evaluator: evaluator,
		retrier:   retrier,
		eventBus:  eventBus,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger.With("module", "execution_engine"),
	}
}

// SetTracer enables span emission around runs.
func (e *Engine) SetTracer(tracer trace.Tracer) {
	e.tracer = tracer
}

// Run starts one execution of a workflow. Pre-flight failures (unknown or
// inactive workflow, validation) surface synchronously before any state is
// persisted; once the execution record exists every later failure is
// captured in that record instead.
func (e *Engine) Run(ctx context.Context, workflowID string, triggerData map[string]any, userID string) (string, error) {
	wf, record, execCtx, err := e.prepare(ctx, workflowID, triggerData, userID)
	if err != nil {
		return "", err
	}

	entry, _ := wf.Entry()

	e.drive(ctx, wf, record, execCtx, []string{entry.ID})

	return record.ID, nil
}

// RunWithTimeout runs under a deadline. On expiry the record is marked
// failed at the next step boundary; already-dispatched side effects are
// not undone.
func (e *Engine) RunWithTimeout(ctx context.Context, workflowID string, triggerData map[string]any, userID string, timeout time.Duration) (string, error) {
	wf, record, execCtx, err := e.prepare(ctx, workflowID, triggerData, userID)
	if err != nil {
		return "", err
	}

	entry, _ := wf.Entry()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The driver is the sole writer on the record and context; it notices
	// expiry at the next step boundary and marks the record failed.
	e.drive(runCtx, wf, record, execCtx, []string{entry.ID})

	return record.ID, nil
}

// Resume restarts a paused execution from its persisted checkpoint.
func (e *Engine) Resume(ctx context.Context, executionID string) error {
	record, err := e.store.ExecutionByID(ctx, executionID)
	if err != nil {
		return err
	}

	if record.Status != models.ExecutionStatusPaused {
		return fmt.Errorf("%w: status is %s", ErrNotResumable, record.Status)
	}

	checkpoint, err := e.store.CheckpointByExecutionID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotResumable, err)
	}

	wf, err := e.store.WorkflowByID(ctx, record.WorkflowID)
	if err != nil {
		return err
	}

	e.publish(ctx, events.ExecutionResumed{
		BaseEvent:   e.baseEvent(events.ExecutionResumedEvent, wf.ID, record.TenantID),
		ExecutionID: executionID,
		StepID:      checkpoint.Context.CurrentStepID,
	})

	e.drive(ctx, wf, record, checkpoint.Context, checkpoint.NextStepIDs)

	return nil
}

// Cancel requests cooperative cancellation. The driver observes the status
// change at the next step boundary; no step is interrupted mid-action.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	record, err := e.store.ExecutionByID(ctx, executionID)
	if err != nil {
		return err
	}

	next, err := transition(record.Status, triggerCancel)
	if err != nil {
		return err
	}

	record.Status = next
	now := time.Now().UTC()
	record.CompletedAt = &now
	record.Duration = now.Sub(record.StartedAt)

	if err := e.store.SaveExecution(ctx, record); err != nil {
		return err
	}

	e.publish(ctx, events.ExecutionCancelled{
		BaseEvent:   e.baseEvent(events.ExecutionCancelledEvent, record.WorkflowID, record.TenantID),
		ExecutionID: executionID,
	})

	return nil
}

// Pause requests a pause. The driver writes a checkpoint at the next step
// boundary and stops; Resume continues from there.
func (e *Engine) Pause(ctx context.Context, executionID string) error {
	record, err := e.store.ExecutionByID(ctx, executionID)
	if err != nil {
		return err
	}

	next, err := transition(record.Status, triggerPause)
	if err != nil {
		return err
	}

	record.Status = next

	return e.store.SaveExecution(ctx, record)
}

// prepare runs all pre-flight checks and persists the initial record.
func (e *Engine) prepare(ctx context.Context, workflowID string, triggerData map[string]any, userID string) (*models.Workflow, *models.ExecutionRecord, *models.ExecutionContext, error) {
	wf, err := e.store.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, nil, nil, err
	}

	if !wf.IsExecutable() {
		return nil, nil, nil, fmt.Errorf("%w: %s has status %s", ErrWorkflowInactive, workflowID, wf.Status)
	}

	if err := wf.Validate(e.validate); err != nil {
		return nil, nil, nil, err
	}

	if _, ok := wf.Entry(); !ok {
		return nil, nil, nil, fmt.Errorf("%w: workflow %s has no steps", models.ErrInvalidWorkflow, workflowID)
	}

	now := time.Now().UTC()
	executionID := "exec-" + uuid.New().String()[:8]

	record := &models.ExecutionRecord{
		ID:          executionID,
		WorkflowID:  wf.ID,
		TenantID:    wf.OwnerID,
		UserID:      userID,
		Status:      models.ExecutionStatusPending,
		TriggerData: triggerData,
		StartedAt:   now,
	}

	execCtx := &models.ExecutionContext{
		ID:          executionID,
		WorkflowID:  wf.ID,
		TenantID:    wf.OwnerID,
		UserID:      userID,
		TriggerData: triggerData,
		Variables:   cloneVariables(wf.Variables),
		StepResults: make(map[string]any),
		StartedAt:   now,
	}

	if err := e.store.SaveExecution(ctx, record); err != nil {
		return nil, nil, nil, err
	}

	e.publish(ctx, events.ExecutionStarted{
		BaseEvent:   e.baseEvent(events.ExecutionStartedEvent, wf.ID, wf.OwnerID),
		ExecutionID: executionID,
		TriggerData: triggerData,
	})

	return wf, record, execCtx, nil
}

type interrupt int

const (
	interruptNone interrupt = iota
	interruptCancelled
	interruptPaused
	interruptTimeout
)

// drive is the driver loop: an explicit state machine over (queue, status)
// rather than suspended call stacks, so pause/resume needs only what the
// checkpoint holds.
func (e *Engine) drive(ctx context.Context, wf *models.Workflow, record *models.ExecutionRecord, execCtx *models.ExecutionContext, queue []string) {
	logger := e.logger.With("workflow_id", wf.ID, "execution_id", execCtx.ID)

	if e.tracer != nil {
		var span trace.Span
		ctx, span = otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
			attribute.String(otelhelper.WorkflowIDKey, wf.ID),
			attribute.String(otelhelper.ExecutionIDKey, execCtx.ID),
			attribute.String(otelhelper.TenantIDKey, record.TenantID))

		defer func() {
			if record.Status == models.ExecutionStatusFailed {
				otelhelper.MarkFailed(span, errors.New(record.Error),
					attribute.String(otelhelper.StepIDKey, record.FailedStepID))
			}

			span.End()
		}()
	}

	startTrigger := triggerStart
	if record.Status == models.ExecutionStatusPaused {
		startTrigger = triggerResume
	}

	if !e.setStatus(ctx, record, startTrigger, logger) {
		return
	}

	logger.Info("Starting execution of workflow")

	for len(queue) > 0 {
		switch e.checkInterrupt(ctx, record) {
		case interruptCancelled:
			if !record.Status.Terminal() {
				if e.setStatus(context.WithoutCancel(ctx), record, triggerCancel, logger) {
					e.publish(context.WithoutCancel(ctx), events.ExecutionCancelled{
						BaseEvent:   e.baseEvent(events.ExecutionCancelledEvent, wf.ID, record.TenantID),
						ExecutionID: execCtx.ID,
					})
				}
			}

			logger.Info("Execution cancelled, stopping at step boundary")

			return
		case interruptPaused:
			e.writeCheckpoint(ctx, execCtx, queue, logger)
			e.publish(ctx, events.ExecutionPaused{
				BaseEvent:   e.baseEvent(events.ExecutionPausedEvent, wf.ID, record.TenantID),
				ExecutionID: execCtx.ID,
				StepID:      execCtx.CurrentStepID,
			})
			logger.Info("Execution paused, checkpoint written")

			return
		case interruptTimeout:
			e.failRecord(context.WithoutCancel(ctx), record, "execution timed out", execCtx.CurrentStepID)

			return
		case interruptNone:
		}

		stepID := queue[0]
		queue = queue[1:]

		step, found := wf.StepByID(stepID)
		if !found {
			e.failRecord(ctx, record, fmt.Sprintf("step %s not found in workflow %s", stepID, wf.ID), stepID)

			return
		}

		execCtx.Cursor++
		execCtx.CurrentStepID = stepID

		// Checkpoint before the attempt so a crash mid-step is recoverable.
		e.writeCheckpoint(ctx, execCtx, append([]string{stepID}, queue...), logger)

		if !step.Enabled {
			logger.Info("Step is disabled, skipping", "step_id", step.ID)
			queue = append(queue, step.Next...)

			continue
		}

		next, err := e.executeStep(ctx, wf, step, execCtx, logger)
		if err != nil {
			switch step.Policy() {
			case models.ErrorPolicyContinue:
				logger.Warn("Step failed, continuing per error policy", "step_id", step.ID, "error", err)
				execCtx.StepResults[step.ID] = map[string]any{"error": err.Error()}
				queue = append(queue, step.Next...)

				continue
			case models.ErrorPolicyNotify:
				e.publish(ctx, events.StepNotification{
					BaseEvent:   e.baseEvent(events.StepNotificationEvent, wf.ID, record.TenantID),
					ExecutionID: execCtx.ID,
					StepID:      step.ID,
					Error:       err.Error(),
				})

				fallthrough
			default:
				e.failRecord(ctx, record, err.Error(), step.ID)

				return
			}
		}

		queue = append(queue, next...)
	}

	if !e.setStatus(ctx, record, triggerComplete, logger) {
		return
	}

	if err := e.store.DeleteCheckpoint(ctx, execCtx.ID); err != nil {
		logger.Warn("Failed to delete checkpoint", "error", err)
	}

	e.publish(ctx, events.ExecutionCompleted{
		BaseEvent:   e.baseEvent(events.ExecutionCompletedEvent, wf.ID, record.TenantID),
		ExecutionID: execCtx.ID,
		Duration:    record.Duration,
	})

	logger.Info("Completed execution of workflow")
}

// executeStep runs one step and returns the IDs to advance to.
func (e *Engine) executeStep(ctx context.Context, wf *models.Workflow, step *models.Step, execCtx *models.ExecutionContext, logger *slog.Logger) ([]string, error) {
	logger = logger.With("step_id", step.ID, "step_kind", string(step.Kind))
	logger.Info("Executing step")

	switch step.Kind {
	case models.StepKindAction:
		result, err := e.executeAction(ctx, step, execCtx, logger)
		if err != nil {
			return nil, err
		}

		execCtx.StepResults[step.ID] = result

		return step.Next, nil
	case models.StepKindCondition:
		outcome, err := e.evaluator.Evaluate(step.Condition.Condition, execCtx)
		if err != nil {
			return nil, err
		}

		execCtx.StepResults[step.ID] = outcome

		// Branches advance to their declared targets, never fall through.
		if outcome {
			return step.Condition.Then, nil
		}

		return step.Condition.Else, nil
	case models.StepKindParallel:
		outcomes := e.runParallel(ctx, wf, step, execCtx, logger)
		execCtx.StepResults[step.ID] = outcomes

		if err := e.escalateForkFailures(ctx, wf, step, execCtx, outcomes); err != nil {
			return nil, err
		}

		return step.Next, nil
	case models.StepKindLoop:
		result, err := e.runLoop(ctx, wf, step, execCtx, logger)
		if err != nil {
			return nil, err
		}

		execCtx.StepResults[step.ID] = result

		return step.Next, nil
	default:
		return nil, fmt.Errorf("%w: unknown step kind %q", models.ErrInvalidStep, step.Kind)
	}
}

func (e *Engine) executeAction(ctx context.Context, step *models.Step, execCtx *models.ExecutionContext, logger *slog.Logger) (any, error) {
	resolved := template.ResolveConfig(step.Action.Configuration, execCtx)

	action, err := e.registry.CreateAction(step.Action.Type, resolved)
	if err != nil {
		return nil, err
	}

	// Without an explicit bound the coordinator picks a policy from the
	// class of the first failure.
	var policy models.RetryPolicy
	if step.MaxRetries != nil {
		policy = stepRetryPolicy
		policy.MaxRetries = *step.MaxRetries
	}

	unitID := execCtx.ID + "/" + step.ID

	return e.retrier.Do(ctx, unitID, step.Action.Service, policy, func(ctx context.Context) (any, error) {
		return action.Execute(ctx, *execCtx, logger)
	})
}

func (e *Engine) checkInterrupt(ctx context.Context, record *models.ExecutionRecord) interrupt {
	if err := ctx.Err(); err != nil {
		if err == context.Canceled {
			return interruptCancelled
		}

		return interruptTimeout
	}

	stored, err := e.store.ExecutionByID(ctx, record.ID)
	if err != nil {
		return interruptNone
	}

	switch stored.Status {
	case models.ExecutionStatusCancelled:
		*record = *stored

		return interruptCancelled
	case models.ExecutionStatusPaused:
		*record = *stored

		return interruptPaused
	default:
		return interruptNone
	}
}

func (e *Engine) setStatus(ctx context.Context, record *models.ExecutionRecord, trigger string, logger *slog.Logger) bool {
	next, err := transition(record.Status, trigger)
	if err != nil {
		logger.Warn("Skipping invalid status transition", "from", string(record.Status), "trigger", trigger)

		return false
	}

	record.Status = next

	if next.Terminal() {
		now := time.Now().UTC()
		record.CompletedAt = &now
		record.Duration = now.Sub(record.StartedAt)
	}

	if err := e.store.SaveExecution(ctx, record); err != nil {
		logger.Error("Failed to persist execution status", "status", string(next), "error", err)
	}

	return true
}

func (e *Engine) failRecord(ctx context.Context, record *models.ExecutionRecord, message, stepID string) {
	logger := e.logger.With("execution_id", record.ID)

	record.Error = message
	record.FailedStepID = stepID

	if !e.setStatus(ctx, record, triggerFail, logger) {
		return
	}

	if err := e.store.DeleteCheckpoint(ctx, record.ID); err != nil {
		logger.Warn("Failed to delete checkpoint", "error", err)
	}

	e.publish(ctx, events.ExecutionFailed{
		BaseEvent:    e.baseEvent(events.ExecutionFailedEvent, record.WorkflowID, record.TenantID),
		ExecutionID:  record.ID,
		Error:        message,
		FailedStepID: stepID,
		Duration:     record.Duration,
	})

	logger.Error("Execution failed", "step_id", stepID, "error", message)
}

func (e *Engine) writeCheckpoint(ctx context.Context, execCtx *models.ExecutionContext, nextStepIDs []string, logger *slog.Logger) {
	checkpoint := &models.Checkpoint{
		ExecutionID: execCtx.ID,
		WorkflowID:  execCtx.WorkflowID,
		Context:     execCtx,
		NextStepIDs: nextStepIDs,
		TakenAt:     time.Now().UTC(),
	}

	if err := e.store.SaveCheckpoint(ctx, checkpoint); err != nil {
		logger.Error("Failed to write checkpoint", "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	if err := e.eventBus.Publish(ctx, string(event.GetType()), event); err != nil {
		e.logger.Warn("Failed to publish event", "event_type", string(event.GetType()), "error", err)
	}
}

func (e *Engine) baseEvent(eventType events.EventType, workflowID, tenantID string) events.BaseEvent {
	id := uuid.New().String()
	if e.eventBus != nil {
		id = e.eventBus.GenerateID()
	}

	return events.BaseEvent{
		ID:         id,
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		TenantID:   tenantID,
	}
}

func cloneVariables(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}

	return out
}
