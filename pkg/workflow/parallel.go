package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/veloflow/veloflow/pkg/events"
	"github.com/veloflow/veloflow/pkg/models"
)

// runParallel forks one isolated child context per sub-step, runs the
// branches concurrently and joins them into one outcome per fork. A failing
// branch never interrupts its siblings; failures are reported through the
// outcome list and escalated after the join.
func (e *Engine) runParallel(ctx context.Context, wf *models.Workflow, step *models.Step, execCtx *models.ExecutionContext, logger *slog.Logger) []models.ForkOutcome {
	subStepIDs := step.Parallel.Steps
	outcomes := make([]models.ForkOutcome, len(subStepIDs))

	var wg sync.WaitGroup

	for i, subStepID := range subStepIDs {
		wg.Add(1)

		go func(i int, subStepID string) {
			defer wg.Done()

			forkID := fmt.Sprintf("%s-fork-%d", step.ID, i)
			child := execCtx.Fork(forkID, fmt.Sprintf("%s-f%d", execCtx.ID, i))
			forkLogger := logger.With("fork_id", forkID)

			outcomes[i] = e.runFork(ctx, wf, subStepID, child, forkLogger)
		}(i, subStepID)
	}

	wg.Wait()

	return outcomes
}

// runFork executes one branch to completion within its forked context.
func (e *Engine) runFork(ctx context.Context, wf *models.Workflow, subStepID string, child *models.ExecutionContext, logger *slog.Logger) models.ForkOutcome {
	outcome := models.ForkOutcome{
		StepID:      subStepID,
		ExecutionID: child.ID,
	}

	subStep, found := wf.StepByID(subStepID)
	if !found {
		outcome.Error = fmt.Sprintf("step %s not found in workflow %s", subStepID, wf.ID)

		return outcome
	}

	child.CurrentStepID = subStepID

	if !subStep.Enabled {
		outcome.Success = true

		return outcome
	}

	if _, err := e.executeStep(ctx, wf, subStep, child, logger); err != nil {
		outcome.Error = err.Error()

		return outcome
	}

	outcome.Success = true
	outcome.Result = child.StepResults[subStepID]

	return outcome
}

// escalateForkFailures applies each failed fork's own error policy after
// the join: continue is absorbed into the outcome list, notify publishes
// then aborts, stop aborts.
func (e *Engine) escalateForkFailures(ctx context.Context, wf *models.Workflow, step *models.Step, execCtx *models.ExecutionContext, outcomes []models.ForkOutcome) error {
	for _, outcome := range outcomes {
		if outcome.Success {
			continue
		}

		subStep, found := wf.StepByID(outcome.StepID)
		if found && subStep.Policy() == models.ErrorPolicyContinue {
			continue
		}

		if found && subStep.Policy() == models.ErrorPolicyNotify {
			e.publish(ctx, events.StepNotification{
				BaseEvent:   e.baseEvent(events.StepNotificationEvent, wf.ID, execCtx.TenantID),
				ExecutionID: outcome.ExecutionID,
				StepID:      outcome.StepID,
				Error:       outcome.Error,
			})
		}

		return fmt.Errorf("parallel step %s: fork %s failed: %s", step.ID, outcome.StepID, outcome.Error)
	}

	return nil
}
