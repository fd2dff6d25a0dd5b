package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veloflow/veloflow/pkg/models"
)

// ErrLoopBoundExceeded is returned before any iteration runs when the input
// collection is larger than the loop's iteration bound.
var ErrLoopBoundExceeded = fmt.Errorf("loop iteration bound exceeded")

// loopIterationResult records one iteration's outcome. Failed iterations
// under continue_on_error are recorded, not dropped.
type loopIterationResult struct {
	Index   int            `json:"index"`
	Item    any            `json:"item"`
	Success bool           `json:"success"`
	Results map[string]any `json:"results,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// runLoop iterates the body steps over the loop's collection. The iteration
// bound is checked up front so an oversized input fails before any side
// effect, not after the limit is hit mid-run.
func (e *Engine) runLoop(ctx context.Context, wf *models.Workflow, step *models.Step, execCtx *models.ExecutionContext, logger *slog.Logger) ([]loopIterationResult, error) {
	items, err := e.loopItems(step, execCtx)
	if err != nil {
		return nil, err
	}

	if step.Loop.MaxIterations > 0 && len(items) > step.Loop.MaxIterations {
		return nil, fmt.Errorf("%w: %d items exceeds limit of %d in step %s",
			ErrLoopBoundExceeded, len(items), step.Loop.MaxIterations, step.ID)
	}

	results := make([]loopIterationResult, 0, len(items))

	for i, item := range items {
		if step.Loop.While != nil {
			// The guard sees the upcoming item so it can stop on content,
			// not just on accumulated state.
			guardCtx := execCtx.Fork(fmt.Sprintf("%s-guard-%d", step.ID, i), execCtx.ID)
			guardCtx.SetVariable("item", item)
			guardCtx.SetVariable("index", i)

			proceed, err := e.evaluator.Evaluate(*step.Loop.While, guardCtx)
			if err != nil {
				return nil, fmt.Errorf("loop guard in step %s: %w", step.ID, err)
			}

			if !proceed {
				logger.Info("Loop guard is false, stopping iteration", "iteration", i)

				break
			}
		}

		iteration := e.runIteration(ctx, wf, step, execCtx, i, item, logger)
		results = append(results, iteration)

		if !iteration.Success && !step.Loop.ContinueOnError {
			return nil, fmt.Errorf("loop step %s: iteration %d failed: %s", step.ID, i, iteration.Error)
		}
	}

	return results, nil
}

// runIteration runs the body once against a forked context carrying the
// current item and index. Body writes stay in the fork; only the recorded
// outcome flows back.
func (e *Engine) runIteration(ctx context.Context, wf *models.Workflow, step *models.Step, execCtx *models.ExecutionContext, index int, item any, logger *slog.Logger) loopIterationResult {
	result := loopIterationResult{Index: index, Item: item}

	child := execCtx.Fork(fmt.Sprintf("%s-iter-%d", step.ID, index), fmt.Sprintf("%s-i%d", execCtx.ID, index))
	child.SetVariable("item", item)
	child.SetVariable("index", index)

	iterLogger := logger.With("iteration", index)

	for _, bodyStepID := range step.Loop.Body {
		bodyStep, found := wf.StepByID(bodyStepID)
		if !found {
			result.Error = fmt.Sprintf("step %s not found in workflow %s", bodyStepID, wf.ID)

			return result
		}

		if !bodyStep.Enabled {
			continue
		}

		child.CurrentStepID = bodyStepID

		if _, err := e.executeStep(ctx, wf, bodyStep, child, iterLogger); err != nil {
			result.Error = err.Error()

			return result
		}
	}

	result.Success = true
	result.Results = iterationResults(child, step.Loop.Body)

	return result
}

// loopItems resolves the loop's input collection from the inline items or
// the source path.
func (e *Engine) loopItems(step *models.Step, execCtx *models.ExecutionContext) ([]any, error) {
	if len(step.Loop.Items) > 0 {
		return step.Loop.Items, nil
	}

	value, found := execCtx.Lookup(step.Loop.Source)
	if !found {
		return nil, fmt.Errorf("%w: loop source %q not found in step %s", models.ErrInvalidStep, step.Loop.Source, step.ID)
	}

	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: loop source %q is not an array in step %s", models.ErrInvalidStep, step.Loop.Source, step.ID)
	}

	return items, nil
}

func iterationResults(child *models.ExecutionContext, bodyStepIDs []string) map[string]any {
	out := make(map[string]any, len(bodyStepIDs))

	for _, id := range bodyStepIDs {
		if result, ok := child.StepResults[id]; ok {
			out[id] = result
		}
	}

	return out
}
