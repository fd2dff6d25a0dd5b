package workflow

import (
	"fmt"

	"github.com/qmuntal/stateless"
	"github.com/veloflow/veloflow/pkg/models"
)

const (
	triggerStart    = "start"
	triggerComplete = "complete"
	triggerFail     = "fail"
	triggerPause    = "pause"
	triggerResume   = "resume"
	triggerCancel   = "cancel"
)

// lifecycle guards ExecutionRecord status transitions. Terminal states have
// no outgoing transitions, so a completed or failed record can never be
// mutated again.
type lifecycle struct {
	machine *stateless.StateMachine
}

func newLifecycle(initial models.ExecutionStatus) *lifecycle {
	machine := stateless.NewStateMachine(initial)

	machine.Configure(models.ExecutionStatusPending).
		Permit(triggerStart, models.ExecutionStatusRunning).
		Permit(triggerCancel, models.ExecutionStatusCancelled)

	machine.Configure(models.ExecutionStatusRunning).
		Permit(triggerComplete, models.ExecutionStatusCompleted).
		Permit(triggerFail, models.ExecutionStatusFailed).
		Permit(triggerPause, models.ExecutionStatusPaused).
		Permit(triggerCancel, models.ExecutionStatusCancelled)

	machine.Configure(models.ExecutionStatusPaused).
		Permit(triggerResume, models.ExecutionStatusRunning).
		Permit(triggerCancel, models.ExecutionStatusCancelled)

	return &lifecycle{machine: machine}
}

// fire attempts a transition and returns the resulting status.
func (l *lifecycle) fire(trigger string) (models.ExecutionStatus, error) {
	if err := l.machine.Fire(trigger); err != nil {
		return "", fmt.Errorf("invalid execution transition %q: %w", trigger, err)
	}

	state, err := l.machine.State(nil)
	if err != nil {
		return "", err
	}

	status, ok := state.(models.ExecutionStatus)
	if !ok {
		return "", fmt.Errorf("unexpected lifecycle state %T", state)
	}

	return status, nil
}

// transition validates a status change for a persisted record.
func transition(from models.ExecutionStatus, trigger string) (models.ExecutionStatus, error) {
	return newLifecycle(from).fire(trigger)
}
