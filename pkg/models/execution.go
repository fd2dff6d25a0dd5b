package models

import (
	"strings"
	"time"
)

// ExecutionStatus represents the lifecycle state of a run.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// ExecutionContext carries the mutable state of one in-flight run. The
// variable bag is owned exclusively by the goroutine driving the run; forked
// children receive a copy and never write back directly.
type ExecutionContext struct {
	ID                string         `json:"id"`
	WorkflowID        string         `json:"workflow_id"`
	TenantID          string         `json:"tenant_id"`
	UserID            string         `json:"user_id,omitempty"`
	TriggerData       map[string]any `json:"trigger_data,omitempty"`
	Variables         map[string]any `json:"variables,omitempty"`
	StepResults       map[string]any `json:"step_results,omitempty"`
	Cursor            int            `json:"cursor"` // Monotonically increasing step counter
	CurrentStepID     string         `json:"current_step_id,omitempty"`
	StartedAt         time.Time      `json:"started_at"`
	ParentExecutionID string         `json:"parent_execution_id,omitempty"`
	ForkID            string         `json:"fork_id,omitempty"`
}

// Fork produces a copy-on-write child context for a parallel sub-step. The
// child sees the parent's variables and trigger data but owns its maps.
func (c *ExecutionContext) Fork(forkID, childExecutionID string) *ExecutionContext {
	child := &ExecutionContext{
		ID:                childExecutionID,
		WorkflowID:        c.WorkflowID,
		TenantID:          c.TenantID,
		UserID:            c.UserID,
		TriggerData:       c.TriggerData,
		Variables:         copyMap(c.Variables),
		StepResults:       copyMap(c.StepResults),
		StartedAt:         c.StartedAt,
		ParentExecutionID: c.ID,
		ForkID:            forkID,
	}

	return child
}

// Lookup resolves a dot-addressable path (e.g. "trigger.email",
// "steps.fetch.status", "vars.region") against the context. The first
// segment selects the namespace; bare paths fall back to variables.
func (c *ExecutionContext) Lookup(path string) (any, bool) {
	segments := strings.Split(path, ".")

	var root any

	switch segments[0] {
	case "trigger":
		root = c.TriggerData
		segments = segments[1:]
	case "vars", "variables":
		root = c.Variables
		segments = segments[1:]
	case "steps":
		root = c.StepResults
		segments = segments[1:]
	case "execution":
		root = map[string]any{
			"id":          c.ID,
			"workflow_id": c.WorkflowID,
			"tenant_id":   c.TenantID,
		}
		segments = segments[1:]
	default:
		root = c.Variables
	}

	return lookupPath(root, segments)
}

// SetVariable writes a value into the variable bag under a dot path,
// creating intermediate maps as needed.
func (c *ExecutionContext) SetVariable(path string, value any) {
	if c.Variables == nil {
		c.Variables = make(map[string]any)
	}

	segments := strings.Split(path, ".")
	current := c.Variables

	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[segment] = next
		}

		current = next
	}

	current[segments[len(segments)-1]] = value
}

func lookupPath(root any, segments []string) (any, bool) {
	current := root

	for _, segment := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}

	return out
}

// ExecutionRecord is the persisted view of a run. It is created at run start
// and mutated only by the engine; once terminal it never changes again.
type ExecutionRecord struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id"`
	TenantID     string          `json:"tenant_id"`
	UserID       string          `json:"user_id,omitempty"`
	Status       ExecutionStatus `json:"status"`
	TriggerData  map[string]any  `json:"trigger_data,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Duration     time.Duration   `json:"duration,omitempty"`
	Error        string          `json:"error,omitempty"`
	FailedStepID string          `json:"failed_step_id,omitempty"`
}

// ForkOutcome is one branch's result inside a join. A join always carries
// exactly one outcome per forked sub-step.
type ForkOutcome struct {
	StepID      string `json:"step_id"`
	ExecutionID string `json:"execution_id"`
	Success     bool   `json:"success"`
	Result      any    `json:"result,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Checkpoint is a resumable snapshot of an in-flight run, written before
// each step attempt so a crash mid-step is recoverable.
type Checkpoint struct {
	ExecutionID string            `json:"execution_id"`
	WorkflowID  string            `json:"workflow_id"`
	Context     *ExecutionContext `json:"context"`
	NextStepIDs []string          `json:"next_step_ids"`
	ForkLedger  []ForkOutcome     `json:"fork_ledger,omitempty"`
	TakenAt     time.Time         `json:"taken_at"`
}
