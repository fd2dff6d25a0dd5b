package models

import "fmt"

// StepKind discriminates the step configuration variant.
type StepKind string

const (
	StepKindAction    StepKind = "action"
	StepKindCondition StepKind = "condition"
	StepKindParallel  StepKind = "parallel"
	StepKindLoop      StepKind = "loop"
)

// ErrorPolicy controls how the engine reacts to a failed step.
type ErrorPolicy string

const (
	ErrorPolicyStop     ErrorPolicy = "stop"     // Abort the run (default)
	ErrorPolicyContinue ErrorPolicy = "continue" // Log and advance past the failure
	ErrorPolicyNotify   ErrorPolicy = "notify"   // Send a notification, then abort
)

// Step is one node of a workflow's step graph. Exactly one of the
// kind-specific configurations must be set, matching Kind. Loop bodies may
// reference earlier steps; the graph is not required to be acyclic there.
type Step struct {
	ID         string               `json:"id"   validate:"required"`
	Name       string               `json:"name" validate:"required"`
	Kind       StepKind             `json:"kind" validate:"required,oneof=action condition parallel loop"`
	Action     *ActionStepConfig    `json:"action,omitempty"`
	Condition  *ConditionStepConfig `json:"condition,omitempty"`
	Parallel   *ParallelStepConfig  `json:"parallel,omitempty"`
	Loop       *LoopStepConfig      `json:"loop,omitempty"`
	Next       []string             `json:"next,omitempty"`
	OnError    ErrorPolicy          `json:"on_error,omitempty"`
	MaxRetries *int                 `json:"max_retries,omitempty"` // Overrides the action's retry policy
	Enabled    bool                 `json:"enabled"`
}

// ActionStepConfig delegates the unit of work to a registered action type.
type ActionStepConfig struct {
	Type          string         `json:"type" validate:"required"`
	Configuration map[string]any `json:"configuration,omitempty"`
	// Service identifies the external dependency for circuit breaking.
	// Empty means no breaker is consulted.
	Service string `json:"service,omitempty"`
}

// ConditionStepConfig branches the walk on a condition outcome. The boolean
// result is stored under the step's result key before advancing.
type ConditionStepConfig struct {
	Condition Condition `json:"condition"`
	Then      []string  `json:"then,omitempty"`
	Else      []string  `json:"else,omitempty"`
}

// ParallelStepConfig forks one child context per listed step, runs them
// concurrently, and joins all outcomes before continuing.
type ParallelStepConfig struct {
	Steps []string `json:"steps" validate:"required,min=1"`
}

// LoopStepConfig iterates the body steps over an input collection. Source is
// a variable path resolving to an array; Items may carry the collection
// inline instead. MaxIterations bounds the loop and is enforced before any
// iteration runs.
type LoopStepConfig struct {
	Source          string    `json:"source,omitempty"`
	Items           []any     `json:"items,omitempty"`
	Body            []string  `json:"body" validate:"required,min=1"`
	MaxIterations   int       `json:"max_iterations"`
	ContinueOnError bool      `json:"continue_on_error"`
	While           *Condition `json:"while,omitempty"` // Optional guard checked before each iteration
}

// Policy returns the step's error policy, defaulting to stop.
func (s *Step) Policy() ErrorPolicy {
	if s.OnError == "" {
		return ErrorPolicyStop
	}

	return s.OnError
}

// Successors returns every step ID this step can advance to, including
// branch targets and loop/parallel bodies.
func (s *Step) Successors() []string {
	out := make([]string, 0, len(s.Next))
	out = append(out, s.Next...)

	switch s.Kind {
	case StepKindCondition:
		if s.Condition != nil {
			out = append(out, s.Condition.Then...)
			out = append(out, s.Condition.Else...)
		}
	case StepKindParallel:
		if s.Parallel != nil {
			out = append(out, s.Parallel.Steps...)
		}
	case StepKindLoop:
		if s.Loop != nil {
			out = append(out, s.Loop.Body...)
		}
	case StepKindAction:
	}

	return out
}

// Validate checks that the kind-specific configuration matching Kind is set
// and the others are absent.
func (s *Step) Validate() error {
	var configured int

	if s.Action != nil {
		configured++
	}

	if s.Condition != nil {
		configured++
	}

	if s.Parallel != nil {
		configured++
	}

	if s.Loop != nil {
		configured++
	}

	if configured != 1 {
		return fmt.Errorf("%w: exactly one step configuration required, got %d", ErrInvalidStep, configured)
	}

	switch s.Kind {
	case StepKindAction:
		if s.Action == nil {
			return fmt.Errorf("%w: kind %q requires action configuration", ErrInvalidStep, s.Kind)
		}

		if s.Action.Type == "" {
			return fmt.Errorf("%w: action type is required", ErrInvalidStep)
		}
	case StepKindCondition:
		if s.Condition == nil {
			return fmt.Errorf("%w: kind %q requires condition configuration", ErrInvalidStep, s.Kind)
		}
	case StepKindParallel:
		if s.Parallel == nil {
			return fmt.Errorf("%w: kind %q requires parallel configuration", ErrInvalidStep, s.Kind)
		}

		if len(s.Parallel.Steps) == 0 {
			return fmt.Errorf("%w: parallel step requires at least one sub-step", ErrInvalidStep)
		}
	case StepKindLoop:
		if s.Loop == nil {
			return fmt.Errorf("%w: kind %q requires loop configuration", ErrInvalidStep, s.Kind)
		}

		if len(s.Loop.Body) == 0 {
			return fmt.Errorf("%w: loop step requires a body", ErrInvalidStep)
		}

		if s.Loop.MaxIterations <= 0 {
			return fmt.Errorf("%w: loop max_iterations must be positive", ErrInvalidStep)
		}
	default:
		return fmt.Errorf("%w: unknown step kind %q", ErrInvalidStep, s.Kind)
	}

	if s.OnError != "" && s.OnError != ErrorPolicyStop && s.OnError != ErrorPolicyContinue && s.OnError != ErrorPolicyNotify {
		return fmt.Errorf("%w: unknown error policy %q", ErrInvalidStep, s.OnError)
	}

	return nil
}
