package models

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind selects the firing behavior of a schedule.
type ScheduleKind string

const (
	ScheduleKindCron     ScheduleKind = "cron"
	ScheduleKindInterval ScheduleKind = "interval"
	ScheduleKindDelay    ScheduleKind = "delay"
	ScheduleKindOnce     ScheduleKind = "once"
	ScheduleKindEvent    ScheduleKind = "event"
)

// cronParser accepts the standard 5-field format (minute hour dom month dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronParams configures a cron schedule. Timezone is an IANA identifier and
// is validated at creation time.
type CronParams struct {
	Expression string `json:"expression" validate:"required"`
	Timezone   string `json:"timezone,omitempty"`
}

// IntervalParams fires on a fixed period between optional bounds.
type IntervalParams struct {
	Every   time.Duration `json:"every" validate:"required"`
	Start   *time.Time    `json:"start,omitempty"`
	End     *time.Time    `json:"end,omitempty"`
	MaxRuns int           `json:"max_runs,omitempty"`
}

// DelayParams fires once, a fixed offset after a named event occurs.
type DelayParams struct {
	After time.Duration `json:"after" validate:"required"`
	Event string        `json:"event" validate:"required"`
}

// OnceParams fires exactly once at an absolute instant.
type OnceParams struct {
	At time.Time `json:"at" validate:"required"`
}

// EventParams fires on a named external event, optionally debounced.
type EventParams struct {
	Name     string         `json:"name" validate:"required"`
	Filter   map[string]any `json:"filter,omitempty"`
	Debounce time.Duration  `json:"debounce,omitempty"`
}

// ScheduleCondition is a pre-execution gate. When it evaluates false and
// BlockExecution is set, the fire is recorded as skipped.
type ScheduleCondition struct {
	Condition      Condition `json:"condition"`
	BlockExecution bool      `json:"block_execution"`
}

// ScheduleDefinition describes when a workflow should be started. It is
// mutated on every fire (count, timestamps) and on enable/disable.
type ScheduleDefinition struct {
	ID              string              `json:"id"          validate:"required"`
	WorkflowID      string              `json:"workflow_id" validate:"required"`
	TenantID        string              `json:"tenant_id"`
	Kind            ScheduleKind        `json:"kind"        validate:"required,oneof=cron interval delay once event"`
	Cron            *CronParams         `json:"cron,omitempty"`
	Interval        *IntervalParams     `json:"interval,omitempty"`
	Delay           *DelayParams        `json:"delay,omitempty"`
	Once            *OnceParams         `json:"once,omitempty"`
	Event           *EventParams        `json:"event,omitempty"`
	Enabled         bool                `json:"enabled"`
	MaxExecutions   int                 `json:"max_executions,omitempty"` // 0 means unlimited
	ExecutionCount  int                 `json:"execution_count"`
	LastExecutedAt  *time.Time          `json:"last_executed_at,omitempty"`
	NextExecutionAt *time.Time          `json:"next_execution_at,omitempty"`
	Conditions      []ScheduleCondition `json:"conditions,omitempty"`
	Retry           *RetryPolicy        `json:"retry,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// Validate checks the kind-specific parameters, including cron expression
// syntax and timezone resolution.
func (s *ScheduleDefinition) Validate() error {
	if s.ID == "" || s.WorkflowID == "" {
		return ErrInvalidSchedule
	}

	switch s.Kind {
	case ScheduleKindCron:
		if s.Cron == nil {
			return fmt.Errorf("%w: cron parameters required", ErrInvalidSchedule)
		}

		if _, err := cronParser.Parse(s.Cron.Expression); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}

		if _, err := s.Cron.Location(); err != nil {
			return err
		}
	case ScheduleKindInterval:
		if s.Interval == nil || s.Interval.Every <= 0 {
			return fmt.Errorf("%w: interval requires a positive period", ErrInvalidSchedule)
		}
	case ScheduleKindDelay:
		if s.Delay == nil || s.Delay.After <= 0 || s.Delay.Event == "" {
			return fmt.Errorf("%w: delay requires an offset and a triggering event", ErrInvalidSchedule)
		}
	case ScheduleKindOnce:
		if s.Once == nil || s.Once.At.IsZero() {
			return fmt.Errorf("%w: once requires an execution instant", ErrInvalidSchedule)
		}
	case ScheduleKindEvent:
		if s.Event == nil || s.Event.Name == "" {
			return fmt.Errorf("%w: event requires an event name", ErrInvalidSchedule)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s.Kind)
	}

	return nil
}

// Location resolves the configured timezone, defaulting to UTC.
func (p *CronParams) Location() (*time.Location, error) {
	if p.Timezone == "" {
		return time.UTC, nil
	}

	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, p.Timezone)
	}

	return loc, nil
}

// NextAfter computes the next fire strictly after now. ok is false when the
// schedule has no timer-driven next fire (event/delay kinds wait on events,
// exhausted or out-of-window schedules never fire again).
func (s *ScheduleDefinition) NextAfter(now time.Time) (next time.Time, ok bool, err error) {
	if !s.Enabled || s.Exhausted() {
		return time.Time{}, false, nil
	}

	switch s.Kind {
	case ScheduleKindCron:
		sched, perr := cronParser.Parse(s.Cron.Expression)
		if perr != nil {
			return time.Time{}, false, fmt.Errorf("%w: %v", ErrInvalidSchedule, perr)
		}

		loc, lerr := s.Cron.Location()
		if lerr != nil {
			return time.Time{}, false, lerr
		}

		return sched.Next(now.In(loc)), true, nil
	case ScheduleKindInterval:
		if s.Interval.MaxRuns > 0 && s.ExecutionCount >= s.Interval.MaxRuns {
			return time.Time{}, false, nil
		}

		next := now.Add(s.Interval.Every)
		if s.Interval.Start != nil && next.Before(*s.Interval.Start) {
			next = *s.Interval.Start
		}

		if s.Interval.End != nil && next.After(*s.Interval.End) {
			return time.Time{}, false, nil
		}

		return next, true, nil
	case ScheduleKindOnce:
		if s.ExecutionCount > 0 || !s.Once.At.After(now) {
			return time.Time{}, false, nil
		}

		return s.Once.At, true, nil
	case ScheduleKindDelay, ScheduleKindEvent:
		// Fired by event notification, not by timers.
		return time.Time{}, false, nil
	}

	return time.Time{}, false, nil
}

// Exhausted reports whether the schedule reached its execution budget.
func (s *ScheduleDefinition) Exhausted() bool {
	if s.MaxExecutions > 0 && s.ExecutionCount >= s.MaxExecutions {
		return true
	}

	if s.Kind == ScheduleKindOnce && s.ExecutionCount > 0 {
		return true
	}

	return false
}

// ScheduledExecutionStatus is the lifecycle of one fire attempt.
type ScheduledExecutionStatus string

const (
	ScheduledExecutionPending   ScheduledExecutionStatus = "pending"
	ScheduledExecutionRunning   ScheduledExecutionStatus = "running"
	ScheduledExecutionCompleted ScheduledExecutionStatus = "completed"
	ScheduledExecutionFailed    ScheduledExecutionStatus = "failed"
	ScheduledExecutionCancelled ScheduledExecutionStatus = "cancelled"
	ScheduledExecutionSkipped   ScheduledExecutionStatus = "skipped"
)

// ScheduledExecutionRecord is one fire attempt of a schedule. Retries create
// follow-on records referencing the same schedule.
type ScheduledExecutionRecord struct {
	ID           string                   `json:"id"`
	ScheduleID   string                   `json:"schedule_id"`
	WorkflowID   string                   `json:"workflow_id"`
	ExecutionID  string                   `json:"execution_id,omitempty"` // Set once the engine run starts
	ScheduledFor time.Time                `json:"scheduled_for"`
	StartedAt    *time.Time               `json:"started_at,omitempty"`
	CompletedAt  *time.Time               `json:"completed_at,omitempty"`
	Status       ScheduledExecutionStatus `json:"status"`
	RetryCount   int                      `json:"retry_count"`
	NextRetryAt  *time.Time               `json:"next_retry_at,omitempty"`
	Error        string                   `json:"error,omitempty"`
}
