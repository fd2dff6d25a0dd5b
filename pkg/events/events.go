// Package events defines event types for execution and schedule lifecycle
// notifications.
package events

import (
	"time"
)

type EventType string

// Topic is the event bus topic all lifecycle events are published on.
const Topic = "veloflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"
	ExecutionPausedEvent    EventType = "execution.paused"
	ExecutionResumedEvent   EventType = "execution.resumed"
	StepNotificationEvent   EventType = "step.notification"
	ScheduleFiredEvent      EventType = "schedule.fired"
	ScheduleSkippedEvent    EventType = "schedule.skipped"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

func (e ExecutionStarted) GetType() EventType { return ExecutionStartedEvent }

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string        `json:"execution_id"`
	Duration    time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType { return ExecutionCompletedEvent }

type ExecutionFailed struct {
	BaseEvent

	ExecutionID  string        `json:"execution_id"`
	Error        string        `json:"error"`
	FailedStepID string        `json:"failed_step_id,omitempty"`
	Duration     time.Duration `json:"duration"`
}

func (e ExecutionFailed) GetType() EventType { return ExecutionFailedEvent }

type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
}

func (e ExecutionCancelled) GetType() EventType { return ExecutionCancelledEvent }

type ExecutionPaused struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
}

func (e ExecutionPaused) GetType() EventType { return ExecutionPausedEvent }

type ExecutionResumed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
}

func (e ExecutionResumed) GetType() EventType { return ExecutionResumedEvent }

// StepNotification is emitted when a step with the notify error policy
// fails, before the run aborts.
type StepNotification struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	Error       string `json:"error"`
}

func (e StepNotification) GetType() EventType { return StepNotificationEvent }

type ScheduleFired struct {
	BaseEvent

	ScheduleID           string    `json:"schedule_id"`
	ScheduledExecutionID string    `json:"scheduled_execution_id"`
	ScheduledFor         time.Time `json:"scheduled_for"`
}

func (e ScheduleFired) GetType() EventType { return ScheduleFiredEvent }

type ScheduleSkipped struct {
	BaseEvent

	ScheduleID           string `json:"schedule_id"`
	ScheduledExecutionID string `json:"scheduled_execution_id"`
	Reason               string `json:"reason"`
}

func (e ScheduleSkipped) GetType() EventType { return ScheduleSkippedEvent }
