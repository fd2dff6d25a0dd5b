package scheduler

import (
	"context"
	"time"

	"github.com/veloflow/veloflow/pkg/events"
	"github.com/veloflow/veloflow/pkg/models"
	"github.com/veloflow/veloflow/pkg/retry"
)

// fire executes one due fire attempt: pre-conditions, the engine run, the
// ScheduledExecutionRecord lifecycle and the schedule's counters. A failed
// attempt with a retry policy arms a follow-on attempt carrying retryCount+1.
func (s *Scheduler) fire(ctx context.Context, scheduleID string, scheduledFor time.Time, payload map[string]any, retryCount int) {
	schedule, err := s.store.ScheduleByID(ctx, scheduleID)
	if err != nil {
		s.logger.Warn("Skipping fire of unknown schedule", "schedule_id", scheduleID, "error", err)

		return
	}

	// Retries are follow-on attempts of an already-counted fire: they run
	// even after the fire exhausted the schedule's budget.
	if retryCount == 0 && (!schedule.Enabled || schedule.Exhausted()) {
		return
	}

	logger := s.logger.With("schedule_id", scheduleID, "workflow_id", schedule.WorkflowID)

	record := &models.ScheduledExecutionRecord{
		ID:           newRecordID(),
		ScheduleID:   scheduleID,
		WorkflowID:   schedule.WorkflowID,
		ScheduledFor: scheduledFor,
		Status:       models.ScheduledExecutionPending,
		RetryCount:   retryCount,
	}

	if err := s.store.SaveScheduledExecution(ctx, record); err != nil {
		logger.Error("Failed to persist scheduled execution", "error", err)

		return
	}

	triggerData := map[string]any{
		"schedule_id":   scheduleID,
		"scheduled_for": scheduledFor.Format(time.RFC3339),
	}
	for k, v := range payload {
		triggerData[k] = v
	}

	if reason, blocked := s.blockedByCondition(schedule, triggerData); blocked {
		s.finishRecord(ctx, record, models.ScheduledExecutionSkipped, reason)
		s.bumpSchedule(ctx, schedule, retryCount)
		s.publishSkipped(ctx, schedule, record, reason)
		logger.Info("Fire skipped by pre-condition")

		return
	}

	now := s.clock.Now().UTC()
	record.StartedAt = &now
	record.Status = models.ScheduledExecutionRunning

	if err := s.store.SaveScheduledExecution(ctx, record); err != nil {
		logger.Error("Failed to persist scheduled execution", "error", err)
	}

	s.publishFired(ctx, schedule, record)

	executionID, runErr := s.starter.Run(ctx, schedule.WorkflowID, triggerData, "")
	record.ExecutionID = executionID

	if runErr != nil {
		s.finishRecord(ctx, record, models.ScheduledExecutionFailed, runErr.Error())
		s.bumpSchedule(ctx, schedule, retryCount)
		s.armRetry(schedule, record)
		logger.Warn("Fire failed", "error", runErr)

		return
	}

	s.finishRecord(ctx, record, models.ScheduledExecutionCompleted, "")
	s.bumpSchedule(ctx, schedule, retryCount)
	logger.Info("Fire completed", "execution_id", executionID)
}

// blockedByCondition evaluates the schedule's pre-conditions. Only a false
// result on a blocking condition skips the fire; evaluation errors on
// blocking conditions skip too, with the error as the reason.
func (s *Scheduler) blockedByCondition(schedule *models.ScheduleDefinition, triggerData map[string]any) (string, bool) {
	if len(schedule.Conditions) == 0 || s.evaluator == nil {
		return "", false
	}

	execCtx := &models.ExecutionContext{
		WorkflowID:  schedule.WorkflowID,
		TenantID:    schedule.TenantID,
		TriggerData: triggerData,
		Variables:   map[string]any{},
		StepResults: map[string]any{},
	}

	for _, gate := range schedule.Conditions {
		ok, err := s.evaluator.Evaluate(gate.Condition, execCtx)
		if err != nil {
			if gate.BlockExecution {
				return "condition error: " + err.Error(), true
			}

			continue
		}

		if !ok && gate.BlockExecution {
			return "blocking condition evaluated false", true
		}
	}

	return "", false
}

func (s *Scheduler) finishRecord(ctx context.Context, record *models.ScheduledExecutionRecord, status models.ScheduledExecutionStatus, reason string) {
	now := s.clock.Now().UTC()
	record.Status = status
	record.CompletedAt = &now
	record.Error = reason

	if err := s.store.SaveScheduledExecution(ctx, record); err != nil {
		s.logger.Error("Failed to persist scheduled execution", "record_id", record.ID, "error", err)
	}
}

// bumpSchedule counts the fire, recomputes the next execution timestamp and
// disables the schedule once its execution budget is spent. Retry attempts
// belong to an already-counted fire and only touch the timestamp.
func (s *Scheduler) bumpSchedule(ctx context.Context, schedule *models.ScheduleDefinition, retryCount int) {
	now := s.clock.Now().UTC()

	if retryCount == 0 {
		schedule.ExecutionCount++
	}

	schedule.LastExecutedAt = &now
	schedule.UpdatedAt = now
	schedule.NextExecutionAt = nil

	if schedule.Exhausted() {
		schedule.Enabled = false
		s.logger.Info("Schedule reached execution budget, disabling", "schedule_id", schedule.ID)
	} else if next, ok, err := schedule.NextAfter(now); err == nil && ok {
		schedule.NextExecutionAt = &next
	}

	if err := s.store.SaveSchedule(ctx, schedule); err != nil {
		s.logger.Error("Failed to persist schedule", "schedule_id", schedule.ID, "error", err)
	}
}

// armRetry schedules a follow-on attempt per the schedule's retry policy.
// The delay grows with the attempt number using the shared backoff formula.
func (s *Scheduler) armRetry(schedule *models.ScheduleDefinition, failed *models.ScheduledExecutionRecord) {
	if schedule.Retry == nil || failed.RetryCount >= schedule.Retry.MaxRetries {
		return
	}

	delay := retry.NextDelay(*schedule.Retry, failed.RetryCount)
	nextAttempt := failed.RetryCount + 1
	retryAt := s.clock.Now().UTC().Add(delay)
	failed.NextRetryAt = &retryAt

	if err := s.store.SaveScheduledExecution(context.WithoutCancel(s.baseCtx), failed); err != nil {
		s.logger.Error("Failed to persist retry marker", "record_id", failed.ID, "error", err)
	}

	scheduleID := schedule.ID

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := s.baseCtx

	s.clock.AfterFunc(delay, func() {
		s.mu.Lock()

		if !s.started {
			s.mu.Unlock()

			return
		}

		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			s.fire(ctx, scheduleID, retryAt, nil, nextAttempt)
		}()
	})

	s.logger.Info("Armed retry fire", "schedule_id", scheduleID, "attempt", nextAttempt, "delay", delay)
}

func (s *Scheduler) publishFired(ctx context.Context, schedule *models.ScheduleDefinition, record *models.ScheduledExecutionRecord) {
	if s.eventBus == nil {
		return
	}

	event := events.ScheduleFired{
		BaseEvent: events.BaseEvent{
			ID:         s.eventBus.GenerateID(),
			Type:       events.ScheduleFiredEvent,
			Timestamp:  s.clock.Now().UTC(),
			WorkflowID: schedule.WorkflowID,
			TenantID:   schedule.TenantID,
		},
		ScheduleID:           schedule.ID,
		ScheduledExecutionID: record.ID,
		ScheduledFor:         record.ScheduledFor,
	}

	if err := s.eventBus.Publish(ctx, string(events.ScheduleFiredEvent), event); err != nil {
		s.logger.Warn("Failed to publish schedule event", "error", err)
	}
}

func (s *Scheduler) publishSkipped(ctx context.Context, schedule *models.ScheduleDefinition, record *models.ScheduledExecutionRecord, reason string) {
	if s.eventBus == nil {
		return
	}

	event := events.ScheduleSkipped{
		BaseEvent: events.BaseEvent{
			ID:         s.eventBus.GenerateID(),
			Type:       events.ScheduleSkippedEvent,
			Timestamp:  s.clock.Now().UTC(),
			WorkflowID: schedule.WorkflowID,
			TenantID:   schedule.TenantID,
		},
		ScheduleID:           schedule.ID,
		ScheduledExecutionID: record.ID,
		Reason:               reason,
	}

	if err := s.eventBus.Publish(ctx, string(events.ScheduleSkippedEvent), event); err != nil {
		s.logger.Warn("Failed to publish schedule event", "error", err)
	}
}
