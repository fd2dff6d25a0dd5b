// Package scheduler owns schedule definitions and fires workflow runs at the
// right time. Cron, interval and once schedules are timer-driven; delay and
// event schedules fire on NotifyEvent. Each fire is dispatched as an
// independent unit of work so a slow run never delays other schedules.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/veloflow/veloflow/pkg/conditions"
	"github.com/veloflow/veloflow/pkg/eventbus"
	"github.com/veloflow/veloflow/pkg/models"
	"github.com/veloflow/veloflow/pkg/persistence"
)

// Starter launches a workflow run. The execution engine satisfies it.
type Starter interface {
	Run(ctx context.Context, workflowID string, triggerData map[string]any, userID string) (string, error)
}

type Scheduler struct {
	store     persistence.Persistence
	starter   Starter
	evaluator *conditions.Evaluator
	eventBus  eventbus.EventBus
	clock     clockwork.Clock
	logger    *slog.Logger

	mu        sync.Mutex
	timers    map[string]clockwork.Timer
	lastEvent map[string]time.Time // per-schedule debounce marker
	started   bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(
	store persistence.Persistence,
	starter Starter,
	evaluator *conditions.Evaluator,
	eventBus eventbus.EventBus,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Scheduler{
		store:     store,
		starter:   starter,
		evaluator: evaluator,
		eventBus:  eventBus,
		clock:     clock,
		logger:    logger.With("module", "scheduler"),
		timers:    make(map[string]clockwork.Timer),
		lastEvent: make(map[string]time.Time),
	}
}

// Start loads all stored schedules and arms timers for the enabled
// timer-driven ones. Exhausted schedules stay dormant across restarts.
func (s *Scheduler) Start(ctx context.Context) error {
	schedules, err := s.store.Schedules(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.baseCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.started = true

	for _, schedule := range schedules {
		s.armLocked(schedule)
	}

	s.logger.Info("Scheduler started", "schedules", len(schedules))

	return nil
}

// Stop disarms all timers and waits for in-flight fires to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()

	if !s.started {
		s.mu.Unlock()

		return nil
	}

	s.started = false
	s.cancel()

	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}

	s.mu.Unlock()

	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Add validates and stores a schedule, arming its timer when the scheduler
// is running. Validation failures reject the schedule before any state is
// written.
func (s *Scheduler) Add(ctx context.Context, schedule *models.ScheduleDefinition) error {
	if err := schedule.Validate(); err != nil {
		return err
	}

	now := s.clock.Now().UTC()

	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}

	schedule.UpdatedAt = now

	if next, ok, err := schedule.NextAfter(now); err != nil {
		return err
	} else if ok {
		schedule.NextExecutionAt = &next
	}

	if err := s.store.SaveSchedule(ctx, schedule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		s.disarmLocked(schedule.ID)
		s.armLocked(schedule)
	}

	return nil
}

// Remove disarms and deletes a schedule.
func (s *Scheduler) Remove(ctx context.Context, scheduleID string) error {
	s.mu.Lock()
	s.disarmLocked(scheduleID)
	delete(s.lastEvent, scheduleID)
	s.mu.Unlock()

	return s.store.DeleteSchedule(ctx, scheduleID)
}

// Enable re-activates a schedule and arms its timer.
func (s *Scheduler) Enable(ctx context.Context, scheduleID string) error {
	return s.setEnabled(ctx, scheduleID, true)
}

// Disable deactivates a schedule and disarms its timer. The definition and
// its history are kept.
func (s *Scheduler) Disable(ctx context.Context, scheduleID string) error {
	return s.setEnabled(ctx, scheduleID, false)
}

func (s *Scheduler) setEnabled(ctx context.Context, scheduleID string, enabled bool) error {
	schedule, err := s.store.ScheduleByID(ctx, scheduleID)
	if err != nil {
		return err
	}

	schedule.Enabled = enabled
	schedule.UpdatedAt = s.clock.Now().UTC()

	if enabled {
		if next, ok, nerr := schedule.NextAfter(s.clock.Now().UTC()); nerr == nil && ok {
			schedule.NextExecutionAt = &next
		}
	} else {
		schedule.NextExecutionAt = nil
	}

	if err := s.store.SaveSchedule(ctx, schedule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.disarmLocked(scheduleID)

	if enabled && s.started {
		s.armLocked(schedule)
	}

	return nil
}

// NotifyEvent delivers a named external event. Matching event schedules fire
// immediately (subject to debounce); matching delay schedules fire once
// after their configured offset.
func (s *Scheduler) NotifyEvent(ctx context.Context, name string, payload map[string]any) error {
	schedules, err := s.store.Schedules(ctx)
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()

	for _, schedule := range schedules {
		if !schedule.Enabled || schedule.Exhausted() {
			continue
		}

		switch schedule.Kind {
		case models.ScheduleKindEvent:
			if schedule.Event.Name != name || !matchFilter(schedule.Event.Filter, payload) {
				continue
			}

			if s.debounced(schedule, now) {
				s.logger.Info("Debounced event fire", "schedule_id", schedule.ID, "event", name)

				continue
			}

			s.dispatch(schedule.ID, now, payload)
		case models.ScheduleKindDelay:
			if schedule.Delay.Event != name {
				continue
			}

			scheduledFor := now.Add(schedule.Delay.After)
			s.armDelayed(schedule.ID, schedule.Delay.After, scheduledFor, payload)
		}
	}

	return nil
}

// debounced records the event occurrence and reports whether it falls
// inside the schedule's debounce window.
func (s *Scheduler) debounced(schedule *models.ScheduleDefinition, now time.Time) bool {
	if schedule.Event.Debounce <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastEvent[schedule.ID]; ok && now.Sub(last) < schedule.Event.Debounce {
		return true
	}

	s.lastEvent[schedule.ID] = now

	return false
}

// armLocked arms the timer for a schedule's next timer-driven fire. Caller
// holds the mutex.
func (s *Scheduler) armLocked(schedule *models.ScheduleDefinition) {
	now := s.clock.Now().UTC()

	next, ok, err := schedule.NextAfter(now)
	if err != nil {
		s.logger.Error("Cannot compute next fire", "schedule_id", schedule.ID, "error", err)

		return
	}

	if !ok {
		return
	}

	scheduleID := schedule.ID

	s.timers[scheduleID] = s.clock.AfterFunc(next.Sub(now), func() {
		s.dispatch(scheduleID, next, nil)
	})
}

func (s *Scheduler) disarmLocked(scheduleID string) {
	if timer, ok := s.timers[scheduleID]; ok {
		timer.Stop()
		delete(s.timers, scheduleID)
	}
}

// armDelayed arms a one-shot fire that does not rearm, used by delay
// schedules and retry follow-ups. The timer is intentionally not tracked in
// the timers map so it cannot be clobbered by a concurrent rearm.
func (s *Scheduler) armDelayed(scheduleID string, after time.Duration, scheduledFor time.Time, payload map[string]any) {
	s.clock.AfterFunc(after, func() {
		s.dispatch(scheduleID, scheduledFor, payload)
	})
}

// dispatch hands a due fire to its own goroutine so the timer callback
// returns immediately.
func (s *Scheduler) dispatch(scheduleID string, scheduledFor time.Time, payload map[string]any) {
	s.mu.Lock()

	if !s.started {
		s.mu.Unlock()

		return
	}

	ctx := s.baseCtx
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.fire(ctx, scheduleID, scheduledFor, payload, 0)
		s.rearm(ctx, scheduleID)
	}()
}

// rearm re-reads the schedule after a fire and arms the next one. The store
// copy is authoritative: a fire may have exhausted or disabled it.
func (s *Scheduler) rearm(ctx context.Context, scheduleID string) {
	schedule, err := s.store.ScheduleByID(ctx, scheduleID)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.disarmLocked(scheduleID)
	s.armLocked(schedule)
}

func matchFilter(filter, payload map[string]any) bool {
	for key, expected := range filter {
		actual, ok := payload[key]
		if !ok {
			return false
		}

		match, err := conditions.Apply(models.OperatorEquals, actual, expected)
		if err != nil || !match {
			return false
		}
	}

	return true
}

func newRecordID() string {
	return "sched-" + uuid.New().String()[:8]
}
