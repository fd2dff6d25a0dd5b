package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/veloflow/veloflow/pkg/models"
)

// Stats aggregates schedule activity for operator dashboards.
type Stats struct {
	ActiveSchedules     int           `json:"active_schedules"`
	TotalSchedules      int           `json:"total_schedules"`
	ExecutionsLastDay   int           `json:"executions_last_day"`
	ExecutionsLastWeek  int           `json:"executions_last_week"`
	ExecutionsLastMonth int           `json:"executions_last_month"`
	SuccessRate         float64       `json:"success_rate"`
	AverageDuration     time.Duration `json:"average_duration"`
}

// UpcomingFire is one predicted future fire.
type UpcomingFire struct {
	ScheduleID string    `json:"schedule_id"`
	WorkflowID string    `json:"workflow_id"`
	At         time.Time `json:"at"`
}

// Stats computes aggregate counts over the last 30 days of fire records.
// Success rate considers only attempts that ran to a terminal outcome;
// skipped fires count as activity but not as failures.
func (s *Scheduler) Stats(ctx context.Context) (*Stats, error) {
	schedules, err := s.store.Schedules(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()

	records, err := s.store.ScheduledExecutionsSince(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		return nil, err
	}

	stats := &Stats{TotalSchedules: len(schedules)}

	for _, schedule := range schedules {
		if schedule.Enabled {
			stats.ActiveSchedules++
		}
	}

	var completed, failed int

	var totalDuration time.Duration

	var durations int

	dayAgo := now.AddDate(0, 0, -1)
	weekAgo := now.AddDate(0, 0, -7)

	for _, record := range records {
		stats.ExecutionsLastMonth++

		if record.ScheduledFor.After(weekAgo) {
			stats.ExecutionsLastWeek++
		}

		if record.ScheduledFor.After(dayAgo) {
			stats.ExecutionsLastDay++
		}

		switch record.Status {
		case models.ScheduledExecutionCompleted:
			completed++
		case models.ScheduledExecutionFailed:
			failed++
		}

		if record.StartedAt != nil && record.CompletedAt != nil {
			totalDuration += record.CompletedAt.Sub(*record.StartedAt)
			durations++
		}
	}

	if completed+failed > 0 {
		stats.SuccessRate = float64(completed) / float64(completed+failed)
	}

	if durations > 0 {
		stats.AverageDuration = totalDuration / time.Duration(durations)
	}

	return stats, nil
}

// Upcoming predicts the next n timer-driven fires across all schedules,
// soonest first. Event and delay schedules have no predictable next fire and
// are not listed.
func (s *Scheduler) Upcoming(ctx context.Context, n int) ([]UpcomingFire, error) {
	schedules, err := s.store.Schedules(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()

	var fires []UpcomingFire

	for _, schedule := range schedules {
		next, ok, err := schedule.NextAfter(now)
		if err != nil || !ok {
			continue
		}

		fires = append(fires, UpcomingFire{
			ScheduleID: schedule.ID,
			WorkflowID: schedule.WorkflowID,
			At:         next,
		})
	}

	sort.Slice(fires, func(i, j int) bool { return fires[i].At.Before(fires[j].At) })

	if n > 0 && len(fires) > n {
		fires = fires[:n]
	}

	return fires, nil
}
