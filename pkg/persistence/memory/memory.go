// Package memory provides an in-memory persistence implementation for tests
// and single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/veloflow/veloflow/pkg/models"
	"github.com/veloflow/veloflow/pkg/persistence"
)

// Persistence keeps all entities in maps guarded by one RWMutex. Stored
// entities are copied on write and read so callers never share memory with
// the store.
type Persistence struct {
	mu                  sync.RWMutex
	workflows           map[string]*models.Workflow
	executions          map[string]*models.ExecutionRecord
	checkpoints         map[string]*models.Checkpoint
	schedules           map[string]*models.ScheduleDefinition
	scheduledExecutions map[string]*models.ScheduledExecutionRecord
}

func NewPersistence() *Persistence {
	return &Persistence{
		workflows:           make(map[string]*models.Workflow),
		executions:          make(map[string]*models.ExecutionRecord),
		checkpoints:         make(map[string]*models.Checkpoint),
		schedules:           make(map[string]*models.ScheduleDefinition),
		scheduledExecutions: make(map[string]*models.ScheduledExecutionRecord),
	}
}

var _ persistence.Persistence = (*Persistence)(nil)

func (p *Persistence) Workflows(_ context.Context) ([]*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.Workflow, 0, len(p.workflows))
	for _, w := range p.workflows {
		copied := *w
		out = append(out, &copied)
	}

	sortByID(out, func(w *models.Workflow) string { return w.ID })

	return out, nil
}

func (p *Persistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	w, ok := p.workflows[id]
	if !ok {
		return nil, persistence.ErrWorkflowNotFound
	}

	copied := *w

	return &copied, nil
}

func (p *Persistence) WorkflowsByStatus(ctx context.Context, status models.WorkflowStatus) ([]*models.Workflow, error) {
	all, err := p.Workflows(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Workflow, 0, len(all))

	for _, w := range all {
		if w.Status == status {
			out = append(out, w)
		}
	}

	return out, nil
}

func (p *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	copied := *workflow
	p.workflows[workflow.ID] = &copied

	return nil
}

func (p *Persistence) DeleteWorkflow(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.workflows[id]; !ok {
		return persistence.ErrWorkflowNotFound
	}

	delete(p.workflows, id)

	return nil
}

func (p *Persistence) ExecutionByID(_ context.Context, id string) (*models.ExecutionRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	record, ok := p.executions[id]
	if !ok {
		return nil, persistence.ErrExecutionNotFound
	}

	copied := *record

	return &copied, nil
}

func (p *Persistence) ExecutionsByWorkflow(_ context.Context, workflowID string) ([]*models.ExecutionRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.ExecutionRecord, 0)

	for _, record := range p.executions {
		if record.WorkflowID == workflowID {
			copied := *record
			out = append(out, &copied)
		}
	}

	sortByID(out, func(r *models.ExecutionRecord) string { return r.ID })

	return out, nil
}

func (p *Persistence) ExecutionsByStatus(_ context.Context, status models.ExecutionStatus) ([]*models.ExecutionRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.ExecutionRecord, 0)

	for _, record := range p.executions {
		if record.Status == status {
			copied := *record
			out = append(out, &copied)
		}
	}

	sortByID(out, func(r *models.ExecutionRecord) string { return r.ID })

	return out, nil
}

func (p *Persistence) SaveExecution(_ context.Context, record *models.ExecutionRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	copied := *record
	p.executions[record.ID] = &copied

	return nil
}

func (p *Persistence) SaveCheckpoint(_ context.Context, checkpoint *models.Checkpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	copied := *checkpoint
	p.checkpoints[checkpoint.ExecutionID] = &copied

	return nil
}

func (p *Persistence) CheckpointByExecutionID(_ context.Context, executionID string) (*models.Checkpoint, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	checkpoint, ok := p.checkpoints[executionID]
	if !ok {
		return nil, persistence.ErrCheckpointNotFound
	}

	copied := *checkpoint

	return &copied, nil
}

func (p *Persistence) DeleteCheckpoint(_ context.Context, executionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.checkpoints, executionID)

	return nil
}

func (p *Persistence) Schedules(_ context.Context) ([]*models.ScheduleDefinition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.ScheduleDefinition, 0, len(p.schedules))
	for _, s := range p.schedules {
		copied := *s
		out = append(out, &copied)
	}

	sortByID(out, func(s *models.ScheduleDefinition) string { return s.ID })

	return out, nil
}

func (p *Persistence) ScheduleByID(_ context.Context, id string) (*models.ScheduleDefinition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s, ok := p.schedules[id]
	if !ok {
		return nil, persistence.ErrScheduleNotFound
	}

	copied := *s

	return &copied, nil
}

func (p *Persistence) SaveSchedule(_ context.Context, schedule *models.ScheduleDefinition) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	copied := *schedule
	p.schedules[schedule.ID] = &copied

	return nil
}

func (p *Persistence) DeleteSchedule(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.schedules[id]; !ok {
		return persistence.ErrScheduleNotFound
	}

	delete(p.schedules, id)

	return nil
}

func (p *Persistence) SaveScheduledExecution(_ context.Context, record *models.ScheduledExecutionRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	copied := *record
	p.scheduledExecutions[record.ID] = &copied

	return nil
}

func (p *Persistence) ScheduledExecutionByID(_ context.Context, id string) (*models.ScheduledExecutionRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	record, ok := p.scheduledExecutions[id]
	if !ok {
		return nil, persistence.ErrScheduledExecutionNotFound
	}

	copied := *record

	return &copied, nil
}

func (p *Persistence) ScheduledExecutionsBySchedule(_ context.Context, scheduleID string) ([]*models.ScheduledExecutionRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.ScheduledExecutionRecord, 0)

	for _, record := range p.scheduledExecutions {
		if record.ScheduleID == scheduleID {
			copied := *record
			out = append(out, &copied)
		}
	}

	sortByID(out, func(r *models.ScheduledExecutionRecord) string { return r.ID })

	return out, nil
}

func (p *Persistence) ScheduledExecutionsSince(_ context.Context, since time.Time) ([]*models.ScheduledExecutionRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*models.ScheduledExecutionRecord, 0)

	for _, record := range p.scheduledExecutions {
		if !record.ScheduledFor.Before(since) {
			copied := *record
			out = append(out, &copied)
		}
	}

	sortByID(out, func(r *models.ScheduledExecutionRecord) string { return r.ID })

	return out, nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func sortByID[T any](items []T, id func(T) string) {
	sort.Slice(items, func(i, j int) bool {
		return id(items[i]) < id(items[j])
	})
}
