// Package file provides a JSON-file persistence implementation. Each entity
// is one file under a per-collection directory; writes go through a
// temporary file and rename so readers never see partial state.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/veloflow/veloflow/pkg/models"
	"github.com/veloflow/veloflow/pkg/persistence"
)

const (
	workflowsDir           = "workflows"
	executionsDir          = "executions"
	checkpointsDir         = "checkpoints"
	schedulesDir           = "schedules"
	scheduledExecutionsDir = "scheduled_executions"

	dirPerm  = 0o755
	filePerm = 0o644
)

type Persistence struct {
	root string
	mu   sync.RWMutex
}

var _ persistence.Persistence = (*Persistence)(nil)

// NewPersistence creates the store rooted at the given directory. Accepts a
// plain path or a file:// URL.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	for _, dir := range []string{workflowsDir, executionsDir, checkpointsDir, schedulesDir, scheduledExecutionsDir} {
		if err := os.MkdirAll(filepath.Join(cleanRoot, dir), dirPerm); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}

	return &Persistence{root: cleanRoot}, nil
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) Workflows(_ context.Context) ([]*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return readAll[models.Workflow](p.path(workflowsDir))
}

func (p *Persistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return readOne[models.Workflow](p.path(workflowsDir), id, persistence.ErrWorkflowNotFound)
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

	return writeAtomic(p.path(workflowsDir), workflow.ID, workflow)
}

func (p *Persistence) DeleteWorkflow(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return remove(p.path(workflowsDir), id, persistence.ErrWorkflowNotFound)
}

func (p *Persistence) ExecutionByID(_ context.Context, id string) (*models.ExecutionRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return readOne[models.ExecutionRecord](p.path(executionsDir), id, persistence.ErrExecutionNotFound)
}

func (p *Persistence) ExecutionsByWorkflow(_ context.Context, workflowID string) ([]*models.ExecutionRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	all, err := readAll[models.ExecutionRecord](p.path(executionsDir))
	if err != nil {
		return nil, err
	}

	out := make([]*models.ExecutionRecord, 0, len(all))

	for _, record := range all {
		if record.WorkflowID == workflowID {
			out = append(out, record)
		}
	}

	return out, nil
}

func (p *Persistence) ExecutionsByStatus(_ context.Context, status models.ExecutionStatus) ([]*models.ExecutionRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	all, err := readAll[models.ExecutionRecord](p.path(executionsDir))
	if err != nil {
		return nil, err
	}

	out := make([]*models.ExecutionRecord, 0, len(all))

	for _, record := range all {
		if record.Status == status {
			out = append(out, record)
		}
	}

	return out, nil
}

func (p *Persistence) SaveExecution(_ context.Context, record *models.ExecutionRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return writeAtomic(p.path(executionsDir), record.ID, record)
}

func (p *Persistence) SaveCheckpoint(_ context.Context, checkpoint *models.Checkpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return writeAtomic(p.path(checkpointsDir), checkpoint.ExecutionID, checkpoint)
}

func (p *Persistence) CheckpointByExecutionID(_ context.Context, executionID string) (*models.Checkpoint, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return readOne[models.Checkpoint](p.path(checkpointsDir), executionID, persistence.ErrCheckpointNotFound)
}

func (p *Persistence) DeleteCheckpoint(_ context.Context, executionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := remove(p.path(checkpointsDir), executionID, persistence.ErrCheckpointNotFound)
	if errors.Is(err, persistence.ErrCheckpointNotFound) {
		return nil // Deleting an absent checkpoint is not an error
	}

	return err
}

func (p *Persistence) Schedules(_ context.Context) ([]*models.ScheduleDefinition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return readAll[models.ScheduleDefinition](p.path(schedulesDir))
}

func (p *Persistence) ScheduleByID(_ context.Context, id string) (*models.ScheduleDefinition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return readOne[models.ScheduleDefinition](p.path(schedulesDir), id, persistence.ErrScheduleNotFound)
}

func (p *Persistence) SaveSchedule(_ context.Context, schedule *models.ScheduleDefinition) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return writeAtomic(p.path(schedulesDir), schedule.ID, schedule)
}

func (p *Persistence) DeleteSchedule(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return remove(p.path(schedulesDir), id, persistence.ErrScheduleNotFound)
}

func (p *Persistence) SaveScheduledExecution(_ context.Context, record *models.ScheduledExecutionRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return writeAtomic(p.path(scheduledExecutionsDir), record.ID, record)
}

func (p *Persistence) ScheduledExecutionByID(_ context.Context, id string) (*models.ScheduledExecutionRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return readOne[models.ScheduledExecutionRecord](p.path(scheduledExecutionsDir), id, persistence.ErrScheduledExecutionNotFound)
}

func (p *Persistence) ScheduledExecutionsBySchedule(_ context.Context, scheduleID string) ([]*models.ScheduledExecutionRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	all, err := readAll[models.ScheduledExecutionRecord](p.path(scheduledExecutionsDir))
	if err != nil {
		return nil, err
	}

	out := make([]*models.ScheduledExecutionRecord, 0, len(all))

	for _, record := range all {
		if record.ScheduleID == scheduleID {
			out = append(out, record)
		}
	}

	return out, nil
}

func (p *Persistence) ScheduledExecutionsSince(_ context.Context, since time.Time) ([]*models.ScheduledExecutionRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	all, err := readAll[models.ScheduledExecutionRecord](p.path(scheduledExecutionsDir))
	if err != nil {
		return nil, err
	}

	out := make([]*models.ScheduledExecutionRecord, 0, len(all))

	for _, record := range all {
		if !record.ScheduledFor.Before(since) {
			out = append(out, record)
		}
	}

	return out, nil
}

func (p *Persistence) path(dir string) string {
	return filepath.Join(p.root, dir)
}

func writeAtomic(dir, id string, entity any) error {
	op := "write " + filepath.Base(dir)

	data, err := json.MarshalIndent(entity, "", "  ")
	if err != nil {
		return persistence.NewStoreError(op, id, err)
	}

	tmp, err := os.CreateTemp(dir, id+".tmp-*")
	if err != nil {
		return persistence.NewStoreError(op, id, err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return persistence.NewStoreError(op, id, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return persistence.NewStoreError(op, id, err)
	}

	if err := os.Chmod(tmp.Name(), filePerm); err != nil {
		_ = os.Remove(tmp.Name())

		return persistence.NewStoreError(op, id, err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(dir, id+".json")); err != nil {
		return persistence.NewStoreError(op, id, err)
	}

	return nil
}

func readOne[T any](dir, id string, notFound error) (*T, error) {
	data, err := os.ReadFile(filepath.Join(dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound
		}

		return nil, persistence.NewStoreError("read "+filepath.Base(dir), id, err)
	}

	var entity T
	if err := json.Unmarshal(data, &entity); err != nil {
		return nil, persistence.NewStoreError("read "+filepath.Base(dir), id, err)
	}

	return &entity, nil
}

func readAll[T any](dir string) ([]*T, error) {
	op := "read " + filepath.Base(dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, persistence.NewStoreError(op, "", err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		names = append(names, entry.Name())
	}

	sort.Strings(names)

	out := make([]*T, 0, len(names))

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, persistence.NewStoreError(op, strings.TrimSuffix(name, ".json"), err)
		}

		var entity T
		if err := json.Unmarshal(data, &entity); err != nil {
			return nil, persistence.NewStoreError(op, strings.TrimSuffix(name, ".json"), err)
		}

		out = append(out, &entity)
	}

	return out, nil
}

func remove(dir, id string, notFound error) error {
	err := os.Remove(filepath.Join(dir, id+".json"))
	if os.IsNotExist(err) {
		return notFound
	}

	if err != nil {
		return persistence.NewStoreError("delete "+filepath.Base(dir), id, err)
	}

	return nil
}
