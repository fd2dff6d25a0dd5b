// Package persistence provides the data storage abstraction for workflows,
// executions, schedules and checkpoints.
package persistence

import (
	"context"
	"time"

	"github.com/veloflow/veloflow/pkg/models"
)

type WorkflowRepository interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	WorkflowsByStatus(ctx context.Context, status models.WorkflowStatus) ([]*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
}

type ExecutionRepository interface {
	ExecutionByID(ctx context.Context, id string) (*models.ExecutionRecord, error)
	ExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*models.ExecutionRecord, error)
	ExecutionsByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.ExecutionRecord, error)
	SaveExecution(ctx context.Context, record *models.ExecutionRecord) error
}

// CheckpointRepository is the execution state store. SaveCheckpoint must be
// atomic: a reader never observes a partially written snapshot.
type CheckpointRepository interface {
	SaveCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error
	CheckpointByExecutionID(ctx context.Context, executionID string) (*models.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, executionID string) error
}

type ScheduleRepository interface {
	Schedules(ctx context.Context) ([]*models.ScheduleDefinition, error)
	ScheduleByID(ctx context.Context, id string) (*models.ScheduleDefinition, error)
	SaveSchedule(ctx context.Context, schedule *models.ScheduleDefinition) error
	DeleteSchedule(ctx context.Context, id string) error
}

type ScheduledExecutionRepository interface {
	SaveScheduledExecution(ctx context.Context, record *models.ScheduledExecutionRecord) error
	ScheduledExecutionByID(ctx context.Context, id string) (*models.ScheduledExecutionRecord, error)
	ScheduledExecutionsBySchedule(ctx context.Context, scheduleID string) ([]*models.ScheduledExecutionRecord, error)
	ScheduledExecutionsSince(ctx context.Context, since time.Time) ([]*models.ScheduledExecutionRecord, error)
}

type Persistence interface {
	WorkflowRepository
	ExecutionRepository
	CheckpointRepository
	ScheduleRepository
	ScheduledExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
