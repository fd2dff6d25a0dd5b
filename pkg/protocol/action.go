// Package protocol defines the contracts between the engine and pluggable
// action implementations.
package protocol

import (
	"context"
	"log/slog"

	"github.com/veloflow/veloflow/pkg/models"
)

// Action is one typed unit of work. Execute receives configuration already
// resolved against the execution context and returns a structured result or
// a typed failure.
type Action interface {
	Execute(ctx context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error)
}

// ActionFactory builds actions from raw configuration and describes the
// configuration shape for save-time validation.
type ActionFactory interface {
	Create(config map[string]any) (Action, error)
	ID() string
	Schema() map[string]any
}
