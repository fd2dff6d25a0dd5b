// Package registry maps action types to their factories and validates
// action configuration against each factory's JSON schema.
package registry

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/veloflow/veloflow/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// ErrUnknownActionType indicates a step references an unregistered action.
var ErrUnknownActionType = errors.New("unknown action type")

// ErrInvalidConfiguration indicates an action configuration failed schema
// validation at workflow save time.
var ErrInvalidConfiguration = errors.New("invalid action configuration")

type Registry struct {
	logger          *slog.Logger
	actionFactories map[string]protocol.ActionFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:          logger.With("module", "registry"),
		actionFactories: make(map[string]protocol.ActionFactory),
	}
}

func (r *Registry) RegisterAction(factory protocol.ActionFactory) {
	r.actionFactories[factory.ID()] = factory
}

// CreateAction instantiates an action for the given type and configuration.
func (r *Registry) CreateAction(actionType string, config map[string]any) (protocol.Action, error) {
	factory, ok := r.actionFactories[actionType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, actionType)
	}

	return factory.Create(config)
}

// ValidateConfig checks a raw action configuration against the factory's
// schema. Called at workflow save time so malformed configs never reach a
// run.
func (r *Registry) ValidateConfig(actionType string, config map[string]any) error {
	factory, ok := r.actionFactories[actionType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownActionType, actionType)
	}

	schema := factory.Schema()
	if schema == nil {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	if !result.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, result.Errors())
	}

	return nil
}

// ActionTypes lists the registered action type identifiers.
func (r *Registry) ActionTypes() []string {
	types := make([]string, 0, len(r.actionFactories))
	for actionType := range r.actionFactories {
		types = append(types, actionType)
	}

	return types
}
