package registry_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veloflow/veloflow/pkg/actions/httprequest"
	logaction "github.com/veloflow/veloflow/pkg/actions/log"
	"github.com/veloflow/veloflow/pkg/registry"
)

func newTestRegistry() *registry.Registry {
	reg := registry.NewRegistry(slog.New(slog.DiscardHandler))
	reg.RegisterAction(logaction.NewActionFactory())
	reg.RegisterAction(httprequest.NewActionFactory())

	return reg
}

func TestCreateActionUnknownType(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.CreateAction("teleport", nil)
	require.ErrorIs(t, err, registry.ErrUnknownActionType)
}

func TestCreateActionKnownType(t *testing.T) {
	reg := newTestRegistry()

	action, err := reg.CreateAction("log", map[string]any{"message": "ready"})
	require.NoError(t, err)
	assert.NotNil(t, action)
}

func TestValidateConfig(t *testing.T) {
	reg := newTestRegistry()

	tests := []struct {
		name       string
		actionType string
		config     map[string]any
		wantErr    error
	}{
		{
			name:       "valid log config",
			actionType: "log",
			config:     map[string]any{"message": "done", "level": "info"},
		},
		{
			name:       "missing required field",
			actionType: "log",
			config:     map[string]any{"level": "info"},
			wantErr:    registry.ErrInvalidConfiguration,
		},
		{
			name:       "enum violation",
			actionType: "http_request",
			config:     map[string]any{"url": "https://example.com", "method": "BREW"},
			wantErr:    registry.ErrInvalidConfiguration,
		},
		{
			name:       "unregistered type",
			actionType: "teleport",
			config:     map[string]any{},
			wantErr:    registry.ErrUnknownActionType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.ValidateConfig(tt.actionType, tt.config)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
		})
	}
}

func TestActionTypes(t *testing.T) {
	reg := newTestRegistry()

	assert.ElementsMatch(t, []string{"log", "http_request"}, reg.ActionTypes())
}
