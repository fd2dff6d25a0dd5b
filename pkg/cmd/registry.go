// Package cmd provides common initialization for the command-line binaries.
package cmd

import (
	"log/slog"

	"github.com/veloflow/veloflow/pkg/actions/httprequest"
	logaction "github.com/veloflow/veloflow/pkg/actions/log"
	"github.com/veloflow/veloflow/pkg/actions/transform"
	"github.com/veloflow/veloflow/pkg/registry"
)

// NewRegistry builds an action registry with the built-in action types.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.RegisterAction(httprequest.NewActionFactory())
	reg.RegisterAction(logaction.NewActionFactory())
	reg.RegisterAction(transform.NewActionFactory())

	return reg
}
