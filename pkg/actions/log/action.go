// Package log provides the log action, useful for debugging workflows.
package log

import (
	"context"
	"log/slog"

	"github.com/veloflow/veloflow/pkg/models"
	"github.com/veloflow/veloflow/pkg/protocol"
	"github.com/veloflow/veloflow/pkg/template"
)

type Action struct {
	Message string
	Level   string
}

func NewAction(config map[string]any) (*Action, error) {
	message, _ := config["message"].(string)
	level, _ := config["level"].(string)

	if level == "" {
		level = "info"
	}

	return &Action{Message: message, Level: level}, nil
}

func (a *Action) Execute(_ context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error) {
	message := template.RenderString(a.Message, &executionCtx)

	switch a.Level {
	case "debug":
		logger.Debug(message)
	case "warn":
		logger.Warn(message)
	case "error":
		logger.Error(message)
	default:
		logger.Info(message)
	}

	return map[string]any{"message": message, "level": a.Level}, nil
}

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

func (f *ActionFactory) ID() string {
	return "log"
}

func (f *ActionFactory) Name() string {
	return "Log"
}

func (f *ActionFactory) Description() string {
	return "Writes a templated message to the execution log."
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "Message to log. Supports templating.",
			},
			"level": map[string]any{
				"type": "string",
				"enum": []string{"debug", "info", "warn", "error"},
			},
		},
		"required": []string{"message"},
	}
}
