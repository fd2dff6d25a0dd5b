// Package transform provides the built-in data transformation operations.
package transform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veloflow/veloflow/pkg/models"
	"github.com/veloflow/veloflow/pkg/template"
)

type Action struct {
	Operation string
	Input     string
	Field     string
	Mapping   map[string]string
	Operator  models.Operator
	Value     any
	Aggregate string
	Order     string
}

func NewAction(config map[string]any) (*Action, error) {
	operation, _ := config["operation"].(string)
	input, _ := config["input"].(string)
	field, _ := config["field"].(string)
	operator, _ := config["operator"].(string)
	aggregate, _ := config["aggregate"].(string)
	order, _ := config["order"].(string)

	mapping := make(map[string]string)
	if rawMapping, ok := config["mapping"].(map[string]any); ok {
		for key, value := range rawMapping {
			if s, ok := value.(string); ok {
				mapping[key] = s
			}
		}
	}

	return &Action{
		Operation: operation,
		Input:     input,
		Field:     field,
		Mapping:   mapping,
		Operator:  models.Operator(operator),
		Value:     config["value"],
		Aggregate: aggregate,
		Order:     order,
	}, nil
}

func (a *Action) Execute(_ context.Context, executionCtx models.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "transform_action", "operation", a.Operation)

	input := a.extract(&executionCtx)

	logger.Debug("Executing transform")

	switch a.Operation {
	case "map":
		return mapRecords(input, a.Mapping)
	case "filter":
		return filterRecords(input, a.Field, a.Operator, a.Value)
	case "aggregate":
		return aggregateRecords(input, a.Aggregate, a.Field)
	case "sort":
		return sortRecords(input, a.Field, a.Order == "desc")
	case "group":
		return groupRecords(input, a.Field)
	case "flatten":
		return flattenRecords(input)
	case "unique":
		return uniqueRecords(input, a.Field)
	default:
		return nil, fmt.Errorf("unknown transform operation %q", a.Operation)
	}
}

func (a *Action) extract(executionCtx *models.ExecutionContext) any {
	if a.Input == "" {
		return executionCtx.StepResults
	}

	if value, ok := executionCtx.Lookup(a.Input); ok {
		return value
	}

	return template.Render(a.Input, executionCtx)
}
