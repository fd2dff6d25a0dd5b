package transform

import "github.com/veloflow/veloflow/pkg/protocol"

type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return NewAction(config)
}

func (f *ActionFactory) ID() string {
	return "transform"
}

func (f *ActionFactory) Name() string {
	return "Transform"
}

func (f *ActionFactory) Description() string {
	return "Transforms array input with map, filter, aggregate, sort, group, flatten or unique operations."
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type": "string",
				"enum": []string{"map", "filter", "aggregate", "sort", "group", "flatten", "unique"},
			},
			"input": map[string]any{
				"type":        "string",
				"description": "Variable path resolving to the input array. Defaults to all step results.",
				"examples":    []string{"steps.fetch_users.body", "trigger.items"},
			},
			"field": map[string]any{
				"type": "string",
			},
			"operator": map[string]any{
				"type": "string",
				"enum": []string{
					"equals", "not_equals", "contains", "greater_than", "greater_than_or_equal",
					"less_than", "less_than_or_equal", "starts_with", "ends_with", "exists", "in", "not_in",
				},
			},
			"value": map[string]any{
				"description": "Predicate operand for filter.",
			},
			"mapping": map[string]any{
				"type":        "object",
				"description": "Output field to record path mapping for map.",
			},
			"aggregate": map[string]any{
				"type": "string",
				"enum": []string{"count", "sum", "average", "max", "min", "distinct"},
			},
			"order": map[string]any{
				"type": "string",
				"enum": []string{"asc", "desc"},
			},
		},
		"required": []string{"operation"},
	}
}
