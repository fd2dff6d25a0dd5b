// Package template resolves {{path.to.variable}} placeholders in action and
// trigger configuration against a run's execution context.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/veloflow/veloflow/pkg/models"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.\-]*)\s*\}\}`)

// Render substitutes every placeholder in input that resolves against the
// execution context. Unresolved placeholders are left verbatim; that is a
// deliberate forgiving behavior, not an error.
//
// When the whole input is a single placeholder the resolved value keeps its
// type; otherwise values are stringified in place.
func Render(input string, executionCtx *models.ExecutionContext) any {
	trimmed := strings.TrimSpace(input)

	if match := placeholderPattern.FindStringSubmatch(trimmed); match != nil && match[0] == trimmed {
		if value, ok := executionCtx.Lookup(match[1]); ok {
			return value
		}

		return input
	}

	return placeholderPattern.ReplaceAllStringFunc(input, func(placeholder string) string {
		path := placeholderPattern.FindStringSubmatch(placeholder)[1]

		value, ok := executionCtx.Lookup(path)
		if !ok {
			return placeholder
		}

		return stringify(value)
	})
}

// RenderString is Render restricted to a string result.
func RenderString(input string, executionCtx *models.ExecutionContext) string {
	return stringify(Render(input, executionCtx))
}

// ResolveConfig deep-copies a configuration map, rendering placeholders in
// every string it finds, including inside nested maps and slices.
func ResolveConfig(config map[string]any, executionCtx *models.ExecutionContext) map[string]any {
	resolved, _ := resolveValue(config, executionCtx).(map[string]any)

	return resolved
}

// HasPlaceholders reports whether the input contains any placeholder syntax.
func HasPlaceholders(input string) bool {
	return placeholderPattern.MatchString(input)
}

func resolveValue(value any, executionCtx *models.ExecutionContext) any {
	switch v := value.(type) {
	case string:
		return Render(v, executionCtx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = resolveValue(item, executionCtx)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = resolveValue(item, executionCtx)
		}

		return out
	default:
		return value
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	case float64, int, int64, bool:
		return fmt.Sprintf("%v", v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}

		return string(encoded)
	}
}
