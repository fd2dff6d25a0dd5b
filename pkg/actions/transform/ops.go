package transform

import (
	"errors"
	"fmt"
	"sort"

	"github.com/veloflow/veloflow/pkg/conditions"
	"github.com/veloflow/veloflow/pkg/models"
)

// ErrTypeMismatch is returned when an operation receives non-array input
// where an array is required.
var ErrTypeMismatch = errors.New("type mismatch")

func requireArray(input any) ([]any, error) {
	list, ok := input.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected array, got %T", ErrTypeMismatch, input)
	}

	return list, nil
}

// mapRecords projects each record through a field-to-path mapping. Paths are
// looked up inside the record; a missing path yields nil for that field.
func mapRecords(input any, mapping map[string]string) ([]any, error) {
	records, err := requireArray(input)
	if err != nil {
		return nil, err
	}

	out := make([]any, 0, len(records))

	for _, record := range records {
		projected := make(map[string]any, len(mapping))
		for field, path := range mapping {
			projected[field] = fieldValue(record, path)
		}

		out = append(out, projected)
	}

	return out, nil
}

// filterRecords keeps records matching the field/operator/value predicate.
func filterRecords(input any, field string, op models.Operator, value any) ([]any, error) {
	records, err := requireArray(input)
	if err != nil {
		return nil, err
	}

	out := make([]any, 0, len(records))

	for _, record := range records {
		keep, err := conditions.Apply(op, fieldValue(record, field), value)
		if err != nil {
			return nil, err
		}

		if keep {
			out = append(out, record)
		}
	}

	return out, nil
}

// aggregateRecords reduces records over a field: count, sum, average, max,
// min, or distinct.
func aggregateRecords(input any, operation, field string) (any, error) {
	records, err := requireArray(input)
	if err != nil {
		return nil, err
	}

	switch operation {
	case "count":
		return len(records), nil
	case "sum", "average", "max", "min":
		var (
			sum   float64
			count int
			best  float64
		)

		for _, record := range records {
			n, ok := toFloat(fieldValue(record, field))
			if !ok {
				continue
			}

			if count == 0 {
				best = n
			}

			sum += n
			count++

			if operation == "max" && n > best {
				best = n
			}

			if operation == "min" && n < best {
				best = n
			}
		}

		switch operation {
		case "sum":
			return sum, nil
		case "average":
			if count == 0 {
				return 0.0, nil
			}

			return sum / float64(count), nil
		default:
			if count == 0 {
				return nil, nil
			}

			return best, nil
		}
	case "distinct":
		seen := make(map[string]bool)
		out := make([]any, 0, len(records))

		for _, record := range records {
			value := fieldValue(record, field)

			key := fmt.Sprintf("%v", value)
			if seen[key] {
				continue
			}

			seen[key] = true
			out = append(out, value)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("unknown aggregate operation %q", operation)
	}
}

// sortRecords stable-sorts records by field, ascending or descending.
// Numeric values order numerically, everything else by string form.
func sortRecords(input any, field string, descending bool) ([]any, error) {
	records, err := requireArray(input)
	if err != nil {
		return nil, err
	}

	out := make([]any, len(records))
	copy(out, records)

	sort.SliceStable(out, func(i, j int) bool {
		less := fieldLess(fieldValue(out[i], field), fieldValue(out[j], field))
		if descending {
			return !less && !fieldEqual(fieldValue(out[i], field), fieldValue(out[j], field))
		}

		return less
	})

	return out, nil
}

// groupRecords partitions records into buckets named by field value.
func groupRecords(input any, field string) (map[string][]any, error) {
	records, err := requireArray(input)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]any)

	for _, record := range records {
		key := fmt.Sprintf("%v", fieldValue(record, field))
		out[key] = append(out[key], record)
	}

	return out, nil
}

// flattenRecords recursively flattens nested arrays.
func flattenRecords(input any) ([]any, error) {
	records, err := requireArray(input)
	if err != nil {
		return nil, err
	}

	var out []any

	var walk func(items []any)

	walk = func(items []any) {
		for _, item := range items {
			if nested, ok := item.([]any); ok {
				walk(nested)

				continue
			}

			out = append(out, item)
		}
	}

	walk(records)

	if out == nil {
		out = []any{}
	}

	return out, nil
}

// uniqueRecords de-duplicates records, optionally keyed by field. With no
// field the whole record's string form is the key. First occurrence wins.
func uniqueRecords(input any, field string) ([]any, error) {
	records, err := requireArray(input)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	out := make([]any, 0, len(records))

	for _, record := range records {
		subject := record
		if field != "" {
			subject = fieldValue(record, field)
		}

		key := fmt.Sprintf("%v", subject)
		if seen[key] {
			continue
		}

		seen[key] = true
		out = append(out, record)
	}

	return out, nil
}

func fieldValue(record any, field string) any {
	if field == "" {
		return record
	}

	m, ok := record.(map[string]any)
	if !ok {
		return nil
	}

	return m[field]
}

func fieldLess(left, right any) bool {
	l, lok := toFloat(left)
	r, rok := toFloat(right)

	if lok && rok {
		return l < r
	}

	return fmt.Sprintf("%v", left) < fmt.Sprintf("%v", right)
}

func fieldEqual(left, right any) bool {
	l, lok := toFloat(left)
	r, rok := toFloat(right)

	if lok && rok {
		return l == r
	}

	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
