package transform

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veloflow/veloflow/pkg/models"
)

func orders() []any {
	return []any{
		map[string]any{"id": "o-1", "region": "eu", "total": 120.0},
		map[string]any{"id": "o-2", "region": "us", "total": 40.0},
		map[string]any{"id": "o-3", "region": "eu", "total": 80.0},
	}
}

func runTransform(t *testing.T, config map[string]any, vars map[string]any) any {
	t.Helper()

	action, err := NewAction(config)
	require.NoError(t, err)

	result, err := action.Execute(context.Background(), models.ExecutionContext{
		ID:        "exec-test",
		Variables: vars,
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	return result
}

func TestFilterKeepsMatchingRecords(t *testing.T) {
	result := runTransform(t, map[string]any{
		"operation": "filter",
		"input":     "vars.orders",
		"field":     "total",
		"operator":  "greater_than",
		"value":     50,
	}, map[string]any{"orders": orders()})

	filtered, ok := result.([]any)
	require.True(t, ok)
	require.Len(t, filtered, 2)
	assert.Equal(t, "o-1", filtered[0].(map[string]any)["id"])
	assert.Equal(t, "o-3", filtered[1].(map[string]any)["id"])
}

func TestMapProjectsFields(t *testing.T) {
	result := runTransform(t, map[string]any{
		"operation": "map",
		"input":     "vars.orders",
		"mapping":   map[string]any{"order": "id", "amount": "total"},
	}, map[string]any{"orders": orders()})

	mapped, ok := result.([]any)
	require.True(t, ok)
	require.Len(t, mapped, 3)

	first := mapped[0].(map[string]any)
	assert.Equal(t, "o-1", first["order"])
	assert.Equal(t, 120.0, first["amount"])
	assert.NotContains(t, first, "region")
}

func TestAggregateOperations(t *testing.T) {
	tests := []struct {
		aggregate string
		want      any
	}{
		{aggregate: "count", want: 3},
		{aggregate: "sum", want: 240.0},
		{aggregate: "average", want: 80.0},
		{aggregate: "max", want: 120.0},
		{aggregate: "min", want: 40.0},
	}

	for _, tt := range tests {
		t.Run(tt.aggregate, func(t *testing.T) {
			result := runTransform(t, map[string]any{
				"operation": "aggregate",
				"input":     "vars.orders",
				"aggregate": tt.aggregate,
				"field":     "total",
			}, map[string]any{"orders": orders()})

			assert.Equal(t, tt.want, result)
		})
	}
}

func TestAggregateDistinct(t *testing.T) {
	result := runTransform(t, map[string]any{
		"operation": "aggregate",
		"input":     "vars.orders",
		"aggregate": "distinct",
		"field":     "region",
	}, map[string]any{"orders": orders()})

	assert.Equal(t, []any{"eu", "us"}, result)
}

func TestSortOrdersByFieldBothWays(t *testing.T) {
	ascending := runTransform(t, map[string]any{
		"operation": "sort",
		"input":     "vars.orders",
		"field":     "total",
	}, map[string]any{"orders": orders()}).([]any)

	assert.Equal(t, "o-2", ascending[0].(map[string]any)["id"])
	assert.Equal(t, "o-1", ascending[2].(map[string]any)["id"])

	descending := runTransform(t, map[string]any{
		"operation": "sort",
		"input":     "vars.orders",
		"field":     "total",
		"order":     "desc",
	}, map[string]any{"orders": orders()}).([]any)

	assert.Equal(t, "o-1", descending[0].(map[string]any)["id"])
	assert.Equal(t, "o-2", descending[2].(map[string]any)["id"])
}

func TestGroupPartitionsByField(t *testing.T) {
	result := runTransform(t, map[string]any{
		"operation": "group",
		"input":     "vars.orders",
		"field":     "region",
	}, map[string]any{"orders": orders()})

	grouped, ok := result.(map[string][]any)
	require.True(t, ok)
	assert.Len(t, grouped["eu"], 2)
	assert.Len(t, grouped["us"], 1)
}

func TestFlattenNestedArrays(t *testing.T) {
	result := runTransform(t, map[string]any{
		"operation": "flatten",
		"input":     "vars.nested",
	}, map[string]any{"nested": []any{1, []any{2, []any{3, 4}}, 5}})

	assert.Equal(t, []any{1, 2, 3, 4, 5}, result)
}

func TestUniqueByField(t *testing.T) {
	result := runTransform(t, map[string]any{
		"operation": "unique",
		"input":     "vars.orders",
		"field":     "region",
	}, map[string]any{"orders": orders()}).([]any)

	require.Len(t, result, 2)
	assert.Equal(t, "o-1", result[0].(map[string]any)["id"])
	assert.Equal(t, "o-2", result[1].(map[string]any)["id"])
}

func TestTransformRejectsNonArrayInput(t *testing.T) {
	action, err := NewAction(map[string]any{
		"operation": "filter",
		"input":     "vars.scalar",
		"field":     "x",
		"operator":  "equals",
		"value":     1,
	})
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), models.ExecutionContext{
		Variables: map[string]any{"scalar": 42},
	}, slog.New(slog.DiscardHandler))
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestUnknownOperationFails(t *testing.T) {
	action, err := NewAction(map[string]any{"operation": "pivot"})
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), models.ExecutionContext{}, slog.New(slog.DiscardHandler))
	require.Error(t, err)
}
