// Package conditions evaluates workflow conditions against execution state.
//
// String conditions are placeholder-interpolated and then compared with a
// fixed operator set. Nothing here evaluates arbitrary expressions; the
// restricted operator set bounds the attack surface.
package conditions

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/veloflow/veloflow/pkg/models"
)

// Apply runs one comparison from the fixed operator set. The same set backs
// field conditions and the filter transform.
func Apply(op models.Operator, left, operand any) (bool, error) {
	switch op {
	case models.OperatorEquals:
		return looseEquals(left, operand), nil
	case models.OperatorNotEquals:
		return !looseEquals(left, operand), nil
	case models.OperatorContains:
		return strings.Contains(toString(left), toString(operand)), nil
	case models.OperatorStartsWith:
		return strings.HasPrefix(toString(left), toString(operand)), nil
	case models.OperatorEndsWith:
		return strings.HasSuffix(toString(left), toString(operand)), nil
	case models.OperatorExists:
		return left != nil, nil
	case models.OperatorGreaterThan, models.OperatorGreaterThanOrEqual,
		models.OperatorLessThan, models.OperatorLessThanOrEqual:
		return applyOrdered(op, left, operand)
	case models.OperatorIn:
		return inList(left, operand), nil
	case models.OperatorNotIn:
		return !inList(left, operand), nil
	default:
		return false, fmt.Errorf("%w: unknown operator %q", models.ErrInvalidCondition, op)
	}
}

func applyOrdered(op models.Operator, left, operand any) (bool, error) {
	l, lok := toNumber(left)
	r, rok := toNumber(operand)

	var cmp int

	if lok && rok {
		switch {
		case l < r:
			cmp = -1
		case l > r:
			cmp = 1
		}
	} else {
		cmp = strings.Compare(toString(left), toString(operand))
	}

	switch op {
	case models.OperatorGreaterThan:
		return cmp > 0, nil
	case models.OperatorGreaterThanOrEqual:
		return cmp >= 0, nil
	case models.OperatorLessThan:
		return cmp < 0, nil
	case models.OperatorLessThanOrEqual:
		return cmp <= 0, nil
	}

	return false, fmt.Errorf("%w: operator %q is not ordered", models.ErrInvalidCondition, op)
}

// looseEquals compares numerically when both sides are numbers, otherwise by
// string form. JSON decoding yields float64 for all numbers, so this keeps
// 5 == 5.0 true across config and payload boundaries.
func looseEquals(left, right any) bool {
	l, lok := toNumber(left)
	r, rok := toNumber(right)

	if lok && rok {
		return l == r
	}

	return toString(left) == toString(right)
}

func inList(left, operand any) bool {
	list, ok := operand.([]any)
	if !ok {
		return false
	}

	for _, item := range list {
		if looseEquals(left, item) {
			return true
		}
	}

	return false
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
