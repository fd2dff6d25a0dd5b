package models

// ConditionKind discriminates the supported condition forms. String
// expressions are interpolated and then compared with a fixed operator set;
// they are never evaluated as arbitrary code.
type ConditionKind string

const (
	ConditionKindLiteral    ConditionKind = "literal"
	ConditionKindExpression ConditionKind = "expression"
	ConditionKindField      ConditionKind = "field"
	ConditionKindAnd        ConditionKind = "and"
	ConditionKindOr         ConditionKind = "or"
	ConditionKindNot        ConditionKind = "not"
	ConditionKindSwitch     ConditionKind = "switch"
)

// Operator is the fixed comparison set shared by field conditions and the
// filter transform.
type Operator string

const (
	OperatorEquals             Operator = "equals"
	OperatorNotEquals          Operator = "not_equals"
	OperatorContains           Operator = "contains"
	OperatorGreaterThan        Operator = "greater_than"
	OperatorGreaterThanOrEqual Operator = "greater_than_or_equal"
	OperatorLessThan           Operator = "less_than"
	OperatorLessThanOrEqual    Operator = "less_than_or_equal"
	OperatorStartsWith         Operator = "starts_with"
	OperatorEndsWith           Operator = "ends_with"
	OperatorExists             Operator = "exists"
	OperatorIn                 Operator = "in"
	OperatorNotIn              Operator = "not_in"
)

// Condition is a tagged variant: the populated fields depend on Kind.
type Condition struct {
	Kind ConditionKind `json:"kind" validate:"required"`

	// literal
	Value *bool `json:"value,omitempty"`

	// expression: "{{path}} == other" with operators ==, !=, >, <
	Expression string `json:"expression,omitempty"`

	// field
	Field    string   `json:"field,omitempty"`
	Operator Operator `json:"operator,omitempty"`
	Operand  any      `json:"operand,omitempty"`

	// and / or
	Conditions []Condition `json:"conditions,omitempty"`

	// not
	Negate *Condition `json:"negate,omitempty"`

	// switch
	Switch *SwitchCondition `json:"switch,omitempty"`
}

// SwitchCondition matches a field value against case lists, yielding the
// matched case's result or the default.
type SwitchCondition struct {
	Field   string       `json:"field"`
	Cases   []SwitchCase `json:"cases"`
	Default string       `json:"default,omitempty"`
}

type SwitchCase struct {
	Match  []any  `json:"match"`
	Result string `json:"result"`
}

// TrueCondition is the always-true literal, used as the default step guard.
func TrueCondition() Condition {
	v := true

	return Condition{Kind: ConditionKindLiteral, Value: &v}
}
