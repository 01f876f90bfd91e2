package models

// ConditionOperator is the comparison applied by a WorkflowCondition.
type ConditionOperator string

const (
	OperatorEq       ConditionOperator = "eq"
	OperatorNe       ConditionOperator = "ne"
	OperatorGt       ConditionOperator = "gt"
	OperatorGte      ConditionOperator = "gte"
	OperatorLt       ConditionOperator = "lt"
	OperatorLte      ConditionOperator = "lte"
	OperatorContains ConditionOperator = "contains"
	OperatorIn       ConditionOperator = "in"
)

// WorkflowCondition compares a dot-path field of the instance data with a value.
type WorkflowCondition struct {
	Field    string            `json:"field"    validate:"required"`
	Operator ConditionOperator `json:"operator" validate:"required,oneof=eq ne gt gte lt lte contains in"`
	Value    any               `json:"value"`
}
