package models

// Operator is a comparison applied by a condition.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "notEquals"
	OperatorGreaterThan Operator = "greaterThan"
	OperatorLessThan    Operator = "lessThan"
	OperatorContains    Operator = "contains"
	OperatorIn          Operator = "in"
	OperatorExists      Operator = "exists"
)

// Condition is a predicate over one field of an entity snapshot.
//
// Conditions sharing a Group are combined with AND; groups are combined with OR.
// Conditions without a group belong to the default group.
type Condition struct {
	Field    string   `json:"field"           validate:"required"`
	Operator Operator `json:"operator"        validate:"required,oneof=equals notEquals greaterThan lessThan contains in exists"`
	Value    any      `json:"value,omitempty"`
	Group    string   `json:"group,omitempty"`
}
