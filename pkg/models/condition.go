package models

// ConditionKind discriminates the closed set of CONDITION step checks.
type ConditionKind string

const (
	ConditionKindTagExists    ConditionKind = "tag_exists"
	ConditionKindField        ConditionKind = "field"
	ConditionKindExternalTask ConditionKind = "external_task_completed"
)

// FieldOperator is the comparison operator of a field condition.
type FieldOperator string

const (
	FieldOperatorEquals      FieldOperator = "equals"
	FieldOperatorNotEquals   FieldOperator = "not_equals"
	FieldOperatorGreaterThan FieldOperator = "greater_than"
	FieldOperatorLessThan    FieldOperator = "less_than"
	FieldOperatorContains    FieldOperator = "contains"
)

// Condition is the predicate a CONDITION step evaluates.
type Condition struct {
	Kind ConditionKind `json:"kind" validate:"required,oneof=tag_exists field external_task_completed"`

	// tag_exists
	Tag string `json:"tag,omitempty"`

	// field
	Field    string        `json:"field,omitempty"`
	Operator FieldOperator `json:"operator,omitempty"`
	Value    any           `json:"value,omitempty"`

	// external_task_completed
	TaskID string `json:"task_id,omitempty"`
}

// RequiresExternalEvent reports whether a false evaluation means "not yet"
// rather than "no": the engine suspends on these instead of routing to the
// no branch.
func (c *Condition) RequiresExternalEvent() bool {
	return c.Kind == ConditionKindExternalTask
}
