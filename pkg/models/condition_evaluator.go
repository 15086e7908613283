// Package models provides condition evaluation for funnel steps.
package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ConditionInput is the fixed snapshot a condition is evaluated against.
// Evaluation is deterministic for a given snapshot, so tests can construct
// inputs directly.
type ConditionInput struct {
	Subscriber *Subscriber
	Tasks      []ExternalTask
}

// TaskCompleted reports whether the named external task has been recorded.
func (in ConditionInput) TaskCompleted(taskID string) bool {
	for _, task := range in.Tasks {
		if task.TaskID == taskID {
			return true
		}
	}

	return false
}

// EvaluateCondition is a pure function from (snapshot, condition spec) to a
// boolean.
func EvaluateCondition(condition *Condition, input ConditionInput) (bool, error) {
	if condition == nil {
		return false, fmt.Errorf("%w: nil condition", ErrInvalidStepConfig)
	}

	switch condition.Kind {
	case ConditionKindTagExists:
		if input.Subscriber == nil {
			return false, nil
		}

		return input.Subscriber.HasTag(condition.Tag), nil
	case ConditionKindField:
		if input.Subscriber == nil {
			return false, nil
		}

		value, ok := input.Subscriber.Field(condition.Field)
		if !ok {
			return false, nil
		}

		return compareField(value, condition.Operator, condition.Value)
	case ConditionKindExternalTask:
		return input.TaskCompleted(condition.TaskID), nil
	default:
		return false, fmt.Errorf("%w: unknown condition kind %q", ErrInvalidStepConfig, condition.Kind)
	}
}

func compareField(actual any, operator FieldOperator, expected any) (bool, error) {
	switch operator {
	case FieldOperatorEquals:
		return equalValues(actual, expected), nil
	case FieldOperatorNotEquals:
		return !equalValues(actual, expected), nil
	case FieldOperatorGreaterThan, FieldOperatorLessThan:
		left, leftOk := toFloat(actual)
		right, rightOk := toFloat(expected)

		if !leftOk || !rightOk {
			return false, fmt.Errorf("%w: operator %q requires numeric operands", ErrInvalidStepConfig, operator)
		}

		if operator == FieldOperatorGreaterThan {
			return left > right, nil
		}

		return left < right, nil
	case FieldOperatorContains:
		return strings.Contains(toString(actual), toString(expected)), nil
	default:
		return false, fmt.Errorf("%w: unknown field operator %q", ErrInvalidStepConfig, operator)
	}
}

// equalValues compares with numeric coercion so that JSON-decoded float64
// values match integer configuration values.
func equalValues(a, b any) bool {
	if left, ok := toFloat(a); ok {
		if right, rightOk := toFloat(b); rightOk {
			return left == right
		}
	}

	return toString(a) == toString(b)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case string:
		parsed, err := strconv.ParseFloat(v, 64)

		return parsed, err == nil
	default:
		return 0, false
	}
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
