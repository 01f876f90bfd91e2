// Package conditions evaluates step entry conditions against an instance data bag.
//
// Evaluation is pure: it never mutates the data and never fails. A field that
// cannot be resolved is "undefined", which only satisfies the ne operator.
package conditions

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/dukex/procflow/pkg/models"
)

// Evaluate reports whether a single condition holds for data.
func Evaluate(condition *models.WorkflowCondition, data map[string]any) bool {
	if condition == nil {
		return true
	}

	actual, found := Resolve(data, condition.Field)

	switch condition.Operator {
	case models.OperatorEq:
		return found && equal(actual, condition.Value)
	case models.OperatorNe:
		return !found || !equal(actual, condition.Value)
	case models.OperatorGt, models.OperatorGte, models.OperatorLt, models.OperatorLte:
		if !found {
			return false
		}

		return compare(condition.Operator, actual, condition.Value)
	case models.OperatorContains:
		if !found {
			return false
		}

		return contains(actual, condition.Value)
	case models.OperatorIn:
		if !found {
			return false
		}

		return member(condition.Value, actual)
	default:
		return false
	}
}

// EvaluateAll AND-combines the conditions. An empty list passes.
func EvaluateAll(conditions []*models.WorkflowCondition, data map[string]any) bool {
	for _, condition := range conditions {
		if !Evaluate(condition, data) {
			return false
		}
	}

	return true
}

// Resolve walks a dot-path ("employee.manager.id") through nested maps.
func Resolve(data map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = data

	for _, key := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[key]
			if !ok {
				return nil, false
			}

			current = value
		case map[string]string:
			value, ok := node[key]
			if !ok {
				return nil, false
			}

			current = value
		default:
			return nil, false
		}
	}

	return current, true
}

func equal(a, b any) bool {
	an, aIsNumber := toFloat(a)
	bn, bIsNumber := toFloat(b)

	if aIsNumber && bIsNumber {
		return an == bn
	}

	if aIsNumber != bIsNumber {
		return false
	}

	return reflect.DeepEqual(a, b)
}

func compare(op models.ConditionOperator, a, b any) bool {
	an, ok := toFloat(a)
	if !ok {
		return false
	}

	bn, ok := toFloat(b)
	if !ok {
		return false
	}

	switch op {
	case models.OperatorGt:
		return an > bn
	case models.OperatorGte:
		return an >= bn
	case models.OperatorLt:
		return an < bn
	case models.OperatorLte:
		return an <= bn
	default:
		return false
	}
}

func contains(actual, needle any) bool {
	if isList(actual) {
		return member(actual, needle)
	}

	return strings.Contains(stringify(actual), stringify(needle))
}

// member reports whether needle is an element of list.
func member(list, needle any) bool {
	if !isList(list) {
		return false
	}

	v := reflect.ValueOf(list)
	for i := range v.Len() {
		if equal(v.Index(i).Interface(), needle) {
			return true
		}
	}

	return false
}

func isList(v any) bool {
	if v == nil {
		return false
	}

	kind := reflect.TypeOf(v).Kind()

	return kind == reflect.Slice || kind == reflect.Array
}

func stringify(v any) string {
	if v == nil {
		return "null"
	}

	if s, ok := v.(string); ok {
		return s
	}

	return fmt.Sprint(v)
}

// toFloat accepts any Go numeric kind. Strings are never coerced.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
