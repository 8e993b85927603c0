// Package conditions evaluates workflow condition sets against entity snapshots.
package conditions

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/dukex/rentflow/pkg/models"
)

// ErrInvalidCondition is returned when a condition cannot be evaluated as written.
var ErrInvalidCondition = errors.New("invalid condition")

// Matches reports whether the snapshot satisfies the conditions.
// Malformed conditions never match.
func Matches(conds []models.Condition, snapshot map[string]any) bool {
	ok, err := Evaluate(conds, snapshot)

	return err == nil && ok
}

// Evaluate groups the conditions, ANDs each group with short-circuit and ORs the groups.
// An empty list matches unconditionally.
//
// A field missing from the snapshot fails every operator except exists=false.
func Evaluate(conds []models.Condition, snapshot map[string]any) (bool, error) {
	if len(conds) == 0 {
		return true, nil
	}

	for _, group := range groups(conds) {
		matched, err := evaluateGroup(group, snapshot)
		if err != nil {
			return false, err
		}

		if matched {
			return true, nil
		}
	}

	return false, nil
}

// Validate checks that every condition can be evaluated, without a snapshot.
func Validate(conds []models.Condition) error {
	for i, cond := range conds {
		err := validateCondition(cond)
		if err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}

	return nil
}

func groups(conds []models.Condition) [][]models.Condition {
	order := make([]string, 0)
	byGroup := make(map[string][]models.Condition)

	for _, cond := range conds {
		if _, seen := byGroup[cond.Group]; !seen {
			order = append(order, cond.Group)
		}

		byGroup[cond.Group] = append(byGroup[cond.Group], cond)
	}

	result := make([][]models.Condition, 0, len(order))
	for _, name := range order {
		result = append(result, byGroup[name])
	}

	return result
}

func evaluateGroup(group []models.Condition, snapshot map[string]any) (bool, error) {
	for _, cond := range group {
		matched, err := evaluate(cond, snapshot)
		if err != nil {
			return false, err
		}

		if !matched {
			return false, nil
		}
	}

	return true, nil
}

func validateCondition(cond models.Condition) error {
	if cond.Field == "" {
		return fmt.Errorf("%w: field is required", ErrInvalidCondition)
	}

	switch cond.Operator {
	case models.OperatorEquals, models.OperatorNotEquals, models.OperatorContains:
		return nil
	case models.OperatorGreaterThan, models.OperatorLessThan:
		if cond.Value == nil {
			return fmt.Errorf("%w: %s requires a value", ErrInvalidCondition, cond.Operator)
		}

		return nil
	case models.OperatorIn:
		if _, ok := asList(cond.Value); !ok {
			return fmt.Errorf("%w: in requires a list value", ErrInvalidCondition)
		}

		return nil
	case models.OperatorExists:
		if cond.Value == nil {
			return nil
		}

		if _, ok := asBool(cond.Value); !ok {
			return fmt.Errorf("%w: exists requires a boolean value", ErrInvalidCondition)
		}

		return nil
	default:
		return fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, cond.Operator)
	}
}

func evaluate(cond models.Condition, snapshot map[string]any) (bool, error) {
	err := validateCondition(cond)
	if err != nil {
		return false, err
	}

	actual, present := models.Lookup(snapshot, cond.Field)

	if cond.Operator == models.OperatorExists {
		want := true
		if cond.Value != nil {
			want, _ = asBool(cond.Value)
		}

		return present == want, nil
	}

	if !present {
		return false, nil
	}

	switch cond.Operator {
	case models.OperatorEquals:
		return equal(actual, cond.Value), nil
	case models.OperatorNotEquals:
		return !equal(actual, cond.Value), nil
	case models.OperatorGreaterThan:
		cmp, ok := compare(actual, cond.Value)

		return ok && cmp > 0, nil
	case models.OperatorLessThan:
		cmp, ok := compare(actual, cond.Value)

		return ok && cmp < 0, nil
	case models.OperatorContains:
		return contains(actual, cond.Value), nil
	case models.OperatorIn:
		list, _ := asList(cond.Value)

		return memberOf(actual, list), nil
	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, cond.Operator)
	}
}

func equal(a, b any) bool {
	if af, ok := asNumber(a); ok {
		if bf, ok := asNumber(b); ok {
			return af == bf
		}
	}

	return reflect.DeepEqual(a, b)
}

// compare orders numbers numerically, dates chronologically and other strings lexically.
func compare(a, b any) (int, bool) {
	if af, ok := asNumber(a); ok {
		if bf, ok := asNumber(b); ok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
	}

	if at, ok := models.ParseDate(a); ok {
		if bt, ok := models.ParseDate(b); ok {
			return at.Compare(bt), true
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)

	if aok && bok {
		return strings.Compare(as, bs), true
	}

	return 0, false
}

func contains(haystack, needle any) bool {
	if s, ok := haystack.(string); ok {
		n, ok := needle.(string)

		return ok && strings.Contains(s, n)
	}

	if list, ok := asList(haystack); ok {
		return memberOf(needle, list)
	}

	return false
}

func memberOf(v any, list []any) bool {
	for _, item := range list {
		if equal(v, item) {
			return true
		}
	}

	return false
}

func asList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}

	if list, ok := v.([]any); ok {
		return list, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	list := make([]any, rv.Len())
	for i := range rv.Len() {
		list[i] = rv.Index(i).Interface()
	}

	return list, true
}

func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)

		return parsed, err == nil
	default:
		return false, false
	}
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)

		return f, err == nil
	default:
		return 0, false
	}
}
