package dependency

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pitabwire/regelwerk/internal/pattern"
	"github.com/pitabwire/regelwerk/model"
)

var (
	// ErrUnknownOperator is returned for operators outside the vocabulary.
	ErrUnknownOperator = errors.New("unknown operator")
	// ErrInvalidPattern is returned when a regex_match condition does not
	// compile. The condition still evaluates to false.
	ErrInvalidPattern = errors.New("invalid pattern")
)

// Evaluate checks one dependency condition against the current field values.
// A condition on a field that has no entry in values is false for every
// operator. The returned error is informational: whenever it is non-nil the
// result is false.
func Evaluate(cond model.Dependency, values map[string]model.Value) (bool, error) {
	current, ok := values[cond.FieldID]
	if !ok {
		return false, nil
	}
	want := cond.ConditionValue

	switch cond.Operator {
	case model.OpEquals:
		return model.LooseEqual(current, want), nil
	case model.OpNotEquals:
		return !model.LooseEqual(current, want), nil
	case model.OpIn:
		return isIn(current, want), nil
	case model.OpNotIn:
		return !isIn(current, want), nil
	case model.OpContains:
		if current.IsNull() || want.IsNull() {
			return false, nil
		}
		return strings.Contains(strings.ToLower(current.String()), strings.ToLower(want.String())), nil
	case model.OpGreater:
		a, b, ok := numbers(current, want)
		return ok && a > b, nil
	case model.OpLess:
		a, b, ok := numbers(current, want)
		return ok && a < b, nil
	case model.OpRegexMatch:
		if current.IsNull() || want.IsNull() {
			return false, nil
		}
		re, err := pattern.Compile(want.String())
		if err != nil {
			return false, fmt.Errorf("%w %q: %v", ErrInvalidPattern, want.String(), err)
		}
		return re.MatchString(current.String()), nil
	case model.OpIsEmpty:
		return current.IsBlank(), nil
	case model.OpIsNotEmpty:
		return !current.IsBlank(), nil
	default:
		return false, fmt.Errorf("%w %q", ErrUnknownOperator, cond.Operator)
	}
}

// isIn reports whether current loosely equals one element of the list set.
// A set that is not a list matches nothing.
func isIn(current, set model.Value) bool {
	if current.IsNull() {
		return false
	}
	items, ok := set.List()
	if !ok {
		return false
	}
	for _, item := range items {
		if model.LooseEqual(current, item) {
			return true
		}
	}
	return false
}

func numbers(a, b model.Value) (float64, float64, bool) {
	x, ok := a.Float()
	if !ok {
		return 0, 0, false
	}
	y, ok := b.Float()
	if !ok {
		return 0, 0, false
	}
	return x, y, true
}
