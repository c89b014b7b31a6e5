package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Matcher evaluates filter conditions against records. Comparison coerces the
// configured value to the field's native type; a record with a null value for
// the compared field never matches anything but not_equals; an unknown
// operator fails closed.
type Matcher struct{}

// NewMatcher creates a field matcher
func NewMatcher() *Matcher {
	return &Matcher{}
}

// Match evaluates one condition against a record.
func (m *Matcher) Match(rec Record, cond FilterCondition) bool {
	fieldValue, ok := rec.Field(cond.Field)
	if !ok || fieldValue == nil {
		// Null fields only satisfy not_equals
		return cond.Operator == OperatorNotEquals
	}

	switch cond.Operator {
	case OperatorEquals:
		return valuesEqual(fieldValue, cond.Value)
	case OperatorNotEquals:
		return !valuesEqual(fieldValue, cond.Value)
	case OperatorGreaterThan:
		return compareOrdered(fieldValue, cond.Value) > 0
	case OperatorLessThan:
		return compareOrdered(fieldValue, cond.Value) < 0
	case OperatorContains:
		return containsValue(fieldValue, cond.Value)
	default:
		// Unknown operator: exclude, never error
		return false
	}
}

// MatchAll evaluates every condition conjunctively.
func (m *Matcher) MatchAll(rec Record, conds []FilterCondition) bool {
	for _, cond := range conds {
		if !m.Match(rec, cond) {
			return false
		}
	}
	return true
}

// valuesEqual compares after coercing the condition value toward the field's
// native type: numbers numerically, bools as bools, times as instants,
// everything else as strings.
func valuesEqual(field, value any) bool {
	if fn, ok := toFloat(field); ok {
		if vn, ok := toFloat(value); ok {
			return fn == vn
		}
		return false
	}

	if fb, ok := field.(bool); ok {
		if vb, ok := toBool(value); ok {
			return fb == vb
		}
		return false
	}

	if ft, ok := toTime(field); ok {
		if vt, ok := toTime(value); ok {
			return ft.Equal(vt)
		}
		return false
	}

	return toString(field) == toString(value)
}

// compareOrdered returns -1, 0 or 1. Numbers and times compare naturally,
// everything else lexicographically.
func compareOrdered(field, value any) int {
	if fn, ok := toFloat(field); ok {
		if vn, ok := toFloat(value); ok {
			switch {
			case fn < vn:
				return -1
			case fn > vn:
				return 1
			default:
				return 0
			}
		}
	}

	if ft, ok := toTime(field); ok {
		if vt, ok := toTime(value); ok {
			switch {
			case ft.Before(vt):
				return -1
			case ft.After(vt):
				return 1
			default:
				return 0
			}
		}
	}

	return strings.Compare(toString(field), toString(value))
}

// containsValue does a substring test on strings and a membership test on slices.
func containsValue(field, value any) bool {
	switch fv := field.(type) {
	case string:
		return strings.Contains(fv, toString(value))
	case []string:
		needle := toString(value)
		for _, item := range fv {
			if item == needle {
				return true
			}
		}
		return false
	case []any:
		for _, item := range fv {
			if valuesEqual(item, value) {
				return true
			}
		}
		return false
	default:
		return strings.Contains(toString(field), toString(value))
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toBool(v any) (bool, bool) {
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

// toTime recognizes time.Time values and RFC3339 strings.
func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}

func toString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
