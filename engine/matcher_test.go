package engine

import (
	"testing"
	"time"
)

func TestMatcherMatch(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	record := rec("cand-1", map[string]any{
		"stage":       "screening",
		"score":       int64(72),
		"salary":      85000.0,
		"remote":      true,
		"due_date":    now,
		"tags":        []string{"senior", "golang"},
		"notes":       "strong systems background",
		"archived_at": nil,
	})

	matcher := NewMatcher()

	tests := []struct {
		name string
		cond FilterCondition
		want bool
	}{
		{
			name: "string equals",
			cond: FilterCondition{Field: "stage", Operator: OperatorEquals, Value: "screening"},
			want: true,
		},
		{
			name: "string equals mismatch",
			cond: FilterCondition{Field: "stage", Operator: OperatorEquals, Value: "offer"},
			want: false,
		},
		{
			name: "not equals",
			cond: FilterCondition{Field: "stage", Operator: OperatorNotEquals, Value: "offer"},
			want: true,
		},
		{
			name: "numeric equals with json float value",
			cond: FilterCondition{Field: "score", Operator: OperatorEquals, Value: 72.0},
			want: true,
		},
		{
			name: "numeric equals with string value",
			cond: FilterCondition{Field: "score", Operator: OperatorEquals, Value: "72"},
			want: true,
		},
		{
			name: "numeric gt",
			cond: FilterCondition{Field: "salary", Operator: OperatorGreaterThan, Value: 80000},
			want: true,
		},
		{
			name: "numeric lt false",
			cond: FilterCondition{Field: "salary", Operator: OperatorLessThan, Value: 80000},
			want: false,
		},
		{
			name: "bool equals with string value",
			cond: FilterCondition{Field: "remote", Operator: OperatorEquals, Value: "true"},
			want: true,
		},
		{
			name: "time gt against rfc3339 string",
			cond: FilterCondition{Field: "due_date", Operator: OperatorGreaterThan, Value: "2026-03-01T00:00:00Z"},
			want: true,
		},
		{
			name: "substring contains",
			cond: FilterCondition{Field: "notes", Operator: OperatorContains, Value: "systems"},
			want: true,
		},
		{
			name: "slice membership contains",
			cond: FilterCondition{Field: "tags", Operator: OperatorContains, Value: "golang"},
			want: true,
		},
		{
			name: "slice membership miss",
			cond: FilterCondition{Field: "tags", Operator: OperatorContains, Value: "java"},
			want: false,
		},
		{
			name: "null field fails equals",
			cond: FilterCondition{Field: "archived_at", Operator: OperatorEquals, Value: nil},
			want: false,
		},
		{
			name: "null field fails gt",
			cond: FilterCondition{Field: "archived_at", Operator: OperatorGreaterThan, Value: "2026-01-01T00:00:00Z"},
			want: false,
		},
		{
			name: "null field satisfies not_equals",
			cond: FilterCondition{Field: "archived_at", Operator: OperatorNotEquals, Value: "anything"},
			want: true,
		},
		{
			name: "absent field satisfies not_equals",
			cond: FilterCondition{Field: "nonexistent", Operator: OperatorNotEquals, Value: "x"},
			want: true,
		},
		{
			name: "absent field fails equals",
			cond: FilterCondition{Field: "nonexistent", Operator: OperatorEquals, Value: "x"},
			want: false,
		},
		{
			name: "unknown operator fails closed",
			cond: FilterCondition{Field: "stage", Operator: "regex_match", Value: ".*"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matcher.Match(record, tt.cond)
			if got != tt.want {
				t.Errorf("Match(%+v) = %v, want %v", tt.cond, got, tt.want)
			}
		})
	}
}

func TestMatcherMatchAll(t *testing.T) {
	record := rec("cand-1", map[string]any{
		"stage": "screening",
		"score": 72,
	})
	matcher := NewMatcher()

	tests := []struct {
		name  string
		conds []FilterCondition
		want  bool
	}{
		{
			name:  "no conditions matches everything",
			conds: nil,
			want:  true,
		},
		{
			name: "all conditions hold",
			conds: []FilterCondition{
				{Field: "stage", Operator: OperatorEquals, Value: "screening"},
				{Field: "score", Operator: OperatorGreaterThan, Value: 50},
			},
			want: true,
		},
		{
			name: "one failing condition fails the set",
			conds: []FilterCondition{
				{Field: "stage", Operator: OperatorEquals, Value: "screening"},
				{Field: "score", Operator: OperatorLessThan, Value: 50},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := matcher.MatchAll(record, tt.conds)
			if got != tt.want {
				t.Errorf("MatchAll() = %v, want %v", got, tt.want)
			}
		})
	}
}
