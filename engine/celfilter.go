package engine

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// FilterPrograms compiles and caches the optional CEL filter expressions rules
// may carry beyond their structured conditions. Expressions see a single
// `entity` variable holding the field snapshot. Thread-safe for concurrent
// evaluation; compilation happens at rule load.
type FilterPrograms struct {
	env      *cel.Env
	programs map[string]cel.Program // ruleID -> compiled program
	mu       sync.RWMutex
}

// NewFilterPrograms creates the CEL environment for filter expressions.
func NewFilterPrograms() (*FilterPrograms, error) {
	// Fields are heterogeneous per entity type, so entity is declared dynamic
	env, err := cel.NewEnv(
		cel.Variable("entity", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &FilterPrograms{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Compile validates and caches a rule's filter expression. Rules without an
// expression are a no-op. Called before a rule is stored so a bad expression
// never reaches evaluation.
func (fp *FilterPrograms) Compile(rule *Rule) error {
	if rule.FilterExpression == "" {
		fp.Remove(rule.ID)
		return nil
	}

	ast, issues := fp.env.Compile(rule.FilterExpression)
	if issues != nil && issues.Err() != nil {
		return Errorf(KindType, "rule %s: filter expression compile error: %v", rule.ID, issues.Err())
	}

	// Cost limit prevents resource exhaustion from pathological expressions
	prog, err := fp.env.Program(ast, cel.CostLimit(1000000))
	if err != nil {
		return Errorf(KindType, "rule %s: filter program creation error: %v", rule.ID, err)
	}

	fp.mu.Lock()
	fp.programs[rule.ID] = prog
	fp.mu.Unlock()

	return nil
}

// CompileAll compiles the filter expressions of every given rule.
func (fp *FilterPrograms) CompileAll(rules []*Rule) error {
	for _, rule := range rules {
		if err := fp.Compile(rule); err != nil {
			return err
		}
	}
	return nil
}

// Remove drops a rule's compiled program
func (fp *FilterPrograms) Remove(ruleID string) {
	fp.mu.Lock()
	delete(fp.programs, ruleID)
	fp.mu.Unlock()
}

// Allows evaluates a rule's filter expression against an entity field
// snapshot. Rules without an expression always pass. A non-boolean result or
// an evaluation error excludes the entity, it never aborts the run.
func (fp *FilterPrograms) Allows(rule *Rule, fields map[string]any) bool {
	if rule.FilterExpression == "" {
		return true
	}

	fp.mu.RLock()
	prog, exists := fp.programs[rule.ID]
	fp.mu.RUnlock()

	if !exists {
		// Expression present but never compiled: fail closed
		return false
	}

	out, _, err := prog.Eval(map[string]any{"entity": fields})
	if err != nil {
		return false
	}

	matched, ok := out.Value().(bool)
	return ok && matched
}
