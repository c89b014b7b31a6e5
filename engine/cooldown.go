package engine

import (
	"context"
	"time"
)

// CooldownGuard decides whether a rule may fire again for an entity. A firing
// is allowed iff no prior execution exists or the most recent one is at least
// CooldownHours old, regardless of how that execution ended.
//
// Allowed is a read-only check for previews and reporting. Actual firings go
// through Claim, where the store performs the check and the insert of the
// running row in one atomic step.
type CooldownGuard struct {
	executions ExecutionStore
}

// NewCooldownGuard creates a guard over the execution audit store
func NewCooldownGuard(executions ExecutionStore) *CooldownGuard {
	return &CooldownGuard{executions: executions}
}

// Allowed reports whether (rule, entity) is outside its cooldown window at asOf.
func (g *CooldownGuard) Allowed(ctx context.Context, rule *Rule, entityID string, asOf time.Time) (bool, error) {
	last, err := g.executions.LastFor(ctx, rule.ID, entityID)
	if err != nil {
		return false, err
	}
	return cooldownClear(rule, last, asOf), nil
}

// Claim atomically checks the window and records the running execution.
func (g *CooldownGuard) Claim(ctx context.Context, rule *Rule, entityID, triggeredBy string, asOf time.Time) (*Execution, bool, error) {
	return g.executions.Claim(ctx, rule, entityID, triggeredBy, asOf)
}
