package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExecutionStore persists the execution audit trail. Claim is the engine's
// sole serialization point: the cooldown check and the insert of the running
// row happen as one atomic operation so overlapping scheduler runs cannot
// both fire for the same (rule, entity).
type ExecutionStore interface {
	// Claim atomically checks the cooldown window for (rule, entity) and, if
	// clear, inserts a running execution. Returns ok=false when a prior
	// execution inside the window blocks the firing.
	Claim(ctx context.Context, rule *Rule, entityID, triggeredBy string, asOf time.Time) (*Execution, bool, error)

	// Create inserts an execution unconditionally (test firings bypass cooldown)
	Create(ctx context.Context, exec *Execution) error

	// Finish transitions an execution to its terminal status, exactly once.
	Finish(ctx context.Context, id string, status ExecutionStatus, errorMessage string, result *ActionResult) error

	// LastFor returns the most recent execution for (rule, entity) regardless
	// of terminal status, or nil if none exists.
	LastFor(ctx context.Context, ruleID, entityID string) (*Execution, error)

	// Get returns one execution by ID
	Get(ctx context.Context, id string) (*Execution, error)

	// ListByRule returns the newest executions for a rule, newest first.
	ListByRule(ctx context.Context, ruleID string, limit int) ([]*Execution, error)

	// StaleRunning returns executions stuck in running longer than olderThan,
	// for operator reporting on interrupted runs.
	StaleRunning(ctx context.Context, olderThan time.Duration) ([]*Execution, error)
}

// NewExecutionID returns a fresh execution identifier
func NewExecutionID() string {
	return "exec-" + uuid.New().String()
}

// cooldownClear reports whether asOf is outside the rule's cooldown window
// relative to the last execution. A nil last execution is always clear.
func cooldownClear(rule *Rule, last *Execution, asOf time.Time) bool {
	if last == nil {
		return true
	}
	if rule.CooldownHours == 0 {
		return true
	}
	window := time.Duration(rule.CooldownHours) * time.Hour
	return asOf.Sub(last.CreatedAt) >= window
}

// InMemoryExecutionStore implements ExecutionStore with a mutex-guarded map.
// The single lock makes Claim trivially atomic.
type InMemoryExecutionStore struct {
	executions map[string]*Execution
	mu         sync.Mutex
}

// NewInMemoryExecutionStore creates an empty in-memory execution store
func NewInMemoryExecutionStore() *InMemoryExecutionStore {
	return &InMemoryExecutionStore{
		executions: make(map[string]*Execution),
	}
}

func (s *InMemoryExecutionStore) Claim(ctx context.Context, rule *Rule, entityID, triggeredBy string, asOf time.Time) (*Execution, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.lastForLocked(rule.ID, entityID)
	if !cooldownClear(rule, last, asOf) {
		return nil, false, nil
	}

	exec := &Execution{
		ID:          NewExecutionID(),
		RuleID:      rule.ID,
		TriggerKind: rule.TriggerKind,
		EntityType:  rule.EntityType,
		EntityID:    entityID,
		Status:      ExecutionRunning,
		TriggeredBy: triggeredBy,
		CreatedAt:   asOf,
		UpdatedAt:   asOf,
	}
	s.executions[exec.ID] = exec
	return copyExecution(exec), true, nil
}

func (s *InMemoryExecutionStore) Create(ctx context.Context, exec *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exec.ID == "" {
		exec.ID = NewExecutionID()
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now()
	}
	exec.UpdatedAt = exec.CreatedAt
	s.executions[exec.ID] = copyExecution(exec)
	return nil
}

func (s *InMemoryExecutionStore) Finish(ctx context.Context, id string, status ExecutionStatus, errorMessage string, result *ActionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, exists := s.executions[id]
	if !exists {
		return Errorf(KindNotFound, "execution %s not found", id)
	}
	if exec.Status == ExecutionSuccess || exec.Status == ExecutionFailed {
		return Errorf(KindType, "execution %s already finished with status %s", id, exec.Status)
	}

	exec.Status = status
	exec.ErrorMessage = errorMessage
	exec.Result = result
	exec.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryExecutionStore) LastFor(ctx context.Context, ruleID, entityID string) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.lastForLocked(ruleID, entityID)
	if last == nil {
		return nil, nil
	}
	return copyExecution(last), nil
}

func (s *InMemoryExecutionStore) Get(ctx context.Context, id string) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exec, exists := s.executions[id]
	if !exists {
		return nil, Errorf(KindNotFound, "execution %s not found", id)
	}
	return copyExecution(exec), nil
}

func (s *InMemoryExecutionStore) ListByRule(ctx context.Context, ruleID string, limit int) ([]*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*Execution
	for _, exec := range s.executions {
		if exec.RuleID == ruleID {
			matched = append(matched, copyExecution(exec))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *InMemoryExecutionStore) StaleRunning(ctx context.Context, olderThan time.Duration) ([]*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var stale []*Execution
	for _, exec := range s.executions {
		if exec.Status == ExecutionRunning && exec.CreatedAt.Before(cutoff) {
			stale = append(stale, copyExecution(exec))
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].CreatedAt.Before(stale[j].CreatedAt)
	})
	return stale, nil
}

// lastForLocked assumes s.mu is held. Executions for test firings count too:
// cooldown is about not spamming the same entity, whatever started the run.
func (s *InMemoryExecutionStore) lastForLocked(ruleID, entityID string) *Execution {
	var last *Execution
	for _, exec := range s.executions {
		if exec.RuleID != ruleID || exec.EntityID != entityID {
			continue
		}
		if last == nil || exec.CreatedAt.After(last.CreatedAt) {
			last = exec
		}
	}
	return last
}

func copyExecution(exec *Execution) *Execution {
	dup := *exec
	if exec.Result != nil {
		result := *exec.Result
		dup.Result = &result
	}
	return &dup
}
