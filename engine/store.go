package engine

import (
	"fmt"
	"sync"
	"time"
)

// RuleStore manages rule persistence and retrieval. Rule definitions are
// configuration data owned elsewhere; the engine reads them and the store
// implementations here validate them on the way in.
type RuleStore interface {
	// Add a new rule
	Add(rule *Rule) error

	// Get a rule by ID
	Get(id string) (*Rule, error)

	// List all active rules
	ListActive() ([]*Rule, error)

	// ListActiveByTrigger lists active rules with the given trigger kind
	ListActiveByTrigger(kind TriggerKind) ([]*Rule, error)

	// Update an existing rule
	Update(rule *Rule) error

	// Delete a rule
	Delete(id string) error
}

// InMemoryRuleStore implements RuleStore using an in-memory map.
// Thread-safe with RWMutex.
type InMemoryRuleStore struct {
	rules map[string]*Rule
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*Rule),
	}
}

// Add adds a new rule to the store, validating it first.
func (s *InMemoryRuleStore) Add(rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule
	return nil
}

// Get retrieves a rule by ID
func (s *InMemoryRuleStore) Get(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, Errorf(KindNotFound, "rule with ID %s not found", id)
	}
	return rule, nil
}

// ListActive returns all active rules
func (s *InMemoryRuleStore) ListActive() ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*Rule
	for _, rule := range s.rules {
		if rule.Active {
			active = append(active, rule)
		}
	}
	return active, nil
}

// ListActiveByTrigger returns active rules with the given trigger kind
func (s *InMemoryRuleStore) ListActiveByTrigger(kind TriggerKind) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Rule
	for _, rule := range s.rules {
		if rule.Active && rule.TriggerKind == kind {
			matched = append(matched, rule)
		}
	}
	return matched, nil
}

// Update updates an existing rule, validating it first.
func (s *InMemoryRuleStore) Update(rule *Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return Errorf(KindNotFound, "rule with ID %s not found", rule.ID)
	}

	// Preserve original CreatedAt timestamp
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	s.rules[rule.ID] = rule
	return nil
}

// Delete removes a rule from the store
func (s *InMemoryRuleStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return Errorf(KindNotFound, "rule with ID %s not found", id)
	}

	delete(s.rules, id)
	return nil
}
