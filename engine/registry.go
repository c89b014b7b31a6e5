package engine

import (
	"context"
	"fmt"
	"sync"
)

// Record is one entity instance exposed to the engine. Field access is by
// string key so the engine can generalize over heterogeneous entity types.
type Record interface {
	// ID returns the entity's stable identifier
	ID() string

	// Field returns the named field value and whether it exists
	Field(name string) (any, bool)

	// Fields returns a snapshot of all field values
	Fields() map[string]any
}

// Iterator streams records so large entity tables are never materialized
// wholesale. Usage mirrors sql.Rows:
//
//	for it.Next(ctx) {
//	    rec := it.Record()
//	    ...
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator interface {
	Next(ctx context.Context) bool
	Record() Record
	Err() error
	Close() error
}

// Accessor is the per-entity-type capability interface. Implemented once per
// tracked entity type, it replaces runtime attribute lookup with an explicit
// contract and eliminates "attribute missing" failures at evaluation time.
type Accessor interface {
	// EntityType returns the type key this accessor serves (e.g. "lead")
	EntityType() string

	// List streams all instances of the entity type
	List(ctx context.Context) (Iterator, error)

	// Get returns one instance by identifier
	Get(ctx context.Context, id string) (Record, error)

	// TerminalStage reports whether a stage value is flagged terminal
	TerminalStage(stage any) bool

	// OwnerField and AssigneeField name the fields holding the owner and
	// current assignee user identifiers, empty if the type has none.
	OwnerField() string
	AssigneeField() string

	// ContactEmailField names the field carrying an external contact email,
	// empty if the type has none.
	ContactEmailField() string
}

// Registry maps entity-type keys to their accessors. Thread-safe for
// concurrent reads; registration normally happens once at startup.
type Registry struct {
	accessors map[string]Accessor
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		accessors: make(map[string]Accessor),
	}
}

// Register adds an accessor for its entity type. Registering the same type
// twice is an error: accessors are wiring, not runtime state.
func (r *Registry) Register(a Accessor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := a.EntityType()
	if key == "" {
		return fmt.Errorf("accessor has empty entity type")
	}
	if _, exists := r.accessors[key]; exists {
		return fmt.Errorf("entity type %q already registered", key)
	}
	r.accessors[key] = a
	return nil
}

// Accessor returns the accessor for an entity type
func (r *Registry) Accessor(entityType string) (Accessor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, exists := r.accessors[entityType]
	if !exists {
		return nil, Errorf(KindNotFound, "entity type %q not registered", entityType)
	}
	return a, nil
}

// Types returns all registered entity-type keys
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.accessors))
	for key := range r.accessors {
		types = append(types, key)
	}
	return types
}

// MapRecord is a Record backed by a plain map. Event hooks and tests hand
// entity snapshots to the engine in this form.
type MapRecord struct {
	RecordID string
	Values   map[string]any
}

func (m *MapRecord) ID() string { return m.RecordID }

func (m *MapRecord) Field(name string) (any, bool) {
	v, ok := m.Values[name]
	return v, ok
}

func (m *MapRecord) Fields() map[string]any {
	out := make(map[string]any, len(m.Values))
	for k, v := range m.Values {
		out[k] = v
	}
	return out
}
