package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Shared in-memory fakes for the engine tests. They implement the
// collaborator interfaces with just enough behavior to drive the paths
// under test.

type sliceIterator struct {
	records []Record
	pos     int
	current Record
}

func (it *sliceIterator) Next(ctx context.Context) bool {
	if it.pos >= len(it.records) {
		return false
	}
	it.current = it.records[it.pos]
	it.pos++
	return true
}

func (it *sliceIterator) Record() Record { return it.current }
func (it *sliceIterator) Err() error     { return nil }
func (it *sliceIterator) Close() error   { return nil }

type fakeAccessor struct {
	entityType     string
	records        []Record
	terminalStages map[string]bool
	ownerField     string
	assigneeField  string
	contactField   string
}

func (a *fakeAccessor) EntityType() string { return a.entityType }

func (a *fakeAccessor) List(ctx context.Context) (Iterator, error) {
	return &sliceIterator{records: a.records}, nil
}

func (a *fakeAccessor) Get(ctx context.Context, id string) (Record, error) {
	for _, rec := range a.records {
		if rec.ID() == id {
			return rec, nil
		}
	}
	return nil, Errorf(KindNotFound, "%s %q not found", a.entityType, id)
}

func (a *fakeAccessor) TerminalStage(stage any) bool {
	s, ok := stage.(string)
	if !ok {
		return false
	}
	return a.terminalStages[s]
}

func (a *fakeAccessor) OwnerField() string        { return a.ownerField }
func (a *fakeAccessor) AssigneeField() string     { return a.assigneeField }
func (a *fakeAccessor) ContactEmailField() string { return a.contactField }

type fakeTransitions struct {
	entries map[string]time.Time // key: entityID|stage
	err     error
}

func (f *fakeTransitions) LastTransitionTo(ctx context.Context, entityType, entityID string, stage any) (time.Time, bool, error) {
	if f.err != nil {
		return time.Time{}, false, f.err
	}
	at, ok := f.entries[fmt.Sprintf("%s|%v", entityID, stage)]
	return at, ok, nil
}

type fakeUsers struct {
	users   map[string]UserRef
	byRole  map[string][]UserRef
	roleErr error
}

func (f *fakeUsers) User(ctx context.Context, id string) (UserRef, error) {
	u, ok := f.users[id]
	if !ok {
		return UserRef{}, Errorf(KindNotFound, "user %q not found", id)
	}
	return u, nil
}

func (f *fakeUsers) ActiveWithRole(ctx context.Context, role string) ([]UserRef, error) {
	if f.roleErr != nil {
		return nil, f.roleErr
	}
	return f.byRole[role], nil
}

// fakeChannel records every send and fails for addresses/users listed in fail.
type fakeChannel struct {
	mu    sync.Mutex
	sent  []Notification
	fail  map[string]bool // keyed by UserID or Email
	block time.Duration   // sleep before responding, for timeout tests
}

func (f *fakeChannel) Send(ctx context.Context, n Notification) Delivery {
	if f.block > 0 {
		select {
		case <-time.After(f.block):
		case <-ctx.Done():
			return Delivery{Sent: false}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)

	if f.fail[n.UserID] || f.fail[n.Email] {
		return Delivery{Sent: false, Error: "send refused"}
	}
	return Delivery{Sent: true}
}

func (f *fakeChannel) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeTasks struct {
	mu      sync.Mutex
	created []FollowUpTask
	err     error
}

func (f *fakeTasks) Create(ctx context.Context, task FollowUpTask) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.created = append(f.created, task)
	return fmt.Sprintf("task-%d", len(f.created)), nil
}

func rec(id string, values map[string]any) *MapRecord {
	return &MapRecord{RecordID: id, Values: values}
}
