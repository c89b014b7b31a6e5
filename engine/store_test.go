package engine

import (
	"testing"
	"time"
)

func TestInMemoryRuleStoreAdd(t *testing.T) {
	store := NewInMemoryRuleStore()

	rule := validScheduledRule()
	if err := store.Add(rule); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if rule.CreatedAt.IsZero() {
		t.Error("Add() did not stamp CreatedAt")
	}

	if err := store.Add(validScheduledRule()); err == nil {
		t.Error("Add() accepted a duplicate rule ID")
	}

	invalid := validScheduledRule()
	invalid.ID = "rule-2"
	invalid.Name = ""
	if err := store.Add(invalid); err == nil {
		t.Error("Add() accepted an invalid rule")
	}
}

func TestInMemoryRuleStoreGet(t *testing.T) {
	store := NewInMemoryRuleStore()
	rule := validScheduledRule()
	if err := store.Add(rule); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	got, err := store.Get(rule.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Name != rule.Name {
		t.Errorf("Get() name = %q, want %q", got.Name, rule.Name)
	}

	_, err = store.Get("missing")
	if !IsKind(err, KindNotFound) {
		t.Errorf("Get(missing) error kind = %v, want %v", KindOf(err), KindNotFound)
	}
}

func TestInMemoryRuleStoreListActive(t *testing.T) {
	store := NewInMemoryRuleStore()

	active := validScheduledRule()
	if err := store.Add(active); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	inactive := validScheduledRule()
	inactive.ID = "rule-2"
	inactive.Active = false
	if err := store.Add(inactive); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	signal := validScheduledRule()
	signal.ID = "rule-3"
	signal.TriggerKind = TriggerSignal
	signal.SignalName = "offer_declined"
	signal.Detection = nil
	if err := store.Add(signal); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	got, err := store.ListActive()
	if err != nil {
		t.Fatalf("ListActive() error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("ListActive() returned %d rules, want 2", len(got))
	}

	scheduled, err := store.ListActiveByTrigger(TriggerScheduled)
	if err != nil {
		t.Fatalf("ListActiveByTrigger() error: %v", err)
	}
	if len(scheduled) != 1 || scheduled[0].ID != active.ID {
		t.Errorf("ListActiveByTrigger(scheduled) = %v, want [%s]", scheduled, active.ID)
	}
}

func TestInMemoryRuleStoreUpdate(t *testing.T) {
	store := NewInMemoryRuleStore()
	rule := validScheduledRule()
	if err := store.Add(rule); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	createdAt := rule.CreatedAt

	time.Sleep(time.Millisecond)

	updated := validScheduledRule()
	updated.Name = "Renamed"
	if err := store.Update(updated); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	got, err := store.Get(rule.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Name != "Renamed" {
		t.Errorf("Update() did not persist: name = %q", got.Name)
	}
	if !got.CreatedAt.Equal(createdAt) {
		t.Errorf("Update() changed CreatedAt: %v -> %v", createdAt, got.CreatedAt)
	}
	if !got.UpdatedAt.After(createdAt) {
		t.Errorf("Update() did not advance UpdatedAt")
	}

	missing := validScheduledRule()
	missing.ID = "missing"
	if err := store.Update(missing); !IsKind(err, KindNotFound) {
		t.Errorf("Update(missing) error kind = %v, want %v", KindOf(err), KindNotFound)
	}
}

func TestInMemoryRuleStoreDelete(t *testing.T) {
	store := NewInMemoryRuleStore()
	rule := validScheduledRule()
	if err := store.Add(rule); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	if err := store.Delete(rule.ID); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := store.Get(rule.ID); !IsKind(err, KindNotFound) {
		t.Errorf("Get() after delete error kind = %v, want %v", KindOf(err), KindNotFound)
	}
	if err := store.Delete(rule.ID); !IsKind(err, KindNotFound) {
		t.Errorf("Delete(missing) error kind = %v, want %v", KindOf(err), KindNotFound)
	}
}
