package engine

import (
	"testing"
	"time"
)

func TestMemoryRuleCache(t *testing.T) {
	cache := NewMemoryRuleCache(DefaultCacheConfig())

	if cache.Get() != nil {
		t.Error("Get() on empty cache should return nil")
	}
	if cache.IsValid() {
		t.Error("IsValid() on empty cache should be false")
	}

	rules := []*Rule{validScheduledRule()}
	cache.Set(rules)

	got := cache.Get()
	if len(got) != 1 || got[0].ID != rules[0].ID {
		t.Errorf("Get() = %v, want the cached rule", got)
	}
	if !cache.IsValid() {
		t.Error("IsValid() after Set should be true")
	}

	cache.Invalidate()
	if cache.Get() != nil {
		t.Error("Get() after Invalidate should return nil")
	}
	if cache.IsValid() {
		t.Error("IsValid() after Invalidate should be false")
	}
}

func TestMemoryRuleCacheEmptySetIsACacheHit(t *testing.T) {
	cache := NewMemoryRuleCache(DefaultCacheConfig())
	cache.Set(nil)

	// No active rules is still an answer; it must not read as a miss
	if cache.Get() == nil {
		t.Error("Get() after Set(nil) should return an empty non-nil slice")
	}
}

func TestMemoryRuleCacheTTL(t *testing.T) {
	cache := NewMemoryRuleCache(CacheConfig{TTL: 10 * time.Millisecond})
	cache.Set([]*Rule{validScheduledRule()})

	if cache.Get() == nil {
		t.Fatal("Get() inside TTL should hit")
	}

	time.Sleep(20 * time.Millisecond)

	if cache.Get() != nil {
		t.Error("Get() past TTL should miss")
	}
	if cache.IsValid() {
		t.Error("IsValid() past TTL should be false")
	}
}

func TestMemoryRuleCacheCopiesOut(t *testing.T) {
	cache := NewMemoryRuleCache(DefaultCacheConfig())
	cache.Set([]*Rule{validScheduledRule()})

	got := cache.Get()
	got[0] = nil

	again := cache.Get()
	if again[0] == nil {
		t.Error("mutating a Get() result leaked into the cache")
	}
}
