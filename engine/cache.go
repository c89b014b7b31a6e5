package engine

import (
	"sync"
	"time"
)

// RuleCache caches the active-rule list so scheduled runs and event hooks do
// not hit the store on every invocation. Implementations may be in-memory or
// shared (Redis etc.); the engine only needs these four operations.
type RuleCache interface {
	// Get retrieves cached rules, nil on miss or expiry
	Get() []*Rule

	// Set stores rules in cache
	Set(rules []*Rule)

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate()

	// IsValid returns true if cache has valid data
	IsValid() bool
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Zero means no expiration (manual invalidation only).
	TTL time.Duration
}

// DefaultCacheConfig returns the default: no TTL, invalidate on rule mutation.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{TTL: 0}
}

// MemoryRuleCache is the in-memory RuleCache. Thread-safe.
type MemoryRuleCache struct {
	rules    []*Rule
	cachedAt time.Time
	config   CacheConfig
	isValid  bool
	mu       sync.RWMutex
}

// NewMemoryRuleCache creates a new in-memory rule cache
func NewMemoryRuleCache(config CacheConfig) *MemoryRuleCache {
	return &MemoryRuleCache{config: config}
}

// Get retrieves cached rules, nil if the cache is invalid or expired.
func (c *MemoryRuleCache) Get() []*Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isValid {
		return nil
	}
	if c.config.TTL > 0 && time.Since(c.cachedAt) > c.config.TTL {
		return nil
	}

	// Return a copy to prevent external modification
	rulesCopy := make([]*Rule, len(c.rules))
	copy(rulesCopy, c.rules)
	return rulesCopy
}

// Set stores rules in cache
func (c *MemoryRuleCache) Set(rules []*Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rules = make([]*Rule, len(rules))
	copy(c.rules, rules)
	c.cachedAt = time.Now()
	c.isValid = true
}

// Invalidate clears the cache
func (c *MemoryRuleCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isValid = false
	c.rules = nil
}

// IsValid returns true if the cache contains unexpired data
func (c *MemoryRuleCache) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isValid {
		return false
	}
	if c.config.TTL > 0 {
		return time.Since(c.cachedAt) <= c.config.TTL
	}
	return true
}
