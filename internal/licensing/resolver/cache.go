package resolver

import (
	"sync"

	"github.com/vigilohq/vigilo/pkg/entitlements"
)

// Cache is the narrow contract the resolver needs. It is injectable so
// tests run with isolated instances instead of a process-wide map.
type Cache interface {
	Get(orgID string) (entitlements.Bundle, bool)
	Put(orgID string, b entitlements.Bundle)
	Invalidate(orgID string)
}

// MemoryCache is the default in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]entitlements.Bundle
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]entitlements.Bundle)}
}

// Get returns the cached bundle for an organization.
func (c *MemoryCache) Get(orgID string) (entitlements.Bundle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.entries[orgID]
	return b, ok
}

// Put stores the bundle for an organization.
func (c *MemoryCache) Put(orgID string, b entitlements.Bundle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[orgID] = b
}

// Invalidate drops the cached bundle for an organization.
func (c *MemoryCache) Invalidate(orgID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, orgID)
}
