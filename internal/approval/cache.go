package approval

import (
	"sort"
	"sync"
)

// Cache is the append-only set of approved keys owned by one session.
// A child session gets a view: lookups fall through to the parent while
// additions stay private to the child and die with it.
type Cache struct {
	mu     sync.RWMutex
	keys   map[string]struct{}
	parent *Cache
}

func NewCache(keys ...string) *Cache {
	c := &Cache{keys: make(map[string]struct{}, len(keys))}
	for _, k := range keys {
		c.keys[k] = struct{}{}
	}
	return c
}

// View returns a child cache that reads through to c and never writes to it.
func (c *Cache) View() *Cache {
	return &Cache{keys: map[string]struct{}{}, parent: c}
}

func (c *Cache) Has(key string) bool {
	c.mu.RLock()
	_, ok := c.keys[key]
	c.mu.RUnlock()
	if ok {
		return true
	}
	if c.parent != nil {
		return c.parent.Has(key)
	}
	return false
}

// Add records keys. Existing keys are left alone; nothing is ever removed.
func (c *Cache) Add(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.keys[k] = struct{}{}
	}
}

// Keys returns the keys added to this cache, excluding any parent's.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.keys))
	for k := range c.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}
