// Package cache implements the three-tier read-through cache: process-local
// LRU, Redis, and the persistent store. The cache is passive — it never
// computes or fetches values itself.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// LocalCache is the process-local tier: bounded by both entry count and a
// byte budget, evicting least-recently-used entries. Values are opaque byte
// blobs; callers never mutate a stored value in place.
type LocalCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	lru        *list.List // front = most recently used
	maxEntries int
	maxBytes   int64
	usedBytes  int64

	hits      int64
	misses    int64
	evictions int64
}

type localEntry struct {
	key     string
	value   []byte
	expires time.Time
}

// NewLocalCache creates a bounded local cache.
func NewLocalCache(maxEntries int, maxBytes int64) *LocalCache {
	return &LocalCache{
		entries:    make(map[string]*list.Element),
		lru:        list.New(),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
	}
}

// Get returns the cached blob if present and unexpired.
func (c *LocalCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	entry := el.Value.(*localEntry)
	if time.Now().After(entry.expires) {
		c.removeElement(el)
		c.misses++
		return nil, false
	}

	c.lru.MoveToFront(el)
	c.hits++
	return entry.value, true
}

// Set stores a blob, evicting LRU entries until both budgets hold.
// Eviction is per-entry: each eviction removes one whole entry and its
// byte accounting.
func (c *LocalCache) Set(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
	}

	entry := &localEntry{key: key, value: value, expires: time.Now().Add(ttl)}
	c.entries[key] = c.lru.PushFront(entry)
	c.usedBytes += int64(len(value))

	for (c.maxEntries > 0 && len(c.entries) > c.maxEntries) ||
		(c.maxBytes > 0 && c.usedBytes > c.maxBytes) {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
		c.evictions++
	}
}

// Delete removes a single key.
func (c *LocalCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
	}
}

// DeletePrefix removes every key under the given prefix.
func (c *LocalCache) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, el := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.removeElement(el)
			removed++
		}
	}
	return removed
}

// Stats reports tier counters for the ops surface.
func (c *LocalCache) Stats() TierStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return TierStats{
		Tier:      TierLocal,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   int64(len(c.entries)),
		Bytes:     c.usedBytes,
	}
}

// Len returns the live entry count.
func (c *LocalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *LocalCache) removeElement(el *list.Element) {
	entry := el.Value.(*localEntry)
	c.lru.Remove(el)
	delete(c.entries, entry.key)
	c.usedBytes -= int64(len(entry.value))
}
