package kernel

import (
	"sort"
	"sync"
)

// DefaultCacheSize is the soft limit of caches created with a
// non-positive size.
const DefaultCacheSize = 64

// Cache memoizes Prepare by source, entry point and workgroup size.
//
// Only successful preparations are stored, so a broken kernel is
// re-checked (and re-reported) on every call. Prepared values are shared
// between callers and must be treated as read-only.
//
// Cache is safe for concurrent use.
type Cache struct {
	mu        sync.Mutex
	entries   map[cacheKey]*cacheEntry
	softLimit int
	tick      int64
	hits      uint64
	misses    uint64
}

type cacheKey struct {
	source     string
	entryPoint string
	wg         [3]uint32
}

type cacheEntry struct {
	prepared *Prepared
	atime    int64
}

// CacheStats reports cache usage.
type CacheStats struct {
	Len      int
	Capacity int
	Hits     uint64
	Misses   uint64
}

// NewCache creates a cache that starts evicting once it holds more than
// softLimit kernels.
func NewCache(softLimit int) *Cache {
	if softLimit <= 0 {
		softLimit = DefaultCacheSize
	}
	return &Cache{
		entries:   make(map[cacheKey]*cacheEntry),
		softLimit: softLimit,
	}
}

// Prepare returns the cached preparation of (src, entryPoint, wg) or runs
// the package-level Prepare and caches its result.
//
// Preparation runs outside the lock. Two goroutines missing on the same key
// both prepare it and the later one wins, which is harmless.
func (c *Cache) Prepare(src, entryPoint string, wg [3]uint32) (*Prepared, error) {
	key := cacheKey{source: src, entryPoint: entryPoint, wg: wg}

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.tick++
		e.atime = c.tick
		c.hits++
		c.mu.Unlock()
		return e.prepared, nil
	}
	c.misses++
	c.mu.Unlock()

	p, err := Prepare(src, entryPoint, wg)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick++
	c.entries[key] = &cacheEntry{prepared: p, atime: c.tick}
	if len(c.entries) > c.softLimit {
		c.evictOldest()
	}
	return p, nil
}

// Len returns the number of cached kernels.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every cached kernel. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[cacheKey]*cacheEntry)
	c.tick = 0
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Len:      len(c.entries),
		Capacity: c.softLimit,
		Hits:     c.hits,
		Misses:   c.misses,
	}
}

// evictOldest drops the least recently used quarter of the cache.
// Caller must hold c.mu.
func (c *Cache) evictOldest() {
	target := c.softLimit * 3 / 4
	if target < 1 {
		target = 1
	}
	n := len(c.entries) - target
	if n <= 0 {
		return
	}

	type aged struct {
		key   cacheKey
		atime int64
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{k, e.atime})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].atime < all[j].atime })
	for _, a := range all[:n] {
		delete(c.entries, a.key)
	}
}
