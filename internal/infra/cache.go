// Package infra provides in-process infrastructure shared by upstream clients.
package infra

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Cache size limits to prevent unbounded memory growth
const (
	DefaultMaxCacheEntries = 1000            // Maximum number of cache entries
	DefaultCacheCleanup    = 5 * time.Minute // How often to run cache cleanup
)

type cacheEntry[V any] struct {
	value      V
	expiresAt  time.Time
	accessedAt atomic.Int64 // unix nanos, for LRU eviction
}

// Cache is an LRU cache with per-entry TTL. It is safe for concurrent use.
type Cache[V any] struct {
	entries    sync.Map // key (string) -> *cacheEntry[V]
	count      atomic.Int64
	maxEntries int64
	evictMu    sync.Mutex

	// OnResize is called with the new entry count after cleanup and eviction.
	OnResize func(size int64)

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCache creates a cache holding at most maxEntries values.
// A background goroutine removes expired entries until Close is called.
func NewCache[V any](maxEntries int) *Cache[V] {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxCacheEntries
	}
	c := &Cache[V]{
		maxEntries: int64(maxEntries),
		stopCh:     make(chan struct{}),
	}
	go c.cleanupLoop(DefaultCacheCleanup)
	return c
}

// Get returns the cached value for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	v, ok := c.entries.Load(key)
	if !ok {
		return zero, false
	}
	e := v.(*cacheEntry[V])
	now := time.Now()
	if now.After(e.expiresAt) {
		if c.entries.CompareAndDelete(key, e) {
			c.count.Add(-1)
		}
		return zero, false
	}
	e.accessedAt.Store(now.UnixNano())
	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl is a no-op.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	now := time.Now()
	e := &cacheEntry[V]{value: value, expiresAt: now.Add(ttl)}
	e.accessedAt.Store(now.UnixNano())

	if _, loaded := c.entries.Swap(key, e); loaded {
		return
	}
	if n := c.count.Add(1); n > c.maxEntries {
		go c.evictLRU(int(n - c.maxEntries + c.maxEntries/10))
	}
}

// Delete removes key from the cache.
func (c *Cache[V]) Delete(key string) {
	if _, ok := c.entries.LoadAndDelete(key); ok {
		c.count.Add(-1)
	}
}

// DeletePrefix removes every entry whose key starts with prefix.
func (c *Cache[V]) DeletePrefix(prefix string) {
	c.entries.Range(func(k, _ any) bool {
		if strings.HasPrefix(k.(string), prefix) {
			c.Delete(k.(string))
		}
		return true
	})
}

// Size returns the current number of entries.
func (c *Cache[V]) Size() int64 {
	return c.count.Load()
}

// Close stops the background cleanup goroutine. It is safe to call more than once.
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

func (c *Cache[V]) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

// cleanup removes expired entries and evicts LRU entries if over limit
func (c *Cache[V]) cleanup() {
	now := time.Now()
	c.entries.Range(func(k, v any) bool {
		if now.After(v.(*cacheEntry[V]).expiresAt) {
			if c.entries.CompareAndDelete(k, v) {
				c.count.Add(-1)
			}
		}
		return true
	})

	if n := c.count.Load(); n > c.maxEntries {
		c.evictLRU(int(n - c.maxEntries + c.maxEntries/10)) // Evict 10% extra
	}
	c.resized()
}

// evictLRU removes the n least recently used entries
func (c *Cache[V]) evictLRU(n int) {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	type candidate struct {
		key        string
		accessedAt int64
	}
	var candidates []candidate
	c.entries.Range(func(k, v any) bool {
		candidates = append(candidates, candidate{
			key:        k.(string),
			accessedAt: v.(*cacheEntry[V]).accessedAt.Load(),
		})
		return true
	})

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].accessedAt < candidates[j].accessedAt
	})

	for i := 0; i < n && i < len(candidates); i++ {
		c.Delete(candidates[i].key)
	}
	c.resized()
}

func (c *Cache[V]) resized() {
	if c.OnResize != nil {
		c.OnResize(c.count.Load())
	}
}
