// Package cache provides a small thread-safe LRU cache used for memoizing
// expensive pure computations, such as the per-date identifier enumeration in
// the CPR probability calculator.
package cache

import (
	"container/list"
	"sync"
)

// lruEntry represents an entry in the LRU cache.
type lruEntry[V any] struct {
	key   string
	value V
}

// LRU is a thread-safe least-recently-used cache. It evicts the least
// recently used items when the maximum size is exceeded. A maxSize of zero
// or below means the cache is unbounded.
type LRU[V any] struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List

	hits      int64
	misses    int64
	evictions int64
}

// NewLRU creates a new LRU cache with the specified maximum size.
func NewLRU[V any](maxSize int) *LRU[V] {
	return &LRU[V]{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get retrieves a value by key and marks it as recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		var zero V
		c.misses++
		return zero, false
	}

	c.order.MoveToFront(element)
	c.hits++
	return element.Value.(*lruEntry[V]).value, true
}

// Set stores a value with the given key and marks it as recently used.
func (c *LRU[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, exists := c.items[key]; exists {
		element.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(element)
		return
	}

	element := c.order.PushFront(&lruEntry[V]{key: key, value: value})
	c.items[key] = element

	if c.maxSize > 0 && len(c.items) > c.maxSize {
		c.evictLRU()
	}
}

// GetOrCompute returns the cached value for key, computing and storing it on
// a miss. The computation runs outside the lock; concurrent callers may
// compute the same value, with the last writer winning. That is acceptable
// for pure functions.
func (c *LRU[V]) GetOrCompute(key string, compute func() V) V {
	if value, ok := c.Get(key); ok {
		return value
	}
	value := compute()
	c.Set(key, value)
	return value
}

// Len returns the current number of entries in the cache.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns hit, miss and eviction counts.
func (c *LRU[V]) Stats() (hits, misses, evictions int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, c.evictions
}

// evictLRU removes the least recently used item. Must be called with the
// mutex held.
func (c *LRU[V]) evictLRU() {
	element := c.order.Back()
	if element == nil {
		return
	}
	delete(c.items, element.Value.(*lruEntry[V]).key)
	c.order.Remove(element)
	c.evictions++
}
