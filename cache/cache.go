// Package cache implements a bounded response cache with per-entry expiry.
//
// Expiry is enforced lazily: an expired entry is dropped when it is read, or
// when a write finds it at the front of the expiry order. There is no
// background sweep. When a write pushes the cache over capacity, the entries
// closest to expiring are evicted first.
package cache

import (
	"container/heap"
	"sync"
	"time"

	"github.com/layer-3/bnbvote/metrics"
)

// DefaultCapacity is the entry bound used when none is given.
const DefaultCapacity = 100

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
	index     int // position in the expiry heap
}

// Cache is a thread-safe TTL cache bounded by entry count.
type Cache[V any] struct {
	capacity int
	name     string
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*entry[V]
	order   expiryHeap[V]
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	name string
	now  func() time.Time
}

// WithName labels the cache in metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a cache holding at most capacity entries.
func New[V any](capacity int, opts ...Option) *Cache[V] {
	o := options{name: "default", now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache[V]{
		capacity: capacity,
		name:     o.name,
		now:      o.now,
		entries:  make(map[string]*entry[V]),
	}
}

// Get returns the value stored under key if it has not expired. An expired
// entry is removed and reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		metrics.CacheLookups.WithLabelValues(c.name, "miss").Inc()
		return zero, false
	}
	if !c.now().Before(e.expiresAt) {
		c.removeLocked(e)
		metrics.CacheLookups.WithLabelValues(c.name, "expired").Inc()
		return zero, false
	}

	metrics.CacheLookups.WithLabelValues(c.name, "hit").Inc()
	return e.value, true
}

// Set stores value under key for ttl, replacing any previous entry. A
// non-positive ttl is ignored: the entry would never be readable.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	expiresAt := now.Add(ttl)
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		heap.Fix(&c.order, e.index)
	} else {
		e := &entry[V]{key: key, value: value, expiresAt: expiresAt}
		heap.Push(&c.order, e)
		c.entries[key] = e
	}

	for len(c.order) > 0 && !now.Before(c.order[0].expiresAt) {
		c.removeLocked(c.order[0])
	}
	for len(c.order) > c.capacity {
		c.removeLocked(c.order[0])
		metrics.CacheEvictions.WithLabelValues(c.name).Inc()
	}
}

// Delete removes key from the cache.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// Purge removes every entry.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])
	c.order = nil
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Capacity returns the entry bound.
func (c *Cache[V]) Capacity() int {
	return c.capacity
}

// removeLocked drops e from both indexes. Caller must hold mu.
func (c *Cache[V]) removeLocked(e *entry[V]) {
	heap.Remove(&c.order, e.index)
	delete(c.entries, e.key)
}

// expiryHeap orders entries by soonest expiry.
type expiryHeap[V any] []*entry[V]

func (h expiryHeap[V]) Len() int { return len(h) }

func (h expiryHeap[V]) Less(i, j int) bool {
	return h[i].expiresAt.Before(h[j].expiresAt)
}

func (h expiryHeap[V]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *expiryHeap[V]) Push(x any) {
	e := x.(*entry[V])
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *expiryHeap[V]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
