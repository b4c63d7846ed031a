// Package cache provides a byte-bounded LRU cache for reconstruction results
// with single in-flight computation per key.
package cache

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrCapacityExceeded is returned by Put when a value is larger than the
// whole budget. The value is not stored; callers keep using it.
var ErrCapacityExceeded = errors.New("cache capacity exceeded")

// Sizer reports the memory held by a cached value
type Sizer interface {
	SizeBytes() int64
}

// Observer receives cache events, typically to feed metrics
type Observer interface {
	Hit()
	Miss()
	Evicted(n int)
	Rejected()
	Resized(entries int, bytes int64)
}

// Stats is a point-in-time view of the cache
type Stats struct {
	Entries    int     `json:"entries"`
	TotalBytes int64   `json:"total_bytes"`
	Budget     int64   `json:"budget"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Evictions  int64   `json:"evictions"`
	Rejected   int64   `json:"rejected"`
	HitRate    float64 `json:"hit_rate"`
}

type entry[V Sizer] struct {
	key    string
	series string
	value  V
	size   int64
	prev   *entry[V]
	next   *entry[V]
}

// LRU is a thread-safe least recently used cache bounded by the summed
// SizeBytes of its values.
//
// Entries are kept in a doubly linked list between two sentinels:
// head.next is the most recently used, tail.prev the next eviction victim.
type LRU[V Sizer] struct {
	mu sync.Mutex

	budget int64
	used   int64
	items  map[string]*entry[V]
	head   *entry[V]
	tail   *entry[V]

	// generations counts invalidations per series; a computation started
	// under an older generation is not stored
	generations map[string]uint64

	// inflight maps keys being computed by Do to their series
	inflight map[string]string
	group    singleflight.Group

	observer Observer

	hits      int64
	misses    int64
	evictions int64
	rejected  int64
}

// New creates a cache holding at most budget bytes
func New[V Sizer](budget int64) *LRU[V] {
	c := &LRU[V]{
		budget:      budget,
		items:       make(map[string]*entry[V]),
		head:        &entry[V]{},
		tail:        &entry[V]{},
		generations: make(map[string]uint64),
		inflight:    make(map[string]string),
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Observe installs an observer for cache events
func (c *LRU[V]) Observe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = o
}

// Get returns the value for key and marks it most recently used
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		c.moveToFront(e)
		c.hits++
		if c.observer != nil {
			c.observer.Hit()
		}
		return e.value, true
	}
	c.misses++
	if c.observer != nil {
		c.observer.Miss()
	}
	var zero V
	return zero, false
}

// Contains reports whether key is cached without touching recency or stats
func (c *LRU[V]) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Put stores v under key, evicting least recently used entries as needed.
// Replacing an existing key refreshes its recency.
func (c *LRU[V]) Put(key, series string, v V) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.put(key, series, v)
}

func (c *LRU[V]) put(key, series string, v V) error {
	size := v.SizeBytes()
	if size > c.budget {
		c.rejected++
		if c.observer != nil {
			c.observer.Rejected()
		}
		return fmt.Errorf("%w: entry of %d bytes, budget %d bytes", ErrCapacityExceeded, size, c.budget)
	}

	if old, ok := c.items[key]; ok {
		c.unlink(old)
	}

	evicted := 0
	for c.used+size > c.budget && c.tail.prev != c.head {
		c.unlink(c.tail.prev)
		evicted++
	}
	c.evictions += int64(evicted)

	e := &entry[V]{key: key, series: series, value: v, size: size}
	c.addToFront(e)

	if c.observer != nil {
		if evicted > 0 {
			c.observer.Evicted(evicted)
		}
		c.observer.Resized(len(c.items), c.used)
	}
	return nil
}

// Remove deletes key and reports whether it was present
func (c *LRU[V]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return false
	}
	c.unlink(e)
	c.resized()
	return true
}

// InvalidateSeries removes every entry derived from series and returns how
// many were removed. Computations for the series that are still running
// will not be stored, and new requests start a fresh computation.
func (c *LRU[V]) InvalidateSeries(series string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generations[series]++

	removed := 0
	for e := c.head.next; e != c.tail; {
		next := e.next
		if e.series == series {
			c.unlink(e)
			removed++
		}
		e = next
	}
	for key, s := range c.inflight {
		if s == series {
			c.group.Forget(key)
		}
	}
	c.resized()
	return removed
}

// Generation returns the invalidation counter of series
func (c *LRU[V]) Generation(series string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[series]
}

// putIfCurrent stores v only when series has not been invalidated since gen
func (c *LRU[V]) putIfCurrent(key, series string, v V, gen uint64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[series] != gen {
		return false, nil
	}
	if err := c.put(key, series, v); err != nil {
		return false, err
	}
	return true, nil
}

// Stats returns counters and occupancy
func (c *LRU[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Entries:    len(c.items),
		TotalBytes: c.used,
		Budget:     c.budget,
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
		Rejected:   c.rejected,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Keys returns the cached keys, most recently used first
func (c *LRU[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.items))
	for e := c.head.next; e != c.tail; e = e.next {
		keys = append(keys, e.key)
	}
	return keys
}

// Clear drops every entry. Counters are kept.
func (c *LRU[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry[V])
	c.head.next = c.tail
	c.tail.prev = c.head
	c.used = 0
	c.resized()
}

func (c *LRU[V]) resized() {
	if c.observer != nil {
		c.observer.Resized(len(c.items), c.used)
	}
}

func (c *LRU[V]) addToFront(e *entry[V]) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
	c.items[e.key] = e
	c.used += e.size
}

func (c *LRU[V]) unlink(e *entry[V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev, e.next = nil, nil
	delete(c.items, e.key)
	c.used -= e.size
}

func (c *LRU[V]) moveToFront(e *entry[V]) {
	if c.head.next == e {
		return
	}
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}
