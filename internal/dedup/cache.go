// Package dedup guards the supply chain against re-admitting a path that
// is already outstanding somewhere between discovery and playback.
//
// The cache is a deliberate bounded-memory approximation: membership is a
// set plus a FIFO of capacity K, and inserting past K unconditionally
// evicts the oldest entry whether or not it is still in flight. Under
// sustained load it can under-suppress duplicates, never over-suppress
// for long.
package dedup

import "sync"

// DefaultCapacity bounds the cache when no capacity is configured.
const DefaultCapacity = 1000

// Cache is a bounded toggle set of recently admitted paths.
type Cache struct {
	mu       sync.Mutex
	capacity int
	present  map[string]struct{}
	order    []string
}

// New creates a cache bounded to capacity entries. Non-positive
// capacities fall back to DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		present:  make(map[string]struct{}, capacity),
	}
}

// Toggle flips membership for path. It returns true when path was absent
// and is now admitted, false when path was present and is now released.
// Admitting past capacity evicts the oldest entry.
func (c *Cache) Toggle(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.present[path]; ok {
		delete(c.present, path)
		c.dropOrdered(path)
		return false
	}

	c.present[path] = struct{}{}
	c.order = append(c.order, path)
	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.present, oldest)
	}
	return true
}

// Release removes path if present, without the admit half of Toggle.
// Used when an item leaves the supply chain through eviction rather than
// consumption.
func (c *Cache) Release(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.present[path]; !ok {
		return
	}
	delete(c.present, path)
	c.dropOrdered(path)
}

// Contains reports whether path is currently outstanding.
func (c *Cache) Contains(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.present[path]
	return ok
}

// Len returns the number of outstanding paths.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.present)
}

// Reset clears all entries.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.present = make(map[string]struct{}, c.capacity)
	c.order = c.order[:0]
}

// dropOrdered removes the first occurrence of path from the FIFO. Linear
// scan; the FIFO never exceeds the configured capacity.
func (c *Cache) dropOrdered(path string) {
	for i, candidate := range c.order {
		if candidate == path {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
