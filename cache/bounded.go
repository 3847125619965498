package cache

import (
	"image"
	"sync"

	"github.com/golang/glog"
)

// entry keeps the image and its access count together so that the two can
// never disagree about which keys are present
type entry struct {
	img  image.Image
	hits uint64
	seq  uint64
}

// Stats is a point in time summary of the cache
type Stats struct {
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Clears    uint64 `json:"clears"`
}

// Option configures a Cache
type Option func(*Cache)

// WithReclaimHint sets a function that is called after an entry has been
// evicted. It runs outside of the cache lock.
func WithReclaimHint(fn func()) Option {
	return func(c *Cache) {
		c.reclaim = fn
	}
}

// Cache is a fixed capacity, frequency evicted store of decoded images
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	capacity int
	seq      uint64
	reclaim  func()

	hits      uint64
	misses    uint64
	evictions uint64
	clears    uint64
}

// New creates a cache that holds at most capacity images. A capacity below 1
// is treated as 1.
func New(capacity int, opts ...Option) *Cache {
	if capacity < 1 {
		capacity = 1
	}

	c := &Cache{
		entries:  make(map[string]*entry, capacity),
		capacity: capacity,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Put stores img under key. Nothing happens if either is absent or if the key
// is already cached, the first image stored for a key is kept.
func (c *Cache) Put(key string, img image.Image) {
	if key == "" || img == nil {
		return
	}

	var evicted bool

	c.mu.Lock()
	if _, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return
	}

	if len(c.entries) >= c.capacity {
		if victim, ok := c.candidate(); ok {
			delete(c.entries, victim)
			c.evictions++
			evicted = true

			if glog.V(2) {
				glog.Infof("evicted %s to make room for %s", victim, key)
			}
		}
	}

	c.seq++
	c.entries[key] = &entry{img: img, hits: 1, seq: c.seq}
	c.mu.Unlock()

	if evicted && c.reclaim != nil {
		c.reclaim()
	}
}

// Get returns the image stored under key. A hit counts as an access and so
// affects which entry is evicted next.
func (c *Cache) Get(key string) (image.Image, bool) {
	if key == "" {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	e.hits++
	c.hits++

	if glog.V(3) {
		glog.Infof("cache hit %s accessed %d", key, e.hits)
	}

	return e.img, true
}

// Clear removes every entry and its access count
func (c *Cache) Clear() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]*entry, c.capacity)
	c.clears++
	c.mu.Unlock()

	if glog.V(2) {
		glog.Infof("cache cleared, %d entries dropped", n)
	}
}

// EvictionCandidate returns the key that would be evicted if an insert
// happened now
func (c *Cache) EvictionCandidate() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.candidate()
}

// candidate finds the least accessed key, the oldest insert wins a tie.
// c.mu must be held.
func (c *Cache) candidate() (string, bool) {
	var (
		key  string
		best *entry
	)

	for k, e := range c.entries {
		if best == nil ||
			e.hits < best.hits ||
			(e.hits == best.hits && e.seq < best.seq) {
			key = k
			best = e
		}
	}

	return key, best != nil
}

// Hits returns the access count for key
func (c *Cache) Hits(key string) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}

	return e.hits, true
}

// Len returns the number of cached images
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Capacity returns the maximum number of cached images
func (c *Cache) Capacity() int {
	return c.capacity
}

// Stats returns counters for the lifetime of the cache
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Size:      len(c.entries),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Clears:    c.clears,
	}
}
