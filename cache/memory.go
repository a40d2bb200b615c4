package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryLevel is the in-process fast level: an LRU over cache entries with
// per-entry expiry. Capacity is counted in entries, payloads are small
// serialized results.
type MemoryLevel struct {
	mu        sync.Mutex
	capacity  int
	items     map[string]*list.Element
	evictList *list.List
	ttl       time.Duration

	hits   atomic.Int64
	misses atomic.Int64

	// now is swappable for tests.
	now func() time.Time
}

type memoryEntry struct {
	key      string
	value    []byte
	expireAt time.Time
}

// NewMemoryLevel creates a fast level with the given entry capacity and
// default TTL.
func NewMemoryLevel(capacity int, defaultTTL time.Duration) *MemoryLevel {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryLevel{
		capacity:  capacity,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
		ttl:       defaultTTL,
		now:       time.Now,
	}
}

// Name implements Level.
func (c *MemoryLevel) Name() string { return "fast" }

// Get returns the cached payload or ErrMiss. Expired entries are removed on
// access.
func (c *MemoryLevel) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, ErrMiss
	}

	e := ent.Value.(*memoryEntry)
	if c.now().After(e.expireAt) {
		c.removeElement(ent)
		c.misses.Add(1)
		return nil, ErrMiss
	}

	c.hits.Add(1)
	c.evictList.MoveToFront(ent)
	return e.value, nil
}

// Set stores the payload.
func (c *MemoryLevel) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	expireAt := c.now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.evictList.MoveToFront(ent)
		e := ent.Value.(*memoryEntry)
		e.value = data
		e.expireAt = expireAt
		return nil
	}

	ent := &memoryEntry{key: key, value: data, expireAt: expireAt}
	c.items[key] = c.evictList.PushFront(ent)

	for c.evictList.Len() > c.capacity {
		back := c.evictList.Back()
		if back == nil {
			break
		}
		c.removeElement(back)
	}
	return nil
}

// Delete removes the entry.
func (c *MemoryLevel) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		c.removeElement(ent)
	}
	return nil
}

// Close implements Level.
func (c *MemoryLevel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.evictList.Init()
	return nil
}

// Stats returns hit and miss counts.
func (c *MemoryLevel) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the current entry count.
func (c *MemoryLevel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

func (c *MemoryLevel) removeElement(ent *list.Element) {
	c.evictList.Remove(ent)
	delete(c.items, ent.Value.(*memoryEntry).key)
}
