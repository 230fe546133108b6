// Package cache provides the response stores backing the chat pipeline:
// a bounded in-process LRU and a Redis-backed store for multi-instance
// deployments.
package cache

import (
	"container/list"
	"context"
	"sync"

	"github.com/chattyhq/chat-engine/pipeline"
)

type lruEntry struct {
	key     string
	value   pipeline.ChatResponse
	element *list.Element
}

// LRU is a fixed-capacity least-recently-used response store. All
// operations take the same mutex: a Set racing a capacity eviction must
// never corrupt the recency order or lose an entry.
type LRU struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*lruEntry
	order    *list.List
}

// NewLRU creates an LRU store. Capacity must be positive; non-positive
// values fall back to 500 entries.
func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 500
	}
	return &LRU{
		capacity: capacity,
		items:    make(map[string]*lruEntry, capacity),
		order:    list.New(),
	}
}

// Get returns the stored response and promotes the entry to most recently
// used. Absence is a normal outcome, not a failure.
func (c *LRU) Get(_ context.Context, key string) (pipeline.ChatResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.items[key]
	if !ok {
		return pipeline.ChatResponse{}, false
	}
	c.order.MoveToFront(ent.element)
	return ent.value.Clone(), true
}

// Set stores a deep copy of the response. An existing key is updated and
// promoted; a new key evicts the single oldest entry once capacity is
// exceeded.
func (c *LRU) Set(_ context.Context, key string, value pipeline.ChatResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.items[key]; ok {
		ent.value = value.Clone()
		c.order.MoveToFront(ent.element)
		return
	}

	if len(c.items) >= c.capacity {
		c.evictOldest()
	}

	elem := c.order.PushFront(key)
	c.items[key] = &lruEntry{key: key, value: value.Clone(), element: elem}
}

// Clear empties the store.
func (c *LRU) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*lruEntry, c.capacity)
	c.order.Init()
}

// Len reports the current number of entries.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *LRU) evictOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	key := elem.Value.(string)
	if ent, ok := c.items[key]; ok {
		c.order.Remove(ent.element)
		delete(c.items, ent.key)
	}
}

var _ pipeline.ResponseCache = (*LRU)(nil)
