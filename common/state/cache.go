package state

import (
	"container/list"
	"sync"

	"github.com/dipeo/dipeo/common/execution"
	"github.com/dipeo/dipeo/common/ids"
)

// cache holds the live (non-persisted) execution records. Each entry carries
// its own mutex so concurrent executions never contend; the outer lock only
// guards the map and LRU bookkeeping.
type cache struct {
	mu      sync.Mutex
	maxLive int
	entries map[ids.ExecutionID]*cacheEntry
	order   *list.List // front = most recently used
}

type cacheEntry struct {
	mu    sync.Mutex
	state *execution.State
	elem  *list.Element
}

func newCache(maxLive int) *cache {
	if maxLive <= 0 {
		maxLive = 256
	}
	return &cache{
		maxLive: maxLive,
		entries: make(map[ids.ExecutionID]*cacheEntry),
		order:   list.New(),
	}
}

// put inserts a live record, evicting the least recently used entry when the
// cache is full. Returns the evicted state, if any, so the caller can persist
// it before it disappears.
func (c *cache) put(s *execution.State) *execution.State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[s.ID]; ok {
		entry.mu.Lock()
		entry.state = s
		entry.mu.Unlock()
		c.order.MoveToFront(entry.elem)
		return nil
	}

	var evicted *execution.State
	if len(c.entries) >= c.maxLive {
		back := c.order.Back()
		if back != nil {
			oldID := back.Value.(ids.ExecutionID)
			if old, ok := c.entries[oldID]; ok {
				old.mu.Lock()
				evicted = old.state
				old.mu.Unlock()
				delete(c.entries, oldID)
			}
			c.order.Remove(back)
		}
	}

	entry := &cacheEntry{state: s}
	entry.elem = c.order.PushFront(s.ID)
	c.entries[s.ID] = entry
	return evicted
}

// get returns a snapshot of a live record.
func (c *cache) get(id ids.ExecutionID) (*execution.State, bool) {
	c.mu.Lock()
	entry, ok := c.entries[id]
	if ok {
		c.order.MoveToFront(entry.elem)
	}
	c.mu.Unlock()
	if !ok {
		return nil, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state.Clone(), true
}

// update applies fn under the entry's lock and returns a snapshot of the
// result. Returns false when the execution is not live.
func (c *cache) update(id ids.ExecutionID, fn func(*execution.State)) (*execution.State, bool) {
	c.mu.Lock()
	entry, ok := c.entries[id]
	if ok {
		c.order.MoveToFront(entry.elem)
	}
	c.mu.Unlock()
	if !ok {
		return nil, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	fn(entry.state)
	return entry.state.Clone(), true
}

// evict drops a record from the cache, returning its final snapshot.
func (c *cache) evict(id ids.ExecutionID) (*execution.State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	c.order.Remove(entry.elem)
	delete(c.entries, id)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state, true
}

// live lists snapshots of every cached execution.
func (c *cache) live() []*execution.State {
	c.mu.Lock()
	entries := make([]*cacheEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	c.mu.Unlock()

	out := make([]*execution.State, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		out = append(out, entry.state.Clone())
		entry.mu.Unlock()
	}
	return out
}
