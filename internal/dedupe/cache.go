// ABOUTME: TTL-bounded cache for deduplicating inbound platform messages.
// ABOUTME: Keeps channel adapters idempotent when a platform redelivers events.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// record is one seen key in insertion order (oldest at the front).
type record struct {
	key    string
	seenAt time.Time
}

// Cache tracks recently seen message keys. Entries expire after the TTL and
// the cache never holds more than maxSize entries; the oldest entry is
// evicted to make room. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	byKey   map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int

	now    func() time.Time
	done   chan struct{}
	closed bool
}

// New creates a dedupe cache. A background goroutine sweeps expired entries
// once a minute; Close stops it.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		byKey:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Check reports whether the key was seen within the TTL.
func (c *Cache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.byKey[key]
	if !ok {
		return false
	}
	return c.now().Sub(elem.Value.(*record).seenAt) < c.ttl
}

// Mark records the key as seen, refreshing it if already present.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

// CheckAndMark atomically checks the key and marks it when new or expired.
// Returns true for a duplicate. Using this instead of Check+Mark avoids the
// race where two deliveries of the same message both pass Check.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.byKey[key]; ok && c.now().Sub(elem.Value.(*record).seenAt) < c.ttl {
		return true
	}
	c.markLocked(key)
	return false
}

func (c *Cache) markLocked(key string) {
	now := c.now()

	if elem, ok := c.byKey[key]; ok {
		elem.Value.(*record).seenAt = now
		c.order.MoveToBack(elem)
		return
	}

	if len(c.byKey) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			delete(c.byKey, front.Value.(*record).key)
			c.order.Remove(front)
		}
	}

	c.byKey[key] = c.order.PushBack(&record{key: key, seenAt: now})
}

// sweepLoop periodically drops expired entries so long-idle keys do not pin
// memory between Marks.
func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.ttl)
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		rec := elem.Value.(*record)
		if rec.seenAt.After(cutoff) {
			// Insertion order means everything behind this entry is newer.
			break
		}
		delete(c.byKey, rec.key)
		c.order.Remove(elem)
		elem = next
	}
}

// Len reports the number of retained keys.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKey)
}

// Close stops the background sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
