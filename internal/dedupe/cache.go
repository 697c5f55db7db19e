// ABOUTME: Thread-safe TTL cache of chat request IDs.
// ABOUTME: The gateway claims each request ID once so a replayed request is rejected.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults used when New is given zero values.
const (
	DefaultTTL     = 5 * time.Minute
	DefaultMaxSize = 10000
)

// claim stores when an ID was claimed and its place in the eviction order.
type claim struct {
	at      time.Time
	element *list.Element
}

// Cache remembers request IDs for a TTL, bounded by maxSize. The oldest
// claim is evicted first when the cache is full.
type Cache struct {
	mu      sync.Mutex
	claims  map[string]*claim
	order   *list.List // IDs in claim order (oldest at front)
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache and starts its background sweeper.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		claims:  make(map[string]*claim),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop(min(ttl, time.Minute))
	return c
}

// Claim records id and reports true when it was not claimed within the
// TTL. A false result means the request is a replay.
func (c *Cache) Claim(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if cl, ok := c.claims[id]; ok {
		if now.Sub(cl.at) < c.ttl {
			return false
		}
		cl.at = now
		c.order.MoveToBack(cl.element)
		return true
	}

	if len(c.claims) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.claims[id] = &claim{at: now, element: c.order.PushBack(id)}
	return true
}

// Contains reports whether id is claimed and not expired.
func (c *Cache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, ok := c.claims[id]
	return ok && c.now().Sub(cl.at) < c.ttl
}

// Release forgets id so it can be claimed again. The gateway releases IDs
// of requests it rejected before doing any work.
func (c *Cache) Release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.claims[id]; ok {
		c.order.Remove(cl.element)
		delete(c.claims, id)
	}
}

// Len returns the number of stored claims, expired ones included until the
// next sweep.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claims)
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.claims, id)
}

func (c *Cache) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
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

// sweep removes expired claims. Claims are ordered by time, so it stops
// at the first live one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for e := c.order.Front(); e != nil; {
		next := e.Next()
		id, _ := e.Value.(string)
		cl := c.claims[id]
		if now.Sub(cl.at) < c.ttl {
			return
		}
		c.order.Remove(e)
		delete(c.claims, id)
		e = next
	}
}

// Close stops the sweeper. It is safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
