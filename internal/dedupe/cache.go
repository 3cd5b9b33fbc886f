// ABOUTME: Thread-safe TTL window of claimed keys, bounded in size.
// ABOUTME: Backs the single-use check for CAPTCHA response tokens.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type claim struct {
	at   time.Time
	elem *list.Element
}

// Cache remembers claimed keys for a TTL. When full, the oldest claim is
// evicted first. Insertion order is kept in a linked list so eviction is O(1).
type Cache struct {
	mu       sync.Mutex
	claims   map[string]*claim
	order    *list.List // oldest at front
	ttl      time.Duration
	capacity int
	now      func() time.Time
	sweep    time.Duration

	done   chan struct{}
	closed bool
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithSweepInterval starts a background sweep of expired claims every d.
// Without it expired claims are only dropped lazily or on eviction.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Cache) { c.sweep = d }
}

// New creates a Cache holding at most capacity claims for ttl each.
func New(ttl time.Duration, capacity int, opts ...Option) *Cache {
	if capacity <= 0 {
		capacity = 1
	}
	c := &Cache{
		claims:   make(map[string]*claim),
		order:    list.New(),
		ttl:      ttl,
		capacity: capacity,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sweep > 0 {
		go c.sweepEvery(c.sweep)
	}
	return c
}

// Claim records key and reports whether this caller is the first to claim
// it within the TTL. Check and record happen under one lock.
func (c *Cache) Claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if cl, ok := c.claims[key]; ok {
		if now.Sub(cl.at) < c.ttl {
			return false
		}
		c.removeLocked(key, cl)
	}

	if len(c.claims) >= c.capacity {
		c.evictOldestLocked()
	}

	c.claims[key] = &claim{at: now, elem: c.order.PushBack(key)}
	return true
}

// Claimed reports whether key holds an unexpired claim.
func (c *Cache) Claimed(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, ok := c.claims[key]
	return ok && c.now().Sub(cl.at) < c.ttl
}

// Release forgets key so it can be claimed again.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.claims[key]; ok {
		c.removeLocked(key, cl)
	}
}

// Len returns the number of stored claims, expired ones included until swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claims)
}

func (c *Cache) removeLocked(key string, cl *claim) {
	c.order.Remove(cl.elem)
	delete(c.claims, key)
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.claims, key)
}

// Sweep drops expired claims. Claims expire in insertion order, so the walk
// stops at the first live one.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for e := c.order.Front(); e != nil; {
		key, _ := e.Value.(string)
		cl := c.claims[key]
		if now.Sub(cl.at) < c.ttl {
			return
		}
		next := e.Next()
		c.removeLocked(key, cl)
		e = next
	}
}

func (c *Cache) sweepEvery(d time.Duration) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.done:
			return
		}
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
