// ABOUTME: Thread-safe TTL cache mapping idempotency keys to the agent ids they created.
// ABOUTME: Lets clients retry registration without creating duplicate agents.

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

const (
	// DefaultTTL is how long a key is remembered after it was claimed.
	DefaultTTL = 10 * time.Minute
	// DefaultMaxSize caps the number of remembered keys.
	DefaultMaxSize = 10000
)

type cacheEntry struct {
	value   string
	claimed time.Time
	element *list.Element
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock sets the time source for expiry and the cleanup ticker.
func WithClock(c clock.WithTicker) Option {
	return func(cache *Cache) { cache.clock = c }
}

// Cache remembers which value each key produced, for at most ttl and at most
// maxSize keys. The oldest key is evicted first when full.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   *list.List // keys, oldest claim at front
	ttl     time.Duration
	maxSize int
	clock   clock.WithTicker

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts its background expiry loop. Non-positive
// arguments take the defaults.
func New(ttl time.Duration, maxSize int, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		clock:   clock.RealClock{},
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.cleanup()
	return c
}

// Lookup returns the live value for key.
func (c *Cache) Lookup(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.expiredLocked(e) {
		return "", false
	}
	return e.value, true
}

// Claim returns the live value for key with hit=true, or runs create and
// stores its result. create runs with the cache locked, so concurrent claims
// of one key run it at most once. A failed create stores nothing.
func (c *Cache) Claim(key string, create func() (string, error)) (value string, hit bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && !c.expiredLocked(e) {
		return e.value, true, nil
	}

	value, err = create()
	if err != nil {
		return "", false, err
	}
	c.storeLocked(key, value)
	return value, false, nil
}

// Forget drops key so the next Claim creates again.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.order.Remove(e.element)
		delete(c.entries, key)
	}
}

// Len returns the number of remembered keys, expired ones included until the
// next cleanup.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) expiredLocked(e *cacheEntry) bool {
	return c.clock.Since(e.claimed) >= c.ttl
}

func (c *Cache) storeLocked(key, value string) {
	now := c.clock.Now()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.claimed = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.order.Remove(front)
			delete(c.entries, front.Value.(string))
		}
	}

	c.entries[key] = &cacheEntry{
		value:   value,
		claimed: now,
		element: c.order.PushBack(key),
	}
}

func (c *Cache) cleanup() {
	ticker := c.clock.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

// removeExpired walks from the oldest claim and stops at the first live one.
func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key := front.Value.(string)
		if !c.expiredLocked(c.entries[key]) {
			return
		}
		c.order.Remove(front)
		delete(c.entries, key)
	}
}

// Close stops the background cleanup goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
