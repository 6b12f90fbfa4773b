// Package readcache provides a read-through TTL cache with LRU capacity
// eviction, request coalescing, and stale serving.
//
// Expired entries are deliberately kept resident until capacity eviction
// pushes them out: when the upstream fetch fails or times out, the most
// recent expired value is served instead of the error. This is the
// last-known-good contract that keeps dashboards readable during tracking
// service outages.
package readcache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultFetchTimeout bounds one upstream fetch when the config does not
// set its own.
const DefaultFetchTimeout = 10 * time.Second

// FetchFunc loads the value for one key from upstream.
type FetchFunc[V any] func(ctx context.Context) (V, error)

// Config configures a Cache.
type Config[V any] struct {
	// Name identifies the bucket in logs and status output.
	Name string

	// TTL is the entry lifetime. Entries older than TTL are refetched on
	// access but retained for stale serving until evicted by capacity.
	TTL time.Duration

	// MaxEntries caps the bucket; the least recently used entry is
	// evicted first, expired or not. Zero means unbounded.
	MaxEntries int

	// FetchTimeout bounds one upstream fetch. Zero takes the default.
	FetchTimeout time.Duration

	// Clone deep-copies values crossing the cache boundary. When nil,
	// values are copied by assignment, which is only safe for types
	// without reference fields.
	Clone func(V) V

	// OnEvict is called with each key removed by capacity eviction.
	// It runs outside the cache lock. Invalidate and Flush do not
	// trigger it.
	OnEvict func(key string)

	Logger *zap.Logger
}

// Status is one bucket's runtime snapshot.
type Status struct {
	Name          string     `json:"name"`
	TTLSeconds    float64    `json:"ttl_seconds"`
	MaxEntries    int        `json:"max_entries"`
	Entries       int        `json:"entries"`
	Hits          int64      `json:"hits"`
	Misses        int64      `json:"misses"`
	StaleServes   int64      `json:"stale_serves"`
	Evictions     int64      `json:"evictions"`
	LastRefreshAt *time.Time `json:"last_refresh_at"`
}

type entry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
	expiresAt  time.Time
}

// Cache is a read-through TTL+LRU cache for one bucket of keys.
//
// All values entering or leaving the cache pass through the clone
// function, so callers can mutate what they receive without corrupting
// cached state.
type Cache[V any] struct {
	name         string
	logger       *zap.Logger
	clone        func(V) V
	onEvict      func(string)
	fetchTimeout time.Duration
	group        singleflight.Group

	mu            sync.Mutex
	ttl           time.Duration
	maxEntries    int
	entries       map[string]*list.Element
	order         *list.List
	now           func() time.Time
	hits          int64
	misses        int64
	staleServes   int64
	evictions     int64
	lastRefreshAt *time.Time
}

// New creates a cache bucket.
func New[V any](cfg Config[V]) *Cache[V] {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clone := cfg.Clone
	if clone == nil {
		clone = func(v V) V { return v }
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	return &Cache[V]{
		name:         cfg.Name,
		logger:       logger,
		clone:        clone,
		onEvict:      cfg.OnEvict,
		fetchTimeout: fetchTimeout,
		ttl:          cfg.TTL,
		maxEntries:   cfg.MaxEntries,
		entries:      make(map[string]*list.Element),
		order:        list.New(),
		now:          time.Now,
	}
}

// GetOrFetch returns the cached value for key, fetching it when absent or
// expired. Concurrent calls for the same uncached key coalesce into a
// single upstream fetch.
//
// When the fetch fails or ctx expires and a stale entry exists, the stale
// value is returned with a nil error.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key string, fetch FetchFunc[V]) (V, error) {
	c.mu.Lock()
	if v, ok := c.freshLocked(key); ok {
		c.hits++
		c.mu.Unlock()
		return v, nil
	}
	c.misses++
	c.mu.Unlock()

	ch := c.group.DoChan(key, func() (any, error) {
		// Another caller may have completed the fetch between the miss
		// and this flight starting.
		c.mu.Lock()
		if v, ok := c.freshLocked(key); ok {
			c.mu.Unlock()
			return v, nil
		}
		c.mu.Unlock()

		// The fetch is shared across callers, so it must not die with the
		// first caller's context.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		v, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		return c.clone(v), nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			if stale, ok := c.stale(key); ok {
				c.logger.Warn("upstream fetch failed, serving stale entry",
					zap.String("bucket", c.name),
					zap.String("key", key),
					zap.Error(res.Err))
				return stale, nil
			}
			var zero V
			return zero, fmt.Errorf("fetch %s %q: %w", c.name, key, res.Err)
		}
		v, ok := res.Val.(V)
		if !ok {
			var zero V
			return zero, fmt.Errorf("fetch %s %q: unexpected value type %T", c.name, key, res.Val)
		}
		return c.clone(v), nil

	case <-ctx.Done():
		if stale, ok := c.stale(key); ok {
			c.logger.Warn("upstream fetch timed out, serving stale entry",
				zap.String("bucket", c.name),
				zap.String("key", key),
				zap.Error(ctx.Err()))
			return stale, nil
		}
		var zero V
		return zero, fmt.Errorf("fetch %s %q: %w", c.name, key, ctx.Err())
	}
}

// freshLocked returns an unexpired entry, refreshing its recency.
func (c *Cache[V]) freshLocked(key string) (V, bool) {
	el, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	e := el.Value.(*entry[V])
	if c.now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return c.clone(e.value), true
}

// stale returns an entry regardless of expiry, refreshing its recency and
// counting the stale serve.
func (c *Cache[V]) stale(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	c.staleServes++
	e := el.Value.(*entry[V])
	return c.clone(e.value), true
}

// Get returns a fresh cached value without fetching.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.freshLocked(key)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

// Set stores a cloned copy of value under key with a fresh TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.notifyEvicted(c.set(key, value))
}

func (c *Cache[V]) set(key string, value V) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var evicted []string
	now := c.now().UTC()
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[V])
		e.value = c.clone(value)
		e.insertedAt = now
		e.expiresAt = now.Add(c.ttl)
		c.order.MoveToFront(el)
	} else {
		el := c.order.PushFront(&entry[V]{
			key:        key,
			value:      c.clone(value),
			insertedAt: now,
			expiresAt:  now.Add(c.ttl),
		})
		c.entries[key] = el
		evicted = c.evictLocked()
	}
	t := now
	c.lastRefreshAt = &t
	return evicted
}

// evictLocked removes least recently used entries until within capacity
// and returns the evicted keys.
func (c *Cache[V]) evictLocked() []string {
	if c.maxEntries <= 0 {
		return nil
	}
	var evicted []string
	for len(c.entries) > c.maxEntries {
		back := c.order.Back()
		if back == nil {
			break
		}
		e := back.Value.(*entry[V])
		c.order.Remove(back)
		delete(c.entries, e.key)
		c.evictions++
		evicted = append(evicted, e.key)
		c.logger.Debug("evicted cache entry",
			zap.String("bucket", c.name),
			zap.String("key", e.key))
	}
	return evicted
}

func (c *Cache[V]) notifyEvicted(keys []string) {
	if c.onEvict == nil {
		return
	}
	for _, key := range keys {
		c.onEvict(key)
	}
}

// Invalidate removes one entry, reporting whether it existed.
func (c *Cache[V]) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.entries, key)
	return true
}

// InvalidateMatching removes every entry whose key satisfies match and
// returns the number removed.
func (c *Cache[V]) InvalidateMatching(match func(key string) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry[V])
		if match(e.key) {
			c.order.Remove(el)
			delete(c.entries, e.key)
			removed++
		}
		el = next
	}
	return removed
}

// Flush clears the bucket and returns the number of entries removed.
func (c *Cache[V]) Flush() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	return n
}

// Len returns the current entry count, expired entries included.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Keys returns the cached keys in most recently used order.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for el := c.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry[V]).key)
	}
	return out
}

// TTL returns the current entry lifetime.
func (c *Cache[V]) TTL() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl
}

// SetTTL changes the lifetime applied to subsequent writes. Existing
// entries keep the expiry they were stored with.
func (c *Cache[V]) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
}

// MaxEntries returns the current capacity cap.
func (c *Cache[V]) MaxEntries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxEntries
}

// SetMaxEntries changes the capacity cap, evicting immediately when the
// bucket is over the new cap.
func (c *Cache[V]) SetMaxEntries(n int) {
	c.mu.Lock()
	c.maxEntries = n
	evicted := c.evictLocked()
	c.mu.Unlock()
	c.notifyEvicted(evicted)
}

// Status returns the bucket's runtime counters.
func (c *Cache[V]) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Name:          c.name,
		TTLSeconds:    c.ttl.Seconds(),
		MaxEntries:    c.maxEntries,
		Entries:       len(c.entries),
		Hits:          c.hits,
		Misses:        c.misses,
		StaleServes:   c.staleServes,
		Evictions:     c.evictions,
		LastRefreshAt: c.lastRefreshAt,
	}
}
