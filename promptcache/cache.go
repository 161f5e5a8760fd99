// Package promptcache caches pulled prompt manifests so hot-path prompt
// lookups stay off the network. The in-memory Cache combines LRU eviction,
// TTL-driven background refresh and optional disk persistence; RedisStore
// offers the same contract backed by Redis for multi-replica deployments.
package promptcache

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Store is the lookup contract the LangSmith client pulls prompts through.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves a cached manifest by key.
	// Returns the manifest and true if found, nil and false otherwise.
	Get(ctx context.Context, key string) (json.RawMessage, bool)

	// Set stores a manifest in the cache.
	// Returns an error if the cache operation fails.
	Set(ctx context.Context, key string, value json.RawMessage) error
}

// RefreshFunc re-fetches the current manifest for a key. The background
// refresh loop calls it for entries past their TTL.
type RefreshFunc func(ctx context.Context, key string) (json.RawMessage, error)

const (
	// DefaultMaxSize bounds the in-memory cache. Prompt manifests are
	// small; a hundred covers most applications.
	DefaultMaxSize = 100

	// DefaultTTL is how long an entry is served before the refresh loop
	// re-fetches it.
	DefaultTTL = 5 * time.Minute

	// refreshTimeout bounds one background re-fetch.
	refreshTimeout = 10 * time.Second
)

type entry struct {
	key        string
	value      json.RawMessage
	insertedAt time.Time

	// refreshing keeps at most one re-fetch in flight per key.
	refreshing bool
}

// Cache is an in-memory prompt cache with LRU eviction and TTL-based
// background refresh. Entries past their TTL keep being served; the
// refresh loop replaces them in the background and keeps the stale value
// when upstream is down. A maxSize of zero disables the cache entirely.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	refresh RefreshFunc

	refreshInterval time.Duration
	loopRunning     bool
	stop            chan struct{}

	entries map[string]*list.Element
	lru     *list.List // front is most recently used

	hits          int64
	misses        int64
	refreshes     int64
	refreshErrors int64
}

// Metrics is a point-in-time snapshot of cache activity.
type Metrics struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Refreshes     int64   `json:"refreshes"`
	RefreshErrors int64   `json:"refresh_errors"`
	HitRate       float64 `json:"hit_rate"`
	Size          int     `json:"size"`
}

// Option customizes a Cache.
type Option func(*Cache)

// WithMaxSize caps the number of cached entries. Zero disables the cache:
// every Get misses and Set, Dump and Load become no-ops.
func WithMaxSize(n int) Option {
	return func(c *Cache) {
		c.maxSize = n
	}
}

// WithTTL sets how long entries are considered fresh. Zero means entries
// never go stale and the refresh loop never runs.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttl = ttl
	}
}

// WithRefreshInterval sets how often the refresh loop scans for stale
// entries. Defaults to the TTL.
func WithRefreshInterval(d time.Duration) Option {
	return func(c *Cache) {
		c.refreshInterval = d
	}
}

// WithRefreshFunc installs the re-fetch used to renew stale entries.
// Without one, stale entries are simply served as-is.
func WithRefreshFunc(f RefreshFunc) Option {
	return func(c *Cache) {
		c.refresh = f
	}
}

// New creates a Cache.
//
// Example usage:
//
//	// Default configuration
//	cache := promptcache.New()
//
//	// Custom configuration
//	cache := promptcache.New(
//	    promptcache.WithMaxSize(500),
//	    promptcache.WithTTL(time.Minute),
//	)
func New(opts ...Option) *Cache {
	c := &Cache{
		maxSize: DefaultMaxSize,
		ttl:     DefaultTTL,
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.refreshInterval <= 0 {
		c.refreshInterval = c.ttl
	}
	return c
}

var _ Store = (*Cache)(nil)

// Get retrieves a manifest. Stale entries are still returned; the refresh
// loop renews them in the background.
func (c *Cache) Get(_ context.Context, key string) (json.RawMessage, bool) {
	if c.maxSize == 0 {
		return nil, false
	}

	c.mu.Lock()
	elem, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	c.lru.MoveToFront(elem)
	value := elem.Value.(*entry).value
	c.mu.Unlock()

	atomic.AddInt64(&c.hits, 1)
	return value, true
}

// Set stores a manifest, evicting least-recently-used entries to stay
// within maxSize, and starts the refresh loop if this cache refreshes.
func (c *Cache) Set(_ context.Context, key string, value json.RawMessage) error {
	if c.maxSize == 0 {
		return nil
	}

	c.mu.Lock()
	c.putLocked(key, value, time.Now())
	c.ensureLoopLocked()
	c.mu.Unlock()
	return nil
}

// putLocked inserts or replaces an entry. Load uses it directly to keep
// restored insertion times.
func (c *Cache) putLocked(key string, value json.RawMessage, insertedAt time.Time) {
	if elem, ok := c.entries[key]; ok {
		e := elem.Value.(*entry)
		e.value = value
		e.insertedAt = insertedAt
		c.lru.MoveToFront(elem)
		return
	}

	for len(c.entries) >= c.maxSize {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.lru.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).key)
	}

	c.entries[key] = c.lru.PushFront(&entry{
		key:        key,
		value:      value,
		insertedAt: insertedAt,
	})
}

// Invalidate removes one entry. Unknown keys are a no-op.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	if elem, ok := c.entries[key]; ok {
		c.lru.Remove(elem)
		delete(c.entries, key)
	}
	c.mu.Unlock()
}

// Clear removes every entry. Metrics carry on counting.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*list.Element)
	c.lru.Init()
	c.mu.Unlock()
}

// ensureLoopLocked starts the refresh loop when refresh is configured.
// Stop halts it; the next Set brings it back.
func (c *Cache) ensureLoopLocked() {
	if c.loopRunning || c.ttl <= 0 || c.refresh == nil {
		return
	}
	c.loopRunning = true
	c.stop = make(chan struct{})
	go c.refreshLoop(c.stop)
}

// Stop halts the background refresh loop. Cached entries remain readable.
func (c *Cache) Stop() {
	c.mu.Lock()
	if c.loopRunning {
		close(c.stop)
		c.loopRunning = false
	}
	c.mu.Unlock()
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Metrics snapshots cache activity counters.
func (c *Cache) Metrics() Metrics {
	m := Metrics{
		Hits:          atomic.LoadInt64(&c.hits),
		Misses:        atomic.LoadInt64(&c.misses),
		Refreshes:     atomic.LoadInt64(&c.refreshes),
		RefreshErrors: atomic.LoadInt64(&c.refreshErrors),
		Size:          c.Len(),
	}
	if total := m.Hits + m.Misses; total > 0 {
		m.HitRate = float64(m.Hits) / float64(total)
	}
	return m
}

func (c *Cache) refreshLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.refreshStale()
		}
	}
}

// refreshStale re-fetches every entry past its TTL, one goroutine per key,
// skipping keys with a re-fetch already in flight.
func (c *Cache) refreshStale() {
	now := time.Now()

	c.mu.Lock()
	var stale []string
	for key, elem := range c.entries {
		e := elem.Value.(*entry)
		if !e.refreshing && now.Sub(e.insertedAt) >= c.ttl {
			e.refreshing = true
			stale = append(stale, key)
		}
	}
	c.mu.Unlock()

	for _, key := range stale {
		go c.refreshKey(key)
	}
}

func (c *Cache) refreshKey(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	value, err := c.refresh(ctx, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		// Evicted while refreshing; nothing to update.
		return
	}
	e := elem.Value.(*entry)
	e.refreshing = false

	if err != nil {
		// Keep serving the stale value until upstream recovers.
		atomic.AddInt64(&c.refreshErrors, 1)
		return
	}
	e.value = value
	e.insertedAt = time.Now()
	atomic.AddInt64(&c.refreshes, 1)
}
