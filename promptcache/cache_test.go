package promptcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCacheGetSetRoundTrip verifies the basic store contract: a key misses
// until Set and hits afterwards with the stored manifest.
func TestCacheGetSetRoundTrip(t *testing.T) {
	c := New()
	defer c.Stop()
	ctx := context.Background()

	_, found := c.Get(ctx, "acme/greeting:latest")
	assert.False(t, found)

	manifest := json.RawMessage(`{"id":["langsmith","prompts","chat"],"kwargs":{"messages":[]}}`)
	require.NoError(t, c.Set(ctx, "acme/greeting:latest", manifest))

	got, found := c.Get(ctx, "acme/greeting:latest")
	require.True(t, found)
	assert.JSONEq(t, string(manifest), string(got))
	assert.Equal(t, 1, c.Len())
}

// TestCacheReplacesExistingKey verifies that Set on a known key replaces the
// value in place instead of growing the cache.
func TestCacheReplacesExistingKey(t *testing.T) {
	c := New()
	defer c.Stop()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "acme/greeting", json.RawMessage(`{"rev":1}`)))
	require.NoError(t, c.Set(ctx, "acme/greeting", json.RawMessage(`{"rev":2}`)))

	got, found := c.Get(ctx, "acme/greeting")
	require.True(t, found)
	assert.JSONEq(t, `{"rev":2}`, string(got))
	assert.Equal(t, 1, c.Len())
}

// TestCacheEvictsLeastRecentlyUsed verifies that inserts beyond maxSize evict
// the entry that has gone longest without a lookup, and that Get refreshes an
// entry's position.
func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(WithMaxSize(3))
	defer c.Stop()
	ctx := context.Background()

	for _, key := range []string{"alpha", "beta", "gamma"} {
		require.NoError(t, c.Set(ctx, key, json.RawMessage(`{"key":"`+key+`"}`)))
	}

	// Touch alpha so beta becomes the eviction candidate.
	_, found := c.Get(ctx, "alpha")
	require.True(t, found)

	require.NoError(t, c.Set(ctx, "delta", json.RawMessage(`{"key":"delta"}`)))
	assert.Equal(t, 3, c.Len())

	_, found = c.Get(ctx, "beta")
	assert.False(t, found, "least recently used entry should have been evicted")
	for _, key := range []string{"alpha", "gamma", "delta"} {
		_, found := c.Get(ctx, key)
		assert.True(t, found, "expected %s to survive eviction", key)
	}
}

// TestCacheDisabled verifies that a zero maxSize turns the cache into a
// no-op: Set succeeds without storing and Get always misses.
func TestCacheDisabled(t *testing.T) {
	c := New(WithMaxSize(0))
	defer c.Stop()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "acme/greeting", json.RawMessage(`{"rev":1}`)))

	_, found := c.Get(ctx, "acme/greeting")
	assert.False(t, found)
	assert.Equal(t, 0, c.Len())
}

// TestCacheInvalidate verifies that Invalidate removes exactly the named
// entry and tolerates unknown keys.
func TestCacheInvalidate(t *testing.T) {
	c := New()
	defer c.Stop()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "acme/greeting", json.RawMessage(`{"rev":1}`)))
	require.NoError(t, c.Set(ctx, "acme/farewell", json.RawMessage(`{"rev":1}`)))

	c.Invalidate("acme/greeting")
	c.Invalidate("acme/never-cached")

	_, found := c.Get(ctx, "acme/greeting")
	assert.False(t, found)
	_, found = c.Get(ctx, "acme/farewell")
	assert.True(t, found)
	assert.Equal(t, 1, c.Len())
}

// TestCacheClear verifies that Clear empties the cache while metrics keep
// their counts.
func TestCacheClear(t *testing.T) {
	c := New()
	defer c.Stop()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "acme/greeting", json.RawMessage(`{"rev":1}`)))
	c.Get(ctx, "acme/greeting")

	c.Clear()
	assert.Equal(t, 0, c.Len())

	_, found := c.Get(ctx, "acme/greeting")
	assert.False(t, found)

	m := c.Metrics()
	assert.Equal(t, int64(1), m.Hits)
	assert.Equal(t, int64(1), m.Misses)
}

// TestCacheMetrics verifies hit and miss accounting and the derived hit rate.
func TestCacheMetrics(t *testing.T) {
	c := New()
	defer c.Stop()
	ctx := context.Background()

	m := c.Metrics()
	assert.Zero(t, m.Hits)
	assert.Zero(t, m.Misses)
	assert.Zero(t, m.HitRate)

	c.Get(ctx, "acme/greeting")
	require.NoError(t, c.Set(ctx, "acme/greeting", json.RawMessage(`{"rev":1}`)))
	c.Get(ctx, "acme/greeting")

	m = c.Metrics()
	assert.Equal(t, int64(1), m.Hits)
	assert.Equal(t, int64(1), m.Misses)
	assert.Equal(t, 0.5, m.HitRate)
	assert.Equal(t, 1, m.Size)
}

// TestCacheBackgroundRefresh verifies that entries past their TTL are
// re-fetched in the background and subsequent lookups see the new manifest.
func TestCacheBackgroundRefresh(t *testing.T) {
	var fetches int64
	c := New(
		WithTTL(20*time.Millisecond),
		WithRefreshInterval(10*time.Millisecond),
		WithRefreshFunc(func(ctx context.Context, key string) (json.RawMessage, error) {
			n := atomic.AddInt64(&fetches, 1)
			return json.RawMessage(fmt.Sprintf(`{"key":%q,"fetch":%d}`, key, n)), nil
		}),
	)
	defer c.Stop()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "acme/greeting", json.RawMessage(`{"fetch":0}`)))

	require.Eventually(t, func() bool {
		got, found := c.Get(ctx, "acme/greeting")
		return found && string(got) != `{"fetch":0}`
	}, 2*time.Second, 5*time.Millisecond, "stale entry was never refreshed")

	m := c.Metrics()
	assert.GreaterOrEqual(t, m.Refreshes, int64(1))
	assert.Zero(t, m.RefreshErrors)
}

// TestCacheRefreshFailureKeepsStaleValue verifies that a failing re-fetch is
// counted but leaves the cached manifest in place so lookups keep working
// while upstream is down.
func TestCacheRefreshFailureKeepsStaleValue(t *testing.T) {
	c := New(
		WithTTL(20*time.Millisecond),
		WithRefreshInterval(10*time.Millisecond),
		WithRefreshFunc(func(ctx context.Context, key string) (json.RawMessage, error) {
			return nil, errors.New("upstream down")
		}),
	)
	defer c.Stop()
	ctx := context.Background()

	manifest := json.RawMessage(`{"rev":1}`)
	require.NoError(t, c.Set(ctx, "acme/greeting", manifest))

	require.Eventually(t, func() bool {
		return c.Metrics().RefreshErrors >= 1
	}, 2*time.Second, 5*time.Millisecond, "refresh failure was never recorded")

	got, found := c.Get(ctx, "acme/greeting")
	require.True(t, found)
	assert.JSONEq(t, string(manifest), string(got))
	assert.Zero(t, c.Metrics().Refreshes)
}

// TestCacheStaleServedWithoutRefreshFunc verifies that without a refresh
// function the loop never starts and entries past their TTL are served as-is.
func TestCacheStaleServedWithoutRefreshFunc(t *testing.T) {
	c := New(WithTTL(10 * time.Millisecond))
	defer c.Stop()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "acme/greeting", json.RawMessage(`{"rev":1}`)))
	time.Sleep(30 * time.Millisecond)

	got, found := c.Get(ctx, "acme/greeting")
	require.True(t, found)
	assert.JSONEq(t, `{"rev":1}`, string(got))

	c.mu.Lock()
	running := c.loopRunning
	c.mu.Unlock()
	assert.False(t, running)
}

// TestCacheStopHaltsRefreshUntilNextSet verifies that Stop ends the refresh
// loop while keeping entries readable, and that a later Set restarts it.
func TestCacheStopHaltsRefreshUntilNextSet(t *testing.T) {
	var fetches int64
	c := New(
		WithTTL(10*time.Millisecond),
		WithRefreshInterval(10*time.Millisecond),
		WithRefreshFunc(func(ctx context.Context, key string) (json.RawMessage, error) {
			atomic.AddInt64(&fetches, 1)
			return json.RawMessage(`{"rev":2}`), nil
		}),
	)
	defer c.Stop()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "acme/greeting", json.RawMessage(`{"rev":1}`)))
	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&fetches) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	c.Stop()
	time.Sleep(30 * time.Millisecond) // let in-flight re-fetches land
	settled := atomic.LoadInt64(&fetches)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, atomic.LoadInt64(&fetches), "refresh loop kept running after Stop")

	_, found := c.Get(ctx, "acme/greeting")
	assert.True(t, found, "entries should remain readable after Stop")

	require.NoError(t, c.Set(ctx, "acme/farewell", json.RawMessage(`{"rev":1}`)))
	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&fetches) > settled
	}, 2*time.Second, 5*time.Millisecond, "Set should restart the refresh loop")
}
