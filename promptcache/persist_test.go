package promptcache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDumpLoadRoundTrip verifies that a dumped cache can be restored into a
// fresh one with values, recency order and insertion times intact.
func TestDumpLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prompts.json")

	src := New()
	defer src.Stop()
	for _, key := range []string{"alpha", "beta", "gamma"} {
		require.NoError(t, src.Set(ctx, key, json.RawMessage(`{"key":"`+key+`"}`)))
	}
	// Touch alpha so it is the most recently used at dump time.
	_, found := src.Get(ctx, "alpha")
	require.True(t, found)

	require.NoError(t, src.Dump(path))

	var raw struct {
		Version int `json:"version"`
		Entries []struct {
			Key string `json:"key"`
		} `json:"entries"`
		Metrics Metrics `json:"metrics"`
	}
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, 1, raw.Version)
	require.Len(t, raw.Entries, 3)
	assert.Equal(t, "alpha", raw.Entries[0].Key, "dump should list most recently used first")
	assert.Equal(t, int64(1), raw.Metrics.Hits)

	dst := New()
	defer dst.Stop()
	loaded, err := dst.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded)
	assert.Equal(t, 3, dst.Len())

	for _, key := range []string{"alpha", "beta", "gamma"} {
		got, found := dst.Get(ctx, key)
		require.True(t, found, "expected %s after load", key)
		assert.JSONEq(t, `{"key":"`+key+`"}`, string(got))
	}

	// Recency order survived: writing two more entries into a cache capped
	// at 3 must evict beta and gamma before alpha.
	capped := New(WithMaxSize(3))
	defer capped.Stop()
	_, err = capped.Load(path)
	require.NoError(t, err)
	require.NoError(t, capped.Set(ctx, "delta", json.RawMessage(`{"key":"delta"}`)))
	require.NoError(t, capped.Set(ctx, "epsilon", json.RawMessage(`{"key":"epsilon"}`)))
	_, found = capped.Get(ctx, "alpha")
	assert.True(t, found, "most recently used entry should outlive older ones")
	_, found = capped.Get(ctx, "gamma")
	assert.False(t, found)
}

// TestLoadKeepsInsertionTimes verifies that restored entries carry their
// original insertion times instead of counting as freshly written.
func TestLoadKeepsInsertionTimes(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prompts.json")

	src := New()
	defer src.Stop()
	require.NoError(t, src.Set(ctx, "acme/greeting", json.RawMessage(`{"rev":1}`)))

	src.mu.Lock()
	inserted := src.entries["acme/greeting"].Value.(*entry).insertedAt
	src.mu.Unlock()

	require.NoError(t, src.Dump(path))

	dst := New()
	defer dst.Stop()
	loaded, err := dst.Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, loaded)

	dst.mu.Lock()
	restored := dst.entries["acme/greeting"].Value.(*entry).insertedAt
	dst.mu.Unlock()
	assert.WithinDuration(t, inserted, restored, 0)
}

// TestLoadMissingFile verifies that loading a nonexistent dump is not an
// error; the cache simply starts empty.
func TestLoadMissingFile(t *testing.T) {
	c := New()
	defer c.Stop()

	loaded, err := c.Load(filepath.Join(t.TempDir(), "no-such-dump.json"))
	assert.NoError(t, err)
	assert.Zero(t, loaded)
	assert.Equal(t, 0, c.Len())
}

// TestLoadIgnoresCorruptOrForeignDumps verifies that unparseable files and
// dumps written with a different format version load nothing.
func TestLoadIgnoresCorruptOrForeignDumps(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "corrupt", data: `{"version": 1, "entries": [`},
		{name: "wrong version", data: `{"version": 99, "entries": [{"key": "a", "value": {}, "inserted_at": "2026-01-01T00:00:00Z"}]}`},
		{name: "empty", data: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "prompts.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.data), 0o644))

			c := New()
			defer c.Stop()
			loaded, err := c.Load(path)
			assert.NoError(t, err)
			assert.Zero(t, loaded)
			assert.Equal(t, 0, c.Len())
		})
	}
}

// TestLoadTruncatesToMaxSize verifies that a dump larger than the target
// cache keeps only the most recently used entries.
func TestLoadTruncatesToMaxSize(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prompts.json")

	src := New()
	defer src.Stop()
	for _, key := range []string{"one", "two", "three", "four", "five"} {
		require.NoError(t, src.Set(ctx, key, json.RawMessage(`{"key":"`+key+`"}`)))
	}
	require.NoError(t, src.Dump(path))

	dst := New(WithMaxSize(2))
	defer dst.Stop()
	loaded, err := dst.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	assert.Equal(t, 2, dst.Len())

	// The last two writes were the most recently used.
	for _, key := range []string{"four", "five"} {
		_, found := dst.Get(ctx, key)
		assert.True(t, found, "expected %s to survive truncation", key)
	}
	_, found := dst.Get(ctx, "one")
	assert.False(t, found)
}

// TestDumpCreatesParentDirectories verifies that Dump builds the directory
// tree for nested paths.
func TestDumpCreatesParentDirectories(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "langsmith", "prompts.json")

	c := New()
	defer c.Stop()
	require.NoError(t, c.Set(ctx, "acme/greeting", json.RawMessage(`{"rev":1}`)))
	require.NoError(t, c.Dump(path))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}

// TestDumpLoadDisabledCache verifies that a disabled cache neither writes nor
// reads dumps.
func TestDumpLoadDisabledCache(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.json")

	populated := New()
	defer populated.Stop()
	require.NoError(t, populated.Set(ctx, "acme/greeting", json.RawMessage(`{"rev":1}`)))
	require.NoError(t, populated.Dump(path))

	disabled := New(WithMaxSize(0))
	defer disabled.Stop()

	loaded, err := disabled.Load(path)
	assert.NoError(t, err)
	assert.Zero(t, loaded)

	nowhere := filepath.Join(dir, "never-written.json")
	require.NoError(t, disabled.Dump(nowhere))
	_, err = os.Stat(nowhere)
	assert.True(t, os.IsNotExist(err), "disabled cache should not write dumps")
}

// TestLoadRestartsRefreshLoop verifies that restoring stale entries arms the
// refresh loop so they are renewed promptly.
func TestLoadRestartsRefreshLoop(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prompts.json")

	dump := dumpFile{
		Version: dumpVersion,
		Entries: []dumpEntry{{
			Key:        "acme/greeting",
			Value:      json.RawMessage(`{"rev":1}`),
			InsertedAt: time.Now().Add(-time.Hour),
		}},
	}
	data, err := json.Marshal(dump)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	refreshed := make(chan struct{}, 1)
	c := New(
		WithTTL(time.Minute),
		WithRefreshInterval(10*time.Millisecond),
		WithRefreshFunc(func(ctx context.Context, key string) (json.RawMessage, error) {
			select {
			case refreshed <- struct{}{}:
			default:
			}
			return json.RawMessage(`{"rev":2}`), nil
		}),
	)
	defer c.Stop()

	loaded, err := c.Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, loaded)

	select {
	case <-refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("restored stale entry was never refreshed")
	}

	require.Eventually(t, func() bool {
		got, found := c.Get(ctx, "acme/greeting")
		return found && string(got) == `{"rev":2}`
	}, 2*time.Second, 5*time.Millisecond)
}
