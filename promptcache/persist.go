package promptcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// dumpVersion guards the on-disk format. Files with a different version
// are ignored on load.
const dumpVersion = 1

type dumpEntry struct {
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
	InsertedAt time.Time       `json:"inserted_at"`
}

type dumpFile struct {
	Version int         `json:"version"`
	Entries []dumpEntry `json:"entries"`
	Metrics Metrics     `json:"metrics"`
}

// Dump writes the cache contents to path, most recently used first,
// creating parent directories as needed. The write goes through a
// temporary file and a rename so a crash never leaves a torn dump.
func (c *Cache) Dump(path string) error {
	if c.maxSize == 0 {
		return nil
	}

	c.mu.Lock()
	dump := dumpFile{Version: dumpVersion}
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		e := elem.Value.(*entry)
		dump.Entries = append(dump.Entries, dumpEntry{
			Key:        e.key,
			Value:      e.value,
			InsertedAt: e.insertedAt,
		})
	}
	c.mu.Unlock()
	dump.Metrics = c.Metrics()

	data, err := json.Marshal(dump)
	if err != nil {
		return fmt.Errorf("failed to encode prompt cache dump: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create dump directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write prompt cache dump: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize prompt cache dump: %w", err)
	}
	return nil
}

// Load restores entries from a dump written by Dump, keeping their
// original insertion times so stale entries refresh promptly. Missing or
// unreadable files load nothing; a cache must come up even when its dump
// is gone or corrupt. Returns the number of entries loaded.
func (c *Cache) Load(path string) (int, error) {
	if c.maxSize == 0 {
		return 0, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, nil
	}

	var dump dumpFile
	if err := json.Unmarshal(data, &dump); err != nil || dump.Version != dumpVersion {
		return 0, nil
	}

	entries := dump.Entries
	if len(entries) > c.maxSize {
		entries = entries[:c.maxSize]
	}

	c.mu.Lock()
	// Insert oldest first so the most recently used entry ends up at the
	// front and eviction order survives the round trip.
	for i := len(entries) - 1; i >= 0; i-- {
		c.putLocked(entries[i].Key, entries[i].Value, entries[i].InsertedAt)
	}
	if len(entries) > 0 {
		c.ensureLoopLocked()
	}
	c.mu.Unlock()
	return len(entries), nil
}
