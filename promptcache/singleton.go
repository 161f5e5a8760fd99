package promptcache

import "sync"

var (
	sharedMu sync.Mutex
	shared   *Cache
)

// Shared returns the process-wide prompt cache, building it with defaults
// on first use. Clients share it unless configured with their own store.
func Shared() *Cache {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared == nil {
		shared = New()
	}
	return shared
}

// ConfigureShared replaces the process-wide cache with one built from
// opts, stopping the previous cache's refresh loop. Call before creating
// clients; already-created clients keep the cache they were built with.
func ConfigureShared(opts ...Option) *Cache {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared != nil {
		shared.Stop()
	}
	shared = New(opts...)
	return shared
}

// StopShared halts the process-wide cache's refresh loop, typically at
// shutdown. Cached entries remain readable.
func StopShared() {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if shared != nil {
		shared.Stop()
	}
}
