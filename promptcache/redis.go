package promptcache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// DefaultRedisPrefix namespaces prompt cache keys in Redis.
	DefaultRedisPrefix = "langsmith:prompt:"

	// DefaultRedisTTL matches the in-memory default. Prompts change
	// rarely; replicas tolerate a few minutes of skew.
	DefaultRedisTTL = 5 * time.Minute
)

// RedisStore is a Redis-backed prompt store for deployments where several
// replicas should share one cache. Lookups cost a Redis round trip
// (~1-2ms) instead of an upstream fetch. Redis failures degrade to misses
// so a cache outage never takes prompt pulls down with it.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string

	// Stats (atomic for thread-safety)
	hits   int64
	misses int64
}

// RedisOption allows customization of the Redis store behavior.
type RedisOption func(*RedisStore)

// WithRedisTTL sets the Redis expiry for cached prompts.
// Default is DefaultRedisTTL.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithRedisPrefix sets the Redis key prefix for cached prompts.
// Default is DefaultRedisPrefix. Useful for multi-tenant deployments.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a Redis-backed prompt store.
//
// Example usage:
//
//	store := promptcache.NewRedisStore(redisClient,
//	    promptcache.WithRedisTTL(time.Hour),
//	    promptcache.WithRedisPrefix("myapp:prompts:"),
//	)
//	client, err := langsmith.NewClient(langsmith.WithPromptStore(store))
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		ttl:    DefaultRedisTTL,
		prefix: DefaultRedisPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

var _ Store = (*RedisStore)(nil)

// Get retrieves a cached manifest from Redis.
func (s *RedisStore) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		atomic.AddInt64(&s.misses, 1)
		return nil, false
	}
	if err != nil {
		// Redis error - degrade gracefully
		atomic.AddInt64(&s.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&s.hits, 1)
	return val, true
}

// Set stores a manifest in Redis with the configured expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := s.client.Set(ctx, s.prefix+key, []byte(value), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store prompt in Redis: %w", err)
	}
	return nil
}

// Stats returns cache performance statistics for monitoring.
func (s *RedisStore) Stats() map[string]interface{} {
	hits := atomic.LoadInt64(&s.hits)
	misses := atomic.LoadInt64(&s.misses)
	total := hits + misses

	stats := map[string]interface{}{
		"hits":          hits,
		"misses":        misses,
		"total_lookups": total,
	}

	if total > 0 {
		stats["hit_rate"] = float64(hits) / float64(total)
	}

	return stats
}
