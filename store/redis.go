package store

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// redisBackend is the minimal surface RedisStore needs from
// *redisclient.Client, kept narrow so this package does not import
// redisclient directly and create a cycle with config.
type redisBackend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Incr(ctx context.Context, key string) (int64, error)
}

// shardCount is the number of logical key buckets RedisStore spreads
// keys across, so a hot key doesn't concentrate load
// on one Redis hash slot in a clustered deployment.
const shardCount = 16

// RedisStore is the distributed Store backing, opt-in via REDIS_URL.
// Keys are namespaced under a shard prefix derived from xxhash of the
// logical key — purely for Redis key distribution, unrelated to the
// deterministic A/B runId hash used for variant assignment.
type RedisStore struct {
	backend redisBackend
	prefix  string
}

// NewRedisStore wraps backend with a namespace prefix (e.g. "slimclaw").
func NewRedisStore(backend redisBackend, prefix string) *RedisStore {
	return &RedisStore{backend: backend, prefix: prefix}
}

func (r *RedisStore) shardedKey(key string) string {
	shard := xxhash.Sum64String(key) % shardCount
	return fmt.Sprintf("%s:shard%d:%s", r.prefix, shard, key)
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	return r.backend.Get(ctx, r.shardedKey(key))
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return r.backend.Set(ctx, r.shardedKey(key), value)
}

func (r *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	return r.backend.Incr(ctx, r.shardedKey(key))
}
