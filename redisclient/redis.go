// Package redisclient wraps the go-redis client used as the optional
// distributed backing store for the BudgetTracker's state snapshot.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/evansantos/slimclaw/config"
	"github.com/redis/go-redis/v9"
)

// Client wraps a go-redis client with the small set of operations the
// distributed Store needs.
type Client struct {
	c *redis.Client
}

// New creates a Redis client from the provided config. Returns an error
// if the Redis URL cannot be parsed.
func New(cfg *config.Config) (*Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	r := redis.NewClient(opt)
	return &Client{c: r}, nil
}

// Ping verifies connectivity with a short deadline.
func (r *Client) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.c.Ping(ctx).Err()
}

// Get reads the raw bytes at key, returning (nil, nil) when absent.
func (r *Client) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return b, err
}

// Set writes raw bytes at key with no expiry.
func (r *Client) Set(ctx context.Context, key string, value []byte) error {
	return r.c.Set(ctx, key, value, 0).Err()
}

// Incr atomically increments the integer counter at key.
func (r *Client) Incr(ctx context.Context, key string) (int64, error) {
	return r.c.Incr(ctx, key).Result()
}

// Close releases the underlying connection pool.
func (r *Client) Close() error {
	return r.c.Close()
}
