// Package cache provides the Redis fast store.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache provides Redis cache access methods.
type Cache struct {
	client *redis.Client
	now    func() time.Time
}

// PoolConfig sizes the client connection pool.
type PoolConfig struct {
	PoolSize int
}

// New connects to redisURL and pings it once. The client is tuned to fail
// fast: every caller has a durable-store fallback, so a slow cache is worse
// than a missing one.
func New(ctx context.Context, redisURL string, poolCfg PoolConfig) (*Cache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	opt.PoolSize = 10
	if poolCfg.PoolSize > 0 {
		opt.PoolSize = poolCfg.PoolSize
	}
	opt.MinIdleConns = min(2, opt.PoolSize)
	opt.DialTimeout = time.Second
	opt.ReadTimeout = 500 * time.Millisecond
	opt.WriteTimeout = 500 * time.Millisecond
	opt.PoolTimeout = time.Second
	opt.MaxRetries = 1
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewFromClient(client), nil
}

// NewFromClient wraps an existing client. Close closes the client.
func NewFromClient(client *redis.Client) *Cache {
	return &Cache{client: client, now: time.Now}
}

// Ping checks Redis connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Client exposes the shared client to the token audit stream.
func (c *Cache) Client() *redis.Client {
	return c.client
}
