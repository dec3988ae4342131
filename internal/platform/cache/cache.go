// Package cache wraps Redis for two jobs: short-TTL caching of the WHO API
// access token and read-through memoization of individual code lookups. The
// client is injected everywhere it is used so tests can point it at a fake
// Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

type Cache struct {
	client *redis.Client

	// per-key refresh locks so concurrent GetOrRefresh callers for the same
	// key do not stampede the remote token endpoint
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New connects to Redis using a redis:// URL.
func New(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Cache{
		client: redis.NewClient(opts),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// NewWithClient wraps an existing client; used by tests with miniredis.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client, locks: make(map[string]*sync.Mutex)}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Get unmarshals the cached JSON value into dest. Returns ErrMiss when the
// key is absent.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("cache decode %s: %w", key, err)
	}
	return nil
}

// Set stores value as JSON with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete removes one or more keys. Missing keys are not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

func (c *Cache) keyLock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

// GetOrRefreshString returns the cached string under key, or calls refresh to
// produce a new value together with the TTL it should be cached for. Only one
// refresh per key runs at a time; readers arriving during a refresh block
// until it completes and then read the fresh value. The old value stays in
// Redis until the new one is written, so a still-valid entry is never lost to
// a failed refresh.
func (c *Cache) GetOrRefreshString(ctx context.Context, key string, refresh func(ctx context.Context) (string, time.Duration, error)) (string, error) {
	var cached string
	if err := c.Get(ctx, key, &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, ErrMiss) {
		return "", err
	}

	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if err := c.Get(ctx, key, &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, ErrMiss) {
		return "", err
	}

	fresh, ttl, err := refresh(ctx)
	if err != nil {
		return "", err
	}
	if err := c.Set(ctx, key, fresh, ttl); err != nil {
		return "", err
	}
	return fresh, nil
}
