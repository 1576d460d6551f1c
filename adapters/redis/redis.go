// Package redis provides a core.KV backed by a Redis server. Session
// expiry rides on Redis key TTLs, so a sweeper is unnecessary when this
// adapter is in use.
package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jmfrees/warden/core"
)

// Adapter implements core.KV over a go-redis client.
type Adapter struct {
	client redis.UniversalClient
}

var _ core.KV = (*Adapter)(nil)

// New wraps an existing client. The caller owns its lifecycle.
func New(client redis.UniversalClient) *Adapter {
	return &Adapter{client: client}
}

// NewFromURL connects using a redis:// URL.
func NewFromURL(url string) (*Adapter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Adapter{client: redis.NewClient(opts)}, nil
}

func (a *Adapter) Get(ctx context.Context, key string) (string, error) {
	value, err := a.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", core.ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (a *Adapter) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return a.client.Set(ctx, key, value, ttl).Err()
}

func (a *Adapter) Delete(ctx context.Context, key string) (bool, error) {
	removed, err := a.client.Del(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

// Keys scans for keys matching a glob pattern. SCAN is used instead of
// KEYS so a large session space does not block the server.
func (a *Adapter) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := a.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Ping verifies connectivity, for readiness checks.
func (a *Adapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (a *Adapter) Close() error {
	return a.client.Close()
}
