package cache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"
)

// Cache is a TTL cache of values of type V.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Set(ctx context.Context, key string, value V, ttl time.Duration) bool
	Delete(ctx context.Context, key string)
	// GetOrLoad returns the cached value or runs loader once for all
	// concurrent callers of the same key.
	GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader func(ctx context.Context) (V, error)) (V, error)
}

type Config struct {
	// MaxCost bounds the number of entries; every entry costs 1.
	MaxCost     int64
	NumCounters int64
	BufferItems int64
}

func DefaultConfig() Config {
	return Config{
		MaxCost:     1 << 16,
		NumCounters: 1 << 20,
		BufferItems: 64,
	}
}

// RistrettoCache implements Cache on top of ristretto with singleflight
// loading.
type RistrettoCache[V any] struct {
	store *ristretto.Cache
	group singleflight.Group
}

func New[V any](config Config) (*RistrettoCache[V], error) {
	if config.MaxCost == 0 {
		config = DefaultConfig()
	}

	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: config.NumCounters,
		MaxCost:     config.MaxCost,
		BufferItems: config.BufferItems,
	})
	if err != nil {
		return nil, err
	}

	return &RistrettoCache[V]{store: store}, nil
}

func (c *RistrettoCache[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	if ctx.Err() != nil {
		return zero, false
	}

	raw, found := c.store.Get(key)
	if !found {
		return zero, false
	}
	value, ok := raw.(V)
	return value, ok
}

// Set stores value and waits until it is visible to Get. A zero ttl never
// expires.
func (c *RistrettoCache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	ok := c.store.SetWithTTL(key, value, 1, ttl)
	c.store.Wait()
	return ok
}

func (c *RistrettoCache[V]) Delete(ctx context.Context, key string) {
	if ctx.Err() != nil {
		return
	}
	c.store.Del(key)
}

func (c *RistrettoCache[V]) GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader func(ctx context.Context) (V, error)) (V, error) {
	if value, found := c.Get(ctx, key); found {
		return value, nil
	}

	raw, err, _ := c.group.Do(key, func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if value, found := c.Get(ctx, key); found {
			return value, nil
		}

		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}

		c.Set(ctx, key, value, ttl)
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return raw.(V), nil
}

// Close releases the ristretto goroutines.
func (c *RistrettoCache[V]) Close() {
	c.store.Close()
}
