package cache

import (
	"context"
	"errors"
	"time"
)

// LayeredCache reads through a local L1 to a shared L2. Locks always go to L2
// so they hold across replicas.
type LayeredCache struct {
	l1    *MemoryCache
	l2    Service
	l1TTL time.Duration
}

func NewLayeredCache(l1 *MemoryCache, l2 Service, l1TTL time.Duration) *LayeredCache {
	return &LayeredCache{l1: l1, l2: l2, l1TTL: l1TTL}
}

func (c *LayeredCache) local(ttl time.Duration) time.Duration {
	if c.l1TTL > 0 && (ttl <= 0 || c.l1TTL < ttl) {
		return c.l1TTL
	}
	return ttl
}

func (c *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return c.l1.Set(ctx, key, value, c.local(ttl))
}

func (c *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	var raw []byte
	if err := c.l1.Get(ctx, key, &raw); err == nil {
		return unmarshal(raw, dest)
	}
	if err := c.l2.Get(ctx, key, &raw); err != nil {
		return err
	}
	_ = c.l1.Set(ctx, key, raw, c.local(0))
	return unmarshal(raw, dest)
}

func (c *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	return errors.Join(c.l1.Delete(ctx, keys...), c.l2.Delete(ctx, keys...))
}

func (c *LayeredCache) DeleteByPattern(ctx context.Context, pattern string) error {
	return errors.Join(c.l1.DeleteByPattern(ctx, pattern), c.l2.DeleteByPattern(ctx, pattern))
}

func (c *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.l2.TryLock(ctx, key, ttl)
}

func (c *LayeredCache) Unlock(ctx context.Context, key string) error {
	return c.l2.Unlock(ctx, key)
}

func (c *LayeredCache) Close() error {
	return errors.Join(c.l1.Close(), c.l2.Close())
}
