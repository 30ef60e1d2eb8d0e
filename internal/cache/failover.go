package cache

import (
	"context"
	"sync/atomic"
	"time"

	"safarbook/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverCache serves from primary until it errors, then from fallback,
// probing primary again once per recovery interval.
type FailoverCache struct {
	primary   domain.Cache
	fallback  domain.Cache
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
}

func NewFailoverCache(primary, fallback domain.Cache, logger *zerolog.Logger) *FailoverCache {
	return &FailoverCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// usePrimary reports whether the next call should go to the primary.
func (c *FailoverCache) usePrimary() bool {
	if !c.isDown.Load() {
		return true
	}
	last := time.Unix(0, c.lastCheck.Load())
	return c.now().Sub(last) > recoveryInterval
}

// observe records the outcome of a primary call. It returns true when the
// call succeeded and its result may be used.
func (c *FailoverCache) observe(op string, err error) bool {
	if err == nil {
		if c.isDown.Swap(false) {
			c.logger.Info().Str("op", op).Msg("Primary cache recovered")
		}
		return true
	}
	if !c.isDown.Swap(true) {
		c.logger.Error().Err(err).Str("op", op).Msg("Primary cache failed, falling back to memory")
	}
	c.lastCheck.Store(c.now().UnixNano())
	return false
}

func (c *FailoverCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.usePrimary() {
		val, ok, err := c.primary.Get(ctx, key)
		if c.observe("get", err) {
			return val, ok, nil
		}
	}
	return c.fallback.Get(ctx, key)
}

func (c *FailoverCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.usePrimary() {
		if c.observe("set", c.primary.Set(ctx, key, value, ttl)) {
			return nil
		}
	}
	return c.fallback.Set(ctx, key, value, ttl)
}

func (c *FailoverCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if c.usePrimary() {
		ok, err := c.primary.SetNX(ctx, key, value, ttl)
		if c.observe("setnx", err) {
			return ok, nil
		}
	}
	return c.fallback.SetNX(ctx, key, value, ttl)
}

func (c *FailoverCache) Delete(ctx context.Context, key string) error {
	// the fallback may hold a copy written while primary was down
	_ = c.fallback.Delete(ctx, key)
	if c.usePrimary() {
		if c.observe("delete", c.primary.Delete(ctx, key)) {
			return nil
		}
	}
	return nil
}

func (c *FailoverCache) DeletePrefix(ctx context.Context, prefix string) error {
	_ = c.fallback.DeletePrefix(ctx, prefix)
	if c.usePrimary() {
		if c.observe("delete_prefix", c.primary.DeletePrefix(ctx, prefix)) {
			return nil
		}
	}
	return nil
}

// Ping reports primary health without switching modes.
func (c *FailoverCache) Ping(ctx context.Context) error {
	return c.primary.Ping(ctx)
}

func (c *FailoverCache) IsDegraded() bool {
	return c.isDown.Load()
}
