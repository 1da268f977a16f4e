// Package badge keeps the OS app-icon badge in step with a persisted unread
// counter. The persisted value is the source of truth; the OS indicator is
// best effort and may be missing entirely.
package badge

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/engagepush/backend/internal/kv"
)

// Key is where the counter lives in the durable store.
const Key = "badge:count"

// Indicator is the OS badge capability.
type Indicator interface {
	Supported() bool
	Set(n int64) error
	Clear() error
}

// Counter is the badge state machine of one device.
type Counter struct {
	store     kv.Store
	indicator Indicator
	logger    *zap.Logger

	mu      sync.Mutex
	current int64
}

// Open hydrates a counter from the store.
func Open(ctx context.Context, store kv.Store, indicator Indicator, logger *zap.Logger) (*Counter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Counter{store: store, indicator: indicator, logger: logger}
	v, err := store.Get(ctx, Key)
	if err != nil {
		return nil, fmt.Errorf("read badge count: %w", err)
	}
	c.remember(clamp(v))
	return c, nil
}

// Set persists max(0, n) and reflects it on the OS badge.
func (c *Counter) Set(ctx context.Context, n int64) error {
	n = clamp(n)
	if err := c.store.Set(ctx, Key, n); err != nil {
		return fmt.Errorf("write badge count: %w", err)
	}
	c.remember(n)
	c.apply(n)
	return nil
}

// Increment adds one unread item.
func (c *Counter) Increment(ctx context.Context) (int64, error) {
	return c.update(ctx, func(cur int64) int64 { return clamp(cur) + 1 })
}

// Decrement removes one unread item, never going below zero.
func (c *Counter) Decrement(ctx context.Context) (int64, error) {
	return c.update(ctx, func(cur int64) int64 { return clamp(cur - 1) })
}

// SyncOnForeground re-asserts the persisted value on the OS badge.
func (c *Counter) SyncOnForeground(ctx context.Context) (int64, error) {
	v, err := c.store.Get(ctx, Key)
	if err != nil {
		return 0, fmt.Errorf("read badge count: %w", err)
	}
	v = clamp(v)
	c.remember(v)
	c.apply(v)
	return v, nil
}

// Current returns the value last read or written by this counter.
func (c *Counter) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Counter) update(ctx context.Context, fn func(int64) int64) (int64, error) {
	v, err := c.store.Update(ctx, Key, fn)
	if err != nil {
		return 0, fmt.Errorf("update badge count: %w", err)
	}
	c.remember(v)
	c.apply(v)
	return v, nil
}

func (c *Counter) remember(v int64) {
	c.mu.Lock()
	c.current = v
	c.mu.Unlock()
}

func (c *Counter) apply(n int64) {
	if c.indicator == nil || !c.indicator.Supported() {
		return
	}
	var err error
	if n > 0 {
		err = c.indicator.Set(n)
	} else {
		err = c.indicator.Clear()
	}
	if err != nil {
		c.logger.Warn("failed to update OS badge", zap.Int64("count", n), zap.Error(err))
	}
}

func clamp(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
