// Package kv is the durable key-value storage shared by the client-side
// components. Counters are read-modify-written atomically so that a
// background worker and a foreground page never lose each other's updates.
package kv

import (
	"context"
	"errors"
	"time"
)

var ErrConflict = errors.New("kv: too many concurrent updates")

// Store holds integer counters.
type Store interface {
	// Get returns the stored value, or 0 if the key does not exist.
	Get(ctx context.Context, key string) (int64, error)
	Set(ctx context.Context, key string, value int64) error
	// Update applies fn to the current value atomically and stores the result.
	Update(ctx context.Context, key string, fn func(current int64) int64) (int64, error)
}

// SeenSet remembers keys for a limited time.
type SeenSet interface {
	// MarkSeen records key for ttl and reports whether it was not already present.
	MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Forget removes key so the next MarkSeen succeeds again.
	Forget(ctx context.Context, key string) error
}
