// Package cache persists generated artifacts, storyboards and stitched videos
// so interrupted generation runs can resume without resubmitting work.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Get for a missing or expired key.
var ErrNotFound = errors.New("cache: key not found")

// UpdateFunc receives the current value (nil when missing) and returns the
// value to store. Returning nil deletes the key.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is a key/value store with per-key TTLs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX writes only when the key does not exist and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	// Update runs a read-modify-write on one key atomically with respect to
	// other Update calls on the same key.
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error
}
