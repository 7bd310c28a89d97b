package cache

import (
	"context"
	"time"
)

// Cache is the hot-path cache contract, swappable between Redis and an
// in-memory fake in tests. The time-windowed market snapshot cache is
// NOT this: that one is an append-only table with its own semantics.
type Cache interface {
	// Get unmarshals the cached value into dest. found=false is a
	// miss, dest untouched.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)

	// Set stores value under key with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// SetNX stores value only when key is absent. Returns true when
	// this call created the key — the webhook dedupe relies on this
	// being atomic.
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)

	// Delete removes keys.
	Delete(ctx context.Context, keys ...string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error
}
