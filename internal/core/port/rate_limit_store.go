package port

import (
	"context"
	"time"
)

// RateLimitStore persists per-key failure counters and blacklist state for
// the login guard. Increment must be atomic with respect to concurrent
// attempts on the same key.
type RateLimitStore interface {
	// Increment adds one attempt within the window and returns the
	// post-increment count. A fresh window starts when the previous one
	// expired.
	Increment(ctx context.Context, key string, window time.Duration) (int, error)
	Count(ctx context.Context, key string) (int, error)
	Blacklist(ctx context.Context, key string, until time.Time) error
	BlacklistedUntil(ctx context.Context, key string) (time.Time, bool, error)
	Reset(ctx context.Context, key string) error
}
