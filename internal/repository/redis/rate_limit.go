package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/authcore/internal/core/port"
)

const defaultRateLimitPrefix = "ratelimit"

// RateLimitRepository persists per-key attempt counters and blacklist state
// in Redis. INCR gives the atomic read-modify-write required for concurrent
// attempts on the same key.
type RateLimitRepository struct {
	client *red.Client
	prefix string
	now    func() time.Time
}

// NewRateLimitRepository constructs a repository using the provided Redis
// client and key prefix.
func NewRateLimitRepository(client *red.Client, keyPrefix string) *RateLimitRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}

	return &RateLimitRepository{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the repository clock for deterministic testing.
func (r *RateLimitRepository) WithClock(clock func() time.Time) *RateLimitRepository {
	if clock != nil {
		r.now = clock
	}
	return r
}

// Increment atomically adds one attempt and returns the post-increment count.
// The window TTL is applied when the key is first created, so the counter
// resets once the window elapses.
func (r *RateLimitRepository) Increment(ctx context.Context, key string, window time.Duration) (int, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}

	counterKey := r.counterKey(key)

	count, err := r.client.Incr(ctx, counterKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}

	if count == 1 {
		if err := r.client.Expire(ctx, counterKey, window).Err(); err != nil {
			return 0, fmt.Errorf("redis expire: %w", err)
		}
	}

	return int(count), nil
}

// Count returns the current attempt count inside the active window.
func (r *RateLimitRepository) Count(ctx context.Context, key string) (int, error) {
	value, err := r.client.Get(ctx, r.counterKey(key)).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get counter: %w", err)
	}

	count, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("parse counter: %w", err)
	}

	return count, nil
}

// Blacklist denies the key until the supplied deadline.
func (r *RateLimitRepository) Blacklist(ctx context.Context, key string, until time.Time) error {
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return errors.New("blacklist deadline must be in the future")
	}

	value := strconv.FormatInt(until.UTC().UnixNano(), 10)
	if err := r.client.Set(ctx, r.blacklistKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set blacklist: %w", err)
	}

	return nil
}

// BlacklistedUntil reports whether the key is currently blacklisted and when
// the deny-state expires.
func (r *RateLimitRepository) BlacklistedUntil(ctx context.Context, key string) (time.Time, bool, error) {
	value, err := r.client.Get(ctx, r.blacklistKey(key)).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("redis get blacklist: %w", err)
	}

	nanos, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse blacklist deadline: %w", err)
	}

	until := time.Unix(0, nanos).UTC()
	if !until.After(r.now()) {
		return time.Time{}, false, nil
	}

	return until, true, nil
}

// Reset returns the key to a clean state, clearing both the counter and any
// blacklist entry.
func (r *RateLimitRepository) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.counterKey(key), r.blacklistKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *RateLimitRepository) counterKey(key string) string {
	return fmt.Sprintf("%s:count:%s", r.prefix, key)
}

func (r *RateLimitRepository) blacklistKey(key string) string {
	return fmt.Sprintf("%s:deny:%s", r.prefix, key)
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)
