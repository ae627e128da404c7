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

const defaultRevocationPrefix = "revoked"

// RevocationRepository manages access-token JTI revocation state and per-user
// "tokens valid since" watermarks backed by Redis.
type RevocationRepository struct {
	client *red.Client
	prefix string
}

// NewRevocationRepository wires a Redis client into a revocation repository.
func NewRevocationRepository(client *red.Client, keyPrefix string) *RevocationRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRevocationPrefix
	}

	return &RevocationRepository{client: client, prefix: prefix}
}

// MarkRevoked stores the supplied JTI with reason and TTL matching the token
// expiration window.
func (r *RevocationRepository) MarkRevoked(ctx context.Context, jti string, reason string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	key := r.jtiKey(jti)
	if key == "" {
		return errors.New("jti must not be empty")
	}

	if err := r.client.Set(ctx, key, reason, ttl).Err(); err != nil {
		return fmt.Errorf("redis set revoked jti: %w", err)
	}

	return nil
}

// IsRevoked reports whether the JTI has been revoked and returns the stored
// reason when present.
func (r *RevocationRepository) IsRevoked(ctx context.Context, jti string) (bool, string, error) {
	key := r.jtiKey(jti)
	if key == "" {
		return false, "", errors.New("jti must not be empty")
	}

	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("redis get revoked jti: %w", err)
	}

	return true, value, nil
}

// SetValidSince bumps the per-user watermark; access tokens issued before it
// must be rejected at validation time.
func (r *RevocationRepository) SetValidSince(ctx context.Context, userID string, at time.Time, ttl time.Duration) error {
	key := r.validSinceKey(userID)
	if key == "" {
		return errors.New("user id must not be empty")
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	value := strconv.FormatInt(at.UTC().UnixNano(), 10)
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set valid-since: %w", err)
	}

	return nil
}

// GetValidSince returns the user's watermark when one has been recorded.
func (r *RevocationRepository) GetValidSince(ctx context.Context, userID string) (time.Time, bool, error) {
	key := r.validSinceKey(userID)
	if key == "" {
		return time.Time{}, false, errors.New("user id must not be empty")
	}

	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("redis get valid-since: %w", err)
	}

	nanos, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse valid-since: %w", err)
	}

	return time.Unix(0, nanos).UTC(), true, nil
}

func (r *RevocationRepository) jtiKey(jti string) string {
	trimmed := strings.TrimSpace(jti)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:jti:%s", r.prefix, trimmed)
}

func (r *RevocationRepository) validSinceKey(userID string) string {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:since:%s", r.prefix, trimmed)
}

var _ port.RevocationStore = (*RevocationRepository)(nil)
