package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/authcore/internal/core/port"
)

const defaultPermissionCachePrefix = "perms"

// PermissionCacheRepository stores resolved permission sets per user in Redis.
// Invalidation deletes the key before the mutating call returns, giving
// read-your-writes semantics for permission checks.
type PermissionCacheRepository struct {
	client *red.Client
	prefix string
}

// NewPermissionCacheRepository constructs a cache repository with the
// provided Redis client and key prefix.
func NewPermissionCacheRepository(client *red.Client, keyPrefix string) *PermissionCacheRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultPermissionCachePrefix
	}

	return &PermissionCacheRepository{client: client, prefix: prefix}
}

// Get returns the cached permission set for the user, if present.
func (r *PermissionCacheRepository) Get(ctx context.Context, userID string) ([]string, bool, error) {
	key := r.key(userID)
	if key == "" {
		return nil, false, errors.New("user id must not be empty")
	}

	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get permissions: %w", err)
	}

	var permissions []string
	if err := json.Unmarshal([]byte(value), &permissions); err != nil {
		return nil, false, fmt.Errorf("decode cached permissions: %w", err)
	}

	return permissions, true, nil
}

// Set caches the resolved permission set with the supplied TTL.
func (r *PermissionCacheRepository) Set(ctx context.Context, userID string, permissions []string, ttl time.Duration) error {
	key := r.key(userID)
	if key == "" {
		return errors.New("user id must not be empty")
	}

	if permissions == nil {
		permissions = []string{}
	}

	encoded, err := json.Marshal(permissions)
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}

	if err := r.client.Set(ctx, key, encoded, ttl).Err(); err != nil {
		return fmt.Errorf("redis set permissions: %w", err)
	}

	return nil
}

// Invalidate removes the cached entries for the supplied users.
func (r *PermissionCacheRepository) Invalidate(ctx context.Context, userIDs ...string) error {
	keys := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		if key := r.key(userID); key != "" {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}

	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del permissions: %w", err)
	}

	return nil
}

func (r *PermissionCacheRepository) key(userID string) string {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.prefix, trimmed)
}

var _ port.PermissionCache = (*PermissionCacheRepository)(nil)
