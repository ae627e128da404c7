package port

import (
	"context"
	"time"
)

// PermissionCache stores resolved permission sets per user. Invalidation is
// synchronous with the mutating call: a read issued after Invalidate returns
// must not observe the stale entry.
type PermissionCache interface {
	Get(ctx context.Context, userID string) ([]string, bool, error)
	Set(ctx context.Context, userID string, permissions []string, ttl time.Duration) error
	Invalidate(ctx context.Context, userIDs ...string) error
}

// RevocationStore tracks revoked access-token JTIs and the per-user
// "tokens valid since" watermark used for bulk revocation.
type RevocationStore interface {
	MarkRevoked(ctx context.Context, jti string, reason string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, string, error)
	// SetValidSince bumps the watermark: access tokens issued before it are
	// rejected at validation time.
	SetValidSince(ctx context.Context, userID string, at time.Time, ttl time.Duration) error
	GetValidSince(ctx context.Context, userID string) (time.Time, bool, error)
}
