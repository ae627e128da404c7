package port

import (
	"context"
	"time"

	"github.com/arklim/authcore/internal/core/domain"
)

// TokenRepository manages refresh token records.
type TokenRepository interface {
	CreateRefreshToken(ctx context.Context, token domain.RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	GetRefreshTokenByID(ctx context.Context, id string) (*domain.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string, at time.Time, ip, reason string) error
	// Rotate revokes the old token, links it to its replacement, and
	// persists the new token atomically.
	Rotate(ctx context.Context, oldID string, replacement domain.RefreshToken, at time.Time, ip string) error
	// RevokeChain revokes every active token reachable from the supplied
	// token via ReplacedByID links and returns the number revoked.
	RevokeChain(ctx context.Context, id string, at time.Time, reason string) (int, error)
	// RevokeAllForUser revokes every active refresh token owned by the user.
	RevokeAllForUser(ctx context.Context, userID string, at time.Time, reason string) (int, error)
	ListActiveByUser(ctx context.Context, userID string, at time.Time) ([]domain.RefreshToken, error)
}

// RecoveryCodeRepository persists single-use two-factor recovery codes.
type RecoveryCodeRepository interface {
	// Replace deletes all existing codes for the user and stores the new
	// set as a single atomic unit.
	Replace(ctx context.Context, userID string, codes []domain.RecoveryCode) error
	GetByHash(ctx context.Context, userID, codeHash string) (*domain.RecoveryCode, error)
	MarkUsed(ctx context.Context, id string, at time.Time) error
	DeleteAllForUser(ctx context.Context, userID string) error
	CountUnused(ctx context.Context, userID string, at time.Time) (int, error)
}
