package port

import (
	"context"
	"time"

	"github.com/arklim/authcore/internal/core/domain"
)

// UserRepository exposes persistence behavior for users.
// All lookups exclude soft-deleted accounts unless noted.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByIdentifier(ctx context.Context, identifier string) (*domain.User, error)
	UpdatePassword(ctx context.Context, id string, passwordHash string, changedAt time.Time) error
	UpdateLoginState(ctx context.Context, id string, failedAttempts int, lockoutEnd *time.Time) error
	UpdateTwoFactor(ctx context.Context, id string, state domain.TwoFactorState, method domain.TwoFactorMethod, secret *string) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
}
