package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
	"github.com/arklim/authcore/internal/repository"
)

var (
	// ErrUserNotFound indicates the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrPasswordUnchanged indicates the new password equals the current one.
	ErrPasswordUnchanged = errors.New("new password must differ from the current password")
)

// CredentialService owns password lifecycle: strength validation, hashing,
// verification, and the forced re-authentication that follows a change.
type CredentialService struct {
	users      port.UserRepository
	tokens     port.TokenRepository
	revocation port.RevocationStore
	hasher     port.PasswordHasher
	policy     port.PasswordPolicyValidator
	events     port.EventPublisher
	logger     *zap.Logger
	sinceTTL   time.Duration
	now        func() time.Time
}

// NewCredentialService constructs a CredentialService.
func NewCredentialService(
	users port.UserRepository,
	tokens port.TokenRepository,
	revocation port.RevocationStore,
	hasher port.PasswordHasher,
	policy port.PasswordPolicyValidator,
	events port.EventPublisher,
	logger *zap.Logger,
) *CredentialService {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &CredentialService{
		users:      users,
		tokens:     tokens,
		revocation: revocation,
		hasher:     hasher,
		policy:     policy,
		events:     events,
		logger:     logger,
		sinceTTL:   7 * 24 * time.Hour,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the internal clock for deterministic tests.
func (s *CredentialService) WithClock(clock func() time.Time) *CredentialService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// ValidateStrength checks the candidate password against the configured
// policy. The returned error carries every violated rule, not just the first.
func (s *CredentialService) ValidateStrength(password string, userInputs ...string) error {
	return s.policy.Validate(password, userInputs...)
}

// SetPassword validates and stores a new password for the user. A
// successful change revokes every outstanding refresh token and bumps the
// tokens-valid-since watermark so that all existing sessions must
// re-authenticate.
func (s *CredentialService) SetPassword(ctx context.Context, userID, newPassword string) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	if err := s.policy.Validate(newPassword, user.Username, user.Email); err != nil {
		return err
	}

	same, err := s.hasher.Verify(newPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("compare password: %w", err)
	}
	if same {
		return ErrPasswordUnchanged
	}

	encoded, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	if err := s.users.UpdatePassword(ctx, userID, encoded, now); err != nil {
		return fmt.Errorf("store password: %w", err)
	}

	revoked, err := s.tokens.RevokeAllForUser(ctx, userID, now, "password_changed")
	if err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	if s.revocation != nil {
		if err := s.revocation.SetValidSince(ctx, userID, now, s.sinceTTL); err != nil {
			return fmt.Errorf("bump token watermark: %w", err)
		}
	}

	s.publish(ctx, userID, now, revoked)
	return nil
}

// ChangePassword verifies the current password before delegating to
// SetPassword. Used by the self-service change endpoint; administrative
// resets call SetPassword directly.
func (s *CredentialService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	ok, err := s.hasher.Verify(currentPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify current password: %w", err)
	}
	if !ok {
		return ErrInvalidCredentials
	}

	return s.SetPassword(ctx, userID, newPassword)
}

// Verify checks a candidate password against the stored hash. When the
// stored hash was produced with weaker parameters than the active policy,
// a successful verification opportunistically re-hashes the same plaintext.
func (s *CredentialService) Verify(ctx context.Context, user *domain.User, candidate string) (bool, error) {
	if user == nil {
		return false, fmt.Errorf("user is required")
	}

	ok, err := s.hasher.Verify(candidate, user.PasswordHash)
	if err != nil {
		return false, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return false, nil
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		encoded, err := s.hasher.Hash(candidate)
		if err != nil {
			s.logger.Warn("opportunistic rehash failed", zap.String("user_id", user.ID), zap.Error(err))
			return true, nil
		}
		if err := s.users.UpdatePassword(ctx, user.ID, encoded, user.LastPasswordChange); err != nil {
			s.logger.Warn("store rehashed password failed", zap.String("user_id", user.ID), zap.Error(err))
			return true, nil
		}
		user.PasswordHash = encoded
	}

	return true, nil
}

func (s *CredentialService) publish(ctx context.Context, userID string, at time.Time, revoked int) {
	if s.events == nil {
		return
	}
	event := domain.PasswordChangedEvent{
		EventID:       uuid.NewString(),
		UserID:        userID,
		ChangedAt:     at,
		TokensRevoked: revoked,
	}
	if err := s.events.Publish(ctx, "password.changed", userID, event); err != nil {
		s.logger.Warn("publish password changed event failed", zap.String("user_id", userID), zap.Error(err))
	}
}
