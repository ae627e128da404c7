package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
	"github.com/arklim/authcore/internal/infra/config"
	"github.com/arklim/authcore/internal/infra/security"
	"github.com/arklim/authcore/internal/repository"
)

var (
	// ErrInvalidRefreshToken indicates the presented refresh token does not
	// exist or was revoked.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrExpiredRefreshToken indicates the presented refresh token has expired.
	ErrExpiredRefreshToken = errors.New("refresh token expired")
	// ErrInvalidAccessToken indicates the access token is malformed or its
	// signature failed verification.
	ErrInvalidAccessToken = errors.New("invalid access token")
	// ErrExpiredAccessToken indicates the access token has expired.
	ErrExpiredAccessToken = errors.New("access token expired")
	// ErrRevokedAccessToken indicates the access token was revoked ahead of
	// its expiry.
	ErrRevokedAccessToken = errors.New("access token revoked")
)

const refreshTokenBytes = 32

// TokenPair bundles a freshly issued access and refresh token.
type TokenPair struct {
	AccessToken   string
	AccessClaims  *security.AccessTokenClaims
	RefreshToken  string
	RefreshRecord *domain.RefreshToken
}

// TokenService issues, validates, rotates, and revokes session credentials.
// Access tokens are signed JWTs; refresh tokens are opaque random values
// stored only as hashes.
type TokenService struct {
	cfg        config.JWTSettings
	tokens     port.TokenRepository
	revocation port.RevocationStore
	generator  *security.TokenGenerator
	events     port.EventPublisher
	logger     *zap.Logger
	now        func() time.Time
}

// NewTokenService constructs a TokenService.
func NewTokenService(
	cfg config.JWTSettings,
	tokens port.TokenRepository,
	revocation port.RevocationStore,
	generator *security.TokenGenerator,
	events port.EventPublisher,
	logger *zap.Logger,
) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &TokenService{
		cfg:        cfg,
		tokens:     tokens,
		revocation: revocation,
		generator:  generator,
		events:     events,
		logger:     logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the internal clock for deterministic tests. The
// signing generator keeps its own clock; align both in tests.
func (s *TokenService) WithClock(clock func() time.Time) *TokenService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Issue mints an access/refresh token pair for the authenticated user and
// persists the refresh token record.
func (s *TokenService) Issue(ctx context.Context, user domain.User, roles, permissions []string, clientIP string) (*TokenPair, error) {
	if user.ID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	accessToken, claims, err := s.generator.Issue(user.ID, user.Username, user.Email, roles, permissions)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	raw, err := security.GenerateSecureToken(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	now := s.now()
	ttl := s.cfg.RefreshTokenTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}

	record := domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: security.HashToken(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if clientIP != "" {
		ip := clientIP
		record.CreatedByIP = &ip
	}

	if err := s.tokens.CreateRefreshToken(ctx, record); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:   accessToken,
		AccessClaims:  claims,
		RefreshToken:  raw,
		RefreshRecord: &record,
	}, nil
}

// Rotate exchanges a presented refresh token for a new pair. Presenting a
// revoked or expired token fails closed and revokes the whole rotation
// chain, since reuse signals theft.
func (s *TokenService) Rotate(ctx context.Context, rawRefresh, clientIP string, user domain.User, roles, permissions []string) (*TokenPair, error) {
	rawRefresh = strings.TrimSpace(rawRefresh)
	if rawRefresh == "" {
		return nil, ErrInvalidRefreshToken
	}

	record, err := s.Lookup(ctx, rawRefresh)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !record.IsActive(now) {
		revoked, chainErr := s.tokens.RevokeChain(ctx, record.ID, now, "reuse_detected")
		if chainErr != nil {
			s.logger.Error("revoke token chain failed", zap.String("token_id", record.ID), zap.Error(chainErr))
		} else if revoked > 0 {
			s.logger.Warn("refresh token reuse detected",
				zap.String("user_id", record.UserID),
				zap.Int("revoked", revoked),
			)
			s.publishRevoked(ctx, record.UserID, "reuse_detected", revoked)
		}
		if record.IsRevoked() {
			return nil, ErrInvalidRefreshToken
		}
		return nil, ErrExpiredRefreshToken
	}

	accessToken, claims, err := s.generator.Issue(user.ID, user.Username, user.Email, roles, permissions)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	raw, err := security.GenerateSecureToken(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	ttl := s.cfg.RefreshTokenTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}

	replacement := domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    record.UserID,
		TokenHash: security.HashToken(raw),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if clientIP != "" {
		ip := clientIP
		replacement.CreatedByIP = &ip
	}

	if err := s.tokens.Rotate(ctx, record.ID, replacement, now, clientIP); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Lost the race with a concurrent rotation of the same token.
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:   accessToken,
		AccessClaims:  claims,
		RefreshToken:  raw,
		RefreshRecord: &replacement,
	}, nil
}

// Lookup resolves a presented refresh token to its stored record.
func (s *TokenService) Lookup(ctx context.Context, rawRefresh string) (*domain.RefreshToken, error) {
	record, err := s.tokens.GetRefreshTokenByHash(ctx, security.HashToken(rawRefresh))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}
	return record, nil
}

// ValidateAccessToken verifies the token's signature, expiry, and issuer,
// then rejects it when its jti is revoked or it was issued before the
// user's tokens-valid-since watermark.
func (s *TokenService) ValidateAccessToken(ctx context.Context, token string) (*security.AccessTokenClaims, error) {
	claims, err := s.generator.Parse(token)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return nil, ErrExpiredAccessToken
		}
		return nil, ErrInvalidAccessToken
	}

	if s.revocation != nil {
		revoked, _, err := s.revocation.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("check token revocation: %w", err)
		}
		if revoked {
			return nil, ErrRevokedAccessToken
		}

		since, ok, err := s.revocation.GetValidSince(ctx, claims.Subject)
		if err != nil {
			return nil, fmt.Errorf("check token watermark: %w", err)
		}
		if ok && claims.IssuedAt != nil && claims.IssuedAt.Time.Before(since) {
			return nil, ErrRevokedAccessToken
		}
	}

	return claims, nil
}

// RevokeAccessToken denylists the token's jti for the remainder of its
// lifetime, enabling immediate logout despite stateless validation.
func (s *TokenService) RevokeAccessToken(ctx context.Context, claims *security.AccessTokenClaims, reason string) error {
	if claims == nil || claims.ID == "" {
		return fmt.Errorf("token claims are required")
	}
	if s.revocation == nil {
		return nil
	}

	ttl := s.cfg.AccessTokenTTL
	if claims.ExpiresAt != nil {
		if remaining := claims.ExpiresAt.Time.Sub(s.now()); remaining > 0 {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		return nil
	}

	if err := s.revocation.MarkRevoked(ctx, claims.ID, reason, ttl); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

// RevokeRefreshToken revokes a single presented refresh token.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, rawRefresh, clientIP, reason string) error {
	record, err := s.Lookup(ctx, rawRefresh)
	if err != nil {
		return err
	}
	if err := s.tokens.RevokeRefreshToken(ctx, record.ID, s.now(), clientIP, reason); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidRefreshToken
		}
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every active refresh token for the user and
// bumps the tokens-valid-since watermark so outstanding access tokens die
// with them. Used on password change, 2FA disable, and explicit "log out
// everywhere".
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID, reason string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("user id is required")
	}

	now := s.now()
	revoked, err := s.tokens.RevokeAllForUser(ctx, userID, now, reason)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens: %w", err)
	}

	if s.revocation != nil {
		ttl := s.cfg.RefreshTokenTTL
		if ttl <= 0 {
			ttl = 7 * 24 * time.Hour
		}
		if err := s.revocation.SetValidSince(ctx, userID, now, ttl); err != nil {
			return revoked, fmt.Errorf("bump token watermark: %w", err)
		}
	}

	s.publishRevoked(ctx, userID, reason, revoked)
	return revoked, nil
}

// ListActiveTokens returns the user's currently active refresh tokens.
func (s *TokenService) ListActiveTokens(ctx context.Context, userID string) ([]domain.RefreshToken, error) {
	tokens, err := s.tokens.ListActiveByUser(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list active tokens: %w", err)
	}
	return tokens, nil
}

func (s *TokenService) publishRevoked(ctx context.Context, userID, reason string, count int) {
	if s.events == nil || count == 0 {
		return
	}
	event := domain.TokensRevokedEvent{
		EventID:    uuid.NewString(),
		UserID:     userID,
		Reason:     reason,
		Count:      count,
		OccurredAt: s.now(),
	}
	if err := s.events.Publish(ctx, "tokens.revoked", userID, event); err != nil {
		s.logger.Warn("publish tokens revoked event failed", zap.String("user_id", userID), zap.Error(err))
	}
}
