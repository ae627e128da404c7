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
	"github.com/arklim/authcore/internal/infra/telemetry"
	"github.com/arklim/authcore/internal/repository"
)

var (
	// ErrInvalidCredentials indicates the identifier or password is wrong.
	// Deliberately indistinguishable from "user not found" to prevent
	// enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInactiveAccount indicates the account is disabled or soft-deleted.
	ErrInactiveAccount = errors.New("account is not active")
	// ErrAccountLocked indicates the account lockout window is in effect.
	ErrAccountLocked = errors.New("account locked")
)

// AccountLockedError carries the unlock time alongside the sentinel.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.Format(time.RFC3339))
}

// Is makes errors.Is(err, ErrAccountLocked) match.
func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// LoginResult is the outcome of a successful (or partially successful)
// login attempt.
type LoginResult struct {
	User        *domain.User
	Roles       []string
	Permissions []string
	Tokens      *TokenPair
	// TwoFactorRequired is set when the password was accepted but the login
	// must be completed with CompleteTwoFactor.
	TwoFactorRequired bool
}

// AuthService orchestrates the login, refresh, and logout flows across the
// guard, credential, two-factor, RBAC, and token services.
type AuthService struct {
	cfg         *config.AppConfig
	users       port.UserRepository
	guard       *LoginGuard
	credentials *CredentialService
	twoFactor   *TwoFactorService
	rbac        *RBACService
	tokens      *TokenService
	events      port.EventPublisher
	metrics     *telemetry.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewAuthService constructs an AuthService.
func NewAuthService(
	cfg *config.AppConfig,
	users port.UserRepository,
	guard *LoginGuard,
	credentials *CredentialService,
	twoFactor *TwoFactorService,
	rbac *RBACService,
	tokens *TokenService,
	events port.EventPublisher,
	logger *zap.Logger,
) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &AuthService{
		cfg:         cfg,
		users:       users,
		guard:       guard,
		credentials: credentials,
		twoFactor:   twoFactor,
		rbac:        rbac,
		tokens:      tokens,
		events:      events,
		logger:      logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the internal clock for deterministic tests.
func (s *AuthService) WithClock(clock func() time.Time) *AuthService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithMetrics attaches Prometheus collectors to the login flows.
func (s *AuthService) WithMetrics(metrics *telemetry.Metrics) *AuthService {
	s.metrics = metrics
	return s
}

// Login verifies credentials and either issues tokens or signals that a
// second factor is required. Rate limiting and account lockout are applied
// before the password is ever checked.
func (s *AuthService) Login(ctx context.Context, identifier, password, clientIP string) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	key := guardKey(identifier, clientIP)
	allowed, err := s.guard.CheckAndIncrement(ctx, key)
	if err != nil {
		return nil, err
	}
	if !allowed {
		s.countLogin("rate_limited")
		if s.metrics != nil {
			s.metrics.RateLimitRejects.Inc()
		}
		return nil, ErrRateLimited
	}

	user, err := s.users.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.countLogin("failure")
			s.publishFailure(ctx, nil, identifier, "unknown_identifier", clientIP, 0)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !user.IsActive || user.IsDeleted() {
		s.countLogin("failure")
		return nil, ErrInactiveAccount
	}

	now := s.now()
	if user.IsLockedOut(now) {
		s.countLogin("locked")
		return nil, &AccountLockedError{Until: *user.LockoutEnd}
	}

	ok, err := s.credentials.Verify(ctx, user, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := s.registerFailure(ctx, user, identifier, "wrong_password", clientIP); err != nil {
			return nil, err
		}
		s.countLogin("failure")
		return nil, ErrInvalidCredentials
	}

	if user.TwoFactorActive() {
		s.countLogin("two_factor_pending")
		sanitized := sanitizeUser(user)
		return &LoginResult{User: sanitized, TwoFactorRequired: true}, nil
	}

	return s.finalizeLogin(ctx, user, key, clientIP)
}

// CompleteTwoFactor finishes a login whose password step already passed.
// Accepts either a current TOTP code or an unused recovery code. Failed
// attempts count toward the account lockout threshold.
func (s *AuthService) CompleteTwoFactor(ctx context.Context, identifier, code, clientIP string) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || strings.TrimSpace(code) == "" {
		return nil, ErrTwoFactorInvalidCode
	}

	user, err := s.users.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !user.IsActive || user.IsDeleted() {
		return nil, ErrInactiveAccount
	}
	if !user.TwoFactorActive() {
		return nil, ErrTwoFactorNotEnabled
	}

	now := s.now()
	if user.IsLockedOut(now) {
		return nil, &AccountLockedError{Until: *user.LockoutEnd}
	}

	ok, err := s.twoFactor.VerifyCode(ctx, user, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		ok, err = s.twoFactor.ConsumeRecoveryCode(ctx, user.ID, code)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		s.countTwoFactor("failure")
		if err := s.registerFailure(ctx, user, identifier, "invalid_two_factor_code", clientIP); err != nil {
			return nil, err
		}
		return nil, ErrTwoFactorInvalidCode
	}

	s.countTwoFactor("success")
	return s.finalizeLogin(ctx, user, guardKey(identifier, clientIP), clientIP)
}

// Refresh rotates a presented refresh token into a new token pair.
func (s *AuthService) Refresh(ctx context.Context, rawRefresh, clientIP string) (*LoginResult, error) {
	record, err := s.tokens.Lookup(ctx, rawRefresh)
	if err != nil {
		s.countRotation("failure")
		return nil, err
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.countRotation("failure")
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsActive || user.IsDeleted() {
		s.countRotation("failure")
		return nil, ErrInactiveAccount
	}

	roles, permissions, err := s.resolveClaims(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.Rotate(ctx, rawRefresh, clientIP, *user, roles, permissions)
	if err != nil {
		s.countRotation("failure")
		return nil, err
	}
	s.countRotation("success")
	s.countTokens()

	return &LoginResult{
		User:        sanitizeUser(user),
		Roles:       roles,
		Permissions: permissions,
		Tokens:      pair,
	}, nil
}

// Logout revokes the presented refresh token and denylists the access
// token's jti for the rest of its lifetime.
func (s *AuthService) Logout(ctx context.Context, rawRefresh, accessToken, clientIP string) error {
	if err := s.tokens.RevokeRefreshToken(ctx, rawRefresh, clientIP, "logout"); err != nil {
		if !errors.Is(err, ErrInvalidRefreshToken) {
			return err
		}
	}

	if accessToken != "" {
		claims, err := s.tokens.ValidateAccessToken(ctx, accessToken)
		if err == nil {
			if err := s.tokens.RevokeAccessToken(ctx, claims, "logout"); err != nil {
				return err
			}
		}
	}

	return nil
}

// LogoutEverywhere revokes every session credential the user holds.
func (s *AuthService) LogoutEverywhere(ctx context.Context, userID string) (int, error) {
	return s.tokens.RevokeAllForUser(ctx, userID, "logout_everywhere")
}

func (s *AuthService) finalizeLogin(ctx context.Context, user *domain.User, key, clientIP string) (*LoginResult, error) {
	// Clear failure history before issuing credentials: a successful login
	// returns both the guard key and the account counter to a clean state.
	if user.FailedAttempts > 0 || user.LockoutEnd != nil {
		user.ResetFailedAttempts()
		if err := s.users.UpdateLoginState(ctx, user.ID, 0, nil); err != nil {
			return nil, fmt.Errorf("reset failed attempts: %w", err)
		}
	}
	if err := s.guard.Reset(ctx, key); err != nil {
		return nil, err
	}

	roles, permissions, err := s.resolveClaims(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.Issue(ctx, *user, roles, permissions, clientIP)
	if err != nil {
		return nil, err
	}
	s.countLogin("success")
	s.countTokens()

	s.publishSuccess(ctx, user, clientIP)

	return &LoginResult{
		User:        sanitizeUser(user),
		Roles:       roles,
		Permissions: permissions,
		Tokens:      pair,
	}, nil
}

func (s *AuthService) resolveClaims(ctx context.Context, userID string) ([]string, []string, error) {
	roles, err := s.rbac.RoleNames(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	permissions, err := s.rbac.ResolvePermissions(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return roles, permissions, nil
}

// registerFailure increments the account failure counter and starts the
// lockout window once the threshold is reached. The counter survives a
// lockout expiry; only a successful login clears it.
func (s *AuthService) registerFailure(ctx context.Context, user *domain.User, identifier, reason, clientIP string) error {
	now := s.now()
	locked := user.RegisterFailedAttempt(s.cfg.Lockout.MaxFailedAttempts, s.cfg.Lockout.Duration, now)

	if err := s.users.UpdateLoginState(ctx, user.ID, user.FailedAttempts, user.LockoutEnd); err != nil {
		return fmt.Errorf("store failed attempts: %w", err)
	}

	s.publishFailure(ctx, user, identifier, reason, clientIP, user.FailedAttempts)

	if locked {
		if s.metrics != nil {
			s.metrics.AccountLockouts.Inc()
		}
		s.logger.Warn("account locked",
			zap.String("user_id", user.ID),
			zap.Int("failed_attempts", user.FailedAttempts),
			zap.Timep("lockout_end", user.LockoutEnd),
		)
		s.publishLocked(ctx, user, clientIP)
	}

	return nil
}

func (s *AuthService) publishSuccess(ctx context.Context, user *domain.User, clientIP string) {
	if s.events == nil {
		return
	}
	event := domain.LoginSucceededEvent{
		EventID:    uuid.NewString(),
		UserID:     user.ID,
		Username:   user.Username,
		IPAddress:  optionalIP(clientIP),
		OccurredAt: s.now(),
	}
	if err := s.events.Publish(ctx, "login.succeeded", user.ID, event); err != nil {
		s.logger.Warn("publish login succeeded event failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}

func (s *AuthService) publishFailure(ctx context.Context, user *domain.User, identifier, reason, clientIP string, attempts int) {
	if s.events == nil {
		return
	}
	event := domain.LoginFailedEvent{
		EventID:        uuid.NewString(),
		Identifier:     identifier,
		Reason:         reason,
		IPAddress:      optionalIP(clientIP),
		FailedAttempts: attempts,
		OccurredAt:     s.now(),
	}
	key := identifier
	if user != nil {
		event.UserID = &user.ID
		key = user.ID
	}
	if err := s.events.Publish(ctx, "login.failed", key, event); err != nil {
		s.logger.Warn("publish login failed event failed", zap.Error(err))
	}
}

func (s *AuthService) publishLocked(ctx context.Context, user *domain.User, clientIP string) {
	if s.events == nil || user.LockoutEnd == nil {
		return
	}
	event := domain.AccountLockedEvent{
		EventID:    uuid.NewString(),
		UserID:     user.ID,
		LockoutEnd: *user.LockoutEnd,
		IPAddress:  optionalIP(clientIP),
		OccurredAt: s.now(),
	}
	if err := s.events.Publish(ctx, "account.locked", user.ID, event); err != nil {
		s.logger.Warn("publish account locked event failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}

func (s *AuthService) countLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.LoginAttempts.WithLabelValues(outcome).Inc()
	}
}

func (s *AuthService) countTwoFactor(outcome string) {
	if s.metrics != nil {
		s.metrics.TwoFactorChecks.WithLabelValues(outcome).Inc()
	}
}

func (s *AuthService) countRotation(outcome string) {
	if s.metrics != nil {
		s.metrics.TokenRotations.WithLabelValues(outcome).Inc()
	}
}

func (s *AuthService) countTokens() {
	if s.metrics != nil {
		s.metrics.TokensIssued.WithLabelValues("access").Inc()
		s.metrics.TokensIssued.WithLabelValues("refresh").Inc()
	}
}

func guardKey(identifier, clientIP string) string {
	identifier = strings.ToLower(identifier)
	if clientIP == "" {
		return identifier
	}
	return identifier + "|" + clientIP
}

func sanitizeUser(user *domain.User) *domain.User {
	sanitized := *user
	sanitized.PasswordHash = ""
	sanitized.TwoFactorSecret = nil
	return &sanitized
}

func optionalIP(clientIP string) *string {
	if clientIP == "" {
		return nil
	}
	ip := clientIP
	return &ip
}
