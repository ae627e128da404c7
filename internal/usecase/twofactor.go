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
	// ErrTwoFactorInvalidCode indicates the supplied TOTP or recovery code
	// did not validate. Callers must not reveal which.
	ErrTwoFactorInvalidCode = errors.New("invalid two factor code")
	// ErrTwoFactorNotEnabled indicates the account has no active second factor.
	ErrTwoFactorNotEnabled = errors.New("two factor not enabled")
	// ErrTwoFactorSetupNotPending indicates no setup awaits confirmation.
	ErrTwoFactorSetupNotPending = errors.New("two factor setup not pending")
	// ErrTwoFactorUnsupportedMethod indicates the requested method cannot be
	// provisioned.
	ErrTwoFactorUnsupportedMethod = errors.New("unsupported two factor method")
)

// TwoFactorSetup carries the secret material returned once at setup time.
type TwoFactorSetup struct {
	Secret          string
	ProvisioningURI string
}

// TwoFactorService drives the per-user second-factor state machine:
// Disabled -> PendingSetup -> Enabled, with recovery codes as the backup
// factor. Disabling requires a valid current code, never a bare toggle.
type TwoFactorService struct {
	users         port.UserRepository
	recoveryCodes port.RecoveryCodeRepository
	tokens        port.TokenRepository
	revocation    port.RevocationStore
	events        port.EventPublisher
	settings      config.TwoFactorSettings
	logger        *zap.Logger
	now           func() time.Time
}

// NewTwoFactorService constructs a TwoFactorService.
func NewTwoFactorService(
	users port.UserRepository,
	recoveryCodes port.RecoveryCodeRepository,
	tokens port.TokenRepository,
	revocation port.RevocationStore,
	events port.EventPublisher,
	settings config.TwoFactorSettings,
	logger *zap.Logger,
) *TwoFactorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &TwoFactorService{
		users:         users,
		recoveryCodes: recoveryCodes,
		tokens:        tokens,
		revocation:    revocation,
		events:        events,
		settings:      settings,
		logger:        logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the internal clock for deterministic tests.
func (s *TwoFactorService) WithClock(clock func() time.Time) *TwoFactorService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// BeginSetup generates a fresh secret, moves the account into the pending
// state, and returns the provisioning URI for QR rendering. Any previous
// secret and recovery codes are discarded.
func (s *TwoFactorService) BeginSetup(ctx context.Context, userID string, method domain.TwoFactorMethod) (*TwoFactorSetup, error) {
	if method != domain.TwoFactorApp {
		return nil, ErrTwoFactorUnsupportedMethod
	}

	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	secret, err := security.GenerateTOTPSecret()
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	label := user.Email
	if label == "" {
		label = user.Username
	}
	uri, err := security.TOTPProvisioningURI(secret, label, s.settings.Issuer)
	if err != nil {
		return nil, fmt.Errorf("build provisioning uri: %w", err)
	}

	user.BeginTwoFactorSetup(method, secret)
	if err := s.users.UpdateTwoFactor(ctx, user.ID, user.TwoFactorState, user.TwoFactorMethod, user.TwoFactorSecret); err != nil {
		return nil, fmt.Errorf("store two factor state: %w", err)
	}

	if err := s.recoveryCodes.DeleteAllForUser(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("clear recovery codes: %w", err)
	}

	return &TwoFactorSetup{Secret: secret, ProvisioningURI: uri}, nil
}

// ConfirmSetup verifies a code produced by the enrolled authenticator,
// enables the second factor, and returns the one-time recovery codes. The
// plaintext codes are shown exactly once; only hashes are persisted.
func (s *TwoFactorService) ConfirmSetup(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactorState != domain.TwoFactorPendingSetup || user.TwoFactorSecret == nil {
		return nil, ErrTwoFactorSetupNotPending
	}

	ok, err := security.VerifyTOTPCode(*user.TwoFactorSecret, code, s.now(), s.settings.CodeSkewSteps)
	if err != nil {
		return nil, fmt.Errorf("verify totp code: %w", err)
	}
	if !ok {
		return nil, ErrTwoFactorInvalidCode
	}

	if !user.ConfirmTwoFactor() {
		return nil, ErrTwoFactorSetupNotPending
	}
	if err := s.users.UpdateTwoFactor(ctx, user.ID, user.TwoFactorState, user.TwoFactorMethod, user.TwoFactorSecret); err != nil {
		return nil, fmt.Errorf("store two factor state: %w", err)
	}

	plaintext, err := s.replenishRecoveryCodes(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s.publishChange(ctx, user.ID, true, user.TwoFactorMethod)
	return plaintext, nil
}

// Disable turns the second factor off. The caller must present a valid
// current TOTP code or an unused recovery code. The secret and every
// recovery code are cleared, and all sessions are revoked.
func (s *TwoFactorService) Disable(ctx context.Context, userID, code string) error {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.TwoFactorActive() {
		return ErrTwoFactorNotEnabled
	}

	ok, err := s.VerifyCode(ctx, user, code)
	if err != nil {
		return err
	}
	if !ok {
		ok, err = s.ConsumeRecoveryCode(ctx, user.ID, code)
		if err != nil {
			return err
		}
	}
	if !ok {
		return ErrTwoFactorInvalidCode
	}

	method := user.TwoFactorMethod
	user.DisableTwoFactor()
	if err := s.users.UpdateTwoFactor(ctx, user.ID, user.TwoFactorState, user.TwoFactorMethod, user.TwoFactorSecret); err != nil {
		return fmt.Errorf("store two factor state: %w", err)
	}
	if err := s.recoveryCodes.DeleteAllForUser(ctx, user.ID); err != nil {
		return fmt.Errorf("clear recovery codes: %w", err)
	}

	now := s.now()
	if _, err := s.tokens.RevokeAllForUser(ctx, user.ID, now, "two_factor_disabled"); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	if s.revocation != nil {
		if err := s.revocation.SetValidSince(ctx, user.ID, now, 7*24*time.Hour); err != nil {
			return fmt.Errorf("bump token watermark: %w", err)
		}
	}

	s.publishChange(ctx, user.ID, false, method)
	return nil
}

// VerifyCode checks a TOTP code against the user's enrolled secret within
// the configured clock-drift window.
func (s *TwoFactorService) VerifyCode(_ context.Context, user *domain.User, code string) (bool, error) {
	if user == nil || user.TwoFactorSecret == nil {
		return false, nil
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return false, nil
	}

	ok, err := security.VerifyTOTPCode(*user.TwoFactorSecret, code, s.now(), s.settings.CodeSkewSteps)
	if err != nil {
		return false, fmt.Errorf("verify totp code: %w", err)
	}
	return ok, nil
}

// ConsumeRecoveryCode redeems a one-time recovery code. A consumed or
// expired code never validates again.
func (s *TwoFactorService) ConsumeRecoveryCode(ctx context.Context, userID, code string) (bool, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return false, nil
	}

	record, err := s.recoveryCodes.GetByHash(ctx, userID, security.HashToken(code))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("lookup recovery code: %w", err)
	}

	now := s.now()
	if !record.Consume(now) {
		return false, nil
	}

	if err := s.recoveryCodes.MarkUsed(ctx, record.ID, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Lost the race with a concurrent consumption of the same code.
			return false, nil
		}
		return false, fmt.Errorf("mark recovery code used: %w", err)
	}

	return true, nil
}

// RegenerateRecoveryCodes replaces the user's recovery code set after a
// valid current code is presented, returning the new plaintext codes.
func (s *TwoFactorService) RegenerateRecoveryCodes(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.TwoFactorActive() {
		return nil, ErrTwoFactorNotEnabled
	}

	ok, err := s.VerifyCode(ctx, user, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTwoFactorInvalidCode
	}

	return s.replenishRecoveryCodes(ctx, user.ID)
}

// RemainingRecoveryCodes reports how many codes are still redeemable.
func (s *TwoFactorService) RemainingRecoveryCodes(ctx context.Context, userID string) (int, error) {
	count, err := s.recoveryCodes.CountUnused(ctx, userID, s.now())
	if err != nil {
		return 0, fmt.Errorf("count recovery codes: %w", err)
	}
	return count, nil
}

func (s *TwoFactorService) replenishRecoveryCodes(ctx context.Context, userID string) ([]string, error) {
	count := s.settings.RecoveryCodeCount
	if count <= 0 {
		count = 10
	}
	length := s.settings.RecoveryCodeLength
	if length <= 0 {
		length = 10
	}
	ttl := s.settings.RecoveryCodeTTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}

	now := s.now()
	plaintext := make([]string, 0, count)
	records := make([]domain.RecoveryCode, 0, count)
	for i := 0; i < count; i++ {
		code, err := security.GenerateRecoveryCode(length)
		if err != nil {
			return nil, fmt.Errorf("generate recovery code: %w", err)
		}
		plaintext = append(plaintext, code)
		records = append(records, domain.RecoveryCode{
			ID:        uuid.NewString(),
			UserID:    userID,
			CodeHash:  security.HashToken(code),
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		})
	}

	if err := s.recoveryCodes.Replace(ctx, userID, records); err != nil {
		return nil, fmt.Errorf("store recovery codes: %w", err)
	}

	return plaintext, nil
}

func (s *TwoFactorService) getUser(ctx context.Context, userID string) (*domain.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (s *TwoFactorService) publishChange(ctx context.Context, userID string, enabled bool, method domain.TwoFactorMethod) {
	if s.events == nil {
		return
	}
	event := domain.TwoFactorChangedEvent{
		EventID:    uuid.NewString(),
		UserID:     userID,
		Enabled:    enabled,
		Method:     method,
		OccurredAt: s.now(),
	}
	if err := s.events.Publish(ctx, "twofactor.changed", userID, event); err != nil {
		s.logger.Warn("publish two factor event failed", zap.String("user_id", userID), zap.Error(err))
	}
}
