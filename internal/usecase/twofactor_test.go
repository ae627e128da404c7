package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/infra/config"
	"github.com/arklim/authcore/internal/infra/kafka"
	"github.com/arklim/authcore/internal/infra/security"
)

func testTwoFactorSettings() config.TwoFactorSettings {
	return config.TwoFactorSettings{
		Issuer:             "authcore",
		CodeSkewSteps:      1,
		RecoveryCodeCount:  8,
		RecoveryCodeLength: 10,
		RecoveryCodeTTL:    30 * 24 * time.Hour,
	}
}

type twoFactorEnv struct {
	service   *TwoFactorService
	users     *memUserRepo
	codes     *memRecoveryCodeRepo
	tokens    *memTokenRepo
	publisher *kafka.StubPublisher
	clock     *time.Time
}

func newTwoFactorEnv(t *testing.T) *twoFactorEnv {
	t.Helper()

	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	current := base
	clock := func() time.Time { return current }

	users := newMemUserRepo()
	codes := newMemRecoveryCodeRepo()
	tokens := newMemTokenRepo()
	revocation := newMemRevocationStore()
	publisher := kafka.NewStubPublisher(nil)

	service := NewTwoFactorService(users, codes, tokens, revocation, publisher, testTwoFactorSettings(), nil).WithClock(clock)

	if err := users.Create(context.Background(), domain.User{
		ID:              "user-1",
		Username:        "alice",
		Email:           "alice@example.com",
		IsActive:        true,
		TwoFactorState:  domain.TwoFactorDisabled,
		TwoFactorMethod: domain.TwoFactorNone,
	}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	return &twoFactorEnv{
		service:   service,
		users:     users,
		codes:     codes,
		tokens:    tokens,
		publisher: publisher,
		clock:     &current,
	}
}

// enroll walks user-1 through setup and confirmation, returning the secret
// and the recovery codes.
func (e *twoFactorEnv) enroll(t *testing.T) (string, []string) {
	t.Helper()
	ctx := context.Background()

	setup, err := e.service.BeginSetup(ctx, "user-1", domain.TwoFactorApp)
	if err != nil {
		t.Fatalf("begin setup: %v", err)
	}

	code, err := security.GenerateTOTPCode(setup.Secret, *e.clock)
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}

	recovery, err := e.service.ConfirmSetup(ctx, "user-1", code)
	if err != nil {
		t.Fatalf("confirm setup: %v", err)
	}
	return setup.Secret, recovery
}

func TestTwoFactorSetupFlow(t *testing.T) {
	env := newTwoFactorEnv(t)
	ctx := context.Background()

	setup, err := env.service.BeginSetup(ctx, "user-1", domain.TwoFactorApp)
	if err != nil {
		t.Fatalf("begin setup: %v", err)
	}
	if setup.Secret == "" {
		t.Fatal("expected a secret")
	}
	if !strings.HasPrefix(setup.ProvisioningURI, "otpauth://totp/") {
		t.Fatalf("unexpected provisioning URI %q", setup.ProvisioningURI)
	}

	user, err := env.users.GetByID(ctx, "user-1")
	if err != nil {
		t.Fatalf("lookup user: %v", err)
	}
	if user.TwoFactorState != domain.TwoFactorPendingSetup {
		t.Fatalf("expected pending state, got %v", user.TwoFactorState)
	}

	code, err := security.GenerateTOTPCode(setup.Secret, *env.clock)
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	recovery, err := env.service.ConfirmSetup(ctx, "user-1", code)
	if err != nil {
		t.Fatalf("confirm setup: %v", err)
	}
	if len(recovery) != 8 {
		t.Fatalf("expected 8 recovery codes, got %d", len(recovery))
	}

	user, err = env.users.GetByID(ctx, "user-1")
	if err != nil {
		t.Fatalf("lookup user: %v", err)
	}
	if !user.TwoFactorActive() {
		t.Fatal("expected active second factor after confirmation")
	}

	events := env.publisher.Events()
	if len(events) != 1 || events[0].Topic != "twofactor.changed" {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestTwoFactorBeginSetupUnsupportedMethod(t *testing.T) {
	env := newTwoFactorEnv(t)

	_, err := env.service.BeginSetup(context.Background(), "user-1", domain.TwoFactorSMS)
	if !errors.Is(err, ErrTwoFactorUnsupportedMethod) {
		t.Fatalf("expected ErrTwoFactorUnsupportedMethod, got %v", err)
	}
}

func TestTwoFactorConfirmWithoutPendingSetup(t *testing.T) {
	env := newTwoFactorEnv(t)

	_, err := env.service.ConfirmSetup(context.Background(), "user-1", "123456")
	if !errors.Is(err, ErrTwoFactorSetupNotPending) {
		t.Fatalf("expected ErrTwoFactorSetupNotPending, got %v", err)
	}
}

func TestTwoFactorConfirmRejectsBadCode(t *testing.T) {
	env := newTwoFactorEnv(t)
	ctx := context.Background()

	if _, err := env.service.BeginSetup(ctx, "user-1", domain.TwoFactorApp); err != nil {
		t.Fatalf("begin setup: %v", err)
	}

	_, err := env.service.ConfirmSetup(ctx, "user-1", "000000")
	if !errors.Is(err, ErrTwoFactorInvalidCode) {
		t.Fatalf("expected ErrTwoFactorInvalidCode, got %v", err)
	}

	// The account stays in the pending state for a retry.
	user, err := env.users.GetByID(ctx, "user-1")
	if err != nil {
		t.Fatalf("lookup user: %v", err)
	}
	if user.TwoFactorState != domain.TwoFactorPendingSetup {
		t.Fatalf("expected pending state, got %v", user.TwoFactorState)
	}
}

func TestTwoFactorVerifyCodeWithSkew(t *testing.T) {
	env := newTwoFactorEnv(t)
	secret, _ := env.enroll(t)
	ctx := context.Background()

	user, err := env.users.GetByID(ctx, "user-1")
	if err != nil {
		t.Fatalf("lookup user: %v", err)
	}

	// A code from the previous step validates within the drift window.
	code, err := security.GenerateTOTPCode(secret, env.clock.Add(-30*time.Second))
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	ok, err := env.service.VerifyCode(ctx, user, code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatal("expected adjacent-step code to validate")
	}

	// A code from far outside the window does not.
	code, err = security.GenerateTOTPCode(secret, env.clock.Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	ok, err = env.service.VerifyCode(ctx, user, code)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatal("expected stale code to be rejected")
	}
}

func TestTwoFactorRecoveryCodeSingleUse(t *testing.T) {
	env := newTwoFactorEnv(t)
	_, recovery := env.enroll(t)
	ctx := context.Background()

	ok, err := env.service.ConsumeRecoveryCode(ctx, "user-1", recovery[0])
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !ok {
		t.Fatal("expected first redemption to succeed")
	}

	ok, err = env.service.ConsumeRecoveryCode(ctx, "user-1", recovery[0])
	if err != nil {
		t.Fatalf("repeat consume: %v", err)
	}
	if ok {
		t.Fatal("expected replayed code to be rejected")
	}

	remaining, err := env.service.RemainingRecoveryCodes(ctx, "user-1")
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 7 {
		t.Fatalf("expected 7 remaining codes, got %d", remaining)
	}
}

func TestTwoFactorDisableRequiresValidCode(t *testing.T) {
	env := newTwoFactorEnv(t)
	secret, _ := env.enroll(t)
	ctx := context.Background()

	if err := env.service.Disable(ctx, "user-1", "000000"); !errors.Is(err, ErrTwoFactorInvalidCode) {
		t.Fatalf("expected ErrTwoFactorInvalidCode, got %v", err)
	}

	code, err := security.GenerateTOTPCode(secret, *env.clock)
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if err := env.service.Disable(ctx, "user-1", code); err != nil {
		t.Fatalf("disable: %v", err)
	}

	user, err := env.users.GetByID(ctx, "user-1")
	if err != nil {
		t.Fatalf("lookup user: %v", err)
	}
	if user.TwoFactorActive() || user.TwoFactorSecret != nil {
		t.Fatal("expected cleared second factor")
	}

	remaining, err := env.service.RemainingRecoveryCodes(ctx, "user-1")
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected recovery codes to be wiped, got %d", remaining)
	}
}

func TestTwoFactorDisableWithRecoveryCodeRevokesSessions(t *testing.T) {
	env := newTwoFactorEnv(t)
	_, recovery := env.enroll(t)
	ctx := context.Background()

	if err := env.tokens.CreateRefreshToken(ctx, domain.RefreshToken{
		ID:        "token-1",
		UserID:    "user-1",
		TokenHash: "hash-1",
		CreatedAt: *env.clock,
		ExpiresAt: env.clock.Add(24 * time.Hour),
	}); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	if err := env.service.Disable(ctx, "user-1", recovery[0]); err != nil {
		t.Fatalf("disable: %v", err)
	}

	active, err := env.tokens.ListActiveByUser(ctx, "user-1", *env.clock)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected all sessions revoked, got %d active", len(active))
	}
}

func TestTwoFactorDisableWhenNotEnabled(t *testing.T) {
	env := newTwoFactorEnv(t)

	err := env.service.Disable(context.Background(), "user-1", "123456")
	if !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Fatalf("expected ErrTwoFactorNotEnabled, got %v", err)
	}
}

func TestTwoFactorRegenerateRecoveryCodes(t *testing.T) {
	env := newTwoFactorEnv(t)
	secret, old := env.enroll(t)
	ctx := context.Background()

	code, err := security.GenerateTOTPCode(secret, *env.clock)
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	fresh, err := env.service.RegenerateRecoveryCodes(ctx, "user-1", code)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if len(fresh) != 8 {
		t.Fatalf("expected 8 codes, got %d", len(fresh))
	}

	// The old set is fully invalidated.
	ok, err := env.service.ConsumeRecoveryCode(ctx, "user-1", old[0])
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if ok {
		t.Fatal("expected replaced code to be rejected")
	}
}
