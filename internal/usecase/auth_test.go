package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/infra/config"
	"github.com/arklim/authcore/internal/infra/kafka"
	"github.com/arklim/authcore/internal/infra/security"
	"github.com/arklim/authcore/internal/infra/telemetry"
	"github.com/arklim/authcore/internal/repository/memory"
)

// authEnv wires the full login stack against in-memory dependencies.
type authEnv struct {
	auth         *AuthService
	registration *RegistrationService
	rbac         *RBACService
	twoFactor    *TwoFactorService
	tokens       *TokenService
	users        *memUserRepo
	tokenRepo    *memTokenRepo
	publisher    *kafka.StubPublisher
	clock        *time.Time
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()

	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	current := base
	clock := func() time.Time { return current }

	cfg := &config.AppConfig{
		JWT:       testJWTSettings(),
		TwoFactor: testTwoFactorSettings(),
		RateLimit: config.RateLimitSettings{
			MaxAttempts:       10,
			WindowDuration:    15 * time.Minute,
			BlacklistDuration: 30 * time.Minute,
		},
		Lockout: config.LockoutSettings{
			MaxFailedAttempts: 3,
			Duration:          15 * time.Minute,
		},
	}

	users := newMemUserRepo()
	roles := newMemRoleRepo()
	perms := newMemPermissionRepo(roles)
	tokenRepo := newMemTokenRepo()
	recoveryCodes := newMemRecoveryCodeRepo()
	cache := newMemPermissionCache()
	revocation := newMemRevocationStore()
	publisher := kafka.NewStubPublisher(nil)

	guardStore := memory.NewRateLimitStore().WithClock(clock)
	guard := NewLoginGuard(guardStore, cfg.RateLimit, nil).WithClock(clock)

	policy := security.NewPasswordPolicy(security.DefaultPasswordPolicySettings())
	hasher := security.Hasher{}

	generator, err := security.NewTokenGenerator([]byte(cfg.JWT.SigningKey), cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.AccessTokenTTL)
	if err != nil {
		t.Fatalf("new token generator: %v", err)
	}
	generator.WithClock(clock)

	credentials := NewCredentialService(users, tokenRepo, revocation, hasher, policy, publisher, nil).WithClock(clock)
	twoFactor := NewTwoFactorService(users, recoveryCodes, tokenRepo, revocation, publisher, cfg.TwoFactor, nil).WithClock(clock)
	rbac := NewRBACService(roles, perms, cache, publisher, nil).WithClock(clock)
	tokens := NewTokenService(cfg.JWT, tokenRepo, revocation, generator, publisher, nil).WithClock(clock)
	registration := NewRegistrationService(users, rbac, hasher, policy, nil).WithClock(clock)

	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	auth := NewAuthService(cfg, users, guard, credentials, twoFactor, rbac, tokens, publisher, nil).
		WithClock(clock).
		WithMetrics(metrics)

	return &authEnv{
		auth:         auth,
		registration: registration,
		rbac:         rbac,
		twoFactor:    twoFactor,
		tokens:       tokens,
		users:        users,
		tokenRepo:    tokenRepo,
		publisher:    publisher,
		clock:        &current,
	}
}

func (e *authEnv) mustRegister(t *testing.T, username, email string) *domain.User {
	t.Helper()
	user, err := e.registration.Register(context.Background(), username, email, "", testPassword, "")
	if err != nil {
		t.Fatalf("register %q: %v", username, err)
	}
	return user
}

// Covers the full session lifecycle: register, log in, call a protected
// operation, rotate the refresh token, and observe reuse detection.
func TestAuthLoginRefreshReuseLifecycle(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	user := env.mustRegister(t, "alice", "alice@example.com")

	role, err := env.rbac.CreateRole(ctx, "member", "Member", false)
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	permission, err := env.rbac.CreatePermission(ctx, "profile.read", "profile", "profile", "read")
	if err != nil {
		t.Fatalf("create permission: %v", err)
	}
	if err := env.rbac.AttachPermissions(ctx, role.ID, []string{permission.ID}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := env.rbac.AssignRole(ctx, user.ID, role.ID, nil); err != nil {
		t.Fatalf("assign: %v", err)
	}

	result, err := env.auth.Login(ctx, "alice", testPassword, "203.0.113.5")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.TwoFactorRequired {
		t.Fatal("unexpected two factor challenge")
	}
	if result.User.PasswordHash != "" {
		t.Fatal("login result must not expose the password hash")
	}

	claims, err := env.tokens.ValidateAccessToken(ctx, result.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("validate access token: %v", err)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "member" {
		t.Fatalf("unexpected roles claim %v", claims.Roles)
	}
	if len(claims.Permissions) != 1 || claims.Permissions[0] != "profile.read" {
		t.Fatalf("unexpected permissions claim %v", claims.Permissions)
	}

	refreshed, err := env.auth.Refresh(ctx, result.Tokens.RefreshToken, "203.0.113.5")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.Tokens.RefreshToken == result.Tokens.RefreshToken {
		t.Fatal("refresh must mint a new refresh token")
	}

	// Replaying the consumed token kills the whole chain.
	if _, err := env.auth.Refresh(ctx, result.Tokens.RefreshToken, "203.0.113.5"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken, got %v", err)
	}
	if _, err := env.auth.Refresh(ctx, refreshed.Tokens.RefreshToken, "203.0.113.5"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected successor to be revoked, got %v", err)
	}
}

// Covers account lockout: the failure counter locks the account at the
// threshold, survives the lockout window, and clears only on success.
func TestAuthAccountLockout(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	env.mustRegister(t, "bob", "bob@example.com")

	for i := 0; i < 2; i++ {
		if _, err := env.auth.Login(ctx, "bob", "Wr0ng!Passw0rd", "203.0.113.5"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	// The third failure crosses the threshold.
	_, err := env.auth.Login(ctx, "bob", "Wr0ng!Passw0rd", "203.0.113.5")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	_, err = env.auth.Login(ctx, "bob", testPassword, "203.0.113.5")
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}
	var lockedErr *AccountLockedError
	if !errors.As(err, &lockedErr) {
		t.Fatalf("expected *AccountLockedError, got %T", err)
	}
	if !lockedErr.Until.After(*env.clock) {
		t.Fatal("expected lockout end in the future")
	}

	// The window lapses but the counter does not: one more failure
	// re-locks immediately.
	*env.clock = env.clock.Add(16 * time.Minute)

	if _, err := env.auth.Login(ctx, "bob", "Wr0ng!Passw0rd", "203.0.113.5"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := env.auth.Login(ctx, "bob", testPassword, "203.0.113.5"); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected immediate re-lock, got %v", err)
	}

	// Only a successful login clears the history.
	*env.clock = env.clock.Add(16 * time.Minute)

	result, err := env.auth.Login(ctx, "bob", testPassword, "203.0.113.5")
	if err != nil {
		t.Fatalf("login after lockout: %v", err)
	}
	if result.Tokens == nil {
		t.Fatal("expected issued tokens")
	}

	stored, err := env.users.GetByIdentifier(ctx, "bob")
	if err != nil {
		t.Fatalf("lookup user: %v", err)
	}
	if stored.FailedAttempts != 0 || stored.LockoutEnd != nil {
		t.Fatalf("expected cleared failure state, got %d attempts", stored.FailedAttempts)
	}
}

// Covers the two-step login with an enrolled authenticator app.
func TestAuthTwoFactorLogin(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	user := env.mustRegister(t, "carol", "carol@example.com")

	setup, err := env.twoFactor.BeginSetup(ctx, user.ID, domain.TwoFactorApp)
	if err != nil {
		t.Fatalf("begin setup: %v", err)
	}
	code, err := security.GenerateTOTPCode(setup.Secret, *env.clock)
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	recovery, err := env.twoFactor.ConfirmSetup(ctx, user.ID, code)
	if err != nil {
		t.Fatalf("confirm setup: %v", err)
	}

	result, err := env.auth.Login(ctx, "carol", testPassword, "203.0.113.5")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !result.TwoFactorRequired {
		t.Fatal("expected two factor challenge")
	}
	if result.Tokens != nil {
		t.Fatal("tokens must not be issued before the second factor")
	}
	if result.User.TwoFactorSecret != nil {
		t.Fatal("challenge result must not expose the shared secret")
	}

	// A wrong code counts toward the lockout threshold.
	if _, err := env.auth.CompleteTwoFactor(ctx, "carol", "000000", "203.0.113.5"); !errors.Is(err, ErrTwoFactorInvalidCode) {
		t.Fatalf("expected ErrTwoFactorInvalidCode, got %v", err)
	}
	stored, err := env.users.GetByIdentifier(ctx, "carol")
	if err != nil {
		t.Fatalf("lookup user: %v", err)
	}
	if stored.FailedAttempts != 1 {
		t.Fatalf("expected 1 failed attempt, got %d", stored.FailedAttempts)
	}

	code, err = security.GenerateTOTPCode(setup.Secret, *env.clock)
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	completed, err := env.auth.CompleteTwoFactor(ctx, "carol", code, "203.0.113.5")
	if err != nil {
		t.Fatalf("complete two factor: %v", err)
	}
	if completed.Tokens == nil {
		t.Fatal("expected issued tokens")
	}

	// A recovery code also completes the challenge, exactly once.
	if _, err := env.auth.Login(ctx, "carol", testPassword, "203.0.113.5"); err != nil {
		t.Fatalf("login: %v", err)
	}
	completed, err = env.auth.CompleteTwoFactor(ctx, "carol", recovery[0], "203.0.113.5")
	if err != nil {
		t.Fatalf("complete with recovery code: %v", err)
	}
	if completed.Tokens == nil {
		t.Fatal("expected issued tokens")
	}
	if _, err := env.auth.CompleteTwoFactor(ctx, "carol", recovery[0], "203.0.113.5"); !errors.Is(err, ErrTwoFactorInvalidCode) {
		t.Fatalf("expected replayed recovery code to fail, got %v", err)
	}
}

func TestAuthLoginRateLimited(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	// Unknown identifiers burn guard attempts without touching any account.
	for i := 0; i < 10; i++ {
		if _, err := env.auth.Login(ctx, "ghost", "Wr0ng!Passw0rd", "203.0.113.9"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	_, err := env.auth.Login(ctx, "ghost", "Wr0ng!Passw0rd", "203.0.113.9")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// The guard key is per identifier and IP; other clients are unaffected.
	if _, err := env.auth.Login(ctx, "ghost", "Wr0ng!Passw0rd", "203.0.113.10"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected other IP to pass the guard, got %v", err)
	}
}

func TestAuthLoginInactiveAccount(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	user := env.mustRegister(t, "dave", "dave@example.com")
	if err := env.users.SoftDelete(ctx, user.ID, *env.clock); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	// Soft-deleted accounts are indistinguishable from unknown ones.
	_, err := env.auth.Login(ctx, "dave", testPassword, "203.0.113.5")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthLogout(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	env.mustRegister(t, "erin", "erin@example.com")

	result, err := env.auth.Login(ctx, "erin", testPassword, "203.0.113.5")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := env.auth.Logout(ctx, result.Tokens.RefreshToken, result.Tokens.AccessToken, "203.0.113.5"); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if _, err := env.auth.Refresh(ctx, result.Tokens.RefreshToken, "203.0.113.5"); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected revoked refresh token, got %v", err)
	}
	if _, err := env.tokens.ValidateAccessToken(ctx, result.Tokens.AccessToken); !errors.Is(err, ErrRevokedAccessToken) {
		t.Fatalf("expected revoked access token, got %v", err)
	}
}

func TestAuthLogoutEverywhere(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	user := env.mustRegister(t, "frank", "frank@example.com")

	first, err := env.auth.Login(ctx, "frank", testPassword, "203.0.113.5")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := env.auth.Login(ctx, "frank", testPassword, "203.0.113.6"); err != nil {
		t.Fatalf("login: %v", err)
	}

	*env.clock = env.clock.Add(time.Minute)

	revoked, err := env.auth.LogoutEverywhere(ctx, user.ID)
	if err != nil {
		t.Fatalf("logout everywhere: %v", err)
	}
	if revoked != 2 {
		t.Fatalf("expected 2 revoked sessions, got %d", revoked)
	}
	if _, err := env.tokens.ValidateAccessToken(ctx, first.Tokens.AccessToken); !errors.Is(err, ErrRevokedAccessToken) {
		t.Fatalf("expected watermarked access token to fail, got %v", err)
	}
}

func TestRegistrationDuplicate(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	env.mustRegister(t, "grace", "grace@example.com")

	_, err := env.registration.Register(ctx, "grace", "other@example.com", "", testPassword, "")
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestRegistrationDefaultRole(t *testing.T) {
	env := newAuthEnv(t)
	ctx := context.Background()

	if _, err := env.rbac.CreateRole(ctx, "member", "Member", false); err != nil {
		t.Fatalf("create role: %v", err)
	}

	user, err := env.registration.Register(ctx, "heidi", "heidi@example.com", "+15550100", testPassword, "member")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	names, err := env.rbac.RoleNames(ctx, user.ID)
	if err != nil {
		t.Fatalf("role names: %v", err)
	}
	if len(names) != 1 || names[0] != "member" {
		t.Fatalf("unexpected roles %v", names)
	}
}
