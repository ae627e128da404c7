package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/authcore/internal/core/port"
	"github.com/arklim/authcore/internal/infra/config"
)

// ErrRateLimited indicates the key exceeded the failure threshold and is
// temporarily blacklisted.
var ErrRateLimited = errors.New("too many attempts")

// LoginGuard applies sliding-window rate limiting with temporary
// blacklisting to login attempt keys (IP, username, or composites).
type LoginGuard struct {
	store    port.RateLimitStore
	settings config.RateLimitSettings
	logger   *zap.Logger
	now      func() time.Time
}

// NewLoginGuard constructs a LoginGuard.
func NewLoginGuard(store port.RateLimitStore, settings config.RateLimitSettings, logger *zap.Logger) *LoginGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	guard := &LoginGuard{
		store:    store,
		settings: settings,
		logger:   logger,
	}
	guard.now = func() time.Time { return time.Now().UTC() }
	return guard
}

// WithClock overrides the internal clock for deterministic tests.
func (g *LoginGuard) WithClock(clock func() time.Time) *LoginGuard {
	if clock != nil {
		g.now = clock
	}
	return g
}

// CheckAndIncrement records one attempt against the key and reports whether
// it is allowed. A blacklisted key is rejected without incrementing. The
// attempt that reaches the threshold transitions the key to the blacklist
// and is itself rejected.
func (g *LoginGuard) CheckAndIncrement(ctx context.Context, key string) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("rate limit key is required")
	}

	now := g.now()

	until, blacklisted, err := g.store.BlacklistedUntil(ctx, key)
	if err != nil {
		return false, fmt.Errorf("check blacklist: %w", err)
	}
	if blacklisted && until.After(now) {
		return false, nil
	}

	count, err := g.store.Increment(ctx, key, g.settings.WindowDuration)
	if err != nil {
		return false, fmt.Errorf("increment attempts: %w", err)
	}

	if g.settings.MaxAttempts > 0 && count > g.settings.MaxAttempts {
		until := now.Add(g.settings.BlacklistDuration)
		if err := g.store.Blacklist(ctx, key, until); err != nil {
			return false, fmt.Errorf("blacklist key: %w", err)
		}
		g.logger.Warn("login key blacklisted",
			zap.String("key", key),
			zap.Int("attempts", count),
			zap.Time("until", until),
		)
		return false, nil
	}

	return true, nil
}

// Reset clears the key's attempt history and blacklist state. Called on
// successful authentication.
func (g *LoginGuard) Reset(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("rate limit key is required")
	}
	if err := g.store.Reset(ctx, key); err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}

// RemainingAttempts reports how many attempts the key has left in the
// current window. Blacklisted keys have zero.
func (g *LoginGuard) RemainingAttempts(ctx context.Context, key string) (int, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, fmt.Errorf("rate limit key is required")
	}

	until, blacklisted, err := g.store.BlacklistedUntil(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("check blacklist: %w", err)
	}
	if blacklisted && until.After(g.now()) {
		return 0, nil
	}

	count, err := g.store.Count(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}

	remaining := g.settings.MaxAttempts - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
