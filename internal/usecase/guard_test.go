package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arklim/authcore/internal/infra/config"
	"github.com/arklim/authcore/internal/repository/memory"
)

func testRateLimitSettings() config.RateLimitSettings {
	return config.RateLimitSettings{
		MaxAttempts:       5,
		WindowDuration:    15 * time.Minute,
		BlacklistDuration: 30 * time.Minute,
	}
}

func TestLoginGuardThreshold(t *testing.T) {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return base }

	store := memory.NewRateLimitStore().WithClock(clock)
	guard := NewLoginGuard(store, testRateLimitSettings(), nil).WithClock(clock)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		allowed, err := guard.CheckAndIncrement(ctx, "203.0.113.7|alice")
		if err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", i, err)
		}
		if !allowed {
			t.Fatalf("attempt %d: expected allowed", i)
		}
	}

	allowed, err := guard.CheckAndIncrement(ctx, "203.0.113.7|alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("sixth attempt should be rejected")
	}

	// Subsequent attempts are rejected without reaching the counter.
	allowed, err = guard.CheckAndIncrement(ctx, "203.0.113.7|alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("blacklisted key should stay rejected")
	}

	remaining, err := guard.RemainingAttempts(ctx, "203.0.113.7|alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected zero remaining attempts, got %d", remaining)
	}
}

func TestLoginGuardBlacklistExpires(t *testing.T) {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	current := base
	clock := func() time.Time { return current }

	store := memory.NewRateLimitStore().WithClock(clock)
	guard := NewLoginGuard(store, testRateLimitSettings(), nil).WithClock(clock)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if _, err := guard.CheckAndIncrement(ctx, "key"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	current = base.Add(31 * time.Minute)

	allowed, err := guard.CheckAndIncrement(ctx, "key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatal("expected key to be allowed after blacklist expiry")
	}
}

func TestLoginGuardReset(t *testing.T) {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return base }

	store := memory.NewRateLimitStore().WithClock(clock)
	guard := NewLoginGuard(store, testRateLimitSettings(), nil).WithClock(clock)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := guard.CheckAndIncrement(ctx, "key"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if err := guard.Reset(ctx, "key"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	remaining, err := guard.RemainingAttempts(ctx, "key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if remaining != 5 {
		t.Fatalf("expected full budget after reset, got %d", remaining)
	}
}

func TestLoginGuardWindowRestarts(t *testing.T) {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	current := base
	clock := func() time.Time { return current }

	store := memory.NewRateLimitStore().WithClock(clock)
	guard := NewLoginGuard(store, testRateLimitSettings(), nil).WithClock(clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := guard.CheckAndIncrement(ctx, "key"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// The window lapses before the threshold is crossed.
	current = base.Add(16 * time.Minute)

	allowed, err := guard.CheckAndIncrement(ctx, "key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatal("expected fresh window to allow the attempt")
	}
}

func TestLoginGuardRejectsEmptyKey(t *testing.T) {
	store := memory.NewRateLimitStore()
	guard := NewLoginGuard(store, testRateLimitSettings(), nil)

	if _, err := guard.CheckAndIncrement(context.Background(), "  "); err == nil {
		t.Fatal("expected error for blank key")
	}
	if err := guard.Reset(context.Background(), ""); err == nil {
		t.Fatal("expected error for blank key")
	}
}

func TestLoginGuardStoreErrorPropagates(t *testing.T) {
	guard := NewLoginGuard(failingRateLimitStore{}, testRateLimitSettings(), nil)

	_, err := guard.CheckAndIncrement(context.Background(), "key")
	if err == nil || !errors.Is(err, errStoreDown) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
}

var errStoreDown = errors.New("store down")

type failingRateLimitStore struct{}

func (failingRateLimitStore) Increment(context.Context, string, time.Duration) (int, error) {
	return 0, errStoreDown
}

func (failingRateLimitStore) Count(context.Context, string) (int, error) { return 0, errStoreDown }

func (failingRateLimitStore) Blacklist(context.Context, string, time.Time) error {
	return errStoreDown
}

func (failingRateLimitStore) BlacklistedUntil(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, errStoreDown
}

func (failingRateLimitStore) Reset(context.Context, string) error { return errStoreDown }
