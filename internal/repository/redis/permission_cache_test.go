package redis

import (
	"context"
	"testing"
	"time"
)

func TestPermissionCacheRoundTrip(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewPermissionCacheRepository(client, "perms")

	ctx := context.Background()

	if _, found, err := repo.Get(ctx, "user-1"); err != nil || found {
		t.Fatalf("expected cache miss initially, found=%v err=%v", found, err)
	}

	permissions := []string{"content:read", "content:write"}
	if err := repo.Set(ctx, "user-1", permissions, 5*time.Minute); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	cached, found, err := repo.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !found {
		t.Fatal("expected cache hit")
	}
	if len(cached) != 2 || cached[0] != "content:read" || cached[1] != "content:write" {
		t.Fatalf("unexpected cached permissions: %v", cached)
	}
}

func TestPermissionCacheEmptySet(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewPermissionCacheRepository(client, "perms")

	ctx := context.Background()

	// An empty resolved set is a valid cache entry, distinct from a miss.
	if err := repo.Set(ctx, "user-2", nil, 5*time.Minute); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	cached, found, err := repo.Get(ctx, "user-2")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !found {
		t.Fatal("expected cache hit for empty set")
	}
	if len(cached) != 0 {
		t.Fatalf("expected empty permission set, got %v", cached)
	}
}

func TestPermissionCacheInvalidate(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewPermissionCacheRepository(client, "perms")

	ctx := context.Background()

	if err := repo.Set(ctx, "user-1", []string{"content:read"}, 5*time.Minute); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := repo.Set(ctx, "user-2", []string{"content:write"}, 5*time.Minute); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	if err := repo.Invalidate(ctx, "user-1", "user-2"); err != nil {
		t.Fatalf("Invalidate returned error: %v", err)
	}

	for _, userID := range []string{"user-1", "user-2"} {
		if _, found, _ := repo.Get(ctx, userID); found {
			t.Fatalf("expected %s cache entry to be invalidated", userID)
		}
	}
}
