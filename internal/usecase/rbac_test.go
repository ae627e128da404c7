package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/infra/kafka"
)

type rbacEnv struct {
	service   *RBACService
	roles     *memRoleRepo
	perms     *memPermissionRepo
	cache     *memPermissionCache
	publisher *kafka.StubPublisher
	clock     *time.Time
}

func newRBACEnv(t *testing.T) *rbacEnv {
	t.Helper()

	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	current := base
	clock := func() time.Time { return current }

	roles := newMemRoleRepo()
	perms := newMemPermissionRepo(roles)
	cache := newMemPermissionCache()
	publisher := kafka.NewStubPublisher(nil)

	service := NewRBACService(roles, perms, cache, publisher, nil).WithClock(clock)

	return &rbacEnv{
		service:   service,
		roles:     roles,
		perms:     perms,
		cache:     cache,
		publisher: publisher,
		clock:     &current,
	}
}

func (e *rbacEnv) mustCreateRole(t *testing.T, name string) *domain.Role {
	t.Helper()
	role, err := e.service.CreateRole(context.Background(), name, name, false)
	if err != nil {
		t.Fatalf("create role %q: %v", name, err)
	}
	return role
}

func (e *rbacEnv) mustCreatePermission(t *testing.T, name string) *domain.Permission {
	t.Helper()
	permission, err := e.service.CreatePermission(context.Background(), name, "test", "resource", "action")
	if err != nil {
		t.Fatalf("create permission %q: %v", name, err)
	}
	return permission
}

func TestRBACCreateRoleDuplicate(t *testing.T) {
	env := newRBACEnv(t)
	env.mustCreateRole(t, "admin")

	if _, err := env.service.CreateRole(context.Background(), "admin", "Admin", false); !errors.Is(err, ErrRoleExists) {
		t.Fatalf("expected ErrRoleExists, got %v", err)
	}
}

func TestRBACAssignRoleIdempotent(t *testing.T) {
	env := newRBACEnv(t)
	ctx := context.Background()
	role := env.mustCreateRole(t, "editor")

	if err := env.service.AssignRole(ctx, "user-1", role.ID, nil); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := env.service.AssignRole(ctx, "user-1", role.ID, nil); err != nil {
		t.Fatalf("repeat assign: %v", err)
	}

	names, err := env.service.RoleNames(ctx, "user-1")
	if err != nil {
		t.Fatalf("role names: %v", err)
	}
	if len(names) != 1 || names[0] != "editor" {
		t.Fatalf("unexpected roles %v", names)
	}

	// Removing twice is equally harmless.
	if err := env.service.RemoveRole(ctx, "user-1", role.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := env.service.RemoveRole(ctx, "user-1", role.ID); err != nil {
		t.Fatalf("repeat remove: %v", err)
	}
}

func TestRBACAssignUnknownRole(t *testing.T) {
	env := newRBACEnv(t)

	err := env.service.AssignRole(context.Background(), "user-1", "no-such-role", nil)
	if !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
}

func TestRBACSystemRoleImmutable(t *testing.T) {
	env := newRBACEnv(t)
	ctx := context.Background()

	role, err := env.service.CreateRole(ctx, "superuser", "Superuser", true)
	if err != nil {
		t.Fatalf("create role: %v", err)
	}

	if err := env.service.RenameRole(ctx, role.ID, "root", "Root"); !errors.Is(err, ErrSystemRoleImmutable) {
		t.Fatalf("expected ErrSystemRoleImmutable, got %v", err)
	}
	if err := env.service.DeleteRole(ctx, role.ID); !errors.Is(err, ErrSystemRoleImmutable) {
		t.Fatalf("expected ErrSystemRoleImmutable, got %v", err)
	}
}

func TestRBACResolvePermissionsUnion(t *testing.T) {
	env := newRBACEnv(t)
	ctx := context.Background()

	editor := env.mustCreateRole(t, "editor")
	viewer := env.mustCreateRole(t, "viewer")
	read := env.mustCreatePermission(t, "articles.read")
	write := env.mustCreatePermission(t, "articles.write")

	if err := env.service.AttachPermissions(ctx, editor.ID, []string{read.ID, write.ID}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := env.service.AttachPermissions(ctx, viewer.ID, []string{read.ID}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := env.service.AssignRole(ctx, "user-1", editor.ID, nil); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := env.service.AssignRole(ctx, "user-1", viewer.ID, nil); err != nil {
		t.Fatalf("assign: %v", err)
	}

	resolved, err := env.service.ResolvePermissions(ctx, "user-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("expected deduplicated union of 2 permissions, got %v", resolved)
	}

	ok, err := env.service.HasPermission(ctx, "user-1", "articles.write")
	if err != nil {
		t.Fatalf("has permission: %v", err)
	}
	if !ok {
		t.Fatal("expected user to hold articles.write")
	}
}

func TestRBACCacheCoherence(t *testing.T) {
	env := newRBACEnv(t)
	ctx := context.Background()

	editor := env.mustCreateRole(t, "editor")
	read := env.mustCreatePermission(t, "articles.read")
	if err := env.service.AttachPermissions(ctx, editor.ID, []string{read.ID}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := env.service.AssignRole(ctx, "user-1", editor.ID, nil); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if _, err := env.service.ResolvePermissions(ctx, "user-1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if env.cache.sets != 1 {
		t.Fatalf("expected 1 cache fill, got %d", env.cache.sets)
	}

	// A second resolution is served from the cache.
	if _, err := env.service.ResolvePermissions(ctx, "user-1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if env.cache.hits != 1 {
		t.Fatalf("expected 1 cache hit, got %d", env.cache.hits)
	}

	// A role grant invalidates synchronously; the next read sees the
	// enlarged set, not the stale entry.
	admin := env.mustCreateRole(t, "admin")
	write := env.mustCreatePermission(t, "articles.write")
	if err := env.service.AttachPermissions(ctx, admin.ID, []string{write.ID}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := env.service.AssignRole(ctx, "user-1", admin.ID, nil); err != nil {
		t.Fatalf("assign: %v", err)
	}

	resolved, err := env.service.ResolvePermissions(ctx, "user-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolved) != 2 {
		t.Fatalf("expected fresh set of 2 permissions, got %v", resolved)
	}
}

func TestRBACDetachInvalidatesHolders(t *testing.T) {
	env := newRBACEnv(t)
	ctx := context.Background()

	editor := env.mustCreateRole(t, "editor")
	read := env.mustCreatePermission(t, "articles.read")
	if err := env.service.AttachPermissions(ctx, editor.ID, []string{read.ID}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := env.service.AssignRole(ctx, "user-1", editor.ID, nil); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.service.ResolvePermissions(ctx, "user-1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if err := env.service.DetachPermissions(ctx, editor.ID, []string{read.ID}); err != nil {
		t.Fatalf("detach: %v", err)
	}

	resolved, err := env.service.ResolvePermissions(ctx, "user-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolved) != 0 {
		t.Fatalf("expected empty set after detach, got %v", resolved)
	}
}

func TestRBACDeleteRoleInvalidatesHolders(t *testing.T) {
	env := newRBACEnv(t)
	ctx := context.Background()

	editor := env.mustCreateRole(t, "editor")
	read := env.mustCreatePermission(t, "articles.read")
	if err := env.service.AttachPermissions(ctx, editor.ID, []string{read.ID}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := env.service.AssignRole(ctx, "user-1", editor.ID, nil); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.service.ResolvePermissions(ctx, "user-1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if err := env.service.DeleteRole(ctx, editor.ID); err != nil {
		t.Fatalf("delete role: %v", err)
	}

	resolved, err := env.service.ResolvePermissions(ctx, "user-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolved) != 0 {
		t.Fatalf("expected empty set after role deletion, got %v", resolved)
	}
}

func TestRBACExpiredAssignmentIgnored(t *testing.T) {
	env := newRBACEnv(t)
	ctx := context.Background()

	editor := env.mustCreateRole(t, "editor")
	expiry := env.clock.Add(time.Hour)
	if err := env.service.AssignRole(ctx, "user-1", editor.ID, &expiry); err != nil {
		t.Fatalf("assign: %v", err)
	}

	ok, err := env.service.HasAnyRole(ctx, "user-1", "editor")
	if err != nil {
		t.Fatalf("has any role: %v", err)
	}
	if !ok {
		t.Fatal("expected role before expiry")
	}

	*env.clock = env.clock.Add(2 * time.Hour)

	ok, err = env.service.HasAnyRole(ctx, "user-1", "editor")
	if err != nil {
		t.Fatalf("has any role: %v", err)
	}
	if ok {
		t.Fatal("expected role to lapse after expiry")
	}

	purged, err := env.service.PurgeExpiredAssignments(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged assignment, got %d", purged)
	}
}

func TestRBACAssignPublishesEvent(t *testing.T) {
	env := newRBACEnv(t)
	ctx := context.Background()
	role := env.mustCreateRole(t, "editor")

	if err := env.service.AssignRole(ctx, "user-1", role.ID, nil); err != nil {
		t.Fatalf("assign: %v", err)
	}

	events := env.publisher.Events()
	if len(events) != 1 || events[0].Topic != "roles.changed" {
		t.Fatalf("unexpected events %v", events)
	}
	payload, ok := events[0].Payload.(domain.RolesChangedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", events[0].Payload)
	}
	if !payload.Assigned || payload.RoleName != "editor" || payload.UserID != "user-1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}
