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
	"github.com/arklim/authcore/internal/repository"
)

var (
	// ErrRoleNotFound indicates the referenced role does not exist.
	ErrRoleNotFound = errors.New("role not found")
	// ErrPermissionNotFound indicates the referenced permission does not exist.
	ErrPermissionNotFound = errors.New("permission not found")
	// ErrRoleExists indicates a role with the same name already exists.
	ErrRoleExists = errors.New("role already exists")
	// ErrPermissionExists indicates a permission with the same name already exists.
	ErrPermissionExists = errors.New("permission already exists")
	// ErrSystemRoleImmutable indicates a system role cannot be deleted or renamed.
	ErrSystemRoleImmutable = errors.New("system role cannot be modified")
)

// RBACService manages roles, permissions, their relations, and cached
// permission resolution. Every mutation invalidates the affected users'
// cache entries before returning, so reads issued after a mutation never
// observe stale authorization state.
type RBACService struct {
	roles       port.RoleRepository
	permissions port.PermissionRepository
	cache       port.PermissionCache
	events      port.EventPublisher
	logger      *zap.Logger
	cacheTTL    time.Duration
	now         func() time.Time
}

// NewRBACService constructs an RBACService.
func NewRBACService(
	roles port.RoleRepository,
	permissions port.PermissionRepository,
	cache port.PermissionCache,
	events port.EventPublisher,
	logger *zap.Logger,
) *RBACService {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &RBACService{
		roles:       roles,
		permissions: permissions,
		cache:       cache,
		events:      events,
		logger:      logger,
		cacheTTL:    5 * time.Minute,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the internal clock for deterministic tests.
func (s *RBACService) WithClock(clock func() time.Time) *RBACService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithCacheTTL overrides the permission cache entry lifetime.
func (s *RBACService) WithCacheTTL(ttl time.Duration) *RBACService {
	if ttl > 0 {
		s.cacheTTL = ttl
	}
	return s
}

// CreateRole registers a new role.
func (s *RBACService) CreateRole(ctx context.Context, name, displayName string, system bool) (*domain.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("role name is required")
	}

	role := domain.Role{
		ID:          uuid.NewString(),
		Name:        name,
		DisplayName: displayName,
		IsSystem:    system,
		IsActive:    true,
		CreatedAt:   s.now(),
	}
	if err := s.roles.Create(ctx, role); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrRoleExists
		}
		return nil, fmt.Errorf("create role: %w", err)
	}
	return &role, nil
}

// RenameRole updates a role's name and display name. System roles are
// immutable.
func (s *RBACService) RenameRole(ctx context.Context, roleID, name, displayName string) error {
	role, err := s.getRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRoleImmutable
	}

	if err := s.roles.Rename(ctx, roleID, name, displayName); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrRoleExists
		}
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRoleNotFound
		}
		return fmt.Errorf("rename role: %w", err)
	}
	return nil
}

// DeleteRole removes a role and invalidates every holder's permission
// cache. System roles cannot be deleted.
func (s *RBACService) DeleteRole(ctx context.Context, roleID string) error {
	role, err := s.getRole(ctx, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRoleImmutable
	}

	holders, err := s.roles.ListHolders(ctx, roleID)
	if err != nil {
		return fmt.Errorf("list role holders: %w", err)
	}

	if err := s.roles.Delete(ctx, roleID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrRoleNotFound
		}
		return fmt.Errorf("delete role: %w", err)
	}

	return s.invalidate(ctx, holders...)
}

// ListRoles returns every role.
func (s *RBACService) ListRoles(ctx context.Context) ([]domain.Role, error) {
	roles, err := s.roles.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// CreatePermission registers a new permission.
func (s *RBACService) CreatePermission(ctx context.Context, name, group, resource, action string) (*domain.Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("permission name is required")
	}

	permission := domain.Permission{
		ID:        uuid.NewString(),
		Name:      name,
		Group:     group,
		Resource:  resource,
		Action:    action,
		IsActive:  true,
		CreatedAt: s.now(),
	}
	if err := s.permissions.Create(ctx, permission); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrPermissionExists
		}
		return nil, fmt.Errorf("create permission: %w", err)
	}
	return &permission, nil
}

// AssignRole grants a role to a user. Assigning an already-held role is a
// no-op success. The user's permission cache is invalidated before return.
func (s *RBACService) AssignRole(ctx context.Context, userID, roleID string, expiresAt *time.Time) error {
	role, err := s.getRole(ctx, roleID)
	if err != nil {
		return err
	}

	if err := s.roles.AssignToUser(ctx, userID, roleID, expiresAt); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}

	if err := s.invalidate(ctx, userID); err != nil {
		return err
	}

	s.publishRoleChange(ctx, userID, role, true)
	return nil
}

// RemoveRole revokes a role from a user. Removing an absent role is a
// no-op success. The user's permission cache is invalidated before return.
func (s *RBACService) RemoveRole(ctx context.Context, userID, roleID string) error {
	role, err := s.getRole(ctx, roleID)
	if err != nil {
		return err
	}

	if err := s.roles.RemoveFromUser(ctx, userID, roleID); err != nil {
		return fmt.Errorf("remove role: %w", err)
	}

	if err := s.invalidate(ctx, userID); err != nil {
		return err
	}

	s.publishRoleChange(ctx, userID, role, false)
	return nil
}

// AttachPermissions associates permissions with a role as one atomic unit
// and invalidates the cache of every user holding the role.
func (s *RBACService) AttachPermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	if _, err := s.getRole(ctx, roleID); err != nil {
		return err
	}
	if len(permissionIDs) == 0 {
		return nil
	}

	if err := s.permissions.AttachToRole(ctx, roleID, permissionIDs); err != nil {
		return fmt.Errorf("attach permissions: %w", err)
	}

	return s.invalidateHolders(ctx, roleID)
}

// DetachPermissions removes role-permission associations and invalidates
// the cache of every user holding the role.
func (s *RBACService) DetachPermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	if _, err := s.getRole(ctx, roleID); err != nil {
		return err
	}
	if len(permissionIDs) == 0 {
		return nil
	}

	if err := s.permissions.DetachFromRole(ctx, roleID, permissionIDs); err != nil {
		return fmt.Errorf("detach permissions: %w", err)
	}

	return s.invalidateHolders(ctx, roleID)
}

// ResolvePermissions returns the union of permission names across all
// active, non-expired roles held by the user. Results are cached per user
// until invalidated by a mutation.
func (s *RBACService) ResolvePermissions(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, userID)
		if err != nil {
			s.logger.Warn("permission cache read failed", zap.String("user_id", userID), zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	permissions, err := s.permissions.ListByUser(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("resolve permissions: %w", err)
	}

	names := make([]string, 0, len(permissions))
	for _, permission := range permissions {
		names = append(names, permission.Name)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, userID, names, s.cacheTTL); err != nil {
			s.logger.Warn("permission cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	return names, nil
}

// HasPermission reports whether the user holds the named permission
// through any active role.
func (s *RBACService) HasPermission(ctx context.Context, userID, permissionName string) (bool, error) {
	names, err := s.ResolvePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, name := range names {
		if name == permissionName {
			return true, nil
		}
	}
	return false, nil
}

// HasAnyRole reports whether the user holds at least one of the named roles.
func (s *RBACService) HasAnyRole(ctx context.Context, userID string, roleNames ...string) (bool, error) {
	if len(roleNames) == 0 {
		return false, nil
	}

	held, err := s.roles.ListByUser(ctx, userID, s.now())
	if err != nil {
		return false, fmt.Errorf("list user roles: %w", err)
	}

	for _, role := range held {
		for _, name := range roleNames {
			if role.Name == name {
				return true, nil
			}
		}
	}
	return false, nil
}

// RoleNames returns the names of the user's active roles.
func (s *RBACService) RoleNames(ctx context.Context, userID string) ([]string, error) {
	held, err := s.roles.ListByUser(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("list user roles: %w", err)
	}
	names := make([]string, 0, len(held))
	for _, role := range held {
		names = append(names, role.Name)
	}
	return names, nil
}

// PurgeExpiredAssignments removes user-role rows whose expiry has passed.
func (s *RBACService) PurgeExpiredAssignments(ctx context.Context) (int, error) {
	purged, err := s.roles.PurgeExpiredAssignments(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("purge expired assignments: %w", err)
	}
	return purged, nil
}

func (s *RBACService) getRole(ctx context.Context, roleID string) (*domain.Role, error) {
	if roleID == "" {
		return nil, fmt.Errorf("role id is required")
	}
	role, err := s.roles.GetByID(ctx, roleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, fmt.Errorf("lookup role: %w", err)
	}
	return role, nil
}

func (s *RBACService) invalidateHolders(ctx context.Context, roleID string) error {
	holders, err := s.roles.ListHolders(ctx, roleID)
	if err != nil {
		return fmt.Errorf("list role holders: %w", err)
	}
	return s.invalidate(ctx, holders...)
}

func (s *RBACService) invalidate(ctx context.Context, userIDs ...string) error {
	if s.cache == nil || len(userIDs) == 0 {
		return nil
	}
	if err := s.cache.Invalidate(ctx, userIDs...); err != nil {
		return fmt.Errorf("invalidate permission cache: %w", err)
	}
	return nil
}

func (s *RBACService) publishRoleChange(ctx context.Context, userID string, role *domain.Role, assigned bool) {
	if s.events == nil {
		return
	}
	event := domain.RolesChangedEvent{
		EventID:    uuid.NewString(),
		UserID:     userID,
		RoleID:     role.ID,
		RoleName:   role.Name,
		Assigned:   assigned,
		OccurredAt: s.now(),
	}
	if err := s.events.Publish(ctx, "roles.changed", userID, event); err != nil {
		s.logger.Warn("publish role change event failed", zap.String("user_id", userID), zap.Error(err))
	}
}
