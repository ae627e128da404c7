package port

import (
	"context"
	"time"

	"github.com/arklim/authcore/internal/core/domain"
)

// PermissionRepository manages permission storage and the role-permission relation.
type PermissionRepository interface {
	Create(ctx context.Context, permission domain.Permission) error
	GetByName(ctx context.Context, name string) (*domain.Permission, error)
	List(ctx context.Context) ([]domain.Permission, error)
	// AttachToRole associates permissions with a role as a single atomic
	// unit. Existing associations are left untouched (idempotent add).
	AttachToRole(ctx context.Context, roleID string, permissionIDs []string) error
	// DetachFromRole removes associations; absent pairs are a no-op.
	DetachFromRole(ctx context.Context, roleID string, permissionIDs []string) error
	ListByRole(ctx context.Context, roleID string) ([]domain.Permission, error)
	// ListByUser resolves the union of permissions across all active,
	// non-expired roles held by the user.
	ListByUser(ctx context.Context, userID string, at time.Time) ([]domain.Permission, error)
}
