package port

import (
	"context"
	"time"

	"github.com/arklim/authcore/internal/core/domain"
)

// RoleRepository handles role CRUD and the user-role relation.
type RoleRepository interface {
	Create(ctx context.Context, role domain.Role) error
	List(ctx context.Context) ([]domain.Role, error)
	GetByID(ctx context.Context, id string) (*domain.Role, error)
	GetByName(ctx context.Context, name string) (*domain.Role, error)
	Rename(ctx context.Context, id, name, displayName string) error
	Delete(ctx context.Context, id string) error
	// AssignToUser is idempotent: assigning an already-held role is a no-op.
	AssignToUser(ctx context.Context, userID, roleID string, expiresAt *time.Time) error
	// RemoveFromUser is idempotent: removing an absent role is a no-op.
	RemoveFromUser(ctx context.Context, userID, roleID string) error
	ListByUser(ctx context.Context, userID string, at time.Time) ([]domain.Role, error)
	ListHolders(ctx context.Context, roleID string) ([]string, error)
	PurgeExpiredAssignments(ctx context.Context, before time.Time) (int, error)
}
