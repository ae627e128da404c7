package domain

import "time"

// Role defines a named set of permissions.
type Role struct {
	ID          string
	Name        string
	DisplayName string
	IsSystem    bool
	IsActive    bool
	CreatedAt   time.Time
}

// Permission defines a named capability, grouped for presentation.
type Permission struct {
	ID        string
	Name      string
	Group     string
	Resource  string
	Action    string
	IsActive  bool
	CreatedAt time.Time
}

// RolePermission links a role with a permission.
// At most one association exists per (role, permission) pair.
type RolePermission struct {
	RoleID       string
	PermissionID string
	CreatedAt    time.Time
}

// UserRole assigns a role to a user, optionally until an expiry.
type UserRole struct {
	UserID    string
	RoleID    string
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// IsExpired reports whether the assignment no longer grants the role.
func (ur UserRole) IsExpired(at time.Time) bool {
	return ur.ExpiresAt != nil && !ur.ExpiresAt.After(at)
}
