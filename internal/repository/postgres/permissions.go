package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
	"github.com/arklim/authcore/internal/repository"
)

// PermissionRepository implements port.PermissionRepository using PostgreSQL.
type PermissionRepository struct {
	pool    pgBeginner
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewPermissionRepository constructs a repository backed by any executor
// that satisfies pgExecutor.
func NewPermissionRepository(exec pgExecutor) *PermissionRepository {
	repo := &PermissionRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(pgBeginner); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *PermissionRepository) WithTx(tx pgx.Tx) *PermissionRepository {
	if tx == nil {
		return r
	}
	return &PermissionRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

var permissionColumns = []string{
	"id",
	"name",
	"perm_group",
	"resource",
	"action",
	"is_active",
	"created_at",
}

// Create inserts a new permission. Name collisions surface as
// repository.ErrConflict.
func (r *PermissionRepository) Create(ctx context.Context, permission domain.Permission) error {
	stmt, args, err := r.builder.Insert("auth.permissions").
		Columns(permissionColumns...).
		Values(
			permission.ID,
			permission.Name,
			permission.Group,
			permission.Resource,
			permission.Action,
			permission.IsActive,
			permission.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert permission sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert permission: %w", err)
	}
	return nil
}

// GetByName fetches a permission by its unique name.
func (r *PermissionRepository) GetByName(ctx context.Context, name string) (*domain.Permission, error) {
	stmt, args, err := r.builder.
		Select(permissionColumns...).
		From("auth.permissions").
		Where(squirrel.Eq{"name": name}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select permission sql: %w", err)
	}

	var permission domain.Permission
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&permission.ID,
		&permission.Name,
		&permission.Group,
		&permission.Resource,
		&permission.Action,
		&permission.IsActive,
		&permission.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan permission: %w", err)
	}
	return &permission, nil
}

// List returns every permission ordered by group then name.
func (r *PermissionRepository) List(ctx context.Context) ([]domain.Permission, error) {
	stmt, args, err := r.builder.
		Select(permissionColumns...).
		From("auth.permissions").
		OrderBy("perm_group ASC", "name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list permissions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query permissions: %w", err)
	}
	defer rows.Close()

	return collectPermissions(rows)
}

// AttachToRole associates the permissions with the role in one statement.
// Pairs that already exist are left untouched.
func (r *PermissionRepository) AttachToRole(ctx context.Context, roleID string, permissionIDs []string) error {
	if len(permissionIDs) == 0 {
		return nil
	}

	insert := r.builder.Insert("auth.role_permissions").
		Columns("role_id", "permission_id", "created_at")
	now := time.Now().UTC()
	for _, permissionID := range permissionIDs {
		insert = insert.Values(roleID, permissionID, now)
	}

	stmt, args, err := insert.
		Suffix("ON CONFLICT (role_id, permission_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build attach permissions sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("attach permissions: %w", err)
	}
	return nil
}

// DetachFromRole removes the associations. Absent pairs are a no-op.
func (r *PermissionRepository) DetachFromRole(ctx context.Context, roleID string, permissionIDs []string) error {
	if len(permissionIDs) == 0 {
		return nil
	}

	stmt, args, err := r.builder.Delete("auth.role_permissions").
		Where(squirrel.Eq{"role_id": roleID, "permission_id": permissionIDs}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build detach permissions sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("detach permissions: %w", err)
	}
	return nil
}

// ListByRole returns the active permissions attached to the role.
func (r *PermissionRepository) ListByRole(ctx context.Context, roleID string) ([]domain.Permission, error) {
	stmt, args, err := r.builder.
		Select(
			"p.id",
			"p.name",
			"p.perm_group",
			"p.resource",
			"p.action",
			"p.is_active",
			"p.created_at",
		).
		From("auth.permissions AS p").
		Join("auth.role_permissions AS rp ON rp.permission_id = p.id").
		Where(squirrel.Eq{"rp.role_id": roleID, "p.is_active": true}).
		OrderBy("p.name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list role permissions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query role permissions: %w", err)
	}
	defer rows.Close()

	return collectPermissions(rows)
}

// ListByUser resolves the union of permissions granted through every
// active, non-expired role the user holds.
func (r *PermissionRepository) ListByUser(ctx context.Context, userID string, at time.Time) ([]domain.Permission, error) {
	stmt, args, err := r.builder.
		Select(
			"p.id",
			"p.name",
			"p.perm_group",
			"p.resource",
			"p.action",
			"p.is_active",
			"p.created_at",
		).
		Distinct().
		From("auth.permissions AS p").
		Join("auth.role_permissions AS rp ON rp.permission_id = p.id").
		Join("auth.roles AS r ON r.id = rp.role_id").
		Join("auth.user_roles AS ur ON ur.role_id = r.id").
		Where(squirrel.And{
			squirrel.Eq{"ur.user_id": userID, "p.is_active": true, "r.is_active": true},
			squirrel.Or{
				squirrel.Eq{"ur.expires_at": nil},
				squirrel.Gt{"ur.expires_at": at.UTC()},
			},
		}).
		OrderBy("p.name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list user permissions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query user permissions: %w", err)
	}
	defer rows.Close()

	return collectPermissions(rows)
}

func collectPermissions(rows pgx.Rows) ([]domain.Permission, error) {
	permissions := make([]domain.Permission, 0)
	for rows.Next() {
		var permission domain.Permission
		if err := rows.Scan(
			&permission.ID,
			&permission.Name,
			&permission.Group,
			&permission.Resource,
			&permission.Action,
			&permission.IsActive,
			&permission.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		permissions = append(permissions, permission)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permissions: %w", err)
	}
	return permissions, nil
}

var _ port.PermissionRepository = (*PermissionRepository)(nil)
