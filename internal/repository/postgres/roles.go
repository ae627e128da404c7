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

// RoleRepository implements port.RoleRepository using PostgreSQL.
type RoleRepository struct {
	pool    pgBeginner
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewRoleRepository constructs a repository backed by any executor that
// satisfies pgExecutor.
func NewRoleRepository(exec pgExecutor) *RoleRepository {
	repo := &RoleRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(pgBeginner); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *RoleRepository) WithTx(tx pgx.Tx) *RoleRepository {
	if tx == nil {
		return r
	}
	return &RoleRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

var roleColumns = []string{
	"id",
	"name",
	"display_name",
	"is_system",
	"is_active",
	"created_at",
}

// Create inserts a new role. Name collisions surface as repository.ErrConflict.
func (r *RoleRepository) Create(ctx context.Context, role domain.Role) error {
	stmt, args, err := r.builder.Insert("auth.roles").
		Columns(roleColumns...).
		Values(role.ID, role.Name, role.DisplayName, role.IsSystem, role.IsActive, role.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert role sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert role: %w", err)
	}
	return nil
}

// List returns every role ordered by name.
func (r *RoleRepository) List(ctx context.Context) ([]domain.Role, error) {
	stmt, args, err := r.builder.
		Select(roleColumns...).
		From("auth.roles").
		OrderBy("name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list roles sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()

	return collectRoles(rows)
}

// GetByID fetches a role by identifier.
func (r *RoleRepository) GetByID(ctx context.Context, id string) (*domain.Role, error) {
	return r.getRole(ctx, squirrel.Eq{"id": id})
}

// GetByName fetches a role by its unique name.
func (r *RoleRepository) GetByName(ctx context.Context, name string) (*domain.Role, error) {
	return r.getRole(ctx, squirrel.Eq{"name": name})
}

func (r *RoleRepository) getRole(ctx context.Context, pred squirrel.Eq) (*domain.Role, error) {
	stmt, args, err := r.builder.
		Select(roleColumns...).
		From("auth.roles").
		Where(pred).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select role sql: %w", err)
	}

	var role domain.Role
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&role.ID,
		&role.Name,
		&role.DisplayName,
		&role.IsSystem,
		&role.IsActive,
		&role.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan role: %w", err)
	}
	return &role, nil
}

// Rename updates the role's name and display name.
func (r *RoleRepository) Rename(ctx context.Context, id, name, displayName string) error {
	stmt, args, err := r.builder.Update("auth.roles").
		Set("name", name).
		Set("display_name", displayName).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build rename role sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("rename role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes the role. Associations cascade at the schema level.
func (r *RoleRepository) Delete(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Delete("auth.roles").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete role sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AssignToUser grants the role to the user. Re-assigning an already-held
// role is a no-op.
func (r *RoleRepository) AssignToUser(ctx context.Context, userID, roleID string, expiresAt *time.Time) error {
	stmt, args, err := r.builder.Insert("auth.user_roles").
		Columns("user_id", "role_id", "created_at", "expires_at").
		Values(userID, roleID, time.Now().UTC(), optionalTime(expiresAt)).
		Suffix("ON CONFLICT (user_id, role_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build assign role sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return nil
}

// RemoveFromUser revokes the role from the user. Removing an absent role is
// a no-op.
func (r *RoleRepository) RemoveFromUser(ctx context.Context, userID, roleID string) error {
	stmt, args, err := r.builder.Delete("auth.user_roles").
		Where(squirrel.Eq{"user_id": userID, "role_id": roleID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build remove role sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("remove role: %w", err)
	}
	return nil
}

// ListByUser returns the active roles held by the user at the supplied
// instant, excluding expired assignments.
func (r *RoleRepository) ListByUser(ctx context.Context, userID string, at time.Time) ([]domain.Role, error) {
	stmt, args, err := r.builder.
		Select(
			"r.id",
			"r.name",
			"r.display_name",
			"r.is_system",
			"r.is_active",
			"r.created_at",
		).
		From("auth.roles AS r").
		Join("auth.user_roles AS ur ON ur.role_id = r.id").
		Where(squirrel.And{
			squirrel.Eq{"ur.user_id": userID, "r.is_active": true},
			squirrel.Or{
				squirrel.Eq{"ur.expires_at": nil},
				squirrel.Gt{"ur.expires_at": at.UTC()},
			},
		}).
		OrderBy("r.name ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list user roles sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query user roles: %w", err)
	}
	defer rows.Close()

	return collectRoles(rows)
}

// ListHolders returns the IDs of every user currently holding the role,
// including those whose assignments have expired. Callers invalidating
// caches need the full holder set.
func (r *RoleRepository) ListHolders(ctx context.Context, roleID string) ([]string, error) {
	stmt, args, err := r.builder.
		Select("user_id").
		From("auth.user_roles").
		Where(squirrel.Eq{"role_id": roleID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list holders sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query role holders: %w", err)
	}
	defer rows.Close()

	holders := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan holder: %w", err)
		}
		holders = append(holders, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate holders: %w", err)
	}
	return holders, nil
}

// PurgeExpiredAssignments deletes assignments whose expiry precedes the
// supplied cutoff and reports how many were removed.
func (r *RoleRepository) PurgeExpiredAssignments(ctx context.Context, before time.Time) (int, error) {
	stmt, args, err := r.builder.Delete("auth.user_roles").
		Where(squirrel.LtOrEq{"expires_at": before.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge assignments sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("purge assignments: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func collectRoles(rows pgx.Rows) ([]domain.Role, error) {
	roles := make([]domain.Role, 0)
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(
			&role.ID,
			&role.Name,
			&role.DisplayName,
			&role.IsSystem,
			&role.IsActive,
			&role.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return roles, nil
}

var _ port.RoleRepository = (*RoleRepository)(nil)
