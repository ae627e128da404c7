package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
	"github.com/arklim/authcore/internal/repository"
)

// UserRepository implements port.UserRepository using PostgreSQL.
type UserRepository struct {
	pool    pgBeginner
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUserRepository constructs a repository backed by any executor that
// satisfies pgExecutor.
func NewUserRepository(exec pgExecutor) *UserRepository {
	repo := &UserRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(pgBeginner); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *UserRepository) WithTx(tx pgx.Tx) *UserRepository {
	if tx == nil {
		return r
	}
	return &UserRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

var userColumns = []string{
	"id",
	"username",
	"email",
	"phone",
	"password_hash",
	"is_active",
	"email_verified",
	"phone_verified",
	"two_factor_state",
	"two_factor_method",
	"two_factor_secret",
	"failed_attempts",
	"lockout_end",
	"last_password_change",
	"created_at",
	"deleted_at",
}

// Create inserts a new user row. Username and email collisions surface as
// repository.ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	stmt, args, err := r.builder.Insert("auth.users").
		Columns(userColumns...).
		Values(
			user.ID,
			user.Username,
			user.Email,
			optionalString(user.Phone),
			user.PasswordHash,
			user.IsActive,
			user.EmailVerified,
			user.PhoneVerified,
			string(user.TwoFactorState),
			string(user.TwoFactorMethod),
			optionalString(user.TwoFactorSecret),
			user.FailedAttempts,
			optionalTime(user.LockoutEnd),
			user.LastPasswordChange,
			user.CreatedAt,
			optionalTime(user.DeletedAt),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert user sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by identifier. Soft-deleted accounts are excluded.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	stmt, args, err := r.builder.
		Select(userColumns...).
		From("auth.users").
		Where(squirrel.Eq{"id": id, "deleted_at": nil}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	return r.scanUserRow(r.exec.QueryRow(ctx, stmt, args...))
}

// GetByIdentifier resolves a user by username or email, whichever matches.
func (r *UserRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	stmt, args, err := r.builder.
		Select(userColumns...).
		From("auth.users").
		Where(squirrel.And{
			squirrel.Or{
				squirrel.Eq{"username": identifier},
				squirrel.Eq{"email": identifier},
			},
			squirrel.Eq{"deleted_at": nil},
		}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	return r.scanUserRow(r.exec.QueryRow(ctx, stmt, args...))
}

// UpdatePassword replaces the stored hash and records the change time.
func (r *UserRepository) UpdatePassword(ctx context.Context, id string, passwordHash string, changedAt time.Time) error {
	stmt, args, err := r.builder.Update("auth.users").
		Set("password_hash", passwordHash).
		Set("last_password_change", changedAt.UTC()).
		Where(squirrel.Eq{"id": id, "deleted_at": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update password sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateLoginState persists the failure counter and lockout window together.
func (r *UserRepository) UpdateLoginState(ctx context.Context, id string, failedAttempts int, lockoutEnd *time.Time) error {
	stmt, args, err := r.builder.Update("auth.users").
		Set("failed_attempts", failedAttempts).
		Set("lockout_end", optionalTime(lockoutEnd)).
		Where(squirrel.Eq{"id": id, "deleted_at": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update login state sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update login state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateTwoFactor persists the second-factor state machine fields.
func (r *UserRepository) UpdateTwoFactor(ctx context.Context, id string, state domain.TwoFactorState, method domain.TwoFactorMethod, secret *string) error {
	stmt, args, err := r.builder.Update("auth.users").
		Set("two_factor_state", string(state)).
		Set("two_factor_method", string(method)).
		Set("two_factor_secret", optionalString(secret)).
		Where(squirrel.Eq{"id": id, "deleted_at": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update two factor sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update two factor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SoftDelete stamps deleted_at without removing the row.
func (r *UserRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	stmt, args, err := r.builder.Update("auth.users").
		Set("deleted_at", at.UTC()).
		Set("is_active", false).
		Where(squirrel.Eq{"id": id, "deleted_at": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build soft delete user sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("soft delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *UserRepository) scanUserRow(row pgx.Row) (*domain.User, error) {
	var (
		user       domain.User
		phone      sql.NullString
		secret     sql.NullString
		lockoutEnd sql.NullTime
		deletedAt  sql.NullTime
		state      string
		method     string
	)

	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&phone,
		&user.PasswordHash,
		&user.IsActive,
		&user.EmailVerified,
		&user.PhoneVerified,
		&state,
		&method,
		&secret,
		&user.FailedAttempts,
		&lockoutEnd,
		&user.LastPasswordChange,
		&user.CreatedAt,
		&deletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	user.TwoFactorState = domain.TwoFactorState(state)
	user.TwoFactorMethod = domain.TwoFactorMethod(method)
	if phone.Valid {
		v := phone.String
		user.Phone = &v
	}
	if secret.Valid {
		v := secret.String
		user.TwoFactorSecret = &v
	}
	if lockoutEnd.Valid {
		t := lockoutEnd.Time.UTC()
		user.LockoutEnd = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		user.DeletedAt = &t
	}

	return &user, nil
}

var _ port.UserRepository = (*UserRepository)(nil)
