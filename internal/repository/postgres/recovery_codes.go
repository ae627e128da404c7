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

// RecoveryCodeRepository implements port.RecoveryCodeRepository using PostgreSQL.
type RecoveryCodeRepository struct {
	pool    pgBeginner
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewRecoveryCodeRepository constructs a repository backed by any executor
// that satisfies pgExecutor.
func NewRecoveryCodeRepository(exec pgExecutor) *RecoveryCodeRepository {
	repo := &RecoveryCodeRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(pgBeginner); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *RecoveryCodeRepository) WithTx(tx pgx.Tx) *RecoveryCodeRepository {
	if tx == nil {
		return r
	}
	return &RecoveryCodeRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

var recoveryCodeColumns = []string{
	"id",
	"user_id",
	"code_hash",
	"created_at",
	"expires_at",
	"used",
	"used_at",
}

// Replace drops the user's existing codes and stores the new set. Both
// writes commit or roll back together.
func (r *RecoveryCodeRepository) Replace(ctx context.Context, userID string, codes []domain.RecoveryCode) error {
	if tx, ok := r.exec.(pgx.Tx); ok {
		return r.replaceIn(ctx, tx, userID, codes)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.replaceIn(ctx, tx, userID, codes); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace tx: %w", err)
	}
	return nil
}

func (r *RecoveryCodeRepository) replaceIn(ctx context.Context, tx pgx.Tx, userID string, codes []domain.RecoveryCode) error {
	deleteStmt, deleteArgs, err := r.builder.Delete("auth.recovery_codes").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete recovery codes sql: %w", err)
	}
	if _, err := tx.Exec(ctx, deleteStmt, deleteArgs...); err != nil {
		return fmt.Errorf("delete recovery codes: %w", err)
	}

	if len(codes) == 0 {
		return nil
	}

	insert := r.builder.Insert("auth.recovery_codes").Columns(recoveryCodeColumns...)
	for _, code := range codes {
		insert = insert.Values(
			code.ID,
			code.UserID,
			code.CodeHash,
			code.CreatedAt,
			code.ExpiresAt,
			code.Used,
			optionalTime(code.UsedAt),
		)
	}

	insertStmt, insertArgs, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("build insert recovery codes sql: %w", err)
	}
	if _, err := tx.Exec(ctx, insertStmt, insertArgs...); err != nil {
		return fmt.Errorf("insert recovery codes: %w", err)
	}
	return nil
}

// GetByHash looks up one of the user's codes by the hash of its presented value.
func (r *RecoveryCodeRepository) GetByHash(ctx context.Context, userID, codeHash string) (*domain.RecoveryCode, error) {
	stmt, args, err := r.builder.
		Select(recoveryCodeColumns...).
		From("auth.recovery_codes").
		Where(squirrel.Eq{"user_id": userID, "code_hash": codeHash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select recovery code sql: %w", err)
	}

	var (
		code   domain.RecoveryCode
		usedAt sql.NullTime
	)
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&code.ID,
		&code.UserID,
		&code.CodeHash,
		&code.CreatedAt,
		&code.ExpiresAt,
		&code.Used,
		&usedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan recovery code: %w", err)
	}

	if usedAt.Valid {
		t := usedAt.Time.UTC()
		code.UsedAt = &t
	}
	return &code, nil
}

// MarkUsed consumes a code. A code already consumed surfaces as
// repository.ErrNotFound so callers reject the replay.
func (r *RecoveryCodeRepository) MarkUsed(ctx context.Context, id string, at time.Time) error {
	stmt, args, err := r.builder.Update("auth.recovery_codes").
		Set("used", true).
		Set("used_at", at.UTC()).
		Where(squirrel.Eq{"id": id, "used": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark recovery code used sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("mark recovery code used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteAllForUser removes every code belonging to the user.
func (r *RecoveryCodeRepository) DeleteAllForUser(ctx context.Context, userID string) error {
	stmt, args, err := r.builder.Delete("auth.recovery_codes").
		Where(squirrel.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete recovery codes sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("delete recovery codes: %w", err)
	}
	return nil
}

// CountUnused reports how many codes remain redeemable at the supplied instant.
func (r *RecoveryCodeRepository) CountUnused(ctx context.Context, userID string, at time.Time) (int, error) {
	stmt, args, err := r.builder.
		Select("COUNT(*)").
		From("auth.recovery_codes").
		Where(squirrel.And{
			squirrel.Eq{"user_id": userID, "used": false},
			squirrel.Gt{"expires_at": at.UTC()},
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count recovery codes sql: %w", err)
	}

	var count int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count recovery codes: %w", err)
	}
	return count, nil
}

var _ port.RecoveryCodeRepository = (*RecoveryCodeRepository)(nil)
