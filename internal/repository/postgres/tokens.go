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

// TokenRepository implements port.TokenRepository using PostgreSQL.
type TokenRepository struct {
	pool    pgBeginner
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewTokenRepository constructs a repository backed by any executor that
// satisfies pgExecutor.
func NewTokenRepository(exec pgExecutor) *TokenRepository {
	repo := &TokenRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
	if pool, ok := exec.(pgBeginner); ok {
		repo.pool = pool
	}
	return repo
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *TokenRepository) WithTx(tx pgx.Tx) *TokenRepository {
	if tx == nil {
		return r
	}
	return &TokenRepository{
		pool:    r.pool,
		exec:    tx,
		builder: r.builder,
	}
}

var refreshTokenColumns = []string{
	"id",
	"user_id",
	"token_hash",
	"created_at",
	"expires_at",
	"created_by_ip",
	"revoked_at",
	"revoked_by_ip",
	"revoke_reason",
	"replaced_by_id",
}

// CreateRefreshToken persists a freshly issued refresh token record.
func (r *TokenRepository) CreateRefreshToken(ctx context.Context, token domain.RefreshToken) error {
	stmt, args, err := r.builder.Insert("auth.refresh_tokens").
		Columns(refreshTokenColumns...).
		Values(
			token.ID,
			token.UserID,
			token.TokenHash,
			token.CreatedAt,
			token.ExpiresAt,
			optionalString(token.CreatedByIP),
			optionalTime(token.RevokedAt),
			optionalString(token.RevokedByIP),
			optionalString(token.RevokeReason),
			optionalString(token.ReplacedByID),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert refresh token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// GetRefreshTokenByHash looks up a token by the hash of its presented value.
func (r *TokenRepository) GetRefreshTokenByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	return r.getToken(ctx, squirrel.Eq{"token_hash": hash})
}

// GetRefreshTokenByID looks up a token by its identifier.
func (r *TokenRepository) GetRefreshTokenByID(ctx context.Context, id string) (*domain.RefreshToken, error) {
	return r.getToken(ctx, squirrel.Eq{"id": id})
}

func (r *TokenRepository) getToken(ctx context.Context, pred squirrel.Eq) (*domain.RefreshToken, error) {
	stmt, args, err := r.builder.
		Select(refreshTokenColumns...).
		From("auth.refresh_tokens").
		Where(pred).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select refresh token sql: %w", err)
	}

	token, err := scanRefreshToken(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}
	return token, nil
}

// RevokeRefreshToken marks a single token as revoked. Tokens already
// revoked are left untouched.
func (r *TokenRepository) RevokeRefreshToken(ctx context.Context, id string, at time.Time, ip, reason string) error {
	var ipValue any
	if ip != "" {
		ipValue = ip
	}
	var reasonValue any
	if reason != "" {
		reasonValue = reason
	}

	stmt, args, err := r.builder.Update("auth.refresh_tokens").
		Set("revoked_at", at.UTC()).
		Set("revoked_by_ip", ipValue).
		Set("revoke_reason", reasonValue).
		Where(squirrel.Eq{"id": id, "revoked_at": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke refresh token sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Rotate revokes the presented token, links it to its replacement, and
// persists the replacement. The two writes commit or roll back together.
func (r *TokenRepository) Rotate(ctx context.Context, oldID string, replacement domain.RefreshToken, at time.Time, ip string) error {
	if tx, ok := r.exec.(pgx.Tx); ok {
		return r.rotateIn(ctx, tx, oldID, replacement, at, ip)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rotate tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.rotateIn(ctx, tx, oldID, replacement, at, ip); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rotate tx: %w", err)
	}
	return nil
}

func (r *TokenRepository) rotateIn(ctx context.Context, tx pgx.Tx, oldID string, replacement domain.RefreshToken, at time.Time, ip string) error {
	scoped := r.WithTx(tx)

	var ipValue any
	if ip != "" {
		ipValue = ip
	}

	stmt, args, err := r.builder.Update("auth.refresh_tokens").
		Set("revoked_at", at.UTC()).
		Set("revoked_by_ip", ipValue).
		Set("revoke_reason", "rotated").
		Set("replaced_by_id", replacement.ID).
		Where(squirrel.Eq{"id": oldID, "revoked_at": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build supersede token sql: %w", err)
	}

	tag, err := tx.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("supersede token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return scoped.CreateRefreshToken(ctx, replacement)
}

// RevokeChain revokes every still-active token reachable from the supplied
// token by following replacement links and reports how many were revoked.
func (r *TokenRepository) RevokeChain(ctx context.Context, id string, at time.Time, reason string) (int, error) {
	const stmt = `
        WITH RECURSIVE chain AS (
            SELECT id, replaced_by_id
              FROM auth.refresh_tokens
             WHERE id = $1
            UNION ALL
            SELECT t.id, t.replaced_by_id
              FROM auth.refresh_tokens AS t
              JOIN chain AS c ON t.id = c.replaced_by_id
        )
        UPDATE auth.refresh_tokens AS rt
           SET revoked_at = $2,
               revoke_reason = $3
          FROM chain
         WHERE rt.id = chain.id
           AND rt.revoked_at IS NULL
    `

	tag, err := r.exec.Exec(ctx, stmt, id, at.UTC(), reason)
	if err != nil {
		return 0, fmt.Errorf("revoke token chain: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// RevokeAllForUser revokes every active refresh token owned by the user.
func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID string, at time.Time, reason string) (int, error) {
	stmt, args, err := r.builder.Update("auth.refresh_tokens").
		Set("revoked_at", at.UTC()).
		Set("revoke_reason", reason).
		Where(squirrel.Eq{"user_id": userID, "revoked_at": nil}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke user tokens sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListActiveByUser returns the user's unrevoked, unexpired tokens ordered
// by creation time.
func (r *TokenRepository) ListActiveByUser(ctx context.Context, userID string, at time.Time) ([]domain.RefreshToken, error) {
	stmt, args, err := r.builder.
		Select(refreshTokenColumns...).
		From("auth.refresh_tokens").
		Where(squirrel.And{
			squirrel.Eq{"user_id": userID, "revoked_at": nil},
			squirrel.Gt{"expires_at": at.UTC()},
		}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list active tokens sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query active tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]domain.RefreshToken, 0)
	for rows.Next() {
		token, err := scanRefreshToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refresh token: %w", err)
		}
		tokens = append(tokens, *token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate refresh tokens: %w", err)
	}
	return tokens, nil
}

func scanRefreshToken(row pgx.Row) (*domain.RefreshToken, error) {
	var (
		token        domain.RefreshToken
		createdByIP  sql.NullString
		revokedAt    sql.NullTime
		revokedByIP  sql.NullString
		revokeReason sql.NullString
		replacedByID sql.NullString
	)

	if err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.CreatedAt,
		&token.ExpiresAt,
		&createdByIP,
		&revokedAt,
		&revokedByIP,
		&revokeReason,
		&replacedByID,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if createdByIP.Valid {
		v := createdByIP.String
		token.CreatedByIP = &v
	}
	if revokedAt.Valid {
		t := revokedAt.Time.UTC()
		token.RevokedAt = &t
	}
	if revokedByIP.Valid {
		v := revokedByIP.String
		token.RevokedByIP = &v
	}
	if revokeReason.Valid {
		v := revokeReason.String
		token.RevokeReason = &v
	}
	if replacedByID.Valid {
		v := replacedByID.String
		token.ReplacedByID = &v
	}

	return &token, nil
}

var _ port.TokenRepository = (*TokenRepository)(nil)
