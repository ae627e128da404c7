package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repositories groups every PostgreSQL-backed repository over one pool.
type Repositories struct {
	Users         *UserRepository
	Roles         *RoleRepository
	Permissions   *PermissionRepository
	Tokens        *TokenRepository
	RecoveryCodes *RecoveryCodeRepository
}

// NewRepositories constructs the full repository set.
func NewRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Users:         NewUserRepository(pool),
		Roles:         NewRoleRepository(pool),
		Permissions:   NewPermissionRepository(pool),
		Tokens:        NewTokenRepository(pool),
		RecoveryCodes: NewRecoveryCodeRepository(pool),
	}
}
