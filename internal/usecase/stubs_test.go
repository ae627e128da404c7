package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
	"github.com/arklim/authcore/internal/repository"
)

// In-memory port implementations shared by the usecase tests.

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]domain.User)}
}

func (r *memUserRepo) Create(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Username == user.Username || existing.Email == user.Email {
			return repository.ErrConflict
		}
	}
	r.users[user.ID] = user
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok || user.DeletedAt != nil {
		return nil, repository.ErrNotFound
	}
	copied := user
	return &copied, nil
}

func (r *memUserRepo) GetByIdentifier(_ context.Context, identifier string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.DeletedAt != nil {
			continue
		}
		if user.Username == identifier || user.Email == identifier {
			copied := user
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memUserRepo) UpdatePassword(_ context.Context, id, passwordHash string, changedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.LastPasswordChange = changedAt
	r.users[id] = user
	return nil
}

func (r *memUserRepo) UpdateLoginState(_ context.Context, id string, failedAttempts int, lockoutEnd *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.FailedAttempts = failedAttempts
	user.LockoutEnd = lockoutEnd
	r.users[id] = user
	return nil
}

func (r *memUserRepo) UpdateTwoFactor(_ context.Context, id string, state domain.TwoFactorState, method domain.TwoFactorMethod, secret *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.TwoFactorState = state
	user.TwoFactorMethod = method
	user.TwoFactorSecret = secret
	r.users[id] = user
	return nil
}

func (r *memUserRepo) SoftDelete(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.DeletedAt = &at
	user.IsActive = false
	r.users[id] = user
	return nil
}

type roleAssignment struct {
	expiresAt *time.Time
}

type memRoleRepo struct {
	mu        sync.Mutex
	roles     map[string]domain.Role
	userRoles map[string]map[string]roleAssignment
}

func newMemRoleRepo() *memRoleRepo {
	return &memRoleRepo{
		roles:     make(map[string]domain.Role),
		userRoles: make(map[string]map[string]roleAssignment),
	}
}

func (r *memRoleRepo) Create(_ context.Context, role domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.roles {
		if existing.Name == role.Name {
			return repository.ErrConflict
		}
	}
	r.roles[role.ID] = role
	return nil
}

func (r *memRoleRepo) List(_ context.Context) ([]domain.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memRoleRepo) GetByID(_ context.Context, id string) (*domain.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := role
	return &copied, nil
}

func (r *memRoleRepo) GetByName(_ context.Context, name string) (*domain.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range r.roles {
		if role.Name == name {
			copied := role
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memRoleRepo) Rename(_ context.Context, id, name, displayName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[id]
	if !ok {
		return repository.ErrNotFound
	}
	role.Name = name
	role.DisplayName = displayName
	r.roles[id] = role
	return nil
}

func (r *memRoleRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.roles, id)
	for userID := range r.userRoles {
		delete(r.userRoles[userID], id)
	}
	return nil
}

func (r *memRoleRepo) AssignToUser(_ context.Context, userID, roleID string, expiresAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.userRoles[userID] == nil {
		r.userRoles[userID] = make(map[string]roleAssignment)
	}
	if _, held := r.userRoles[userID][roleID]; held {
		return nil
	}
	r.userRoles[userID][roleID] = roleAssignment{expiresAt: expiresAt}
	return nil
}

func (r *memRoleRepo) RemoveFromUser(_ context.Context, userID, roleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.userRoles[userID], roleID)
	return nil
}

func (r *memRoleRepo) ListByUser(_ context.Context, userID string, at time.Time) ([]domain.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Role, 0)
	for roleID, assignment := range r.userRoles[userID] {
		if assignment.expiresAt != nil && !assignment.expiresAt.After(at) {
			continue
		}
		role, ok := r.roles[roleID]
		if !ok || !role.IsActive {
			continue
		}
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memRoleRepo) ListHolders(_ context.Context, roleID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0)
	for userID, held := range r.userRoles {
		if _, ok := held[roleID]; ok {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *memRoleRepo) PurgeExpiredAssignments(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	purged := 0
	for userID, held := range r.userRoles {
		for roleID, assignment := range held {
			if assignment.expiresAt != nil && !assignment.expiresAt.After(before) {
				delete(r.userRoles[userID], roleID)
				purged++
			}
		}
	}
	return purged, nil
}

type memPermissionRepo struct {
	mu          sync.Mutex
	permissions map[string]domain.Permission
	rolePerms   map[string]map[string]bool
	roles       *memRoleRepo
}

func newMemPermissionRepo(roles *memRoleRepo) *memPermissionRepo {
	return &memPermissionRepo{
		permissions: make(map[string]domain.Permission),
		rolePerms:   make(map[string]map[string]bool),
		roles:       roles,
	}
}

func (r *memPermissionRepo) Create(_ context.Context, permission domain.Permission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.permissions {
		if existing.Name == permission.Name {
			return repository.ErrConflict
		}
	}
	r.permissions[permission.ID] = permission
	return nil
}

func (r *memPermissionRepo) GetByName(_ context.Context, name string) (*domain.Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, permission := range r.permissions {
		if permission.Name == name {
			copied := permission
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memPermissionRepo) List(_ context.Context) ([]domain.Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Permission, 0, len(r.permissions))
	for _, permission := range r.permissions {
		out = append(out, permission)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memPermissionRepo) AttachToRole(_ context.Context, roleID string, permissionIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rolePerms[roleID] == nil {
		r.rolePerms[roleID] = make(map[string]bool)
	}
	for _, id := range permissionIDs {
		r.rolePerms[roleID][id] = true
	}
	return nil
}

func (r *memPermissionRepo) DetachFromRole(_ context.Context, roleID string, permissionIDs []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range permissionIDs {
		delete(r.rolePerms[roleID], id)
	}
	return nil
}

func (r *memPermissionRepo) ListByRole(_ context.Context, roleID string) ([]domain.Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Permission, 0)
	for id := range r.rolePerms[roleID] {
		if permission, ok := r.permissions[id]; ok && permission.IsActive {
			out = append(out, permission)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memPermissionRepo) ListByUser(ctx context.Context, userID string, at time.Time) ([]domain.Permission, error) {
	roles, err := r.roles.ListByUser(ctx, userID, at)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	out := make([]domain.Permission, 0)
	for _, role := range roles {
		for id := range r.rolePerms[role.ID] {
			permission, ok := r.permissions[id]
			if !ok || !permission.IsActive || seen[permission.Name] {
				continue
			}
			seen[permission.Name] = true
			out = append(out, permission)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]domain.RefreshToken
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{tokens: make(map[string]domain.RefreshToken)}
}

func (r *memTokenRepo) CreateRefreshToken(_ context.Context, token domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[token.ID]; ok {
		return repository.ErrConflict
	}
	r.tokens[token.ID] = token
	return nil
}

func (r *memTokenRepo) GetRefreshTokenByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, token := range r.tokens {
		if token.TokenHash == hash {
			copied := token
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memTokenRepo) GetRefreshTokenByID(_ context.Context, id string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := token
	return &copied, nil
}

func (r *memTokenRepo) RevokeRefreshToken(_ context.Context, id string, at time.Time, ip, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	token, ok := r.tokens[id]
	if !ok || token.RevokedAt != nil {
		return repository.ErrNotFound
	}
	token.Revoke(at, ip, reason)
	r.tokens[id] = token
	return nil
}

func (r *memTokenRepo) Rotate(_ context.Context, oldID string, replacement domain.RefreshToken, at time.Time, ip string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.tokens[oldID]
	if !ok || old.RevokedAt != nil {
		return repository.ErrNotFound
	}
	old.Supersede(at, ip, replacement.ID)
	r.tokens[oldID] = old
	r.tokens[replacement.ID] = replacement
	return nil
}

func (r *memTokenRepo) RevokeChain(_ context.Context, id string, at time.Time, reason string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	revoked := 0
	current := id
	for current != "" {
		token, ok := r.tokens[current]
		if !ok {
			break
		}
		if token.RevokedAt == nil {
			token.Revoke(at, "", reason)
			r.tokens[current] = token
			revoked++
		}
		if token.ReplacedByID == nil {
			break
		}
		current = *token.ReplacedByID
	}
	return revoked, nil
}

func (r *memTokenRepo) RevokeAllForUser(_ context.Context, userID string, at time.Time, reason string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	revoked := 0
	for id, token := range r.tokens {
		if token.UserID == userID && token.RevokedAt == nil {
			token.Revoke(at, "", reason)
			r.tokens[id] = token
			revoked++
		}
	}
	return revoked, nil
}

func (r *memTokenRepo) ListActiveByUser(_ context.Context, userID string, at time.Time) ([]domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RefreshToken, 0)
	for _, token := range r.tokens {
		if token.UserID == userID && token.IsActive(at) {
			out = append(out, token)
		}
	}
	return out, nil
}

type memRecoveryCodeRepo struct {
	mu    sync.Mutex
	codes map[string]domain.RecoveryCode
}

func newMemRecoveryCodeRepo() *memRecoveryCodeRepo {
	return &memRecoveryCodeRepo{codes: make(map[string]domain.RecoveryCode)}
}

func (r *memRecoveryCodeRepo) Replace(_ context.Context, userID string, codes []domain.RecoveryCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, code := range r.codes {
		if code.UserID == userID {
			delete(r.codes, id)
		}
	}
	for _, code := range codes {
		r.codes[code.ID] = code
	}
	return nil
}

func (r *memRecoveryCodeRepo) GetByHash(_ context.Context, userID, codeHash string) (*domain.RecoveryCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, code := range r.codes {
		if code.UserID == userID && code.CodeHash == codeHash {
			copied := code
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memRecoveryCodeRepo) MarkUsed(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.codes[id]
	if !ok || code.Used {
		return repository.ErrNotFound
	}
	code.Used = true
	code.UsedAt = &at
	r.codes[id] = code
	return nil
}

func (r *memRecoveryCodeRepo) DeleteAllForUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, code := range r.codes {
		if code.UserID == userID {
			delete(r.codes, id)
		}
	}
	return nil
}

func (r *memRecoveryCodeRepo) CountUnused(_ context.Context, userID string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, code := range r.codes {
		if code.UserID == userID && !code.Used && code.ExpiresAt.After(at) {
			count++
		}
	}
	return count, nil
}

type memPermissionCache struct {
	mu      sync.Mutex
	entries map[string][]string
	sets    int
	hits    int
}

func newMemPermissionCache() *memPermissionCache {
	return &memPermissionCache{entries: make(map[string][]string)}
}

func (c *memPermissionCache) Get(_ context.Context, userID string) ([]string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[userID]
	if !ok {
		return nil, false, nil
	}
	c.hits++
	out := make([]string, len(entry))
	copy(out, entry)
	return out, true, nil
}

func (c *memPermissionCache) Set(_ context.Context, userID string, permissions []string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := make([]string, len(permissions))
	copy(entry, permissions)
	c.entries[userID] = entry
	c.sets++
	return nil
}

func (c *memPermissionCache) Invalidate(_ context.Context, userIDs ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range userIDs {
		delete(c.entries, id)
	}
	return nil
}

type memRevocationStore struct {
	mu    sync.Mutex
	jtis  map[string]string
	since map[string]time.Time
}

func newMemRevocationStore() *memRevocationStore {
	return &memRevocationStore{
		jtis:  make(map[string]string),
		since: make(map[string]time.Time),
	}
}

func (s *memRevocationStore) MarkRevoked(_ context.Context, jti, reason string, _ time.Duration) error {
	s.mu.Lock()
	s.jtis[jti] = reason
	s.mu.Unlock()
	return nil
}

func (s *memRevocationStore) IsRevoked(_ context.Context, jti string) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reason, ok := s.jtis[jti]
	return ok, reason, nil
}

func (s *memRevocationStore) SetValidSince(_ context.Context, userID string, at time.Time, _ time.Duration) error {
	s.mu.Lock()
	s.since[userID] = at
	s.mu.Unlock()
	return nil
}

func (s *memRevocationStore) GetValidSince(_ context.Context, userID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.since[userID]
	return at, ok, nil
}

var (
	_ port.UserRepository         = (*memUserRepo)(nil)
	_ port.RoleRepository         = (*memRoleRepo)(nil)
	_ port.PermissionRepository   = (*memPermissionRepo)(nil)
	_ port.TokenRepository        = (*memTokenRepo)(nil)
	_ port.RecoveryCodeRepository = (*memRecoveryCodeRepo)(nil)
	_ port.PermissionCache        = (*memPermissionCache)(nil)
	_ port.RevocationStore        = (*memRevocationStore)(nil)
)
