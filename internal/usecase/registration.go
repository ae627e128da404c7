package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/core/port"
	"github.com/arklim/authcore/internal/repository"
)

// ErrUserExists indicates the username or email is already taken.
var ErrUserExists = errors.New("user already exists")

// RegistrationService handles new account onboarding.
type RegistrationService struct {
	users  port.UserRepository
	rbac   *RBACService
	hasher port.PasswordHasher
	policy port.PasswordPolicyValidator
	logger *zap.Logger
	now    func() time.Time
}

// NewRegistrationService constructs a RegistrationService.
func NewRegistrationService(
	users port.UserRepository,
	rbac *RBACService,
	hasher port.PasswordHasher,
	policy port.PasswordPolicyValidator,
	logger *zap.Logger,
) *RegistrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &RegistrationService{
		users:  users,
		rbac:   rbac,
		hasher: hasher,
		policy: policy,
		logger: logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the internal clock for deterministic tests.
func (s *RegistrationService) WithClock(clock func() time.Time) *RegistrationService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Register validates the password against policy, hashes it, and creates
// the account. When a default role name is supplied the new user is
// granted that role.
func (s *RegistrationService) Register(ctx context.Context, username, email, phone, password, defaultRole string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if username == "" {
		return nil, fmt.Errorf("username is required")
	}
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}

	if err := s.policy.Validate(password, username, email); err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	user := domain.User{
		ID:                 uuid.NewString(),
		Username:           username,
		Email:              email,
		PasswordHash:       passwordHash,
		IsActive:           true,
		TwoFactorState:     domain.TwoFactorDisabled,
		TwoFactorMethod:    domain.TwoFactorNone,
		LastPasswordChange: now,
		CreatedAt:          now,
	}
	if trimmed := strings.TrimSpace(phone); trimmed != "" {
		user.Phone = &trimmed
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	if defaultRole != "" && s.rbac != nil {
		if err := s.assignDefaultRole(ctx, user.ID, defaultRole); err != nil {
			s.logger.Warn("assign default role failed",
				zap.String("user_id", user.ID),
				zap.String("role", defaultRole),
				zap.Error(err),
			)
		}
	}

	sanitized := user
	sanitized.PasswordHash = ""
	return &sanitized, nil
}

func (s *RegistrationService) assignDefaultRole(ctx context.Context, userID, roleName string) error {
	role, err := s.rbac.roles.GetByName(ctx, roleName)
	if err != nil {
		return fmt.Errorf("lookup default role: %w", err)
	}
	return s.rbac.AssignRole(ctx, userID, role.ID, nil)
}
