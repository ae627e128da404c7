package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/authcore/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// UserSummary describes a minimal view of a user returned by the API.
type UserSummary struct {
	ID               string   `json:"id"`
	Username         string   `json:"username"`
	Email            string   `json:"email,omitempty"`
	TwoFactorEnabled bool     `json:"two_factor_enabled"`
	Roles            []string `json:"roles,omitempty"`
}

// RegistrationRequest defines the account registration payload.
type RegistrationRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Phone    string `json:"phone"`
	Password string `json:"password" binding:"required"`
}

// RegistrationResponse contains registration results.
type RegistrationResponse struct {
	User    UserSummary `json:"user"`
	Message string      `json:"message,omitempty"`
}

// AuthLoginRequest defines the payload for the login endpoint.
type AuthLoginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

// AuthLoginResponse describes the response returned for a successful login.
type AuthLoginResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int         `json:"expires_in"`
	User         UserSummary `json:"user"`
}

// AuthTwoFactorPendingResponse is returned when the password was accepted but
// a second factor is still required.
type AuthTwoFactorPendingResponse struct {
	Message           string `json:"message"`
	TwoFactorRequired bool   `json:"two_factor_required"`
	Method            string `json:"method"`
}

// AuthTwoFactorRequest completes a login that required a second factor.
type AuthTwoFactorRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Code       string `json:"code" binding:"required"`
}

// TokenRefreshRequest represents the payload to refresh an access token.
type TokenRefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// LogoutRequest carries the refresh token to revoke alongside the access token.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// LogoutEverywhereResponse summarises a global sign-out.
type LogoutEverywhereResponse struct {
	RevokedTokens int `json:"revoked_tokens"`
}

// PasswordChangeRequest captures a password change request body.
type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// PasswordChangeResponse conveys the result of a password change.
type PasswordChangeResponse struct {
	Message   string    `json:"message"`
	ChangedAt time.Time `json:"changed_at"`
}

// PasswordStrengthRequest asks for a policy evaluation without changing anything.
type PasswordStrengthRequest struct {
	Password string   `json:"password" binding:"required"`
	Inputs   []string `json:"inputs"`
}

// PasswordStrengthResponse reports whether a candidate password is acceptable.
type PasswordStrengthResponse struct {
	Acceptable bool   `json:"acceptable"`
	Reason     string `json:"reason,omitempty"`
}

// TwoFactorSetupRequest starts second-factor enrollment.
type TwoFactorSetupRequest struct {
	Method string `json:"method" binding:"required"`
}

// TwoFactorSetupResponse carries the provisioning material for an
// authenticator app. The secret is shown exactly once.
type TwoFactorSetupResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

// TwoFactorConfirmRequest confirms enrollment with a code from the new device.
type TwoFactorConfirmRequest struct {
	Code string `json:"code" binding:"required"`
}

// TwoFactorConfirmResponse returns the one-time recovery codes. They are not
// retrievable afterwards.
type TwoFactorConfirmResponse struct {
	Message       string   `json:"message"`
	RecoveryCodes []string `json:"recovery_codes"`
}

// TwoFactorDisableRequest disables the second factor after proving control
// of it.
type TwoFactorDisableRequest struct {
	Code string `json:"code" binding:"required"`
}

// RecoveryCodesResponse returns freshly generated recovery codes.
type RecoveryCodesResponse struct {
	RecoveryCodes []string `json:"recovery_codes"`
}

// RecoveryCodesStatusResponse reports how many recovery codes remain unused.
type RecoveryCodesStatusResponse struct {
	Remaining int `json:"remaining"`
}

// RoleCreateRequest defines the payload for creating a role.
type RoleCreateRequest struct {
	Name        string `json:"name" binding:"required"`
	DisplayName string `json:"display_name"`
}

// RoleRenameRequest defines the payload for renaming a role.
type RoleRenameRequest struct {
	Name        string `json:"name" binding:"required"`
	DisplayName string `json:"display_name"`
}

// RolePayload summarizes a role entity.
type RolePayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	IsSystem    bool   `json:"is_system"`
}

// RoleListResponse wraps multiple roles.
type RoleListResponse struct {
	Roles []RolePayload `json:"roles"`
}

// PermissionCreateRequest defines the payload for creating a permission.
type PermissionCreateRequest struct {
	Name     string `json:"name" binding:"required"`
	Group    string `json:"group"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// PermissionPayload describes a permission in role operations.
type PermissionPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Group    string `json:"group,omitempty"`
	Resource string `json:"resource,omitempty"`
	Action   string `json:"action,omitempty"`
}

// RolePermissionsRequest attaches or detaches permissions on a role.
type RolePermissionsRequest struct {
	PermissionIDs []string `json:"permission_ids" binding:"required"`
}

// RoleAssignmentRequest assigns a role to a user, optionally with an expiry.
type RoleAssignmentRequest struct {
	UserID    string     `json:"user_id" binding:"required"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// UserPermissionsResponse returns the resolved permission set for a user.
type UserPermissionsResponse struct {
	UserID      string   `json:"user_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// TokenPayload describes a refresh token view in API responses.
type TokenPayload struct {
	ID           string     `json:"id"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	CreatedByIP  *string    `json:"created_by_ip,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokeReason *string    `json:"revoke_reason,omitempty"`
}

// TokenListResponse wraps the caller's active refresh tokens.
type TokenListResponse struct {
	Tokens []TokenPayload `json:"tokens"`
	Total  int            `json:"total"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// newUserSummary converts a domain user to a summary suitable for API responses.
func newUserSummary(user domain.User, roles []string) UserSummary {
	summary := UserSummary{
		ID:               user.ID,
		Username:         user.Username,
		Email:            user.Email,
		TwoFactorEnabled: user.TwoFactorActive(),
	}

	if len(roles) > 0 {
		rolesCopy := make([]string, len(roles))
		copy(rolesCopy, roles)
		summary.Roles = rolesCopy
	}

	return summary
}

// newTokenPayload converts a refresh token record for API output. The token
// hash never leaves the service.
func newTokenPayload(token domain.RefreshToken) TokenPayload {
	payload := TokenPayload{
		ID:        token.ID,
		CreatedAt: token.CreatedAt,
		ExpiresAt: token.ExpiresAt,
	}

	if token.CreatedByIP != nil {
		payload.CreatedByIP = token.CreatedByIP
	}
	if token.RevokedAt != nil {
		payload.RevokedAt = token.RevokedAt
	}
	if token.RevokeReason != nil {
		payload.RevokeReason = token.RevokeReason
	}

	return payload
}

func newRolePayload(role domain.Role) RolePayload {
	return RolePayload{
		ID:          role.ID,
		Name:        role.Name,
		DisplayName: role.DisplayName,
		IsSystem:    role.IsSystem,
	}
}

func newPermissionPayload(permission domain.Permission) PermissionPayload {
	return PermissionPayload{
		ID:       permission.ID,
		Name:     permission.Name,
		Group:    permission.Group,
		Resource: permission.Resource,
		Action:   permission.Action,
	}
}
