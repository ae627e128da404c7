package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/authcore/internal/infra/security"
	"github.com/arklim/authcore/internal/transport/http/middleware"
	"github.com/arklim/authcore/internal/usecase"
)

// PasswordHandler exposes self-service password management endpoints.
type PasswordHandler struct {
	credentials *usecase.CredentialService
}

// NewPasswordHandler constructs PasswordHandler.
func NewPasswordHandler(credentials *usecase.CredentialService) *PasswordHandler {
	return &PasswordHandler{credentials: credentials}
}

// RegisterRoutes binds password routes. The change endpoint requires an
// authenticated caller; strength validation is open so registration forms
// can use it.
func (h *PasswordHandler) RegisterRoutes(r *gin.RouterGroup, authMiddleware gin.HandlerFunc) {
	r.POST("/change", authMiddleware, h.ChangePassword)
	r.POST("/validate", h.ValidateStrength)
}

// ChangePassword verifies the caller's current password and replaces it.
// Every refresh token the user holds is revoked as a side effect.
func (h *PasswordHandler) ChangePassword(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req PasswordChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid password change payload"))
		return
	}

	err := h.credentials.ChangePassword(c.Request.Context(), userID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		if msg := policyMessage(err); msg != "" {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, msg))
			return
		}
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: "current password is incorrect"},
			{Err: usecase.ErrPasswordUnchanged, Status: http.StatusBadRequest, Message: "new password must differ from the current password"},
			{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "user not found"},
		}, http.StatusInternalServerError, "failed to change password")
		return
	}

	c.JSON(http.StatusOK, PasswordChangeResponse{
		Message:   "password changed; other sessions have been signed out",
		ChangedAt: time.Now().UTC(),
	})
}

// ValidateStrength evaluates a candidate password against the active policy
// without touching any account.
func (h *PasswordHandler) ValidateStrength(c *gin.Context) {
	var req PasswordStrengthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid validation payload"))
		return
	}

	if err := h.credentials.ValidateStrength(req.Password, req.Inputs...); err != nil {
		if msg := policyMessage(err); msg != "" {
			c.JSON(http.StatusOK, PasswordStrengthResponse{Acceptable: false, Reason: msg})
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to evaluate password"))
		return
	}

	c.JSON(http.StatusOK, PasswordStrengthResponse{Acceptable: true})
}

// policyMessage extracts a user-facing message when the error is a password
// policy violation, and returns "" otherwise.
func policyMessage(err error) string {
	var policyErr *security.PolicyError
	if errors.As(err, &policyErr) {
		return policyErr.Error()
	}
	return ""
}
