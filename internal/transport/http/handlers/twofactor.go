package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/authcore/internal/core/domain"
	"github.com/arklim/authcore/internal/transport/http/middleware"
	"github.com/arklim/authcore/internal/usecase"
)

// TwoFactorHandler exposes second-factor enrollment and management endpoints.
// Every route requires an authenticated caller.
type TwoFactorHandler struct {
	twoFactor *usecase.TwoFactorService
}

// NewTwoFactorHandler constructs TwoFactorHandler.
func NewTwoFactorHandler(twoFactor *usecase.TwoFactorService) *TwoFactorHandler {
	return &TwoFactorHandler{twoFactor: twoFactor}
}

// RegisterRoutes binds two-factor routes under the provided group.
func (h *TwoFactorHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/setup", h.BeginSetup)
	r.POST("/setup/confirm", h.ConfirmSetup)
	r.POST("/disable", h.Disable)
	r.POST("/recovery-codes/regenerate", h.RegenerateRecoveryCodes)
	r.GET("/recovery-codes", h.RecoveryCodeStatus)
}

// BeginSetup generates a TOTP secret and provisioning URI for the caller.
// Enrollment stays pending until a code from the device is confirmed.
func (h *TwoFactorHandler) BeginSetup(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req TwoFactorSetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid setup payload"))
		return
	}

	method := domain.TwoFactorMethod(strings.ToLower(strings.TrimSpace(req.Method)))

	setup, err := h.twoFactor.BeginSetup(c.Request.Context(), userID, method)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrTwoFactorUnsupportedMethod, Status: http.StatusBadRequest, Message: "unsupported two-factor method"},
			{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "user not found"},
		}, http.StatusInternalServerError, "failed to begin two-factor setup")
		return
	}

	c.JSON(http.StatusOK, TwoFactorSetupResponse{
		Secret:          setup.Secret,
		ProvisioningURI: setup.ProvisioningURI,
	})
}

// ConfirmSetup activates the pending enrollment and returns the one-time
// recovery codes.
func (h *TwoFactorHandler) ConfirmSetup(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req TwoFactorConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid confirmation payload"))
		return
	}

	codes, err := h.twoFactor.ConfirmSetup(c.Request.Context(), userID, req.Code)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrTwoFactorSetupNotPending, Status: http.StatusConflict, Message: "no two-factor setup in progress"},
			{Err: usecase.ErrTwoFactorInvalidCode, Status: http.StatusBadRequest, Message: "invalid verification code"},
			{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "user not found"},
		}, http.StatusInternalServerError, "failed to confirm two-factor setup")
		return
	}

	c.JSON(http.StatusOK, TwoFactorConfirmResponse{
		Message:       "two-factor authentication enabled; store these recovery codes securely",
		RecoveryCodes: codes,
	})
}

// Disable turns the second factor off. A valid current code or recovery
// code is required; disabling signs the user out everywhere.
func (h *TwoFactorHandler) Disable(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req TwoFactorDisableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid disable payload"))
		return
	}

	if err := h.twoFactor.Disable(c.Request.Context(), userID, req.Code); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrTwoFactorNotEnabled, Status: http.StatusConflict, Message: "two-factor authentication is not enabled"},
			{Err: usecase.ErrTwoFactorInvalidCode, Status: http.StatusBadRequest, Message: "invalid verification code"},
			{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "user not found"},
		}, http.StatusInternalServerError, "failed to disable two-factor authentication")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "two-factor authentication disabled"})
}

// RegenerateRecoveryCodes replaces the caller's recovery codes after
// verifying a current code. Previously issued codes stop working.
func (h *TwoFactorHandler) RegenerateRecoveryCodes(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req TwoFactorConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid regeneration payload"))
		return
	}

	codes, err := h.twoFactor.RegenerateRecoveryCodes(c.Request.Context(), userID, req.Code)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrTwoFactorNotEnabled, Status: http.StatusConflict, Message: "two-factor authentication is not enabled"},
			{Err: usecase.ErrTwoFactorInvalidCode, Status: http.StatusBadRequest, Message: "invalid verification code"},
			{Err: usecase.ErrUserNotFound, Status: http.StatusNotFound, Message: "user not found"},
		}, http.StatusInternalServerError, "failed to regenerate recovery codes")
		return
	}

	c.JSON(http.StatusOK, RecoveryCodesResponse{RecoveryCodes: codes})
}

// RecoveryCodeStatus reports how many recovery codes remain unused.
func (h *TwoFactorHandler) RecoveryCodeStatus(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	remaining, err := h.twoFactor.RemainingRecoveryCodes(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to count recovery codes"))
		return
	}

	c.JSON(http.StatusOK, RecoveryCodesStatusResponse{Remaining: remaining})
}
