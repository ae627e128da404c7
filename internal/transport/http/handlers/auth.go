package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/authcore/internal/transport/http/middleware"
	"github.com/arklim/authcore/internal/usecase"
)

// AuthHandler exposes authentication endpoints.
type AuthHandler struct {
	auth         *usecase.AuthService
	registration *usecase.RegistrationService
	tokens       *usecase.TokenService
	accessTTL    int
	defaultRole  string
}

// AuthHandlerOption configures optional AuthHandler dependencies.
type AuthHandlerOption func(*AuthHandler)

// WithRegistrationService injects the registration service dependency.
func WithRegistrationService(registration *usecase.RegistrationService) AuthHandlerOption {
	return func(h *AuthHandler) {
		h.registration = registration
	}
}

// WithAccessTokenTTL sets the expires_in value reported in login responses,
// in seconds.
func WithAccessTokenTTL(seconds int) AuthHandlerOption {
	return func(h *AuthHandler) {
		h.accessTTL = seconds
	}
}

// WithDefaultRole sets the role granted to newly registered accounts.
func WithDefaultRole(role string) AuthHandlerOption {
	return func(h *AuthHandler) {
		h.defaultRole = role
	}
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth *usecase.AuthService, tokens *usecase.TokenService, opts ...AuthHandlerOption) *AuthHandler {
	handler := &AuthHandler{
		auth:   auth,
		tokens: tokens,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}

	return handler
}

// RegisterRoutes binds authentication routes, applying optional middleware ahead of handlers.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, loginMiddlewares ...gin.HandlerFunc) {
	r.POST("/register", h.register)

	if len(loginMiddlewares) > 0 {
		chain := append([]gin.HandlerFunc{}, loginMiddlewares...)
		chain = append(chain, h.login)
		r.POST("/login", chain...)

		twoFactorChain := append([]gin.HandlerFunc{}, loginMiddlewares...)
		twoFactorChain = append(twoFactorChain, h.completeTwoFactor)
		r.POST("/login/2fa", twoFactorChain...)
	} else {
		r.POST("/login", h.login)
		r.POST("/login/2fa", h.completeTwoFactor)
	}

	r.POST("/refresh", h.refresh)
	r.POST("/logout", middleware.RequireAuth(h.tokens), h.logout)
	r.POST("/logout/all", middleware.RequireAuth(h.tokens), h.logoutEverywhere)
}

func (h *AuthHandler) register(c *gin.Context) {
	if h.registration == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "registration service unavailable"))
		return
	}

	var req RegistrationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid registration payload"))
		return
	}

	user, err := h.registration.Register(c.Request.Context(),
		strings.TrimSpace(req.Username),
		strings.TrimSpace(req.Email),
		strings.TrimSpace(req.Phone),
		req.Password,
		h.defaultRole,
	)
	if err != nil {
		if errors.Is(err, usecase.ErrUserExists) {
			c.JSON(http.StatusConflict, NewErrorResponse(c, "username or email already registered"))
			return
		}
		if policyErr := policyMessage(err); policyErr != "" {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, policyErr))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to register user"))
		return
	}

	c.JSON(http.StatusCreated, RegistrationResponse{
		User:    newUserSummary(*user, nil),
		Message: "account created",
	})
}

func (h *AuthHandler) login(c *gin.Context) {
	var req AuthLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	result, err := h.auth.Login(c.Request.Context(), req.Identifier, req.Password, c.ClientIP())
	if err != nil {
		h.respondLoginError(c, err)
		return
	}

	if result.TwoFactorRequired {
		c.JSON(http.StatusOK, AuthTwoFactorPendingResponse{
			Message:           "two-factor verification required",
			TwoFactorRequired: true,
			Method:            string(result.User.TwoFactorMethod),
		})
		return
	}

	h.respondWithTokens(c, result)
}

func (h *AuthHandler) completeTwoFactor(c *gin.Context) {
	var req AuthTwoFactorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid verification payload"))
		return
	}

	result, err := h.auth.CompleteTwoFactor(c.Request.Context(), req.Identifier, req.Code, c.ClientIP())
	if err != nil {
		if errors.Is(err, usecase.ErrTwoFactorInvalidCode) {
			c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid verification code"))
			return
		}
		if errors.Is(err, usecase.ErrTwoFactorNotEnabled) {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "two-factor authentication is not enabled"))
			return
		}
		h.respondLoginError(c, err)
		return
	}

	h.respondWithTokens(c, result)
}

func (h *AuthHandler) refresh(c *gin.Context) {
	var req TokenRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid refresh payload"))
		return
	}

	result, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken, c.ClientIP())
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidRefreshToken, Status: http.StatusUnauthorized, Message: "invalid refresh token"},
			{Err: usecase.ErrExpiredRefreshToken, Status: http.StatusUnauthorized, Message: "refresh token expired"},
			{Err: usecase.ErrInactiveAccount, Status: http.StatusForbidden, Message: "account is not active"},
		}, http.StatusInternalServerError, "failed to refresh tokens")
		return
	}

	h.respondWithTokens(c, result)
}

func (h *AuthHandler) logout(c *gin.Context) {
	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid logout payload"))
		return
	}

	accessToken := bearerToken(c)

	if err := h.auth.Logout(c.Request.Context(), req.RefreshToken, accessToken, c.ClientIP()); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to logout"))
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) logoutEverywhere(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	revoked, err := h.auth.LogoutEverywhere(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to logout everywhere"))
		return
	}

	c.JSON(http.StatusOK, LogoutEverywhereResponse{RevokedTokens: revoked})
}

func (h *AuthHandler) respondWithTokens(c *gin.Context, result *usecase.LoginResult) {
	if result == nil || result.Tokens == nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "login produced no credentials"))
		return
	}

	c.JSON(http.StatusOK, AuthLoginResponse{
		AccessToken:  result.Tokens.AccessToken,
		RefreshToken: result.Tokens.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    h.accessTTL,
		User:         newUserSummary(*result.User, result.Roles),
	})
}

func (h *AuthHandler) respondLoginError(c *gin.Context, err error) {
	var locked *usecase.AccountLockedError
	if errors.As(err, &locked) {
		c.Header("Retry-After", locked.Until.UTC().Format(http.TimeFormat))
		c.JSON(http.StatusForbidden, NewErrorResponse(c, "account temporarily locked"))
		return
	}

	switch {
	case errors.Is(err, usecase.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, NewErrorResponse(c, "too many login attempts"))
	case errors.Is(err, usecase.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "invalid credentials"))
	case errors.Is(err, usecase.ErrInactiveAccount):
		c.JSON(http.StatusForbidden, NewErrorResponse(c, "account is not active"))
	default:
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "login failed"))
	}
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
