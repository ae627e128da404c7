package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/authcore/internal/transport/http/middleware"
	"github.com/arklim/authcore/internal/usecase"
)

// TokenHandler exposes the caller's refresh token inventory.
type TokenHandler struct {
	tokens *usecase.TokenService
}

// NewTokenHandler constructs TokenHandler.
func NewTokenHandler(tokens *usecase.TokenService) *TokenHandler {
	return &TokenHandler{tokens: tokens}
}

// RegisterRoutes binds token routes under the provided group.
func (h *TokenHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("", h.ListActiveTokens)
	r.POST("/revoke", h.RevokeToken)
}

// ListActiveTokens returns the caller's live refresh tokens so they can
// audit where they are signed in.
func (h *TokenHandler) ListActiveTokens(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	tokens, err := h.tokens.ListActiveTokens(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to list tokens"))
		return
	}

	payloads := make([]TokenPayload, 0, len(tokens))
	for _, token := range tokens {
		payloads = append(payloads, newTokenPayload(token))
	}

	c.JSON(http.StatusOK, TokenListResponse{Tokens: payloads, Total: len(payloads)})
}

// RevokeToken revokes a single refresh token presented in the body.
func (h *TokenHandler) RevokeToken(c *gin.Context) {
	if _, ok := middleware.GetAuthenticatedUserID(c); !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req TokenRefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid revocation payload"))
		return
	}

	err := h.tokens.RevokeRefreshToken(c.Request.Context(), req.RefreshToken, c.ClientIP(), "user_revoked")
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidRefreshToken, Status: http.StatusNotFound, Message: "refresh token not found"},
		}, http.StatusInternalServerError, "failed to revoke token")
		return
	}

	c.Status(http.StatusNoContent)
}
