package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/authcore/internal/infra/security"
	"github.com/arklim/authcore/internal/usecase"
)

const claimsKey = "claims"

// ErrorResponse matches the handlers.ErrorResponse structure.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// RequireAuth validates the Authorization header and stores the access
// token claims in the request context.
func RequireAuth(tokens *usecase.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "missing authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "invalid authorization format: expected 'Bearer <token>'"))
			return
		}

		token := strings.TrimSpace(parts[1])
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "missing access token"))
			return
		}

		claims, err := tokens.ValidateAccessToken(c.Request.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, usecase.ErrExpiredAccessToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "access token expired"))
			case errors.Is(err, usecase.ErrRevokedAccessToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "access token revoked"))
			case errors.Is(err, usecase.ErrInvalidAccessToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					newErrorResponse(c, "invalid access token"))
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					newErrorResponse(c, "authentication failed"))
			}
			return
		}

		c.Set(UserIDKey, claims.Subject)
		c.Set(claimsKey, claims)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.UserID = claims.Subject
		}

		c.Next()
	}
}

// RequireRole rejects requests whose token carries none of the named roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetAccessTokenClaims(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "authentication required"))
			return
		}

		if !containsAny(claims.Roles, roles) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				newErrorResponse(c, "insufficient permissions"))
			return
		}

		c.Next()
	}
}

// RequirePermission rejects requests whose token does not carry the named
// permission. Authorization is evaluated against the claims snapshot taken
// at issuance; revocation paths invalidate the token itself.
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetAccessTokenClaims(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "authentication required"))
			return
		}

		if !containsAny(claims.Permissions, []string{permission}) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				newErrorResponse(c, "insufficient permissions"))
			return
		}

		c.Next()
	}
}

func containsAny(held, wanted []string) bool {
	if len(held) == 0 || len(wanted) == 0 {
		return false
	}
	heldMap := make(map[string]bool, len(held))
	for _, v := range held {
		heldMap[v] = true
	}
	for _, v := range wanted {
		if heldMap[v] {
			return true
		}
	}
	return false
}

// GetAccessTokenClaims retrieves the validated claims stored by RequireAuth.
func GetAccessTokenClaims(c *gin.Context) *security.AccessTokenClaims {
	raw, exists := c.Get(claimsKey)
	if !exists {
		return nil
	}
	claims, ok := raw.(*security.AccessTokenClaims)
	if !ok {
		return nil
	}
	return claims
}

// GetAuthenticatedUserID retrieves the user ID stored by RequireAuth.
func GetAuthenticatedUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}
	if id, ok := userID.(string); ok && id != "" {
		return id, true
	}
	return "", false
}
