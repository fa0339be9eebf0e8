package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tokengate/api/internal/service"
)

const (
	ContextUser        = "user_context"
	ContextAccessToken = "access_token"
)

// Auth is the gate in front of every authenticated route. It runs the full
// verification (signature, expiry, user lookup, revocation cutoff) on each
// request and distinguishes expired/revoked from invalid so clients know
// whether a silent refresh is worth attempting.
func Auth(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_token"})
			return
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

		userCtx, err := auth.Authenticate(c.Request.Context(), tokenStr)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrTokenExpired):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token_expired"})
			case errors.Is(err, service.ErrTokenRevoked):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token_revoked"})
			case errors.Is(err, service.ErrInvalidToken):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			case service.IsAuthFailure(err):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			}
			return
		}

		c.Set(ContextAccessToken, tokenStr)
		c.Set(ContextUser, userCtx)

		c.Next()
	}
}

// CurrentUser pulls the authenticated user context set by Auth.
func CurrentUser(c *gin.Context) (service.UserContext, bool) {
	val, exists := c.Get(ContextUser)
	if !exists {
		return service.UserContext{}, false
	}
	userCtx, ok := val.(service.UserContext)
	return userCtx, ok
}
