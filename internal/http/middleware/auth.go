// README: Firebase bearer-token auth middleware.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"vigil/internal/infra"
)

const (
	ctxUID  = "auth_uid"
	ctxRole = "auth_role"
)

// Auth verifies the Authorization bearer token and stashes the caller's uid
// and role claim on the request context.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "malformed authorization header"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxUID, token.UID)
		if role, ok := token.Claims["role"].(string); ok {
			c.Set(ctxRole, role)
		}
		c.Next()
	}
}

// RequireRole gates a route group on the role claim set by Auth.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := CallerRole(c)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

// CallerUID returns the authenticated uid, empty when unauthenticated.
func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

// CallerRole returns the caller's role claim, empty when absent.
func CallerRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}
