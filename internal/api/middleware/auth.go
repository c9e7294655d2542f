package middleware

import (
	"strings"

	"actionrecorder/backend/pkg/auth"
	"actionrecorder/backend/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware requires a bearer token signed with secret. With enabled
// false every request passes.
func AuthMiddleware(secret string, enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			response.Abort(c, 401, "missing bearer token")
			return
		}

		claims, err := auth.ParseToken(secret, tokenString)
		if err != nil {
			response.Abort(c, 401, "invalid or expired token")
			return
		}

		c.Set("subject", claims.Subject)
		c.Next()
	}
}
