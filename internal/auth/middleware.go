// Package auth gates the dashboard API behind a single statically
// configured admin bearer token, compared in constant time. There is no
// user or tier concept; one credential guards the whole admin surface.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Middleware builds a gin.HandlerFunc that requires the Authorization
// header to carry "Bearer <token>" where token matches adminToken under
// constant-time comparison. On failure it returns an opaque 403 and
// nothing the caller can use to distinguish "wrong token" from "missing
// header".
func Middleware(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)

		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || !tokenMatches(parts[1], adminToken) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		c.Next()
	}
}

func tokenMatches(presented, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}
