// Package auth guards admin routes with a shared operator secret.
//
// Beneficiary and donor identity is handled by an external service; the
// API itself only distinguishes public transparency reads from operator
// actions, so a single secret header is the whole surface.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequireAdmin checks the X-Admin-Secret header (or a Bearer token) against
// the configured secret. An empty secret disables the guard; the server
// only permits that in development mode.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}

		provided := c.GetHeader("X-Admin-Secret")
		if provided == "" {
			provided = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "admin secret required. Include 'X-Admin-Secret' header.",
			})
			return
		}
		c.Next()
	}
}
