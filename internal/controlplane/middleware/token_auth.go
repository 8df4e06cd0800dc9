package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenAuthConfig carries the control plane's bearer token.
type TokenAuthConfig struct {
	Token string
}

// TokenAuth rejects any request that doesn't carry the configured bearer
// token, either via the Authorization header or a token query parameter
// (for callers, like a browser-based SSE client, that can't set headers).
func TokenAuth(config TokenAuthConfig) gin.HandlerFunc {
	if config.Token == "" {
		slog.Warn("control plane auth disabled: no token configured")
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}

		if token != config.Token {
			slog.Debug("control plane: rejected request", "ip", c.ClientIP(), "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
