package notify

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func RequireBearerMiddleware() gin.HandlerFunc {
	disabled := strings.EqualFold(os.Getenv("PP_AUTH_DISABLED"), "true") || os.Getenv("PP_AUTH_DISABLED") == "1"

	return func(c *gin.Context) {
		if disabled {
			c.Next()
			return
		}
		p := c.Request.URL.Path
		// Keep infra endpoints open.
		if p == "/healthz" || p == "/readyz" || p == "/docs" {
			c.Next()
			return
		}
		if strings.HasPrefix(p, "/api/") {
			auth := strings.TrimSpace(c.GetHeader("Authorization"))
			if !strings.HasPrefix(auth, "Bearer ") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
				return
			}
		}
		c.Next()
	}
}

func InjectClientMiddleware(n *Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n != nil && c.Request != nil {
			c.Request = c.Request.WithContext(WithClient(c.Request.Context(), n))
		}
		c.Next()
	}
}

// WriteAuditMiddleware forwards write-method API calls to the notification
// gateway's audit log.
func WriteAuditMiddleware(n *Client, logger *zap.Logger) gin.HandlerFunc {
	if n == nil {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		method := strings.ToUpper(c.Request.Method)
		if !strings.HasPrefix(path, "/api/") {
			return
		}
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return
		}

		status := c.Writer.Status()
		dur := time.Since(start)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err := n.CreateEvent(ctx, EventRequest{
			Kind:  "escrow_http_write",
			Level: levelFromStatus(status),
			Details: map[string]any{
				"method":   method,
				"path":     path,
				"status":   status,
				"duration": dur.String(),
			},
		})
		if err != nil && logger != nil {
			logger.Debug("notify audit event failed", zap.Error(err))
		}
	}
}

func levelFromStatus(status int) string {
	if status >= 500 {
		return "error"
	}
	if status >= 400 {
		return "warn"
	}
	return "info"
}
