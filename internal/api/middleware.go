package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// LogRequests logs the method, route, status and duration of each request.
func LogRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		slog.InfoContext(c.Request.Context(), "api: request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"remote", c.ClientIP(),
		)
	}
}
