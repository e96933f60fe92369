package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"userauth/internal/logging"
)

// RequestLogger replaces gin.Logger with structured access lines.
func RequestLogger(log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		args := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"took", time.Since(start).Truncate(time.Microsecond).String(),
			"ip", c.ClientIP(),
		}
		if id, ok := c.Get(CtxUserID); ok {
			args = append(args, "user_id", id)
		}
		if len(c.Errors) > 0 {
			args = append(args, "errors", c.Errors.String())
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			log.Error(c.Request.Context(), "[http] request", args...)
		case status >= 400:
			log.Warn(c.Request.Context(), "[http] request", args...)
		default:
			log.Info(c.Request.Context(), "[http] request", args...)
		}
	}
}
