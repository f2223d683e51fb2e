package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/skyprovider/pkg/logger"
)

// Logger writes a concise structured access log for each request. The route pattern is
// logged rather than the raw path so popup tokens never reach the logs.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		fields := []zap.Field{
			zap.String("method", method),
			zap.String("route", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if origin := c.GetHeader("Origin"); origin != "" {
			fields = append(fields, zap.String("origin", origin))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		log := logger.WithModule("http")
		if c.Writer.Status() >= 500 {
			log.Warn("request", fields...)
			return
		}
		log.Info("request", fields...)
	}
}
