package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/skyprovider/pkg/errors"
	"github.com/charlesng35/skyprovider/pkg/logger"
	"github.com/charlesng35/skyprovider/pkg/response"
)

// RateLimit limits requests per (client IP, route) within a fixed window. Counters live
// in store so limits hold across instances sharing a database.
func RateLimit(store RateStore, maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil || maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		key := "ratelimit:" + c.ClientIP() + "|" + path

		count, ttl, err := store.Increment(c.Request.Context(), key, window)
		if err != nil {
			// Counter failures fail open.
			logger.WithModule("http").Warn("rate limit store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(0, maxRequests-count)))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(ttl.Seconds())))

		if count > maxRequests {
			response.Error(c, errors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}
