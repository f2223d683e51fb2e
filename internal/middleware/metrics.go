package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/skyprovider/pkg/metrics"
)

// Metrics records request latency for each HTTP request, labelled by route pattern.
// Unmatched requests share one label so popup tokens and probes do not create series.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		status := strconv.Itoa(c.Writer.Status())
		metrics.APILatency.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}
