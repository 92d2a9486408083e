package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// GinMiddleware instruments every request with the HTTP counters. The route
// template keeps path cardinality bounded (no raw URLs).
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())
		durationMs := float64(time.Since(start).Milliseconds())

		HTTPRequests.WithLabelValues(method, path, status).Inc()
		HTTPDuration.WithLabelValues(method, path).Observe(durationMs)
	}
}
