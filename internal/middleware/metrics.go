package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/eduforge/eduforge-api/internal/service"
)

// Metrics observes every request's method, route template, status and
// latency. The route template keeps cardinality bounded; unmatched routes
// fall back to the raw path.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	if metricsSvc == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
