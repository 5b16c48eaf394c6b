package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campusops/sits-bridge/internal/service"
)

// Metrics observes every request on the bridge's HTTP surface. The route
// template is used as the path label so /assignments/:ref stays one series
// regardless of how many references pass through it.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			// Unrouted requests (404s) fall back to the raw path.
			path = c.Request.URL.Path
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
