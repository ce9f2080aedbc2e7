package middleware

import (
	"strconv"
	"time"

	"github.com/api-monitor/api-monitor/internal/telemetry"
	"github.com/gin-gonic/gin"
)

// MetricsMiddleware records request count and latency per route template, plus
// http_unhandled_failures_total for requests the auditing layers turned into a
// captured *Failure. It must wrap ErrorLoggingMiddleware so the uniform 500 has been
// written, and the failure stored on the context, by the time it reads them.
//
// The path label comes from c.FullPath(), such as /api/items/:id, so item IDs never
// become label values. Unmatched requests use "<no-route>".
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}
		method := c.Request.Method

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())

		if _, failed := c.Get(FailureKey); failed {
			telemetry.UnhandledFailuresTotal.WithLabelValues(method, path).Inc()
		}
	}
}
