package middleware

import (
	"time"

	"grok2api-go/internal/monitoring"

	"github.com/gin-gonic/gin"
)

// Metrics tracks per-route counters and the latency histogram. SSE streams
// are counted but kept out of the latency histogram.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		monitoring.HTTPInFlight.Inc()
		c.Next()
		monitoring.HTTPInFlight.Dec()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		sc := monitoring.StatusClass(c.Writer.Status())
		monitoring.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, sc).Inc()
		if c.Writer.Header().Get("Content-Type") != "text/event-stream" {
			monitoring.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, sc).Observe(time.Since(start).Seconds())
		}
	}
}
