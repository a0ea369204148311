package middleware

import (
	"time"

	"grok2api-go/internal/logging"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RequestLogger logs HTTP requests. enabled is consulted per request so the
// request_log switch can be flipped by a config reload.
func RequestLogger(enabled func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if enabled != nil && !enabled() {
			return
		}

		status := c.Writer.Status()
		entry := logging.WithReq(c, log.Fields{
			"status":     status,
			"latency_ms": logging.DurationMS(time.Since(start)),
			"user_agent": c.Request.UserAgent(),
			"kind":       logging.ErrorKind(status, len(c.Errors) > 0),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}
		switch {
		case status >= 500:
			entry.Error("http_request")
		case status >= 400:
			entry.Warn("http_request")
		default:
			entry.Info("http_request")
		}
	}
}
