package logging

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// WithReq builds a log entry enriched with common HTTP request fields.
// Fields:
// - request_id: X-Request-ID or generated in middleware
// - method, path, ip
// Any extras passed in will be merged (extras take precedence on key conflicts).
func WithReq(c *gin.Context, extras log.Fields) *log.Entry {
	if c == nil {
		return log.WithFields(extras)
	}
	path := c.FullPath()
	if path == "" && c.Request != nil && c.Request.URL != nil {
		path = c.Request.URL.Path
	}
	rid, _ := c.Get("request_id")
	fields := log.Fields{
		"request_id": rid,
		"method":     c.Request.Method,
		"path":       path,
		"ip":         c.ClientIP(),
	}
	for k, v := range extras {
		fields[k] = v
	}
	return log.WithFields(fields)
}

// DurationMS converts a duration to integer milliseconds for logging.
func DurationMS(d time.Duration) int64 { return d.Milliseconds() }

// MaskToken keeps the first 8 characters of a credential for log lines.
func MaskToken(token string) string {
	token = strings.TrimPrefix(strings.TrimSpace(token), "sso=")
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "..."
}

// MaskTokenLong keeps a head and tail so operators can tell tokens apart in
// admin listings.
func MaskTokenLong(token string) string {
	if len(token) > 24 {
		return token[:8] + "..." + token[len(token)-16:]
	}
	return token
}
