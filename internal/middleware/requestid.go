package middleware

import (
	"grok2api-go/internal/upstream"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestID reuses X-Request-ID or mints one, and threads it into the
// request context so upstream calls log it.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		c.Set("request_id", rid)
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Request = c.Request.WithContext(upstream.WithRequestID(c.Request.Context(), rid))
		c.Next()
	}
}
