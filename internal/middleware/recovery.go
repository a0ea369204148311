package middleware

import (
	"net/http"
	"runtime/debug"

	apperrors "grok2api-go/internal/errors"
	"grok2api-go/internal/logging"
	"grok2api-go/internal/monitoring"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Recovery 返回一个 panic 恢复中间件
func Recovery() gin.HandlerFunc {
	return RecoveryWithWriter(nil)
}

// RecoveryWithWriter 恢复 panic 并返回 500 错误信封；onPanic 在写响应之前调用
func RecoveryWithWriter(onPanic gin.RecoveryFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			monitoring.HTTPPanicsTotal.WithLabelValues(route).Inc()
			logging.WithReq(c, log.Fields{
				"panic": rec,
				"stack": string(debug.Stack()),
			}).Error("panic recovered")

			if onPanic != nil {
				onPanic(c, rec)
			}
			if c.Writer.Written() {
				c.Abort()
				return
			}
			apiErr := apperrors.New(http.StatusInternalServerError, "panic_recovered", "server_error", "internal server error")
			c.AbortWithStatusJSON(apiErr.HTTPStatus, apiErr.Body())
		}()
		c.Next()
	}
}
