package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var promHandler = promhttp.Handler()

// MetricsHandler serves the default prometheus registry.
func MetricsHandler(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	promHandler.ServeHTTP(c.Writer, c.Request)
}
