package middleware

import (
	"net/http/httptest"
	"testing"

	"grok2api-go/internal/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("Recover from panic", func(t *testing.T) {
		router := gin.New()
		router.Use(Recovery())
		router.GET("/panic", func(c *gin.Context) { panic("test panic") })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/panic", nil))
		assert.Equal(t, 500, w.Code)
		assert.Contains(t, w.Body.String(), `"code":"panic_recovered"`)
		assert.GreaterOrEqual(t, testutil.ToFloat64(monitoring.HTTPPanicsTotal.WithLabelValues("/panic")), 1.0)
	})

	t.Run("Callback sees the panic value", func(t *testing.T) {
		var seen interface{}
		router := gin.New()
		router.Use(RecoveryWithWriter(func(c *gin.Context, err interface{}) { seen = err }))
		router.GET("/panic", func(c *gin.Context) { panic("boom") })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/panic", nil))
		assert.Equal(t, 500, w.Code)
		assert.Equal(t, "boom", seen)
	})

	t.Run("Normal request without panic", func(t *testing.T) {
		router := gin.New()
		router.Use(Recovery())
		router.GET("/normal", func(c *gin.Context) { c.String(200, "OK") })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/normal", nil))
		assert.Equal(t, 200, w.Code)
	})
}
