package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestRateLimiterAutoKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("Allow requests within limit", func(t *testing.T) {
		router := gin.New()
		router.Use(RateLimiterAutoKey(10, 10))
		router.GET("/test", func(c *gin.Context) { c.String(200, "OK") })

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Authorization", "Bearer test-key-123")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, 200, w.Code)
	})

	t.Run("Per key budget is independent", func(t *testing.T) {
		router := gin.New()
		router.Use(RateLimiterAutoKey(0.001, 1))
		router.GET("/test", func(c *gin.Context) { c.String(200, "OK") })

		do := func(key string) int {
			req := httptest.NewRequest("GET", "/test", nil)
			req.Header.Set("Authorization", "Bearer "+key)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			return w.Code
		}
		assert.Equal(t, 200, do("a"))
		assert.Equal(t, http.StatusTooManyRequests, do("a"))
		assert.Equal(t, 200, do("b"))
	})

	t.Run("Rejection uses the error envelope", func(t *testing.T) {
		router := gin.New()
		router.Use(RateLimiterAutoKey(0.001, 1))
		router.GET("/test", func(c *gin.Context) { c.String(200, "OK") })

		for i := 0; i < 2; i++ {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
			if i == 1 {
				require.Equal(t, http.StatusTooManyRequests, w.Code)
				assert.Equal(t, "1", w.Header().Get("Retry-After"))
				assert.Contains(t, w.Body.String(), `"code":"rate_limit_exceeded"`)
			}
		}
	})

	t.Run("Use defaults for invalid values", func(t *testing.T) {
		router := gin.New()
		router.Use(RateLimiterAutoKey(0, 0))
		router.GET("/test", func(c *gin.Context) { c.String(200, "OK") })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
		assert.Equal(t, 200, w.Code)
	})
}

func TestExtractAPIKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		setup    func(*gin.Context)
		expected string
	}{
		{"From context", func(c *gin.Context) { c.Set("api_key", "context-key") }, "context-key"},
		{"From Authorization header", func(c *gin.Context) { c.Request.Header.Set("Authorization", "Bearer header-key") }, "header-key"},
		{"From x-api-key header", func(c *gin.Context) { c.Request.Header.Set("x-api-key", "x-api-key-value") }, "x-api-key-value"},
		{"No API key", func(c *gin.Context) {}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest("GET", "/test", nil)
			tt.setup(c)
			assert.Equal(t, tt.expected, extractAPIKey(c))
		})
	}
}

func TestTTLLimiterCache(t *testing.T) {
	t.Run("Get or create limiter", func(t *testing.T) {
		cache := newTTLLimiterCache(time.Minute)
		lim1 := cache.get("key1", func() *rate.Limiter { return rate.NewLimiter(10, 10) })
		require.NotNil(t, lim1)
		lim2 := cache.get("key1", func() *rate.Limiter { return rate.NewLimiter(20, 20) })
		assert.Same(t, lim1, lim2)
	})

	t.Run("Sweep expired entries", func(t *testing.T) {
		cache := newTTLLimiterCache(50 * time.Millisecond)
		cache.get("key1", func() *rate.Limiter { return rate.NewLimiter(10, 10) })
		assert.Equal(t, 1, cache.size())

		time.Sleep(80 * time.Millisecond)
		cache.mu.Lock()
		cache.lastSweep = time.Time{}
		cache.mu.Unlock()
		cache.get("key2", func() *rate.Limiter { return rate.NewLimiter(10, 10) })

		cache.mu.Lock()
		_, exists := cache.items["key1"]
		cache.mu.Unlock()
		assert.False(t, exists, "key1 should be swept")
		assert.Equal(t, 1, cache.size())
	})
}
