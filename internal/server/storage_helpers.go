package server

import (
	"context"
	"net/http"

	"grok2api-go/internal/constants"
	store "grok2api-go/internal/storage"

	"github.com/gin-gonic/gin"
)

func usesExternalStorage(backend store.Backend) bool {
	if backend == nil {
		return false
	}
	if u, ok := backend.(interface{ Unwrap() store.Backend }); ok {
		backend = u.Unwrap()
	}
	_, isFile := backend.(*store.FileBackend)
	return !isFile
}

// healthHandler pings the storage backend within constants.StorageOpTimeout.
func healthHandler(backend store.Backend) gin.HandlerFunc {
	return func(c *gin.Context) {
		setNoCacheHeaders(c)
		if backend == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "storage": "unavailable"})
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), constants.StorageOpTimeout)
		defer cancel()
		body := gin.H{
			"storage":  store.BackendName(backend),
			"external": usesExternalStorage(backend),
		}
		if err := backend.Health(ctx); err != nil {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
		body["status"] = "ok"
		c.JSON(http.StatusOK, body)
	}
}
