package management

import (
	"net/http"
	"time"

	"grok2api-go/internal/constants"
	"grok2api-go/internal/monitoring"
	"grok2api-go/internal/storage"

	"github.com/gin-gonic/gin"
)

// ImagineState exposes the scored rotation document.
func (h *Handler) ImagineState(c *gin.Context) {
	if h.rotation == nil {
		respondError(c, http.StatusServiceUnavailable, "imagine rotation is not configured")
		return
	}
	state := h.rotation.Snapshot(c.Request.Context())
	cfg := h.cfg.Get()
	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"state":       state,
		"daily_limit": cfg.Grok.ImagineDailyLimit,
		"tokens":      len(h.tokens.AllTokens()),
	})
}

// SystemTasks lists supervised background loops.
func (h *Handler) SystemTasks(c *gin.Context) {
	if h.tasks == nil {
		c.JSON(http.StatusOK, gin.H{"tasks": []any{}, "stats": gin.H{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": h.tasks.ListTasks(), "stats": h.tasks.GetStats()})
}

// SystemInfo reports version, uptime, storage backend, batch load and the
// latest slow storage operations.
func (h *Handler) SystemInfo(c *gin.Context) {
	slow := h.slowOps.Recent(recentSlowOps)
	if slow == nil {
		slow = []monitoring.SlowQuery{}
	}
	c.JSON(http.StatusOK, gin.H{
		"version":          constants.GetFullVersion(),
		"uptime_seconds":   int64(time.Since(h.startTime).Seconds()),
		"storage":          storage.BackendName(h.tokens.Store()),
		"batch_tasks":      h.registry.Len(),
		"pools":            h.tokens.PoolNames(),
		"slow_storage_ops": slow,
	})
}

const recentSlowOps = 20
