package openai

import (
	"net/http"

	"grok2api-go/internal/models"

	"github.com/gin-gonic/gin"
)

// ListModels handles GET /v1/models.
func (h *Handler) ListModels(c *gin.Context) {
	list := models.List()
	data := make([]gin.H, 0, len(list))
	for _, m := range list {
		data = append(data, gin.H{
			"id":           m.ID,
			"object":       "model",
			"created":      0,
			"owned_by":     "grok2api",
			"display_name": m.DisplayName,
			"tier":         m.Tier,
			"cost":         m.Cost,
			"capabilities": gin.H{"images": m.IsImage, "video": m.IsVideo, "chat": !m.IsImage && !m.IsVideo},
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}
