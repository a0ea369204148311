package server

import (
	oh "grok2api-go/internal/handlers/openai"
	mw "grok2api-go/internal/middleware"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RegisterOpenAIRoutes mounts the OpenAI-compatible endpoints under root.
// /v1 requires one of security.api_keys when any is configured.
func RegisterOpenAIRoutes(root *gin.RouterGroup, deps Dependencies) *oh.Handler {
	if deps.Images == nil {
		log.Warn("server: no image service configured; /v1/images disabled")
		return nil
	}
	cm := deps.Config
	cfg := cm.Get()
	oa := oh.New(deps.Images)

	v1 := root.Group("/v1")
	v1.Use(mw.KeyListAuth(func() []string { return cm.Get().Security.APIKeys }))
	if cfg.Server.RateLimitRPS > 0 {
		v1.Use(mw.RateLimiterAutoKey(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst))
	}
	v1.GET("/models", oa.ListModels)
	v1.POST("/images/generations", oa.ImagesGenerations)

	// saved images are fetched by browsers from the returned URLs
	root.GET("/images/:file", oa.ServeImage)
	return oa
}
