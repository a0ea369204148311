package server

import (
	"grok2api-go/internal/handlers/management"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// registerManagementRoutes mounts the admin API at adminPrefix.
func registerManagementRoutes(root *gin.RouterGroup, deps Dependencies) *management.Handler {
	if deps.Tokens == nil {
		log.Warn("server: no token manager configured; admin API disabled")
		return nil
	}
	cfg := deps.Config.Get()
	if cfg.Security.ManagementKey == "" && cfg.Security.ManagementKeyHash == "" {
		log.Warn("server: management_key is empty; every admin request will be rejected")
	}
	var imageDir func() string
	if deps.Images != nil {
		imageDir = func() string { return deps.Images.Options().ImageDir }
	}
	h := management.NewHandler(management.Deps{
		Config:      deps.Config,
		Tokens:      deps.Tokens,
		Rotation:    deps.Rotation,
		Registry:    deps.Registry,
		Upstream:    deps.Upstream,
		Limiter:     deps.Limiter,
		Tasks:       deps.Tasks,
		SlowOps:     deps.SlowOps,
		ImageDir:    imageDir,
		BaseContext: deps.BaseContext,
	})
	h.RegisterRoutes(root.Group(adminPrefix))
	return h
}
