package server

import (
	"grok2api-go/internal/config"
	mw "grok2api-go/internal/middleware"

	"github.com/gin-gonic/gin"
)

// applyStandardEngineSettings installs the shared middleware chain. CORS is
// applied to the public surface only; the admin API is same-origin.
func applyStandardEngineSettings(engine *gin.Engine, cm *config.ConfigManager) {
	cfg := cm.Get()
	if !cfg.Logging.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	_ = engine.SetTrustedProxies(nil)

	engine.Use(
		mw.Recovery(),
		mw.RequestID(),
		mw.RequestLogger(func() bool { return cm.Get().Logging.RequestLog }),
		mw.Metrics(),
		mw.CORS(joinBasePath(cfg.Server.BasePath, adminPrefix)),
	)
}
