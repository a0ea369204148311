package server

import (
	"context"
	"net/http"

	"grok2api-go/internal/batch"
	"grok2api-go/internal/config"
	"grok2api-go/internal/credential"
	"grok2api-go/internal/handlers/management"
	oh "grok2api-go/internal/handlers/openai"
	mw "grok2api-go/internal/middleware"
	"grok2api-go/internal/monitoring"
	"grok2api-go/internal/rotation"
	"grok2api-go/internal/runtime"
	store "grok2api-go/internal/storage"

	"github.com/gin-gonic/gin"
)

// adminPrefix is where the management API is mounted below the base path.
const adminPrefix = "/api/v1/admin"

// Dependencies encapsulates runtime services required to build the HTTP engine.
type Dependencies struct {
	Config   *config.ConfigManager
	Storage  store.Backend
	Tokens   *credential.Manager
	Rotation *rotation.Store
	Registry *batch.Registry
	Upstream management.Upstream
	Images   oh.ImageService
	Limiter  *management.BatchLimiter
	Tasks    *runtime.TaskManager
	SlowOps  *monitoring.SlowQueryLogger
	// BaseContext outlives requests; async admin flows run under it.
	BaseContext context.Context
}

// BuildEngine constructs the gin engine serving the public image API, the
// admin API, health and metrics.
func BuildEngine(deps Dependencies) *gin.Engine {
	if deps.Config == nil {
		deps.Config = config.NewStaticManager(nil)
	}
	cfg := deps.Config.Get()

	engine := gin.New()
	applyStandardEngineSettings(engine, deps.Config)
	if cfg.Server.Pprof {
		registerPprof(engine)
	}

	basePath := cfg.Server.BasePath
	root := engine.Group(basePath)

	root.GET("/healthz", healthHandler(deps.Storage))
	root.GET("/metrics", mw.MetricsHandler)
	root.GET("/meta/routes", func(c *gin.Context) {
		setNoCacheHeaders(c)
		c.JSON(http.StatusOK, buildRoutesJSON(deps.Config.Get(), deps.Storage))
	})

	RegisterOpenAIRoutes(root, deps)
	registerManagementRoutes(root, deps)
	return engine
}
