// Package management serves the admin API: token CRUD, bulk upstream
// operations as streamable batch tasks, and runtime introspection.
package management

import (
	"context"
	"time"

	"grok2api-go/internal/batch"
	"grok2api-go/internal/config"
	"grok2api-go/internal/credential"
	"grok2api-go/internal/middleware"
	"grok2api-go/internal/monitoring"
	"grok2api-go/internal/rotation"
	"grok2api-go/internal/runtime"
	"grok2api-go/internal/upstream"

	"github.com/gin-gonic/gin"
)

// Upstream is the subset of the grok client the admin flows call.
type Upstream interface {
	EnableNSFW(ctx context.Context, token string) upstream.NSFWResult
	VerifyAge(ctx context.Context, token string) error
	DeleteAll(ctx context.Context, token string) upstream.DeleteAllResult
	CountAssets(ctx context.Context, token string) (int, error)
}

// Deps are the collaborators of the admin handler.
type Deps struct {
	Config   *config.ConfigManager
	Tokens   *credential.Manager
	Rotation *rotation.Store
	Registry *batch.Registry
	Upstream Upstream
	Limiter  *BatchLimiter
	Tasks    *runtime.TaskManager
	SlowOps  *monitoring.SlowQueryLogger
	// ImageDir locates the local image cache; defaults to <base_dir>/tmp/image.
	ImageDir func() string
	// BaseContext parents background batch runs; defaults to Background.
	BaseContext context.Context
}

// Handler provides management API endpoints.
type Handler struct {
	cfg        *config.ConfigManager
	tokens     *credential.Manager
	rotation   *rotation.Store
	registry   *batch.Registry
	upstream   Upstream
	limiter    *BatchLimiter
	tasks      *runtime.TaskManager
	slowOps    *monitoring.SlowQueryLogger
	imageDirFn func() string
	baseCtx    context.Context
	startTime  time.Time
}

func NewHandler(d Deps) *Handler {
	h := &Handler{
		cfg:        d.Config,
		tokens:     d.Tokens,
		rotation:   d.Rotation,
		registry:   d.Registry,
		upstream:   d.Upstream,
		limiter:    d.Limiter,
		tasks:      d.Tasks,
		slowOps:    d.SlowOps,
		imageDirFn: d.ImageDir,
		baseCtx:    d.BaseContext,
		startTime:  time.Now(),
	}
	if h.cfg == nil {
		h.cfg = config.NewStaticManager(nil)
	}
	if h.registry == nil {
		h.registry = batch.NewRegistry()
	}
	if h.limiter == nil {
		h.limiter = NewBatchLimiter(BatchLimitConfigFrom(h.cfg.Get()))
	}
	if h.baseCtx == nil {
		h.baseCtx = context.Background()
	}
	return h
}

// AdminAuth accepts the management key (plain or bcrypt hash) as a bearer token.
func (h *Handler) AdminAuth() gin.HandlerFunc {
	return middleware.Auth(middleware.AuthConfig{
		Validate: func(key string) bool { return config.CheckManagementKey(h.cfg.Get(), key) },
	})
}

// StreamAuth additionally accepts ?api_key= and the viewer stream key.
func (h *Handler) StreamAuth() gin.HandlerFunc {
	return middleware.Auth(middleware.AuthConfig{
		QueryParam: "api_key",
		Validate:   func(key string) bool { return config.CheckStreamKey(h.cfg.Get(), key) },
	})
}

// RegisterRoutes mounts the admin API on rg (normally /api/v1/admin).
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/batch/:task_id/stream", h.StreamAuth(), h.StreamBatch)

	admin := rg.Group("")
	admin.Use(h.AdminAuth())

	admin.GET("/tokens", h.GetTokens)
	admin.POST("/tokens", h.UpdateTokens)
	admin.POST("/tokens/add", h.AddToken)
	admin.POST("/tokens/remove", h.RemoveToken)
	admin.POST("/tokens/reset", h.ResetTokens)
	admin.POST("/tokens/tags", h.UpdateTag)
	admin.POST("/tokens/note", h.UpdateNote)
	admin.GET("/tokens/stats", h.TokenStats)
	admin.GET("/tokens/next", h.NextToken)
	admin.POST("/tokens/refresh", h.RefreshTokens)
	admin.POST("/tokens/refresh/async", h.RefreshTokensAsync)
	admin.POST("/tokens/refresh/cooling", h.RefreshCooling)
	admin.POST("/tokens/nsfw/enable", h.EnableNSFW)
	admin.POST("/tokens/nsfw/enable/async", h.EnableNSFWAsync)

	admin.GET("/config", h.GetConfig)
	admin.POST("/config", h.UpdateConfig)
	admin.GET("/storage", h.GetStorage)

	admin.GET("/cache", h.CacheStats)
	admin.GET("/cache/list", h.ListLocalCache)
	admin.POST("/cache/clear", h.ClearLocalCache)
	admin.POST("/cache/item/delete", h.DeleteLocalCacheItem)
	admin.POST("/cache/online/clear", h.ClearOnlineCache)
	admin.POST("/cache/online/clear/async", h.ClearOnlineCacheAsync)
	admin.POST("/cache/online/load/async", h.LoadOnlineCacheAsync)

	admin.GET("/batch", h.ListBatchTasks)
	admin.GET("/batch/:task_id", h.GetBatchTask)
	admin.POST("/batch/:task_id/cancel", h.CancelBatchTask)

	admin.GET("/imagine/state", h.ImagineState)
	admin.GET("/system/tasks", h.SystemTasks)
	admin.GET("/system/info", h.SystemInfo)
}
