package server

import (
	pp "net/http/pprof"
	"strings"

	"grok2api-go/internal/config"
	"grok2api-go/internal/constants"
	store "grok2api-go/internal/storage"

	"github.com/gin-gonic/gin"
)

func setNoCacheHeaders(c *gin.Context) {
	c.Header("Cache-Control", "no-store, no-cache, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
}

func registerPprof(r *gin.Engine) {
	ppGroup := r.Group("/debug/pprof")
	ppGroup.GET("/", gin.WrapF(pp.Index))
	ppGroup.GET("/cmdline", gin.WrapF(pp.Cmdline))
	ppGroup.GET("/profile", gin.WrapF(pp.Profile))
	ppGroup.POST("/symbol", gin.WrapF(pp.Symbol))
	ppGroup.GET("/symbol", gin.WrapF(pp.Symbol))
	ppGroup.GET("/trace", gin.WrapF(pp.Trace))
	ppGroup.GET("/allocs", gin.WrapF(pp.Handler("allocs").ServeHTTP))
	ppGroup.GET("/goroutine", gin.WrapF(pp.Handler("goroutine").ServeHTTP))
	ppGroup.GET("/heap", gin.WrapF(pp.Handler("heap").ServeHTTP))
}

// buildRoutesJSON describes the exposed surface for dashboards and probes.
func buildRoutesJSON(cfg *config.Config, st store.Backend) map[string]any {
	base := cfg.Server.BasePath
	admin := joinBasePath(base, adminPrefix)
	return map[string]any{
		"name":    "grok2api-go",
		"version": constants.Version,
		"public": map[string]any{
			"base_url": joinBasePath(base, "/v1"),
			"endpoints": []string{
				joinBasePath(base, "/v1/models"),
				joinBasePath(base, "/v1/images/generations"),
				joinBasePath(base, "/images/:file"),
			},
			"auth": map[string]any{"type": "bearer", "required": len(cfg.Security.APIKeys) > 0},
		},
		"admin": map[string]any{
			"base_url": admin,
			"stream":   admin + "/batch/:task_id/stream",
		},
		"storage": storageLabel(st),
		"features": map[string]any{
			"rate_limit_rps": cfg.Server.RateLimitRPS,
			"pprof":          cfg.Server.Pprof,
		},
	}
}

func storageLabel(st store.Backend) string {
	if st == nil {
		return "unavailable"
	}
	return store.BackendName(st)
}

func joinBasePath(basePath, suffix string) string {
	if basePath == "" {
		return suffix
	}
	if suffix == "" {
		return basePath
	}
	if strings.HasPrefix(suffix, "/") {
		return basePath + suffix
	}
	return basePath + "/" + suffix
}
