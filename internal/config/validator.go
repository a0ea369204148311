package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var validBackends = map[string]bool{
	"file": true, "redis": true, "postgres": true, "mongodb": true, "git": true,
}

// Normalize clamps out-of-range values back to defaults and expands paths.
func (c *Config) Normalize() error {
	def := Defaults()

	c.Server.BasePath = normalizeBasePath(c.Server.BasePath)
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.RateLimitRPS < 0 {
		c.Server.RateLimitRPS = 0
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = def.Server.RateLimitBurst
	}

	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = def.Storage.Backend
	}
	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("unsupported storage backend %q", c.Storage.Backend)
	}
	if c.Storage.BaseDir == "" {
		c.Storage.BaseDir = def.Storage.BaseDir
	}
	c.Storage.BaseDir = expandPath(c.Storage.BaseDir)
	if c.Logging.File != "" {
		c.Logging.File = expandPath(c.Logging.File)
	}

	positive(&c.Token.ReloadIntervalSec, def.Token.ReloadIntervalSec)
	positive(&c.Token.RefreshIntervalHours, def.Token.RefreshIntervalHours)
	positive(&c.Token.SaveLockTimeoutSec, def.Token.SaveLockTimeoutSec)
	if c.Token.RefreshModel == "" {
		c.Token.RefreshModel = def.Token.RefreshModel
	}
	if c.Token.DefaultPool == "" {
		c.Token.DefaultPool = def.Token.DefaultPool
	}

	p, dp := &c.Performance, def.Performance
	positive(&p.UsageMaxTokens, dp.UsageMaxTokens)
	positive(&p.UsageMaxConcurrent, dp.UsageMaxConcurrent)
	positive(&p.UsageBatchSize, dp.UsageBatchSize)
	positive(&p.NSFWMaxTokens, dp.NSFWMaxTokens)
	positive(&p.NSFWMaxConcurrent, dp.NSFWMaxConcurrent)
	positive(&p.NSFWBatchSize, dp.NSFWBatchSize)
	positive(&p.AssetsMaxTokens, dp.AssetsMaxTokens)
	positive(&p.AssetsMaxConcurrent, dp.AssetsMaxConcurrent)
	positive(&p.AssetsBatchSize, dp.AssetsBatchSize)

	g, dg := &c.Grok, def.Grok
	g.BaseURL = strings.TrimRight(strings.TrimSpace(g.BaseURL), "/")
	if g.BaseURL == "" {
		g.BaseURL = dg.BaseURL
	}
	if g.ImagineWSURL == "" {
		g.ImagineWSURL = dg.ImagineWSURL
	}
	positive(&g.TimeoutSec, dg.TimeoutSec)
	positive(&g.UsageTimeoutSec, dg.UsageTimeoutSec)
	if g.MaxRetry < 0 {
		g.MaxRetry = 0
	}
	if len(g.RetryStatusCodes) == 0 {
		g.RetryStatusCodes = dg.RetryStatusCodes
	}
	positive(&g.ImagineDailyLimit, dg.ImagineDailyLimit)
	positive(&g.ImagineBlockedRetry, dg.ImagineBlockedRetry)
	positive(&g.ImagineMaxRetries, dg.ImagineMaxRetries)
	positive(&g.ImagineDefaultImageCount, dg.ImagineDefaultImageCount)

	positive(&c.Batch.TaskTTLSec, def.Batch.TaskTTLSec)
	positive(&c.Batch.HeartbeatSec, def.Batch.HeartbeatSec)
	if c.Batch.LimiterRPS <= 0 {
		c.Batch.LimiterRPS = def.Batch.LimiterRPS
	}
	positive(&c.Batch.LimiterBurst, def.Batch.LimiterBurst)
	return nil
}

func positive(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func expandPath(p string) string {
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return filepath.Clean(p)
}
