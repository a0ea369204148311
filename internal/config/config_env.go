package config

import (
	"strconv"
	"strings"
)

// mergeEnvVars overlays environment variables on top of cfg.
func mergeEnvVars(cfg *Config) {
	setStringFromEnv("HOST", func(v string) { cfg.Server.Host = v })
	setIntFromEnv("PORT", func(n int) {
		if n > 0 && n <= 65535 {
			cfg.Server.Port = n
		}
	})
	setStringFromEnv("BASE_PATH", func(v string) { cfg.Server.BasePath = normalizeBasePath(v) })
	setFloatFromEnv("RATE_LIMIT_RPS", func(f float64) { cfg.Server.RateLimitRPS = f })
	setIntFromEnv("RATE_LIMIT_BURST", func(n int) { cfg.Server.RateLimitBurst = n })
	setToggleFromEnv("PPROF", func(b bool) { cfg.Server.Pprof = b })

	setStringFromEnv("MANAGEMENT_KEY", func(v string) { cfg.Security.ManagementKey = v })
	setStringFromEnv("MANAGEMENT_KEY_HASH", func(v string) { cfg.Security.ManagementKeyHash = v })
	setStringFromEnv("STREAM_KEY", func(v string) { cfg.Security.StreamKey = v })
	setStringFromEnv("API_KEYS", func(v string) { cfg.Security.APIKeys = splitAndTrim(v, ",") })

	setToggleFromEnv("DEBUG", func(b bool) { cfg.Logging.Debug = b })
	setStringFromEnv("LOG_LEVEL", func(v string) { cfg.Logging.Level = strings.ToLower(v) })
	setStringFromEnv("LOG_FILE", func(v string) { cfg.Logging.File = v })
	setToggleFromEnv("REQUEST_LOG", func(b bool) { cfg.Logging.RequestLog = b })

	setStringFromEnv("STORAGE_BACKEND", func(v string) { cfg.Storage.Backend = strings.ToLower(v) })
	setStringFromEnv("STORAGE_BASE_DIR", func(v string) { cfg.Storage.BaseDir = v })
	setToggleFromEnv("WATCH_TOKENS", func(b bool) { cfg.Storage.WatchTokens = b })
	setStringFromEnv("REDIS_ADDR", func(v string) { cfg.Storage.RedisAddr = v })
	setStringFromEnv("REDIS_PASSWORD", func(v string) { cfg.Storage.RedisPassword = v })
	setIntFromEnv("REDIS_DB", func(n int) { cfg.Storage.RedisDB = n })
	setStringFromEnv("REDIS_PREFIX", func(v string) { cfg.Storage.RedisPrefix = v })
	setStringFromEnv("POSTGRES_DSN", func(v string) { cfg.Storage.PostgresDSN = v })
	setStringFromEnv("MONGODB_URI", func(v string) { cfg.Storage.MongoDBURI = v })
	setStringFromEnv("MONGODB_DATABASE", func(v string) { cfg.Storage.MongoDBDatabase = v })
	setStringFromEnv("GIT_REMOTE_URL", func(v string) { cfg.Storage.GitRemoteURL = v })
	setStringFromEnv("GIT_BRANCH", func(v string) { cfg.Storage.GitBranch = v })
	setStringFromEnv("GIT_USERNAME", func(v string) { cfg.Storage.GitUsername = v })
	setStringFromEnv("GIT_PASSWORD", func(v string) { cfg.Storage.GitPassword = v })

	setIntFromEnv("TOKEN_RELOAD_INTERVAL_SEC", func(n int) { cfg.Token.ReloadIntervalSec = n })
	setIntFromEnv("TOKEN_REFRESH_INTERVAL_HOURS", func(n int) { cfg.Token.RefreshIntervalHours = n })
	setStringFromEnv("TOKEN_DEFAULT_POOL", func(v string) { cfg.Token.DefaultPool = v })

	setStringFromEnv("GROK_BASE_URL", func(v string) { cfg.Grok.BaseURL = strings.TrimRight(v, "/") })
	setStringFromEnv("GROK_CF_CLEARANCE", func(v string) { cfg.Grok.CFClearance = v })
	setStringFromEnv("GROK_PROXY_URL", func(v string) { cfg.Grok.ProxyURL = v })
	setStringFromEnv("GROK_APP_URL", func(v string) { cfg.Grok.AppURL = v })
	setIntFromEnv("GROK_TIMEOUT_SEC", func(n int) { cfg.Grok.TimeoutSec = n })
	setIntFromEnv("GROK_MAX_RETRY", func(n int) { cfg.Grok.MaxRetry = n })
	setFloatFromEnv("GROK_REQUESTS_PER_SECOND", func(f float64) { cfg.Grok.RequestsPerSecond = f })
	setStringFromEnv("GROK_RETRY_STATUS_CODES", func(v string) {
		var codes []int
		for _, part := range splitAndTrim(v, ",") {
			if n, err := strconv.Atoi(part); err == nil {
				codes = append(codes, n)
			}
		}
		if len(codes) > 0 {
			cfg.Grok.RetryStatusCodes = codes
		}
	})
	setIntFromEnv("IMAGINE_SSO_DAILY_LIMIT", func(n int) { cfg.Grok.ImagineDailyLimit = n })
	setIntFromEnv("IMAGINE_BLOCKED_RETRY", func(n int) { cfg.Grok.ImagineBlockedRetry = n })
	setIntFromEnv("IMAGINE_MAX_RETRIES", func(n int) { cfg.Grok.ImagineMaxRetries = n })
}
