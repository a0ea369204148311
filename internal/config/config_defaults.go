package config

import (
	"time"

	"grok2api-go/internal/constants"
)

// Defaults returns a configuration populated with built-in defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Logging: LoggingConfig{
			Level:      "info",
			RequestLog: true,
		},
		Storage: StorageConfig{
			Backend:         "file",
			BaseDir:         "data",
			WatchTokens:     true,
			RedisAddr:       "localhost:6379",
			RedisPrefix:     "grok2api:",
			MongoDBDatabase: "grok2api",
			GitBranch:       "main",
			GitAuthorName:   "grok2api",
			GitAuthorEmail:  "grok2api@localhost",
		},
		Token: TokenConfig{
			ReloadIntervalSec:    int(constants.TokenReloadInterval / time.Second),
			RefreshIntervalHours: constants.TokenRefreshIntervalHours,
			RefreshModel:         "grok-3",
			DefaultPool:          "ssoBasic",
			SaveLockTimeoutSec:   int(constants.TokenSaveLockTimeout / time.Second),
		},
		Performance: PerformanceConfig{
			UsageMaxTokens:      1000,
			UsageMaxConcurrent:  25,
			UsageBatchSize:      50,
			NSFWMaxTokens:       1000,
			NSFWMaxConcurrent:   10,
			NSFWBatchSize:       50,
			AssetsMaxTokens:     1000,
			AssetsMaxConcurrent: 25,
			AssetsBatchSize:     10,
		},
		Grok: GrokConfig{
			BaseURL:                  "https://grok.com",
			ImagineWSURL:             "wss://grok.com/ws/imagine/listen",
			TimeoutSec:               int(constants.UpstreamDefaultTimeout / time.Second),
			UsageTimeoutSec:          int(constants.UpstreamUsageTimeout / time.Second),
			MaxRetry:                 constants.UpstreamMaxRetry,
			RetryStatusCodes:         append([]int(nil), constants.UpstreamRetryStatusCodes...),
			ImagineDailyLimit:        constants.ImagineDailyLimit,
			ImagineBlockedRetry:      constants.ImagineBlockedRetry,
			ImagineMaxRetries:        constants.ImagineMaxRetries,
			ImagineDefaultImageCount: constants.ImagineDefaultImageCount,
		},
		Batch: BatchConfig{
			TaskTTLSec:   int(constants.BatchTaskTTL / time.Second),
			HeartbeatSec: int(constants.BatchStreamHeartbeat / time.Second),
			LimiterRPS:   2,
			LimiterBurst: 5,
		},
	}
}
