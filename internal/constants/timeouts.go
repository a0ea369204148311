package constants

import "time"

const (
	// ServerShutdownTimeout bounds graceful HTTP server shutdown.
	ServerShutdownTimeout = 30 * time.Second
	// ServerGracefulWait defines post-shutdown wait window for cleanup.
	ServerGracefulWait = 2 * time.Second

	// TokenSaveLockTimeout 持久化 token 文档时的锁超时
	TokenSaveLockTimeout = 10 * time.Second
	// TokenReloadInterval 默认的 token 过期重载间隔
	TokenReloadInterval = 30 * time.Second
	// TokenRefreshIntervalHours 冷却 token 的额度同步周期（小时）
	TokenRefreshIntervalHours = 8

	// StorageLockPollInterval 文件锁重试间隔
	StorageLockPollInterval = 50 * time.Millisecond
	// StorageOpTimeout 单次存储操作超时
	StorageOpTimeout = 5 * time.Second

	// BatchTaskTTL 批量任务终止后在注册表中保留的时间
	BatchTaskTTL = 300 * time.Second
	// BatchStreamHeartbeat SSE 空闲心跳间隔
	BatchStreamHeartbeat = 15 * time.Second

	// UpstreamUsageTimeout 额度查询超时
	UpstreamUsageTimeout = 10 * time.Second
	// UpstreamDefaultTimeout 其他上游调用（包括 imagine websocket）超时
	UpstreamDefaultTimeout = 120 * time.Second
)
