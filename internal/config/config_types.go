package config

// Config is the full gateway configuration as read from config.yaml (or JSON).
// Nested sections map 1:1 to YAML blocks.
type Config struct {
	Server      ServerConfig      `yaml:"server" json:"server"`
	Security    SecurityConfig    `yaml:"security" json:"security"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
	Storage     StorageConfig     `yaml:"storage" json:"storage"`
	Token       TokenConfig       `yaml:"token" json:"token"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Grok        GrokConfig        `yaml:"grok" json:"grok"`
	Batch       BatchConfig       `yaml:"batch" json:"batch"`
}

type ServerConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	BasePath string `yaml:"base_path" json:"base_path"`
	// RateLimitRPS 公共 /v1 接口按 key 限流，0 表示关闭
	RateLimitRPS   float64 `yaml:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst" json:"rate_limit_burst"`
	Pprof          bool    `yaml:"pprof" json:"pprof"`
}

// SecurityConfig 管理接口鉴权
type SecurityConfig struct {
	ManagementKey     string   `yaml:"management_key" json:"management_key"`
	ManagementKeyHash string   `yaml:"management_key_hash" json:"management_key_hash"`
	StreamKey         string   `yaml:"stream_key" json:"stream_key"`
	APIKeys           []string `yaml:"api_keys" json:"api_keys"`
}

type LoggingConfig struct {
	Debug      bool   `yaml:"debug" json:"debug"`
	Level      string `yaml:"log_level" json:"log_level"`
	File       string `yaml:"log_file" json:"log_file"`
	RequestLog bool   `yaml:"request_log" json:"request_log"`
}

// StorageConfig selects the persistence backend for the token document and
// rotation state. Backend is one of file, redis, postgres, mongodb, git.
type StorageConfig struct {
	Backend     string `yaml:"backend" json:"backend"`
	BaseDir     string `yaml:"base_dir" json:"base_dir"`
	WatchTokens bool   `yaml:"watch_tokens" json:"watch_tokens"`

	RedisAddr     string `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string `yaml:"redis_password" json:"redis_password"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix" json:"redis_prefix"`

	PostgresDSN string `yaml:"postgres_dsn" json:"postgres_dsn"`

	MongoDBURI      string `yaml:"mongodb_uri" json:"mongodb_uri"`
	MongoDBDatabase string `yaml:"mongodb_database" json:"mongodb_database"`

	GitRemoteURL   string `yaml:"git_remote_url" json:"git_remote_url"`
	GitBranch      string `yaml:"git_branch" json:"git_branch"`
	GitUsername    string `yaml:"git_username" json:"git_username"`
	GitPassword    string `yaml:"git_password" json:"git_password"`
	GitAuthorName  string `yaml:"git_author_name" json:"git_author_name"`
	GitAuthorEmail string `yaml:"git_author_email" json:"git_author_email"`
}

// TokenConfig token 池行为
type TokenConfig struct {
	ReloadIntervalSec    int    `yaml:"reload_interval_sec" json:"reload_interval_sec"`
	RefreshIntervalHours int    `yaml:"refresh_interval_hours" json:"refresh_interval_hours"`
	RefreshModel         string `yaml:"refresh_model" json:"refresh_model"`
	DefaultPool          string `yaml:"default_pool" json:"default_pool"`
	SaveLockTimeoutSec   int    `yaml:"save_lock_timeout_sec" json:"save_lock_timeout_sec"`
}

// PerformanceConfig 批量操作的规模与并发
type PerformanceConfig struct {
	UsageMaxTokens     int `yaml:"usage_max_tokens" json:"usage_max_tokens"`
	UsageMaxConcurrent int `yaml:"usage_max_concurrent" json:"usage_max_concurrent"`
	UsageBatchSize     int `yaml:"usage_batch_size" json:"usage_batch_size"`

	NSFWMaxTokens     int `yaml:"nsfw_max_tokens" json:"nsfw_max_tokens"`
	NSFWMaxConcurrent int `yaml:"nsfw_max_concurrent" json:"nsfw_max_concurrent"`
	NSFWBatchSize     int `yaml:"nsfw_batch_size" json:"nsfw_batch_size"`

	AssetsMaxTokens     int `yaml:"assets_max_tokens" json:"assets_max_tokens"`
	AssetsMaxConcurrent int `yaml:"assets_max_concurrent" json:"assets_max_concurrent"`
	AssetsBatchSize     int `yaml:"assets_batch_size" json:"assets_batch_size"`
}

// GrokConfig 上游连接参数
type GrokConfig struct {
	BaseURL           string  `yaml:"base_url" json:"base_url"`
	ImagineWSURL      string  `yaml:"imagine_ws_url" json:"imagine_ws_url"`
	CFClearance       string  `yaml:"cf_clearance" json:"cf_clearance"`
	ProxyURL          string  `yaml:"proxy_url" json:"proxy_url"`
	TimeoutSec        int     `yaml:"timeout_sec" json:"timeout_sec"`
	UsageTimeoutSec   int     `yaml:"usage_timeout_sec" json:"usage_timeout_sec"`
	MaxRetry          int     `yaml:"max_retry" json:"max_retry"`
	RetryStatusCodes  []int   `yaml:"retry_status_codes" json:"retry_status_codes"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	AppURL            string  `yaml:"app_url" json:"app_url"`

	ImagineDailyLimit        int `yaml:"imagine_sso_daily_limit" json:"imagine_sso_daily_limit"`
	ImagineBlockedRetry      int `yaml:"imagine_blocked_retry" json:"imagine_blocked_retry"`
	ImagineMaxRetries        int `yaml:"imagine_max_retries" json:"imagine_max_retries"`
	ImagineDefaultImageCount int `yaml:"imagine_default_image_count" json:"imagine_default_image_count"`
}

// BatchConfig 批量任务注册表与流式推送
type BatchConfig struct {
	TaskTTLSec   int     `yaml:"task_ttl_sec" json:"task_ttl_sec"`
	HeartbeatSec int     `yaml:"heartbeat_sec" json:"heartbeat_sec"`
	LimiterRPS   float64 `yaml:"limiter_rps" json:"limiter_rps"`
	LimiterBurst int     `yaml:"limiter_burst" json:"limiter_burst"`
}
