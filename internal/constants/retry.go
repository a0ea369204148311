package constants

import "time"

// 上游重试策略
const (
	// UpstreamMaxRetry 默认额外重试次数
	UpstreamMaxRetry = 1
	// UpstreamRetryBaseDelay 第 n 次重试前等待 (n+1) * base
	UpstreamRetryBaseDelay = 500 * time.Millisecond
)

// UpstreamRetryStatusCodes 触发重试的上游状态码
var UpstreamRetryStatusCodes = []int{401, 429, 403}

// Imagine 轮换策略默认值
const (
	ImagineDailyLimit        = 10
	ImagineBlockedRetry      = 3
	ImagineMaxRetries        = 5
	ImagineDefaultImageCount = 4
	ImagineMaxImageCount     = 4
	// ImagineImageRetention 本地缓存图片的保留时长
	ImagineImageRetention = 24 * time.Hour
)
