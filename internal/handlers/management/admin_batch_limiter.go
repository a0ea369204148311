package management

import (
	"fmt"
	"sync"
	"time"

	"grok2api-go/internal/config"
	"grok2api-go/internal/monitoring"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// BatchLimitConfig 定义批量接口的限流配置。
type BatchLimitConfig struct {
	Enabled              bool
	RequestsPerSecond    float64
	Burst                int
	MaxOperationsPerHour int
}

// DefaultBatchLimitConfig 提供默认限流配置。
var DefaultBatchLimitConfig = BatchLimitConfig{
	Enabled:              true,
	RequestsPerSecond:    2,
	Burst:                5,
	MaxOperationsPerHour: 100000,
}

// BatchLimitConfigFrom derives the limiter settings from the batch section.
func BatchLimitConfigFrom(cfg *config.Config) BatchLimitConfig {
	out := DefaultBatchLimitConfig
	if cfg == nil {
		return out
	}
	if cfg.Batch.LimiterRPS > 0 {
		out.RequestsPerSecond = cfg.Batch.LimiterRPS
	}
	if cfg.Batch.LimiterBurst > 0 {
		out.Burst = cfg.Batch.LimiterBurst
	}
	return out
}

// BatchLimiter 提供批量接口级别的限流能力。
type BatchLimiter struct {
	cfg BatchLimitConfig

	requestLimiter   *rate.Limiter
	operationCounter *slidingWindowCounter
}

// NewBatchLimiter 构建限流器。
func NewBatchLimiter(cfg BatchLimitConfig) *BatchLimiter {
	if !cfg.Enabled {
		return &BatchLimiter{cfg: cfg}
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &BatchLimiter{
		cfg:              cfg,
		requestLimiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		operationCounter: newSlidingWindowCounter(time.Hour, cfg.MaxOperationsPerHour),
	}
}

// CheckRequest 执行限流检查，返回是否通过、错误信息以及建议的重试等待时间。
// count is the number of items after truncation.
func (bl *BatchLimiter) CheckRequest(operation string, count int) (bool, string, time.Duration) {
	if bl == nil || !bl.cfg.Enabled {
		return true, "", 0
	}

	if !bl.requestLimiter.Allow() {
		res := bl.requestLimiter.Reserve()
		delay := res.Delay()
		res.Cancel()
		if delay <= 0 {
			delay = time.Second
		}
		msg := fmt.Sprintf("rate limit exceeded (%.1f requests/second); retry after %s",
			bl.cfg.RequestsPerSecond, delay.Round(time.Second))
		monitoring.AdminRateLimitedTotal.WithLabelValues(operation).Inc()
		log.Warnf("Batch %s throttled: %s", operation, msg)
		return false, msg, delay
	}

	if bl.cfg.MaxOperationsPerHour > 0 && count > 0 && !bl.operationCounter.Allow(count) {
		msg := fmt.Sprintf("operation quota exceeded: %d/%d operations in the last hour",
			bl.operationCounter.Current(), bl.cfg.MaxOperationsPerHour)
		monitoring.AdminRateLimitedTotal.WithLabelValues(operation).Inc()
		log.Warnf("Batch %s quota exceeded: %s", operation, msg)
		return false, msg, 10 * time.Minute
	}

	return true, "", 0
}

// slidingWindowCounter 通过滑动窗口统计操作数。
type slidingWindowCounter struct {
	window   time.Duration
	maxCount int

	mu      sync.Mutex
	records []timestampedCount
}

type timestampedCount struct {
	ts    time.Time
	count int
}

func newSlidingWindowCounter(window time.Duration, maxCount int) *slidingWindowCounter {
	return &slidingWindowCounter{window: window, maxCount: maxCount}
}

func (swc *slidingWindowCounter) Allow(count int) bool {
	if count <= 0 {
		return false
	}

	swc.mu.Lock()
	defer swc.mu.Unlock()

	threshold := time.Now().Add(-swc.window)
	total := 0
	filtered := swc.records[:0]
	for _, rec := range swc.records {
		if rec.ts.After(threshold) {
			filtered = append(filtered, rec)
			total += rec.count
		}
	}
	swc.records = filtered

	if total+count > swc.maxCount {
		return false
	}
	swc.records = append(swc.records, timestampedCount{ts: time.Now(), count: count})
	return true
}

func (swc *slidingWindowCounter) Current() int {
	swc.mu.Lock()
	defer swc.mu.Unlock()

	threshold := time.Now().Add(-swc.window)
	total := 0
	for _, rec := range swc.records {
		if rec.ts.After(threshold) {
			total += rec.count
		}
	}
	return total
}
