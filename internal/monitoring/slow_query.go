package monitoring

import (
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// SlowQueryThreshold 存储操作的默认慢操作阈值
const SlowQueryThreshold = 250 * time.Millisecond

// SlowQuery is one storage operation that exceeded the threshold.
type SlowQuery struct {
	Timestamp time.Time     `json:"timestamp"`
	Operation string        `json:"operation"`
	Duration  time.Duration `json:"duration"`
	Details   string        `json:"details"`
}

// SlowQueryLogger keeps the most recent slow storage operations in a bounded
// buffer and logs each one as it happens.
type SlowQueryLogger struct {
	threshold time.Duration
	maxSize   int

	mu      sync.RWMutex
	queries []SlowQuery
}

// NewSlowQueryLogger uses SlowQueryThreshold and 1000 entries for zero values.
func NewSlowQueryLogger(threshold time.Duration, maxSize int) *SlowQueryLogger {
	if threshold <= 0 {
		threshold = SlowQueryThreshold
	}
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &SlowQueryLogger{
		threshold: threshold,
		maxSize:   maxSize,
		queries:   make([]SlowQuery, 0, min(maxSize, 64)),
	}
}

// Threshold is the duration above which an operation is recorded.
func (l *SlowQueryLogger) Threshold() time.Duration { return l.threshold }

// Observe 记录一次已完成的操作；超过阈值时写入缓冲并打印告警
func (l *SlowQueryLogger) Observe(operation, details string, start time.Time, err error) {
	if l == nil {
		return
	}
	duration := time.Since(start)
	if duration < l.threshold {
		return
	}
	if err != nil {
		details = strings.TrimSpace(details + " error: " + err.Error())
	}
	l.mu.Lock()
	if len(l.queries) >= l.maxSize {
		l.queries = append(l.queries[:0], l.queries[1:]...)
	}
	l.queries = append(l.queries, SlowQuery{
		Timestamp: start,
		Operation: operation,
		Duration:  duration,
		Details:   details,
	})
	l.mu.Unlock()

	log.WithFields(log.Fields{
		"operation":   operation,
		"duration_ms": duration.Milliseconds(),
		"details":     details,
	}).Warn("slow storage operation")
}

// Recent 返回最近 n 条慢操作记录（n<=0 表示全部），按时间先后排列
func (l *SlowQueryLogger) Recent(n int) []SlowQuery {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.queries) {
		n = len(l.queries)
	}
	out := make([]SlowQuery, n)
	copy(out, l.queries[len(l.queries)-n:])
	return out
}
