package monitoring

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP请求指标
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grok2api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grok2api_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grok2api_http_inflight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	HTTPPanicsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grok2api_http_panics_total",
			Help: "Handler panics recovered by the middleware",
		},
		[]string{"path"},
	)

	// token 池指标
	TokensGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grok2api_tokens",
			Help: "Number of tokens per pool and status",
		},
		[]string{"pool", "status"},
	)

	TokenQuotaGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grok2api_token_quota_total",
			Help: "Sum of remaining quota per pool",
		},
		[]string{"pool"},
	)

	TokenConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grok2api_token_consumed_total",
			Help: "Quota units consumed, by effort",
		},
		[]string{"effort"},
	)

	TokenSyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grok2api_token_sync_total",
			Help: "Quota synchronisation attempts by result",
		},
		[]string{"result"},
	)

	TokenFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grok2api_token_failures_total",
			Help: "Recorded token failures by status code",
		},
		[]string{"status_code"},
	)

	// imagine 轮换指标
	RotationSelectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grok2api_rotation_selections_total",
			Help: "Scored rotation outcomes",
		},
		[]string{"result"},
	)

	ImagineGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grok2api_imagine_generations_total",
			Help: "Imagine generation attempts by outcome code",
		},
		[]string{"code"},
	)

	// 批量任务指标
	BatchTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grok2api_batch_tasks_total",
			Help: "Batch tasks by operation and terminal status",
		},
		[]string{"op", "status"},
	)

	BatchItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grok2api_batch_items_total",
			Help: "Batch items processed by operation and result",
		},
		[]string{"op", "result"},
	)

	BatchTasksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "grok2api_batch_tasks_active",
			Help: "Tasks currently held in the registry",
		},
	)

	BatchSubscribersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "grok2api_batch_subscribers_dropped_total",
			Help: "Progress subscribers evicted for backpressure",
		},
	)

	// 存储指标
	StorageOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grok2api_storage_ops_total",
			Help: "Storage operations by backend, op and result",
		},
		[]string{"backend", "op", "result"},
	)

	StorageOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grok2api_storage_op_duration_seconds",
			Help:    "Storage operation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 5, 10},
		},
		[]string{"backend", "op"},
	)

	// 上游请求指标
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grok2api_upstream_requests_total",
			Help: "Total number of upstream API requests",
		},
		[]string{"op", "status_class"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grok2api_upstream_request_duration_seconds",
			Help:    "Upstream API request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"op"},
	)

	// 管理接口限流
	AdminRateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grok2api_admin_rate_limited_total",
			Help: "Admin batch requests rejected by the limiter",
		},
		[]string{"op"},
	)
)

// StatusClass folds an HTTP status into 2xx/4xx/... ; 0 means transport error.
func StatusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return fmt.Sprintf("%dxx", code/100)
}

// ResultLabel maps an error to the ok/error label used across counters.
func ResultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
