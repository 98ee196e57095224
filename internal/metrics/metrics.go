package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadhub_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadhub_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// 租户隔离指标
var (
	// TenantResolutionFailuresTotal 租户解析失败次数
	TenantResolutionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadhub_tenant_resolution_failures_total",
			Help: "租户解析失败次数",
		},
		[]string{"entry_point", "reason"},
	)

	// TenantFilterViolationsTotal 无租户上下文的数据访问次数（应始终为 0）
	TenantFilterViolationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadhub_tenant_filter_violations_total",
			Help: "无租户上下文的数据访问次数",
		},
	)
)

// 后台任务指标
var (
	// JobsEnqueuedTotal 入队任务数
	JobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadhub_jobs_enqueued_total",
			Help: "入队任务数",
		},
		[]string{"type"},
	)

	// JobsFinishedTotal 进入终态的任务数
	JobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadhub_jobs_finished_total",
			Help: "进入终态的任务数",
		},
		[]string{"type", "status"},
	)

	// JobsRetriedTotal 重试次数
	JobsRetriedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadhub_jobs_retried_total",
			Help: "任务重试次数",
		},
		[]string{"type"},
	)

	// JobsReapedTotal 清理的已结束任务数
	JobsReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadhub_jobs_reaped_total",
			Help: "清理的已结束任务数",
		},
	)
)
