// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 任务指标
	tasksSubmittedTotal prometheus.Counter
	tasksFinishedTotal  *prometheus.CounterVec
	tasksRunning        prometheus.Gauge
	taskDuration        *prometheus.HistogramVec
	taskSteps           prometheus.Histogram
	taskScreenshotsLost prometheus.Counter

	// 协作方指标
	agentRequestsTotal   *prometheus.CounterVec
	agentRequestDuration prometheus.Histogram

	// 分析指标
	analysesTotal    *prometheus.CounterVec
	analysisDuration prometheus.Histogram
	llmPromptTokens  prometheus.Counter

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。registerer 由调用方提供，
// 测试传入独立 Registry 避免重复注册。
func NewCollector(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(registerer)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 任务指标
	c.tasksSubmittedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Total number of submitted test tasks",
		},
	)

	c.tasksFinishedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Total number of finished test tasks",
		},
		[]string{"status"}, // completed / failed
	)

	c.tasksRunning = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_running",
			Help:      "Number of test tasks currently executing",
		},
	)

	c.taskDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Test task execution duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)

	c.taskSteps = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_steps",
			Help:      "Number of normalized steps per task result",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		},
	)

	c.taskScreenshotsLost = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_screenshots_lost_total",
			Help:      "Screenshot references dropped because the file was missing",
		},
	)

	// 协作方指标
	c.agentRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_requests_total",
			Help:      "Total number of automation agent invocations",
		},
		[]string{"status"}, // ok / error
	)

	c.agentRequestDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_request_duration_seconds",
			Help:      "Automation agent invocation duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// 分析指标
	c.analysesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Total number of result analyses",
		},
		[]string{"method"}, // primary / fallback / error_recovery
	)

	c.analysisDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Result analysis duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	c.llmPromptTokens = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_prompt_tokens_total",
			Help:      "Total number of prompt tokens sent to the analysis LLM",
		},
	)

	// 缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🎭 任务指标记录
// =============================================================================

// RecordTaskSubmitted 记录任务提交
func (c *Collector) RecordTaskSubmitted() {
	c.tasksSubmittedTotal.Inc()
	c.tasksRunning.Inc()
}

// RecordTaskFinished 记录任务结束
func (c *Collector) RecordTaskFinished(status string, duration time.Duration, steps int) {
	c.tasksFinishedTotal.WithLabelValues(status).Inc()
	c.tasksRunning.Dec()
	c.taskDuration.WithLabelValues(status).Observe(duration.Seconds())
	if steps > 0 {
		c.taskSteps.Observe(float64(steps))
	}
}

// RecordScreenshotLost 记录被丢弃的截图引用
func (c *Collector) RecordScreenshotLost() {
	c.taskScreenshotsLost.Inc()
}

// =============================================================================
// 🤖 协作方指标记录
// =============================================================================

// RecordAgentRequest 记录一次协作方调用
func (c *Collector) RecordAgentRequest(status string, duration time.Duration) {
	c.agentRequestsTotal.WithLabelValues(status).Inc()
	c.agentRequestDuration.Observe(duration.Seconds())
}

// =============================================================================
// 🔍 分析指标记录
// =============================================================================

// RecordAnalysis 记录一次分析及其来源路径
func (c *Collector) RecordAnalysis(method string, duration time.Duration, promptTokens int) {
	c.analysesTotal.WithLabelValues(method).Inc()
	c.analysisDuration.Observe(duration.Seconds())
	if promptTokens > 0 {
		c.llmPromptTokens.Add(float64(promptTokens))
	}
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
