package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/webtest/agent"
	"github.com/BaSui01/webtest/analyzer"
	"github.com/BaSui01/webtest/api/handlers"
	"github.com/BaSui01/webtest/config"
	"github.com/BaSui01/webtest/internal/cache"
	"github.com/BaSui01/webtest/internal/database"
	"github.com/BaSui01/webtest/internal/metrics"
	"github.com/BaSui01/webtest/internal/server"
	"github.com/BaSui01/webtest/internal/telemetry"
	"github.com/BaSui01/webtest/store"
	"github.com/BaSui01/webtest/worker"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 WebTest 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 遥测
	otelProviders *telemetry.Providers

	// 任务存储与执行
	db       *gorm.DB
	dbPool   *database.PoolManager
	store    store.Store
	watcher  store.EventWatcher
	executor *worker.Executor

	// 结果分析
	analyzerService *analyzer.Service

	// Redis 缓存（可选）
	cacheManager *cache.Manager

	// Handlers
	healthHandler *handlers.HealthHandler
	taskHandler   *handlers.TaskHandler
	fileHandler   *handlers.FileHandler
	eventHandler  *handlers.EventStreamHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例。
// db 仅在 database 存储模式下非 nil。
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers, db *gorm.DB) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
		db:            db,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("webtest", prometheus.DefaultRegisterer, s.logger)

	// 2. 初始化任务存储
	if err := s.initStore(); err != nil {
		return fmt.Errorf("failed to init store: %w", err)
	}

	// 3. 初始化 Redis 缓存（可选）
	if err := s.initCache(); err != nil {
		return fmt.Errorf("failed to init cache: %w", err)
	}

	// 4. 初始化执行器与分析服务
	s.initPipeline()

	// 5. 初始化 Handlers
	s.initHandlers()

	// 6. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 7. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("task_store", s.cfg.Task.Store),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initStore 根据配置选择任务存储后端
func (s *Server) initStore() error {
	switch s.cfg.Task.Store {
	case "database":
		pool, err := database.NewPoolManager(s.db, database.PoolConfigFromDatabase(s.cfg.Database), s.logger)
		if err != nil {
			return err
		}
		s.dbPool = pool

		gormStore, err := store.NewGorm(pool.DB(), s.logger)
		if err != nil {
			return err
		}
		s.store = gormStore

		// 上次进程退出时遗留的 queued/running 任务标记为 failed
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		recovered, err := gormStore.Recover(ctx)
		if err != nil {
			return fmt.Errorf("recover stale tasks: %w", err)
		}
		if recovered > 0 {
			s.logger.Warn("marked stale tasks as failed after restart", zap.Int64("count", recovered))
		}
		// Gorm 存储没有事件订阅，事件流 handler 退化为轮询
		s.watcher = nil

	default:
		// 内存存储：进程重启后任务记录全部丢失
		mem := store.NewMemory(s.logger)
		s.store = mem
		s.watcher = mem
		s.logger.Info("using in-memory task store, tasks do not survive restarts")
	}
	return nil
}

// initCache 初始化 Redis 缓存管理器
func (s *Server) initCache() error {
	if !s.cfg.Redis.Enabled {
		s.logger.Info("Redis cache disabled, analysis results served from store only")
		return nil
	}

	manager, err := cache.NewManager(cache.Config{
		Addr:         s.cfg.Redis.Addr,
		Password:     s.cfg.Redis.Password,
		DB:           s.cfg.Redis.DB,
		DefaultTTL:   s.cfg.Redis.DefaultTTL,
		PoolSize:     s.cfg.Redis.PoolSize,
		MinIdleConns: s.cfg.Redis.MinIdleConns,
	}, s.logger)
	if err != nil {
		return err
	}
	s.cacheManager = manager
	return nil
}

// initPipeline 初始化任务执行器与分析服务
func (s *Server) initPipeline() {
	runner := agent.NewHTTPRunner(agent.HTTPRunnerConfig{
		BaseURL: s.cfg.Agent.BaseURL,
		APIKey:  s.cfg.Agent.APIKey,
		Timeout: s.cfg.Agent.Timeout,
	}, s.logger)

	s.executor = worker.NewExecutor(worker.Config{
		MaxConcurrent: int64(s.cfg.Task.MaxConcurrent),
		TaskTimeout:   s.cfg.Task.Timeout,
		ScreenshotDir: s.cfg.Task.ScreenshotDir,
	}, s.store, runner, s.metricsCollector, s.logger)

	llm := analyzer.NewHTTPLLMClient(analyzer.LLMConfig{
		BaseURL:     s.cfg.Analyzer.BaseURL,
		APIKey:      s.cfg.Analyzer.APIKey,
		Model:       s.cfg.Analyzer.Model,
		MaxTokens:   s.cfg.Analyzer.MaxTokens,
		Temperature: float32(s.cfg.Analyzer.Temperature),
		Timeout:     s.cfg.Analyzer.Timeout,
	}, s.logger)

	prompts := analyzer.NewPromptBuilder(s.cfg.Analyzer.PromptTokenBudget)

	s.analyzerService = analyzer.NewService(
		s.store, llm, s.cacheManager, prompts, s.metricsCollector, s.logger)
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)

	// 就绪检查：数据库与 Redis 按需注册
	if s.dbPool != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", s.dbPool.Ping))
	}
	if s.cacheManager != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", s.cacheManager.Ping))
	}

	s.taskHandler = handlers.NewTaskHandler(s.executor, s.store, s.analyzerService, s.logger)
	s.fileHandler = handlers.NewFileHandler(s.cfg.Task.ScreenshotDir, s.logger)
	s.eventHandler = handlers.NewEventStreamHandler(s.store, s.watcher, s.logger)

	s.logger.Info("Handlers initialized")
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)

	// 版本信息端点
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// 任务 API 路由
	// ========================================
	mux.HandleFunc("/execute-test", s.taskHandler.HandleSubmit)
	mux.HandleFunc("/tasks", s.taskHandler.HandleList)
	mux.HandleFunc("/task-status/{id}", s.taskHandler.HandleStatus)
	mux.HandleFunc("/task-results/{id}", s.taskHandler.HandleResult)
	mux.HandleFunc("/analyze-results/{id}", s.taskHandler.HandleAnalyze)
	mux.HandleFunc("/task-analysis/{id}", s.taskHandler.HandleAnalysis)
	mux.HandleFunc("/task-events/{id}", s.taskHandler.HandleEvents)

	// WebSocket 实时事件流
	mux.HandleFunc("/ws/task-events/{id}", s.eventHandler.HandleWS)

	// 截图静态服务
	mux.HandleFunc("/screenshots/", s.fileHandler.HandleScreenshot)

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		MetricsMiddleware(s.metricsCollector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	}
	// JWT 优先于 API Key；两者都未配置时不启用认证
	switch {
	case s.cfg.Server.JWTSecret != "":
		middlewares = append(middlewares, JWTAuth(s.cfg.Server.JWTSecret, skipAuthPaths, s.logger))
	case len(s.cfg.Server.APIKeys) > 0:
		middlewares = append(middlewares, APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.logger))
	default:
		s.logger.Warn("no API keys or JWT secret configured, authentication disabled")
	}
	handler := Chain(mux, middlewares...)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 0. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 1. 关闭 HTTP 服务器（不再接收新任务）
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 2. 等待执行中的任务收尾
	if s.executor != nil {
		drainCtx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
		if err := s.executor.Shutdown(drainCtx); err != nil {
			s.logger.Error("Executor shutdown error", zap.Error(err))
		}
		cancel()
	}

	// 3. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 4. 关闭缓存与数据库连接
	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("Cache shutdown error", zap.Error(err))
		}
	}
	if s.dbPool != nil {
		if err := s.dbPool.Close(); err != nil {
			s.logger.Error("Database pool shutdown error", zap.Error(err))
		}
	}

	// 5. 关闭遥测
	if s.otelProviders != nil {
		telemetryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.otelProviders.Shutdown(telemetryCtx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
		cancel()
	}

	s.logger.Info("Graceful shutdown completed")
}
