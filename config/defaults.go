// =============================================================================
// 📦 WebTest 默认配置
// =============================================================================
// 提供各模块的默认配置值，作为配置加载的基础层
// =============================================================================
package config

import "time"

// DefaultConfig 返回完整的默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Task:      DefaultTaskConfig(),
		Agent:     DefaultAgentConfig(),
		Analyzer:  DefaultAnalyzerConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8000,
		MetricsPort:     9090,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultTaskConfig 返回默认任务配置
func DefaultTaskConfig() TaskConfig {
	return TaskConfig{
		Store:         "memory",
		MaxConcurrent: 4,
		Timeout:       10 * time.Minute,
		ScreenshotDir: "screenshots",
	}
}

// DefaultAgentConfig 返回默认协作方配置
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		BaseURL: "http://localhost:8100",
		Timeout: 5 * time.Minute,
	}
}

// DefaultAnalyzerConfig 返回默认分析配置
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		BaseURL:           "https://generativelanguage.googleapis.com",
		Model:             "gemini-2.0-flash",
		MaxTokens:         2048,
		Temperature:       0.3,
		Timeout:           60 * time.Second,
		PromptTokenBudget: 6000,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DefaultTTL:   10 * time.Minute,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "webtest",
		Name:            "webtest",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "webtest",
		SampleRate:   1.0,
	}
}
