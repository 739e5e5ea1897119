package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/BaSui01/webtest/agent"
	"github.com/BaSui01/webtest/internal/metrics"
	"github.com/BaSui01/webtest/store"
	"github.com/BaSui01/webtest/types"
)

// =============================================================================
// ⚙️ 任务执行器
// =============================================================================

// Config 执行器配置
type Config struct {
	// MaxConcurrent 同时执行的任务上限，超出的任务在 queued 状态排队
	MaxConcurrent int64
	// TaskTimeout 单个任务的执行超时
	TaskTimeout time.Duration
	// ScreenshotDir 截图根目录，实际文件位于 <ScreenshotDir>/<taskID>/
	ScreenshotDir string
}

// Executor 任务执行器。Submit 创建记录后立即返回，
// 每个任务一个 goroutine，由信号量限制并发。
type Executor struct {
	cfg     Config
	store   store.Store
	runner  agent.Runner
	logger  *zap.Logger
	metrics *metrics.Collector
	sem     *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewExecutor 创建执行器。collector 可为 nil。
func NewExecutor(cfg Config, st store.Store, runner agent.Runner, collector *metrics.Collector, logger *zap.Logger) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		cfg:     cfg,
		store:   st,
		runner:  runner,
		logger:  logger.With(zap.String("component", "executor")),
		metrics: collector,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit 创建任务记录并调度执行，立即返回任务 ID。
// 执行与提交方请求解耦，使用执行器自身的 ctx。
func (e *Executor) Submit(ctx context.Context, config types.TestConfig) (string, error) {
	if err := config.Validate(); err != nil {
		return "", err
	}

	taskID, err := e.store.Create(ctx, config)
	if err != nil {
		return "", err
	}

	if e.metrics != nil {
		e.metrics.RecordTaskSubmitted()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(taskID, config)
	}()

	e.logger.Info("task submitted",
		zap.String("task_id", taskID),
		zap.String("target_url", config.TargetURL),
	)
	return taskID, nil
}

// Shutdown 停止接收新执行并等待在跑任务结束，ctx 超时则放弃等待
func (e *Executor) Shutdown(ctx context.Context) error {
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run 执行单个任务。恰好触发一次 SetCompleted 或 SetFailed；
// 协作方自报失败记入结果（completed + success=false），
// 传输层故障与 panic 转为 failed。
func (e *Executor) run(taskID string, config types.TestConfig) {
	logger := e.logger.With(zap.String("task_id", taskID))
	start := time.Now()

	var finished bool
	fail := func(msg string) {
		if finished {
			return
		}
		finished = true
		if err := e.store.SetFailed(e.ctx, taskID, msg); err != nil {
			logger.Error("failed to mark task failed", zap.Error(err))
		}
		if e.metrics != nil {
			e.metrics.RecordTaskFinished(string(types.StatusFailed), time.Since(start), 0)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("task execution panicked", zap.Any("panic", r))
			fail(fmt.Sprintf("internal execution fault: %v", r))
		}
	}()

	if err := e.sem.Acquire(e.ctx, 1); err != nil {
		// 关停中，任务留在 queued；持久化后端由启动恢复标记
		logger.Warn("executor shutting down before task started", zap.Error(err))
		return
	}
	defer e.sem.Release(1)

	if err := e.store.SetRunning(e.ctx, taskID); err != nil {
		logger.Error("failed to mark task running", zap.Error(err))
		return
	}

	runCtx, cancel := context.WithTimeout(e.ctx, e.cfg.TaskTimeout)
	defer cancel()

	sink := agent.MultiSink{
		agent.NewZapSink(e.logger, taskID),
		agent.NewStoreSink(e.store, e.logger, taskID),
	}

	agentStart := time.Now()
	trace, err := e.runner.Run(runCtx, agent.RunRequest{
		TaskID:                 taskID,
		TargetURL:              config.TargetURL,
		TaskDescription:        config.TaskDescription,
		ScreenshotInstructions: config.ScreenshotInstructions,
		Sink:                   sink,
	})
	if e.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		e.metrics.RecordAgentRequest(status, time.Since(agentStart))
	}
	if err != nil {
		logger.Warn("agent invocation failed", zap.Error(err))
		fail(err.Error())
		return
	}

	result := e.buildResult(taskID, config, trace, logger)

	finished = true
	if err := e.store.SetCompleted(e.ctx, taskID, result); err != nil {
		logger.Error("failed to store task result", zap.Error(err))
		return
	}
	if e.metrics != nil {
		e.metrics.RecordTaskFinished(string(types.StatusCompleted), time.Since(start), len(result.Steps))
	}
	logger.Info("task completed",
		zap.Bool("success", result.Success),
		zap.Int("steps", len(result.Steps)),
		zap.Int("screenshots", len(result.Screenshots)),
	)
}

// buildResult 把原始轨迹转成规范化结果：步骤编号、占位值、截图核验
func (e *Executor) buildResult(taskID string, config types.TestConfig, trace *agent.RunTrace, logger *zap.Logger) *types.ExecutionResult {
	steps := NormalizeSteps(trace.Steps, time.Now)

	verified := VerifyScreenshots(e.cfg.ScreenshotDir, taskID, trace.Screenshots, steps, func(name string) {
		logger.Warn("dropping missing screenshot reference", zap.String("screenshot", name))
		if e.metrics != nil {
			e.metrics.RecordScreenshotLost()
		}
	})

	result := &types.ExecutionResult{
		TaskID:      taskID,
		Success:     !trace.Failed && NavigationSucceeded(steps, config.TargetURL),
		Steps:       steps,
		Screenshots: verified,
		RawTrace:    trace.Raw,
	}
	if trace.Failed {
		result.Error = trace.FailureReason
		if result.Error == "" {
			result.Error = "collaborator reported failure without reason"
		}
	}
	return result
}
