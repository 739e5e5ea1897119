package analyzer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/webtest/internal/cache"
	"github.com/BaSui01/webtest/internal/ctxkeys"
	"github.com/BaSui01/webtest/internal/metrics"
	"github.com/BaSui01/webtest/store"
	"github.com/BaSui01/webtest/types"
)

// =============================================================================
// 🔍 结果分析服务
// =============================================================================

// analysisCacheTTL 分析结果的缓存时长
const analysisCacheTTL = 30 * time.Minute

// Service 结果分析服务。Analyze 总是返回一份完整的 AnalysisResult：
// LLM 输出命中坏签名降级为本地合成摘要（fallback），调用失败降级为
// 故障说明（error_recovery），上游故障不会作为错误透传给 HTTP 调用方。
type Service struct {
	store   store.Store
	llm     LLMClient
	cache   *cache.Manager
	prompts *PromptBuilder
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time
}

// NewService 创建分析服务。cacheMgr 与 collector 可为 nil。
func NewService(st store.Store, llm LLMClient, cacheMgr *cache.Manager, prompts *PromptBuilder, collector *metrics.Collector, logger *zap.Logger) *Service {
	if prompts == nil {
		prompts = NewPromptBuilder(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   st,
		llm:     llm,
		cache:   cacheMgr,
		prompts: prompts,
		metrics: collector,
		logger:  logger.With(zap.String("component", "analyzer")),
		now:     time.Now,
	}
}

func cacheKey(taskID string) string {
	return "webtest:analysis:" + taskID
}

// Analyze 对已完成任务的执行结果做一次完整分析并保存为最新结果。
// 任务不存在返回 NOT_FOUND，未完成返回 NOT_READY。
func (s *Service) Analyze(ctx context.Context, taskID string) (*types.AnalysisResult, error) {
	// 下游客户端从 ctx 取任务 ID 标注自己的日志
	ctx = ctxkeys.WithTaskID(ctx, taskID)

	rec, err := s.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	result, err := s.store.Result(ctx, taskID)
	if err != nil {
		return nil, err
	}

	start := s.now()
	report := BuildReport(rec.Config, result)
	prompt, promptTokens := s.prompts.Build(rec.Config, result, report)

	analysis := &types.AnalysisResult{
		TaskID:    taskID,
		Report:    report,
		Timestamp: s.now(),
	}

	raw, llmErr := s.llm.Complete(ctx, prompt)
	switch {
	case llmErr != nil:
		s.logger.Warn("llm invocation failed, degrading analysis",
			zap.String("task_id", taskID), zap.Error(llmErr))
		analysis.Method = types.AnalysisErrorRecovery
		analysis.Content = fallbackContent(rec.Config, result, report,
			"Note: The AI analysis system was unreachable ("+llmErr.Error()+"). This summary was generated locally from the execution results, which remain accurate.")

	default:
		if ok, reason := Classify(raw); !ok {
			s.logger.Warn("llm output rejected by classifier",
				zap.String("task_id", taskID), zap.String("reason", reason))
			analysis.Method = types.AnalysisFallback
			analysis.Content = fallbackContent(rec.Config, result, report,
				"Note: This analysis was generated using fallback mode due to AI analysis system limitations. The task execution results above are still accurate.")
		} else {
			analysis.Method = types.AnalysisPrimary
			analysis.Content = raw
		}
	}

	if err := s.store.SetAnalysis(ctx, taskID, analysis); err != nil {
		return nil, err
	}

	// 缓存写入失败不影响结果
	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cacheKey(taskID), analysis, analysisCacheTTL); err != nil {
			s.logger.Warn("failed to cache analysis", zap.String("task_id", taskID), zap.Error(err))
		}
	}

	if s.metrics != nil {
		s.metrics.RecordAnalysis(string(analysis.Method), time.Since(start), promptTokens)
	}
	s.logger.Info("analysis stored",
		zap.String("task_id", taskID),
		zap.String("method", string(analysis.Method)),
		zap.Int("prompt_tokens", promptTokens),
	)
	return analysis, nil
}

// Latest 返回任务最新一份分析结果，优先读缓存，未命中回落到存储
func (s *Service) Latest(ctx context.Context, taskID string) (*types.AnalysisResult, error) {
	if s.cache != nil {
		var cached types.AnalysisResult
		err := s.cache.GetJSON(ctx, cacheKey(taskID), &cached)
		if err == nil {
			if s.metrics != nil {
				s.metrics.RecordCacheHit("analysis")
			}
			return &cached, nil
		}
		if !cache.IsCacheMiss(err) {
			s.logger.Warn("analysis cache read failed", zap.String("task_id", taskID), zap.Error(err))
		} else if s.metrics != nil {
			s.metrics.RecordCacheMiss("analysis")
		}
	}
	return s.store.Analysis(ctx, taskID)
}
