package analyzer

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/webtest/internal/cache"
	"github.com/BaSui01/webtest/internal/ctxkeys"
	"github.com/BaSui01/webtest/store"
	"github.com/BaSui01/webtest/types"
)

// stubLLM 可编程的分析模型替身
type stubLLM struct {
	reply   string
	err     error
	calls   int
	lastCtx context.Context
}

func (s *stubLLM) Complete(ctx context.Context, prompt string) (string, error) {
	s.calls++
	s.lastCtx = ctx
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

const usableAnalysis = `**Executive Summary:**
The automation run reached the target page and finished the requested task without errors.

**Compliance Status:** PASS`

func completedTask(t *testing.T, st store.Store) string {
	t.Helper()
	ctx := context.Background()
	taskID, err := st.Create(ctx, types.TestConfig{
		TargetURL:       "https://example.com",
		TaskDescription: "check homepage",
	})
	require.NoError(t, err)
	require.NoError(t, st.SetRunning(ctx, taskID))
	require.NoError(t, st.SetCompleted(ctx, taskID, &types.ExecutionResult{
		TaskID:  taskID,
		Success: true,
		Steps: []types.ExecutionStep{
			{StepNumber: 1, Action: "navigate to https://example.com", Result: "success", Timestamp: time.Now()},
		},
		Screenshots: []string{},
	}))
	return taskID
}

// =============================================================================
// 🧪 Service 测试
// =============================================================================

func TestService_AnalyzePrimary(t *testing.T) {
	st := store.NewMemory(zap.NewNop())
	llm := &stubLLM{reply: usableAnalysis}
	svc := NewService(st, llm, nil, nil, nil, zap.NewNop())

	taskID := completedTask(t, st)

	analysis, err := svc.Analyze(context.Background(), taskID)
	require.NoError(t, err)

	assert.Equal(t, types.AnalysisPrimary, analysis.Method)
	assert.Equal(t, usableAnalysis, analysis.Content)
	require.NotNil(t, analysis.Report)
	assert.True(t, analysis.Report.Compliance.TargetURLAccessed)

	// 已存储为任务最新分析
	stored, err := st.Analysis(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, types.AnalysisPrimary, stored.Method)
}

func TestService_AnalyzeTagsTaskIDOnContext(t *testing.T) {
	st := store.NewMemory(zap.NewNop())
	llm := &stubLLM{reply: usableAnalysis}
	svc := NewService(st, llm, nil, nil, nil, zap.NewNop())

	taskID := completedTask(t, st)
	_, err := svc.Analyze(context.Background(), taskID)
	require.NoError(t, err)

	// LLM 客户端收到的 ctx 必须携带任务 ID，供其日志标注
	require.NotNil(t, llm.lastCtx)
	id, ok := ctxkeys.TaskID(llm.lastCtx)
	require.True(t, ok)
	assert.Equal(t, taskID, id)
}

func TestService_AnalyzeFallbackOnBadSignature(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"run repr", "Run(id=r1, state=COMPLETE, outputs=LocalDataValue...)"},
		{"plan run repr", "PlanRun(id=pr1, plan_id=p1, state=COMPLETE) extra text padding"},
		{"angle bracket", "<portia.run.Run object at 0x7fa3>"},
		{"none literal", "None"},
		{"too short", "ok done"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemory(zap.NewNop())
			llm := &stubLLM{reply: tt.reply}
			svc := NewService(st, llm, nil, nil, nil, zap.NewNop())

			taskID := completedTask(t, st)
			analysis, err := svc.Analyze(context.Background(), taskID)
			require.NoError(t, err)

			assert.Equal(t, types.AnalysisFallback, analysis.Method)
			assert.NotEqual(t, tt.reply, analysis.Content)
			assert.Contains(t, analysis.Content, "**Executive Summary:**")
			assert.Contains(t, analysis.Content, "fallback mode")

			// 降级内容自身必须可用
			ok, _ := Classify(analysis.Content)
			assert.True(t, ok)
		})
	}
}

func TestService_AnalyzeErrorRecoveryOnLLMFailure(t *testing.T) {
	st := store.NewMemory(zap.NewNop())
	llm := &stubLLM{err: types.NewError(types.ErrUpstreamTimeout, "llm request timeout").WithRetryable(true)}
	svc := NewService(st, llm, nil, nil, nil, zap.NewNop())

	taskID := completedTask(t, st)

	// 上游故障不透传，仍返回完整分析
	analysis, err := svc.Analyze(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, types.AnalysisErrorRecovery, analysis.Method)
	assert.Contains(t, analysis.Content, "unreachable")
	assert.Contains(t, analysis.Content, "llm request timeout")
}

func TestService_AnalyzeRequiresCompletedTask(t *testing.T) {
	st := store.NewMemory(zap.NewNop())
	svc := NewService(st, &stubLLM{reply: usableAnalysis}, nil, nil, nil, zap.NewNop())
	ctx := context.Background()

	_, err := svc.Analyze(ctx, "task_missing")
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))

	taskID, _ := st.Create(ctx, types.TestConfig{TargetURL: "https://example.com", TaskDescription: "x"})
	_, err = svc.Analyze(ctx, taskID)
	assert.Equal(t, types.ErrNotReady, types.GetErrorCode(err))

	require.NoError(t, st.SetRunning(ctx, taskID))
	_, err = svc.Analyze(ctx, taskID)
	assert.Equal(t, types.ErrNotReady, types.GetErrorCode(err))

	require.NoError(t, st.SetFailed(ctx, taskID, "boom"))
	_, err = svc.Analyze(ctx, taskID)
	assert.Equal(t, types.ErrNotReady, types.GetErrorCode(err))
}

func TestService_ReanalysisLatestWins(t *testing.T) {
	st := store.NewMemory(zap.NewNop())
	llm := &stubLLM{reply: usableAnalysis}
	svc := NewService(st, llm, nil, nil, nil, zap.NewNop())

	taskID := completedTask(t, st)

	first, err := svc.Analyze(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, types.AnalysisPrimary, first.Method)

	llm.reply = "None"
	second, err := svc.Analyze(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, types.AnalysisFallback, second.Method)

	latest, err := svc.Latest(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, types.AnalysisFallback, latest.Method)
	assert.Equal(t, 2, llm.calls)
}

func TestService_LatestUsesCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cacheMgr, err := cache.NewManager(cache.Config{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	defer cacheMgr.Close()

	st := store.NewMemory(zap.NewNop())
	svc := NewService(st, &stubLLM{reply: usableAnalysis}, cacheMgr, nil, nil, zap.NewNop())

	taskID := completedTask(t, st)
	_, err = svc.Analyze(context.Background(), taskID)
	require.NoError(t, err)

	latest, err := svc.Latest(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, types.AnalysisPrimary, latest.Method)
	assert.Equal(t, taskID, latest.TaskID)

	// redis 掉线后回落到存储
	mr.Close()
	latest, err = svc.Latest(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, types.AnalysisPrimary, latest.Method)
}

func TestService_LatestWithoutAnalysis(t *testing.T) {
	st := store.NewMemory(zap.NewNop())
	svc := NewService(st, &stubLLM{reply: usableAnalysis}, nil, nil, nil, zap.NewNop())

	taskID := completedTask(t, st)
	_, err := svc.Latest(context.Background(), taskID)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}
