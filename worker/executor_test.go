package worker

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/webtest/agent"
	"github.com/BaSui01/webtest/store"
	"github.com/BaSui01/webtest/types"
)

// stubRunner 可编程的协作方替身
type stubRunner struct {
	mu      sync.Mutex
	run     func(ctx context.Context, req agent.RunRequest) (*agent.RunTrace, error)
	running int32
	maxSeen int32
}

func (s *stubRunner) Run(ctx context.Context, req agent.RunRequest) (*agent.RunTrace, error) {
	cur := atomic.AddInt32(&s.running, 1)
	defer atomic.AddInt32(&s.running, -1)
	for {
		prev := atomic.LoadInt32(&s.maxSeen)
		if cur <= prev || atomic.CompareAndSwapInt32(&s.maxSeen, prev, cur) {
			break
		}
	}
	s.mu.Lock()
	fn := s.run
	s.mu.Unlock()
	return fn(ctx, req)
}

func okTrace() *agent.RunTrace {
	return &agent.RunTrace{
		Steps: []agent.TraceStep{
			{Action: "navigate to target", Result: "success"},
			{Action: "click login", Result: "clicked"},
		},
		Screenshots: []string{},
	}
}

func newTestExecutor(t *testing.T, runner agent.Runner, cfg Config) (*Executor, *store.Memory) {
	t.Helper()
	if cfg.ScreenshotDir == "" {
		cfg.ScreenshotDir = t.TempDir()
	}
	st := store.NewMemory(zap.NewNop())
	return NewExecutor(cfg, st, runner, nil, zap.NewNop()), st
}

func waitTerminal(t *testing.T, st store.Store, taskID string) *types.TaskRecord {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := st.Get(context.Background(), taskID)
		require.NoError(t, err)
		if rec.Status.Terminal() {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task never reached a terminal status")
	return nil
}

// =============================================================================
// 🧪 Executor 测试
// =============================================================================

func TestExecutor_SubmitReturnsImmediately(t *testing.T) {
	release := make(chan struct{})
	runner := &stubRunner{run: func(ctx context.Context, req agent.RunRequest) (*agent.RunTrace, error) {
		<-release
		return okTrace(), nil
	}}
	e, st := newTestExecutor(t, runner, Config{})
	defer e.Shutdown(context.Background())

	start := time.Now()
	taskID, err := e.Submit(context.Background(), types.TestConfig{
		TargetURL:       "https://example.com",
		TaskDescription: "slow run",
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	rec, err := st.Get(context.Background(), taskID)
	require.NoError(t, err)
	assert.False(t, rec.Status.Terminal())

	close(release)
	rec = waitTerminal(t, st, taskID)
	assert.Equal(t, types.StatusCompleted, rec.Status)
}

func TestExecutor_SubmitRejectsInvalidConfig(t *testing.T) {
	runner := &stubRunner{run: func(ctx context.Context, req agent.RunRequest) (*agent.RunTrace, error) {
		return okTrace(), nil
	}}
	e, _ := newTestExecutor(t, runner, Config{})
	defer e.Shutdown(context.Background())

	_, err := e.Submit(context.Background(), types.TestConfig{TargetURL: "ftp://x", TaskDescription: "y"})
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
}

func TestExecutor_SuccessfulRun(t *testing.T) {
	runner := &stubRunner{run: func(ctx context.Context, req agent.RunRequest) (*agent.RunTrace, error) {
		// 执行中上报进度事件
		req.Sink.OnEvent(ctx, agent.TraceEvent{Kind: types.EventNavigation, Message: "opened target"})
		req.Sink.OnEvent(ctx, agent.TraceEvent{Kind: types.EventAction, Message: "clicked login"})
		return okTrace(), nil
	}}
	e, st := newTestExecutor(t, runner, Config{})
	defer e.Shutdown(context.Background())

	taskID, err := e.Submit(context.Background(), types.TestConfig{
		TargetURL:       "https://example.com",
		TaskDescription: "login flow",
	})
	require.NoError(t, err)

	rec := waitTerminal(t, st, taskID)
	assert.Equal(t, types.StatusCompleted, rec.Status)

	result, err := st.Result(context.Background(), taskID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, 1, result.Steps[0].StepNumber)
	assert.Equal(t, 2, result.Steps[1].StepNumber)

	events, err := st.Events(context.Background(), taskID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, types.EventNavigation, events[0].Kind)
}

func TestExecutor_CollaboratorReportedFailure(t *testing.T) {
	runner := &stubRunner{run: func(ctx context.Context, req agent.RunRequest) (*agent.RunTrace, error) {
		return &agent.RunTrace{
			Steps:         []agent.TraceStep{{Action: "navigate", Result: "success"}},
			Failed:        true,
			FailureReason: "login button not found",
		}, nil
	}}
	e, st := newTestExecutor(t, runner, Config{})
	defer e.Shutdown(context.Background())

	taskID, _ := e.Submit(context.Background(), types.TestConfig{
		TargetURL: "https://example.com", TaskDescription: "x",
	})

	// 协作方自报失败：任务 completed，结果标记不成功
	rec := waitTerminal(t, st, taskID)
	assert.Equal(t, types.StatusCompleted, rec.Status)

	result, err := st.Result(context.Background(), taskID)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "login button not found", result.Error)
}

func TestExecutor_TransportErrorFailsTask(t *testing.T) {
	runner := &stubRunner{run: func(ctx context.Context, req agent.RunRequest) (*agent.RunTrace, error) {
		return nil, types.NewError(types.ErrUpstreamError, "agent service unreachable")
	}}
	e, st := newTestExecutor(t, runner, Config{})
	defer e.Shutdown(context.Background())

	taskID, _ := e.Submit(context.Background(), types.TestConfig{
		TargetURL: "https://example.com", TaskDescription: "x",
	})

	rec := waitTerminal(t, st, taskID)
	assert.Equal(t, types.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "agent service unreachable")

	_, err := st.Result(context.Background(), taskID)
	assert.Equal(t, types.ErrNotReady, types.GetErrorCode(err))
}

func TestExecutor_PanicRecovered(t *testing.T) {
	runner := &stubRunner{run: func(ctx context.Context, req agent.RunRequest) (*agent.RunTrace, error) {
		panic("collaborator blew up")
	}}
	e, st := newTestExecutor(t, runner, Config{})
	defer e.Shutdown(context.Background())

	taskID, _ := e.Submit(context.Background(), types.TestConfig{
		TargetURL: "https://example.com", TaskDescription: "x",
	})

	rec := waitTerminal(t, st, taskID)
	assert.Equal(t, types.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "collaborator blew up")
}

func TestExecutor_NoNavigationMeansNotSuccessful(t *testing.T) {
	runner := &stubRunner{run: func(ctx context.Context, req agent.RunRequest) (*agent.RunTrace, error) {
		return &agent.RunTrace{
			Steps: []agent.TraceStep{{Action: "click something", Result: "clicked"}},
		}, nil
	}}
	e, st := newTestExecutor(t, runner, Config{})
	defer e.Shutdown(context.Background())

	taskID, _ := e.Submit(context.Background(), types.TestConfig{
		TargetURL: "https://example.com", TaskDescription: "x",
	})

	waitTerminal(t, st, taskID)
	result, err := st.Result(context.Background(), taskID)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestExecutor_MissingScreenshotsDropped(t *testing.T) {
	dir := t.TempDir()
	var taskDir string
	runner := &stubRunner{run: func(ctx context.Context, req agent.RunRequest) (*agent.RunTrace, error) {
		taskDir = filepath.Join(dir, req.TaskID)
		require.NoError(t, os.MkdirAll(taskDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(taskDir, "real.png"), []byte("png"), 0o644))
		return &agent.RunTrace{
			Steps: []agent.TraceStep{
				{Action: "navigate", Result: "success"},
				{Action: "screenshot", Result: "saved", Screenshot: "phantom.png"},
			},
			Screenshots: []string{"real.png", "phantom.png"},
		}, nil
	}}
	e, st := newTestExecutor(t, runner, Config{ScreenshotDir: dir})
	defer e.Shutdown(context.Background())

	taskID, _ := e.Submit(context.Background(), types.TestConfig{
		TargetURL: "https://example.com", TaskDescription: "x",
	})

	waitTerminal(t, st, taskID)
	result, err := st.Result(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, []string{"real.png"}, result.Screenshots)
	assert.Empty(t, result.Steps[1].ScreenshotRef)
}

func TestExecutor_ConcurrencyBounded(t *testing.T) {
	block := make(chan struct{})
	runner := &stubRunner{}
	runner.run = func(ctx context.Context, req agent.RunRequest) (*agent.RunTrace, error) {
		<-block
		return okTrace(), nil
	}

	e, st := newTestExecutor(t, runner, Config{MaxConcurrent: 2})
	defer e.Shutdown(context.Background())

	var ids []string
	for i := 0; i < 6; i++ {
		id, err := e.Submit(context.Background(), types.TestConfig{
			TargetURL: "https://example.com", TaskDescription: "x",
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// 让前两个占满信号量
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&runner.maxSeen), int32(2))

	close(block)
	for _, id := range ids {
		waitTerminal(t, st, id)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&runner.maxSeen), int32(2))
}

func TestExecutor_TaskTimeout(t *testing.T) {
	runner := &stubRunner{run: func(ctx context.Context, req agent.RunRequest) (*agent.RunTrace, error) {
		<-ctx.Done()
		return nil, types.NewError(types.ErrUpstreamTimeout, "agent service timeout").WithCause(ctx.Err())
	}}
	e, st := newTestExecutor(t, runner, Config{TaskTimeout: 30 * time.Millisecond})
	defer e.Shutdown(context.Background())

	taskID, _ := e.Submit(context.Background(), types.TestConfig{
		TargetURL: "https://example.com", TaskDescription: "x",
	})

	rec := waitTerminal(t, st, taskID)
	assert.Equal(t, types.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "timeout")
}
