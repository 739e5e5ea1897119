package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/webtest/types"
)

// collectSink 测试用事件收集器
type collectSink struct {
	mu     sync.Mutex
	events []TraceEvent
}

func (c *collectSink) OnEvent(ctx context.Context, event TraceEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *collectSink) all() []TraceEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TraceEvent(nil), c.events...)
}

func sampleRequest(sink Sink) RunRequest {
	return RunRequest{
		TaskID:          "task_abc",
		TargetURL:       "https://example.com",
		TaskDescription: "check the signup form",
		ScreenshotInstructions: []types.ScreenshotInstruction{
			{StepDescription: "after load", Filename: "home.png"},
		},
		Sink: sink,
	}
}

// =============================================================================
// 🧪 HTTPRunner 测试
// =============================================================================

func TestHTTPRunner_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/runs", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/x-ndjson")
		lines := []string{
			`{"type":"event","kind":"navigation","message":"opened https://example.com"}`,
			`{"type":"event","kind":"screenshot","message":"captured home.png","screenshot":"home.png"}`,
			``,
			`not json, should be skipped`,
			`{"type":"trace","trace":{"steps":[{"action":"navigate","result":"success"},{"action":"screenshot","result":"saved","screenshot":"home.png"}],"screenshots":["home.png"],"failed":false}}`,
		}
		for _, line := range lines {
			w.Write([]byte(line + "\n"))
		}
	}))
	defer srv.Close()

	sink := &collectSink{}
	runner := NewHTTPRunner(HTTPRunnerConfig{BaseURL: srv.URL, APIKey: "test-key"}, zap.NewNop())

	trace, err := runner.Run(context.Background(), sampleRequest(sink))
	require.NoError(t, err)

	require.Len(t, trace.Steps, 2)
	assert.Equal(t, "navigate", trace.Steps[0].Action)
	assert.Equal(t, "home.png", trace.Steps[1].Screenshot)
	assert.Equal(t, []string{"home.png"}, trace.Screenshots)
	assert.False(t, trace.Failed)
	assert.NotEmpty(t, trace.Raw)

	events := sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, types.EventNavigation, events[0].Kind)
	assert.Equal(t, types.EventScreenshot, events[1].Kind)
	assert.Equal(t, "home.png", events[1].Screenshot)
}

func TestHTTPRunner_CollaboratorReportedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"type":"trace","trace":{"steps":[],"screenshots":[],"failed":true,"failure_reason":"element not found"}}` + "\n"))
	}))
	defer srv.Close()

	runner := NewHTTPRunner(HTTPRunnerConfig{BaseURL: srv.URL}, zap.NewNop())
	trace, err := runner.Run(context.Background(), sampleRequest(nil))

	// 协作方自报失败不是传输层错误
	require.NoError(t, err)
	assert.True(t, trace.Failed)
	assert.Equal(t, "element not found", trace.FailureReason)
}

func TestHTTPRunner_StatusErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCode  types.ErrorCode
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, types.ErrUnauthorized, false},
		{"forbidden", http.StatusForbidden, types.ErrForbidden, false},
		{"rate limited", http.StatusTooManyRequests, types.ErrRateLimited, true},
		{"gateway timeout", http.StatusGatewayTimeout, types.ErrUpstreamTimeout, true},
		{"internal error", http.StatusInternalServerError, types.ErrUpstreamError, true},
		{"bad request", http.StatusBadRequest, types.ErrUpstreamError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"code":"X","message":"upstream says no"}}`))
			}))
			defer srv.Close()

			runner := NewHTTPRunner(HTTPRunnerConfig{BaseURL: srv.URL}, zap.NewNop())
			_, err := runner.Run(context.Background(), sampleRequest(nil))

			require.Error(t, err)
			assert.Equal(t, tt.wantCode, types.GetErrorCode(err))
			assert.Equal(t, tt.retryable, types.IsRetryable(err))
			assert.Contains(t, err.Error(), "upstream says no")
		})
	}
}

func TestHTTPRunner_StreamEndsWithoutTrace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"type":"event","kind":"action","message":"started"}` + "\n"))
	}))
	defer srv.Close()

	runner := NewHTTPRunner(HTTPRunnerConfig{BaseURL: srv.URL}, zap.NewNop())
	_, err := runner.Run(context.Background(), sampleRequest(nil))

	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestHTTPRunner_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	runner := NewHTTPRunner(HTTPRunnerConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}, zap.NewNop())
	_, err := runner.Run(context.Background(), sampleRequest(nil))

	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamTimeout, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestHTTPRunner_Unreachable(t *testing.T) {
	runner := NewHTTPRunner(HTTPRunnerConfig{BaseURL: "http://127.0.0.1:1"}, zap.NewNop())
	_, err := runner.Run(context.Background(), sampleRequest(nil))

	require.Error(t, err)
	assert.Equal(t, types.ErrUpstreamError, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}
