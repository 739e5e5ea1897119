package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/webtest/internal/tlsutil"
	"github.com/BaSui01/webtest/types"
)

// =============================================================================
// 🌐 HTTP 协作方客户端
// =============================================================================

// HTTPRunnerConfig 外部自动化服务的连接配置
type HTTPRunnerConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPRunner 通过 REST API 调用外部浏览器自动化服务。
// 服务以 NDJSON 流返回：若干 event 行，最后一条 trace 行。
type HTTPRunner struct {
	cfg    HTTPRunnerConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPRunner 创建 HTTP 协作方客户端
func NewHTTPRunner(cfg HTTPRunnerConfig, logger *zap.Logger) *HTTPRunner {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute // 浏览器任务可能很慢
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPRunner{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "http_runner")),
	}
}

// runPayload 发给自动化服务的请求体
type runPayload struct {
	TaskID                 string                        `json:"task_id"`
	TargetURL              string                        `json:"target_url"`
	TaskDescription        string                        `json:"task_description"`
	ScreenshotInstructions []types.ScreenshotInstruction `json:"screenshot_instructions,omitempty"`
}

// streamLine NDJSON 流中的一行。type 为 event 或 trace。
type streamLine struct {
	Type       string          `json:"type"`
	Kind       string          `json:"kind,omitempty"`
	Message    string          `json:"message,omitempty"`
	Screenshot string          `json:"screenshot,omitempty"`
	Timestamp  time.Time       `json:"timestamp,omitempty"`
	Trace      json.RawMessage `json:"trace,omitempty"`
}

type runnerErrorResp struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (r *HTTPRunner) buildHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}
}

// Run 执行一次浏览器自动化任务。进度事件在读流过程中转发给 req.Sink；
// 返回 error 仅表示传输层故障，协作方自报的失败在 RunTrace.Failed 中。
func (r *HTTPRunner) Run(ctx context.Context, req RunRequest) (*RunTrace, error) {
	payload, _ := json.Marshal(runPayload{
		TaskID:                 req.TaskID,
		TargetURL:              req.TargetURL,
		TaskDescription:        req.TaskDescription,
		ScreenshotInstructions: req.ScreenshotInstructions,
	})
	endpoint := fmt.Sprintf("%s/api/v1/runs", strings.TrimRight(r.cfg.BaseURL, "/"))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "build agent request").WithCause(err)
	}
	r.buildHeaders(httpReq)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapStatusError(resp.StatusCode, readRunnerErrMsg(resp.Body))
	}

	return r.consumeStream(ctx, resp.Body, req.Sink)
}

// consumeStream 逐行读取 NDJSON 流，event 行转发给 sink，
// trace 行结束本次执行。流在 trace 之前断开视为上游故障。
func (r *HTTPRunner) consumeStream(ctx context.Context, body io.Reader, sink Sink) (*RunTrace, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var sl streamLine
		if err := json.Unmarshal([]byte(line), &sl); err != nil {
			r.logger.Warn("skipping malformed stream line", zap.Error(err))
			continue
		}

		switch sl.Type {
		case "event":
			if sink != nil {
				sink.OnEvent(ctx, TraceEvent{
					Kind:       types.TaskEventKind(sl.Kind),
					Message:    sl.Message,
					Screenshot: sl.Screenshot,
					Timestamp:  sl.Timestamp,
				})
			}

		case "trace":
			var trace RunTrace
			if err := json.Unmarshal(sl.Trace, &trace); err != nil {
				return nil, types.NewError(types.ErrUpstreamError, "decode run trace").
					WithCause(err).WithRetryable(true)
			}
			trace.Raw = append(json.RawMessage(nil), sl.Trace...)
			return &trace, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, mapTransportError(err)
	}
	return nil, types.NewError(types.ErrUpstreamError, "agent stream ended without trace").
		WithRetryable(true)
}

// mapTransportError 传输层错误分类：超时与其他故障分开上报
func mapTransportError(err error) *types.Error {
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return types.NewError(types.ErrUpstreamTimeout, "agent service timeout").
			WithCause(err).
			WithHTTPStatus(http.StatusGatewayTimeout).
			WithRetryable(true)
	}
	return types.NewError(types.ErrUpstreamError, "agent service unreachable").
		WithCause(err).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true)
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// mapStatusError 上游状态码映射
func mapStatusError(status int, msg string) *types.Error {
	switch status {
	case http.StatusUnauthorized:
		return types.NewError(types.ErrUnauthorized, msg).WithHTTPStatus(status)
	case http.StatusForbidden:
		return types.NewError(types.ErrForbidden, msg).WithHTTPStatus(status)
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithHTTPStatus(status).WithRetryable(true)
	case http.StatusGatewayTimeout:
		return types.NewError(types.ErrUpstreamTimeout, msg).WithHTTPStatus(status).WithRetryable(true)
	default:
		e := types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(status)
		if status >= 500 {
			e = e.WithRetryable(true)
		}
		return e
	}
}

func readRunnerErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 8*1024))
	var errResp runnerErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	if len(data) > 0 {
		return string(data)
	}
	return "agent service error"
}
