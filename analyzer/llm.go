package analyzer

import (
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

	"github.com/BaSui01/webtest/internal/ctxkeys"
	"github.com/BaSui01/webtest/internal/tlsutil"
	"github.com/BaSui01/webtest/types"
)

// =============================================================================
// 🧠 分析 LLM 客户端
// =============================================================================

// LLMClient 分析模型的抽象
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// LLMConfig 分析模型配置
type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// HTTPLLMClient OpenAI 兼容的 chat-completions 客户端
type HTTPLLMClient struct {
	cfg    LLMConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPLLMClient 创建分析模型客户端
func NewHTTPLLMClient(cfg LLMConfig, logger *zap.Logger) *HTTPLLMClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2048
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPLLMClient{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "llm_client")),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type chatErrorResp struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// reqLogger 带上 ctx 中的任务 ID，把上游故障关联到具体任务
func (c *HTTPLLMClient) reqLogger(ctx context.Context) *zap.Logger {
	if id, ok := ctxkeys.TaskID(ctx); ok {
		return c.logger.With(zap.String("task_id", id))
	}
	return c.logger
}

func (c *HTTPLLMClient) buildHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

// Complete 发送一次补全请求，返回首个 choice 的文本
func (c *HTTPLLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}

	payload, _ := json.Marshal(body)
	endpoint := fmt.Sprintf("%s/v1/chat/completions", strings.TrimRight(c.cfg.BaseURL, "/"))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", types.NewError(types.ErrUpstreamError, "build llm request").WithCause(err)
	}
	c.buildHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.reqLogger(ctx).Warn("llm request failed", zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return "", types.NewError(types.ErrUpstreamTimeout, "llm request timeout").
				WithCause(err).
				WithHTTPStatus(http.StatusGatewayTimeout).
				WithRetryable(true)
		}
		return "", types.NewError(types.ErrUpstreamError, "llm service unreachable").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		c.reqLogger(ctx).Warn("llm returned error status", zap.Int("status", resp.StatusCode))
		return "", mapLLMError(resp.StatusCode, readLLMErrMsg(resp.Body))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", types.NewError(types.ErrUpstreamError, "decode llm response").
			WithCause(err).WithRetryable(true)
	}
	if len(chatResp.Choices) == 0 {
		return "", types.NewError(types.ErrUpstreamError, "llm returned no choices").WithRetryable(true)
	}
	return chatResp.Choices[0].Message.Content, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func mapLLMError(status int, msg string) *types.Error {
	switch status {
	case http.StatusUnauthorized:
		return types.NewError(types.ErrUnauthorized, msg).WithHTTPStatus(status)
	case http.StatusForbidden:
		return types.NewError(types.ErrForbidden, msg).WithHTTPStatus(status)
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithHTTPStatus(status).WithRetryable(true)
	default:
		e := types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(status)
		if status >= 500 {
			e = e.WithRetryable(true)
		}
		return e
	}
}

func readLLMErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 8*1024))
	var errResp chatErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	if len(data) > 0 {
		return string(data)
	}
	return "llm service error"
}
