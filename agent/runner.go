package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BaSui01/webtest/types"
)

// =============================================================================
// 🤖 协作方执行接口
// =============================================================================

// RunRequest 一次浏览器自动化执行的输入。Sink 可为 nil，
// 此时执行期间的进度事件被丢弃。
type RunRequest struct {
	TaskID                 string
	TargetURL              string
	TaskDescription        string
	ScreenshotInstructions []types.ScreenshotInstruction
	Sink                   Sink
}

// TraceStep 协作方上报的原始执行步骤。字段可能缺失，
// 规范化（编号、占位值）由 worker 负责。
type TraceStep struct {
	Action     string    `json:"action"`
	Result     string    `json:"result"`
	Screenshot string    `json:"screenshot,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// RunTrace 一次执行的完整原始轨迹
type RunTrace struct {
	Steps         []TraceStep     `json:"steps"`
	Screenshots   []string        `json:"screenshots"`
	Failed        bool            `json:"failed"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Raw           json.RawMessage `json:"-"`
}

// TraceEvent 执行期间的单条进度事件
type TraceEvent struct {
	Kind       types.TaskEventKind `json:"kind"`
	Message    string              `json:"message"`
	Screenshot string              `json:"screenshot,omitempty"`
	Timestamp  time.Time           `json:"timestamp"`
}

// Sink 接收执行期间的进度事件。实现必须快速返回，
// 慢消费不得阻塞执行路径。
type Sink interface {
	OnEvent(ctx context.Context, event TraceEvent)
}

// Runner 浏览器自动化协作方的抽象。Run 阻塞直到执行结束或 ctx 取消；
// 协作方自身报告的失败通过 RunTrace.Failed 返回，error 只表示传输层故障。
type Runner interface {
	Run(ctx context.Context, req RunRequest) (*RunTrace, error)
}
