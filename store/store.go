package store

import (
	"context"
	"net/http"

	"github.com/BaSui01/webtest/types"
)

// =============================================================================
// 🗃️ 任务存储接口
// =============================================================================

// Store 任务存储抽象。HTTP 层并发读取，单个任务只有它的执行
// Worker 一个写入方；终态记录不再接受任何转换。
type Store interface {
	// Create 生成新任务 ID 并以 queued 状态插入记录
	Create(ctx context.Context, config types.TestConfig) (string, error)

	// Get 返回任务记录的快照副本
	Get(ctx context.Context, taskID string) (*types.TaskRecord, error)

	// List 返回所有任务的摘要视图，按创建时间倒序
	List(ctx context.Context) ([]types.TaskSummary, error)

	// Result 返回执行结果。任务未完成时返回 NOT_READY。
	Result(ctx context.Context, taskID string) (*types.ExecutionResult, error)

	// SetRunning 执行 queued → running 转换
	SetRunning(ctx context.Context, taskID string) error

	// SetCompleted 执行 running → completed 转换并写入结果
	SetCompleted(ctx context.Context, taskID string, result *types.ExecutionResult) error

	// SetFailed 执行 running → failed 转换并记录错误
	SetFailed(ctx context.Context, taskID string, errMsg string) error

	// AppendEvent 追加一条任务事件，Seq 由存储分配（任务内从 1 起递增）
	AppendEvent(ctx context.Context, event types.TaskEvent) (types.TaskEvent, error)

	// Events 返回任务的全部事件，按 Seq 升序
	Events(ctx context.Context, taskID string) ([]types.TaskEvent, error)

	// SetAnalysis 保存任务的最新分析结果（重复分析覆盖旧值）
	SetAnalysis(ctx context.Context, taskID string, analysis *types.AnalysisResult) error

	// Analysis 返回任务最新一份分析结果，不存在时返回 NOT_FOUND
	Analysis(ctx context.Context, taskID string) (*types.AnalysisResult, error)

	// Ping 健康检查
	Ping(ctx context.Context) error
}

// EventWatcher 可选扩展：支持实时订阅任务事件的存储实现。
// 不实现该接口的存储由调用方退化为轮询 Events。
type EventWatcher interface {
	// Watch 返回任务后续事件的通道。取消 ctx 或任务到达终态后通道关闭。
	Watch(ctx context.Context, taskID string) (<-chan types.TaskEvent, error)
}

// =============================================================================
// ⚠️ 哨兵错误构造
// =============================================================================

// ErrTaskNotFound 未知任务 ID
func ErrTaskNotFound(taskID string) *types.Error {
	return types.NewError(types.ErrNotFound, "task not found: "+taskID).
		WithHTTPStatus(http.StatusNotFound)
}

// ErrResultNotReady 任务尚未完成，结果不可读
func ErrResultNotReady(taskID string, status types.TaskStatus) *types.Error {
	return types.NewError(types.ErrNotReady, "task "+taskID+" is "+string(status)+", result not available").
		WithHTTPStatus(http.StatusConflict)
}

// ErrInvalidTransition 非法状态转换。终态记录收到转换请求属于编程错误，
// 存储拒绝写入并由调用方记录。
func ErrInvalidTransition(taskID string, from, to types.TaskStatus) *types.Error {
	return types.NewError(types.ErrInvalidTransition,
		"invalid transition for task "+taskID+": "+string(from)+" -> "+string(to)).
		WithHTTPStatus(http.StatusConflict)
}

// ErrAnalysisNotFound 任务尚无分析结果
func ErrAnalysisNotFound(taskID string) *types.Error {
	return types.NewError(types.ErrNotFound, "no analysis for task: "+taskID).
		WithHTTPStatus(http.StatusNotFound)
}
