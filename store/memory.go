package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/webtest/types"
)

// =============================================================================
// 💾 内存任务存储
// =============================================================================

// record 单个任务的全部状态。mu 保护记录级读写，
// 互不相关的任务之间没有共享锁。
type record struct {
	mu       sync.RWMutex
	task     *types.TaskRecord
	result   *types.ExecutionResult
	analysis *types.AnalysisResult
	events   []types.TaskEvent
	watchers []chan types.TaskEvent
}

// Memory 进程内任务存储。默认后端；进程重启后记录丢失，
// running 中的任务不会被恢复（启动时记录该限制）。
type Memory struct {
	mu      sync.RWMutex
	records map[string]*record
	logger  *zap.Logger
	now     func() time.Time
}

// NewMemory 创建内存存储
func NewMemory(logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		records: make(map[string]*record),
		logger:  logger.With(zap.String("component", "memory_store")),
		now:     time.Now,
	}
}

// Create 生成 "task_<uuid>" 形式的 ID 并插入 queued 记录
func (m *Memory) Create(ctx context.Context, config types.TestConfig) (string, error) {
	taskID := "task_" + uuid.NewString()

	rec := &record{
		task: &types.TaskRecord{
			ID:        taskID,
			Status:    types.StatusQueued,
			CreatedAt: m.now(),
			Config:    config,
		},
	}

	m.mu.Lock()
	m.records[taskID] = rec
	m.mu.Unlock()

	m.logger.Debug("task created", zap.String("task_id", taskID))
	return taskID, nil
}

func (m *Memory) lookup(taskID string) (*record, error) {
	m.mu.RLock()
	rec, ok := m.records[taskID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrTaskNotFound(taskID)
	}
	return rec, nil
}

// Get 返回任务记录的深拷贝
func (m *Memory) Get(ctx context.Context, taskID string) (*types.TaskRecord, error) {
	rec, err := m.lookup(taskID)
	if err != nil {
		return nil, err
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.task.Clone(), nil
}

// List 返回所有任务摘要，按创建时间倒序
func (m *Memory) List(ctx context.Context) ([]types.TaskSummary, error) {
	m.mu.RLock()
	recs := make([]*record, 0, len(m.records))
	for _, rec := range m.records {
		recs = append(recs, rec)
	}
	m.mu.RUnlock()

	summaries := make([]types.TaskSummary, 0, len(recs))
	for _, rec := range recs {
		rec.mu.RLock()
		summaries = append(summaries, types.TaskSummary{
			ID:         rec.task.ID,
			Status:     rec.task.Status,
			TargetURL:  rec.task.Config.TargetURL,
			CreatedAt:  rec.task.CreatedAt,
			FinishedAt: rec.task.FinishedAt,
		})
		rec.mu.RUnlock()
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	return summaries, nil
}

// Result 返回执行结果的深拷贝。completed 之外的状态一律 NOT_READY，
// failed 任务的错误以 task-status 为准。
func (m *Memory) Result(ctx context.Context, taskID string) (*types.ExecutionResult, error) {
	rec, err := m.lookup(taskID)
	if err != nil {
		return nil, err
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()

	if rec.task.Status != types.StatusCompleted || rec.result == nil {
		return nil, ErrResultNotReady(taskID, rec.task.Status)
	}
	return rec.result.Clone(), nil
}

// SetRunning queued → running
func (m *Memory) SetRunning(ctx context.Context, taskID string) error {
	rec, err := m.lookup(taskID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.task.Status != types.StatusQueued {
		return ErrInvalidTransition(taskID, rec.task.Status, types.StatusRunning)
	}
	now := m.now()
	rec.task.Status = types.StatusRunning
	rec.task.StartedAt = &now
	return nil
}

// SetCompleted running → completed，写入结果并关闭事件订阅
func (m *Memory) SetCompleted(ctx context.Context, taskID string, result *types.ExecutionResult) error {
	rec, err := m.lookup(taskID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.task.Status != types.StatusRunning {
		return ErrInvalidTransition(taskID, rec.task.Status, types.StatusCompleted)
	}
	now := m.now()
	rec.task.Status = types.StatusCompleted
	rec.task.FinishedAt = &now
	rec.result = result.Clone()
	rec.closeWatchersLocked()
	return nil
}

// SetFailed running → failed
func (m *Memory) SetFailed(ctx context.Context, taskID string, errMsg string) error {
	rec, err := m.lookup(taskID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.task.Status != types.StatusRunning {
		return ErrInvalidTransition(taskID, rec.task.Status, types.StatusFailed)
	}
	now := m.now()
	rec.task.Status = types.StatusFailed
	rec.task.FinishedAt = &now
	rec.task.Error = errMsg
	rec.closeWatchersLocked()
	return nil
}

// =============================================================================
// 📋 事件流
// =============================================================================

// AppendEvent 追加事件并分配任务内递增的 Seq，同时推送给订阅者
func (m *Memory) AppendEvent(ctx context.Context, event types.TaskEvent) (types.TaskEvent, error) {
	rec, err := m.lookup(event.TaskID)
	if err != nil {
		return types.TaskEvent{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	event.Seq = len(rec.events) + 1
	if event.Timestamp.IsZero() {
		event.Timestamp = m.now()
	}
	rec.events = append(rec.events, event)

	for _, ch := range rec.watchers {
		select {
		case ch <- event:
		default:
			// 慢订阅者丢事件，不阻塞执行路径；完整历史仍可通过 Events 读取
		}
	}
	return event, nil
}

// Events 返回全部事件副本，按 Seq 升序
func (m *Memory) Events(ctx context.Context, taskID string) ([]types.TaskEvent, error) {
	rec, err := m.lookup(taskID)
	if err != nil {
		return nil, err
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return append([]types.TaskEvent(nil), rec.events...), nil
}

// Watch 实现 EventWatcher。返回通道先重放已有事件，再实时推送新事件；
// 任务到达终态或 ctx 取消后关闭。
func (m *Memory) Watch(ctx context.Context, taskID string) (<-chan types.TaskEvent, error) {
	rec, err := m.lookup(taskID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	backlog := append([]types.TaskEvent(nil), rec.events...)
	terminal := rec.task.Status.Terminal()

	ch := make(chan types.TaskEvent, 64+len(backlog))
	for _, ev := range backlog {
		ch <- ev
	}
	if terminal {
		close(ch)
		rec.mu.Unlock()
		return ch, nil
	}
	rec.watchers = append(rec.watchers, ch)
	rec.mu.Unlock()

	go func() {
		<-ctx.Done()
		rec.mu.Lock()
		defer rec.mu.Unlock()
		for i, w := range rec.watchers {
			if w == ch {
				rec.watchers = append(rec.watchers[:i], rec.watchers[i+1:]...)
				close(ch)
				break
			}
		}
	}()

	return ch, nil
}

// closeWatchersLocked 终态时关闭所有订阅通道。调用方持有 rec.mu。
func (rec *record) closeWatchersLocked() {
	for _, ch := range rec.watchers {
		close(ch)
	}
	rec.watchers = nil
}

// =============================================================================
// 🔍 分析结果
// =============================================================================

// SetAnalysis 覆盖保存最新分析结果
func (m *Memory) SetAnalysis(ctx context.Context, taskID string, analysis *types.AnalysisResult) error {
	rec, err := m.lookup(taskID)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	cp := *analysis
	rec.analysis = &cp
	return nil
}

// Analysis 返回最新分析结果
func (m *Memory) Analysis(ctx context.Context, taskID string) (*types.AnalysisResult, error) {
	rec, err := m.lookup(taskID)
	if err != nil {
		return nil, err
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	if rec.analysis == nil {
		return nil, ErrAnalysisNotFound(taskID)
	}
	cp := *rec.analysis
	return &cp, nil
}

// Ping 内存存储恒为健康
func (m *Memory) Ping(ctx context.Context) error {
	return nil
}
