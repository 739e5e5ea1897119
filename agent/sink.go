package agent

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/webtest/store"
	"github.com/BaSui01/webtest/types"
)

// =============================================================================
// 📋 事件接收器实现
// =============================================================================

// ZapSink 把进度事件写入结构化日志
type ZapSink struct {
	logger *zap.Logger
	taskID string
}

// NewZapSink 创建日志事件接收器
func NewZapSink(logger *zap.Logger, taskID string) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{
		logger: logger.With(zap.String("task_id", taskID)),
		taskID: taskID,
	}
}

func (s *ZapSink) OnEvent(ctx context.Context, event TraceEvent) {
	s.logger.Info("agent event",
		zap.String("kind", string(event.Kind)),
		zap.String("message", event.Message),
		zap.String("screenshot", event.Screenshot),
	)
}

// StoreSink 把进度事件持久化为 TaskEvent，供事件查询与 websocket 订阅。
// 存储写入失败只记日志，不中断执行。
type StoreSink struct {
	store  store.Store
	logger *zap.Logger
	taskID string
}

// NewStoreSink 创建存储事件接收器
func NewStoreSink(st store.Store, logger *zap.Logger, taskID string) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{
		store:  st,
		logger: logger.With(zap.String("component", "store_sink"), zap.String("task_id", taskID)),
		taskID: taskID,
	}
}

func (s *StoreSink) OnEvent(ctx context.Context, event TraceEvent) {
	_, err := s.store.AppendEvent(ctx, types.TaskEvent{
		TaskID:    s.taskID,
		Kind:      event.Kind,
		Message:   event.Message,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		s.logger.Warn("failed to persist agent event", zap.Error(err))
	}
}

// MultiSink 按顺序分发给多个接收器
type MultiSink []Sink

func (m MultiSink) OnEvent(ctx context.Context, event TraceEvent) {
	for _, s := range m {
		if s != nil {
			s.OnEvent(ctx, event)
		}
	}
}
