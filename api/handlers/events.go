package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/webtest/store"
	"github.com/BaSui01/webtest/types"
)

// =============================================================================
// 🔌 任务事件 WebSocket Handler
// =============================================================================

// EventStreamHandler 通过 WebSocket 推送任务执行事件。
// 优先使用存储的实时订阅（EventWatcher），数据库后端等不支持订阅的
// 存储回退为轮询已持久化的事件序列。
type EventStreamHandler struct {
	store        store.Store
	watcher      store.EventWatcher
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewEventStreamHandler 创建事件流处理器。watcher 可为 nil。
func NewEventStreamHandler(st store.Store, watcher store.EventWatcher, logger *zap.Logger) *EventStreamHandler {
	return &EventStreamHandler{
		store:        st,
		watcher:      watcher,
		pollInterval: time.Second,
		logger:       logger.With(zap.String("component", "event_stream")),
	}
}

// HandleWS 处理 /ws/task-events/{id} 连接
// @Summary 任务事件实时流
// @Description WebSocket 连接，按序推送任务执行事件，任务终态后关闭
// @Tags task
// @Param id path string true "任务 ID"
// @Router /ws/task-events/{id} [get]
func (h *EventStreamHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	taskID := extractTaskID(r, "/ws/task-events/")
	if taskID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "task ID is required", h.logger)
		return
	}

	// 升级前确认任务存在，未知 ID 返回常规 404
	if _, err := h.store.Get(r.Context(), taskID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // 同源校验由 CORS 中间件负责
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	if h.watcher != nil {
		h.streamLive(ctx, conn, taskID)
	} else {
		h.streamPolling(ctx, conn, taskID)
	}

	conn.Close(websocket.StatusNormalClosure, "task reached terminal state")
}

// streamLive 通过存储订阅推送事件，通道关闭即任务终态
func (h *EventStreamHandler) streamLive(ctx context.Context, conn *websocket.Conn, taskID string) {
	ch, err := h.watcher.Watch(ctx, taskID)
	if err != nil {
		h.logger.Warn("event watch failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, event); err != nil {
				h.logger.Debug("websocket write failed", zap.String("task_id", taskID), zap.Error(err))
				return
			}
		}
	}
}

// streamPolling 轮询已持久化事件，按 Seq 去重推送，任务终态后退出
func (h *EventStreamHandler) streamPolling(ctx context.Context, conn *websocket.Conn, taskID string) {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	lastSeq := 0
	for {
		events, err := h.store.Events(ctx, taskID)
		if err != nil {
			h.logger.Warn("event poll failed", zap.String("task_id", taskID), zap.Error(err))
			return
		}
		for _, event := range events {
			if event.Seq <= lastSeq {
				continue
			}
			if err := wsjson.Write(ctx, conn, event); err != nil {
				return
			}
			lastSeq = event.Seq
		}

		record, err := h.store.Get(ctx, taskID)
		if err != nil || record.Status.Terminal() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
