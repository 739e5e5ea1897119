package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/BaSui01/webtest/store"
	"github.com/BaSui01/webtest/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🎯 任务生命周期 Handler
// =============================================================================

// TaskSubmitter 接收已验证的测试配置并开始后台执行
type TaskSubmitter interface {
	Submit(ctx context.Context, config types.TestConfig) (string, error)
}

// TaskAnalyzer 对已完成任务触发分析并读取最新分析
type TaskAnalyzer interface {
	Analyze(ctx context.Context, taskID string) (*types.AnalysisResult, error)
	Latest(ctx context.Context, taskID string) (*types.AnalysisResult, error)
}

// TaskHandler 任务生命周期处理器
type TaskHandler struct {
	submitter TaskSubmitter
	store     store.Store
	analyzer  TaskAnalyzer
	logger    *zap.Logger
}

// SubmitResponse 任务提交响应
type SubmitResponse struct {
	TaskID         string `json:"task_id"`
	Status         string `json:"status"`
	CheckStatusURL string `json:"check_status_url"`
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(submitter TaskSubmitter, st store.Store, analyzer TaskAnalyzer, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		submitter: submitter,
		store:     st,
		analyzer:  analyzer,
		logger:    logger.With(zap.String("component", "task_handler")),
	}
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleSubmit 提交网站测试任务
// @Summary 提交测试任务
// @Description 提交目标 URL 和自然语言任务描述，立即返回 task_id
// @Tags task
// @Accept json
// @Produce json
// @Param request body types.TestConfig true "测试配置"
// @Success 200 {object} Response{data=SubmitResponse} "已入队"
// @Failure 400 {object} Response "配置无效"
// @Router /execute-test [post]
func (h *TaskHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrValidation, "method not allowed", h.logger)
		return
	}

	var config types.TestConfig
	if err := DecodeJSONBody(w, r, &config, h.logger); err != nil {
		return
	}

	taskID, err := h.submitter.Submit(r.Context(), config)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("task submitted",
		zap.String("task_id", taskID),
		zap.String("target_url", config.TargetURL),
	)

	WriteSuccess(w, SubmitResponse{
		TaskID:         taskID,
		Status:         string(types.StatusQueued),
		CheckStatusURL: fmt.Sprintf("/task-status/%s", taskID),
	})
}

// HandleStatus 查询任务状态
// @Summary 查询任务状态
// @Tags task
// @Produce json
// @Param id path string true "任务 ID"
// @Success 200 {object} Response{data=types.TaskRecord} "任务记录"
// @Failure 404 {object} Response "任务不存在"
// @Router /task-status/{id} [get]
func (h *TaskHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	taskID := extractTaskID(r, "/task-status/")
	if taskID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "task ID is required", h.logger)
		return
	}

	record, err := h.store.Get(r.Context(), taskID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	WriteSuccess(w, record)
}

// HandleResult 获取任务执行结果
// @Summary 获取执行结果
// @Description 仅对已完成任务可用；执行中返回 409
// @Tags task
// @Produce json
// @Param id path string true "任务 ID"
// @Success 200 {object} Response{data=types.ExecutionResult} "执行结果"
// @Failure 404 {object} Response "任务不存在"
// @Failure 409 {object} Response "结果尚未就绪"
// @Router /task-results/{id} [get]
func (h *TaskHandler) HandleResult(w http.ResponseWriter, r *http.Request) {
	taskID := extractTaskID(r, "/task-results/")
	if taskID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "task ID is required", h.logger)
		return
	}

	result, err := h.store.Result(r.Context(), taskID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	WriteSuccess(w, result)
}

// HandleAnalyze 触发任务结果分析
// @Summary 分析执行结果
// @Description 对已完成任务调用分析服务；上游故障降级为本地摘要，通过 method 字段区分
// @Tags task
// @Produce json
// @Param id path string true "任务 ID"
// @Success 200 {object} Response{data=types.AnalysisResult} "分析结果"
// @Failure 404 {object} Response "任务不存在"
// @Failure 409 {object} Response "任务尚未完成"
// @Router /analyze-results/{id} [post]
func (h *TaskHandler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrValidation, "method not allowed", h.logger)
		return
	}

	taskID := extractTaskID(r, "/analyze-results/")
	if taskID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "task ID is required", h.logger)
		return
	}

	analysis, err := h.analyzer.Analyze(r.Context(), taskID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	WriteSuccess(w, analysis)
}

// HandleAnalysis 读取任务最新分析结果
// @Summary 读取最新分析
// @Tags task
// @Produce json
// @Param id path string true "任务 ID"
// @Success 200 {object} Response{data=types.AnalysisResult} "分析结果"
// @Failure 404 {object} Response "分析不存在"
// @Router /task-analysis/{id} [get]
func (h *TaskHandler) HandleAnalysis(w http.ResponseWriter, r *http.Request) {
	taskID := extractTaskID(r, "/task-analysis/")
	if taskID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "task ID is required", h.logger)
		return
	}

	analysis, err := h.analyzer.Latest(r.Context(), taskID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	WriteSuccess(w, analysis)
}

// HandleList 列出所有任务摘要
// @Summary 列出任务
// @Tags task
// @Produce json
// @Success 200 {object} Response{data=[]types.TaskSummary} "任务摘要列表"
// @Router /tasks [get]
func (h *TaskHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.store.List(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	WriteSuccess(w, summaries)
}

// HandleEvents 读取任务已持久化的执行事件
// @Summary 读取任务事件
// @Tags task
// @Produce json
// @Param id path string true "任务 ID"
// @Success 200 {object} Response{data=[]types.TaskEvent} "事件序列"
// @Failure 404 {object} Response "任务不存在"
// @Router /task-events/{id} [get]
func (h *TaskHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	taskID := extractTaskID(r, "/task-events/")
	if taskID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation, "task ID is required", h.logger)
		return
	}

	events, err := h.store.Events(r.Context(), taskID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	WriteSuccess(w, events)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// extractTaskID 从 URL 路径提取任务 ID。
// 优先使用 Go 1.22+ PathValue，回退为前缀裁剪。
func extractTaskID(r *http.Request, prefix string) string {
	if id := r.PathValue("id"); id != "" {
		return id
	}
	path := strings.TrimPrefix(r.URL.Path, prefix)
	if path != "" && path != r.URL.Path && !strings.Contains(path, "/") {
		return path
	}
	return ""
}
