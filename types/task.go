package types

import (
	"encoding/json"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// 📦 任务数据模型
// =============================================================================

// TaskStatus 任务生命周期状态
type TaskStatus string

const (
	StatusQueued    TaskStatus = "queued"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// Terminal 判断状态是否为终态。终态记录不再变更。
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid 判断状态值是否合法
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ScreenshotInstruction 单条截图指令：在哪一步、存成什么文件名
type ScreenshotInstruction struct {
	StepDescription string `json:"step_description"`
	Filename        string `json:"filename"`
}

// TestConfig 一次网页测试任务的完整配置。提交后不可变。
type TestConfig struct {
	TargetURL              string                  `json:"target_url"`
	TaskDescription        string                  `json:"task_description"`
	ScreenshotInstructions []ScreenshotInstruction `json:"screenshot_instructions"`
}

// Validate 校验提交配置。校验失败的任务不会被创建。
func (c *TestConfig) Validate() error {
	if strings.TrimSpace(c.TargetURL) == "" {
		return NewError(ErrValidation, "target_url is required")
	}
	u, err := url.Parse(c.TargetURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return NewError(ErrValidation, "target_url must be an absolute http(s) URL").WithCause(err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewError(ErrValidation, "target_url scheme must be http or https")
	}
	if strings.TrimSpace(c.TaskDescription) == "" {
		return NewError(ErrValidation, "task_description is required")
	}
	for i, instr := range c.ScreenshotInstructions {
		if err := instr.validate(); err != nil {
			if e, ok := err.(*Error); ok {
				e.Message = "screenshot_instructions[" + strconv.Itoa(i) + "]: " + e.Message
			}
			return err
		}
	}
	return nil
}

// validate 校验截图指令：文件名必须是裸文件名（无路径分隔符）且为图片扩展名。
// 截图目录按任务隔离，路径穿越在提交时就拒绝。
func (si *ScreenshotInstruction) validate() error {
	if strings.TrimSpace(si.StepDescription) == "" {
		return NewError(ErrValidation, "step_description is required")
	}
	name := si.Filename
	if name == "" {
		return NewError(ErrValidation, "filename is required")
	}
	if name != path.Base(name) || strings.Contains(name, "..") {
		return NewError(ErrValidation, "filename must be a bare file name")
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return nil
	}
	return NewError(ErrValidation, "filename must end in .png, .jpg or .jpeg")
}

// TaskRecord 任务记录。由 Store 创建，执行 Worker 独占写入，
// HTTP 层只读。到达终态后不再变更。
type TaskRecord struct {
	ID         string     `json:"task_id"`
	Status     TaskStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	Config     TestConfig `json:"config"`
}

// Clone 返回记录的深拷贝，读取方拿不到内部可变引用。
func (r *TaskRecord) Clone() *TaskRecord {
	cp := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	cp.Config.ScreenshotInstructions = append([]ScreenshotInstruction(nil), r.Config.ScreenshotInstructions...)
	return &cp
}

// TaskSummary 任务列表视图
type TaskSummary struct {
	ID         string     `json:"task_id"`
	Status     TaskStatus `json:"status"`
	TargetURL  string     `json:"target_url"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// =============================================================================
// 🎯 执行结果
// =============================================================================

// EmptyMarker 协作方未给出 action/result 文本时的显式占位值，不使用空串或 null。
const EmptyMarker = "(none)"

// ExecutionStep 规范化后的单个执行步骤。StepNumber 从 1 起严格递增。
type ExecutionStep struct {
	StepNumber    int       `json:"step_number"`
	Action        string    `json:"action"`
	Result        string    `json:"result"`
	Timestamp     time.Time `json:"timestamp"`
	ScreenshotRef string    `json:"screenshot_ref,omitempty"`
}

// ExecutionResult 一次任务执行的完整结果。Worker 完成时一次性写入，之后不可变。
type ExecutionResult struct {
	TaskID      string          `json:"task_id"`
	Success     bool            `json:"success"`
	Steps       []ExecutionStep `json:"steps"`
	Screenshots []string        `json:"screenshots"`
	RawTrace    json.RawMessage `json:"raw_trace,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Clone 深拷贝执行结果
func (r *ExecutionResult) Clone() *ExecutionResult {
	cp := *r
	cp.Steps = append([]ExecutionStep(nil), r.Steps...)
	cp.Screenshots = append([]string(nil), r.Screenshots...)
	cp.RawTrace = append(json.RawMessage(nil), r.RawTrace...)
	return &cp
}

// =============================================================================
// 🔍 分析结果
// =============================================================================

// AnalysisMethod 标识分析内容的来源路径，调用方据此区分可信与降级输出。
type AnalysisMethod string

const (
	// AnalysisPrimary LLM 原始输出通过了分类校验
	AnalysisPrimary AnalysisMethod = "primary"
	// AnalysisFallback LLM 输出命中已知坏签名，内容为本地合成摘要
	AnalysisFallback AnalysisMethod = "fallback"
	// AnalysisErrorRecovery LLM 调用本身失败，内容描述失败原因
	AnalysisErrorRecovery AnalysisMethod = "error_recovery"
)

// ComplianceCheck 基于结构化字段计算的合规检查。
// 计算值按实际情况上报，不做粉饰。
type ComplianceCheck struct {
	TargetURLAccessed    bool `json:"target_url_accessed"`
	ScreenshotsRequired  int  `json:"screenshots_required"`
	ScreenshotsCaptured  int  `json:"screenshots_captured"`
	MeetsScreenshotQuota bool `json:"meets_screenshot_quota"`
}

// AnalysisReport 结构化分析附件：合规检查 + 建议列表
type AnalysisReport struct {
	Compliance      ComplianceCheck `json:"compliance_check"`
	Recommendations []string        `json:"recommendations"`
}

// AnalysisResult 对一次 ExecutionResult 的分析产物。可重复生成，仅保留最新一份。
type AnalysisResult struct {
	TaskID    string          `json:"task_id"`
	Content   string          `json:"content"`
	Method    AnalysisMethod  `json:"method"`
	Report    *AnalysisReport `json:"report,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// =============================================================================
// 📋 任务事件
// =============================================================================

// TaskEventKind 事件类别，对应协作方日志流中的条目类型
type TaskEventKind string

const (
	EventAction      TaskEventKind = "action"
	EventObservation TaskEventKind = "observation"
	EventDecision    TaskEventKind = "decision"
	EventNavigation  TaskEventKind = "navigation"
	EventScreenshot  TaskEventKind = "screenshot"
	EventError       TaskEventKind = "error"
)

// TaskEvent 任务执行期间协作方上报的一条进度事件。
// Seq 在任务内从 1 起严格递增。
type TaskEvent struct {
	TaskID    string        `json:"task_id"`
	Seq       int           `json:"seq"`
	Kind      TaskEventKind `json:"kind"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}
