package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/webtest/types"
)

// =============================================================================
// 🗄️ GORM 持久化任务存储
// =============================================================================

// taskRow tasks 表模型。配置与结果以 JSON 列保存，
// 查询路径只按 ID 与状态过滤，不需要展开字段。
type taskRow struct {
	ID         string `gorm:"primaryKey;size:64"`
	Status     string `gorm:"size:16;index"`
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Error      string `gorm:"type:text"`
	ConfigJSON []byte `gorm:"column:config_json;type:jsonb"`
}

func (taskRow) TableName() string { return "webtest_tasks" }

// resultRow results 表模型，任务与结果 1:0..1
type resultRow struct {
	TaskID      string `gorm:"primaryKey;size:64"`
	PayloadJSON []byte `gorm:"column:payload_json;type:jsonb"`
	CreatedAt   time.Time
}

func (resultRow) TableName() string { return "webtest_results" }

// eventRow events 表模型，(task_id, seq) 唯一
type eventRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	TaskID    string `gorm:"size:64;uniqueIndex:idx_task_seq,priority:1"`
	Seq       int    `gorm:"uniqueIndex:idx_task_seq,priority:2"`
	Kind      string `gorm:"size:16"`
	Message   string `gorm:"type:text"`
	CreatedAt time.Time
}

func (eventRow) TableName() string { return "webtest_events" }

// analysisRow 最新分析结果，重复分析覆盖
type analysisRow struct {
	TaskID      string `gorm:"primaryKey;size:64"`
	Method      string `gorm:"size:16"`
	PayloadJSON []byte `gorm:"column:payload_json;type:jsonb"`
	UpdatedAt   time.Time
}

func (analysisRow) TableName() string { return "webtest_analyses" }

// Gorm 持久化存储。进程重启后 queued/running 记录仍在库中，
// 但不会被重新调度；Recover 将其标记为 failed 并注明原因。
type Gorm struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGorm 创建 GORM 存储并确保表结构
func NewGorm(db *gorm.DB, logger *zap.Logger) (*Gorm, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&taskRow{}, &resultRow{}, &eventRow{}, &analysisRow{}); err != nil {
		return nil, err
	}
	return &Gorm{
		db:     db,
		logger: logger.With(zap.String("component", "gorm_store")),
	}, nil
}

// Create 插入 queued 记录
func (g *Gorm) Create(ctx context.Context, config types.TestConfig) (string, error) {
	taskID := "task_" + uuid.NewString()

	cfgJSON, err := json.Marshal(config)
	if err != nil {
		return "", types.NewError(types.ErrInternalError, "marshal config").WithCause(err)
	}

	row := taskRow{
		ID:         taskID,
		Status:     string(types.StatusQueued),
		CreatedAt:  time.Now(),
		ConfigJSON: cfgJSON,
	}
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", types.NewError(types.ErrInternalError, "insert task").WithCause(err)
	}
	return taskID, nil
}

// Get 返回任务记录
func (g *Gorm) Get(ctx context.Context, taskID string) (*types.TaskRecord, error) {
	var row taskRow
	err := g.db.WithContext(ctx).First(&row, "id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTaskNotFound(taskID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "query task").WithCause(err)
	}
	return rowToRecord(&row)
}

func rowToRecord(row *taskRow) (*types.TaskRecord, error) {
	var config types.TestConfig
	if len(row.ConfigJSON) > 0 {
		if err := json.Unmarshal(row.ConfigJSON, &config); err != nil {
			return nil, types.NewError(types.ErrInternalError, "unmarshal config").WithCause(err)
		}
	}
	return &types.TaskRecord{
		ID:         row.ID,
		Status:     types.TaskStatus(row.Status),
		CreatedAt:  row.CreatedAt,
		StartedAt:  row.StartedAt,
		FinishedAt: row.FinishedAt,
		Error:      row.Error,
		Config:     config,
	}, nil
}

// List 按创建时间倒序返回摘要
func (g *Gorm) List(ctx context.Context) ([]types.TaskSummary, error) {
	var rows []taskRow
	if err := g.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrInternalError, "list tasks").WithCause(err)
	}

	summaries := make([]types.TaskSummary, 0, len(rows))
	for i := range rows {
		rec, err := rowToRecord(&rows[i])
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, types.TaskSummary{
			ID:         rec.ID,
			Status:     rec.Status,
			TargetURL:  rec.Config.TargetURL,
			CreatedAt:  rec.CreatedAt,
			FinishedAt: rec.FinishedAt,
		})
	}
	return summaries, nil
}

// Result 返回执行结果，未完成时 NOT_READY
func (g *Gorm) Result(ctx context.Context, taskID string) (*types.ExecutionResult, error) {
	rec, err := g.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if rec.Status != types.StatusCompleted {
		return nil, ErrResultNotReady(taskID, rec.Status)
	}

	var row resultRow
	err = g.db.WithContext(ctx).First(&row, "task_id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrResultNotReady(taskID, rec.Status)
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "query result").WithCause(err)
	}

	var result types.ExecutionResult
	if err := json.Unmarshal(row.PayloadJSON, &result); err != nil {
		return nil, types.NewError(types.ErrInternalError, "unmarshal result").WithCause(err)
	}
	return &result, nil
}

// transition 条件 UPDATE 实现原子状态转换：WHERE 限定当前状态，
// RowsAffected == 0 时区分“任务不存在”与“非法转换”。
func (g *Gorm) transition(ctx context.Context, taskID string, from, to types.TaskStatus, updates map[string]any) error {
	updates["status"] = string(to)

	tx := g.db.WithContext(ctx).Model(&taskRow{}).
		Where("id = ? AND status = ?", taskID, string(from)).
		Updates(updates)
	if tx.Error != nil {
		return types.NewError(types.ErrInternalError, "update task status").WithCause(tx.Error)
	}
	if tx.RowsAffected == 0 {
		rec, err := g.Get(ctx, taskID)
		if err != nil {
			return err
		}
		return ErrInvalidTransition(taskID, rec.Status, to)
	}
	return nil
}

// SetRunning queued → running
func (g *Gorm) SetRunning(ctx context.Context, taskID string) error {
	now := time.Now()
	return g.transition(ctx, taskID, types.StatusQueued, types.StatusRunning, map[string]any{
		"started_at": &now,
	})
}

// SetCompleted running → completed，结果与状态在同一事务内落库
func (g *Gorm) SetCompleted(ctx context.Context, taskID string, result *types.ExecutionResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return types.NewError(types.ErrInternalError, "marshal result").WithCause(err)
	}

	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s := &Gorm{db: tx, logger: g.logger}
		now := time.Now()
		if err := s.transition(ctx, taskID, types.StatusRunning, types.StatusCompleted, map[string]any{
			"finished_at": &now,
		}); err != nil {
			return err
		}
		return tx.Create(&resultRow{
			TaskID:      taskID,
			PayloadJSON: payload,
			CreatedAt:   now,
		}).Error
	})
}

// SetFailed running → failed
func (g *Gorm) SetFailed(ctx context.Context, taskID string, errMsg string) error {
	now := time.Now()
	return g.transition(ctx, taskID, types.StatusRunning, types.StatusFailed, map[string]any{
		"finished_at": &now,
		"error":       errMsg,
	})
}

// AppendEvent 在事务内分配任务级递增 Seq
func (g *Gorm) AppendEvent(ctx context.Context, event types.TaskEvent) (types.TaskEvent, error) {
	if _, err := g.Get(ctx, event.TaskID); err != nil {
		return types.TaskEvent{}, err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		if err := tx.Model(&eventRow{}).
			Where("task_id = ?", event.TaskID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}
		event.Seq = int(maxSeq) + 1
		return tx.Create(&eventRow{
			TaskID:    event.TaskID,
			Seq:       event.Seq,
			Kind:      string(event.Kind),
			Message:   event.Message,
			CreatedAt: event.Timestamp,
		}).Error
	})
	if err != nil {
		return types.TaskEvent{}, types.NewError(types.ErrInternalError, "append event").WithCause(err)
	}
	return event, nil
}

// Events 按 Seq 升序返回事件
func (g *Gorm) Events(ctx context.Context, taskID string) ([]types.TaskEvent, error) {
	if _, err := g.Get(ctx, taskID); err != nil {
		return nil, err
	}

	var rows []eventRow
	if err := g.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("seq ASC").
		Find(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrInternalError, "query events").WithCause(err)
	}

	events := make([]types.TaskEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, types.TaskEvent{
			TaskID:    row.TaskID,
			Seq:       row.Seq,
			Kind:      types.TaskEventKind(row.Kind),
			Message:   row.Message,
			Timestamp: row.CreatedAt,
		})
	}
	return events, nil
}

// SetAnalysis upsert 最新分析结果
func (g *Gorm) SetAnalysis(ctx context.Context, taskID string, analysis *types.AnalysisResult) error {
	if _, err := g.Get(ctx, taskID); err != nil {
		return err
	}
	payload, err := json.Marshal(analysis)
	if err != nil {
		return types.NewError(types.ErrInternalError, "marshal analysis").WithCause(err)
	}

	row := analysisRow{
		TaskID:      taskID,
		Method:      string(analysis.Method),
		PayloadJSON: payload,
		UpdatedAt:   time.Now(),
	}
	if err := g.db.WithContext(ctx).Save(&row).Error; err != nil {
		return types.NewError(types.ErrInternalError, "save analysis").WithCause(err)
	}
	return nil
}

// Analysis 返回最新分析结果
func (g *Gorm) Analysis(ctx context.Context, taskID string) (*types.AnalysisResult, error) {
	if _, err := g.Get(ctx, taskID); err != nil {
		return nil, err
	}

	var row analysisRow
	err := g.db.WithContext(ctx).First(&row, "task_id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAnalysisNotFound(taskID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "query analysis").WithCause(err)
	}

	var analysis types.AnalysisResult
	if err := json.Unmarshal(row.PayloadJSON, &analysis); err != nil {
		return nil, types.NewError(types.ErrInternalError, "unmarshal analysis").WithCause(err)
	}
	return &analysis, nil
}

// Ping 数据库连通性检查
func (g *Gorm) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Recover 进程重启后将遗留的 queued/running 记录标记为 failed。
// 内存执行状态已丢失，无法续跑，这是有意为之的已知限制。
func (g *Gorm) Recover(ctx context.Context) (int64, error) {
	now := time.Now()
	tx := g.db.WithContext(ctx).Model(&taskRow{}).
		Where("status IN ?", []string{string(types.StatusQueued), string(types.StatusRunning)}).
		Updates(map[string]any{
			"status":      string(types.StatusFailed),
			"finished_at": &now,
			"error":       "interrupted by service restart",
		})
	if tx.Error != nil {
		return 0, types.NewError(types.ErrInternalError, "recover tasks").WithCause(tx.Error)
	}
	if tx.RowsAffected > 0 {
		g.logger.Warn("marked interrupted tasks as failed", zap.Int64("count", tx.RowsAffected))
	}
	return tx.RowsAffected, nil
}
