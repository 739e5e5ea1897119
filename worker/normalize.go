package worker

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BaSui01/webtest/agent"
	"github.com/BaSui01/webtest/types"
)

// =============================================================================
// 🧹 轨迹规范化
// =============================================================================

// NormalizeSteps 把协作方原始步骤转成规范化结果步骤：
// 按上报顺序从 1 起严格递增编号，缺失的 action/result 用显式占位值，
// 缺失的时间戳用规范化时刻补齐。
func NormalizeSteps(raw []agent.TraceStep, now func() time.Time) []types.ExecutionStep {
	steps := make([]types.ExecutionStep, 0, len(raw))
	for i, rs := range raw {
		step := types.ExecutionStep{
			StepNumber:    i + 1,
			Action:        coerce(rs.Action),
			Result:        coerce(rs.Result),
			Timestamp:     rs.Timestamp,
			ScreenshotRef: rs.Screenshot,
		}
		if step.Timestamp.IsZero() {
			step.Timestamp = now()
		}
		steps = append(steps, step)
	}
	return steps
}

// coerce 空白文本替换为显式占位值，不让空串或 null 流入结果
func coerce(s string) string {
	if strings.TrimSpace(s) == "" {
		return types.EmptyMarker
	}
	return s
}

// VerifyScreenshots 核验截图文件确实存在于 <dir>/<taskID>/ 下。
// 缺失的引用从结果中静默剔除（onMissing 回调负责记录），
// 同时清掉步骤里指向缺失文件的 ScreenshotRef。
func VerifyScreenshots(dir, taskID string, names []string, steps []types.ExecutionStep, onMissing func(name string)) []string {
	verified := make([]string, 0, len(names))
	missing := make(map[string]bool)

	for _, name := range names {
		if name == "" || name != filepath.Base(name) {
			missing[name] = true
			if onMissing != nil {
				onMissing(name)
			}
			continue
		}
		path := filepath.Join(dir, taskID, name)
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			missing[name] = true
			if onMissing != nil {
				onMissing(name)
			}
			continue
		}
		verified = append(verified, name)
	}

	for i := range steps {
		if steps[i].ScreenshotRef != "" && missing[steps[i].ScreenshotRef] {
			steps[i].ScreenshotRef = ""
		}
	}
	return verified
}

// NavigationSucceeded 判断轨迹中是否有一步成功打开了目标页面。
// 协作方没有结构化的导航标记，只能从步骤文本探测。
func NavigationSucceeded(steps []types.ExecutionStep, targetURL string) bool {
	for _, step := range steps {
		action := strings.ToLower(step.Action)
		isNav := strings.Contains(action, "navigate") ||
			strings.Contains(action, "goto") ||
			strings.Contains(action, "open") ||
			(targetURL != "" && strings.Contains(step.Action, targetURL))
		if !isNav {
			continue
		}
		result := strings.ToLower(step.Result)
		if strings.Contains(result, "fail") ||
			strings.Contains(result, "error") ||
			strings.Contains(result, "timeout") {
			continue
		}
		return true
	}
	return false
}
