package analyzer

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/BaSui01/webtest/types"
)

// =============================================================================
// ✍️ 分析提示词构建
// =============================================================================

// maxDescriptionChars 任务描述在提示词中的截断长度
const maxDescriptionChars = 200

// PromptBuilder 构建分析提示词，步骤轨迹按 token 预算截断。
// tiktoken 编码懒加载，加载失败时退化为按字符估算。
type PromptBuilder struct {
	budget  int
	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewPromptBuilder 创建提示词构建器。budget 是整个提示词的 token 上限。
func NewPromptBuilder(budget int) *PromptBuilder {
	if budget <= 0 {
		budget = 6000
	}
	return &PromptBuilder{budget: budget}
}

func (p *PromptBuilder) init() error {
	p.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			p.initErr = fmt.Errorf("init tiktoken encoding cl100k_base: %w", err)
			return
		}
		p.enc = enc
	})
	return p.initErr
}

// CountTokens 统计文本 token 数，编码不可用时按 4 字符/token 估算
func (p *PromptBuilder) CountTokens(text string) int {
	if err := p.init(); err != nil {
		return (len(text) + 3) / 4
	}
	return len(p.enc.Encode(text, nil, nil))
}

// truncateBytes 在 limit 字节内按 rune 边界截断，避免切出无效 UTF-8
func truncateBytes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// truncateToTokens 把文本截断到 max 个 token 以内
func (p *PromptBuilder) truncateToTokens(text string, max int) string {
	if max <= 0 {
		return ""
	}
	if err := p.init(); err != nil {
		return truncateBytes(text, max*4)
	}
	tokens := p.enc.Encode(text, nil, nil)
	if len(tokens) <= max {
		return text
	}
	return p.enc.Decode(tokens[:max]) + "\n... (step trace truncated)"
}

// Build 构建分析提示词，返回提示词与其 token 数
func (p *PromptBuilder) Build(config types.TestConfig, result *types.ExecutionResult, report *types.AnalysisReport) (string, int) {
	desc := config.TaskDescription
	if len(desc) > maxDescriptionChars {
		desc = truncateBytes(desc, maxDescriptionChars) + "..."
	}
	errText := result.Error
	if errText == "" {
		errText = types.EmptyMarker
	}

	var head strings.Builder
	head.WriteString("You are a website testing analysis expert. Analyze this browser automation test:\n\n")
	head.WriteString("TEST OVERVIEW:\n")
	fmt.Fprintf(&head, "- Target URL: %s\n", config.TargetURL)
	fmt.Fprintf(&head, "- Task: %s\n", desc)
	fmt.Fprintf(&head, "- Success: %t\n", result.Success)
	fmt.Fprintf(&head, "- Steps Completed: %d\n", len(result.Steps))
	fmt.Fprintf(&head, "- Screenshots Captured: %d\n", len(result.Screenshots))
	fmt.Fprintf(&head, "- Error: %s\n", errText)
	fmt.Fprintf(&head, "- Target URL Accessed: %t\n", report.Compliance.TargetURLAccessed)

	head.WriteString("\nKEY FINDINGS:\n")
	for i, rec := range report.Recommendations {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&head, "- %s\n", rec)
	}

	tail := "\nProvide a comprehensive analysis with:\n" +
		"1. **Executive Summary** (2-3 sentences)\n" +
		"2. **Key Findings** (bullet points)\n" +
		"3. **Recommendations** (actionable items)\n" +
		"4. **Compliance Status** (Pass/Fail assessment)\n\n" +
		"Keep response clear and actionable."

	// 步骤轨迹吃掉剩余预算
	var traceB strings.Builder
	traceB.WriteString("\nSTEP TRACE:\n")
	for _, step := range result.Steps {
		fmt.Fprintf(&traceB, "%d. %s -> %s\n", step.StepNumber, step.Action, step.Result)
	}

	fixed := p.CountTokens(head.String()) + p.CountTokens(tail)
	trace := p.truncateToTokens(traceB.String(), p.budget-fixed)

	prompt := head.String() + trace + tail
	return prompt, p.CountTokens(prompt)
}
