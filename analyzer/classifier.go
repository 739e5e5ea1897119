package analyzer

import (
	"strings"
)

// =============================================================================
// 🔎 LLM 输出分类器
// =============================================================================

// minUsableLength 短于该长度的输出视为无效分析
const minUsableLength = 20

// badPrefixes 已知的对象字符串化前缀，表明上游把内部对象
// 而不是分析文本返回了出来
var badPrefixes = []string{
	"Run(id=",
	"PlanRun(id=",
	"<",
}

// badLiterals 空值的各种字面量形态
var badLiterals = map[string]bool{
	"None": true,
	"null": true,
	"{}":   true,
	"[]":   true,
	"set":  true,
}

// Classify 判断 LLM 原始输出是否可用。返回 false 时给出命中的签名，
// 调用方改用本地合成摘要（method=fallback）。
func Classify(raw string) (ok bool, reason string) {
	content := strings.TrimSpace(raw)

	if badLiterals[content] {
		return false, "literal empty value"
	}
	if len(content) < minUsableLength {
		return false, "content too short"
	}
	for _, prefix := range badPrefixes {
		if strings.HasPrefix(content, prefix) {
			return false, "object repr prefix " + strings.TrimSuffix(prefix, "(id=")
		}
	}
	if strings.Contains(content, "LocalDataValue") {
		return false, "wrapper object leaked"
	}
	if strings.Contains(content, "object at 0x") {
		return false, "memory address repr"
	}
	return true, ""
}
