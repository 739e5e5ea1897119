// 版权所有 2024 WebTest Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 analyzer 对已完成任务的执行结果生成分析报告。

分析流程：结构化合规检查（目标页面访问探测、截图配额、建议）→
提示词构建（步骤轨迹按 tiktoken 预算截断）→ LLM 调用 → 输出分类。

分类采用已知坏签名策略：对象字符串化前缀（Run(id= / PlanRun(id= /
<）、LocalDataValue 泄漏、空值字面量、过短文本。命中即降级为本地
合成摘要并标记 method=fallback；LLM 调用本身失败标记
method=error_recovery。调用方通过 method 字段区分可信与降级输出，
上游故障从不作为错误透传给 HTTP 调用方。
*/
package analyzer
