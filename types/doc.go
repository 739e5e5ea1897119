// 版权所有 2024 WebTest Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 types 定义网页测试服务的共享数据模型与统一错误类型。

# 数据模型

  - TestConfig：一次测试任务的提交配置（目标 URL、任务描述、截图指令），
    提交后不可变
  - TaskRecord：任务生命周期记录，queued → running → completed/failed，
    终态不再变更
  - ExecutionResult / ExecutionStep：执行 Worker 完成时写入的规范化结果，
    步骤号在结果内从 1 起严格递增
  - AnalysisResult：对执行结果的分析产物，method 字段标识
    primary / fallback / error_recovery 来源路径
  - TaskEvent：执行期间协作方上报的进度事件流

# 错误处理

Error 携带统一错误码（VALIDATION / NOT_FOUND / NOT_READY /
AUTOMATION_FAILURE 等）、HTTP 状态与可重试标记，api/handlers
据此映射 HTTP 响应。外部协作方的故障在 worker 与 analyzer
内部就地转换，不会以未处理异常的形式越过 HTTP 边界。
*/
package types
