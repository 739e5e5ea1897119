// 版权所有 2024 WebTest Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 worker 驱动测试任务的异步执行。

Executor.Submit 创建任务记录后立即返回，每个任务由独立 goroutine
执行，semaphore.Weighted 限制并发。执行流程：queued → running →
调用协作方 → 轨迹规范化（步骤编号、占位值、截图核验）→ 恰好一次
SetCompleted 或 SetFailed。

协作方自报的失败记入结果（completed + success=false），传输层故障
与 panic 把任务转入 failed。同一任务不重试。
*/
package worker
