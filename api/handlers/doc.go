// 版权所有 2024 WebTest Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 handlers 提供任务生命周期的 HTTP 处理器。

每个处理器都是对 Store / Executor / Analyzer 调用的无状态翻译：
输入验证之外不含业务逻辑，错误统一经 types.Error 映射为 JSON
响应（未知任务 404，结果未就绪 409，配置无效 400）。截图文件
服务拒绝任何路径穿越；任务事件另有 WebSocket 实时流。
*/
package handlers
