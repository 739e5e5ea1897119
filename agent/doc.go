// 版权所有 2024 WebTest Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 agent 定义浏览器自动化协作方的调用边界。

Runner 是唯一的执行入口：输入任务配置，输出原始执行轨迹 RunTrace。
协作方自身报告的失败（元素找不到、页面超时等）通过 RunTrace.Failed
返回；Run 的 error 只表示传输层故障（超时、连接失败、上游 5xx），
并映射为 UPSTREAM_TIMEOUT / UPSTREAM_ERROR 错误码。

HTTPRunner 通过 REST + NDJSON 流对接外部自动化服务，流中的进度
事件实时转发给 Sink。StoreSink 把事件持久化为 TaskEvent，ZapSink
写结构化日志，MultiSink 做扇出。
*/
package agent
