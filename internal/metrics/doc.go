// 版权所有 2024 WebTest Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、
任务执行、协作方调用、结果分析、缓存与数据库六个维度。

Collector 通过 promauto 工厂注册全部指标，registerer 由调用方
注入：服务进程使用默认 Registry，测试使用独立 Registry 避免
重复注册冲突。
*/
package metrics
