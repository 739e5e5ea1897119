// 版权所有 2024 WebTest Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的缓存管理，服务于分析结果缓存。

缓存是尽力而为的加速层：redis 不可用或未配置时，analyzer
直接读写存储并重新计算，功能不受影响。
*/
package cache
