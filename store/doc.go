// 版权所有 2024 WebTest Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 store 提供任务记录、执行结果、事件流与分析结果的存储层。

# 实现

  - Memory：进程内存储，默认后端。按记录粒度加锁，读取返回深拷贝；
    实现 EventWatcher，支持事件的重放加实时订阅。重启后记录丢失。
  - Gorm：GORM 持久化存储（sqlite / postgres / mysql）。状态转换用
    条件 UPDATE 保证原子性，结果与状态在同一事务内落库；Recover
    在启动时把遗留的 queued/running 记录标记为 failed。

# 并发约定

HTTP 层任意并发读取；单个任务只有它的执行 Worker 一个写入方。
转换规则由存储层强制：queued → running → completed/failed，
终态记录拒绝一切后续转换并返回 INVALID_TRANSITION。
*/
package store
