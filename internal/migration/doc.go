// 版权所有 2024 WebTest Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 提供任务存储的数据库 Schema 迁移管理，支持
PostgreSQL、MySQL 与 SQLite 三种数据库，基于 golang-migrate 实现。

# 概述

本包通过 embed.FS 内嵌各数据库方言的 SQL 迁移文件（任务表、
结果表、事件表与分析表），结合 golang-migrate 引擎实现版本化的
Schema 变更管理。支持正向迁移、回滚、跳转到指定版本以及强制
设置版本号等操作。

# 核心接口与类型

  - Migrator：迁移器接口，定义 Up/Down/DownAll/Goto/Force/
    Version/Status/Info/Close 操作集。
  - SchemaMigrator：Migrator 的实现，封装 golang-migrate 实例
    与数据库连接管理。
  - Config：迁移配置，包含数据库类型、连接 URL、迁移表名与锁超时。
  - CLI：命令行交互层，供 webtest migrate 子命令调用。

工厂函数 NewMigratorFromConfig / NewMigratorFromDatabaseConfig /
NewMigratorFromURL 支持从不同配置源创建迁移器。
*/
package migration
