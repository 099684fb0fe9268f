// Package mysql 将 agent 注册表持久化到 MySQL：每条记录以 JSON 文档保存，
// 同时冗余端口、状态与公司等列用于查询。表结构由内嵌迁移脚本维护。
package mysql
