// Package migrations 内嵌 agent 注册表的 MySQL 迁移脚本。
package migrations

import "embed"

// Files 暴露所有 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS
