package migrations

import "embed"

// Files 暴露路由任务与路由决策表的 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS
