// Package redis 将 agent 注册表保存在 Redis 哈希中，字段为 agent_id，值为记录的 JSON。
package redis
