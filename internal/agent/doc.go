// Package agent 是单个支持 agent 子进程的运行时：读取 manifest，
// 组装大模型客户端与工具执行器，对外提供 REST、OpenAI 兼容对话与健康检查接口。
package agent
