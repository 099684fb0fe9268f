// Package api 暴露 agent 管理平面的 HTTP 接口：agent 生命周期、能力查询、
// 对话与 REST 转发、文档与工具调用以及钱包/ENS 查询。
package api
