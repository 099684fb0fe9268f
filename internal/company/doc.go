// Package company 管理 agent 的完整生命周期：端口分配、manifest 生成、
// 子进程拉起、注册表记录、状态刷新、消息转发与健康汇总。
//
// /agents 与 /company-agents 两类 agent 共享同一注册表与端口空间，
// 但各自只能看到自己类型的记录。
package company
