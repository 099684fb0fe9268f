// Package codegen 将 agent 配置渲染为 YAML manifest 并落盘，agent 运行时通过
// `agenthubd agent --manifest` 读取同一份文件启动。
package codegen
