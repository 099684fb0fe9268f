// Package process 负责 agent 子进程的启动、存活探测、终止与运行时长统计。
//
// 由本进程拉起的子进程会在后台被回收，因此已退出的子进程不会以僵尸进程的形式
// 被误判为存活；其余 pid（例如服务重启前留下的进程）通过 gopsutil 查询操作系统。
package process
