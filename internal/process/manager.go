package process

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	xerrors "AgentHub/internal/errors"
	"AgentHub/pkg/logger"

	gops "github.com/shirou/gopsutil/process"
)

const stderrTail = 4096

// Spec 描述待启动的子进程。
type Spec struct {
	ID      string
	Command string
	Args    []string
	Dir     string
	Env     []string
	LogDir  string
}

// Handle 是已启动子进程的句柄。
type Handle struct {
	PID        int
	StartedAt  time.Time
	StdoutPath string
	StderrPath string
}

// Options 控制启动观察与终止等待时长。
type Options struct {
	StartupWait time.Duration
	StopTimeout time.Duration
}

type child struct {
	cmd     *exec.Cmd
	handle  Handle
	done    chan struct{}
	exitErr error
	closers []io.Closer
}

func (c *child) exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Manager 管理由本进程拉起的 agent 子进程。
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	children map[int]*child
}

// NewManager 创建进程管理器。
func NewManager(opts Options) *Manager {
	if opts.StartupWait < 0 {
		opts.StartupWait = 0
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	return &Manager{
		opts:     opts,
		logger:   logger.Named("process"),
		children: make(map[int]*child),
	}
}

// Start 启动子进程并在 StartupWait 内观察其是否立即退出。
func (m *Manager) Start(ctx context.Context, spec Spec) (*Handle, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未指定 agent 启动命令")
	}
	logDir := spec.LogDir
	if logDir == "" {
		logDir = spec.Dir
	}
	if logDir == "" {
		logDir = os.TempDir()
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeProcessFailure, err, "创建日志目录失败")
	}

	name := spec.ID
	if name == "" {
		name = "agent"
	}
	stdoutPath := filepath.Join(logDir, fmt.Sprintf("agent_%s.out.log", name))
	stderrPath := filepath.Join(logDir, fmt.Sprintf("agent_%s.err.log", name))
	stdout, err := os.OpenFile(stdoutPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeProcessFailure, err, "创建日志文件失败")
	}
	stderr, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		stdout.Close()
		return nil, xerrors.Wrap(xerrors.CodeProcessFailure, err, "创建日志文件失败")
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, xerrors.Wrap(xerrors.CodeProcessFailure, err, "Agent failed to start")
	}

	c := &child{
		cmd: cmd,
		handle: Handle{
			PID:        cmd.Process.Pid,
			StartedAt:  time.Now(),
			StdoutPath: stdoutPath,
			StderrPath: stderrPath,
		},
		done:    make(chan struct{}),
		closers: []io.Closer{stdout, stderr},
	}
	m.mu.Lock()
	m.children[c.handle.PID] = c
	m.mu.Unlock()
	go m.reap(c)

	m.logger.Info("agent process spawned", "agent_id", spec.ID, "pid", c.handle.PID, "command", spec.Command)

	if m.opts.StartupWait > 0 {
		timer := time.NewTimer(m.opts.StartupWait)
		defer timer.Stop()
		select {
		case <-c.done:
		case <-timer.C:
		case <-ctx.Done():
			_ = m.Stop(context.Background(), c.handle.PID)
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "启动 agent 被取消")
		}
	}
	if c.exited() {
		detail := strings.TrimSpace(tail(stderrPath, stderrTail))
		if detail == "" && c.exitErr != nil {
			detail = c.exitErr.Error()
		}
		m.logger.Warn("agent process exited during startup", "agent_id", spec.ID, "pid", c.handle.PID, "stderr", detail)
		return nil, xerrors.New(xerrors.CodeProcessFailure, fmt.Sprintf("Agent failed to start: %s", detail))
	}

	handle := c.handle
	return &handle, nil
}

func (m *Manager) reap(c *child) {
	err := c.cmd.Wait()
	for _, closer := range c.closers {
		_ = closer.Close()
	}
	m.mu.Lock()
	c.exitErr = err
	m.mu.Unlock()
	close(c.done)
	m.logger.Info("agent process exited", "pid", c.handle.PID, "error", err)
}

func (m *Manager) lookup(pid int) (*child, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.children[pid]
	return c, ok
}

// IsRunning 判断 pid 对应的进程当前是否存在。
func (m *Manager) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	if c, ok := m.lookup(pid); ok {
		return !c.exited()
	}
	exists, err := gops.PidExists(int32(pid))
	return err == nil && exists
}

// Stop 发送终止信号并等待进程退出，超时返回 TIMEOUT 且不再重试。
func (m *Manager) Stop(ctx context.Context, pid int) error {
	if !m.IsRunning(pid) {
		m.forget(pid)
		return nil
	}
	proc, err := gops.NewProcess(int32(pid))
	if err != nil {
		if !m.IsRunning(pid) {
			m.forget(pid)
			return nil
		}
		return xerrors.Wrap(xerrors.CodeProcessFailure, err, "查找 agent 进程失败")
	}
	if err := proc.Terminate(); err != nil && m.IsRunning(pid) {
		return xerrors.Wrap(xerrors.CodeProcessFailure, err, "终止 agent 进程失败")
	}

	waitCtx, cancel := context.WithTimeout(ctx, m.opts.StopTimeout)
	defer cancel()

	if c, ok := m.lookup(pid); ok {
		select {
		case <-c.done:
			m.forget(pid)
			return nil
		case <-waitCtx.Done():
			m.logger.Warn("agent process did not exit in time", "pid", pid)
			return xerrors.New(xerrors.CodeTimeout, fmt.Sprintf("Agent process %d did not exit within %s", pid, m.opts.StopTimeout))
		}
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !m.IsRunning(pid) {
			return nil
		}
		select {
		case <-waitCtx.Done():
			m.logger.Warn("agent process did not exit in time", "pid", pid)
			return xerrors.New(xerrors.CodeTimeout, fmt.Sprintf("Agent process %d did not exit within %s", pid, m.opts.StopTimeout))
		case <-ticker.C:
		}
	}
}

// Uptime 返回进程已运行的时长。
func (m *Manager) Uptime(pid int) (time.Duration, bool) {
	if !m.IsRunning(pid) {
		return 0, false
	}
	if c, ok := m.lookup(pid); ok {
		return time.Since(c.handle.StartedAt), true
	}
	proc, err := gops.NewProcess(int32(pid))
	if err != nil {
		return 0, false
	}
	created, err := proc.CreateTime()
	if err != nil {
		return 0, false
	}
	return time.Since(time.UnixMilli(created)), true
}

func (m *Manager) forget(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.children[pid]; ok && c.exited() {
		delete(m.children, pid)
	}
}

func tail(path string, n int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return ""
	}
	offset := info.Size() - n
	if offset < 0 {
		offset = 0
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return ""
	}
	return string(buf)
}
