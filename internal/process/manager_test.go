package process

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	xerrors "AgentHub/internal/errors"
)

func shell(t *testing.T, id, script string) Spec {
	t.Helper()
	return Spec{ID: id, Command: "/bin/sh", Args: []string{"-c", script}, LogDir: t.TempDir()}
}

func TestStartAndStop(t *testing.T) {
	mgr := NewManager(Options{StartupWait: 100 * time.Millisecond, StopTimeout: 2 * time.Second})
	handle, err := mgr.Start(context.Background(), shell(t, "sleeper", "echo ready; sleep 30"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !mgr.IsRunning(handle.PID) {
		t.Fatal("expected child to be running")
	}
	if up, ok := mgr.Uptime(handle.PID); !ok || up <= 0 {
		t.Fatalf("unexpected uptime %v %v", up, ok)
	}

	if err := mgr.Stop(context.Background(), handle.PID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if mgr.IsRunning(handle.PID) {
		t.Fatal("expected child to be stopped")
	}
	if _, ok := mgr.Uptime(handle.PID); ok {
		t.Fatal("stopped child should have no uptime")
	}
	if err := mgr.Stop(context.Background(), handle.PID); err != nil {
		t.Fatalf("second stop should be a no-op: %v", err)
	}

	out, err := os.ReadFile(handle.StdoutPath)
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	if strings.TrimSpace(string(out)) != "ready" {
		t.Fatalf("unexpected stdout %q", out)
	}
}

func TestStartReportsEarlyExit(t *testing.T) {
	mgr := NewManager(Options{StartupWait: 500 * time.Millisecond})
	_, err := mgr.Start(context.Background(), shell(t, "broken", "echo 'port already in use' >&2; exit 3"))
	if err == nil {
		t.Fatal("expected start failure")
	}
	if xerrors.CodeOf(err) != xerrors.CodeProcessFailure {
		t.Fatalf("unexpected code %s", xerrors.CodeOf(err))
	}
	if got := xerrors.MessageOf(err); got != "Agent failed to start: port already in use" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestStartRejectsMissingCommand(t *testing.T) {
	mgr := NewManager(Options{})
	if _, err := mgr.Start(context.Background(), Spec{ID: "x"}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := mgr.Start(context.Background(), Spec{ID: "x", Command: "/nonexistent/agent", LogDir: t.TempDir()}); xerrors.CodeOf(err) != xerrors.CodeProcessFailure {
		t.Fatalf("expected process failure, got %v", err)
	}
}

func TestStopTimeout(t *testing.T) {
	mgr := NewManager(Options{StartupWait: 100 * time.Millisecond, StopTimeout: 200 * time.Millisecond})
	handle, err := mgr.Start(context.Background(), shell(t, "stubborn", "trap '' TERM; while true; do sleep 1; done"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		if proc, err := os.FindProcess(handle.PID); err == nil {
			_ = proc.Kill()
		}
	})

	err = mgr.Stop(context.Background(), handle.PID)
	if xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !mgr.IsRunning(handle.PID) {
		t.Fatal("process should still be reported as running")
	}
}

func TestIsRunningForForeignPIDs(t *testing.T) {
	mgr := NewManager(Options{})
	if mgr.IsRunning(0) || mgr.IsRunning(-1) {
		t.Fatal("non-positive pids are never running")
	}
	if !mgr.IsRunning(os.Getpid()) {
		t.Fatal("current process should be reported as running")
	}
	if up, ok := mgr.Uptime(os.Getpid()); !ok || up < 0 {
		t.Fatalf("unexpected uptime for self %v %v", up, ok)
	}
}
