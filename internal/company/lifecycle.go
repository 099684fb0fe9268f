package company

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"AgentHub/internal/codegen"
	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/events"
	"AgentHub/internal/observability/metrics"
	"AgentHub/internal/registry"
	"AgentHub/pkg/logger"
)

func notFound(kind string) error {
	if kind == registry.KindCompany {
		return xerrors.New(xerrors.CodeNotFound, "Company agent not found")
	}
	return xerrors.New(xerrors.CodeNotFound, "Agent not found")
}

func noun(kind string) string {
	if kind == registry.KindCompany {
		return "Company agent"
	}
	return "Agent"
}

// lookup 读取指定类型的记录，类型不符视为不存在。
func (s *Service) lookup(ctx context.Context, kind, id string) (registry.Record, error) {
	record, err := s.store.Get(ctx, id)
	if errors.Is(err, registry.ErrNotFound) {
		return registry.Record{}, notFound(kind)
	}
	if err != nil {
		return registry.Record{}, err
	}
	if kind != "" && record.Kind != kind {
		return registry.Record{}, notFound(kind)
	}
	return record, nil
}

// refresh 根据 pid 是否存在更新状态，并读回子进程写入的地址。
func (s *Service) refresh(ctx context.Context, record registry.Record) registry.Record {
	changed := false
	if pid := record.PID(); pid > 0 {
		status := registry.StatusStopped
		if s.procs.IsRunning(pid) {
			status = registry.StatusRunning
		}
		if status != record.Status {
			record.Status = status
			changed = true
		}
	}
	if record.FilePath != "" {
		if addr, ok := codegen.ReadAddress(record.FilePath); ok && addr != record.Address {
			record.Address = addr
			changed = true
		}
	}
	if changed {
		if err := s.store.Put(ctx, record); err != nil {
			s.logger.Warn("persist refreshed agent failed", "agent_id", record.AgentID, "error", err)
		}
	}
	return record
}

// List 返回指定类型的全部 agent，kind 为空时返回所有类型。
func (s *Service) List(ctx context.Context, kind string) ([]registry.Record, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]registry.Record, 0, len(records))
	running, stopped := 0, 0
	for _, r := range records {
		r = s.refresh(ctx, r)
		if r.Status == registry.StatusRunning {
			running++
		} else {
			stopped++
		}
		if kind != "" && r.Kind != kind {
			continue
		}
		out = append(out, r)
	}
	metrics.SetAgentCounts(running, stopped)
	return out, nil
}

// Get 返回单个 agent。
func (s *Service) Get(ctx context.Context, kind, id string) (registry.Record, error) {
	record, err := s.lookup(ctx, kind, id)
	if err != nil {
		return registry.Record{}, err
	}
	return s.refresh(ctx, record), nil
}

// ListByCompany 返回某公司的全部公司 agent。
func (s *Service) ListByCompany(ctx context.Context, companyID string) ([]registry.Record, error) {
	records, err := s.List(ctx, registry.KindCompany)
	if err != nil {
		return nil, err
	}
	out := make([]registry.Record, 0)
	for _, r := range records {
		if r.CompanyID == companyID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Delete 停止进程、删除 manifest 与地址文件并移除记录。
func (s *Service) Delete(ctx context.Context, kind, id string) (map[string]string, error) {
	record, err := s.lookup(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if pid := record.PID(); pid > 0 && s.procs.IsRunning(pid) {
		if err := s.procs.Stop(ctx, pid); err != nil {
			s.logger.Warn("stop agent during delete failed", "agent_id", id, "pid", pid, "error", err)
		}
	}
	if err := codegen.Remove(record.FilePath); err != nil {
		s.logger.Warn("remove agent manifest failed", "agent_id", id, "error", err)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, notFound(kind)
		}
		return nil, err
	}

	metrics.AgentLifecycle.WithLabelValues("deleted").Inc()
	logger.Audit().Info("agent deleted", slog.String("agent_id", id), slog.String("kind", record.Kind))
	events.Emit(ctx, s.events, events.New(events.TypeAgentDeleted, id, record.CompanyID, nil))
	return map[string]string{"message": fmt.Sprintf("%s %s deleted successfully", noun(kind), id)}, nil
}

// Start 重新拉起已停止的 agent。
func (s *Service) Start(ctx context.Context, kind, id string) (map[string]string, error) {
	record, err := s.lookup(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if pid := record.PID(); pid > 0 && s.procs.IsRunning(pid) {
		return nil, xerrors.New(xerrors.CodeFailedPrecondition, "Agent is already running")
	}
	handle, err := s.spawn(ctx, record)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeProcessFailure {
			return nil, xerrors.Wrap(xerrors.CodeProcessFailure, err, "Failed to start agent")
		}
		return nil, err
	}
	record.SetPID(handle.PID)
	record.Status = registry.StatusRunning
	if err := s.store.Put(ctx, record); err != nil {
		return nil, err
	}

	metrics.AgentLifecycle.WithLabelValues("started").Inc()
	logger.Audit().Info("agent started", slog.String("agent_id", id), slog.Int("pid", handle.PID))
	events.Emit(ctx, s.events, events.New(events.TypeAgentStarted, id, record.CompanyID, nil))
	return map[string]string{"message": fmt.Sprintf("Agent %s started successfully", id)}, nil
}

// Stop 终止运行中的 agent 并清除进程号。
func (s *Service) Stop(ctx context.Context, kind, id string) (map[string]string, error) {
	record, err := s.lookup(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	pid := record.PID()
	if pid <= 0 || !s.procs.IsRunning(pid) {
		return nil, xerrors.New(xerrors.CodeFailedPrecondition, "Agent is not running")
	}
	if err := s.procs.Stop(ctx, pid); err != nil {
		return nil, err
	}
	record.Status = registry.StatusStopped
	record.SetPID(0)
	if err := s.store.Put(ctx, record); err != nil {
		return nil, err
	}

	metrics.AgentLifecycle.WithLabelValues("stopped").Inc()
	logger.Audit().Info("agent stopped", slog.String("agent_id", id), slog.Int("pid", pid))
	events.Emit(ctx, s.events, events.New(events.TypeAgentStopped, id, record.CompanyID, nil))
	return map[string]string{"message": fmt.Sprintf("Agent %s stopped successfully", id)}, nil
}

// Reconcile 在服务启动时校正持久化记录的状态，已不存在的进程标记为停止。
func (s *Service) Reconcile(ctx context.Context) error {
	records, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	for _, r := range records {
		pid := r.PID()
		if pid > 0 && s.procs.IsRunning(pid) {
			continue
		}
		if r.Status == registry.StatusStopped && pid == 0 {
			continue
		}
		r.Status = registry.StatusStopped
		r.SetPID(0)
		if err := s.store.Put(ctx, r); err != nil {
			return err
		}
		s.logger.Info("marked orphaned agent as stopped", "agent_id", r.AgentID, "pid", pid)
	}
	return nil
}
