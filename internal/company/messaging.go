package company

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/events"
	"AgentHub/internal/observability/metrics"
	"AgentHub/internal/registry"
)

// Discover 按能力（忽略大小写）查找公司 agent，可按公司过滤。
func (s *Service) Discover(ctx context.Context, req DiscoverRequest) (DiscoverResponse, error) {
	if strings.TrimSpace(req.Capability) == "" {
		return DiscoverResponse{}, xerrors.New(xerrors.CodeInvalidArgument, "capability is required")
	}
	records, err := s.List(ctx, registry.KindCompany)
	if err != nil {
		return DiscoverResponse{}, err
	}
	matches := make([]registry.Record, 0)
	for _, r := range records {
		if req.CompanyID != "" && r.CompanyID != req.CompanyID {
			continue
		}
		for _, c := range r.Capabilities {
			if strings.EqualFold(c, req.Capability) {
				matches = append(matches, r)
				break
			}
		}
	}
	return DiscoverResponse{Agents: matches, TotalFound: len(matches)}, nil
}

type restRequest struct {
	Text            string         `json:"text"`
	SenderCompanyID string         `json:"sender_company_id,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

type restResponse struct {
	Text   string `json:"text"`
	Status string `json:"status"`
}

// SendMessage 把消息转发给运行中的 agent；agent 不可达时返回确认回执。
func (s *Service) SendMessage(ctx context.Context, req MessageRequest) (MessageResponse, error) {
	record, err := s.lookup(ctx, "", req.AgentID)
	if err != nil {
		return MessageResponse{}, err
	}
	record = s.refresh(ctx, record)

	reply := fmt.Sprintf("Message received by %s: %s", record.DisplayName(), req.Message)
	if record.Status == registry.StatusRunning {
		if text, err := s.forward(ctx, record, req); err == nil {
			reply = text
		} else {
			s.logger.Warn("forward message to agent failed, falling back to acknowledgement",
				"agent_id", record.AgentID, "error", err)
		}
	}

	events.Emit(ctx, s.events, events.New(events.TypeMessageSent, record.AgentID, record.CompanyID,
		map[string]string{"sender_company_id": req.SenderCompanyID}))
	return MessageResponse{
		AgentID:   record.AgentID,
		Response:  reply,
		Timestamp: s.now().Format(time.RFC3339Nano),
		Status:    "delivered",
	}, nil
}

func (s *Service) forward(ctx context.Context, record registry.Record, req MessageRequest) (string, error) {
	body, err := json.Marshal(restRequest{Text: req.Message, SenderCompanyID: req.SenderCompanyID, Metadata: req.Metadata})
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.AgentURL(record, "/rest/post"), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(httpReq)
	if err != nil {
		metrics.ProxyRequests.WithLabelValues("rest_post", "error").Inc()
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		metrics.ProxyRequests.WithLabelValues("rest_post", "error").Inc()
		return "", fmt.Errorf("agent returned status %d", resp.StatusCode)
	}
	var out restResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		metrics.ProxyRequests.WithLabelValues("rest_post", "error").Inc()
		return "", err
	}
	metrics.ProxyRequests.WithLabelValues("rest_post", "ok").Inc()
	if out.Status == "error" {
		return "", fmt.Errorf("agent error: %s", out.Text)
	}
	return out.Text, nil
}

// AgentURL 返回 agent 子进程上某个路径的地址。
func (s *Service) AgentURL(record registry.Record, path string) string {
	host := s.agents.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(record.Port)) + path
}

// Health 汇总某类 agent 的运行状态；active_agents 为进程仍存在的记录数。
func (s *Service) Health(ctx context.Context, kind string) (Health, error) {
	records, err := s.store.List(ctx)
	if err != nil {
		return Health{}, err
	}
	report := Health{Status: "healthy", Agents: make([]AgentStatus, 0)}
	for _, r := range records {
		if kind != "" && r.Kind != kind {
			continue
		}
		report.TotalAgents++
		status := AgentStatus{
			AgentID:      r.AgentID,
			Name:         r.Name,
			CompanyID:    r.CompanyID,
			CompanyName:  r.CompanyName,
			AgentName:    r.AgentName,
			Status:       registry.StatusStopped,
			Port:         r.Port,
			Address:      r.Address,
			ProcessID:    r.ProcessID,
			Capabilities: r.Capabilities,
		}
		if pid := r.PID(); pid > 0 && s.procs.IsRunning(pid) {
			status.Status = registry.StatusRunning
			report.ActiveAgents++
			if up, ok := s.procs.Uptime(pid); ok {
				v := fmt.Sprintf("%ds", int(up.Seconds()))
				status.Uptime = &v
			} else {
				v := "unknown"
				status.Uptime = &v
			}
		}
		report.Agents = append(report.Agents, status)
	}
	return report, nil
}

// ReceiveWebhook 记录 agent 回调并返回确认。
func (s *Service) ReceiveWebhook(ctx context.Context, agentID string, payload map[string]any) map[string]any {
	message, _ := payload["response"].(string)
	if message == "" {
		message, _ = payload["message"].(string)
	}
	sender, _ := payload["sender_company_id"].(string)
	companyID, _ := payload["company_id"].(string)

	events.Emit(ctx, s.events, events.New(events.TypeWebhookReceived, agentID, companyID, map[string]string{
		"sender_company_id": sender,
	}))
	s.logger.Info("agent webhook received", "agent_id", agentID, "sender_company_id", sender)
	return map[string]any{
		"status":            "received",
		"agent_id":          agentID,
		"timestamp":         s.now().Format(time.RFC3339Nano),
		"message":           message,
		"sender_company_id": sender,
	}
}
