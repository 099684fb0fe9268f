package company

import (
	"context"
	"math"
	"strconv"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/events"
	"AgentHub/internal/registry"
	"AgentHub/internal/wallet"
)

// WalletBalance 是单个钱包的余额视图。
type WalletBalance struct {
	AgentID       string `json:"agent_id"`
	WalletAddress string `json:"wallet_address"`
	Balance       string `json:"balance"`
	NativeToken   string `json:"native_token"`
	Chain         string `json:"chain"`
	LastUpdated   string `json:"last_updated"`
}

// ENSRegistration 是钱包 ENS 登记状态。
type ENSRegistration struct {
	AgentID            string `json:"agent_id"`
	WalletAddress      string `json:"wallet_address"`
	ENSName            string `json:"ens_name"`
	RegistrationStatus string `json:"registration_status"`
	RegistrationNote   string `json:"registration_note,omitempty"`
}

// WalletStats 汇总钱包覆盖情况。
type WalletStats struct {
	TotalAgents              int            `json:"total_agents"`
	AgentsWithWallets        int            `json:"agents_with_wallets"`
	AgentsWithENS            int            `json:"agents_with_ens"`
	WalletCoveragePercentage float64        `json:"wallet_coverage_percentage"`
	ENSCoveragePercentage    float64        `json:"ens_coverage_percentage"`
	ChainsUsed               map[string]int `json:"chains_used"`
	EstimatedTotalBalanceETH float64        `json:"estimated_total_balance_eth"`
}

// ListWallets 返回所有公司 agent 的钱包。
func (s *Service) ListWallets(ctx context.Context) ([]*wallet.Record, error) {
	records, err := s.List(ctx, registry.KindCompany)
	if err != nil {
		return nil, err
	}
	out := make([]*wallet.Record, 0)
	for _, r := range records {
		if r.Wallet != nil {
			out = append(out, r.Wallet)
		}
	}
	return out, nil
}

func (s *Service) walletRecord(ctx context.Context, id string) (registry.Record, error) {
	record, err := s.lookup(ctx, registry.KindCompany, id)
	if err != nil {
		return registry.Record{}, err
	}
	if record.Wallet == nil {
		return registry.Record{}, xerrors.New(xerrors.CodeNotFound, "No wallet found for this agent")
	}
	return record, nil
}

// AgentWallet 返回单个 agent 的钱包。
func (s *Service) AgentWallet(ctx context.Context, id string) (*wallet.Record, error) {
	record, err := s.walletRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return record.Wallet, nil
}

// WalletBalance 刷新并持久化 agent 钱包余额。
func (s *Service) WalletBalance(ctx context.Context, id string) (WalletBalance, error) {
	record, err := s.walletRecord(ctx, id)
	if err != nil {
		return WalletBalance{}, err
	}
	if s.wallets == nil {
		return WalletBalance{}, xerrors.New(xerrors.CodeFailedPrecondition, "wallet service is not configured")
	}
	if err := s.wallets.RefreshBalance(ctx, record.Wallet); err != nil {
		return WalletBalance{}, xerrors.Wrap(xerrors.CodeOf(err), err, "Failed to get wallet balance")
	}
	if err := s.store.Put(ctx, record); err != nil {
		return WalletBalance{}, err
	}
	return balanceView(record), nil
}

// WalletBalances 刷新全部钱包余额，单个失败时跳过。
func (s *Service) WalletBalances(ctx context.Context) ([]WalletBalance, error) {
	records, err := s.List(ctx, registry.KindCompany)
	if err != nil {
		return nil, err
	}
	out := make([]WalletBalance, 0)
	for _, r := range records {
		if r.Wallet == nil || s.wallets == nil {
			continue
		}
		if err := s.wallets.RefreshBalance(ctx, r.Wallet); err != nil {
			s.logger.Warn("refresh wallet balance failed", "agent_id", r.AgentID, "error", err)
			continue
		}
		if err := s.store.Put(ctx, r); err != nil {
			s.logger.Warn("persist wallet balance failed", "agent_id", r.AgentID, "error", err)
		}
		out = append(out, balanceView(r))
	}
	return out, nil
}

func balanceView(r registry.Record) WalletBalance {
	updated := r.Wallet.BalanceUpdatedAt
	if updated == "" {
		updated = r.Wallet.CreatedAt
	}
	return WalletBalance{
		AgentID:       r.AgentID,
		WalletAddress: r.Wallet.Address,
		Balance:       r.Wallet.Balance,
		NativeToken:   r.Wallet.NativeToken,
		Chain:         r.Wallet.Chain,
		LastUpdated:   updated,
	}
}

// WalletStats 统计钱包与 ENS 覆盖率，余额按已缓存的值估算。
func (s *Service) WalletStats(ctx context.Context) (WalletStats, error) {
	records, err := s.List(ctx, registry.KindCompany)
	if err != nil {
		return WalletStats{}, err
	}
	stats := WalletStats{TotalAgents: len(records), ChainsUsed: map[string]int{}}
	total := 0.0
	for _, r := range records {
		if r.Wallet == nil {
			continue
		}
		stats.AgentsWithWallets++
		if r.Wallet.ENSName != "" {
			stats.AgentsWithENS++
		}
		stats.ChainsUsed[r.Wallet.Chain]++
		if r.Wallet.NativeToken == "ETH" {
			if v, err := strconv.ParseFloat(r.Wallet.Balance, 64); err == nil {
				total += v
			}
		}
	}
	if stats.TotalAgents > 0 {
		stats.WalletCoveragePercentage = round(float64(stats.AgentsWithWallets)/float64(stats.TotalAgents)*100, 2)
	}
	if stats.AgentsWithWallets > 0 {
		stats.ENSCoveragePercentage = round(float64(stats.AgentsWithENS)/float64(stats.AgentsWithWallets)*100, 2)
	}
	stats.EstimatedTotalBalanceETH = round(total, 6)
	return stats, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// ENSInfo 返回 agent 钱包的 ENS 登记状态。
func (s *Service) ENSInfo(ctx context.Context, id string) (ENSRegistration, error) {
	record, err := s.walletRecord(ctx, id)
	if err != nil {
		return ENSRegistration{}, err
	}
	return ensView(record, "Not registered", "unknown"), nil
}

// RegisterENS 重新准备 ENS 名称并持久化。
func (s *Service) RegisterENS(ctx context.Context, id string) (ENSRegistration, error) {
	record, err := s.walletRecord(ctx, id)
	if err != nil {
		return ENSRegistration{}, err
	}
	if s.wallets == nil {
		return ENSRegistration{}, xerrors.New(xerrors.CodeFailedPrecondition, "wallet service is not configured")
	}
	s.wallets.PrepareRegistration(ctx, record.Wallet, record.AgentName, record.AgentID)
	if err := s.store.Put(ctx, record); err != nil {
		return ENSRegistration{}, err
	}
	if record.Wallet.ENSStatus == wallet.ENSStatusPrepared {
		events.Emit(ctx, s.events, events.New(events.TypeENSPrepared, record.AgentID, record.CompanyID,
			map[string]string{"ens_name": record.Wallet.ENSName}))
	}
	return ensView(record, "Registration failed", wallet.ENSStatusFailed), nil
}

func ensView(r registry.Record, missingName, missingStatus string) ENSRegistration {
	name := r.Wallet.ENSName
	if name == "" {
		name = missingName
	}
	status := r.Wallet.ENSStatus
	if status == "" {
		status = missingStatus
	}
	return ENSRegistration{
		AgentID:            r.AgentID,
		WalletAddress:      r.Wallet.Address,
		ENSName:            name,
		RegistrationStatus: status,
		RegistrationNote:   r.Wallet.ENSNote,
	}
}
