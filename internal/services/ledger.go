// Package services 装配层：把控制器、策略、市场适配器按配置组装成
// 可运行的账本服务，供守护者进程与控制面服务使用。
package services

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/yieldbot/goyield/internal/controlplane/server"
	"github.com/yieldbot/goyield/internal/controller"
	"github.com/yieldbot/goyield/internal/domain"
	"github.com/yieldbot/goyield/internal/strategy"
)

var log = logrus.WithField("module", "services")

// AssetEntry 单个在管资产的装配结果。
type AssetEntry struct {
	Symbol   string
	Token    common.Address
	Strategy *strategy.Strategy
}

// LedgerService 账本服务：控制器 + 各资产策略。
// 实现控制面的 server.Ledger 视图。收割以守护者身份发起，
// 回收以策略师身份发起。
type LedgerService struct {
	Controller *controller.Controller
	Keeper     common.Address
	Strategist common.Address
	entries    []AssetEntry
	byToken    map[common.Address]*AssetEntry
}

// NewLedgerService 创建账本服务。
func NewLedgerService(ctrl *controller.Controller, keeper, strategist common.Address, entries []AssetEntry) *LedgerService {
	byToken := make(map[common.Address]*AssetEntry, len(entries))
	svc := &LedgerService{Controller: ctrl, Keeper: keeper, Strategist: strategist, entries: entries, byToken: byToken}
	for i := range svc.entries {
		byToken[svc.entries[i].Token] = &svc.entries[i]
	}
	return svc
}

// Entries 全部在管资产。
func (s *LedgerService) Entries() []AssetEntry {
	return s.entries
}

// Assets 实现 server.Ledger。
func (s *LedgerService) Assets() []server.AssetRef {
	out := make([]server.AssetRef, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, server.AssetRef{Symbol: e.Symbol, Token: e.Token})
	}
	return out
}

// Status 实现 server.Ledger：实时读取单资产状态。
func (s *LedgerService) Status(ctx context.Context, asset common.Address) (*server.AssetStatus, error) {
	entry, ok := s.byToken[asset]
	if !ok {
		return nil, fmt.Errorf("未知资产: %s", asset.Hex())
	}
	idle, err := entry.Strategy.IdleBalance(ctx)
	if err != nil {
		return nil, err
	}
	pooled, err := entry.Strategy.PooledBalance(ctx)
	if err != nil {
		return nil, err
	}
	vault, _ := s.Controller.VaultFor(asset)
	strategistBps, harvestBps, withdrawalBps := entry.Strategy.Fees()
	return &server.AssetStatus{
		Symbol:        entry.Symbol,
		Token:         asset.Hex(),
		Vault:         vault.Hex(),
		Strategy:      entry.Strategy.Address().Hex(),
		Idle:          idle.String(),
		Pooled:        pooled.String(),
		Total:         domain.Add(idle, pooled).String(),
		StrategistBps: strategistBps,
		HarvestBps:    harvestBps,
		WithdrawalBps: withdrawalBps,
	}, nil
}

// TriggerHarvest 实现 server.Ledger：以守护者身份收割并返回本次增益。
func (s *LedgerService) TriggerHarvest(ctx context.Context, asset common.Address) (*big.Int, error) {
	entry, ok := s.byToken[asset]
	if !ok {
		return nil, fmt.Errorf("未知资产: %s", asset.Hex())
	}
	before, err := entry.Strategy.BalanceOf(ctx)
	if err != nil {
		return nil, err
	}
	if err := entry.Strategy.Harvest(ctx, domain.DirectCaller(s.Keeper)); err != nil {
		return nil, err
	}
	after, err := entry.Strategy.BalanceOf(ctx)
	if err != nil {
		return nil, err
	}
	gain := domain.Sub(after, before)
	log.Infof("🌾 收割触发完成: asset=%s gain=%s", entry.Symbol, gain)
	return gain, nil
}

// TriggerYearn 实现 server.Ledger：以策略师身份回收资产激活策略里
// 滞留的 stray 代币。
func (s *LedgerService) TriggerYearn(ctx context.Context, asset, stray common.Address) (*server.YearnOutcome, error) {
	entry, ok := s.byToken[asset]
	if !ok {
		return nil, fmt.Errorf("未知资产: %s", asset.Hex())
	}
	recovered, reinvested, err := s.Controller.Yearn(ctx, s.Strategist, entry.Strategy.Address(), stray)
	if err != nil {
		return nil, err
	}
	log.Infof("♻️ 回收触发完成: asset=%s stray=%s recovered=%s reinvested=%s",
		entry.Symbol, stray.Hex(), recovered, reinvested)
	return &server.YearnOutcome{
		Strategy:   entry.Strategy.Address(),
		Recovered:  recovered,
		Reinvested: reinvested,
	}, nil
}
