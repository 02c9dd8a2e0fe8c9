package services

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/yieldbot/goyield/internal/controller"
	"github.com/yieldbot/goyield/internal/market"
	"github.com/yieldbot/goyield/internal/onchain"
	"github.com/yieldbot/goyield/internal/quotes"
	"github.com/yieldbot/goyield/internal/roles"
	"github.com/yieldbot/goyield/internal/strategy"
	"github.com/yieldbot/goyield/internal/token"
	"github.com/yieldbot/goyield/pkg/config"
)

// harvestQuoter 配置了询价接口时构建收割兑换的询价器，否则为 nil（不设下限）。
func harvestQuoter(cfg *config.Config) strategy.Quoter {
	if cfg.Keeper.QuoteAPI == "" {
		return nil
	}
	symbols := map[common.Address]string{
		common.HexToAddress(cfg.Swap.Settlement): cfg.Swap.SettlementSymbol,
	}
	for _, ac := range cfg.Assets {
		symbols[common.HexToAddress(ac.Token)] = ac.Symbol
		symbols[common.HexToAddress(ac.Market.RewardToken)] = ac.Market.RewardSymbol
	}
	return quotes.NewPricer(quotes.NewClient(cfg.Keeper.QuoteAPI),
		cfg.Keeper.QuoteCurrency, cfg.Swap.SlippageBps, symbols)
}

// Bootstrap 按配置装配账本服务。
// DryRun 模式使用进程内模拟市场，不触链；否则走链上实现，
// 控制器与策略共用守护者签名账户执行外部调用。
func Bootstrap(ctx context.Context, cfg *config.Config, signingKey *ecdsa.PrivateKey) (*LedgerService, error) {
	table := roles.NewTable(
		common.HexToAddress(cfg.Roles.Governance),
		common.HexToAddress(cfg.Roles.Strategist),
		common.HexToAddress(cfg.Roles.Keeper),
	)
	if cfg.DryRun {
		return bootstrapDryRun(ctx, cfg, table)
	}
	return bootstrapOnchain(ctx, cfg, table, signingKey)
}

func bootstrapOnchain(ctx context.Context, cfg *config.Config, table *roles.Table, signingKey *ecdsa.PrivateKey) (*LedgerService, error) {
	if signingKey == nil {
		return nil, fmt.Errorf("链上模式需要签名私钥")
	}
	sender, err := onchain.NewSender(cfg.Chain.RPCURL, cfg.Chain.ChainID, signingKey)
	if err != nil {
		return nil, err
	}
	resolver := onchain.NewResolver(sender)
	venue := onchain.NewUniV2Venue(sender, common.HexToAddress(cfg.Swap.Router))
	wrappedNative := common.HexToAddress(cfg.Swap.WrappedNative)
	self := crypto.PubkeyToAddress(signingKey.PublicKey)

	ctrl, err := controller.New(controller.Config{
		Self:           self,
		RewardsSink:    common.HexToAddress(cfg.Controller.RewardsSink),
		WrappedNative:  wrappedNative,
		RewardSplitBps: cfg.Controller.RewardSplitBps,
		SwapWindow:     cfg.SwapDeadline(),
	}, table, resolver, venue)
	if err != nil {
		return nil, err
	}

	governance := table.Holder(roles.RoleGovernance)
	quoter := harvestQuoter(cfg)
	entries := make([]AssetEntry, 0, len(cfg.Assets))
	for _, ac := range cfg.Assets {
		want := common.HexToAddress(ac.Token)
		lending := onchain.NewLendHubMarket(sender, common.HexToAddress(ac.Market.CToken), want)
		claimer := onchain.NewLendHubClaimer(sender,
			common.HexToAddress(ac.Market.Comptroller),
			common.HexToAddress(ac.Market.CToken),
			common.HexToAddress(ac.Market.RewardToken))
		var native market.NativeWrapper
		if want == wrappedNative {
			native = onchain.NewWrappedNative(sender, wrappedNative)
		}
		adapter, err := market.NewAdapter(market.AdapterConfig{
			Want:          want,
			WrappedNative: wrappedNative,
			Market:        lending,
			Claimer:       claimer,
			Venue:         venue,
			Native:        native,
		})
		if err != nil {
			return nil, fmt.Errorf("装配 %s 市场适配器失败: %w", ac.Symbol, err)
		}
		st, err := strategy.New(strategy.Config{
			Self:             self,
			Want:             want,
			Settlement:       common.HexToAddress(cfg.Swap.Settlement),
			WrappedNative:    wrappedNative,
			StrategistFeeBps: ac.Fees.StrategistBps,
			HarvestFeeBps:    ac.Fees.HarvestBps,
			WithdrawalFeeBps: ac.Fees.WithdrawalBps,
			SwapWindow:       cfg.SwapDeadline(),
			Quoter:           quoter,
		}, adapter, resolver, table, ctrl)
		if err != nil {
			return nil, fmt.Errorf("装配 %s 策略失败: %w", ac.Symbol, err)
		}
		if err := registerAsset(ctx, ctrl, governance, want, common.HexToAddress(ac.Vault), st); err != nil {
			return nil, fmt.Errorf("登记 %s 失败: %w", ac.Symbol, err)
		}
		entries = append(entries, AssetEntry{Symbol: ac.Symbol, Token: want, Strategy: st})
	}
	return NewLedgerService(ctrl, table.Holder(roles.RoleKeeper), table.Holder(roles.RoleStrategist), entries), nil
}

func bootstrapDryRun(ctx context.Context, cfg *config.Config, table *roles.Table) (*LedgerService, error) {
	book := token.NewBook()
	wrappedNative := common.HexToAddress(cfg.Swap.WrappedNative)
	venueAddr := common.BigToAddress(big.NewInt(0xde01))
	venue := market.NewSimVenue(book, venueAddr)
	ctrlAddr := common.BigToAddress(big.NewInt(0xc001))

	ctrl, err := controller.New(controller.Config{
		Self:           ctrlAddr,
		RewardsSink:    common.HexToAddress(cfg.Controller.RewardsSink),
		WrappedNative:  wrappedNative,
		RewardSplitBps: cfg.Controller.RewardSplitBps,
		SwapWindow:     cfg.SwapDeadline(),
	}, table, book, venue)
	if err != nil {
		return nil, err
	}

	governance := table.Holder(roles.RoleGovernance)
	quoter := harvestQuoter(cfg)
	entries := make([]AssetEntry, 0, len(cfg.Assets))
	for i, ac := range cfg.Assets {
		want := common.HexToAddress(ac.Token)
		stratAddr := common.BigToAddress(new(big.Int).SetInt64(int64(0x51000 + i)))
		marketAddr := common.BigToAddress(new(big.Int).SetInt64(int64(0x3a000 + i)))
		sim := market.NewSimMarket(book, marketAddr, stratAddr,
			want, common.HexToAddress(ac.Market.CToken), common.HexToAddress(ac.Market.RewardToken))
		var native market.NativeWrapper
		if want == wrappedNative {
			native = market.NewSimNative(book, stratAddr, common.Address{}, wrappedNative)
		}
		adapter, err := market.NewAdapter(market.AdapterConfig{
			Want:          want,
			WrappedNative: wrappedNative,
			Market:        sim,
			Claimer:       sim,
			Venue:         venue,
			Native:        native,
		})
		if err != nil {
			return nil, fmt.Errorf("装配 %s 模拟适配器失败: %w", ac.Symbol, err)
		}
		st, err := strategy.New(strategy.Config{
			Self:             stratAddr,
			Want:             want,
			Settlement:       common.HexToAddress(cfg.Swap.Settlement),
			WrappedNative:    wrappedNative,
			StrategistFeeBps: ac.Fees.StrategistBps,
			HarvestFeeBps:    ac.Fees.HarvestBps,
			WithdrawalFeeBps: ac.Fees.WithdrawalBps,
			SwapWindow:       cfg.SwapDeadline(),
			Quoter:           quoter,
		}, adapter, book, table, ctrl)
		if err != nil {
			return nil, fmt.Errorf("装配 %s 模拟策略失败: %w", ac.Symbol, err)
		}
		if err := registerAsset(ctx, ctrl, governance, want, common.HexToAddress(ac.Vault), st); err != nil {
			return nil, fmt.Errorf("登记 %s 失败: %w", ac.Symbol, err)
		}
		entries = append(entries, AssetEntry{Symbol: ac.Symbol, Token: want, Strategy: st})
	}
	log.Infof("🧪 dry-run 模式装配完成: assets=%d", len(entries))
	return NewLedgerService(ctrl, table.Holder(roles.RoleKeeper), table.Holder(roles.RoleStrategist), entries), nil
}

// registerAsset 以治理身份完成金库注册、策略许可与激活。
func registerAsset(ctx context.Context, ctrl *controller.Controller, governance, asset, vault common.Address, st *strategy.Strategy) error {
	if err := ctrl.SetVault(governance, asset, vault); err != nil {
		return err
	}
	if err := ctrl.ApproveStrategy(governance, asset, st); err != nil {
		return err
	}
	return ctrl.SetStrategy(ctx, governance, asset, st.Address())
}
