package market

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/yieldbot/goyield/internal/domain"
)

var log = logrus.WithField("module", "market")

// AdapterConfig MarketAdapter 构造参数。
type AdapterConfig struct {
	Want          common.Address
	WrappedNative common.Address
	Market        LendingMarket
	Claimer       RewardClaimer
	Venue         SwapVenue
	// Native 仅在 Want == WrappedNative 时必填：市场的底层是裸原生资产，
	// 存入前需解包、赎回后需回包。
	Native NativeWrapper
}

// Adapter 把借贷市场与兑换场所统一为一个面向策略的资金出入口。
type Adapter struct {
	want          common.Address
	wrappedNative common.Address
	market        LendingMarket
	claimer       RewardClaimer
	venue         SwapVenue
	native        NativeWrapper
}

// NewAdapter 创建适配器。原生资产路径配置缺失时报错。
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if cfg.Market == nil || cfg.Venue == nil {
		return nil, fmt.Errorf("market adapter requires market and venue")
	}
	if cfg.Want == cfg.WrappedNative && cfg.Native == nil {
		return nil, fmt.Errorf("native wrapper required when want is wrapped native %s", cfg.Want.Hex())
	}
	return &Adapter{
		want:          cfg.Want,
		wrappedNative: cfg.WrappedNative,
		market:        cfg.Market,
		claimer:       cfg.Claimer,
		venue:         cfg.Venue,
		native:        cfg.Native,
	}, nil
}

func (a *Adapter) isNativeWant() bool {
	return a.want == a.wrappedNative
}

// Deposit 把 amount 的 want 存入借贷市场。
func (a *Adapter) Deposit(ctx context.Context, amount *big.Int) error {
	if !domain.IsPositive(amount) {
		return nil
	}
	if a.isNativeWant() {
		if err := a.native.Unwrap(ctx, amount); err != nil {
			return fmt.Errorf("解包原生资产失败: %w", err)
		}
	}
	if err := a.market.DepositUnderlying(ctx, amount); err != nil {
		return fmt.Errorf("市场存入失败: %w", err)
	}
	return nil
}

// Redeem 从借贷市场赎回 amount 的 want。
// 市场可能少于请求额度兑付，调用方必须以余额差值为准，不能信任请求额。
func (a *Adapter) Redeem(ctx context.Context, amount *big.Int) error {
	if !domain.IsPositive(amount) {
		return nil
	}
	if err := a.market.RedeemUnderlying(ctx, amount); err != nil {
		return fmt.Errorf("市场赎回失败: %w", err)
	}
	if a.isNativeWant() {
		if err := a.native.Wrap(ctx, amount); err != nil {
			return fmt.Errorf("回包原生资产失败: %w", err)
		}
	}
	return nil
}

// PooledValue 当前存放在市场中的价值（want 计）：持仓份额 × 汇率 / 1e18。
// 每次调用都重新读取市场快照，不缓存。
func (a *Adapter) PooledValue(ctx context.Context) (*big.Int, error) {
	supplied, rate, err := a.market.PositionSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取市场头寸快照失败: %w", err)
	}
	out := new(big.Int).Mul(supplied, rate)
	return out.Div(out, domain.ExchangeRateScale), nil
}

// Claim 领取市场奖励到 holder。未配置奖励领取器时为静默空操作。
func (a *Adapter) Claim(ctx context.Context, holder common.Address) error {
	if a.claimer == nil {
		return nil
	}
	if err := a.claimer.Claim(ctx, holder); err != nil {
		return fmt.Errorf("领取市场奖励失败: %w", err)
	}
	return nil
}

// RewardToken 市场奖励资产地址；未配置时为零地址。
func (a *Adapter) RewardToken() common.Address {
	if a.claimer == nil {
		return common.Address{}
	}
	return a.claimer.RewardToken()
}

// PositionToken 市场头寸代币地址。
func (a *Adapter) PositionToken() common.Address {
	return a.market.PositionToken()
}

// Swap 经兑换场所执行 A→B 兑换，统一做过期窗口校验。
func (a *Adapter) Swap(ctx context.Context, amountIn, minOut *big.Int, path []common.Address, to common.Address, deadline time.Time) error {
	if err := CheckDeadline(deadline); err != nil {
		return err
	}
	if err := a.venue.Swap(ctx, amountIn, minOut, path, to, deadline); err != nil {
		return fmt.Errorf("兑换执行失败: %w", err)
	}
	log.Debugf("兑换完成: in=%s path=%d hops", amountIn, len(path))
	return nil
}

// Quote 只读询价。
func (a *Adapter) Quote(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	return a.venue.Quote(ctx, amountIn, path)
}
