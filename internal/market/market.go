// Package market 封装外部收益市场与兑换场所的能力接口，
// 并提供统一的 MarketAdapter：存入底层资产 / 赎回底层资产 / A→B 兑换。
// 账本核心只面对这里定义的接口，不感知具体市场实现。
package market

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrDeadlineElapsed 兑换的有效窗口已过期。过期的兑换必须直接失败，
// 防止一笔陈旧的不利交易被任意延迟执行。
var ErrDeadlineElapsed = errors.New("swap deadline elapsed")

// LendingMarket 借贷市场能力：铸入/赎回底层资产，读取头寸快照。
type LendingMarket interface {
	DepositUnderlying(ctx context.Context, amount *big.Int) error
	RedeemUnderlying(ctx context.Context, amount *big.Int) error
	// PositionSnapshot 返回 (持仓份额, 汇率)，汇率为 1e18 定点。
	PositionSnapshot(ctx context.Context) (supplied, exchangeRate *big.Int, err error)
	// PositionToken 市场头寸代币地址（cToken），用于尘埃清扫的保护名单。
	PositionToken() common.Address
}

// RewardClaimer 市场奖励领取能力。
// 每个市场家族在构造时选择对应实现，而不是靠继承覆写。
type RewardClaimer interface {
	Claim(ctx context.Context, holder common.Address) error
	RewardToken() common.Address
}

// SwapVenue 兑换场所能力。
type SwapVenue interface {
	Swap(ctx context.Context, amountIn, minOut *big.Int, path []common.Address, to common.Address, deadline time.Time) error
	Quote(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
}

// NativeWrapper 原生资产的包裹/解包能力，仅 want 为包裹原生资产时使用。
type NativeWrapper interface {
	Wrap(ctx context.Context, amount *big.Int) error
	Unwrap(ctx context.Context, amount *big.Int) error
}

// Path 构造经过包裹原生资产的兑换路径。
// 任一端本身是包裹原生资产时直连，否则以其作为中转。
func Path(from, to, wrappedNative common.Address) []common.Address {
	if from == wrappedNative || to == wrappedNative {
		return []common.Address{from, to}
	}
	return []common.Address{from, wrappedNative, to}
}

// CheckDeadline 校验兑换窗口。
func CheckDeadline(deadline time.Time) error {
	if !deadline.IsZero() && time.Now().After(deadline) {
		return ErrDeadlineElapsed
	}
	return nil
}
