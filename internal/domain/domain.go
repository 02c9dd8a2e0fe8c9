// Package domain 定义收益路由账本的基础词汇：资产、调用方身份、金额约定。
// 所有金额统一使用 *big.Int（链上原始精度），不做浮点换算。
package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FeeDenominator 费率分母，所有 bps 费率以此为基准（1 bps = 1/10000）。
const FeeDenominator = 10000

// ExchangeRateScale 借贷市场汇率的定点精度（1e18）。
var ExchangeRateScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Caller 调用方身份。
// Sender 是直接调用者，Origin 是顶层外部发起者；
// 两者相等表示人为直接发起的调用（未经其它合约代理）。
type Caller struct {
	Sender common.Address
	Origin common.Address
}

// DirectCaller 构造一个直接发起的调用身份（Sender == Origin）。
func DirectCaller(addr common.Address) Caller {
	return Caller{Sender: addr, Origin: addr}
}

// ProxiedCaller 构造一个经代理转发的调用身份。
func ProxiedCaller(sender, origin common.Address) Caller {
	return Caller{Sender: sender, Origin: origin}
}

// IsDirect 是否为人为直接发起的调用。
func (c Caller) IsDirect() bool {
	return c.Sender == c.Origin
}

// Zero 返回新分配的零金额。
func Zero() *big.Int {
	return new(big.Int)
}

// Clone 复制金额，避免共享底层 big.Int。
func Clone(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// IsPositive 金额是否大于零（nil 视为零）。
func IsPositive(x *big.Int) bool {
	return x != nil && x.Sign() > 0
}

// Sub 返回 a-b 的新值。
func Sub(a, b *big.Int) *big.Int {
	return new(big.Int).Sub(a, b)
}

// Add 返回 a+b 的新值。
func Add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(a, b)
}

// Min 返回两者中较小的新值。
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return Clone(a)
	}
	return Clone(b)
}
