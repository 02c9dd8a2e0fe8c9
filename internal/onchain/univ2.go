package onchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/yieldbot/goyield/internal/market"
)

// RouterABI UniswapV2 家族路由器的兑换与询价方法。
const RouterABI = `[
	{"constant":false,"inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokens","outputs":[{"name":"amounts","type":"uint256[]"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"name":"amounts","type":"uint256[]"}],"type":"function"}
]`

var (
	routerABI     abi.ABI
	routerABIOnce sync.Once
)

func mustRouterABI() abi.ABI {
	routerABIOnce.Do(func() {
		parsed, err := abi.JSON(strings.NewReader(RouterABI))
		if err != nil {
			panic(fmt.Sprintf("解析路由器 ABI失败: %v", err))
		}
		routerABI = parsed
	})
	return routerABI
}

// UniV2Venue UniswapV2 家族兑换场所，实现 market.SwapVenue。
// 输入代币的授权在 Swap 内部按需补齐。
type UniV2Venue struct {
	sender *Sender
	router common.Address
}

// NewUniV2Venue 绑定路由器。
func NewUniV2Venue(sender *Sender, router common.Address) *UniV2Venue {
	return &UniV2Venue{sender: sender, router: router}
}

func (v *UniV2Venue) Swap(ctx context.Context, amountIn, minOut *big.Int, path []common.Address, to common.Address, deadline time.Time) error {
	if err := market.CheckDeadline(deadline); err != nil {
		return err
	}
	if len(path) < 2 {
		return fmt.Errorf("兑换路径过短: %d", len(path))
	}
	input := NewERC20(v.sender, path[0])
	if err := input.EnsureAllowance(ctx, v.router, amountIn); err != nil {
		return fmt.Errorf("授权路由器划转失败: %w", err)
	}
	return v.sender.Transact(ctx, v.router, mustRouterABI(), "swapExactTokensForTokens",
		amountIn, minOut, path, to, big.NewInt(deadline.Unix()))
}

func (v *UniV2Venue) Quote(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	var amounts []*big.Int
	if err := v.sender.Call(ctx, v.router, mustRouterABI(), &amounts, "getAmountsOut", amountIn, path); err != nil {
		return nil, err
	}
	return amounts, nil
}

// WETHABI 包裹原生资产的 deposit/withdraw。
const WETHABI = `[
	{"constant":false,"inputs":[],"name":"deposit","outputs":[],"payable":true,"type":"function"},
	{"constant":false,"inputs":[{"name":"wad","type":"uint256"}],"name":"withdraw","outputs":[],"type":"function"}
]`

var (
	wethABI     abi.ABI
	wethABIOnce sync.Once
)

func mustWETHABI() abi.ABI {
	wethABIOnce.Do(func() {
		parsed, err := abi.JSON(strings.NewReader(WETHABI))
		if err != nil {
			panic(fmt.Sprintf("解析WETH ABI失败: %v", err))
		}
		wethABI = parsed
	})
	return wethABI
}

// WrappedNative 链上包裹原生资产，实现 market.NativeWrapper。
type WrappedNative struct {
	sender *Sender
	addr   common.Address
}

// NewWrappedNative 绑定包裹合约。
func NewWrappedNative(sender *Sender, addr common.Address) *WrappedNative {
	return &WrappedNative{sender: sender, addr: addr}
}

// Wrap 把 amount 原生资产包成包裹代币。
func (w *WrappedNative) Wrap(ctx context.Context, amount *big.Int) error {
	return w.sender.TransactValue(ctx, w.addr, amount, mustWETHABI(), "deposit")
}

// Unwrap 解包 amount 包裹代币为原生资产。
func (w *WrappedNative) Unwrap(ctx context.Context, amount *big.Int) error {
	return w.sender.Transact(ctx, w.addr, mustWETHABI(), "withdraw", amount)
}
