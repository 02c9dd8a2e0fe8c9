// Package token 价值转移能力接口。
// 账本核心不关心转账的实现机制（链上 ERC20 还是进程内模拟账本），
// 只依赖 Transfer/BalanceOf/Approve 三个能力和成功/失败结果。
package token

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInsufficientBalance 余额不足。
var ErrInsufficientBalance = errors.New("insufficient token balance")

// Token 单一资产的价值转移能力。
type Token interface {
	// BalanceOf 查询持有者余额。核心从不缓存余额，每次决策前重新查询。
	BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error)
	// Transfer 从 from 转移 amount 到 to。链上实现要求 from 为签名者自身。
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	// Approve 授权 spender 从 owner 划转至多 amount。
	Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error
}

// Resolver 按资产地址解析对应的 Token 能力。
type Resolver interface {
	Token(asset common.Address) (Token, error)
}
