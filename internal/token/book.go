package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Book 进程内代币账本：资产 → 持有者 → 余额。
// 供测试与 dry-run 模式使用，也是模拟市场/交易所的资金底座。
type Book struct {
	mu       sync.Mutex
	balances map[common.Address]map[common.Address]*big.Int
}

// NewBook 创建空账本。
func NewBook() *Book {
	return &Book{balances: make(map[common.Address]map[common.Address]*big.Int)}
}

// Mint 凭空铸造余额（仅测试/模拟用）。
func (b *Book) Mint(asset, holder common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(asset, holder, amount)
}

// Balance 读取余额（返回副本）。
func (b *Book) Balance(asset, holder common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if hs, ok := b.balances[asset]; ok {
		if bal, ok := hs[holder]; ok {
			return new(big.Int).Set(bal)
		}
	}
	return new(big.Int)
}

// Move 账本内划转，余额不足返回 ErrInsufficientBalance。
func (b *Book) Move(asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid transfer amount: %v", amount)
	}
	if amount.Sign() == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bal := b.balanceLocked(asset, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: asset=%s holder=%s have=%s need=%s",
			ErrInsufficientBalance, asset.Hex(), from.Hex(), bal, amount)
	}
	bal.Sub(bal, amount)
	b.credit(asset, to, amount)
	return nil
}

func (b *Book) balanceLocked(asset, holder common.Address) *big.Int {
	hs, ok := b.balances[asset]
	if !ok {
		hs = make(map[common.Address]*big.Int)
		b.balances[asset] = hs
	}
	bal, ok := hs[holder]
	if !ok {
		bal = new(big.Int)
		hs[holder] = bal
	}
	return bal
}

func (b *Book) credit(asset, holder common.Address, amount *big.Int) {
	bal := b.balanceLocked(asset, holder)
	bal.Add(bal, amount)
}

// Token 返回指定资产在本账本上的 Token 视图。
func (b *Book) Token(asset common.Address) (Token, error) {
	return &bookToken{book: b, asset: asset}, nil
}

type bookToken struct {
	book  *Book
	asset common.Address
}

func (t *bookToken) BalanceOf(_ context.Context, holder common.Address) (*big.Int, error) {
	return t.book.Balance(t.asset, holder), nil
}

func (t *bookToken) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	return t.book.Move(t.asset, from, to, amount)
}

func (t *bookToken) Approve(_ context.Context, _, _ common.Address, _ *big.Int) error {
	// 进程内账本不需要授权语义，保留接口形状。
	return nil
}
