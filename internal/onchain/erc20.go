package onchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/yieldbot/goyield/internal/token"
)

// ERC20ABI 核心只用到的三个方法。
const ERC20ABI = `[
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

var (
	erc20ABI     abi.ABI
	erc20ABIOnce sync.Once
)

func mustERC20ABI() abi.ABI {
	erc20ABIOnce.Do(func() {
		parsed, err := abi.JSON(strings.NewReader(ERC20ABI))
		if err != nil {
			panic(fmt.Sprintf("解析ERC20 ABI失败: %v", err))
		}
		erc20ABI = parsed
	})
	return erc20ABI
}

// ERC20 链上代币，实现 token.Token。
// Transfer 的 from 必须等于签名者地址——链上没有代转语义。
type ERC20 struct {
	sender *Sender
	addr   common.Address
}

// NewERC20 绑定一个链上代币。
func NewERC20(sender *Sender, addr common.Address) *ERC20 {
	return &ERC20{sender: sender, addr: addr}
}

func (t *ERC20) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	var out *big.Int
	if err := t.sender.Call(ctx, t.addr, mustERC20ABI(), &out, "balanceOf", holder); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *ERC20) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if from != t.sender.From() {
		return fmt.Errorf("链上转账的from必须是签名者 %s，收到 %s", t.sender.From().Hex(), from.Hex())
	}
	return t.sender.Transact(ctx, t.addr, mustERC20ABI(), "transfer", to, amount)
}

func (t *ERC20) Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error {
	if owner != t.sender.From() {
		return fmt.Errorf("链上授权的owner必须是签名者 %s，收到 %s", t.sender.From().Hex(), owner.Hex())
	}
	return t.sender.Transact(ctx, t.addr, mustERC20ABI(), "approve", spender, amount)
}

// EnsureAllowance 授权额度不足时补授权到 amount。
func (t *ERC20) EnsureAllowance(ctx context.Context, spender common.Address, amount *big.Int) error {
	var allowance *big.Int
	if err := t.sender.Call(ctx, t.addr, mustERC20ABI(), &allowance, "allowance", t.sender.From(), spender); err != nil {
		return err
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}
	return t.sender.Transact(ctx, t.addr, mustERC20ABI(), "approve", spender, amount)
}

// Resolver 按资产地址返回链上 ERC20 视图，实现 token.Resolver。
type Resolver struct {
	sender *Sender

	mu    sync.Mutex
	cache map[common.Address]*ERC20
}

// NewResolver 创建解析器。
func NewResolver(sender *Sender) *Resolver {
	return &Resolver{sender: sender, cache: make(map[common.Address]*ERC20)}
}

func (r *Resolver) Token(asset common.Address) (token.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.cache[asset]; ok {
		return t, nil
	}
	t := NewERC20(r.sender, asset)
	r.cache[asset] = t
	return t, nil
}
