package onchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// CTokenABI Compound 家族 cToken 的市场能力子集。
const CTokenABI = `[
	{"constant":false,"inputs":[{"name":"mintAmount","type":"uint256"}],"name":"mint","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"redeemAmount","type":"uint256"}],"name":"redeemUnderlying","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"exchangeRateStored","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// ComptrollerABI 奖励领取入口。
const ComptrollerABI = `[
	{"constant":false,"inputs":[{"name":"holder","type":"address"},{"name":"cTokens","type":"address[]"}],"name":"claimComp","outputs":[],"type":"function"}
]`

var (
	ctokenABI      abi.ABI
	comptrollerABI abi.ABI
	lendABIOnce    sync.Once
)

func mustLendABIs() (abi.ABI, abi.ABI) {
	lendABIOnce.Do(func() {
		var err error
		if ctokenABI, err = abi.JSON(strings.NewReader(CTokenABI)); err != nil {
			panic(fmt.Sprintf("解析cToken ABI失败: %v", err))
		}
		if comptrollerABI, err = abi.JSON(strings.NewReader(ComptrollerABI)); err != nil {
			panic(fmt.Sprintf("解析comptroller ABI失败: %v", err))
		}
	})
	return ctokenABI, comptrollerABI
}

// LendHubMarket LendHub 形制的借贷市场，实现 market.LendingMarket。
// mint/redeemUnderlying 返回错误码而非 revert，非零即失败。
type LendHubMarket struct {
	sender     *Sender
	ctoken     common.Address
	underlying common.Address
}

// NewLendHubMarket 绑定一个 cToken 市场。
func NewLendHubMarket(sender *Sender, ctoken, underlying common.Address) *LendHubMarket {
	return &LendHubMarket{sender: sender, ctoken: ctoken, underlying: underlying}
}

func (m *LendHubMarket) DepositUnderlying(ctx context.Context, amount *big.Int) error {
	ctokABI, _ := mustLendABIs()
	underlying := NewERC20(m.sender, m.underlying)
	if err := underlying.EnsureAllowance(ctx, m.ctoken, amount); err != nil {
		return fmt.Errorf("授权市场划转失败: %w", err)
	}
	return m.sender.Transact(ctx, m.ctoken, ctokABI, "mint", amount)
}

func (m *LendHubMarket) RedeemUnderlying(ctx context.Context, amount *big.Int) error {
	ctokABI, _ := mustLendABIs()
	return m.sender.Transact(ctx, m.ctoken, ctokABI, "redeemUnderlying", amount)
}

func (m *LendHubMarket) PositionSnapshot(ctx context.Context) (*big.Int, *big.Int, error) {
	ctokABI, _ := mustLendABIs()
	var supplied *big.Int
	if err := m.sender.Call(ctx, m.ctoken, ctokABI, &supplied, "balanceOf", m.sender.From()); err != nil {
		return nil, nil, err
	}
	var rate *big.Int
	if err := m.sender.Call(ctx, m.ctoken, ctokABI, &rate, "exchangeRateStored"); err != nil {
		return nil, nil, err
	}
	return supplied, rate, nil
}

func (m *LendHubMarket) PositionToken() common.Address {
	return m.ctoken
}

// LendHubClaimer comptroller 奖励领取器，实现 market.RewardClaimer。
type LendHubClaimer struct {
	sender      *Sender
	comptroller common.Address
	ctoken      common.Address
	rewardToken common.Address
}

// NewLendHubClaimer 创建奖励领取器。
func NewLendHubClaimer(sender *Sender, comptroller, ctoken, rewardToken common.Address) *LendHubClaimer {
	return &LendHubClaimer{sender: sender, comptroller: comptroller, ctoken: ctoken, rewardToken: rewardToken}
}

func (c *LendHubClaimer) Claim(ctx context.Context, holder common.Address) error {
	_, compABI := mustLendABIs()
	return c.sender.Transact(ctx, c.comptroller, compABI, "claimComp", holder, []common.Address{c.ctoken})
}

func (c *LendHubClaimer) RewardToken() common.Address {
	return c.rewardToken
}
