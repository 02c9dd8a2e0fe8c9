package market

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yieldbot/goyield/internal/domain"
	"github.com/yieldbot/goyield/internal/token"
)

// SimMarket 进程内模拟借贷市场，供测试与 dry-run 使用。
// 底层资产与头寸代币都记在同一本 token.Book 上；
// 汇率、可领奖励、单次赎回上限均可由测试直接设置。
type SimMarket struct {
	book       *token.Book
	self       common.Address // 市场资金账户
	holder     common.Address // 策略资金账户
	underlying common.Address
	posToken   common.Address
	rewardTok  common.Address

	mu           sync.Mutex
	exchangeRate *big.Int // 1e18 定点
	redeemLimit  *big.Int // 单次赎回上限，nil 表示不限
	claimable    *big.Int
}

// NewSimMarket 创建模拟市场，初始汇率 1e18（1:1）。
func NewSimMarket(book *token.Book, self, holder, underlying, posToken, rewardTok common.Address) *SimMarket {
	return &SimMarket{
		book:         book,
		self:         self,
		holder:       holder,
		underlying:   underlying,
		posToken:     posToken,
		rewardTok:    rewardTok,
		exchangeRate: domain.Clone(domain.ExchangeRateScale),
		claimable:    new(big.Int),
	}
}

// SetExchangeRate 设置汇率（1e18 定点），模拟收益累积。
func (m *SimMarket) SetExchangeRate(rate *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchangeRate = domain.Clone(rate)
}

// SetRedeemLimit 设置单次赎回上限，nil 取消限制。
func (m *SimMarket) SetRedeemLimit(limit *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit == nil {
		m.redeemLimit = nil
		return
	}
	m.redeemLimit = domain.Clone(limit)
}

// SetClaimable 设置待领取奖励额。
func (m *SimMarket) SetClaimable(amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimable = domain.Clone(amount)
}

func (m *SimMarket) DepositUnderlying(_ context.Context, amount *big.Int) error {
	if !domain.IsPositive(amount) {
		return nil
	}
	m.mu.Lock()
	rate := domain.Clone(m.exchangeRate)
	m.mu.Unlock()

	if err := m.book.Move(m.underlying, m.holder, m.self, amount); err != nil {
		return fmt.Errorf("sim market deposit: %w", err)
	}
	// units = amount * 1e18 / rate
	units := new(big.Int).Mul(amount, domain.ExchangeRateScale)
	units.Div(units, rate)
	m.book.Mint(m.posToken, m.holder, units)
	return nil
}

// RedeemUnderlying 赎回底层资产。受单次上限与市场流动性约束，
// 可能少于请求额兑付且不报错，调用方须按余额差值计量。
func (m *SimMarket) RedeemUnderlying(_ context.Context, amount *big.Int) error {
	if !domain.IsPositive(amount) {
		return nil
	}
	m.mu.Lock()
	rate := domain.Clone(m.exchangeRate)
	limit := m.redeemLimit
	if limit != nil {
		limit = domain.Clone(limit)
	}
	m.mu.Unlock()

	serve := domain.Clone(amount)
	if limit != nil {
		serve = domain.Min(serve, limit)
	}
	liquidity := m.book.Balance(m.underlying, m.self)
	serve = domain.Min(serve, liquidity)
	if serve.Sign() == 0 {
		return nil
	}

	units := new(big.Int).Mul(serve, domain.ExchangeRateScale)
	units.Div(units, rate)
	units = domain.Min(units, m.book.Balance(m.posToken, m.holder))
	if err := m.book.Move(m.posToken, m.holder, m.self, units); err != nil {
		return fmt.Errorf("sim market burn position: %w", err)
	}
	if err := m.book.Move(m.underlying, m.self, m.holder, serve); err != nil {
		return fmt.Errorf("sim market redeem: %w", err)
	}
	return nil
}

func (m *SimMarket) PositionSnapshot(_ context.Context) (*big.Int, *big.Int, error) {
	m.mu.Lock()
	rate := domain.Clone(m.exchangeRate)
	m.mu.Unlock()
	return m.book.Balance(m.posToken, m.holder), rate, nil
}

func (m *SimMarket) PositionToken() common.Address {
	return m.posToken
}

// Claim 把待领取奖励记入 holder。
func (m *SimMarket) Claim(_ context.Context, holder common.Address) error {
	m.mu.Lock()
	amount := m.claimable
	m.claimable = new(big.Int)
	m.mu.Unlock()
	if domain.IsPositive(amount) {
		m.book.Mint(m.rewardTok, holder, amount)
	}
	return nil
}

func (m *SimMarket) RewardToken() common.Address {
	return m.rewardTok
}

// SimVenue 进程内模拟兑换场所，按固定价格表成交。
// 价格以有理数表示，输入输出都从 to 账户划转（等价于 msg.sender == to）。
type SimVenue struct {
	book *token.Book
	self common.Address

	mu     sync.Mutex
	prices map[[2]common.Address]*big.Rat
}

// NewSimVenue 创建模拟兑换场所。
func NewSimVenue(book *token.Book, self common.Address) *SimVenue {
	return &SimVenue{book: book, self: self, prices: make(map[[2]common.Address]*big.Rat)}
}

// SetPrice 设置 from→to 的成交价（1 from 可换 price 个 to）。
func (v *SimVenue) SetPrice(from, to common.Address, price *big.Rat) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[[2]common.Address{from, to}] = new(big.Rat).Set(price)
}

func (v *SimVenue) amountOut(amountIn *big.Int, from, to common.Address) (*big.Int, error) {
	v.mu.Lock()
	price, ok := v.prices[[2]common.Address{from, to}]
	v.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("sim venue: no price for %s->%s", from.Hex(), to.Hex())
	}
	out := new(big.Rat).Mul(new(big.Rat).SetInt(amountIn), price)
	return new(big.Int).Div(out.Num(), out.Denom()), nil
}

func (v *SimVenue) Quote(_ context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("sim venue: path too short")
	}
	amounts := []*big.Int{domain.Clone(amountIn)}
	cur := domain.Clone(amountIn)
	for i := 0; i+1 < len(path); i++ {
		out, err := v.amountOut(cur, path[i], path[i+1])
		if err != nil {
			return nil, err
		}
		amounts = append(amounts, out)
		cur = out
	}
	return amounts, nil
}

func (v *SimVenue) Swap(ctx context.Context, amountIn, minOut *big.Int, path []common.Address, to common.Address, deadline time.Time) error {
	if err := CheckDeadline(deadline); err != nil {
		return err
	}
	if !domain.IsPositive(amountIn) {
		return nil
	}
	amounts, err := v.Quote(ctx, amountIn, path)
	if err != nil {
		return err
	}
	out := amounts[len(amounts)-1]
	if minOut != nil && out.Cmp(minOut) < 0 {
		return fmt.Errorf("sim venue: output %s below min %s", out, minOut)
	}
	if err := v.book.Move(path[0], to, v.self, amountIn); err != nil {
		return fmt.Errorf("sim venue pull input: %w", err)
	}
	v.book.Mint(path[len(path)-1], to, out)
	return nil
}

// SimNative 模拟原生资产包裹器：在裸资产与包裹资产之间 1:1 互换。
type SimNative struct {
	book    *token.Book
	holder  common.Address
	native  common.Address
	wrapped common.Address
}

// NewSimNative 创建模拟包裹器。
func NewSimNative(book *token.Book, holder, native, wrapped common.Address) *SimNative {
	return &SimNative{book: book, holder: holder, native: native, wrapped: wrapped}
}

func (n *SimNative) Wrap(_ context.Context, amount *big.Int) error {
	if !domain.IsPositive(amount) {
		return nil
	}
	if err := n.book.Move(n.native, n.holder, n.wrapped, amount); err != nil {
		return fmt.Errorf("sim wrap: %w", err)
	}
	n.book.Mint(n.wrapped, n.holder, amount)
	return nil
}

func (n *SimNative) Unwrap(_ context.Context, amount *big.Int) error {
	if !domain.IsPositive(amount) {
		return nil
	}
	if err := n.book.Move(n.wrapped, n.holder, n.wrapped, amount); err != nil {
		return fmt.Errorf("sim unwrap: %w", err)
	}
	n.book.Mint(n.native, n.holder, amount)
	return nil
}
