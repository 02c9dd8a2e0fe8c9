// Package controller 收益路由控制器：维护 {资产→金库}、{资产→策略}、
// {资产→许可策略集}、{(入,出)→转换器} 四张注册表，
// 路由 earn / withdraw / 策略更替 / 非核心代币回收（yearn）。
package controller

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/yieldbot/goyield/internal/domain"
	"github.com/yieldbot/goyield/internal/feesplit"
	"github.com/yieldbot/goyield/internal/market"
	"github.com/yieldbot/goyield/internal/roles"
	"github.com/yieldbot/goyield/internal/token"
)

var log = logrus.WithField("module", "controller")

var (
	// ErrVaultExists 金库映射只写一次，已有条目不可覆盖（防金库劫持）。
	ErrVaultExists = errors.New("vault already registered for asset")
	// ErrNoStrategy 资产没有激活的策略。
	ErrNoStrategy = errors.New("no active strategy for asset")
	// ErrNoConverter 所需的资产转换器未注册。
	ErrNoConverter = errors.New("no converter registered for pair")
	// ErrStrategyNotApproved 策略不在该资产的许可集内。
	ErrStrategyNotApproved = errors.New("strategy not approved for asset")
	// ErrUnknownStrategy 地址未对应任何已登记策略。
	ErrUnknownStrategy = errors.New("unknown strategy address")
	// ErrNotVault withdraw 只允许该资产的注册金库发起。
	ErrNotVault = errors.New("withdraw is vault-only")
)

// Strategy 控制器所需的策略能力。
type Strategy interface {
	Address() common.Address
	Want() common.Address
	Deposit(ctx context.Context) error
	Withdraw(ctx context.Context, caller common.Address, amount *big.Int) error
	SweepDust(ctx context.Context, caller, asset common.Address) error
	WithdrawAll(ctx context.Context, caller common.Address) (*big.Int, error)
	BalanceOf(ctx context.Context) (*big.Int, error)
}

// Converter 资产转换能力：控制器先把输入资产转给转换器，
// Convert 完成兑换并把输出资产回送控制器，返回到账数额。
type Converter interface {
	Address() common.Address
	Convert(ctx context.Context, strategy common.Address) (*big.Int, error)
}

// Config 控制器构造参数。
type Config struct {
	Self           common.Address
	RewardsSink    common.Address
	WrappedNative  common.Address
	RewardSplitBps uint64
	// SwapWindow yearn 内兑换的有效窗口，0 取默认 10 分钟。
	SwapWindow time.Duration
}

// Controller 单例控制器。
//
// 两把锁：opMu 串行化所有资金变动入口（earn/withdraw/yearn/策略更替），
// 对应宿主序列化执行时的「一次一笔」保证；stateMu 保护注册表读写，
// 策略在资金操作中回查 VaultFor/RewardsSink 只取读锁，不会与 opMu 相互等待。
type Controller struct {
	opMu    sync.Mutex
	stateMu sync.RWMutex

	self          common.Address
	rewardsSink   common.Address
	wrappedNative common.Address

	rewardSplitBps uint64
	swapWindow     time.Duration

	roles  *roles.Table
	tokens token.Resolver
	venue  market.SwapVenue

	vaults     map[common.Address]common.Address
	strategies map[common.Address]Strategy
	approved   map[common.Address]map[common.Address]Strategy
	byAddress  map[common.Address]Strategy
	converters map[[2]common.Address]Converter
}

// New 创建控制器。
func New(cfg Config, table *roles.Table, tokens token.Resolver, venue market.SwapVenue) (*Controller, error) {
	if table == nil || tokens == nil || venue == nil {
		return nil, fmt.Errorf("controller requires roles, tokens and venue")
	}
	if cfg.RewardSplitBps > domain.FeeDenominator {
		return nil, fmt.Errorf("reward split %d exceeds denominator", cfg.RewardSplitBps)
	}
	window := cfg.SwapWindow
	if window == 0 {
		window = 10 * time.Minute
	}
	return &Controller{
		self:           cfg.Self,
		rewardsSink:    cfg.RewardsSink,
		wrappedNative:  cfg.WrappedNative,
		rewardSplitBps: cfg.RewardSplitBps,
		swapWindow:     window,
		roles:          table,
		tokens:         tokens,
		venue:          venue,
		vaults:         make(map[common.Address]common.Address),
		strategies:     make(map[common.Address]Strategy),
		approved:       make(map[common.Address]map[common.Address]Strategy),
		byAddress:      make(map[common.Address]Strategy),
		converters:     make(map[[2]common.Address]Converter),
	}, nil
}

// Address 控制器资金账户地址。
func (c *Controller) Address() common.Address { return c.self }

// RewardsSink 当前奖励汇集账户。
func (c *Controller) RewardsSink() common.Address {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.rewardsSink
}

// VaultFor 查询资产的注册金库。
func (c *Controller) VaultFor(asset common.Address) (common.Address, bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	v, ok := c.vaults[asset]
	return v, ok
}

// StrategyFor 查询资产的激活策略。
func (c *Controller) StrategyFor(asset common.Address) (Strategy, bool) {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	st, ok := c.strategies[asset]
	return st, ok
}

// SetRewardsSink 仅治理可调。
func (c *Controller) SetRewardsSink(caller, sink common.Address) error {
	if err := c.roles.Require(caller, roles.RoleGovernance); err != nil {
		return err
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.rewardsSink = sink
	return nil
}

// SetRewardSplit 仅治理可调：yearn 回收价值分流给奖励汇集账户的比例。
func (c *Controller) SetRewardSplit(caller common.Address, bps uint64) error {
	if err := c.roles.Require(caller, roles.RoleGovernance); err != nil {
		return err
	}
	if bps > domain.FeeDenominator {
		return fmt.Errorf("reward split %d exceeds denominator", bps)
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.rewardSplitBps = bps
	return nil
}

// SetVault 治理或策略师可调；每个资产只允许写入一次。
func (c *Controller) SetVault(caller, asset, vault common.Address) error {
	if err := c.roles.Require(caller, roles.RoleGovernance, roles.RoleStrategist); err != nil {
		return err
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if _, exists := c.vaults[asset]; exists {
		return fmt.Errorf("%w: asset=%s", ErrVaultExists, asset.Hex())
	}
	c.vaults[asset] = vault
	log.Infof("🏦 金库注册: asset=%s vault=%s", asset.Hex(), vault.Hex())
	return nil
}

// SetConverter 治理或策略师可调：登记 (入,出) 资产对的转换器。
func (c *Controller) SetConverter(caller, input, output common.Address, conv Converter) error {
	if err := c.roles.Require(caller, roles.RoleGovernance, roles.RoleStrategist); err != nil {
		return err
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.converters[[2]common.Address{input, output}] = conv
	return nil
}

// ApproveStrategy 仅治理可调：把策略加入资产的许可集。
func (c *Controller) ApproveStrategy(caller, asset common.Address, st Strategy) error {
	if err := c.roles.Require(caller, roles.RoleGovernance); err != nil {
		return err
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	set, ok := c.approved[asset]
	if !ok {
		set = make(map[common.Address]Strategy)
		c.approved[asset] = set
	}
	set[st.Address()] = st
	return nil
}

// RevokeStrategy 仅治理可调：把策略移出资产的许可集。
func (c *Controller) RevokeStrategy(caller, asset, strategyAddr common.Address) error {
	if err := c.roles.Require(caller, roles.RoleGovernance); err != nil {
		return err
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if set, ok := c.approved[asset]; ok {
		delete(set, strategyAddr)
	}
	return nil
}

// SetStrategy 治理或策略师可调：激活资产的策略（须已许可）。
// 若已有激活策略，先强制其整体退出，资金全部回到金库后再替换。
func (c *Controller) SetStrategy(ctx context.Context, caller, asset, strategyAddr common.Address) error {
	return c.setStrategy(ctx, caller, asset, strategyAddr, true)
}

// SetStrategyWithoutWithdraw 同 SetStrategy，但跳过强制退出。
// 用于新旧策略共享底层头寸的原地升级。
func (c *Controller) SetStrategyWithoutWithdraw(ctx context.Context, caller, asset, strategyAddr common.Address) error {
	return c.setStrategy(ctx, caller, asset, strategyAddr, false)
}

func (c *Controller) setStrategy(ctx context.Context, caller, asset, strategyAddr common.Address, withdrawFirst bool) error {
	if err := c.roles.Require(caller, roles.RoleGovernance, roles.RoleStrategist); err != nil {
		return err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.stateMu.RLock()
	incoming, approved := c.approved[asset][strategyAddr]
	current, hasCurrent := c.strategies[asset]
	c.stateMu.RUnlock()

	if !approved {
		return fmt.Errorf("%w: asset=%s strategy=%s", ErrStrategyNotApproved, asset.Hex(), strategyAddr.Hex())
	}
	if hasCurrent && withdrawFirst {
		drained, err := current.WithdrawAll(ctx, c.self)
		if err != nil {
			return fmt.Errorf("旧策略整体退出失败: %w", err)
		}
		log.Infof("🔁 策略更替前整体退出: asset=%s old=%s drained=%s", asset.Hex(), current.Address().Hex(), drained)
	}

	c.stateMu.Lock()
	c.strategies[asset] = incoming
	c.byAddress[strategyAddr] = incoming
	c.stateMu.Unlock()
	log.Infof("✅ 策略激活: asset=%s strategy=%s", asset.Hex(), strategyAddr.Hex())
	return nil
}

// Earn 把控制器名下的 amount 资产路由进激活策略并触发存入。
// 资产与策略 want 不一致时须经注册的转换器换成 want。
func (c *Controller) Earn(ctx context.Context, asset common.Address, amount *big.Int) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.earnLocked(ctx, asset, amount)
}

func (c *Controller) earnLocked(ctx context.Context, asset common.Address, amount *big.Int) error {
	c.stateMu.RLock()
	st, ok := c.strategies[asset]
	c.stateMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: asset=%s", ErrNoStrategy, asset.Hex())
	}

	want := st.Want()
	if want != asset {
		c.stateMu.RLock()
		conv, ok := c.converters[[2]common.Address{asset, want}]
		c.stateMu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: %s->%s", ErrNoConverter, asset.Hex(), want.Hex())
		}
		if err := c.transfer(ctx, asset, conv.Address(), amount); err != nil {
			return fmt.Errorf("转换器入金失败: %w", err)
		}
		converted, err := conv.Convert(ctx, st.Address())
		if err != nil {
			return fmt.Errorf("资产转换失败: %w", err)
		}
		if err := c.transfer(ctx, want, st.Address(), converted); err != nil {
			return fmt.Errorf("转换后转入策略失败: %w", err)
		}
	} else {
		if err := c.transfer(ctx, asset, st.Address(), amount); err != nil {
			return fmt.Errorf("转入策略失败: %w", err)
		}
	}
	return st.Deposit(ctx)
}

// Withdraw 仅该资产的注册金库可调；转发给激活策略执行提现。
func (c *Controller) Withdraw(ctx context.Context, caller, asset common.Address, amount *big.Int) error {
	c.stateMu.RLock()
	vault, hasVault := c.vaults[asset]
	st, hasStrategy := c.strategies[asset]
	c.stateMu.RUnlock()

	if !hasVault || caller != vault {
		return fmt.Errorf("%w: %s", ErrNotVault, roles.ErrUnauthorized)
	}
	if !hasStrategy {
		return fmt.Errorf("%w: asset=%s", ErrNoStrategy, asset.Hex())
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return st.Withdraw(ctx, c.self, amount)
}

// BalanceOf 资产激活策略管理的总价值。
func (c *Controller) BalanceOf(ctx context.Context, asset common.Address) (*big.Int, error) {
	c.stateMu.RLock()
	st, ok := c.strategies[asset]
	c.stateMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: asset=%s", ErrNoStrategy, asset.Hex())
	}
	return st.BalanceOf(ctx)
}

// Yearn 回收策略里滞留的非核心代币：清扫 → 换成策略 want →
// 按 rewardSplitBps 分流给奖励汇集账户 → 余额经 Earn 复投。
// 每一阶段都以前后余额差为准，任何一步无所得则整体静默成功。
// 返回本次的回收量与复投量。
func (c *Controller) Yearn(ctx context.Context, caller, strategyAddr, asset common.Address) (*big.Int, *big.Int, error) {
	if err := c.roles.Require(caller, roles.RoleGovernance, roles.RoleStrategist); err != nil {
		return nil, nil, err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.stateMu.RLock()
	st, ok := c.byAddress[strategyAddr]
	c.stateMu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategyAddr.Hex())
	}

	before, err := c.balance(ctx, asset)
	if err != nil {
		return nil, nil, err
	}
	if err := st.SweepDust(ctx, c.self, asset); err != nil {
		return nil, nil, err
	}
	after, err := c.balance(ctx, asset)
	if err != nil {
		return nil, nil, err
	}
	if after.Cmp(before) <= 0 {
		return new(big.Int), new(big.Int), nil
	}
	recovered := domain.Sub(after, before)

	want := st.Want()
	wantBefore, err := c.balance(ctx, want)
	if err != nil {
		return nil, nil, err
	}
	deadline := time.Now().Add(c.swapWindow)
	if err := market.CheckDeadline(deadline); err != nil {
		return nil, nil, err
	}
	path := market.Path(asset, want, c.wrappedNative)
	if err := c.venue.Swap(ctx, recovered, new(big.Int), path, c.self, deadline); err != nil {
		return nil, nil, fmt.Errorf("回收代币兑换失败: %w", err)
	}
	wantAfter, err := c.balance(ctx, want)
	if err != nil {
		return nil, nil, err
	}
	if wantAfter.Cmp(wantBefore) <= 0 {
		return recovered, new(big.Int), nil
	}
	gained := domain.Sub(wantAfter, wantBefore)

	c.stateMu.RLock()
	splitBps := c.rewardSplitBps
	sink := c.rewardsSink
	c.stateMu.RUnlock()
	reward := feesplit.Independent(gained, splitBps)
	if err := c.transfer(ctx, want, sink, reward); err != nil {
		return nil, nil, fmt.Errorf("奖励分流失败: %w", err)
	}
	reinvest := domain.Sub(gained, reward)
	log.Infof("♻️ 回收复投: strategy=%s asset=%s recovered=%s gained=%s reward=%s reinvest=%s",
		strategyAddr.Hex(), asset.Hex(), recovered, gained, reward, reinvest)
	if err := c.earnLocked(ctx, want, reinvest); err != nil {
		return nil, nil, err
	}
	return recovered, reinvest, nil
}

// GetExpectedReturn 只读询价：策略名下全部 asset 若换成其 want 的预期产出。
func (c *Controller) GetExpectedReturn(ctx context.Context, strategyAddr, asset common.Address) (*big.Int, error) {
	c.stateMu.RLock()
	st, ok := c.byAddress[strategyAddr]
	c.stateMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, strategyAddr.Hex())
	}
	tok, err := c.tokens.Token(asset)
	if err != nil {
		return nil, err
	}
	bal, err := tok.BalanceOf(ctx, strategyAddr)
	if err != nil {
		return nil, err
	}
	if bal.Sign() == 0 {
		return new(big.Int), nil
	}
	amounts, err := c.venue.Quote(ctx, bal, market.Path(asset, st.Want(), c.wrappedNative))
	if err != nil {
		return nil, fmt.Errorf("询价失败: %w", err)
	}
	return amounts[len(amounts)-1], nil
}

func (c *Controller) balance(ctx context.Context, asset common.Address) (*big.Int, error) {
	tok, err := c.tokens.Token(asset)
	if err != nil {
		return nil, err
	}
	return tok.BalanceOf(ctx, c.self)
}

func (c *Controller) transfer(ctx context.Context, asset, to common.Address, amount *big.Int) error {
	if !domain.IsPositive(amount) {
		return nil
	}
	tok, err := c.tokens.Token(asset)
	if err != nil {
		return err
	}
	return tok.Transfer(ctx, c.self, to, amount)
}
