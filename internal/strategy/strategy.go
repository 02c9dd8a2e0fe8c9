// Package strategy 单资产收益策略：把闲置的 want 存入外部借贷市场，
// 执行「领奖励 → 换结算资产 → 抽费 → 回购 want → 复投」的收割循环，
// 并为金库提现提供缺口恢复。
//
// 核心记账纪律：不缓存任何余额字段，每个决策点都重新向代币/市场查询，
// 这是对外部调用重入的承重防线，不能破坏。
package strategy

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

var (
	// ErrNoVault want 对应的金库未注册，提现无处可去。
	ErrNoVault = errors.New("no vault registered for want")
	// ErrProtectedAsset 尘埃清扫触碰了受保护的核心资产。
	ErrProtectedAsset = errors.New("protected asset cannot be swept")
	// ErrFeeTooHigh 费率组合超过分母上限。
	ErrFeeTooHigh = errors.New("combined fee exceeds denominator")
)

// Controller 策略对控制器的最小依赖视图。
type Controller interface {
	Address() common.Address
	RewardsSink() common.Address
	VaultFor(asset common.Address) (common.Address, bool)
}

// Quoter 收割兑换的链下询价器：按参考价与滑点容忍度
// 给出 from→to 兑换的最小可接受产出。
type Quoter interface {
	MinOut(ctx context.Context, amountIn *big.Int, from, to common.Address) (*big.Int, error)
}

// Config 策略构造参数。费率默认值与参考部署一致（450/50/50 bps）。
type Config struct {
	Self          common.Address // 策略资金账户
	Want          common.Address
	Settlement    common.Address // 收割循环的中间结算资产
	WrappedNative common.Address

	StrategistFeeBps uint64
	HarvestFeeBps    uint64
	WithdrawalFeeBps uint64

	// SwapWindow 收割内兑换的有效窗口，0 取默认 10 分钟。
	SwapWindow time.Duration

	// Quoter 可选。设置后收割内的每笔兑换都带链下询价得出的
	// 最小产出下限，询价失败则整次收割失败。
	Quoter Quoter
}

// Strategy 单 want 策略实例。资金变动入口由内部互斥锁串行化，
// 等价于宿主为序列化执行环境时的「一次一笔资金操作」保证。
type Strategy struct {
	mu sync.Mutex

	self          common.Address
	want          common.Address
	settlement    common.Address
	wrappedNative common.Address

	strategistFeeBps uint64
	harvestFeeBps    uint64
	withdrawalFeeBps uint64
	swapWindow       time.Duration

	adapter    *market.Adapter
	tokens     token.Resolver
	roles      *roles.Table
	controller Controller
	quoter     Quoter

	log *logrus.Entry
}

// New 创建策略。controller/adapter/tokens/roles 缺一不可。
func New(cfg Config, adapter *market.Adapter, tokens token.Resolver, table *roles.Table, controller Controller) (*Strategy, error) {
	if adapter == nil || tokens == nil || table == nil || controller == nil {
		return nil, fmt.Errorf("strategy requires adapter, tokens, roles and controller")
	}
	if cfg.StrategistFeeBps > domain.FeeDenominator || cfg.HarvestFeeBps > domain.FeeDenominator ||
		cfg.StrategistFeeBps+cfg.HarvestFeeBps > domain.FeeDenominator {
		return nil, fmt.Errorf("%w: strategist=%d harvest=%d", ErrFeeTooHigh, cfg.StrategistFeeBps, cfg.HarvestFeeBps)
	}
	if cfg.WithdrawalFeeBps > domain.FeeDenominator {
		return nil, fmt.Errorf("%w: withdrawal=%d", ErrFeeTooHigh, cfg.WithdrawalFeeBps)
	}
	window := cfg.SwapWindow
	if window == 0 {
		window = 10 * time.Minute
	}
	return &Strategy{
		self:             cfg.Self,
		want:             cfg.Want,
		settlement:       cfg.Settlement,
		wrappedNative:    cfg.WrappedNative,
		strategistFeeBps: cfg.StrategistFeeBps,
		harvestFeeBps:    cfg.HarvestFeeBps,
		withdrawalFeeBps: cfg.WithdrawalFeeBps,
		swapWindow:       window,
		adapter:          adapter,
		tokens:           tokens,
		roles:            table,
		controller:       controller,
		quoter:           cfg.Quoter,
		log:              logrus.WithField("module", "strategy").WithField("want", cfg.Want.Hex()),
	}, nil
}

// Address 策略资金账户地址。
func (s *Strategy) Address() common.Address { return s.self }

// Want 本策略管理的资产。
func (s *Strategy) Want() common.Address { return s.want }

// WithdrawalFee 当前提现费率（bps）。
func (s *Strategy) WithdrawalFee() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withdrawalFeeBps
}

// balance 实时读取 self 持有的 asset 余额。
func (s *Strategy) balance(ctx context.Context, asset common.Address) (*big.Int, error) {
	tok, err := s.tokens.Token(asset)
	if err != nil {
		return nil, fmt.Errorf("解析资产 %s 失败: %w", asset.Hex(), err)
	}
	return tok.BalanceOf(ctx, s.self)
}

func (s *Strategy) transfer(ctx context.Context, asset, to common.Address, amount *big.Int) error {
	if !domain.IsPositive(amount) {
		return nil
	}
	tok, err := s.tokens.Token(asset)
	if err != nil {
		return fmt.Errorf("解析资产 %s 失败: %w", asset.Hex(), err)
	}
	return tok.Transfer(ctx, s.self, to, amount)
}

// IdleBalance 策略自持的 want 余额。
func (s *Strategy) IdleBalance(ctx context.Context) (*big.Int, error) {
	return s.balance(ctx, s.want)
}

// PooledBalance 已存入市场的价值（want 计）。
func (s *Strategy) PooledBalance(ctx context.Context) (*big.Int, error) {
	return s.adapter.PooledValue(ctx)
}

// BalanceOf 策略管理的总价值 = 闲置 + 在池。
func (s *Strategy) BalanceOf(ctx context.Context) (*big.Int, error) {
	idle, err := s.IdleBalance(ctx)
	if err != nil {
		return nil, err
	}
	pooled, err := s.PooledBalance(ctx)
	if err != nil {
		return nil, err
	}
	return domain.Add(idle, pooled), nil
}

// Deposit 把全部闲置 want 存入市场。闲置为零时静默成功。
func (s *Strategy) Deposit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depositLocked(ctx)
}

func (s *Strategy) depositLocked(ctx context.Context) error {
	idle, err := s.IdleBalance(ctx)
	if err != nil {
		return err
	}
	if idle.Sign() == 0 {
		return nil
	}
	if err := s.adapter.Deposit(ctx, idle); err != nil {
		return err
	}
	s.log.Infof("📥 存入市场: amount=%s", idle)
	return nil
}

// Withdraw 仅控制器可调。闲置不足时从市场赎回缺口，
// 以实际到账差值计量；费按成交额（非请求额）收取，
// 费入控制器的奖励汇集账户，余额转给 want 的注册金库。
func (s *Strategy) Withdraw(ctx context.Context, caller common.Address, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.controller.Address() {
		return fmt.Errorf("%w: withdraw is controller-only", roles.ErrUnauthorized)
	}
	if !domain.IsPositive(amount) {
		return nil
	}

	idle, err := s.IdleBalance(ctx)
	if err != nil {
		return err
	}
	fulfilled := domain.Clone(amount)
	if idle.Cmp(amount) < 0 {
		recovered, err := s.withdrawSomeLocked(ctx, domain.Sub(amount, idle))
		if err != nil {
			return err
		}
		fulfilled = domain.Add(idle, recovered)
	}

	fee := feesplit.Independent(fulfilled, s.withdrawalFeeBps)
	vault, ok := s.controller.VaultFor(s.want)
	if !ok {
		return fmt.Errorf("%w: want=%s", ErrNoVault, s.want.Hex())
	}
	if err := s.transfer(ctx, s.want, s.controller.RewardsSink(), fee); err != nil {
		return fmt.Errorf("提现费转账失败: %w", err)
	}
	net := domain.Sub(fulfilled, fee)
	if err := s.transfer(ctx, s.want, vault, net); err != nil {
		return fmt.Errorf("提现转账失败: %w", err)
	}
	s.log.Infof("📤 提现完成: requested=%s fulfilled=%s fee=%s net=%s", amount, fulfilled, fee, net)
	return nil
}

// withdrawSomeLocked 从市场赎回至多 amount，返回实际到账差值。
// 市场可能受限少付，这里只信余额前后差，不信请求额。
func (s *Strategy) withdrawSomeLocked(ctx context.Context, amount *big.Int) (*big.Int, error) {
	before, err := s.IdleBalance(ctx)
	if err != nil {
		return nil, err
	}
	pooled, err := s.PooledBalance(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.adapter.Redeem(ctx, domain.Min(amount, pooled)); err != nil {
		return nil, err
	}
	after, err := s.IdleBalance(ctx)
	if err != nil {
		return nil, err
	}
	return domain.Sub(after, before), nil
}

// swapMinOut 收割兑换的最小产出下限。未配置询价器时为零（不设限）。
func (s *Strategy) swapMinOut(ctx context.Context, amountIn *big.Int, from, to common.Address) (*big.Int, error) {
	if s.quoter == nil {
		return new(big.Int), nil
	}
	minOut, err := s.quoter.MinOut(ctx, amountIn, from, to)
	if err != nil {
		return nil, fmt.Errorf("收割询价失败 %s->%s: %w", from.Hex(), to.Hex(), err)
	}
	return minOut, nil
}

// WithdrawAll 仅控制器可调：赎回全部在池价值并把 want 全额转给金库。
// 此路径不收提现费（整体退出/迁移语义，与部分提现不对称）。
func (s *Strategy) WithdrawAll(ctx context.Context, caller common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.controller.Address() {
		return nil, fmt.Errorf("%w: withdrawAll is controller-only", roles.ErrUnauthorized)
	}
	pooled, err := s.PooledBalance(ctx)
	if err != nil {
		return nil, err
	}
	if pooled.Sign() > 0 {
		if err := s.adapter.Redeem(ctx, pooled); err != nil {
			return nil, err
		}
	}
	bal, err := s.IdleBalance(ctx)
	if err != nil {
		return nil, err
	}
	vault, ok := s.controller.VaultFor(s.want)
	if !ok {
		return nil, fmt.Errorf("%w: want=%s", ErrNoVault, s.want.Hex())
	}
	if err := s.transfer(ctx, s.want, vault, bal); err != nil {
		return nil, fmt.Errorf("整体退出转账失败: %w", err)
	}
	s.log.Infof("🏁 整体退出: amount=%s vault=%s", bal, vault.Hex())
	return bal, nil
}

// SweepDust 仅控制器可调：把误入策略的非核心代币全额转给控制器。
// want、市场头寸代币、奖励代币受保护，防止经清扫路径抽走在管资金。
func (s *Strategy) SweepDust(ctx context.Context, caller, asset common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.controller.Address() {
		return fmt.Errorf("%w: sweep is controller-only", roles.ErrUnauthorized)
	}
	if asset == s.want || asset == s.adapter.PositionToken() || asset == s.adapter.RewardToken() {
		return fmt.Errorf("%w: %s", ErrProtectedAsset, asset.Hex())
	}
	bal, err := s.balance(ctx, asset)
	if err != nil {
		return err
	}
	if bal.Sign() == 0 {
		return nil
	}
	if err := s.transfer(ctx, asset, s.controller.Address(), bal); err != nil {
		return fmt.Errorf("尘埃清扫转账失败: %w", err)
	}
	s.log.Infof("🧹 尘埃清扫: asset=%s amount=%s", asset.Hex(), bal)
	return nil
}

// Harvest 收割循环：领取市场奖励 → 换成结算资产 → 按比例抽
// 策略师费与收割费 → 剩余全部换回 want → 有增益则复投。
// 每一步对零余额静默短路，整个调用要么全做完要么原样失败。
//
// 权限：治理/策略师/守护者，或任何人为直接发起的调用
// （经其它合约代理的调用除外）。
func (s *Strategy) Harvest(ctx context.Context, caller domain.Caller) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !caller.IsDirect() && !s.roles.IsAny(caller.Sender, roles.RoleGovernance, roles.RoleStrategist, roles.RoleKeeper) {
		return fmt.Errorf("%w: harvest requires keeper/strategist/governance or a direct caller", roles.ErrUnauthorized)
	}

	before, err := s.IdleBalance(ctx)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(s.swapWindow)

	// 1. 领取市场奖励并换成结算资产
	if err := s.adapter.Claim(ctx, s.self); err != nil {
		return err
	}
	rewardTok := s.adapter.RewardToken()
	if rewardTok != (common.Address{}) && rewardTok != s.settlement {
		rbal, err := s.balance(ctx, rewardTok)
		if err != nil {
			return err
		}
		if rbal.Sign() > 0 {
			minOut, err := s.swapMinOut(ctx, rbal, rewardTok, s.settlement)
			if err != nil {
				return err
			}
			path := market.Path(rewardTok, s.settlement, s.wrappedNative)
			if err := s.adapter.Swap(ctx, rbal, minOut, path, s.self, deadline); err != nil {
				return fmt.Errorf("奖励换结算资产失败: %w", err)
			}
		}
	}

	// 2. 抽取策略师费与收割费（按两费率占比切分总费）
	sbal, err := s.balance(ctx, s.settlement)
	if err != nil {
		return err
	}
	if sbal.Sign() > 0 {
		total, shares := feesplit.Proportional(sbal, s.strategistFeeBps, s.harvestFeeBps)
		if total.Sign() > 0 {
			if err := s.transfer(ctx, s.settlement, s.roles.Holder(roles.RoleStrategist), shares[0]); err != nil {
				return fmt.Errorf("策略师费转账失败: %w", err)
			}
			if err := s.transfer(ctx, s.settlement, caller.Sender, shares[1]); err != nil {
				return fmt.Errorf("收割费转账失败: %w", err)
			}
			s.log.Infof("💰 收割抽费: gross=%s strategist=%s caller=%s", total, shares[0], shares[1])
		}
	}

	// 3. 剩余结算资产全部换回 want
	if s.want != s.settlement {
		sbal, err = s.balance(ctx, s.settlement)
		if err != nil {
			return err
		}
		if sbal.Sign() > 0 {
			minOut, err := s.swapMinOut(ctx, sbal, s.settlement, s.want)
			if err != nil {
				return err
			}
			path := market.Path(s.settlement, s.want, s.wrappedNative)
			if err := s.adapter.Swap(ctx, sbal, minOut, path, s.self, deadline); err != nil {
				return fmt.Errorf("回购 want 失败: %w", err)
			}
		}
	}

	// 4. 有增益则复投
	after, err := s.IdleBalance(ctx)
	if err != nil {
		return err
	}
	gain := domain.Sub(after, before)
	if gain.Sign() > 0 {
		if err := s.depositLocked(ctx); err != nil {
			return err
		}
	}
	s.log.Infof("🌾 收割完成: gain=%s caller=%s", gain, caller.Sender.Hex())
	return nil
}

// SetStrategistFee 治理或策略师可调；组合费率不得超过分母。
func (s *Strategy) SetStrategistFee(caller common.Address, bps uint64) error {
	if err := s.roles.Require(caller, roles.RoleGovernance, roles.RoleStrategist); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// 先按分母约束单个费率，再求和，避免 uint64 相加回绕绕过上限
	if bps > domain.FeeDenominator || bps+s.harvestFeeBps > domain.FeeDenominator {
		return fmt.Errorf("%w: strategist=%d harvest=%d", ErrFeeTooHigh, bps, s.harvestFeeBps)
	}
	s.strategistFeeBps = bps
	return nil
}

// SetHarvestFee 仅治理可调；组合费率不得超过分母。
func (s *Strategy) SetHarvestFee(caller common.Address, bps uint64) error {
	if err := s.roles.Require(caller, roles.RoleGovernance); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if bps > domain.FeeDenominator || s.strategistFeeBps+bps > domain.FeeDenominator {
		return fmt.Errorf("%w: strategist=%d harvest=%d", ErrFeeTooHigh, s.strategistFeeBps, bps)
	}
	s.harvestFeeBps = bps
	return nil
}

// SetWithdrawalFee 仅治理可调。
func (s *Strategy) SetWithdrawalFee(caller common.Address, bps uint64) error {
	if err := s.roles.Require(caller, roles.RoleGovernance); err != nil {
		return err
	}
	if bps > domain.FeeDenominator {
		return fmt.Errorf("%w: withdrawal=%d", ErrFeeTooHigh, bps)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.withdrawalFeeBps = bps
	return nil
}

// Fees 当前费率快照（strategist, harvest, withdrawal）。
func (s *Strategy) Fees() (uint64, uint64, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategistFeeBps, s.harvestFeeBps, s.withdrawalFeeBps
}
