package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ChainConfig 链接入配置
type ChainConfig struct {
	RPCURL  string `yaml:"rpc_url"`  // RPC 节点地址（可被环境变量 GOYIELD_RPC_URL 覆盖）
	ChainID int64  `yaml:"chain_id"` // 链 ID
}

// RolesConfig 特权角色地址
type RolesConfig struct {
	Governance string `yaml:"governance"`
	Strategist string `yaml:"strategist"`
	Keeper     string `yaml:"keeper"`
}

// FeesConfig 策略费率（bps，分母 10000）
type FeesConfig struct {
	StrategistBps uint64 `yaml:"strategist_bps"` // 策略师分成，默认 450
	HarvestBps    uint64 `yaml:"harvest_bps"`    // 收割者分成，默认 50
	WithdrawalBps uint64 `yaml:"withdrawal_bps"` // 提现费，默认 50
}

// MarketConfig 借贷市场配置（Compound/LendHub 家族）
type MarketConfig struct {
	CToken       string `yaml:"ctoken"`        // 市场头寸代币地址
	Comptroller  string `yaml:"comptroller"`   // 奖励领取入口
	RewardToken  string `yaml:"reward_token"`  // 市场奖励资产
	RewardSymbol string `yaml:"reward_symbol"` // 奖励资产的报价符号（收割询价用）
}

// AssetConfig 单个在管资产
type AssetConfig struct {
	Symbol string       `yaml:"symbol"`
	Token  string       `yaml:"token"` // want 资产地址
	Vault  string       `yaml:"vault"` // 注册金库地址
	Market MarketConfig `yaml:"market"`
	Fees   FeesConfig   `yaml:"fees"`
}

// SwapConfig 兑换场所配置
type SwapConfig struct {
	Router           string `yaml:"router"`            // UniswapV2 家族路由器
	WrappedNative    string `yaml:"wrapped_native"`    // 包裹原生资产（路径中转）
	Settlement       string `yaml:"settlement"`        // 收割循环的中间结算资产
	SettlementSymbol string `yaml:"settlement_symbol"` // 结算资产的报价符号（收割询价用）
	SlippageBps      uint64 `yaml:"slippage_bps"`      // 收割兑换的滑点容忍度
	DeadlineSeconds  int64  `yaml:"deadline_seconds"`  // 兑换有效窗口（秒），默认 600
}

// KeeperConfig 守护者调度配置
type KeeperConfig struct {
	HarvestCron   string `yaml:"harvest_cron"`   // 收割排程（cron 表达式），默认每小时
	QuoteAPI      string `yaml:"quote_api"`      // 链下询价接口地址（可选）
	QuoteCurrency string `yaml:"quote_currency"` // 询价的计价货币，默认 USDT
	MinGain       string `yaml:"min_gain"`       // 收割增益的告警阈值（十进制整数字符串）
}

// ServerConfig 控制面服务配置
type ServerConfig struct {
	Listen string `yaml:"listen"`  // 监听地址，默认 :8787
	DBPath string `yaml:"db_path"` // sqlite 路径，默认 data/goyield.db
}

// ControllerConfig 控制器参数
type ControllerConfig struct {
	RewardsSink    string `yaml:"rewards_sink"`     // 奖励汇集账户
	RewardSplitBps uint64 `yaml:"reward_split_bps"` // yearn 回收分流比例，默认 500
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	OutputFile string `yaml:"output_file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Config 应用配置
type Config struct {
	Chain      ChainConfig      `yaml:"chain"`
	Roles      RolesConfig      `yaml:"roles"`
	Controller ControllerConfig `yaml:"controller"`
	Assets     []AssetConfig    `yaml:"assets"`
	Swap       SwapConfig       `yaml:"swap"`
	Keeper     KeeperConfig     `yaml:"keeper"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	// SecretStorePath 守护者签名私钥所在的 badger 库路径
	SecretStorePath string `yaml:"secret_store_path"`
	// DryRun 纸上模式：用进程内模拟市场代替链上调用，只打日志不发交易
	DryRun bool `yaml:"dry_run"`
}

// Load 从 yaml 文件加载配置并应用环境变量覆盖。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Swap.DeadlineSeconds == 0 {
		c.Swap.DeadlineSeconds = 600
	}
	if c.Swap.SlippageBps == 0 {
		c.Swap.SlippageBps = 100
	}
	if c.Keeper.HarvestCron == "" {
		c.Keeper.HarvestCron = "0 * * * *"
	}
	if c.Keeper.QuoteCurrency == "" {
		c.Keeper.QuoteCurrency = "USDT"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8787"
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = "data/goyield.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.SecretStorePath == "" {
		c.SecretStorePath = "data/secrets"
	}
	for i := range c.Assets {
		fees := &c.Assets[i].Fees
		if fees.StrategistBps == 0 && fees.HarvestBps == 0 {
			fees.StrategistBps = 450
			fees.HarvestBps = 50
		}
		if fees.WithdrawalBps == 0 {
			fees.WithdrawalBps = 50
		}
	}
	if c.Controller.RewardSplitBps == 0 {
		c.Controller.RewardSplitBps = 500
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GOYIELD_RPC_URL"); v != "" {
		c.Chain.RPCURL = v
	}
	if v := os.Getenv("GOYIELD_QUOTE_API"); v != "" {
		c.Keeper.QuoteAPI = v
	}
}

func (c *Config) validate() error {
	if !c.DryRun && c.Chain.RPCURL == "" {
		return fmt.Errorf("缺少 RPC 节点地址（chain.rpc_url 或 GOYIELD_RPC_URL）")
	}
	if len(c.Assets) == 0 {
		return fmt.Errorf("至少配置一个在管资产")
	}
	return nil
}

// SwapDeadline 兑换有效窗口时长。
func (c *Config) SwapDeadline() time.Duration {
	return time.Duration(c.Swap.DeadlineSeconds) * time.Second
}
