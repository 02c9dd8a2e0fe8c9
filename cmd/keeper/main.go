// 守护者进程：按排程对各在管资产执行收割，并用链下询价
// 给收割增益估值，低于阈值时告警。
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/yieldbot/goyield/internal/controlplane/server"
	"github.com/yieldbot/goyield/internal/quotes"
	"github.com/yieldbot/goyield/internal/services"
	"github.com/yieldbot/goyield/pkg/config"
	"github.com/yieldbot/goyield/pkg/logger"
	"github.com/yieldbot/goyield/pkg/secretstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	setKey := flag.String("set-key", "", "写入守护者签名私钥（hex）后退出")
	flag.Parse()

	// .env 可覆盖 RPC 地址、store 加密密钥等
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.OutputFile,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, *setKey); err != nil {
		logger.Errorf("守护者进程退出: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, setKey string) error {
	storeKey, err := secretstore.ParseKey(os.Getenv("GOYIELD_STORE_KEY"))
	if err != nil {
		return fmt.Errorf("解析store加密密钥失败: %w", err)
	}
	store, err := secretstore.Open(secretstore.OpenOptions{
		Path:          cfg.SecretStorePath,
		EncryptionKey: storeKey,
	})
	if err != nil {
		return fmt.Errorf("打开secretstore失败: %w", err)
	}
	defer store.Close()

	if setKey != "" {
		if err := store.SetKeeperKey(setKey); err != nil {
			return err
		}
		logger.Infof("✅ 守护者签名私钥已写入")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap(ctx, cfg, store)
	if err != nil {
		return err
	}

	// 收割历史与控制面共用同一个 sqlite 库
	hist, err := server.OpenHistory(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("打开历史库失败: %w", err)
	}
	defer hist.Close()

	var quoteClient *quotes.Client
	if cfg.Keeper.QuoteAPI != "" {
		quoteClient = quotes.NewClient(cfg.Keeper.QuoteAPI)
	}
	minGain := new(big.Int)
	if cfg.Keeper.MinGain != "" {
		if _, ok := minGain.SetString(cfg.Keeper.MinGain, 10); !ok {
			return fmt.Errorf("无效的 min_gain: %s", cfg.Keeper.MinGain)
		}
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Keeper.HarvestCron, func() {
		harvestAll(ctx, svc, hist, quoteClient, cfg.Keeper.QuoteCurrency, minGain, cfg.Swap.SlippageBps)
	}); err != nil {
		return fmt.Errorf("注册收割排程失败: %w", err)
	}
	c.Start()
	logger.Infof("⏰ 守护者已启动: schedule=%q assets=%d dryRun=%v",
		cfg.Keeper.HarvestCron, len(svc.Entries()), cfg.DryRun)

	<-ctx.Done()
	cronCtx := c.Stop()
	<-cronCtx.Done()
	logger.Infof("👋 守护者已停止")
	return nil
}

func bootstrap(ctx context.Context, cfg *config.Config, store *secretstore.Store) (*services.LedgerService, error) {
	if cfg.DryRun {
		return services.Bootstrap(ctx, cfg, nil)
	}
	key, err := store.KeeperKey()
	if err != nil {
		return nil, fmt.Errorf("加载守护者私钥失败: %w", err)
	}
	return services.Bootstrap(ctx, cfg, key)
}

// harvestAll 对每个在管资产执行一次收割，逐个隔离失败，并逐笔落历史。
func harvestAll(ctx context.Context, svc *services.LedgerService, hist *server.History, quoteClient *quotes.Client, quoteCurrency string, minGain *big.Int, slippageBps uint64) {
	for _, entry := range svc.Entries() {
		gain, err := svc.TriggerHarvest(ctx, entry.Token)
		if err != nil {
			logger.Errorf("❌ 收割失败: asset=%s err=%v", entry.Symbol, err)
			continue
		}
		if _, err := hist.RecordHarvest(ctx, entry.Token.Hex(), "keeper", gain.String()); err != nil {
			logger.Warnf("⚠️ 收割历史落库失败: asset=%s err=%v", entry.Symbol, err)
		}
		if gain.Sign() == 0 {
			continue
		}
		if quoteClient != nil {
			// 用链下参考价把增益折算成计价货币，低于阈值仅告警不回滚
			mid, err := quoteClient.MidPrice(ctx, entry.Symbol, quoteCurrency)
			if err != nil {
				logger.Warnf("⚠️ 询价失败: asset=%s err=%v", entry.Symbol, err)
			} else {
				value := quotes.MinOut(gain, mid, slippageBps)
				logger.Infof("💹 收割估值: asset=%s gain=%s mid=%s value≥%s",
					entry.Symbol, gain, mid.StringFixed(6), value)
			}
		}
		if minGain.Sign() > 0 && gain.Cmp(minGain) < 0 {
			logger.Warnf("⚠️ 收割增益低于阈值: asset=%s gain=%s min=%s", entry.Symbol, gain, minGain)
		}
	}
}
