// 控制面服务进程：暴露注册表/余额/费率与收割历史的 HTTP 接口。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/yieldbot/goyield/internal/controlplane/server"
	"github.com/yieldbot/goyield/internal/services"
	"github.com/yieldbot/goyield/pkg/config"
	"github.com/yieldbot/goyield/pkg/logger"
	"github.com/yieldbot/goyield/pkg/secretstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

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

	if err := run(cfg); err != nil {
		logger.Errorf("控制面服务退出: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{Listen: cfg.Server.Listen, DBPath: cfg.Server.DBPath}, svc)
	if err != nil {
		return fmt.Errorf("初始化控制面失败: %w", err)
	}
	defer srv.Close()

	logger.Infof("🚀 控制面服务已启动: listen=%s db=%s", cfg.Server.Listen, cfg.Server.DBPath)
	return srv.Run(ctx)
}

func bootstrap(ctx context.Context, cfg *config.Config) (*services.LedgerService, error) {
	if cfg.DryRun {
		return services.Bootstrap(ctx, cfg, nil)
	}
	storeKey, err := secretstore.ParseKey(os.Getenv("GOYIELD_STORE_KEY"))
	if err != nil {
		return nil, fmt.Errorf("解析store加密密钥失败: %w", err)
	}
	store, err := secretstore.Open(secretstore.OpenOptions{
		Path:          cfg.SecretStorePath,
		EncryptionKey: storeKey,
		ReadOnly:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("打开secretstore失败: %w", err)
	}
	defer store.Close()
	key, err := store.KeeperKey()
	if err != nil {
		return nil, fmt.Errorf("加载守护者私钥失败: %w", err)
	}
	return services.Bootstrap(ctx, cfg, key)
}
