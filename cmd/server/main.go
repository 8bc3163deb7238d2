package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/betbot/arena/internal/bots"
	"github.com/betbot/arena/internal/engine"
	"github.com/betbot/arena/internal/feed"
	"github.com/betbot/arena/internal/follow"
	"github.com/betbot/arena/internal/ledger"
	"github.com/betbot/arena/internal/server"
	"github.com/betbot/arena/pkg/config"
	"github.com/betbot/arena/pkg/logger"
	"github.com/betbot/arena/pkg/persistence"
	"github.com/betbot/arena/pkg/shutdown"
	"github.com/joho/godotenv"
)

func main() {
	// 先加载 .env（缺失则直接用真实环境变量）
	_ = godotenv.Load()

	var configPath = flag.String("config", os.Getenv("ARENA_CONFIG"), "配置文件路径（yaml，可选）")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	mgr := shutdown.NewManager()

	// 状态快照（badger）
	stateDB, err := persistence.OpenBadger(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Errorf("打开状态库失败: %v", err)
		os.Exit(1)
	}

	// 结算历史（sqlite）
	repo, err := server.OpenRepo(filepath.Join(cfg.DataDir, "arena.db"))
	if err != nil {
		logger.Errorf("打开历史库失败: %v", err)
		os.Exit(1)
	}

	// 价格源
	source := feed.NewBinanceSource(cfg.Symbol, cfg.ProxyURL, cfg.Game.SampleWindow)
	source.Start()
	mgr.OnShutdown(func(ctx context.Context) { source.Stop() })

	// 核心组件
	spec := cfg.ClockSpec()
	l := ledger.New(cfg.LedgerConfig(), spec, nil)
	b := bots.New(cfg.BotsConfig(), bots.DefaultRoster())
	f := follow.New(l)

	eng := engine.New(engine.Config{
		PricePrecision:    int32(cfg.Game.PricePrecision),
		RoadmapRows:       cfg.Game.RoadmapRows,
		HistoryLimit:      cfg.Game.HistoryLimit,
		SnapshotTolerance: time.Duration(cfg.Game.SnapshotToleranceSec) * time.Second,
	}, spec, source, l, b, f, nil)
	eng.SetHistorySink(repo)
	eng.SetStateStore(stateDB.NewStore("engine", "arena", "state"))
	eng.Start()
	mgr.OnShutdown(func(ctx context.Context) { eng.Stop() })

	// HTTP API
	srv := server.New(eng, repo)
	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("arena server 监听 %s (symbol=%s)", cfg.Listen, cfg.Symbol)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("http server 错误: %v", err)
		}
	}()
	mgr.OnShutdown(func(ctx context.Context) { _ = httpSrv.Shutdown(ctx) })

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	<-stopCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mgr.Shutdown(ctx)

	// 引擎停止后再关存储：停机时还有一次状态快照写入
	_ = repo.Close()
	_ = stateDB.Close()

	fmt.Println("arena server 已停止")
}
