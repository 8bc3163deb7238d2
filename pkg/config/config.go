package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/betbot/arena/internal/bots"
	"github.com/betbot/arena/internal/clock"
	"github.com/betbot/arena/internal/domain"
	"github.com/betbot/arena/internal/ledger"
	"gopkg.in/yaml.v3"
)

// GameConfig 游戏核心参数（均可外部配置，默认值见 DefaultGame)
type GameConfig struct {
	EpochUnix            int64   `yaml:"epoch_unix"`             // 回合编号起点（Unix 秒）
	BettingSeconds       int     `yaml:"betting_seconds"`        // 下注阶段时长（默认 25）
	LockingSeconds       int     `yaml:"locking_seconds"`        // 锁定阶段时长（默认 5）
	LiveSeconds          int     `yaml:"live_seconds"`           // 开盘阶段时长（默认 30）
	WinMultiplier        float64 `yaml:"win_multiplier"`         // 直接注单赔率（默认 1.95）
	BotPayoutMultiplier  float64 `yaml:"bot_payout_multiplier"`  // 跟注基础赔率（默认 1.95）
	BiasWeight           float64 `yaml:"bias_weight"`            // 机器人风格偏向（默认 0.62）
	StartingBalance      float64 `yaml:"starting_balance"`       // 新账户初始余额（默认 1000）
	RoadmapRows          int     `yaml:"roadmap_rows"`           // 路子图行容量（默认 6）
	PricePrecision       int     `yaml:"price_precision"`        // 价格比较精度（默认 2 位小数）
	HistoryLimit         int     `yaml:"history_limit"`          // 回合历史窗口（默认 256）
	SampleWindow         int     `yaml:"sample_window"`          // 价格样本窗口（默认 512）
	SnapshotToleranceSec int     `yaml:"snapshot_tolerance_sec"` // 边界取价最大滞后秒数（默认 2）

	// TierFees 各等级跟注费率覆盖（默认 premiumHigh=0.10 premiumMid=0.05 challenge=0.015）
	TierFees map[string]float64 `yaml:"tier_fees"`
}

// Config 应用配置
type Config struct {
	Listen   string     `yaml:"listen"`    // HTTP 监听地址
	Symbol   string     `yaml:"symbol"`    // 价格源交易对，如 btcusdt
	ProxyURL string     `yaml:"proxy_url"` // 可选代理
	DataDir  string     `yaml:"data_dir"`  // badger/sqlite 数据目录
	LogLevel string     `yaml:"log_level"` // 日志级别
	LogFile  string     `yaml:"log_file"`  // 日志文件路径
	Game     GameConfig `yaml:"game"`
}

// DefaultGame 默认游戏参数
func DefaultGame() GameConfig {
	return GameConfig{
		EpochUnix:            clock.DefaultEpoch.Unix(),
		BettingSeconds:       25,
		LockingSeconds:       5,
		LiveSeconds:          30,
		WinMultiplier:        1.95,
		BotPayoutMultiplier:  1.95,
		BiasWeight:           0.62,
		StartingBalance:      1000,
		RoadmapRows:          6,
		PricePrecision:       2,
		HistoryLimit:         256,
		SampleWindow:         512,
		SnapshotToleranceSec: 2,
	}
}

// Default 默认应用配置
func Default() *Config {
	return &Config{
		Listen:   ":8080",
		Symbol:   "btcusdt",
		DataDir:  "data",
		LogLevel: "info",
		LogFile:  "logs/arena.log",
		Game:     DefaultGame(),
	}
}

// Load 加载配置：文件（可选） -> 环境变量覆盖 -> 默认值兜底
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败 %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败 %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv 环境变量覆盖（优先级：环境变量 > 配置文件 > 默认值）
func applyEnv(cfg *Config) {
	if v := os.Getenv("ARENA_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("ARENA_SYMBOL"); v != "" {
		cfg.Symbol = v
	}
	if v := os.Getenv("ARENA_PROXY_URL"); v != "" {
		cfg.ProxyURL = v
	}
	if v := os.Getenv("ARENA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("ARENA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ARENA_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := parseInt64Env("ARENA_EPOCH_UNIX"); v != nil {
		cfg.Game.EpochUnix = *v
	}
	if v := parseFloatEnv("ARENA_WIN_MULTIPLIER"); v != nil {
		cfg.Game.WinMultiplier = *v
	}
	if v := parseFloatEnv("ARENA_STARTING_BALANCE"); v != nil {
		cfg.Game.StartingBalance = *v
	}
}

// applyDefaults 对缺省字段补默认值（文件里写了 0 视为缺省）
func applyDefaults(cfg *Config) {
	def := DefaultGame()
	g := &cfg.Game
	if g.EpochUnix == 0 {
		g.EpochUnix = def.EpochUnix
	}
	if g.BettingSeconds <= 0 {
		g.BettingSeconds = def.BettingSeconds
	}
	if g.LockingSeconds <= 0 {
		g.LockingSeconds = def.LockingSeconds
	}
	if g.LiveSeconds <= 0 {
		g.LiveSeconds = def.LiveSeconds
	}
	if g.WinMultiplier <= 0 {
		g.WinMultiplier = def.WinMultiplier
	}
	if g.BotPayoutMultiplier <= 0 {
		g.BotPayoutMultiplier = def.BotPayoutMultiplier
	}
	if g.BiasWeight <= 0 || g.BiasWeight >= 1 {
		g.BiasWeight = def.BiasWeight
	}
	if g.StartingBalance <= 0 {
		g.StartingBalance = def.StartingBalance
	}
	if g.RoadmapRows <= 0 {
		g.RoadmapRows = def.RoadmapRows
	}
	if g.PricePrecision <= 0 {
		g.PricePrecision = def.PricePrecision
	}
	if g.HistoryLimit <= 0 {
		g.HistoryLimit = def.HistoryLimit
	}
	if g.SampleWindow <= 0 {
		g.SampleWindow = def.SampleWindow
	}
	if g.SnapshotToleranceSec <= 0 {
		g.SnapshotToleranceSec = def.SnapshotToleranceSec
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := c.ClockSpec().Validate(); err != nil {
		return err
	}
	if c.Game.WinMultiplier <= 1 {
		return fmt.Errorf("win_multiplier 必须大于 1: %v", c.Game.WinMultiplier)
	}
	if c.Game.BotPayoutMultiplier <= 1 {
		return fmt.Errorf("bot_payout_multiplier 必须大于 1: %v", c.Game.BotPayoutMultiplier)
	}
	for tier, fee := range c.Game.TierFees {
		if fee < 0 || fee >= 1 {
			return fmt.Errorf("tier_fees[%s] 超出 [0,1): %v", tier, fee)
		}
	}
	return nil
}

// ClockSpec 构造回合时钟规格
func (c *Config) ClockSpec() clock.Spec {
	return clock.Spec{
		Epoch:           time.Unix(c.Game.EpochUnix, 0).UTC(),
		BettingDuration: time.Duration(c.Game.BettingSeconds) * time.Second,
		LockingDuration: time.Duration(c.Game.LockingSeconds) * time.Second,
		LiveDuration:    time.Duration(c.Game.LiveSeconds) * time.Second,
	}
}

// LedgerConfig 构造账本配置
func (c *Config) LedgerConfig() ledger.Config {
	return ledger.Config{
		WinMultiplier:       c.Game.WinMultiplier,
		BotPayoutMultiplier: c.Game.BotPayoutMultiplier,
		StartingBalance:     domain.AmountFromUnits(c.Game.StartingBalance),
	}
}

// BotsConfig 构造机器人引擎配置
func (c *Config) BotsConfig() bots.Config {
	cfg := bots.Config{BiasWeight: c.Game.BiasWeight}
	if len(c.Game.TierFees) > 0 {
		cfg.FeeOverrides = make(map[domain.Tier]float64, len(c.Game.TierFees))
		for tier, fee := range c.Game.TierFees {
			cfg.FeeOverrides[domain.Tier(tier)] = fee
		}
	}
	return cfg
}

// TierFee 查询等级费率（配置覆盖优先，否则用等级默认值）
func (c *Config) TierFee(tier domain.Tier) float64 {
	if fee, ok := c.Game.TierFees[string(tier)]; ok {
		return fee
	}
	return tier.FeeRate()
}

func parseFloatEnv(key string) *float64 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func parseInt64Env(key string) *int64 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
