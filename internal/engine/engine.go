package engine

import (
	"context"
	"sync"
	"time"

	"github.com/betbot/arena/internal/bots"
	"github.com/betbot/arena/internal/clock"
	"github.com/betbot/arena/internal/domain"
	"github.com/betbot/arena/internal/feed"
	"github.com/betbot/arena/internal/follow"
	"github.com/betbot/arena/internal/ledger"
	"github.com/betbot/arena/internal/resolver"
	"github.com/betbot/arena/internal/roadmap"
	"github.com/betbot/arena/pkg/persistence"
	"github.com/betbot/arena/pkg/syncgroup"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "engine")

// tickInterval 时钟轮询间隔
// 触发条件是“当前时间越过回合结束边界”，而不是计数式定时器：
// 漏拍/延迟的 tick 在下一次轮询自动补齐，不会累计漂移
const tickInterval = 250 * time.Millisecond

// defaultSnapshotTolerance 阶段边界观测的默认最大滞后
// 正常轮询下观测只落后边界一个 tick；超过该值说明进程曾经卡顿，
// 此刻的市价已不能代表边界价，相关回合按 unresolved 退注
const defaultSnapshotTolerance = 2 * time.Second

// HistorySink 结算历史落库接口（可选，由外层提供 sqlite 实现）
type HistorySink interface {
	RecordRound(entry domain.RoundHistoryEntry) error
	RecordSettlements(settled []domain.SettledBet) error
}

// Config 引擎配置
type Config struct {
	PricePrecision    int32         // 结算价格比较精度
	RoadmapRows       int           // 路子图行容量
	HistoryLimit      int           // 内存历史窗口
	SnapshotTolerance time.Duration // 边界观测最大滞后，超过则该回合按未决处理
}

// Engine 回合生命周期引擎
// 单向数据流：时钟 tick -> 价格快照 -> 结果判定 -> 账本结算 ->
// 历史追加 -> 机器人记分 -> 跟单为下一窗口重新下注
type Engine struct {
	cfg    Config
	spec   clock.Spec
	now    func() time.Time
	source feed.Source

	Ledger *ledger.Ledger
	Bots   *bots.Engine
	Follow *follow.Controller

	mu         sync.RWMutex
	history    *roadmap.History
	basePrices map[int64]float64 // round -> live 阶段起点的基准价
	lastRound  int64
	lastPhase  domain.Phase

	sink  HistorySink
	store persistence.Store

	ctx    context.Context
	cancel context.CancelFunc
	sg     *syncgroup.SyncGroup
}

// New 创建引擎
func New(cfg Config, spec clock.Spec, source feed.Source, l *ledger.Ledger, b *bots.Engine, f *follow.Controller, nowFn func() time.Time) *Engine {
	if nowFn == nil {
		nowFn = time.Now
	}
	if cfg.PricePrecision <= 0 {
		cfg.PricePrecision = resolver.DefaultPrecision
	}
	if cfg.RoadmapRows <= 0 {
		cfg.RoadmapRows = roadmap.DefaultRows
	}
	if cfg.SnapshotTolerance <= 0 {
		cfg.SnapshotTolerance = defaultSnapshotTolerance
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:        cfg,
		spec:       spec,
		now:        nowFn,
		source:     source,
		Ledger:     l,
		Bots:       b,
		Follow:     f,
		history:    roadmap.NewHistory(cfg.HistoryLimit),
		basePrices: make(map[int64]float64),
		ctx:        ctx,
		cancel:     cancel,
		sg:         syncgroup.NewSyncGroup(),
	}
}

// SetHistorySink 设置结算历史落库（启动前调用）
func (e *Engine) SetHistorySink(sink HistorySink) { e.sink = sink }

// SetStateStore 设置状态快照存储（启动前调用；启动时自动恢复）
func (e *Engine) SetStateStore(store persistence.Store) { e.store = store }

// Start 启动引擎循环
func (e *Engine) Start() {
	e.restoreState()

	state := e.spec.At(e.now())
	e.mu.Lock()
	e.lastRound = state.Round
	e.lastPhase = state.Phase
	e.mu.Unlock()

	// 启动时若已处于 betting 阶段，立即生成预测并触发跟单
	if state.Phase == domain.PhaseBetting {
		e.Bots.DrawPredictions(state.Round)
		e.Follow.OnBettingStart(state.Round)
	}

	e.sg.Go(e.loop)
	log.Infof("引擎已启动: round=%d phase=%s", state.Round, state.Phase)
}

// Stop 停止引擎并等待循环退出
func (e *Engine) Stop() {
	e.cancel()
	e.sg.Wait()
	e.saveState()
	log.Info("引擎已停止")
}

// ClockState 当前回合时钟状态（纯读，无锁竞争）
func (e *Engine) ClockState() clock.State {
	return e.spec.At(e.now())
}

// Spec 回合时钟规格
func (e *Engine) Spec() clock.Spec { return e.spec }

func (e *Engine) loop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.step()
		}
	}
}

// step 处理一次时钟观测
// 所有阶段转换都从时间推导：比较上次观测与本次观测，补齐中间漏掉的边界
func (e *Engine) step() {
	state := e.spec.At(e.now())

	e.mu.Lock()
	lastRound, lastPhase := e.lastRound, e.lastPhase
	e.lastRound, e.lastPhase = state.Round, state.Phase
	e.mu.Unlock()

	if state.Round == lastRound && state.Phase == lastPhase {
		return
	}

	// 越过回合结束边界：结算所有已结束且未结算的回合
	// （进程卡顿跨越多个回合时逐一补结算，缺失快照的回合按 unresolved 退注）
	for r := lastRound; r < state.Round; r++ {
		e.settleRound(r)
	}

	if state.Round != lastRound {
		// 新回合从 betting 开始
		e.onBettingStart(state.Round)
		lastPhase = domain.PhaseBetting
	}

	// 本回合内的阶段推进
	if state.Phase == domain.PhaseLive && lastPhase != domain.PhaseLive {
		e.onLiveStart(state.Round)
	}
}

// onBettingStart 回合进入 betting 窗口
func (e *Engine) onBettingStart(round int64) {
	log.Infof("回合 %d 开始下注窗口", round)
	e.Bots.DrawPredictions(round)
	e.Follow.OnBettingStart(round)
}

// onLiveStart 回合进入 live 阶段：采集基准价
// 基准价取的是 live 边界时刻的市价；观测严重滞后时此刻的价格已经失真，
// 放弃采集，回合最终按 unresolved 结算退注
func (e *Engine) onLiveStart(round int64) {
	if lag := e.now().Sub(e.spec.LiveStart(round)); lag > e.cfg.SnapshotTolerance {
		log.Warnf("回合 %d live 边界观测滞后 %v，跳过基准价采集", round, lag)
		return
	}

	ctx, cancel := context.WithTimeout(e.ctx, 3*time.Second)
	defer cancel()

	price, err := e.source.Snapshot(ctx)
	if err != nil {
		// 基准价缺失：回合将按 unresolved 结算退注（fail-safe）
		log.Warnf("回合 %d 基准价快照失败: %v", round, err)
		return
	}

	e.mu.Lock()
	e.basePrices[round] = price
	e.mu.Unlock()
	log.Infof("回合 %d 进入 live: basePrice=%.2f", round, price)
}

// settleRound 结算一个已结束的回合
func (e *Engine) settleRound(round int64) {
	if e.Ledger.Settled(round) {
		return
	}

	e.mu.Lock()
	basePrice, hasBase := e.basePrices[round]
	delete(e.basePrices, round)
	e.mu.Unlock()

	result := domain.ResultUnresolved
	var endPrice float64
	if hasBase {
		// 结算价必须贴近回合结束边界：卡顿后迟到的观测不再取价，
		// 否则会用远晚于回合结束的市价误判涨跌
		if lag := e.now().Sub(e.spec.RoundEnd(round)); lag > e.cfg.SnapshotTolerance {
			log.Warnf("回合 %d 结束边界观测滞后 %v，按未决处理", round, lag)
		} else {
			ctx, cancel := context.WithTimeout(e.ctx, 3*time.Second)
			price, err := e.source.Snapshot(ctx)
			cancel()
			if err != nil {
				log.Warnf("回合 %d 结算价快照失败: %v", round, err)
			} else {
				endPrice = price
				result = resolver.Resolve(basePrice, endPrice, e.cfg.PricePrecision)
			}
		}
	}

	outcomes := e.Bots.ScoreRound(round, result)
	settled := e.Ledger.SettleRound(round, result, outcomes)

	if result != domain.ResultUnresolved {
		entry := domain.RoundHistoryEntry{
			Round:      round,
			Result:     result,
			StartPrice: basePrice,
			EndPrice:   endPrice,
		}
		e.mu.Lock()
		e.history.Append(entry)
		e.mu.Unlock()

		if e.sink != nil {
			if err := e.sink.RecordRound(entry); err != nil {
				log.Warnf("回合历史落库失败: round=%d err=%v", round, err)
			}
		}
	} else {
		log.Warnf("回合 %d 未决（价格缺失），%d 笔注单已退注", round, len(settled))
	}

	if e.sink != nil && len(settled) > 0 {
		if err := e.sink.RecordSettlements(settled); err != nil {
			log.Warnf("结算记录落库失败: round=%d err=%v", round, err)
		}
	}

	e.saveState()
}

// History 内存历史窗口副本
func (e *Engine) History() []domain.RoundHistoryEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.history.Entries()
}

// Roadmap 基于当前历史构建路子图
func (e *Engine) Roadmap() roadmap.Grid {
	return roadmap.Build(e.History(), e.cfg.RoadmapRows)
}

// Stats 历史统计
func (e *Engine) Stats() roadmap.Stats {
	return roadmap.BuildStats(e.History())
}

// Samples 价格样本窗口（展示用）
func (e *Engine) Samples() []domain.PriceSample {
	return e.source.Samples()
}
