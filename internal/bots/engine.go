package bots

import (
	"math/rand"
	"sync"

	"github.com/betbot/arena/internal/domain"
	"github.com/betbot/arena/internal/ledger"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "bots")

// Config 机器人引擎配置
type Config struct {
	// BiasWeight 风格偏向的伯努利参数：
	// bullish 以 BiasWeight 概率预测 up，bearish 以 BiasWeight 概率预测 down，
	// neutral 恒为 0.5。原始权重不可考，固定取 0.62 并在此文档化。
	BiasWeight float64
	// Seed 随机种子（0 表示随机源自默认熵；测试注入固定种子）
	Seed int64
	// FeeOverrides 等级费率覆盖（缺省用 Tier 默认费率）
	FeeOverrides map[domain.Tier]float64
}

// DefaultConfig 默认机器人引擎配置
func DefaultConfig() Config {
	return Config{BiasWeight: 0.62}
}

// DefaultRoster 默认机器人阵容（固定、启动时创建一次，永不删除）
func DefaultRoster() []domain.BotAgent {
	return []domain.BotAgent{
		{ID: "atlas", Name: "Atlas", StyleBias: domain.StyleBullish, Tier: domain.TierPremiumHigh},
		{ID: "borea", Name: "Borea", StyleBias: domain.StyleBearish, Tier: domain.TierPremiumHigh},
		{ID: "cygnus", Name: "Cygnus", StyleBias: domain.StyleNeutral, Tier: domain.TierPremiumMid},
		{ID: "delta", Name: "Delta", StyleBias: domain.StyleBullish, Tier: domain.TierPremiumMid},
		{ID: "echo", Name: "Echo", StyleBias: domain.StyleBearish, Tier: domain.TierChallenge},
		{ID: "fornax", Name: "Fornax", StyleBias: domain.StyleNeutral, Tier: domain.TierChallenge},
	}
}

// Engine 机器人引擎
// 维护固定阵容，每回合为每个机器人独立抽取方向预测，
// 结算后更新战绩，并为跟注提供费率折减后的结论
type Engine struct {
	cfg Config

	mu          sync.RWMutex
	agents      map[string]*domain.BotAgent
	order       []string // 阵容的稳定顺序
	predictions map[int64]map[string]domain.Side
	rng         *rand.Rand
}

// New 创建机器人引擎
func New(cfg Config, roster []domain.BotAgent) *Engine {
	if cfg.BiasWeight <= 0 || cfg.BiasWeight >= 1 {
		cfg.BiasWeight = DefaultConfig().BiasWeight
	}
	if len(roster) == 0 {
		roster = DefaultRoster()
	}

	src := rand.NewSource(cfg.Seed)
	if cfg.Seed == 0 {
		src = rand.NewSource(rand.Int63())
	}

	e := &Engine{
		cfg:         cfg,
		agents:      make(map[string]*domain.BotAgent, len(roster)),
		predictions: make(map[int64]map[string]domain.Side),
		rng:         rand.New(src),
	}
	for i := range roster {
		agent := roster[i]
		e.agents[agent.ID] = &agent
		e.order = append(e.order, agent.ID)
	}
	return e
}

// DrawPredictions 为指定回合抽取全部机器人的预测
// 每个机器人独立做一次伯努利试验；重复调用同一回合返回已有预测（幂等）
func (e *Engine) DrawPredictions(round int64) map[string]domain.Side {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.predictions[round]; ok {
		return copyPredictions(existing)
	}

	preds := make(map[string]domain.Side, len(e.agents))
	for _, id := range e.order {
		agent := e.agents[id]
		preds[id] = e.draw(agent.StyleBias)
	}
	e.predictions[round] = preds

	log.Debugf("回合 %d 机器人预测已生成: %d 个", round, len(preds))
	return copyPredictions(preds)
}

// draw 按风格偏向抽取方向（调用方必须持有 e.mu）
func (e *Engine) draw(bias domain.StyleBias) domain.Side {
	pUp := 0.5
	switch bias {
	case domain.StyleBullish:
		pUp = e.cfg.BiasWeight
	case domain.StyleBearish:
		pUp = 1 - e.cfg.BiasWeight
	}
	if e.rng.Float64() < pUp {
		return domain.SideUp
	}
	return domain.SideDown
}

// Prediction 查询某机器人在某回合的预测
func (e *Engine) Prediction(round int64, agentID string) (domain.Side, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	side, ok := e.predictions[round][agentID]
	return side, ok
}

// ScoreRound 结算后更新机器人战绩，并返回跟注结算所需的结论
// tie/unresolved 回合不计对错（机器人只预测方向），只返回退注用的占位结论
func (e *Engine) ScoreRound(round int64, result domain.Result) map[string]ledger.AgentOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	preds, ok := e.predictions[round]
	if !ok {
		return nil
	}
	delete(e.predictions, round)
	// 旧回合的残留预测一并清理，防止长跑泄漏
	for r := range e.predictions {
		if r < round {
			delete(e.predictions, r)
		}
	}

	outcomes := make(map[string]ledger.AgentOutcome, len(preds))
	for id, side := range preds {
		agent := e.agents[id]
		if agent == nil {
			continue
		}
		if !result.IsDirectional() {
			outcomes[id] = ledger.AgentOutcome{Correct: false, FeeRate: e.feeRate(agent.Tier)}
			continue
		}
		correct := domain.Side(result) == side
		agent.RecordResult(correct)
		outcomes[id] = ledger.AgentOutcome{Correct: correct, FeeRate: e.feeRate(agent.Tier)}
	}
	return outcomes
}

// feeRate 等级费率（配置覆盖优先）
func (e *Engine) feeRate(t domain.Tier) float64 {
	if f, ok := e.cfg.FeeOverrides[t]; ok {
		return f
	}
	return t.FeeRate()
}

// Agent 查询机器人（副本）
func (e *Engine) Agent(id string) (domain.BotAgent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	agent, ok := e.agents[id]
	if !ok {
		return domain.BotAgent{}, false
	}
	return *agent, true
}

// Agents 阵容快照（稳定顺序）
func (e *Engine) Agents() []domain.BotAgent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.BotAgent, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, *e.agents[id])
	}
	return out
}

// RestoreRecords 启动时恢复机器人战绩
func (e *Engine) RestoreRecords(records []domain.BotAgent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rec := range records {
		if agent, ok := e.agents[rec.ID]; ok {
			agent.Wins = rec.Wins
			agent.Losses = rec.Losses
			agent.Streak = rec.Streak
		}
	}
}

func copyPredictions(in map[string]domain.Side) map[string]domain.Side {
	out := make(map[string]domain.Side, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
