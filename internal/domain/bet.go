package domain

import "time"

// BetOutcome 单笔注单的结算结果
type BetOutcome string

const (
	BetOutcomeWin    BetOutcome = "win"
	BetOutcomeLose   BetOutcome = "lose"
	BetOutcomeTie    BetOutcome = "tie"    // 平局退注
	BetOutcomeRefund BetOutcome = "refund" // 回合未决（价格缺失）退注
)

// Bet 直接注单：对价格方向（up/down）下注
// 每个身份每回合最多一笔活动注单；仅在 betting 阶段可变更（覆盖而非叠加）
type Bet struct {
	ID       string    // 注单 ID（uuid）
	Identity string    // 下注身份（外部已认证的不透明字符串）
	Round    int64     // 回合编号
	Side     Side      // 下注方向
	Amount   Amount    // 注额（分），恒 > 0
	PlacedAt time.Time // 下注时间
}

// BotBet 跟注注单：对某个机器人本回合预测的对错下注
// 结算正确性绑定机器人自己的预测，而不是下注者的方向观点
type BotBet struct {
	ID       string    // 注单 ID（uuid）
	Identity string    // 下注身份
	Round    int64     // 回合编号
	AgentID  string    // 机器人 ID
	Amount   Amount    // 注额（分），恒 > 0
	PlacedAt time.Time // 下注时间
	Followed bool      // 是否由跟单订阅自动生成
}

// SettledBet 已结算注单（只读历史记录）
type SettledBet struct {
	ID        string     `json:"id"`
	Identity  string     `json:"identity"`
	Round     int64      `json:"round"`
	Side      Side       `json:"side,omitempty"`     // 直接注单的方向
	AgentID   string     `json:"agent_id,omitempty"` // 跟注注单的机器人
	Amount    Amount     `json:"amount"`
	Outcome   BetOutcome `json:"outcome"`
	Payout    Amount     `json:"payout"` // 实际入账金额（win=奖金，tie/refund=退回本金，lose=0）
	SettledAt time.Time  `json:"settled_at"`
}

// FollowSubscription 跟单订阅
// active 期间，每个新 betting 窗口开始时自动为 agent 重新下注 captured amount；
// 余额不足只跳过当回合，不会自动转为 inactive
type FollowSubscription struct {
	Identity string `json:"identity"`
	AgentID  string `json:"agent_id"`
	Amount   Amount `json:"amount"` // 订阅时捕获的注额
	Active   bool   `json:"active"`
}
