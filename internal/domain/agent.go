package domain

// StyleBias 机器人预测风格
type StyleBias string

const (
	StyleBullish StyleBias = "bullish" // 偏多：伯努利试验偏向 up
	StyleBearish StyleBias = "bearish" // 偏空：伯努利试验偏向 down
	StyleNeutral StyleBias = "neutral" // 中性：p = 0.5
)

// Tier 机器人等级，决定跟注手续费率
type Tier string

const (
	TierPremiumHigh Tier = "premiumHigh"
	TierPremiumMid  Tier = "premiumMid"
	TierChallenge   Tier = "challenge"
)

// FeeRate 等级对应的手续费率（从跟注净盈利中扣除）
func (t Tier) FeeRate() float64 {
	switch t {
	case TierPremiumHigh:
		return 0.10
	case TierPremiumMid:
		return 0.05
	case TierChallenge:
		return 0.015
	default:
		return 0
	}
}

// IsValid 验证等级是否有效
func (t Tier) IsValid() bool {
	switch t {
	case TierPremiumHigh, TierPremiumMid, TierChallenge:
		return true
	}
	return false
}

// BotAgent 自主预测机器人
// 系统启动时创建，永不删除；每回合更新战绩与连胜/连败
type BotAgent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StyleBias StyleBias `json:"style_bias"`
	Tier      Tier      `json:"tier"`
	Wins      int       `json:"wins"`
	Losses    int       `json:"losses"`
	// Streak 有符号连续记录：正数 = 连胜次数，负数 = 连败次数
	Streak int `json:"streak"`
}

// WinRate 胜率（平局回合不计入分母）
func (a *BotAgent) WinRate() float64 {
	total := a.Wins + a.Losses
	if total == 0 {
		return 0
	}
	return float64(a.Wins) / float64(total)
}

// RecordResult 记录一个方向性回合的对错，更新战绩与 streak
// 平局回合不应调用（机器人只预测方向）
func (a *BotAgent) RecordResult(correct bool) {
	if correct {
		a.Wins++
		if a.Streak > 0 {
			a.Streak++
		} else {
			a.Streak = 1
		}
		return
	}
	a.Losses++
	if a.Streak < 0 {
		a.Streak--
	} else {
		a.Streak = -1
	}
}
