package domain

import "time"

// Phase 回合阶段
// 每个回合按固定时长切分为三个阶段：下注 -> 锁定 -> 开盘
type Phase string

const (
	PhaseBetting Phase = "betting" // 下注阶段（可下注、改注、撤注）
	PhaseLocking Phase = "locking" // 锁定阶段（不可变更，等待基准价）
	PhaseLive    Phase = "live"    // 开盘阶段（价格走势进行中）
)

// Side 下注方向
type Side string

const (
	SideUp   Side = "up"
	SideDown Side = "down"
)

// IsValid 验证方向是否有效
func (s Side) IsValid() bool {
	return s == SideUp || s == SideDown
}

// Result 回合结果
// tie 表示基准价与结算价在固定精度下相等；unresolved 表示价格快照缺失
type Result string

const (
	ResultUp         Result = "up"
	ResultDown       Result = "down"
	ResultTie        Result = "tie"
	ResultUnresolved Result = "unresolved"
)

// IsDirectional 是否为方向性结果（up/down）
func (r Result) IsDirectional() bool {
	return r == ResultUp || r == ResultDown
}

// Round 回合领域模型
// 回合由时钟隐式派生，不需要显式分配；result 一旦写入即不可变
type Round struct {
	Number    int64     // 回合编号（从 epoch 派生，单调递增）
	Phase     Phase     // 当前阶段
	BasePrice float64   // 基准价（进入 live 阶段瞬间的快照）
	EndPrice  float64   // 结算价（回合结束瞬间的快照）
	Result    Result    // 回合结果
	StartsAt  time.Time // 回合开始时间
	EndsAt    time.Time // 回合结束时间
}

// PriceSample 价格样本
// 按时间有序追加，只保留有限窗口用于走势展示；结算只依赖两个标准快照
type PriceSample struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
}

// Amount 金额（分）
// 余额与注额统一用整数分表示，避免浮点累计误差
type Amount int64

// CentsPerUnit 每个货币单位的分数
const CentsPerUnit = 100

// AmountFromUnits 从货币单位（例如 USDC 个数）构造金额
func AmountFromUnits(units float64) Amount {
	if units >= 0 {
		return Amount(units*CentsPerUnit + 0.5)
	}
	return Amount(units*CentsPerUnit - 0.5)
}

// ToUnits 转换为货币单位
func (a Amount) ToUnits() float64 {
	return float64(a) / CentsPerUnit
}
