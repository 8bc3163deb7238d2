package clock

import (
	"fmt"
	"time"

	"github.com/betbot/arena/internal/domain"
)

// DefaultEpoch 回合编号的全局约定起点
// 所有参与者从同一 epoch 派生回合编号，不需要任何回合开始消息或握手
var DefaultEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Spec 回合时钟规格
// 纯值对象：给定同一 Spec 与同一时刻，任何参与者推导出完全相同的回合状态
type Spec struct {
	Epoch           time.Time     // 回合编号起点
	BettingDuration time.Duration // 下注阶段时长（默认 25s）
	LockingDuration time.Duration // 锁定阶段时长（默认 5s）
	LiveDuration    time.Duration // 开盘阶段时长（默认 30s）
}

// Default 返回默认规格（25s/5s/30s，整回合 60s）
func Default() Spec {
	return Spec{
		Epoch:           DefaultEpoch,
		BettingDuration: 25 * time.Second,
		LockingDuration: 5 * time.Second,
		LiveDuration:    30 * time.Second,
	}
}

// RoundDuration 整回合时长
func (s Spec) RoundDuration() time.Duration {
	return s.BettingDuration + s.LockingDuration + s.LiveDuration
}

// Validate 验证规格
func (s Spec) Validate() error {
	if s.BettingDuration <= 0 || s.LockingDuration <= 0 || s.LiveDuration <= 0 {
		return fmt.Errorf("阶段时长必须为正: betting=%v locking=%v live=%v",
			s.BettingDuration, s.LockingDuration, s.LiveDuration)
	}
	if s.Epoch.IsZero() {
		return fmt.Errorf("epoch 未设置")
	}
	return nil
}

// State 某一时刻的回合时钟状态
type State struct {
	Round            int64        // 回合编号（从 1 开始）
	Phase            domain.Phase // 当前阶段
	SecondsRemaining int64        // 当前阶段剩余秒数（向下取整，恒 >= 0）
}

// At 计算 now 时刻的回合状态
// 纯函数、无副作用，可被任意数量读者并发调用；
// 正确性只依赖参与者之间的时钟同步精度（约 1s 以内的偏差是已知限制）
func (s Spec) At(now time.Time) State {
	rd := s.RoundDuration()
	since := now.Sub(s.Epoch)
	round := since/rd + 1
	elapsed := since % rd
	if elapsed < 0 {
		// epoch 之前的时间：归入第一回合之前的位置，向下对齐
		elapsed += rd
		round--
	}

	var phase domain.Phase
	var remaining time.Duration
	switch {
	case elapsed < s.BettingDuration:
		phase = domain.PhaseBetting
		remaining = s.BettingDuration - elapsed
	case elapsed < s.BettingDuration+s.LockingDuration:
		phase = domain.PhaseLocking
		remaining = s.BettingDuration + s.LockingDuration - elapsed
	default:
		phase = domain.PhaseLive
		remaining = rd - elapsed
	}

	secs := int64(remaining / time.Second)
	if secs < 0 {
		secs = 0
	}
	return State{
		Round:            int64(round),
		Phase:            phase,
		SecondsRemaining: secs,
	}
}

// RoundStart 回合开始时刻
func (s Spec) RoundStart(round int64) time.Time {
	return s.Epoch.Add(time.Duration(round-1) * s.RoundDuration())
}

// RoundEnd 回合结束时刻（即下一回合的开始）
func (s Spec) RoundEnd(round int64) time.Time {
	return s.RoundStart(round + 1)
}

// LiveStart 回合进入 live 阶段的时刻（基准价快照时刻）
func (s Spec) LiveStart(round int64) time.Time {
	return s.RoundStart(round).Add(s.BettingDuration + s.LockingDuration)
}
