package clock

import (
	"testing"
	"testing/quick"
	"time"

	"github.com/betbot/arena/internal/domain"
)

func TestAt_PhaseBoundaries(t *testing.T) {
	spec := Default()
	epoch := spec.Epoch

	cases := []struct {
		name      string
		offset    time.Duration
		round     int64
		phase     domain.Phase
		remaining int64
	}{
		{"回合起点", 0, 1, domain.PhaseBetting, 25},
		{"betting 中段", 10 * time.Second, 1, domain.PhaseBetting, 15},
		{"betting 最后一秒", 24 * time.Second, 1, domain.PhaseBetting, 1},
		{"进入 locking", 25 * time.Second, 1, domain.PhaseLocking, 5},
		{"locking 最后一秒", 29 * time.Second, 1, domain.PhaseLocking, 1},
		{"进入 live", 30 * time.Second, 1, domain.PhaseLive, 30},
		{"live 最后一秒", 59 * time.Second, 1, domain.PhaseLive, 1},
		{"跨入第二回合", 60 * time.Second, 2, domain.PhaseBetting, 25},
		{"任意远回合", 3600 * time.Second, 61, domain.PhaseBetting, 25},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := spec.At(epoch.Add(tc.offset))
			if state.Round != tc.round {
				t.Fatalf("回合编号错误: expected=%d actual=%d", tc.round, state.Round)
			}
			if state.Phase != tc.phase {
				t.Fatalf("阶段错误: expected=%s actual=%s", tc.phase, state.Phase)
			}
			if state.SecondsRemaining != tc.remaining {
				t.Fatalf("剩余秒数错误: expected=%d actual=%d", tc.remaining, state.SecondsRemaining)
			}
		})
	}
}

func TestAt_SubSecondOffsets(t *testing.T) {
	spec := Default()
	// 亚秒偏移不改变回合与阶段，剩余秒数向下取整
	state := spec.At(spec.Epoch.Add(24*time.Second + 900*time.Millisecond))
	if state.Round != 1 || state.Phase != domain.PhaseBetting {
		t.Fatalf("亚秒偏移改变了回合状态: %+v", state)
	}
	if state.SecondsRemaining != 0 {
		t.Fatalf("剩余秒数应向下取整为 0: actual=%d", state.SecondsRemaining)
	}
}

func TestAt_BeforeEpoch(t *testing.T) {
	spec := Default()
	state := spec.At(spec.Epoch.Add(-1 * time.Second))
	// epoch 之前的时刻对应第 0 回合的末尾
	if state.Round != 0 {
		t.Fatalf("epoch 之前的回合编号错误: expected=0 actual=%d", state.Round)
	}
	if state.Phase != domain.PhaseLive {
		t.Fatalf("epoch 之前一秒应处于 live 末尾: actual=%s", state.Phase)
	}
}

func TestRoundAnchors(t *testing.T) {
	spec := Default()
	start := spec.RoundStart(10)
	if got := spec.Epoch.Add(9 * 60 * time.Second); !start.Equal(got) {
		t.Fatalf("回合开始时刻错误: expected=%v actual=%v", got, start)
	}
	if !spec.RoundEnd(10).Equal(spec.RoundStart(11)) {
		t.Fatalf("回合结束时刻应等于下一回合开始时刻")
	}
	if got := start.Add(30 * time.Second); !spec.LiveStart(10).Equal(got) {
		t.Fatalf("live 起点错误: expected=%v actual=%v", got, spec.LiveStart(10))
	}
}

func TestValidate(t *testing.T) {
	spec := Default()
	if err := spec.Validate(); err != nil {
		t.Fatalf("默认规格应通过校验: %v", err)
	}
	spec.LockingDuration = 0
	if err := spec.Validate(); err == nil {
		t.Fatalf("零时长阶段应校验失败")
	}
	spec = Default()
	spec.Epoch = time.Time{}
	if err := spec.Validate(); err == nil {
		t.Fatalf("空 epoch 应校验失败")
	}
}

// 任何时刻推导出的状态都满足基本不变量：
// 回合编号与 epoch 偏移一致、剩余秒数落在当前阶段时长以内
func TestProperty_StateInvariants(t *testing.T) {
	spec := Default()
	rd := spec.RoundDuration()

	property := func(offsetSeconds int32) bool {
		now := spec.Epoch.Add(time.Duration(offsetSeconds) * time.Second)
		state := spec.At(now)

		// 同一时刻重复推导必须产出完全相同的状态（纯函数）
		if state != spec.At(now) {
			t.Logf("同一时刻推导出不同状态: %+v", state)
			return false
		}

		// 回合编号必须覆盖 now
		start := spec.RoundStart(state.Round)
		if now.Before(start) || !now.Before(start.Add(rd)) {
			t.Logf("回合区间不覆盖观测时刻: round=%d now=%v", state.Round, now)
			return false
		}

		// 剩余秒数落在当前阶段时长以内
		var phaseSecs int64
		switch state.Phase {
		case domain.PhaseBetting:
			phaseSecs = int64(spec.BettingDuration / time.Second)
		case domain.PhaseLocking:
			phaseSecs = int64(spec.LockingDuration / time.Second)
		case domain.PhaseLive:
			phaseSecs = int64(spec.LiveDuration / time.Second)
		default:
			t.Logf("未知阶段: %s", state.Phase)
			return false
		}
		if state.SecondsRemaining < 0 || state.SecondsRemaining > phaseSecs {
			t.Logf("剩余秒数越界: phase=%s remaining=%d", state.Phase, state.SecondsRemaining)
			return false
		}
		return true
	}

	if err := quick.Check(property, &quick.Config{MaxCount: 2000}); err != nil {
		t.Fatalf("时钟状态不变量被违反: %v", err)
	}
}
