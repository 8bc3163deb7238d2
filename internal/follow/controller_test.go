package follow

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/betbot/arena/internal/clock"
	"github.com/betbot/arena/internal/domain"
	"github.com/betbot/arena/internal/ledger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

// newTestController 返回控制器、账本与拨到指定回合 betting 窗口的时钟
func newTestController(t *testing.T, round int64) (*Controller, *ledger.Ledger, *fakeClock, clock.Spec) {
	t.Helper()
	spec := clock.Default()
	fc := &fakeClock{now: spec.RoundStart(round).Add(time.Second)}
	l := ledger.New(ledger.DefaultConfig(), spec, fc.Now)
	return New(l), l, fc, spec
}

func TestActivate_Validation(t *testing.T) {
	c, _, _, _ := newTestController(t, 1)

	if err := c.Activate("", "atlas", domain.AmountFromUnits(10)); !errors.Is(err, ErrInvalidSubscription) {
		t.Fatalf("空身份应拒绝: %v", err)
	}
	if err := c.Activate("alice", "", domain.AmountFromUnits(10)); !errors.Is(err, ErrInvalidSubscription) {
		t.Fatalf("空机器人应拒绝: %v", err)
	}
	if err := c.Activate("alice", "atlas", 0); !errors.Is(err, ErrInvalidSubscription) {
		t.Fatalf("零注额应拒绝: %v", err)
	}
	if err := c.Activate("alice", "atlas", domain.AmountFromUnits(10)); err != nil {
		t.Fatalf("有效订阅应成功: %v", err)
	}
}

func TestOnBettingStart_PlacesCapturedAmount(t *testing.T) {
	c, l, _, _ := newTestController(t, 1)
	_ = c.Activate("alice", "atlas", domain.AmountFromUnits(50))

	c.OnBettingStart(1)

	bets := l.ActiveBotBets("alice", 1)
	if len(bets) != 1 {
		t.Fatalf("应自动下一笔跟注: %d", len(bets))
	}
	if bets[0].AgentID != "atlas" || bets[0].Amount != domain.AmountFromUnits(50) {
		t.Fatalf("跟注内容错误: %+v", bets[0])
	}
	if !bets[0].Followed {
		t.Fatalf("自动跟注应带 Followed 标记")
	}
	if got := l.Balance("alice"); got != domain.AmountFromUnits(950) {
		t.Fatalf("跟注后余额错误: %d", got)
	}
}

func TestOnBettingStart_RepeatsAcrossRounds(t *testing.T) {
	c, l, fc, spec := newTestController(t, 1)
	_ = c.Activate("alice", "atlas", domain.AmountFromUnits(50))

	c.OnBettingStart(1)
	// 回合 1 结算退注，回合 2 的 betting 窗口再次自动下注
	l.SettleRound(1, domain.ResultTie, map[string]ledger.AgentOutcome{"atlas": {}})
	fc.Set(spec.RoundStart(2).Add(time.Second))
	c.OnBettingStart(2)

	bets := l.ActiveBotBets("alice", 2)
	if len(bets) != 1 || bets[0].Amount != domain.AmountFromUnits(50) {
		t.Fatalf("跨回合重下失败: %+v", bets)
	}
}

func TestDeactivate_StopsFromNextWindow(t *testing.T) {
	c, l, fc, spec := newTestController(t, 1)
	_ = c.Activate("alice", "atlas", domain.AmountFromUnits(50))
	c.OnBettingStart(1)

	// 取消不追溯本回合已下的注单
	c.Deactivate("alice", "atlas")
	if got := l.ActiveBotBets("alice", 1); len(got) != 1 {
		t.Fatalf("取消不应撤销已下注单: %+v", got)
	}

	l.SettleRound(1, domain.ResultTie, map[string]ledger.AgentOutcome{"atlas": {}})
	fc.Set(spec.RoundStart(2).Add(time.Second))
	c.OnBettingStart(2)
	if got := l.ActiveBotBets("alice", 2); len(got) != 0 {
		t.Fatalf("取消后不应再自动下注: %+v", got)
	}
}

func TestOnBettingStart_SuspendsOnInsufficientBalance(t *testing.T) {
	c, l, fc, spec := newTestController(t, 1)
	// 订阅额超过初始余额：首回合就会挂起
	_ = c.Activate("alice", "atlas", domain.AmountFromUnits(1200))

	c.OnBettingStart(1)
	if got := l.ActiveBotBets("alice", 1); len(got) != 0 {
		t.Fatalf("余额不足不应下注: %+v", got)
	}

	// 订阅保持 active，不因挂起而取消
	subs := c.Subscriptions("alice")
	if len(subs) != 1 || !subs[0].Active {
		t.Fatalf("挂起不应改变订阅状态: %+v", subs)
	}

	// 余额恢复后（直接注单赢钱）自动继续
	_, _ = l.PlaceBet("alice", 1, domain.SideUp, domain.AmountFromUnits(500))
	l.SettleRound(1, domain.ResultUp, nil) // 500 × 1.95 = 975, 余额 1475
	fc.Set(spec.RoundStart(2).Add(time.Second))
	c.OnBettingStart(2)

	bets := l.ActiveBotBets("alice", 2)
	if len(bets) != 1 || bets[0].Amount != domain.AmountFromUnits(1200) {
		t.Fatalf("余额恢复后应自动续下: %+v", bets)
	}
}

func TestSubscriptions_MultipleAgents(t *testing.T) {
	c, l, _, _ := newTestController(t, 1)
	_ = c.Activate("alice", "borea", domain.AmountFromUnits(20))
	_ = c.Activate("alice", "atlas", domain.AmountFromUnits(10))

	subs := c.Subscriptions("alice")
	if len(subs) != 2 || subs[0].AgentID != "atlas" || subs[1].AgentID != "borea" {
		t.Fatalf("订阅列表顺序错误: %+v", subs)
	}

	c.OnBettingStart(1)
	if got := l.ActiveBotBets("alice", 1); len(got) != 2 {
		t.Fatalf("多订阅应各下一笔: %+v", got)
	}
}

func TestSnapshotRestore(t *testing.T) {
	c, _, _, _ := newTestController(t, 1)
	_ = c.Activate("alice", "atlas", domain.AmountFromUnits(50))
	_ = c.Activate("bob", "borea", domain.AmountFromUnits(30))
	c.Deactivate("bob", "borea")

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("快照条目数错误: %d", len(snap))
	}

	c2, l2, _, _ := newTestController(t, 1)
	c2.Restore(snap)

	c2.OnBettingStart(1)
	if got := l2.ActiveBotBets("alice", 1); len(got) != 1 {
		t.Fatalf("恢复后 active 订阅应继续下注: %+v", got)
	}
	if got := l2.ActiveBotBets("bob", 1); len(got) != 0 {
		t.Fatalf("恢复后 inactive 订阅不应下注: %+v", got)
	}
}
