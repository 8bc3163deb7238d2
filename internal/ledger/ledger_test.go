package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/betbot/arena/internal/clock"
	"github.com/betbot/arena/internal/domain"
)

// fakeClock 可拨动的测试时钟
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

const testRound = int64(5)

// newTestLedger 返回账本与拨到 testRound betting 窗口内的时钟
func newTestLedger(t *testing.T) (*Ledger, *fakeClock) {
	t.Helper()
	spec := clock.Default()
	fc := &fakeClock{now: spec.RoundStart(testRound).Add(time.Second)}
	return New(DefaultConfig(), spec, fc.Now), fc
}

func TestStartingBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	if got := l.Balance("alice"); got != domain.AmountFromUnits(1000) {
		t.Fatalf("初始余额错误: expected=100000 actual=%d", got)
	}
}

func TestPlaceBet_DeductsStake(t *testing.T) {
	l, _ := newTestLedger(t)

	bet, err := l.PlaceBet("alice", testRound, domain.SideUp, domain.AmountFromUnits(100))
	if err != nil {
		t.Fatalf("下注失败: %v", err)
	}
	if bet.Side != domain.SideUp || bet.Amount != domain.AmountFromUnits(100) {
		t.Fatalf("注单内容错误: %+v", bet)
	}
	if got := l.Balance("alice"); got != domain.AmountFromUnits(900) {
		t.Fatalf("下注后余额错误: expected=90000 actual=%d", got)
	}
}

func TestPlaceBet_ReplaceAdjustsNet(t *testing.T) {
	l, _ := newTestLedger(t)

	first, _ := l.PlaceBet("alice", testRound, domain.SideUp, domain.AmountFromUnits(100))

	// 加注到 150：只追扣差额 50
	second, err := l.PlaceBet("alice", testRound, domain.SideDown, domain.AmountFromUnits(150))
	if err != nil {
		t.Fatalf("改注失败: %v", err)
	}
	if got := l.Balance("alice"); got != domain.AmountFromUnits(850) {
		t.Fatalf("加注后余额错误: expected=85000 actual=%d", got)
	}
	if second.ID != first.ID {
		t.Fatalf("覆盖应保留注单 ID: first=%s second=%s", first.ID, second.ID)
	}
	if second.Side != domain.SideDown {
		t.Fatalf("覆盖应替换方向: actual=%s", second.Side)
	}

	// 减注到 30：差额 120 退回
	if _, err := l.PlaceBet("alice", testRound, domain.SideDown, domain.AmountFromUnits(30)); err != nil {
		t.Fatalf("减注失败: %v", err)
	}
	if got := l.Balance("alice"); got != domain.AmountFromUnits(970) {
		t.Fatalf("减注后余额错误: expected=97000 actual=%d", got)
	}

	// 任何时刻每回合恰好一笔活动注单
	active := l.ActiveBet("alice", testRound)
	if active == nil || active.Amount != domain.AmountFromUnits(30) {
		t.Fatalf("活动注单错误: %+v", active)
	}
}

func TestPlaceBet_Invalid(t *testing.T) {
	l, _ := newTestLedger(t)

	if _, err := l.PlaceBet("alice", testRound, domain.SideUp, domain.AmountFromUnits(1001)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("超额下注应返回 ErrInvalidAmount: %v", err)
	}
	if _, err := l.PlaceBet("alice", testRound, domain.SideUp, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("零注额应返回 ErrInvalidAmount: %v", err)
	}
	if _, err := l.PlaceBet("alice", testRound, domain.Side("sideways"), domain.AmountFromUnits(10)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("无效方向应返回 ErrInvalidAmount: %v", err)
	}
	// 失败路径不得动余额
	if got := l.Balance("alice"); got != domain.AmountFromUnits(1000) {
		t.Fatalf("失败下注改变了余额: actual=%d", got)
	}
}

func TestPlaceBet_PhaseGate(t *testing.T) {
	l, fc := newTestLedger(t)
	spec := clock.Default()

	// locking 阶段拒绝
	fc.Set(spec.RoundStart(testRound).Add(26 * time.Second))
	if _, err := l.PlaceBet("alice", testRound, domain.SideUp, domain.AmountFromUnits(10)); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("locking 阶段下注应返回 ErrInvalidPhase: %v", err)
	}

	// live 阶段拒绝
	fc.Set(spec.RoundStart(testRound).Add(40 * time.Second))
	if _, err := l.PlaceBet("alice", testRound, domain.SideUp, domain.AmountFromUnits(10)); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("live 阶段下注应返回 ErrInvalidPhase: %v", err)
	}

	// 对非当前回合下注拒绝（即便当前处于 betting）
	fc.Set(spec.RoundStart(testRound).Add(time.Second))
	if _, err := l.PlaceBet("alice", testRound+1, domain.SideUp, domain.AmountFromUnits(10)); !errors.Is(err, ErrInvalidPhase) {
		t.Fatalf("对未来回合下注应返回 ErrInvalidPhase: %v", err)
	}
}

func TestCancelBet(t *testing.T) {
	l, _ := newTestLedger(t)

	if err := l.CancelBet("alice", testRound); !errors.Is(err, ErrNoBet) {
		t.Fatalf("无注单撤注应返回 ErrNoBet: %v", err)
	}

	_, _ = l.PlaceBet("alice", testRound, domain.SideUp, domain.AmountFromUnits(100))
	if err := l.CancelBet("alice", testRound); err != nil {
		t.Fatalf("撤注失败: %v", err)
	}
	if got := l.Balance("alice"); got != domain.AmountFromUnits(1000) {
		t.Fatalf("撤注后本金未全额退回: actual=%d", got)
	}
	if l.ActiveBet("alice", testRound) != nil {
		t.Fatalf("撤注后不应再有活动注单")
	}
}

func TestSettleRound_Win(t *testing.T) {
	l, _ := newTestLedger(t)
	_, _ = l.PlaceBet("alice", testRound, domain.SideUp, domain.AmountFromUnits(100))

	settled := l.SettleRound(testRound, domain.ResultUp, nil)
	if len(settled) != 1 {
		t.Fatalf("结算记录数错误: %d", len(settled))
	}
	// 100 × 1.95 = 195
	if settled[0].Outcome != domain.BetOutcomeWin || settled[0].Payout != domain.AmountFromUnits(195) {
		t.Fatalf("赢注赔付错误: %+v", settled[0])
	}
	if got := l.Balance("alice"); got != domain.AmountFromUnits(1095) {
		t.Fatalf("赢注后余额错误: expected=109500 actual=%d", got)
	}
}

func TestSettleRound_Lose(t *testing.T) {
	l, _ := newTestLedger(t)
	_, _ = l.PlaceBet("alice", testRound, domain.SideUp, domain.AmountFromUnits(100))

	settled := l.SettleRound(testRound, domain.ResultDown, nil)
	if settled[0].Outcome != domain.BetOutcomeLose || settled[0].Payout != 0 {
		t.Fatalf("输注结算错误: %+v", settled[0])
	}
	if got := l.Balance("alice"); got != domain.AmountFromUnits(900) {
		t.Fatalf("输注后余额错误: expected=90000 actual=%d", got)
	}
}

func TestSettleRound_TieRefundsBothSides(t *testing.T) {
	l, _ := newTestLedger(t)
	_, _ = l.PlaceBet("alice", testRound, domain.SideUp, domain.AmountFromUnits(100))
	_, _ = l.PlaceBet("bob", testRound, domain.SideDown, domain.AmountFromUnits(200))

	settled := l.SettleRound(testRound, domain.ResultTie, nil)
	if len(settled) != 2 {
		t.Fatalf("结算记录数错误: %d", len(settled))
	}
	for _, s := range settled {
		if s.Outcome != domain.BetOutcomeTie || s.Payout != s.Amount {
			t.Fatalf("平局应全额退注: %+v", s)
		}
	}
	if l.Balance("alice") != domain.AmountFromUnits(1000) || l.Balance("bob") != domain.AmountFromUnits(1000) {
		t.Fatalf("平局后余额未还原: alice=%d bob=%d", l.Balance("alice"), l.Balance("bob"))
	}
}

func TestSettleRound_UnresolvedRefunds(t *testing.T) {
	l, _ := newTestLedger(t)
	_, _ = l.PlaceBet("alice", testRound, domain.SideUp, domain.AmountFromUnits(100))
	_, _ = l.PlaceBotBet("alice", testRound, "atlas", domain.AmountFromUnits(50), false)

	settled := l.SettleRound(testRound, domain.ResultUnresolved, map[string]AgentOutcome{
		"atlas": {Correct: true, FeeRate: 0.10},
	})
	for _, s := range settled {
		if s.Outcome != domain.BetOutcomeRefund || s.Payout != s.Amount {
			t.Fatalf("未决回合应退注: %+v", s)
		}
	}
	if got := l.Balance("alice"); got != domain.AmountFromUnits(1000) {
		t.Fatalf("未决退注后余额错误: actual=%d", got)
	}
}

func TestSettleRound_Idempotent(t *testing.T) {
	l, _ := newTestLedger(t)
	_, _ = l.PlaceBet("alice", testRound, domain.SideUp, domain.AmountFromUnits(100))

	first := l.SettleRound(testRound, domain.ResultUp, nil)
	if len(first) != 1 {
		t.Fatalf("首次结算记录数错误: %d", len(first))
	}
	balance := l.Balance("alice")

	// 重复结算是无操作
	second := l.SettleRound(testRound, domain.ResultUp, nil)
	if second != nil {
		t.Fatalf("重复结算应返回 nil: %+v", second)
	}
	if got := l.Balance("alice"); got != balance {
		t.Fatalf("重复结算改变了余额: before=%d after=%d", balance, got)
	}
	if !l.Settled(testRound) {
		t.Fatalf("回合应标记为已结算")
	}
}

func TestPlaceBotBet_IndependentOfDirectBet(t *testing.T) {
	l, _ := newTestLedger(t)

	_, _ = l.PlaceBet("alice", testRound, domain.SideUp, domain.AmountFromUnits(100))
	if _, err := l.PlaceBotBet("alice", testRound, "atlas", domain.AmountFromUnits(50), false); err != nil {
		t.Fatalf("跟注失败: %v", err)
	}
	if _, err := l.PlaceBotBet("alice", testRound, "borea", domain.AmountFromUnits(30), false); err != nil {
		t.Fatalf("第二笔跟注失败: %v", err)
	}
	// 直接注单与跟注共享同一余额
	if got := l.Balance("alice"); got != domain.AmountFromUnits(820) {
		t.Fatalf("共享余额借贷错误: expected=82000 actual=%d", got)
	}

	bots := l.ActiveBotBets("alice", testRound)
	if len(bots) != 2 || bots[0].AgentID != "atlas" || bots[1].AgentID != "borea" {
		t.Fatalf("活动跟注错误: %+v", bots)
	}
}

func TestSettleBotBet_FeeAdjustedPayout(t *testing.T) {
	cases := []struct {
		name    string
		feeRate float64
		payout  domain.Amount
	}{
		// credited = 100 + (195 - 100) × (1 - fee)
		{"premiumHigh 10%", 0.10, domain.Amount(18550)},  // 185.50
		{"premiumMid 5%", 0.05, domain.Amount(19025)},    // 190.25
		{"challenge 1.5%", 0.015, domain.Amount(19358)},  // 193.575 -> 193.58
		{"零费率", 0, domain.Amount(19500)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, _ := newTestLedger(t)
			_, _ = l.PlaceBotBet("alice", testRound, "atlas", domain.AmountFromUnits(100), false)

			settled := l.SettleRound(testRound, domain.ResultUp, map[string]AgentOutcome{
				"atlas": {Correct: true, FeeRate: tc.feeRate},
			})
			if len(settled) != 1 {
				t.Fatalf("结算记录数错误: %d", len(settled))
			}
			if settled[0].Outcome != domain.BetOutcomeWin || settled[0].Payout != tc.payout {
				t.Fatalf("费率折减赔付错误: expected=%d actual=%d", tc.payout, settled[0].Payout)
			}
		})
	}
}

func TestSettleBotBet_WrongPrediction(t *testing.T) {
	l, _ := newTestLedger(t)
	_, _ = l.PlaceBotBet("alice", testRound, "atlas", domain.AmountFromUnits(100), false)

	settled := l.SettleRound(testRound, domain.ResultUp, map[string]AgentOutcome{
		"atlas": {Correct: false, FeeRate: 0.10},
	})
	if settled[0].Outcome != domain.BetOutcomeLose || settled[0].Payout != 0 {
		t.Fatalf("预测错误的跟注应输掉本金: %+v", settled[0])
	}
	if got := l.Balance("alice"); got != domain.AmountFromUnits(900) {
		t.Fatalf("输注后余额错误: actual=%d", got)
	}
}

func TestSettleBotBet_UnknownAgentRefunds(t *testing.T) {
	l, _ := newTestLedger(t)
	_, _ = l.PlaceBotBet("alice", testRound, "ghost", domain.AmountFromUnits(100), false)

	// 结算时没有该机器人的结论：按退注处理
	settled := l.SettleRound(testRound, domain.ResultUp, nil)
	if settled[0].Outcome != domain.BetOutcomeRefund {
		t.Fatalf("无结论跟注应退注: %+v", settled[0])
	}
	if got := l.Balance("alice"); got != domain.AmountFromUnits(1000) {
		t.Fatalf("退注后余额错误: actual=%d", got)
	}
}

func TestSnapshotRestore_CreditsInFlightStakes(t *testing.T) {
	l, _ := newTestLedger(t)
	_, _ = l.PlaceBet("alice", testRound, domain.SideUp, domain.AmountFromUnits(100))
	_, _ = l.PlaceBotBet("alice", testRound, "atlas", domain.AmountFromUnits(50), false)

	snap := l.Snapshot()

	l2, _ := newTestLedger(t)
	l2.Restore(snap)
	// 在途注单不跨重启存续：本金计回快照余额
	if got := l2.Balance("alice"); got != domain.AmountFromUnits(1000) {
		t.Fatalf("恢复后余额错误: expected=100000 actual=%d", got)
	}
	if l2.ActiveBet("alice", testRound) != nil {
		t.Fatalf("恢复后不应有在途注单")
	}
}
