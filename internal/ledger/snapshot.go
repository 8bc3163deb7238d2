package ledger

import (
	"sort"

	"github.com/betbot/arena/internal/domain"
)

// Snapshot 账本可序列化快照
// 在途注单不随快照迁移：快照余额已把未结算本金退回，
// 重启后不会出现“钱被扣了但注单消失”的不一致
type Snapshot struct {
	Balances      map[string]domain.Amount `json:"balances"`
	SettledRounds []int64                  `json:"settled_rounds"`
}

// Snapshot 生成当前快照
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	accounts := make(map[string]*account, len(l.accounts))
	for id, acc := range l.accounts {
		accounts[id] = acc
	}
	rounds := make([]int64, 0, len(l.settled))
	for r := range l.settled {
		rounds = append(rounds, r)
	}
	l.mu.RUnlock()
	sort.Slice(rounds, func(i, j int) bool { return rounds[i] < rounds[j] })

	snap := Snapshot{
		Balances:      make(map[string]domain.Amount, len(accounts)),
		SettledRounds: rounds,
	}
	for id, acc := range accounts {
		acc.mu.Lock()
		balance := acc.balance
		for _, bet := range acc.bets {
			balance += bet.Amount
		}
		for _, byAgent := range acc.botBets {
			for _, bet := range byAgent {
				balance += bet.Amount
			}
		}
		acc.mu.Unlock()
		snap.Balances[id] = balance
	}
	return snap
}

// Restore 从快照恢复（只应在启动时、账本尚未接收操作前调用）
func (l *Ledger) Restore(snap Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, balance := range snap.Balances {
		l.accounts[id] = &account{
			balance: balance,
			bets:    make(map[int64]*domain.Bet),
			botBets: make(map[int64]map[string]*domain.BotBet),
		}
	}
	for _, r := range snap.SettledRounds {
		l.settled[r] = true
	}
}
