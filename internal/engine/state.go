package engine

import (
	"errors"

	"github.com/betbot/arena/internal/domain"
	"github.com/betbot/arena/internal/ledger"
	"github.com/betbot/arena/pkg/persistence"
)

// persistedState 引擎可序列化状态
// 余额、机器人战绩、跟单订阅、回合历史在重启间保留；
// 在途注单不迁移（快照余额已退回本金，见 ledger.Snapshot）
type persistedState struct {
	Ledger        ledger.Snapshot             `json:"ledger"`
	Agents        []domain.BotAgent           `json:"agents"`
	Subscriptions []domain.FollowSubscription `json:"subscriptions"`
	History       []domain.RoundHistoryEntry  `json:"history"`
}

// saveState 保存状态快照（结算后与停机时调用，失败只记录）
func (e *Engine) saveState() {
	if e.store == nil {
		return
	}
	state := persistedState{
		Ledger:        e.Ledger.Snapshot(),
		Agents:        e.Bots.Agents(),
		Subscriptions: e.Follow.Snapshot(),
		History:       e.History(),
	}
	if err := e.store.Save(state); err != nil {
		log.Warnf("状态快照保存失败: %v", err)
	}
}

// restoreState 启动时恢复状态快照
func (e *Engine) restoreState() {
	if e.store == nil {
		return
	}
	var state persistedState
	if err := e.store.Load(&state); err != nil {
		if !errors.Is(err, persistence.ErrNotExists) {
			log.Warnf("状态快照加载失败: %v", err)
		}
		return
	}

	e.Ledger.Restore(state.Ledger)
	e.Bots.RestoreRecords(state.Agents)
	e.Follow.Restore(state.Subscriptions)

	e.mu.Lock()
	for _, entry := range state.History {
		e.history.Append(entry)
	}
	e.mu.Unlock()

	log.Infof("状态快照已恢复: 账户=%d 订阅=%d 历史=%d",
		len(state.Ledger.Balances), len(state.Subscriptions), len(state.History))
}
