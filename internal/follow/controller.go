package follow

import (
	"errors"
	"sort"
	"sync"

	"github.com/betbot/arena/internal/domain"
	"github.com/betbot/arena/internal/ledger"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "follow")

// ErrInvalidSubscription 订阅参数无效
var ErrInvalidSubscription = errors.New("follow: 无效订阅参数")

// Controller 跟单控制器
// 每个 (identity, agentID) 一台两态状态机：inactive <-> active。
// active 期间在每个新 betting 窗口开始时自动重下 captured amount 的跟注；
// 余额不足只挂起当回合并在下一回合重试，不会自行转为 inactive
type Controller struct {
	ledger *ledger.Ledger

	mu   sync.RWMutex
	subs map[string]map[string]*domain.FollowSubscription // identity -> agentID -> sub
}

// New 创建跟单控制器
func New(l *ledger.Ledger) *Controller {
	return &Controller{
		ledger: l,
		subs:   make(map[string]map[string]*domain.FollowSubscription),
	}
}

// Activate 激活订阅并捕获注额
// 注额在订阅时刻捕获并固定，后续每回合重下都用这个值；改注额要重新订阅
func (c *Controller) Activate(identity, agentID string, amount domain.Amount) error {
	if identity == "" || agentID == "" || amount <= 0 {
		return ErrInvalidSubscription
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	byAgent := c.subs[identity]
	if byAgent == nil {
		byAgent = make(map[string]*domain.FollowSubscription)
		c.subs[identity] = byAgent
	}
	byAgent[agentID] = &domain.FollowSubscription{
		Identity: identity,
		AgentID:  agentID,
		Amount:   amount,
		Active:   true,
	}
	log.Infof("跟单已激活: identity=%s agent=%s amount=%d", identity, agentID, amount)
	return nil
}

// Deactivate 取消订阅
// 从下一个 betting 窗口起生效：不追溯撤销本回合已下的注单
func (c *Controller) Deactivate(identity, agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sub, ok := c.subs[identity][agentID]; ok {
		sub.Active = false
	}
}

// Subscriptions 查询某身份的全部订阅（副本，稳定顺序）
func (c *Controller) Subscriptions(identity string) []domain.FollowSubscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []domain.FollowSubscription
	for _, sub := range c.subs[identity] {
		out = append(out, *sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// OnBettingStart 新回合进入 betting 阶段的回调：为所有 active 订阅重下跟注
// 余额不足（ErrInvalidAmount）只跳过本回合；其他错误同样只记录不终止
func (c *Controller) OnBettingStart(round int64) {
	type pending struct {
		identity string
		agentID  string
		amount   domain.Amount
	}

	c.mu.RLock()
	var todo []pending
	identities := make([]string, 0, len(c.subs))
	for id := range c.subs {
		identities = append(identities, id)
	}
	sort.Strings(identities)
	for _, identity := range identities {
		for _, agentID := range sortedKeys(c.subs[identity]) {
			sub := c.subs[identity][agentID]
			if sub.Active {
				todo = append(todo, pending{identity, agentID, sub.Amount})
			}
		}
	}
	c.mu.RUnlock()

	for _, p := range todo {
		_, err := c.ledger.PlaceBotBet(p.identity, round, p.agentID, p.amount, true)
		switch {
		case err == nil:
			log.Debugf("跟单重下成功: identity=%s agent=%s round=%d", p.identity, p.agentID, round)
		case errors.Is(err, ledger.ErrInvalidAmount):
			// 余额不足：挂起本回合，下回合余额恢复后自动继续
			log.Infof("跟单挂起（余额不足）: identity=%s agent=%s round=%d", p.identity, p.agentID, round)
		default:
			log.Warnf("跟单重下失败: identity=%s agent=%s round=%d err=%v", p.identity, p.agentID, round, err)
		}
	}
}

// Snapshot 订阅快照（持久化用）
func (c *Controller) Snapshot() []domain.FollowSubscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []domain.FollowSubscription
	for _, identity := range sortedOuterKeys(c.subs) {
		for _, agentID := range sortedKeys(c.subs[identity]) {
			out = append(out, *c.subs[identity][agentID])
		}
	}
	return out
}

// Restore 启动时恢复订阅
func (c *Controller) Restore(subs []domain.FollowSubscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range subs {
		byAgent := c.subs[sub.Identity]
		if byAgent == nil {
			byAgent = make(map[string]*domain.FollowSubscription)
			c.subs[sub.Identity] = byAgent
		}
		copied := sub
		byAgent[sub.AgentID] = &copied
	}
}

func sortedKeys(m map[string]*domain.FollowSubscription) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedOuterKeys(m map[string]map[string]*domain.FollowSubscription) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
