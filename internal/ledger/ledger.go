package ledger

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/betbot/arena/internal/clock"
	"github.com/betbot/arena/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "ledger")

// 账本错误均为哨兵值：可恢复、同步返回给调用方，失败路径不改变任何余额
var (
	// ErrInvalidPhase 在允许阶段之外尝试变更注单
	ErrInvalidPhase = errors.New("ledger: 当前阶段不允许此操作")
	// ErrInvalidAmount 注额非正或超过余额
	ErrInvalidAmount = errors.New("ledger: 无效注额")
	// ErrNoBet 撤注时没有活动注单
	ErrNoBet = errors.New("ledger: 没有可撤销的注单")
)

// Config 账本配置
type Config struct {
	WinMultiplier       float64       // 直接注单赢注赔率（默认 1.95）
	BotPayoutMultiplier float64       // 跟注基础赔率（默认 1.95）
	StartingBalance     domain.Amount // 新账户初始余额（演示模式发放，非真实托管）
}

// DefaultConfig 默认账本配置
func DefaultConfig() Config {
	return Config{
		WinMultiplier:       1.95,
		BotPayoutMultiplier: 1.95,
		StartingBalance:     domain.AmountFromUnits(1000),
	}
}

// AgentOutcome 结算时某个机器人的本回合结论
// 由机器人引擎在结算前提供：预测是否命中方向性结果，以及该机器人的费率
type AgentOutcome struct {
	Correct bool
	FeeRate float64
}

// account 单个身份的账户
// 所有变更通过 account.mu 串行化：结算不可能与并发的下注/撤注竞争
type account struct {
	mu      sync.Mutex
	balance domain.Amount
	// round -> 活动直接注单（每身份每回合最多一笔）
	bets map[int64]*domain.Bet
	// round -> agentID -> 活动跟注注单（每身份每回合每机器人最多一笔）
	botBets map[int64]map[string]*domain.BotBet
}

// Ledger 注单账本
// 余额是直接注单与跟注注单共享的唯一可变资源，统一经此账本借贷，防止跨模式双花
type Ledger struct {
	cfg  Config
	spec clock.Spec
	now  func() time.Time

	mu       sync.RWMutex
	accounts map[string]*account
	settled  map[int64]bool // 已结算回合（幂等防线）
}

// New 创建账本。nowFn 为 nil 时使用 time.Now（测试注入假时钟）
func New(cfg Config, spec clock.Spec, nowFn func() time.Time) *Ledger {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Ledger{
		cfg:      cfg,
		spec:     spec,
		now:      nowFn,
		accounts: make(map[string]*account),
		settled:  make(map[int64]bool),
	}
}

// getAccount 获取或创建账户（新账户发放初始余额）
func (l *Ledger) getAccount(identity string) *account {
	l.mu.RLock()
	acc, ok := l.accounts[identity]
	l.mu.RUnlock()
	if ok {
		return acc
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if acc, ok = l.accounts[identity]; ok {
		return acc
	}
	acc = &account{
		balance: l.cfg.StartingBalance,
		bets:    make(map[int64]*domain.Bet),
		botBets: make(map[int64]map[string]*domain.BotBet),
	}
	l.accounts[identity] = acc
	return acc
}

// Balance 查询余额（账户不存在时隐式创建）
func (l *Ledger) Balance(identity string) domain.Amount {
	acc := l.getAccount(identity)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.balance
}

// checkBettingPhase 校验 round 正处于 betting 阶段
func (l *Ledger) checkBettingPhase(round int64) error {
	state := l.spec.At(l.now())
	if state.Round != round || state.Phase != domain.PhaseBetting {
		return ErrInvalidPhase
	}
	return nil
}

// PlaceBet 下直接注单
// 同一回合已有注单时覆盖（方向/注额整体替换，非叠加）：
// 余额只按净变化借贷，保证任何时刻恰好锁定一份在途本金
func (l *Ledger) PlaceBet(identity string, round int64, side domain.Side, amount domain.Amount) (*domain.Bet, error) {
	if err := l.checkBettingPhase(round); err != nil {
		return nil, err
	}
	if !side.IsValid() || amount <= 0 {
		return nil, ErrInvalidAmount
	}

	acc := l.getAccount(identity)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	var prev domain.Amount
	if existing, ok := acc.bets[round]; ok {
		prev = existing.Amount
	}
	// 净变化：增加部分需要余额覆盖，减少部分退回余额
	delta := amount - prev
	if delta > acc.balance {
		return nil, ErrInvalidAmount
	}
	acc.balance -= delta

	bet := &domain.Bet{
		ID:       uuid.NewString(),
		Identity: identity,
		Round:    round,
		Side:     side,
		Amount:   amount,
		PlacedAt: l.now(),
	}
	if existing, ok := acc.bets[round]; ok {
		bet.ID = existing.ID // 覆盖视为同一笔注单的变更
	}
	acc.bets[round] = bet

	log.Debugf("下注: identity=%s round=%d side=%s amount=%s 余额=%s",
		identity, round, side, formatAmount(amount), formatAmount(acc.balance))
	return bet, nil
}

// CancelBet 撤销直接注单（仅 betting 阶段；全额退回本金）
func (l *Ledger) CancelBet(identity string, round int64) error {
	if err := l.checkBettingPhase(round); err != nil {
		return err
	}

	acc := l.getAccount(identity)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	bet, ok := acc.bets[round]
	if !ok {
		return ErrNoBet
	}
	acc.balance += bet.Amount
	delete(acc.bets, round)

	log.Debugf("撤注: identity=%s round=%d 退回=%s 余额=%s",
		identity, round, formatAmount(bet.Amount), formatAmount(acc.balance))
	return nil
}

// PlaceBotBet 下跟注注单（对机器人本回合预测的对错下注）
// 同一 (回合, 机器人) 已有注单时覆盖，净额借贷规则与直接注单相同
func (l *Ledger) PlaceBotBet(identity string, round int64, agentID string, amount domain.Amount, followed bool) (*domain.BotBet, error) {
	if err := l.checkBettingPhase(round); err != nil {
		return nil, err
	}
	if agentID == "" || amount <= 0 {
		return nil, ErrInvalidAmount
	}

	acc := l.getAccount(identity)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	byAgent := acc.botBets[round]
	if byAgent == nil {
		byAgent = make(map[string]*domain.BotBet)
		acc.botBets[round] = byAgent
	}

	var prev domain.Amount
	if existing, ok := byAgent[agentID]; ok {
		prev = existing.Amount
	}
	delta := amount - prev
	if delta > acc.balance {
		return nil, ErrInvalidAmount
	}
	acc.balance -= delta

	bet := &domain.BotBet{
		ID:       uuid.NewString(),
		Identity: identity,
		Round:    round,
		AgentID:  agentID,
		Amount:   amount,
		PlacedAt: l.now(),
		Followed: followed,
	}
	if existing, ok := byAgent[agentID]; ok {
		bet.ID = existing.ID
	}
	byAgent[agentID] = bet

	log.Debugf("跟注: identity=%s round=%d agent=%s amount=%s 余额=%s",
		identity, round, agentID, formatAmount(amount), formatAmount(acc.balance))
	return bet, nil
}

// CancelBotBet 撤销跟注注单（仅 betting 阶段）
func (l *Ledger) CancelBotBet(identity string, round int64, agentID string) error {
	if err := l.checkBettingPhase(round); err != nil {
		return err
	}

	acc := l.getAccount(identity)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	byAgent := acc.botBets[round]
	bet, ok := byAgent[agentID]
	if !ok {
		return ErrNoBet
	}
	acc.balance += bet.Amount
	delete(byAgent, agentID)
	return nil
}

// ActiveBet 查询某回合的活动直接注单（无则返回 nil）
func (l *Ledger) ActiveBet(identity string, round int64) *domain.Bet {
	acc := l.getAccount(identity)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	if bet, ok := acc.bets[round]; ok {
		copied := *bet
		return &copied
	}
	return nil
}

// ActiveBotBets 查询某回合的活动跟注注单
func (l *Ledger) ActiveBotBets(identity string, round int64) []domain.BotBet {
	acc := l.getAccount(identity)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	var out []domain.BotBet
	for _, bet := range acc.botBets[round] {
		out = append(out, *bet)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// SettleRound 结算一个回合
// result 为 unresolved 时全部退注（fail-safe）；重复结算是无操作（幂等），
// 防止定时器重复触发造成双重入账。返回本次产生的结算记录（供历史落库）。
func (l *Ledger) SettleRound(round int64, result domain.Result, agents map[string]AgentOutcome) []domain.SettledBet {
	l.mu.Lock()
	if l.settled[round] {
		l.mu.Unlock()
		log.Debugf("回合 %d 已结算，忽略重复结算", round)
		return nil
	}
	l.settled[round] = true
	// 结算期间锁住全局写锁会阻塞账户创建，但账户变更由 account.mu 保护，
	// 这里只需要在标记后收集账户快照
	accounts := make(map[string]*account, len(l.accounts))
	for id, acc := range l.accounts {
		accounts[id] = acc
	}
	l.mu.Unlock()

	now := l.now()
	var settledList []domain.SettledBet

	ids := make([]string, 0, len(accounts))
	for id := range accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, identity := range ids {
		acc := accounts[identity]
		acc.mu.Lock()

		if bet, ok := acc.bets[round]; ok {
			settled := l.settleDirect(acc, bet, result, now)
			settledList = append(settledList, settled)
			delete(acc.bets, round)
		}
		for _, agentID := range sortedAgentIDs(acc.botBets[round]) {
			bet := acc.botBets[round][agentID]
			settled := l.settleBot(acc, bet, result, agents, now)
			settledList = append(settledList, settled)
		}
		delete(acc.botBets, round)

		acc.mu.Unlock()
	}

	log.Infof("回合 %d 结算完成: result=%s 注单数=%d", round, result, len(settledList))
	return settledList
}

// Settled 回合是否已结算
func (l *Ledger) Settled(round int64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.settled[round]
}

// settleDirect 结算直接注单（调用方必须持有 acc.mu）
func (l *Ledger) settleDirect(acc *account, bet *domain.Bet, result domain.Result, now time.Time) domain.SettledBet {
	settled := domain.SettledBet{
		ID:        bet.ID,
		Identity:  bet.Identity,
		Round:     bet.Round,
		Side:      bet.Side,
		Amount:    bet.Amount,
		SettledAt: now,
	}

	switch {
	case result == domain.ResultUnresolved:
		// 价格快照缺失：退注，不报错
		settled.Outcome = domain.BetOutcomeRefund
		settled.Payout = bet.Amount
	case result == domain.ResultTie:
		// 平局：无论方向全额退注，净盈亏为零
		settled.Outcome = domain.BetOutcomeTie
		settled.Payout = bet.Amount
	case domain.Side(result) == bet.Side:
		settled.Outcome = domain.BetOutcomeWin
		settled.Payout = mulAmount(bet.Amount, l.cfg.WinMultiplier)
	default:
		// 本金已在下注时扣除，无需进一步动作
		settled.Outcome = domain.BetOutcomeLose
		settled.Payout = 0
	}

	acc.balance += settled.Payout
	return settled
}

// settleBot 结算跟注注单（调用方必须持有 acc.mu）
// 赔付跟随机器人自身预测的对错；净盈利按机器人等级费率折减：
// credited = amount + (amount*multiplier - amount) * (1 - feeRate)
func (l *Ledger) settleBot(acc *account, bet *domain.BotBet, result domain.Result, agents map[string]AgentOutcome, now time.Time) domain.SettledBet {
	settled := domain.SettledBet{
		ID:        bet.ID,
		Identity:  bet.Identity,
		Round:     bet.Round,
		AgentID:   bet.AgentID,
		Amount:    bet.Amount,
		SettledAt: now,
	}

	outcome, known := agents[bet.AgentID]
	switch {
	case result == domain.ResultUnresolved || !known:
		settled.Outcome = domain.BetOutcomeRefund
		settled.Payout = bet.Amount
	case result == domain.ResultTie:
		// 平局回合机器人不计对错，跟注退本金
		settled.Outcome = domain.BetOutcomeTie
		settled.Payout = bet.Amount
	case outcome.Correct:
		settled.Outcome = domain.BetOutcomeWin
		settled.Payout = botPayout(bet.Amount, l.cfg.BotPayoutMultiplier, outcome.FeeRate)
	default:
		settled.Outcome = domain.BetOutcomeLose
		settled.Payout = 0
	}

	acc.balance += settled.Payout
	return settled
}

// mulAmount 注额 × 赔率，四舍五入（half away from zero）到分
func mulAmount(amount domain.Amount, multiplier float64) domain.Amount {
	out := decimal.NewFromInt(int64(amount)).
		Mul(decimal.NewFromFloat(multiplier)).
		Round(0)
	return domain.Amount(out.IntPart())
}

// botPayout 跟注入账金额：本金 + 净盈利 × (1 - 费率)
func botPayout(amount domain.Amount, multiplier, feeRate float64) domain.Amount {
	stake := decimal.NewFromInt(int64(amount))
	base := stake.Mul(decimal.NewFromFloat(multiplier))
	net := base.Sub(stake).Mul(decimal.NewFromFloat(1 - feeRate))
	return domain.Amount(stake.Add(net).Round(0).IntPart())
}

func sortedAgentIDs(m map[string]*domain.BotBet) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func formatAmount(a domain.Amount) string {
	return decimal.NewFromInt(int64(a)).Div(decimal.NewFromInt(domain.CentsPerUnit)).StringFixed(2)
}
