package domain

// RoundHistoryEntry 回合历史记录
// 按回合编号有序、只追加；超过窗口上限后淘汰最旧记录
type RoundHistoryEntry struct {
	Round      int64   `json:"round"`
	Result     Result  `json:"result"`
	StartPrice float64 `json:"start_price"`
	EndPrice   float64 `json:"end_price"`
}
