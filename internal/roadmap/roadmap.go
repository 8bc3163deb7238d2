package roadmap

import (
	"github.com/betbot/arena/internal/domain"
)

// DefaultRows 路子图默认行容量
const DefaultRows = 6

// Cell 路子图单元格
type Cell struct {
	Round  int64         `json:"round"`
	Result domain.Result `json:"result"`
	Row    int           `json:"row"`
}

// Grid 路子图：按列排布的连胜走势图
// 连续相同结果在同一列自上而下堆叠（上限 rows，溢出另起同色新列）；
// 结果变化（包括 tie，tie 是独立结果值）总是另起新列
type Grid struct {
	Rows    int      `json:"rows"`
	Columns [][]Cell `json:"columns"`
}

// Stats 历史统计（胜率分母只计方向性结果，tie 不参与）
type Stats struct {
	Up       int     `json:"up"`
	Down     int     `json:"down"`
	Tie      int     `json:"tie"`
	UpRate   float64 `json:"up_rate"`
	DownRate float64 `json:"down_rate"`
}

// Build 把有序历史折叠为路子图
// 纯折叠：每次基于完整历史重算产出新网格值，不做增量变更
func Build(history []domain.RoundHistoryEntry, rows int) Grid {
	if rows <= 0 {
		rows = DefaultRows
	}
	grid := Grid{Rows: rows}

	row := 0
	var prev domain.Result
	for i, entry := range history {
		if i == 0 || entry.Result != prev || row >= rows {
			grid.Columns = append(grid.Columns, nil)
			row = 0
		}
		col := len(grid.Columns) - 1
		grid.Columns[col] = append(grid.Columns[col], Cell{
			Round:  entry.Round,
			Result: entry.Result,
			Row:    row,
		})
		row++
		prev = entry.Result
	}
	return grid
}

// BuildStats 统计历史结果分布
func BuildStats(history []domain.RoundHistoryEntry) Stats {
	var s Stats
	for _, entry := range history {
		switch entry.Result {
		case domain.ResultUp:
			s.Up++
		case domain.ResultDown:
			s.Down++
		case domain.ResultTie:
			s.Tie++
		}
	}
	directional := s.Up + s.Down
	if directional > 0 {
		s.UpRate = float64(s.Up) / float64(directional)
		s.DownRate = float64(s.Down) / float64(directional)
	}
	return s
}

// History 有界历史窗口：按回合编号有序追加，超限淘汰最旧记录
type History struct {
	limit   int
	entries []domain.RoundHistoryEntry
}

// NewHistory 创建历史窗口（limit <= 0 表示不限制）
func NewHistory(limit int) *History {
	return &History{limit: limit}
}

// Append 追加一条回合记录
func (h *History) Append(entry domain.RoundHistoryEntry) {
	h.entries = append(h.entries, entry)
	if h.limit > 0 && len(h.entries) > h.limit {
		h.entries = h.entries[len(h.entries)-h.limit:]
	}
}

// Entries 返回历史副本
func (h *History) Entries() []domain.RoundHistoryEntry {
	out := make([]domain.RoundHistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len 当前记录数
func (h *History) Len() int { return len(h.entries) }
