package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/betbot/arena/internal/domain"
)

// ErrNoPrice 在要求的时刻拿不到价格快照
// 回合结算侧把它翻译为 unresolved + 全额退注（fail-safe 而非 fail-loud）
var ErrNoPrice = errors.New("feed: 价格快照不可用")

// Source 价格快照来源（外部协作者边界）
// 核心只消费两类数据：实时样本流（仅用于展示）与每回合两个标准快照
type Source interface {
	// Snapshot 返回尽可能接近当前时刻的价格
	Snapshot(ctx context.Context) (float64, error)
	// Samples 返回最近的样本窗口（有界，按时间有序）
	Samples() []domain.PriceSample
}

// Window 有界价格样本窗口（线程安全）
type Window struct {
	mu      sync.RWMutex
	limit   int
	samples []domain.PriceSample
}

// NewWindow 创建样本窗口
func NewWindow(limit int) *Window {
	if limit <= 0 {
		limit = 512
	}
	return &Window{limit: limit}
}

// Append 追加一个样本，超限淘汰最旧
func (w *Window) Append(ts time.Time, price float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, domain.PriceSample{Timestamp: ts, Price: price})
	if len(w.samples) > w.limit {
		w.samples = w.samples[len(w.samples)-w.limit:]
	}
}

// Samples 窗口副本
func (w *Window) Samples() []domain.PriceSample {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]domain.PriceSample, len(w.samples))
	copy(out, w.samples)
	return out
}

// Latest 最新样本
func (w *Window) Latest() (domain.PriceSample, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.samples) == 0 {
		return domain.PriceSample{}, false
	}
	return w.samples[len(w.samples)-1], true
}
