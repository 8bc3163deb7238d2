package feed

import (
	"testing"
	"time"
)

func TestWindow_BoundedAppend(t *testing.T) {
	w := NewWindow(3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		w.Append(base.Add(time.Duration(i)*time.Second), 100+float64(i))
	}

	samples := w.Samples()
	if len(samples) != 3 {
		t.Fatalf("窗口长度错误: %d", len(samples))
	}
	// 保留最新、淘汰最旧
	if samples[0].Price != 102 || samples[2].Price != 104 {
		t.Fatalf("窗口内容错误: %+v", samples)
	}
}

func TestWindow_Latest(t *testing.T) {
	w := NewWindow(8)
	if _, ok := w.Latest(); ok {
		t.Fatalf("空窗口不应返回样本")
	}

	w.Append(time.Now(), 100.5)
	w.Append(time.Now(), 101.5)
	latest, ok := w.Latest()
	if !ok || latest.Price != 101.5 {
		t.Fatalf("最新样本错误: %+v ok=%v", latest, ok)
	}
}

func TestWindow_DefaultLimit(t *testing.T) {
	w := NewWindow(0)
	base := time.Now()
	for i := 0; i < 600; i++ {
		w.Append(base, float64(i))
	}
	if got := len(w.Samples()); got != 512 {
		t.Fatalf("默认窗口上限错误: %d", got)
	}
}
