package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/betbot/arena/internal/domain"
	"github.com/betbot/arena/pkg/sigchan"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var binanceLog = logrus.WithField("component", "binance_feed")

// staleAfter 实时价超过此时长未更新视为过期，Snapshot 退回 REST 兜底
const staleAfter = 5 * time.Second

// BinanceSource Binance 现货价格源
// 数据源：wss://stream.binance.com:9443 的 trade stream；
// WS 断开或数据过期时用 REST ticker 兜底
type BinanceSource struct {
	symbol string // e.g. "btcusdt"
	window *Window
	rest   *RESTClient

	mu          sync.RWMutex
	latestPrice float64
	latestAt    time.Time

	ctx    context.Context
	cancel context.CancelFunc
	kick   *sigchan.Chan // 读侧发现数据过期时催促重连，跳过退避等待

	connMu sync.Mutex
	conn   *websocket.Conn

	proxyURL string
}

// NewBinanceSource 创建 Binance 价格源
func NewBinanceSource(symbol, proxyURL string, windowLimit int) *BinanceSource {
	s := strings.ToLower(strings.TrimSpace(symbol))
	if s == "" {
		s = "btcusdt"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BinanceSource{
		symbol:   s,
		window:   NewWindow(windowLimit),
		rest:     NewRESTClient(proxyURL),
		ctx:      ctx,
		cancel:   cancel,
		kick:     sigchan.New(1),
		proxyURL: strings.TrimSpace(proxyURL),
	}
}

// Start 启动后台 WS 流
func (b *BinanceSource) Start() {
	go b.run()
}

// Stop 停止后台流
func (b *BinanceSource) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.connMu.Lock()
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
	b.connMu.Unlock()
}

// Symbol 交易对符号
func (b *BinanceSource) Symbol() string { return b.symbol }

// Snapshot 返回尽可能接近当前时刻的价格
// 优先用 WS 的最新成交价；过期或缺失时用 REST 拉一次
func (b *BinanceSource) Snapshot(ctx context.Context) (float64, error) {
	b.mu.RLock()
	price, at := b.latestPrice, b.latestAt
	b.mu.RUnlock()

	if price > 0 && time.Since(at) <= staleAfter {
		return price, nil
	}

	// WS 数据过期：可能连接已僵死，催促 run 循环立即重连
	b.kick.Emit()

	restPrice, err := b.rest.TickerPrice(ctx, b.symbol)
	if err != nil {
		if price > 0 {
			// REST 也失败时退回过期的 WS 价，总好过直接 unresolved
			binanceLog.Warnf("REST 兜底失败，使用过期 WS 价: %v", err)
			return price, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrNoPrice, err)
	}
	return restPrice, nil
}

// Samples 最近样本窗口
func (b *BinanceSource) Samples() []domain.PriceSample {
	return b.window.Samples()
}

func (b *BinanceSource) setLatest(price float64, at time.Time) {
	b.mu.Lock()
	b.latestPrice = price
	b.latestAt = at
	b.mu.Unlock()
	b.window.Append(at, price)
}

func (b *BinanceSource) run() {
	wsURL := fmt.Sprintf("wss://stream.binance.com:9443/ws/%s@trade", b.symbol)

	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		conn, err := b.dial(wsURL)
		if err != nil {
			binanceLog.Warnf("连接 Binance WS 失败: %v", err)
			select {
			case <-time.After(2 * time.Second):
			case <-b.kick.C():
			case <-b.ctx.Done():
				return
			}
			continue
		}

		b.connMu.Lock()
		b.conn = conn
		b.connMu.Unlock()

		binanceLog.Infof("✅ Binance trade stream 已连接: symbol=%s", b.symbol)

		if err := b.readLoop(conn); err != nil {
			binanceLog.Warnf("Binance WS readLoop 退出: %v", err)
		}

		b.connMu.Lock()
		if b.conn == conn {
			b.conn = nil
		}
		_ = conn.Close()
		b.connMu.Unlock()

		select {
		case <-time.After(1 * time.Second):
		case <-b.kick.C():
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *BinanceSource) dial(wsURL string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	if b.proxyURL != "" {
		if p, err := url.Parse(b.proxyURL); err == nil {
			dialer.Proxy = http.ProxyURL(p)
		}
	}
	conn, _, err := dialer.Dial(wsURL, nil)
	return conn, err
}

func (b *BinanceSource) readLoop(conn *websocket.Conn) error {
	// Binance trade stream payload
	// https://binance-docs.github.io/apidocs/spot/en/#trade-streams
	type tradePayload struct {
		EventType string `json:"e"`
		EventTime int64  `json:"E"`
		Symbol    string `json:"s"`
		Price     string `json:"p"`
		TradeTime int64  `json:"T"`
	}

	for {
		select {
		case <-b.ctx.Done():
			return b.ctx.Err()
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ev tradePayload
		if err := json.Unmarshal(msg, &ev); err != nil {
			continue
		}
		if ev.EventType != "trade" {
			continue
		}
		price, ok := parseFloat(ev.Price)
		if !ok || price <= 0 {
			continue
		}
		at := time.UnixMilli(ev.TradeTime)
		if ev.TradeTime == 0 {
			at = time.Now()
		}
		b.setLatest(price, at)
	}
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
