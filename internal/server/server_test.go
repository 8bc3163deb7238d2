package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/betbot/arena/internal/bots"
	"github.com/betbot/arena/internal/clock"
	"github.com/betbot/arena/internal/domain"
	"github.com/betbot/arena/internal/engine"
	"github.com/betbot/arena/internal/follow"
	"github.com/betbot/arena/internal/ledger"
)

type stubSource struct{ price float64 }

func (s stubSource) Snapshot(context.Context) (float64, error) { return s.price, nil }
func (s stubSource) Samples() []domain.PriceSample             { return nil }

const testRound = int64(5)

// newTestRouter 构建路由，时钟固定在 testRound 的 betting 窗口内
func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	spec := clock.Default()
	now := spec.RoundStart(testRound).Add(time.Second)
	nowFn := func() time.Time { return now }

	l := ledger.New(ledger.DefaultConfig(), spec, nowFn)
	b := bots.New(bots.Config{BiasWeight: 0.62, Seed: 42}, nil)
	f := follow.New(l)
	e := engine.New(engine.Config{}, spec, stubSource{price: 100}, l, b, f, nowFn)
	return New(e, nil).Router()
}

func doJSON(t *testing.T, router http.Handler, method, path, identity, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if identity != "" {
		req.Header.Set("X-Identity", identity)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/healthz", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("健康检查失败: %d", w.Code)
	}
}

func TestClockEndpoint(t *testing.T) {
	router := newTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/api/clock", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("状态码错误: %d", w.Code)
	}

	var resp struct {
		Round            int64  `json:"round"`
		Phase            string `json:"phase"`
		SecondsRemaining int64  `json:"seconds_remaining"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("响应解析失败: %v", err)
	}
	if resp.Round != testRound || resp.Phase != "betting" || resp.SecondsRemaining != 24 {
		t.Fatalf("时钟响应错误: %+v", resp)
	}
}

func TestAgentsEndpoint(t *testing.T) {
	router := newTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/api/agents", "", "")

	var resp struct {
		Agents []domain.BotAgent `json:"agents"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("响应解析失败: %v", err)
	}
	if len(resp.Agents) != 6 {
		t.Fatalf("阵容数量错误: %d", len(resp.Agents))
	}
}

func TestIdentityRequired(t *testing.T) {
	router := newTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/api/me/balance", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("缺失身份应返回 401: %d", w.Code)
	}
}

func TestBetLifecycle(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/me/bets", "alice", `{"side":"up","amount":100}`)
	if w.Code != http.StatusOK {
		t.Fatalf("下注失败: %d body=%s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/api/me/balance", "alice", "")
	var balance struct {
		BalanceUnits float64 `json:"balance_units"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &balance); err != nil {
		t.Fatalf("余额解析失败: %v", err)
	}
	if balance.BalanceUnits != 900 {
		t.Fatalf("下注后余额错误: %v", balance.BalanceUnits)
	}

	w = doJSON(t, router, http.MethodDelete, "/api/me/bets", "alice", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("撤注失败: %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/me/balance", "alice", "")
	_ = json.Unmarshal(w.Body.Bytes(), &balance)
	if balance.BalanceUnits != 1000 {
		t.Fatalf("撤注后余额错误: %v", balance.BalanceUnits)
	}
}

func TestBetErrors(t *testing.T) {
	router := newTestRouter(t)

	// 超额 -> 400
	w := doJSON(t, router, http.MethodPost, "/api/me/bets", "alice", `{"side":"up","amount":5000}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("超额下注应返回 400: %d", w.Code)
	}

	// 无注单撤注 -> 404
	w = doJSON(t, router, http.MethodDelete, "/api/me/bets", "alice", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("无注单撤注应返回 404: %d", w.Code)
	}

	// 请求体缺字段 -> 400
	w = doJSON(t, router, http.MethodPost, "/api/me/bets", "alice", `{"side":"up"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("缺字段应返回 400: %d", w.Code)
	}
}

func TestBotBetUnknownAgent(t *testing.T) {
	router := newTestRouter(t)
	w := doJSON(t, router, http.MethodPost, "/api/me/bot-bets", "alice", `{"agent_id":"ghost","amount":10}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("未知机器人应返回 404: %d", w.Code)
	}
}

func TestFollowLifecycle(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/me/follow", "alice", `{"agent_id":"atlas","amount":50}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("订阅失败: %d body=%s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/api/me/follow", "alice", "")
	var resp struct {
		Subscriptions []domain.FollowSubscription `json:"subscriptions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("订阅列表解析失败: %v", err)
	}
	if len(resp.Subscriptions) != 1 || !resp.Subscriptions[0].Active {
		t.Fatalf("订阅列表错误: %+v", resp.Subscriptions)
	}

	w = doJSON(t, router, http.MethodDelete, "/api/me/follow/atlas", "alice", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("取消订阅失败: %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/me/follow", "alice", "")
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Subscriptions) != 1 || resp.Subscriptions[0].Active {
		t.Fatalf("取消后订阅状态错误: %+v", resp.Subscriptions)
	}
}

func TestRoadmapEmpty(t *testing.T) {
	router := newTestRouter(t)
	w := doJSON(t, router, http.MethodGet, "/api/roadmap", "", "")

	var grid struct {
		Rows    int             `json:"rows"`
		Columns json.RawMessage `json:"columns"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &grid); err != nil {
		t.Fatalf("路子图解析失败: %v", err)
	}
	if grid.Rows != 6 {
		t.Fatalf("默认行容量错误: %d", grid.Rows)
	}
}
