package server

import (
	"net/http"

	"github.com/betbot/arena/internal/engine"
	"github.com/gin-gonic/gin"
)

// Server 游戏 HTTP API
// 身份来自 X-Identity 头：外部已完成认证（HMAC/JWT 流程在边界外），
// 这里只把它当作账本键信任使用
type Server struct {
	engine *engine.Engine
	repo   *Repo
}

// New 创建 API 服务
func New(e *engine.Engine, repo *Repo) *Server {
	return &Server{engine: e, repo: repo}
}

// Router 构建路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.GET("/clock", s.handleClock)
	api.GET("/price/samples", s.handlePriceSamples)
	api.GET("/roadmap", s.handleRoadmap)
	api.GET("/stats", s.handleStats)
	api.GET("/history", s.handleHistory)
	api.GET("/rounds", s.handleRounds)
	api.GET("/agents", s.handleAgents)

	me := api.Group("/me", s.requireIdentity)
	me.GET("/balance", s.handleBalance)
	me.GET("/bets", s.handleActiveBets)
	me.POST("/bets", s.handlePlaceBet)
	me.DELETE("/bets", s.handleCancelBet)
	me.POST("/bot-bets", s.handlePlaceBotBet)
	me.DELETE("/bot-bets/:agentID", s.handleCancelBotBet)
	me.GET("/follow", s.handleListFollow)
	me.POST("/follow", s.handleActivateFollow)
	me.DELETE("/follow/:agentID", s.handleDeactivateFollow)
	me.GET("/settlements", s.handleSettlements)

	return r
}

// requireIdentity 身份中间件：缺失即拒绝
func (s *Server) requireIdentity(c *gin.Context) {
	identity := c.GetHeader("X-Identity")
	if identity == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing X-Identity header"})
		return
	}
	c.Set("identity", identity)
	c.Next()
}

func identityOf(c *gin.Context) string {
	return c.GetString("identity")
}
