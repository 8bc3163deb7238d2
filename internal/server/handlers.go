package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/betbot/arena/internal/domain"
	"github.com/betbot/arena/internal/ledger"
	"github.com/gin-gonic/gin"
)

// placeBetRequest 下注请求（amount 单位为货币单位，内部换算为分）
type placeBetRequest struct {
	Side   string  `json:"side" binding:"required"`
	Amount float64 `json:"amount" binding:"required"`
}

type placeBotBetRequest struct {
	AgentID string  `json:"agent_id" binding:"required"`
	Amount  float64 `json:"amount" binding:"required"`
}

type followRequest struct {
	AgentID string  `json:"agent_id" binding:"required"`
	Amount  float64 `json:"amount" binding:"required"`
}

// writeLedgerError 账本错误到 HTTP 状态码的映射
// InvalidPhase 是时序冲突（409），InvalidAmount 是请求问题（400）
func writeLedgerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidPhase):
		c.JSON(http.StatusConflict, gin.H{"error": "当前阶段不允许此操作"})
	case errors.Is(err, ledger.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效注额"})
	case errors.Is(err, ledger.ErrNoBet):
		c.JSON(http.StatusNotFound, gin.H{"error": "没有可撤销的注单"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleClock(c *gin.Context) {
	state := s.engine.ClockState()
	c.JSON(http.StatusOK, gin.H{
		"round":             state.Round,
		"phase":             state.Phase,
		"seconds_remaining": state.SecondsRemaining,
	})
}

func (s *Server) handlePriceSamples(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"samples": s.engine.Samples()})
}

func (s *Server) handleRoadmap(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Roadmap())
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Stats())
}

func (s *Server) handleHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"history": s.engine.History()})
}

func (s *Server) handleRounds(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusOK, gin.H{"rounds": []any{}})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	rounds, err := s.repo.ListRounds(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rounds": rounds})
}

func (s *Server) handleAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.engine.Bots.Agents()})
}

func (s *Server) handleBalance(c *gin.Context) {
	balance := s.engine.Ledger.Balance(identityOf(c))
	c.JSON(http.StatusOK, gin.H{
		"balance":       balance,
		"balance_units": balance.ToUnits(),
	})
}

func (s *Server) handleActiveBets(c *gin.Context) {
	identity := identityOf(c)
	round := s.engine.ClockState().Round
	c.JSON(http.StatusOK, gin.H{
		"round":    round,
		"bet":      s.engine.Ledger.ActiveBet(identity, round),
		"bot_bets": s.engine.Ledger.ActiveBotBets(identity, round),
	})
}

func (s *Server) handlePlaceBet(c *gin.Context) {
	var req placeBetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	round := s.engine.ClockState().Round
	bet, err := s.engine.Ledger.PlaceBet(identityOf(c), round, domain.Side(req.Side), domain.AmountFromUnits(req.Amount))
	if err != nil {
		writeLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bet": bet})
}

func (s *Server) handleCancelBet(c *gin.Context) {
	round := s.engine.ClockState().Round
	if err := s.engine.Ledger.CancelBet(identityOf(c), round); err != nil {
		writeLedgerError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handlePlaceBotBet(c *gin.Context) {
	var req placeBotBetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := s.engine.Bots.Agent(req.AgentID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "未知机器人"})
		return
	}
	round := s.engine.ClockState().Round
	bet, err := s.engine.Ledger.PlaceBotBet(identityOf(c), round, req.AgentID, domain.AmountFromUnits(req.Amount), false)
	if err != nil {
		writeLedgerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bet": bet})
}

func (s *Server) handleCancelBotBet(c *gin.Context) {
	round := s.engine.ClockState().Round
	if err := s.engine.Ledger.CancelBotBet(identityOf(c), round, c.Param("agentID")); err != nil {
		writeLedgerError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListFollow(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"subscriptions": s.engine.Follow.Subscriptions(identityOf(c))})
}

func (s *Server) handleActivateFollow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, ok := s.engine.Bots.Agent(req.AgentID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "未知机器人"})
		return
	}
	if err := s.engine.Follow.Activate(identityOf(c), req.AgentID, domain.AmountFromUnits(req.Amount)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeactivateFollow(c *gin.Context) {
	s.engine.Follow.Deactivate(identityOf(c), c.Param("agentID"))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSettlements(c *gin.Context) {
	if s.repo == nil {
		c.JSON(http.StatusOK, gin.H{"settlements": []any{}})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	settled, err := s.repo.ListSettlements(identityOf(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlements": settled})
}
