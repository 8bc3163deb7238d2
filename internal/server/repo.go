package server

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/betbot/arena/internal/domain"
	_ "modernc.org/sqlite"
)

// Repo 结算历史仓库（SQLite）
// 实现 engine.HistorySink：回合结果与注单结算记录在回合结束时落库
type Repo struct {
	db *sql.DB
}

// OpenRepo 打开（或创建）sqlite 历史库
func OpenRepo(dbPath string) (*Repo, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	r := &Repo{db: db}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// Close 关闭数据库
func (r *Repo) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *Repo) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rounds (
			round INTEGER PRIMARY KEY,
			result TEXT NOT NULL,
			start_price REAL NOT NULL,
			end_price REAL NOT NULL,
			recorded_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settlements (
			id TEXT PRIMARY KEY,
			identity TEXT NOT NULL,
			round INTEGER NOT NULL,
			side TEXT NOT NULL DEFAULT '',
			agent_id TEXT NOT NULL DEFAULT '',
			amount INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			payout INTEGER NOT NULL,
			settled_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_settlements_identity ON settlements(identity, round)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// RecordRound 落库一条回合结果
func (r *Repo) RecordRound(entry domain.RoundHistoryEntry) error {
	_, err := r.db.Exec(
		`INSERT OR IGNORE INTO rounds (round, result, start_price, end_price, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		entry.Round, string(entry.Result), entry.StartPrice, entry.EndPrice,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// RecordSettlements 批量落库结算记录
func (r *Repo) RecordSettlements(settled []domain.SettledBet) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(
		`INSERT OR IGNORE INTO settlements (id, identity, round, side, agent_id, amount, outcome, payout, settled_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range settled {
		if _, err := stmt.Exec(
			s.ID, s.Identity, s.Round, string(s.Side), s.AgentID,
			int64(s.Amount), string(s.Outcome), int64(s.Payout),
			s.SettledAt.UTC().Format(time.RFC3339),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListRounds 按回合倒序查询历史（limit 上限保护）
func (r *Repo) ListRounds(limit int) ([]domain.RoundHistoryEntry, error) {
	if limit <= 0 || limit > 2000 {
		limit = 200
	}
	rows, err := r.db.Query(
		`SELECT round, result, start_price, end_price FROM rounds ORDER BY round DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RoundHistoryEntry
	for rows.Next() {
		var e domain.RoundHistoryEntry
		var result string
		if err := rows.Scan(&e.Round, &result, &e.StartPrice, &e.EndPrice); err != nil {
			return nil, err
		}
		e.Result = domain.Result(result)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListSettlements 查询某身份的结算历史（按回合倒序）
func (r *Repo) ListSettlements(identity string, limit int) ([]domain.SettledBet, error) {
	if limit <= 0 || limit > 2000 {
		limit = 200
	}
	rows, err := r.db.Query(
		`SELECT id, identity, round, side, agent_id, amount, outcome, payout, settled_at
		 FROM settlements WHERE identity = ? ORDER BY round DESC LIMIT ?`, identity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SettledBet
	for rows.Next() {
		var s domain.SettledBet
		var side, agentID, outcome, settledAt string
		var amount, payout int64
		if err := rows.Scan(&s.ID, &s.Identity, &s.Round, &side, &agentID, &amount, &outcome, &payout, &settledAt); err != nil {
			return nil, err
		}
		s.Side = domain.Side(side)
		s.AgentID = agentID
		s.Amount = domain.Amount(amount)
		s.Outcome = domain.BetOutcome(outcome)
		s.Payout = domain.Amount(payout)
		if ts, err := time.Parse(time.RFC3339, settledAt); err == nil {
			s.SettledAt = ts
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
