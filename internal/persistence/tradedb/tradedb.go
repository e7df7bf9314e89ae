// Package tradedb keeps the completed-trade history in sqlite. The
// newest completion timestamp restores the trade cooldown after a
// restart.
package tradedb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"wildlink.gg/internal/trade"
)

type Store struct {
	db *sql.DB

	ch   chan trade.CompletedTrade
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db: db,
		ch: make(chan trade.CompletedTrade, 256),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS completed_trades (
			session_id TEXT PRIMARY KEY,
			partner TEXT NOT NULL,
			partner_name TEXT,
			completed_at_ms INTEGER NOT NULL,
			creatures_sent INTEGER NOT NULL,
			items_sent INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_completed_trades_at ON completed_trades(completed_at_ms);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordCompleted queues the record for the writer goroutine so the
// trade loop never waits on disk.
func (s *Store) RecordCompleted(rec trade.CompletedTrade) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- rec:
	default:
		// Drop if the writer falls behind; the journal remains the
		// source of truth.
	}
	return nil
}

// LastCompleted reads the newest completion timestamp.
func (s *Store) LastCompleted() (time.Time, bool) {
	var ms sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(completed_at_ms) FROM completed_trades`).Scan(&ms)
	if err != nil || !ms.Valid {
		return time.Time{}, false
	}
	return time.UnixMilli(ms.Int64), true
}

func (s *Store) CompletedCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM completed_trades`).Scan(&n)
	return n, err
}

// Recent lists the newest completions first.
func (s *Store) Recent(limit int) ([]trade.CompletedTrade, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`SELECT session_id, partner, partner_name, completed_at_ms, creatures_sent, items_sent
		FROM completed_trades ORDER BY completed_at_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []trade.CompletedTrade
	for rows.Next() {
		var rec trade.CompletedTrade
		var name sql.NullString
		var ms int64
		if err := rows.Scan(&rec.SessionID, &rec.Partner, &name, &ms, &rec.CreaturesSent, &rec.ItemsSent); err != nil {
			return nil, err
		}
		rec.PartnerName = name.String
		rec.CompletedAt = time.UnixMilli(ms)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) loop() {
	insert, err := s.db.Prepare(`INSERT OR REPLACE INTO completed_trades
		(session_id, partner, partner_name, completed_at_ms, creatures_sent, items_sent)
		VALUES(?,?,?,?,?,?)`)
	if err != nil {
		return
	}
	defer insert.Close()

	for rec := range s.ch {
		_, _ = insert.Exec(
			rec.SessionID,
			rec.Partner,
			rec.PartnerName,
			rec.CompletedAt.UnixMilli(),
			rec.CreaturesSent,
			rec.ItemsSent,
		)
	}
}
