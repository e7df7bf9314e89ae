package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data-dir", "./data", "runtime data directory")
	peer := fs.String("peer", "", "peer name (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "recent"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*peer) == "" {
			fmt.Fprintln(os.Stderr, "missing -peer or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "peers", *peer, "trades.db")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "recent":
		if *limit <= 0 {
			*limit = 20
		}
		rows, err := db.Query(`SELECT session_id,partner,partner_name,completed_at_ms,creatures_sent,items_sent FROM completed_trades ORDER BY completed_at_ms DESC LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				SessionID     string `json:"session_id"`
				Partner       string `json:"partner"`
				PartnerName   string `json:"partner_name,omitempty"`
				CompletedAt   string `json:"completed_at"`
				CreaturesSent int    `json:"creatures_sent"`
				ItemsSent     int    `json:"items_sent"`
			}
			var name sql.NullString
			var atMS int64
			if err := rows.Scan(&r.SessionID, &r.Partner, &name, &atMS, &r.CreaturesSent, &r.ItemsSent); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			r.PartnerName = name.String
			r.CompletedAt = time.UnixMilli(atMS).UTC().Format(time.RFC3339)
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "stats":
		var r struct {
			CompletedTrades int    `json:"completed_trades"`
			LastCompleted   string `json:"last_completed,omitempty"`
		}
		if err := db.QueryRow(`SELECT COUNT(*) FROM completed_trades`).Scan(&r.CompletedTrades); err != nil {
			fmt.Fprintln(os.Stderr, "scan:", err)
			os.Exit(1)
		}
		var last sql.NullInt64
		if err := db.QueryRow(`SELECT MAX(completed_at_ms) FROM completed_trades`).Scan(&last); err != nil {
			fmt.Fprintln(os.Stderr, "scan:", err)
			os.Exit(1)
		}
		if last.Valid {
			r.LastCompleted = time.UnixMilli(last.Int64).UTC().Format(time.RFC3339)
		}
		printJSON(r)

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data-dir ./data] [-peer NAME|-db PATH] recent|stats")
		os.Exit(2)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
