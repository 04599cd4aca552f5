package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"agrosim.ai/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runDBQuery(os.Stdout, db, q, *limit); err != nil {
		fmt.Fprintln(os.Stderr, q+":", err)
		os.Exit(1)
	}
}

// runDBQuery prints one JSON object per result row.
func runDBQuery(out io.Writer, db *sql.DB, q string, limit int) error {
	if limit <= 0 {
		limit = 20
	}
	switch q {
	case "snapshots":
		rows, err := indexdb.Snapshots(db, limit)
		if err != nil {
			return err
		}
		for _, r := range rows {
			printJSON(out, r)
		}

	case "ticks":
		rows, err := db.Query(`SELECT raw_json FROM ticks ORDER BY day DESC LIMIT ?`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				return err
			}
			fmt.Fprintln(out, raw)
		}
		return rows.Err()

	case "fallbacks":
		rows, err := indexdb.FallbackDays(db, limit)
		if err != nil {
			return err
		}
		for _, r := range rows {
			printJSON(out, r)
		}

	case "stats":
		s, err := indexdb.TickStats(db)
		if err != nil {
			return err
		}
		printJSON(out, s)

	case "seasons":
		rows, err := indexdb.Seasons(db)
		if err != nil {
			return err
		}
		for _, r := range rows {
			printJSON(out, r)
		}

	case "catalogs":
		rows, err := db.Query(`SELECT name,digest,updated_at FROM catalogs ORDER BY name`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Name      string `json:"name"`
				Digest    string `json:"digest"`
				UpdatedAt string `json:"updated_at"`
			}
			if err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt); err != nil {
				return err
			}
			printJSON(out, r)
		}
		return rows.Err()

	default:
		return fmt.Errorf("unknown query (want snapshots|ticks|fallbacks|stats|seasons|catalogs)")
	}
	return nil
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
