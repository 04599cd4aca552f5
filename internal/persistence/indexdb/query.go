package indexdb

import (
	"database/sql"
	"fmt"
)

type FallbackDay struct {
	Day    uint64 `json:"day"`
	RunID  string `json:"run_id"`
	Reason string `json:"reason"`
	Tiles  int    `json:"tiles"`
}

type TickSummary struct {
	Days              int64   `json:"days"`
	Fallbacks         int64   `json:"fallbacks"`
	Applied           int64   `json:"applied"`
	Skipped           int64   `json:"skipped"`
	AvgDurationMicros float64 `json:"avg_duration_us"`
	FirstDay          int64   `json:"first_day"`
	LastDay           int64   `json:"last_day"`
}

type SnapshotInfo struct {
	Day           uint64 `json:"day"`
	Path          string `json:"path"`
	RunID         string `json:"run_id"`
	Rows          int    `json:"rows"`
	Cols          int    `json:"cols"`
	Digest        string `json:"digest"`
	CatalogDigest string `json:"catalog_digest"`
}

type SeasonInfo struct {
	Season     int    `json:"season"`
	EndDay     uint64 `json:"end_day"`
	RunID      string `json:"run_id"`
	Path       string `json:"snapshot_path"`
	RecordedAt string `json:"recorded_at"`
}

// FallbackDays lists the most recent days that ran on the sequential fallback path.
func FallbackDays(db *sql.DB, limit int) ([]FallbackDay, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`SELECT day,run_id,COALESCE(fallback_reason,''),tiles FROM ticks WHERE path='fallback' ORDER BY day DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FallbackDay
	for rows.Next() {
		var (
			r   FallbackDay
			day int64
		)
		if err := rows.Scan(&day, &r.RunID, &r.Reason, &r.Tiles); err != nil {
			return nil, err
		}
		r.Day = uint64(day)
		out = append(out, r)
	}
	return out, rows.Err()
}

func TickStats(db *sql.DB) (TickSummary, error) {
	var s TickSummary
	row := db.QueryRow(`SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN path='fallback' THEN 1 ELSE 0 END),0),
		COALESCE(SUM(applied),0),
		COALESCE(SUM(skipped),0),
		COALESCE(AVG(duration_us),0),
		COALESCE(MIN(day),0),
		COALESCE(MAX(day),0)
	FROM ticks`)
	if err := row.Scan(&s.Days, &s.Fallbacks, &s.Applied, &s.Skipped, &s.AvgDurationMicros, &s.FirstDay, &s.LastDay); err != nil {
		return s, fmt.Errorf("tick stats: %w", err)
	}
	return s, nil
}

func Snapshots(db *sql.DB, limit int) ([]SnapshotInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`SELECT day,path,run_id,rows,cols,digest,catalog_digest FROM snapshots ORDER BY day DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotInfo
	for rows.Next() {
		var (
			r   SnapshotInfo
			day int64
		)
		if err := rows.Scan(&day, &r.Path, &r.RunID, &r.Rows, &r.Cols, &r.Digest, &r.CatalogDigest); err != nil {
			return nil, err
		}
		r.Day = uint64(day)
		out = append(out, r)
	}
	return out, rows.Err()
}

func Seasons(db *sql.DB) ([]SeasonInfo, error) {
	rows, err := db.Query(`SELECT season,end_day,run_id,snapshot_path,recorded_at FROM seasons ORDER BY season`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SeasonInfo
	for rows.Next() {
		var (
			r   SeasonInfo
			end int64
		)
		if err := rows.Scan(&r.Season, &end, &r.RunID, &r.Path, &r.RecordedAt); err != nil {
			return nil, err
		}
		r.EndDay = uint64(end)
		out = append(out, r)
	}
	return out, rows.Err()
}

// FallbackDays queries the index's own connection.
func (s *SQLiteIndex) FallbackDays(limit int) ([]FallbackDay, error) {
	return FallbackDays(s.db, limit)
}

func (s *SQLiteIndex) TickStats() (TickSummary, error) { return TickStats(s.db) }
