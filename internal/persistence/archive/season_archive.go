package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"agrosim.ai/internal/persistence/snapshot"
)

type SeasonArchiveMeta struct {
	Season        int    `json:"season"`
	EndDay        uint64 `json:"end_day"`
	WorldID       string `json:"world_id"`
	RunID         string `json:"run_id"`
	Digest        string `json:"digest"`
	CatalogDigest string `json:"catalog_digest"`
	Snapshot      string `json:"snapshot"`
	CreatedAt     string `json:"created_at"`
	SeasonDays    int    `json:"season_length_days"`
}

// ArchiveSeasonSnapshot copies a season-end snapshot into `worldDir/archives/season_<NNN>/`.
// It returns (season, archivedPath, archived=true) when the snapshot represents a season end.
func ArchiveSeasonSnapshot(worldDir, snapshotPath string, snap snapshot.SnapshotV1) (season int, archivedPath string, archived bool, err error) {
	if snap.SeasonLengthDays <= 0 {
		return 0, "", false, nil
	}
	seasonLen := uint64(snap.SeasonLengthDays)
	// Snapshots hold the grid after their day, so the last day of season k is seasonLen*k - 1.
	if (snap.Header.Day+1)%seasonLen != 0 {
		return 0, "", false, nil
	}
	season = int((snap.Header.Day + 1) / seasonLen)

	archiveDir := filepath.Join(worldDir, "archives", fmt.Sprintf("season_%03d", season))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return 0, "", false, err
	}

	meta := SeasonArchiveMeta{
		Season:        season,
		EndDay:        snap.Header.Day,
		WorldID:       snap.Header.WorldID,
		RunID:         snap.RunID,
		Digest:        snap.Digest,
		CatalogDigest: snap.CatalogDigest,
		Snapshot:      filepath.Base(dst),
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
		SeasonDays:    snap.SeasonLengthDays,
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return season, dst, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
