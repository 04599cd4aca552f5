package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"agrosim.ai/internal/sim/tile"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Day     uint64 `json:"day"`
}

// SnapshotV1 is the grid after the day in Header.Day has been applied, plus the parameters
// needed to resume or replay from it.
type SnapshotV1 struct {
	Header Header `json:"header"`

	RunID             string `json:"run_id"`
	Rows              int    `json:"rows"`
	Cols              int    `json:"cols"`
	SnapshotEveryDays int    `json:"snapshot_every_days,omitempty"`
	SeasonLengthDays  int    `json:"season_length_days,omitempty"`
	CatalogDigest     string `json:"catalog_digest"`
	Digest            string `json:"digest"`

	Weather []map[string]float64 `json:"weather,omitempty"`

	// Tiles in row-major order. Nil biota and nil fields are dropped on export.
	Tiles []*tile.Tile `json:"tiles"`
}

// Grid rebuilds the row-major tile list into a grid.
func (s SnapshotV1) Grid() (tile.Grid, error) {
	if s.Rows < 0 || s.Cols < 0 || len(s.Tiles) != s.Rows*s.Cols {
		return nil, fmt.Errorf("snapshot: %d tiles for %dx%d grid", len(s.Tiles), s.Rows, s.Cols)
	}
	g := make(tile.Grid, s.Rows)
	for r := 0; r < s.Rows; r++ {
		g[r] = make([]*tile.Tile, s.Cols)
		for c := 0; c < s.Cols; c++ {
			t := s.Tiles[r*s.Cols+c]
			if t == nil || t.Row != r || t.Col != c {
				return nil, fmt.Errorf("snapshot: tile %d is not (%d,%d)", r*s.Cols+c, r, c)
			}
			g[r][c] = t.Clone()
		}
	}
	return g, nil
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// gob carries the header too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

// Compact returns a deep copy of t without nil biota, nil fields or nil assemblies.
func Compact(t *tile.Tile) *tile.Tile {
	out := t.Clone()
	compactGroup(out.Topography)
	compactGroup(out.Soil)
	compactGroup(out.Resources)
	out.Plants.Real = compactBiota(out.Plants.Real)
	out.Plants.Optimized = compactBiota(out.Plants.Optimized)
	out.Animals.Real = compactBiota(out.Animals.Real)
	out.Animals.Optimized = compactBiota(out.Animals.Optimized)
	as := out.Assemblies[:0]
	for _, a := range out.Assemblies {
		if a != nil {
			as = append(as, a)
		}
	}
	out.Assemblies = as
	return out
}

func compactGroup(g tile.Group) {
	for k, f := range g {
		if f == nil {
			delete(g, k)
		}
	}
}

func compactBiota(in []*tile.Biota) []*tile.Biota {
	out := in[:0]
	for _, b := range in {
		if b == nil {
			continue
		}
		compactGroup(b.Attributes)
		out = append(out, b)
	}
	return out
}
