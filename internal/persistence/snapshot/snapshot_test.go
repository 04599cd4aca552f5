package snapshot

import (
	"math"
	"path/filepath"
	"testing"

	"agrosim.ai/internal/sim/grid"
	"agrosim.ai/internal/sim/tile"
)

func sampleGrid() tile.Grid {
	g := tile.NewGrid(2, 2)
	for _, row := range g {
		for _, t := range row {
			t.Biome = "MEADOW"
			t.Soil["water"] = tile.NewField(30+float64(t.Col), "mm")
			t.Soil["salinity"] = &tile.Field{Env: tile.Unset()}
			t.Plants = tile.Population{
				Real:      []*tile.Biota{{ID: "c1", Type: "clover", GrowthStage: 2, Attributes: tile.Group{"height": tile.NewField(5, "cm")}}},
				Optimized: []*tile.Biota{{ID: "plan", Type: "clover"}},
			}
			t.Assemblies = []*tile.Assembly{{ID: "pump", Orders: []string{"irrigate"}}}
		}
	}
	return g
}

func snapOf(g tile.Grid, day uint64) SnapshotV1 {
	s := SnapshotV1{
		Header:        Header{Version: Version, WorldID: "w1", Day: day},
		RunID:         "run-1",
		Rows:          g.Rows(),
		Cols:          g.Cols(),
		CatalogDigest: "abc",
		Digest:        grid.Digest(g),
	}
	for _, row := range g {
		for _, t := range row {
			s.Tiles = append(s.Tiles, Compact(t))
		}
	}
	return s
}

func TestWriteReadSnapshot_RoundTrip(t *testing.T) {
	g := sampleGrid()
	g[0][1].Plants.Real = append(g[0][1].Plants.Real, nil)
	g[1][0].Soil["gone"] = nil
	snap := snapOf(g, 41)

	p := filepath.Join(t.TempDir(), "snapshots", "41.snap.zst")
	if err := WriteSnapshot(p, snap); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	got, err := ReadSnapshot(p)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if got.Header != snap.Header || got.RunID != "run-1" || got.CatalogDigest != "abc" {
		t.Fatalf("header=%+v run=%s", got.Header, got.RunID)
	}
	back, err := got.Grid()
	if err != nil {
		t.Fatalf("Grid: %v", err)
	}
	if d := grid.Digest(back); d != snap.Digest {
		t.Fatalf("digest after round trip=%s want %s", d, snap.Digest)
	}
	if !math.IsNaN(back[0][0].Soil["salinity"].Env) {
		t.Fatalf("unset env not preserved")
	}
	if back[1][1].Plants.Optimized[0].ID != "plan" || back[1][1].Assemblies[0].Orders[0] != "irrigate" {
		t.Fatalf("tile contents lost: %+v", back[1][1])
	}

	h, err := ReadHeader(p)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.Day != 41 || h.WorldID != "w1" {
		t.Fatalf("header=%+v", h)
	}
}

func TestSnapshotGrid_RejectsBadLayout(t *testing.T) {
	snap := snapOf(sampleGrid(), 1)
	snap.Tiles = snap.Tiles[:3]
	if _, err := snap.Grid(); err == nil {
		t.Fatalf("expected error for short tile list")
	}
	snap = snapOf(sampleGrid(), 1)
	snap.Tiles[0], snap.Tiles[1] = snap.Tiles[1], snap.Tiles[0]
	if _, err := snap.Grid(); err == nil {
		t.Fatalf("expected error for misplaced tile")
	}
}

func TestCompact_DropsNils(t *testing.T) {
	tl := sampleGrid()[0][0]
	tl.Animals.Real = []*tile.Biota{nil, {ID: "a", Type: "cow", Attributes: tile.Group{"w": nil}}}
	tl.Assemblies = append(tl.Assemblies, nil)
	out := Compact(tl)
	if len(out.Animals.Real) != 1 || len(out.Animals.Real[0].Attributes) != 0 || len(out.Assemblies) != 1 {
		t.Fatalf("out=%+v", out)
	}
	if len(tl.Animals.Real) != 2 {
		t.Fatalf("Compact modified its input")
	}
}
