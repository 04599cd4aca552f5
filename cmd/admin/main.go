package main

import (
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"agrosim.ai/internal/persistence/snapshot"
	"agrosim.ai/internal/sim/grid"
	"agrosim.ai/internal/sim/tile"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// inspectCmd reads a snapshot file offline: a summary, one tile, or one layer's range.
func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (used to find the latest snapshot)")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	row := fs.Int("row", -1, "tile row")
	col := fs.Int("col", -1, "tile col")
	layer := fs.String("layer", "", "layer summary, e.g. soil.water")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" && *worldID != "" {
		path = latestSnapshot(filepath.Join(*dataDir, "worlds", *worldID))
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or -world")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	g, err := snap.Grid()
	if err != nil {
		fmt.Fprintln(os.Stderr, "grid:", err)
		os.Exit(1)
	}

	switch {
	case *row >= 0 || *col >= 0:
		t := g.At(*row, *col)
		if t == nil {
			fmt.Fprintf(os.Stderr, "no tile at (%d,%d) in %dx%d grid\n", *row, *col, g.Rows(), g.Cols())
			os.Exit(2)
		}
		printJSON(os.Stdout, t)
	case *layer != "":
		s, err := summarizeLayer(g, *layer)
		if err != nil {
			fmt.Fprintln(os.Stderr, "layer:", err)
			os.Exit(2)
		}
		printJSON(os.Stdout, s)
	default:
		printSummary(os.Stdout, path, snap, g)
	}
}

type layerSummary struct {
	Layer   string  `json:"layer"`
	Tiles   int     `json:"tiles"`
	Missing int     `json:"missing"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
}

func summarizeLayer(g tile.Grid, ref string) (layerSummary, error) {
	vals, err := grid.Layer(g, ref)
	if err != nil {
		return layerSummary{}, err
	}
	s := layerSummary{Layer: ref, Tiles: len(vals), Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, v := range vals {
		if !tile.Finite(v) {
			s.Missing++
			continue
		}
		sum += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	if n := s.Tiles - s.Missing; n > 0 {
		s.Mean = sum / float64(n)
	} else {
		s.Min, s.Max = 0, 0
	}
	return s, nil
}

func printSummary(w io.Writer, path string, snap snapshot.SnapshotV1, g tile.Grid) {
	var plants, animals, assemblies int
	for _, r := range g {
		for _, t := range r {
			plants += len(t.Plants.Real) + len(t.Plants.Optimized)
			animals += len(t.Animals.Real) + len(t.Animals.Optimized)
			assemblies += len(t.Assemblies)
		}
	}
	fmt.Fprintf(w, "snapshot=%s world=%s day=%d run=%s grid=%dx%d plants=%d animals=%d assemblies=%d\n",
		filepath.Base(path), snap.Header.WorldID, snap.Header.Day, snap.RunID, snap.Rows, snap.Cols, plants, animals, assemblies)
	fmt.Fprintf(w, "digest=%s catalogs=%s\n", snap.Digest, snap.CatalogDigest)
	fmt.Fprintf(w, "layers=%s\n", strings.Join(grid.LayerNames(g), ","))
}

func latestSnapshot(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestDay uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		day, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || day > bestDay {
			bestDay = day
			best = filepath.Join(dir, name)
		}
	}
	return best
}
