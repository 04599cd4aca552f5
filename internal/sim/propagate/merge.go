package propagate

import (
	"fmt"

	"agrosim.ai/internal/sim/tile"
)

// Merge rebuilds a grid with orig's dimensions from processed snapshots.
//
// Tiles are placed by their (Row, Col). Every position must be covered exactly once. orig is not
// modified: each merged tile is a new value that takes the processed groups, populations and
// assemblies, and carries everything else from orig (planning shadows, population shape, biome).
func Merge(orig tile.Grid, processed []TileSnapshotV1) (tile.Grid, error) {
	rows, cols := orig.Rows(), orig.Cols()
	if len(processed) != rows*cols {
		return nil, fmt.Errorf("merge: got %d tiles for %dx%d grid", len(processed), rows, cols)
	}
	out := make(tile.Grid, rows)
	for r := range out {
		out[r] = make([]*tile.Tile, len(orig[r]))
	}
	for i := range processed {
		s := &processed[i]
		src := orig.At(s.Row, s.Col)
		if src == nil {
			return nil, fmt.Errorf("merge: tile (%d,%d) outside %dx%d grid", s.Row, s.Col, rows, cols)
		}
		if out[s.Row][s.Col] != nil {
			return nil, fmt.Errorf("merge: tile (%d,%d) returned twice", s.Row, s.Col)
		}
		out[s.Row][s.Col] = mergeTile(src, s)
	}
	for r, row := range out {
		for c, t := range row {
			if t == nil {
				return nil, fmt.Errorf("merge: tile (%d,%d) missing", r, c)
			}
		}
	}
	return out, nil
}

func mergeTile(orig *tile.Tile, s *TileSnapshotV1) *tile.Tile {
	t := *orig
	t.Topography = s.Topography
	t.Soil = s.Soil
	t.Resources = s.Resources
	t.Assemblies = s.Assemblies
	t.Plants = mergePopulation(orig.Plants, s.Plants)
	t.Animals = mergePopulation(orig.Animals, s.Animals)
	return &t
}

func mergePopulation(orig tile.Population, processed []*tile.Biota) tile.Population {
	if orig.Flat {
		return tile.Population{Real: processed, Flat: true}
	}
	return tile.Population{Real: processed, Optimized: orig.Optimized}
}
