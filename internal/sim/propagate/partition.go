package propagate

import (
	"runtime"

	"agrosim.ai/internal/sim/tile"
)

// MaxUnits caps the number of parallel execution units per tick.
const MaxUnits = 4

// UnitCount sizes the pool: hardware parallelism, capped by limit and MaxUnits, at least 1.
// limit <= 0 means MaxUnits.
func UnitCount(limit int) int {
	n := runtime.NumCPU()
	if limit <= 0 || limit > MaxUnits {
		limit = MaxUnits
	}
	if n > limit {
		n = limit
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Flatten lists the grid's tiles row-major.
func Flatten(g tile.Grid) []*tile.Tile {
	out := make([]*tile.Tile, 0, g.Rows()*g.Cols())
	for _, row := range g {
		out = append(out, row...)
	}
	return out
}

// Partition splits items into min(units, len(items)) contiguous chunks of ceil(len/units).
// Concatenating the chunks in order reproduces items exactly.
func Partition[T any](items []T, units int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if units < 1 {
		units = 1
	}
	if units > len(items) {
		units = len(items)
	}
	size := (len(items) + units - 1) / units
	chunks := make([][]T, 0, units)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
