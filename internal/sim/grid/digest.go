package grid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"strconv"

	"agrosim.ai/internal/sim/effects"
	"agrosim.ai/internal/sim/tile"
)

// Digest hashes the dimensions and every env value of g in a fixed order.
// Non-env members (measured, optimized, units) do not contribute.
func Digest(g tile.Grid) string {
	h := sha256.New()
	fmt.Fprintf(h, "grid %d %d\n", g.Rows(), g.Cols())
	for _, row := range g {
		for _, t := range row {
			if t == nil {
				h.Write([]byte("nil\n"))
				continue
			}
			fmt.Fprintf(h, "tile %d %d\n", t.Row, t.Col)
			writeGroup(h, string(tile.Topography), t.Topography)
			writeGroup(h, string(tile.Soil), t.Soil)
			writeGroup(h, string(tile.Resources), t.Resources)
			writeBiota(h, string(tile.Plants), t.Plants.Real)
			writeBiota(h, string(tile.Animals), t.Animals.Real)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeGroup(h hash.Hash, name string, g tile.Group) {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f := g[k]
		if f == nil {
			continue
		}
		fmt.Fprintf(h, "%s.%s=%s\n", name, k, formatEnv(f.Env))
	}
}

func writeBiota(h hash.Hash, name string, list []*tile.Biota) {
	for _, b := range list {
		if b == nil {
			continue
		}
		fmt.Fprintf(h, "%s %s %s %d\n", name, b.ID, b.Type, b.GrowthStage)
		if b.Health != nil {
			fmt.Fprintf(h, "health=%s\n", formatEnv(b.Health.Env))
		}
		writeGroup(h, "attr", b.Attributes)
	}
}

func formatEnv(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Layer extracts the env values of ref ("group.property") in row-major order. Tiles without the
// property yield NaN.
func Layer(g tile.Grid, ref string) ([]float64, error) {
	group, prop, err := effects.ParseRef(ref)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, g.Rows()*g.Cols())
	for _, row := range g {
		for _, t := range row {
			v := tile.Unset()
			if t != nil {
				v, _ = t.Env(group, prop)
			}
			out = append(out, v)
		}
	}
	return out, nil
}

// LayerNames lists every "group.property" present on any tile, sorted.
func LayerNames(g tile.Grid) []string {
	seen := map[string]bool{}
	for _, row := range g {
		for _, t := range row {
			if t == nil {
				continue
			}
			for _, name := range []tile.GroupName{tile.Topography, tile.Soil, tile.Resources} {
				for k := range t.Group(name) {
					seen[string(name)+"."+k] = true
				}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
