package propagate

import (
	"fmt"
	"testing"

	"agrosim.ai/internal/sim/effects"
	"agrosim.ai/internal/sim/tile"
)

// testRegistry exercises every category, including cross-category reads.
func testRegistry() *effects.Registry {
	reg := effects.NewRegistry()
	reg.Catalog(effects.Ambient).Add("rainfall", effects.Effect{Target: tile.Soil, Property: "water", Delta: effects.ComputedDelta(func(ctx effects.Context) float64 {
		return 0.5 * ctx.Weather["rainfall"]
	})})
	reg.Catalog(effects.Equipment).Add("irrigate", effects.Effect{Target: tile.Soil, Property: "water", Delta: effects.ConstantDelta(4)})
	reg.Catalog(effects.Terrain).Add("slope", effects.Effect{Target: tile.Topography, Property: "slope", Delta: effects.ConstantDelta(0.1)})
	reg.Catalog(effects.Soil).Add("water", effects.Effect{Target: tile.Soil, Property: "water", Delta: effects.ComputedDelta(func(ctx effects.Context) float64 {
		slope, _ := ctx.Env(tile.Topography, "slope")
		return -slope
	})})
	reg.Catalog(effects.Animals).Add("cow",
		effects.Effect{Target: tile.Animals, Property: "weight", Delta: effects.ConstantDelta(1.5)},
		effects.Effect{Target: tile.Plants, Property: "height", Delta: effects.ConstantDelta(-0.25)},
		effects.Effect{Target: tile.Resources, Property: "grass", Delta: effects.ConstantDelta(-2)},
	)
	reg.Catalog(effects.Plants).Add("clover", effects.Effect{Target: tile.Plants, Property: "height", Delta: effects.ComputedDelta(func(ctx effects.Context) float64 {
		w, _ := ctx.Env(tile.Soil, "water")
		return w / 100
	})})
	reg.Catalog(effects.Resources).Add("grass", effects.Effect{Target: tile.Resources, Property: "grass", Delta: effects.ConstantDelta(1)})
	return reg
}

// testGrid builds a rows×cols grid whose tiles differ from each other.
func testGrid(rows, cols int) tile.Grid {
	g := tile.NewGrid(rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			t := g[r][c]
			n := float64(r*cols + c)
			t.Biome = "MEADOW"
			t.Topography["slope"] = tile.NewField(1+n/10, "deg")
			t.Soil["water"] = tile.NewField(30+n, "mm")
			t.Resources["grass"] = tile.NewField(100, "kg")
			t.Animals.Real = []*tile.Biota{
				{ID: fmt.Sprintf("cow-%d-a", int(n)), Type: "cow", Health: tile.NewField(80, ""), Attributes: tile.Group{"weight": tile.NewField(300+n, "kg")}},
			}
			t.Animals.Optimized = []*tile.Biota{{ID: "plan-cow", Type: "cow"}}
			t.Plants.Real = []*tile.Biota{
				{ID: fmt.Sprintf("clover-%d-a", int(n)), Type: "clover", Health: tile.NewField(90, ""), Attributes: tile.Group{"height": tile.NewField(5, "cm")}},
				{ID: fmt.Sprintf("clover-%d-b", int(n)), Type: "clover", Health: tile.NewField(90, ""), Attributes: tile.Group{"height": tile.NewField(7, "cm")}},
			}
			t.Plants.Optimized = []*tile.Biota{{ID: "plan-clover", Type: "clover"}}
			if c%2 == 0 {
				t.Assemblies = []*tile.Assembly{{ID: fmt.Sprintf("pump-%d", int(n)), Kind: "pump", Orders: []string{"irrigate"}}}
			}
		}
	}
	return g
}

func testContext(g tile.Grid) *SimulationContext {
	return &SimulationContext{
		Grid:     g,
		Registry: testRegistry(),
		Day:      3,
		Weather:  effects.Weather{"rainfall": 6},
	}
}

// envValues flattens every env field of g into a comparable map.
func envValues(g tile.Grid) map[string]float64 {
	out := map[string]float64{}
	for _, row := range g {
		for _, t := range row {
			prefix := fmt.Sprintf("%d,%d/", t.Row, t.Col)
			for name, grp := range map[string]tile.Group{"topography": t.Topography, "soil": t.Soil, "resources": t.Resources} {
				for k, f := range grp {
					out[prefix+name+"."+k] = f.Env
				}
			}
			for _, pop := range []tile.Population{t.Plants, t.Animals} {
				for _, b := range pop.Real {
					out[prefix+b.ID+".health"] = b.Health.Env
					for k, f := range b.Attributes {
						out[prefix+b.ID+"."+k] = f.Env
					}
				}
			}
		}
	}
	return out
}

func assertSameEnv(t *testing.T, a, b tile.Grid) {
	t.Helper()
	ea, eb := envValues(a), envValues(b)
	if len(ea) != len(eb) {
		t.Fatalf("field count mismatch: %d vs %d", len(ea), len(eb))
	}
	for k, v := range ea {
		w, ok := eb[k]
		if !ok {
			t.Fatalf("field %s missing", k)
		}
		if v != w {
			t.Fatalf("field %s: %v vs %v", k, v, w)
		}
	}
}
