package effects

import (
	"math"
	"testing"

	"agrosim.ai/internal/sim/tile"
)

func newTile() *tile.Tile {
	return &tile.Tile{
		Topography: tile.Group{"slope": tile.NewField(2, "deg")},
		Soil:       tile.Group{"water": tile.NewField(50, "mm"), "nitrogen": tile.NewField(10, "ppm")},
		Resources:  tile.Group{"grass": tile.NewField(100, "kg")},
	}
}

func cow(id string, weight float64) *tile.Biota {
	return &tile.Biota{
		ID:         id,
		Type:       "cow",
		Health:     tile.NewField(80, ""),
		Attributes: tile.Group{"weight": tile.NewField(weight, "kg")},
	}
}

func clover(id string, height float64) *tile.Biota {
	return &tile.Biota{
		ID:         id,
		Type:       "clover",
		Health:     tile.NewField(90, ""),
		Attributes: tile.Group{"height": tile.NewField(height, "cm")},
	}
}

func TestApply_Additivity(t *testing.T) {
	reg := NewRegistry()
	reg.Catalog(Soil).Add("water", Effect{Target: tile.Soil, Property: "water", Delta: ConstantDelta(-1)})

	tl := newTile()
	st := NewApplier(reg, 1, nil).Apply(tl)
	if got := tl.Soil["water"].Env; got != 49 {
		t.Fatalf("soil.water=%v want 49", got)
	}
	if st.Applied != 1 || st.Skipped != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestApply_OnlyEnvIsWritten(t *testing.T) {
	reg := NewRegistry()
	reg.Catalog(Soil).Add("water", Effect{Target: tile.Soil, Property: "water", Delta: ConstantDelta(5)})

	tl := newTile()
	mv, opt := 48.0, 60.0
	tl.Soil["water"].Measured = tile.Measured{Value: &mv, Date: "2024-05-01", Collect: true}
	tl.Soil["water"].Optimized = &opt

	NewApplier(reg, 1, nil).Apply(tl)
	f := tl.Soil["water"]
	if f.Env != 55 || *f.Measured.Value != 48 || f.Measured.Date != "2024-05-01" || *f.Optimized != 60 {
		t.Fatalf("unexpected field after tick: env=%v measured=%v optimized=%v", f.Env, *f.Measured.Value, *f.Optimized)
	}
}

func TestApply_SubjectScoping(t *testing.T) {
	reg := NewRegistry()
	reg.Catalog(Animals).Add("cow", Effect{Target: tile.Animals, Property: "weight", Delta: ConstantDelta(2)})

	tl := newTile()
	tl.Animals.Real = []*tile.Biota{cow("c1", 400), cow("c2", 300)}

	NewApplier(reg, 1, nil).Apply(tl)

	// Each cow acts once and grows only itself.
	if w := tl.Animals.Real[0].Field("weight").Env; w != 402 {
		t.Fatalf("c1 weight=%v want 402", w)
	}
	if w := tl.Animals.Real[1].Field("weight").Env; w != 302 {
		t.Fatalf("c2 weight=%v want 302", w)
	}
}

func TestApply_SubjectScoping_SingleApplication(t *testing.T) {
	reg := NewRegistry()
	reg.Catalog(Animals).Add("cow", Effect{Target: tile.Animals, Property: "weight", Delta: ComputedDelta(func(ctx Context) float64 {
		if ctx.Subject.ID == "c1" {
			return 10
		}
		return 0
	})})

	tl := newTile()
	tl.Animals.Real = []*tile.Biota{cow("c1", 400), cow("c2", 300)}
	NewApplier(reg, 1, nil).Apply(tl)

	if w := tl.Animals.Real[1].Field("weight").Env; w != 300 {
		t.Fatalf("c2 observed c1's effect: weight=%v", w)
	}
	if w := tl.Animals.Real[0].Field("weight").Env; w != 410 {
		t.Fatalf("c1 weight=%v want 410", w)
	}
}

func TestApply_BroadcastCrossTarget(t *testing.T) {
	reg := NewRegistry()
	reg.Catalog(Animals).Add("cow",
		Effect{Target: tile.Plants, Property: "height", Delta: ConstantDelta(-1)},
		Effect{Target: tile.Resources, Property: "grass", Delta: ConstantDelta(-3)},
	)

	tl := newTile()
	tl.Animals.Real = []*tile.Biota{cow("c1", 400)}
	tl.Plants.Real = []*tile.Biota{clover("p1", 10), clover("p2", 20), clover("p3", 30)}

	NewApplier(reg, 1, nil).Apply(tl)

	for i, want := range []float64{9, 19, 29} {
		if got := tl.Plants.Real[i].Field("height").Env; got != want {
			t.Fatalf("plant %d height=%v want %v", i, got, want)
		}
	}
	if got := tl.Resources["grass"].Env; got != 97 {
		t.Fatalf("resources.grass=%v want 97", got)
	}
}

func TestApply_PlantsBroadcastToAnimals(t *testing.T) {
	reg := NewRegistry()
	reg.Catalog(Plants).Add("clover", Effect{Target: tile.Animals, Property: "health", Delta: ConstantDelta(1)})

	tl := newTile()
	tl.Animals.Real = []*tile.Biota{cow("c1", 400), cow("c2", 300)}
	tl.Plants.Real = []*tile.Biota{clover("p1", 10), clover("p2", 20)}

	NewApplier(reg, 1, nil).Apply(tl)

	// Two plants, each broadcast to both cows.
	for _, c := range tl.Animals.Real {
		if c.Health.Env != 82 {
			t.Fatalf("%s health=%v want 82", c.ID, c.Health.Env)
		}
	}
}

func TestApply_FiniteGuard(t *testing.T) {
	reg := NewRegistry()
	reg.Catalog(Soil).
		Add("water", Effect{Target: tile.Soil, Property: "water", Delta: ComputedDelta(func(Context) float64 { return math.NaN() })}).
		Add("nitrogen", Effect{Target: tile.Soil, Property: "nitrogen", Delta: ConstantDelta(1)}).
		Add("inf", Effect{Target: tile.Soil, Property: "water", Delta: ConstantDelta(math.Inf(1))})

	tl := newTile()
	tl.Soil["nitrogen"].Env = tile.Unset()

	st := NewApplier(reg, 1, nil).Apply(tl)

	if got := tl.Soil["water"].Env; got != 50 {
		t.Fatalf("water=%v want unchanged 50", got)
	}
	if !math.IsNaN(tl.Soil["nitrogen"].Env) {
		t.Fatalf("nitrogen=%v want still unset", tl.Soil["nitrogen"].Env)
	}
	if st.Applied != 0 || st.Skipped != 3 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestApply_MissingNodeIsSkipped(t *testing.T) {
	reg := NewRegistry()
	reg.Catalog(Terrain).Add("erosion",
		Effect{Target: tile.Topography, Property: "missing", Delta: ConstantDelta(1)},
		Effect{Target: "weather", Property: "x", Delta: ConstantDelta(1)},
		Effect{Target: tile.Topography, Property: "slope", Delta: ConstantDelta(1)},
	)

	tl := newTile()
	tl.Resources = nil
	st := NewApplier(reg, 1, nil).Apply(tl)

	if got := tl.Topography["slope"].Env; got != 3 {
		t.Fatalf("slope=%v want 3", got)
	}
	if st.Applied != 1 || st.Skipped != 2 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestApply_CategoryOrderSensitivity(t *testing.T) {
	reg := NewRegistry()
	reg.Catalog(Terrain).Add("slope", Effect{Target: tile.Topography, Property: "slope", Delta: ConstantDelta(8)})

	var seen float64
	reg.Catalog(Soil).Add("runoff", Effect{Target: tile.Soil, Property: "water", Delta: ComputedDelta(func(ctx Context) float64 {
		v, _ := ctx.Env(tile.Topography, "slope")
		seen = v
		return -v
	})})

	tl := newTile()
	NewApplier(reg, 1, nil).Apply(tl)

	if seen != 10 {
		t.Fatalf("soil delta observed slope=%v want post-terrain 10", seen)
	}
	if got := tl.Soil["water"].Env; got != 40 {
		t.Fatalf("water=%v want 40", got)
	}
}

func TestApply_FixedOrderAcrossCategories(t *testing.T) {
	reg := NewRegistry()
	var trace []string
	record := func(name string) Delta {
		return ComputedDelta(func(ctx Context) float64 {
			trace = append(trace, name+":"+ctx.Category.String())
			return 0
		})
	}
	// Registered out of order on purpose.
	reg.Catalog(Resources).Add("grass", Effect{Target: tile.Resources, Property: "grass", Delta: record("r")})
	reg.Catalog(Plants).Add("clover", Effect{Target: tile.Plants, Property: "height", Delta: record("p")})
	reg.Catalog(Animals).Add("cow", Effect{Target: tile.Animals, Property: "weight", Delta: record("a")})
	reg.Catalog(Soil).Add("water", Effect{Target: tile.Soil, Property: "water", Delta: record("s")})
	reg.Catalog(Terrain).Add("slope", Effect{Target: tile.Topography, Property: "slope", Delta: record("t")})
	reg.Catalog(Equipment).Add("irrigate", Effect{Target: tile.Soil, Property: "water", Delta: record("e")})
	reg.Catalog(Ambient).Add("rainfall", Effect{Target: tile.Soil, Property: "water", Delta: record("w")})

	tl := newTile()
	tl.Animals.Real = []*tile.Biota{cow("c1", 1)}
	tl.Plants.Real = []*tile.Biota{clover("p1", 1)}
	tl.Assemblies = []*tile.Assembly{{ID: "pump", Orders: []string{"irrigate"}}}

	NewApplier(reg, 1, nil).Apply(tl)

	want := []string{"w:ambient", "e:equipment", "t:terrain", "s:soil", "a:animals", "p:plants", "r:resources"}
	if len(trace) != len(want) {
		t.Fatalf("trace=%v", trace)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace[%d]=%s want %s (trace=%v)", i, trace[i], want[i], trace)
		}
	}
}

func TestApply_EquipmentOrders(t *testing.T) {
	reg := NewRegistry()
	reg.Catalog(Equipment).
		Add("irrigate", Effect{Target: tile.Soil, Property: "water", Delta: ConstantDelta(10)}).
		Add("fertilize", Effect{Target: tile.Soil, Property: "nitrogen", Delta: ConstantDelta(5)})

	tl := newTile()
	tl.Assemblies = []*tile.Assembly{
		{ID: "pump", Orders: []string{"irrigate", "irrigate"}},
		nil,
		{ID: "spreader", Orders: []string{"fertilize", "unknown_order"}},
	}

	st := NewApplier(reg, 1, nil).Apply(tl)

	if got := tl.Soil["water"].Env; got != 70 {
		t.Fatalf("water=%v want 70", got)
	}
	if got := tl.Soil["nitrogen"].Env; got != 15 {
		t.Fatalf("nitrogen=%v want 15", got)
	}
	if st.Applied != 3 {
		t.Fatalf("stats=%+v", st)
	}
	if len(tl.Assemblies[0].Orders) != 2 {
		t.Fatalf("orders must be left in place")
	}
}

func TestApply_CatalogMissIsNoop(t *testing.T) {
	reg := NewRegistry()
	tl := newTile()
	tl.Animals.Real = []*tile.Biota{{ID: "x1", Type: "unicorn", Health: tile.NewField(1, "")}}

	before := tl.Clone()
	st := NewApplier(reg, 1, nil).Apply(tl)
	if st != (Stats{}) {
		t.Fatalf("stats=%+v want zero", st)
	}
	if tl.Animals.Real[0].Health.Env != before.Animals.Real[0].Health.Env || tl.Soil["water"].Env != 50 {
		t.Fatalf("tile changed on catalog miss")
	}
	if reg.Catalog(Animals).Lookup("unicorn") != nil {
		t.Fatalf("miss must return nil effect list")
	}
}

func TestApply_GuardedRecoversPanic(t *testing.T) {
	reg := NewRegistry()
	reg.Catalog(Soil).
		Add("boom", Effect{Target: tile.Soil, Property: "water", Delta: ComputedDelta(func(Context) float64 { panic("bad rule") })}).
		Add("nitrogen", Effect{Target: tile.Soil, Property: "nitrogen", Delta: ConstantDelta(1)})

	tl := newTile()
	a := NewApplier(reg, 1, nil)
	a.Guarded = true
	st := a.Apply(tl)

	if tl.Soil["water"].Env != 50 || tl.Soil["nitrogen"].Env != 11 {
		t.Fatalf("unexpected soil: water=%v nitrogen=%v", tl.Soil["water"].Env, tl.Soil["nitrogen"].Env)
	}
	if st.Skipped != 1 || st.Applied != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestApply_UnguardedPanics(t *testing.T) {
	reg := NewRegistry()
	reg.Catalog(Soil).Add("boom", Effect{Target: tile.Soil, Property: "water", Delta: ComputedDelta(func(Context) float64 { panic("bad rule") })})

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic to propagate")
		}
	}()
	NewApplier(reg, 1, nil).Apply(newTile())
}

func TestCategory_StringRoundTrip(t *testing.T) {
	for _, c := range Order {
		got, ok := ParseCategory(c.String())
		if !ok || got != c {
			t.Fatalf("ParseCategory(%q)=%v,%v", c.String(), got, ok)
		}
	}
	if _, ok := ParseCategory("weather"); ok {
		t.Fatalf("unexpected category")
	}
}
