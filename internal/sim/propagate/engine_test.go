package propagate

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"agrosim.ai/internal/sim/effects"
	"agrosim.ai/internal/sim/tile"
)

func TestEngineTick_ParallelMatchesSequential(t *testing.T) {
	for _, units := range []int{1, 2, 3, 4} {
		g := testGrid(5, 7)
		sc := testContext(g)

		eng := NewEngine(EngineConfig{MaxUnits: units}, nil)
		res := eng.Tick(sc)
		if res.Path != PathParallel {
			t.Fatalf("units=%d: path=%s reason=%s", units, res.Path, res.FallbackReason)
		}
		if res.Tiles != 35 {
			t.Fatalf("units=%d: tiles=%d", units, res.Tiles)
		}

		seq, st := Sequential(testContext(testGrid(5, 7)))
		assertSameEnv(t, res.Grid, seq)
		if st != res.Stats {
			t.Fatalf("units=%d: stats parallel=%+v sequential=%+v", units, res.Stats, st)
		}
	}
}

func TestEngineTick_DoesNotMutateInput(t *testing.T) {
	g := testGrid(3, 3)
	before := envValues(g)

	res := NewEngine(EngineConfig{}, nil).Tick(testContext(g))

	after := envValues(g)
	for k, v := range before {
		if after[k] != v {
			t.Fatalf("input grid changed at %s: %v -> %v", k, v, after[k])
		}
	}
	if res.Grid[0][0] == g[0][0] {
		t.Fatalf("result grid reuses input tiles")
	}
}

func TestEngineTick_ExpectedValues(t *testing.T) {
	g := testGrid(1, 1)
	res := NewEngine(EngineConfig{}, nil).Tick(testContext(g))
	tl := res.Grid[0][0]

	// water: 30 +3 (rain) +4 (irrigate) -1.1 (post-terrain slope) = 35.9
	if got := tl.Soil["water"].Env; got < 35.8999 || got > 35.9001 {
		t.Fatalf("soil.water=%v want 35.9", got)
	}
	if got := tl.Topography["slope"].Env; got < 1.0999 || got > 1.1001 {
		t.Fatalf("slope=%v want 1.1", got)
	}
	if got := tl.Animals.Real[0].Attributes["weight"].Env; got != 301.5 {
		t.Fatalf("cow weight=%v", got)
	}
	// grass: 100 -2 (cow) +1 (regrowth)
	if got := tl.Resources["grass"].Env; got != 99 {
		t.Fatalf("grass=%v", got)
	}
	// clover a: 5 -0.25 (cow broadcast) +0.359 (own growth from soil water)
	h := tl.Plants.Real[0].Attributes["height"].Env
	if h < 5-0.25+0.359-0.0001 || h > 5-0.25+0.359+0.0001 {
		t.Fatalf("clover height=%v", h)
	}
}

func TestEngineTick_PassThroughOptimized(t *testing.T) {
	g := testGrid(2, 3)
	res := NewEngine(EngineConfig{}, nil).Tick(testContext(g))
	for r := range g {
		for c := range g[r] {
			want, got := g[r][c].Animals.Optimized, res.Grid[r][c].Animals.Optimized
			if len(want) != len(got) || &want[0] != &got[0] {
				t.Fatalf("animals.optimized changed at (%d,%d)", r, c)
			}
			if got[0].ID != "plan-cow" || got[0].Health != nil {
				t.Fatalf("animals.optimized contents changed at (%d,%d)", r, c)
			}
			if &g[r][c].Plants.Optimized[0] != &res.Grid[r][c].Plants.Optimized[0] {
				t.Fatalf("plants.optimized changed at (%d,%d)", r, c)
			}
		}
	}
}

type failingUnit struct {
	fail     bool
	panics   bool
	short    bool
	released *atomic.Int64
	inner    Unit
}

func (u *failingUnit) Process(ctx context.Context, chunk []TileSnapshotV1) ([]TileSnapshotV1, effects.Stats, error) {
	switch {
	case u.panics:
		panic("unit crashed")
	case u.fail:
		return nil, effects.Stats{}, errors.New("unit lost")
	case u.short:
		return chunk[:len(chunk)-1], effects.Stats{}, nil
	}
	return u.inner.Process(ctx, chunk)
}

func (u *failingUnit) Release() {
	u.released.Add(1)
	u.inner.Release()
}

func TestEngineTick_FallbackOnUnitFailure(t *testing.T) {
	cases := []struct {
		name   string
		make   func(id int, inner Unit, rel *atomic.Int64) (Unit, error)
		reason string
	}{
		{"error", func(id int, inner Unit, rel *atomic.Int64) (Unit, error) {
			return &failingUnit{fail: id == 0, released: rel, inner: inner}, nil
		}, "unit lost"},
		{"panic", func(id int, inner Unit, rel *atomic.Int64) (Unit, error) {
			return &failingUnit{panics: id == 0, released: rel, inner: inner}, nil
		}, "panic"},
		{"short result", func(id int, inner Unit, rel *atomic.Int64) (Unit, error) {
			return &failingUnit{short: id == 0, released: rel, inner: inner}, nil
		}, "returned"},
		{"spawn", func(id int, inner Unit, rel *atomic.Int64) (Unit, error) {
			if id == 0 {
				return nil, errors.New("no capacity")
			}
			return &failingUnit{released: rel, inner: inner}, nil
		}, "no capacity"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var spawned, released atomic.Int64
			eng := NewEngine(EngineConfig{
				MaxUnits: 2,
				NewUnits: func(sc *SimulationContext) UnitFactory {
					base := WorkerFactory(sc.Registry, sc.Day, sc.Weather)
					return func(id int) (Unit, error) {
						inner, _ := base(id)
						u, err := tc.make(id, inner, &released)
						if err == nil {
							spawned.Add(1)
						}
						return u, err
					}
				},
			}, nil)
			var active int
			eng.afterRun = func(p *Pool) { active = p.Active() }

			g := testGrid(4, 4)
			res := eng.Tick(testContext(g))

			if res.Path != PathFallback {
				t.Fatalf("path=%s want fallback", res.Path)
			}
			if !strings.Contains(res.FallbackReason, tc.reason) {
				t.Fatalf("reason=%q want to contain %q", res.FallbackReason, tc.reason)
			}
			if active != 0 {
				t.Fatalf("active units after run=%d", active)
			}
			if spawned.Load() != released.Load() {
				t.Fatalf("spawned=%d released=%d", spawned.Load(), released.Load())
			}

			want, _ := Sequential(testContext(testGrid(4, 4)))
			assertSameEnv(t, res.Grid, want)
		})
	}
}

func TestEngineTick_CleanupAfterSuccess(t *testing.T) {
	eng := NewEngine(EngineConfig{}, nil)
	active := -1
	eng.afterRun = func(p *Pool) { active = p.Active() }
	eng.Tick(testContext(testGrid(6, 6)))
	if active != 0 {
		t.Fatalf("active units after run=%d", active)
	}
}

func TestEngineTick_PanickingRuleFallsBackAndSkips(t *testing.T) {
	sc := testContext(testGrid(2, 2))
	sc.Registry.Catalog(effects.Resources).Add("bad", effects.Effect{Target: tile.Resources, Property: "grass", Delta: effects.ComputedDelta(func(ctx effects.Context) float64 {
		if ctx.Tile.Row == 1 {
			panic("rule bug")
		}
		return 0
	})})

	res := NewEngine(EngineConfig{}, nil).Tick(sc)
	if res.Path != PathFallback {
		t.Fatalf("path=%s", res.Path)
	}
	if res.Stats.Skipped < 2 {
		t.Fatalf("panicking effects not counted as skipped: %+v", res.Stats)
	}
	if got := res.Grid[1][0].Resources["grass"].Env; got != 99 {
		t.Fatalf("grass=%v want 99", got)
	}
}

func TestEngineTick_EmptyGrid(t *testing.T) {
	res := NewEngine(EngineConfig{}, nil).Tick(&SimulationContext{Registry: effects.NewRegistry()})
	if res.Path != PathParallel || res.Tiles != 0 || len(res.Grid) != 0 {
		t.Fatalf("res=%+v", res)
	}
}

func TestPool_SiblingCancellation(t *testing.T) {
	var sawCancel atomic.Bool
	started := make(chan struct{})
	spawn := func(id int) (Unit, error) {
		return unitFunc(func(ctx context.Context, chunk []TileSnapshotV1) ([]TileSnapshotV1, effects.Stats, error) {
			if id == 0 {
				<-started
				return nil, effects.Stats{}, errors.New("boom")
			}
			close(started)
			<-ctx.Done()
			sawCancel.Store(true)
			return nil, effects.Stats{}, ctx.Err()
		}), nil
	}
	p := NewPool(spawn)
	chunks := Partition(BuildSnapshots(Flatten(testGrid(2, 2))), 2)
	if _, _, err := p.Run(chunks); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err=%v", err)
	}
	if !sawCancel.Load() {
		t.Fatalf("sibling unit was not cancelled")
	}
	if p.Active() != 0 {
		t.Fatalf("active=%d", p.Active())
	}
}

type unitFunc func(ctx context.Context, chunk []TileSnapshotV1) ([]TileSnapshotV1, effects.Stats, error)

func (f unitFunc) Process(ctx context.Context, chunk []TileSnapshotV1) ([]TileSnapshotV1, effects.Stats, error) {
	return f(ctx, chunk)
}

func (unitFunc) Release() {}
