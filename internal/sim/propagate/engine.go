// Package propagate applies one day of effects across a whole grid, in parallel when possible
// and sequentially otherwise.
package propagate

import (
	"log"
	"time"

	"agrosim.ai/internal/sim/effects"
	"agrosim.ai/internal/sim/tile"
)

const (
	PathParallel = "parallel"
	PathFallback = "fallback"
)

// SimulationContext is built once per tick and passed by parameter.
type SimulationContext struct {
	Grid     tile.Grid
	Registry *effects.Registry
	Day      int
	Weather  effects.Weather
}

// Result describes one completed tick. Grid is always a fully merged grid.
type Result struct {
	Grid           tile.Grid
	Path           string
	Units          int
	Tiles          int
	Stats          effects.Stats
	FallbackReason string
	Duration       time.Duration
}

type EngineConfig struct {
	// MaxUnits limits parallel execution units (0 = MaxUnits).
	MaxUnits int
	// NewUnits overrides the unit factory; nil uses WorkerFactory.
	NewUnits func(sc *SimulationContext) UnitFactory
}

// Engine runs ticks. It holds no grid state between ticks.
type Engine struct {
	cfg    EngineConfig
	logger *log.Logger

	// Optional hook called with each pool after Run returns (tests).
	afterRun func(p *Pool)
}

func NewEngine(cfg EngineConfig, logger *log.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger}
}

// Tick propagates one day. sc.Grid is read but never written; the result carries the new grid.
// A parallel failure of any kind is recovered by re-running the whole tick sequentially.
func (e *Engine) Tick(sc *SimulationContext) Result {
	start := time.Now()
	tiles := Flatten(sc.Grid)

	res, err := e.parallel(sc, tiles)
	if err != nil {
		if e.logger != nil {
			e.logger.Printf("day %d: parallel propagation failed, running sequential fallback: %v", sc.Day, err)
		}
		grid, st := Sequential(sc)
		res = Result{
			Grid:           grid,
			Path:           PathFallback,
			Units:          1,
			Stats:          st,
			FallbackReason: err.Error(),
		}
	}
	res.Tiles = len(tiles)
	res.Duration = time.Since(start)
	return res
}

func (e *Engine) parallel(sc *SimulationContext, tiles []*tile.Tile) (Result, error) {
	units := UnitCount(e.cfg.MaxUnits)
	chunks := Partition(BuildSnapshots(tiles), units)

	spawn := WorkerFactory(sc.Registry, sc.Day, sc.Weather)
	if e.cfg.NewUnits != nil {
		spawn = e.cfg.NewUnits(sc)
	}
	pool := NewPool(spawn)
	out, st, err := pool.Run(chunks)
	if e.afterRun != nil {
		e.afterRun(pool)
	}
	if err != nil {
		return Result{}, err
	}

	processed := make([]TileSnapshotV1, 0, len(tiles))
	for _, c := range out {
		processed = append(processed, c...)
	}
	grid, err := Merge(sc.Grid, processed)
	if err != nil {
		return Result{}, err
	}
	return Result{Grid: grid, Path: PathParallel, Units: len(chunks), Stats: st}, nil
}

// Sequential runs the same snapshot, apply and merge steps on the calling goroutine, tile by
// tile. Tiles are merged by grid position. Panicking deltas are skipped rather than aborting the tick.
func Sequential(sc *SimulationContext) (tile.Grid, effects.Stats) {
	applier := effects.NewApplier(sc.Registry, sc.Day, sc.Weather)
	applier.Guarded = true

	var st effects.Stats
	out := make(tile.Grid, len(sc.Grid))
	for r, row := range sc.Grid {
		out[r] = make([]*tile.Tile, len(row))
		for c, t := range row {
			s := BuildSnapshot(t)
			st.Add(applier.Apply(s.view()))
			out[r][c] = mergeTile(t, &s)
		}
	}
	return out, st
}
