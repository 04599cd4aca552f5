package propagate

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"agrosim.ai/internal/sim/effects"
)

// Unit is one independent execution unit. Process runs the per-tile applier over a chunk and
// returns the processed snapshots in input order. Release frees the unit; it is called exactly
// once per spawned unit.
type Unit interface {
	Process(ctx context.Context, chunk []TileSnapshotV1) ([]TileSnapshotV1, effects.Stats, error)
	Release()
}

// UnitFactory spawns the unit for chunk index id.
type UnitFactory func(id int) (Unit, error)

// Pool fans chunks out to execution units.
type Pool struct {
	spawn  UnitFactory
	active atomic.Int64
}

func NewPool(spawn UnitFactory) *Pool {
	return &Pool{spawn: spawn}
}

// Active is the number of spawned units not yet released.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Run processes every chunk concurrently, one unit per chunk. It returns after every spawned unit
// has been released. The first failure cancels the remaining units and is returned; results are
// only meaningful when err is nil.
func (p *Pool) Run(chunks [][]TileSnapshotV1) (out [][]TileSnapshotV1, stats effects.Stats, err error) {
	out = make([][]TileSnapshotV1, len(chunks))
	perChunk := make([]effects.Stats, len(chunks))

	g, ctx := errgroup.WithContext(context.Background())
	for i, chunk := range chunks {
		u, err := p.spawn(i)
		if err != nil {
			// Fail the group so already dispatched units stop early.
			g.Go(func() error { return fmt.Errorf("spawn unit %d: %w", i, err) })
			break
		}
		p.active.Add(1)
		g.Go(func() (err error) {
			defer func() {
				u.Release()
				p.active.Add(-1)
			}()
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("unit %d: panic: %v", i, r)
				}
			}()
			res, st, err := u.Process(ctx, chunk)
			if err != nil {
				return fmt.Errorf("unit %d: %w", i, err)
			}
			if len(res) != len(chunk) {
				return fmt.Errorf("unit %d: returned %d tiles for %d", i, len(res), len(chunk))
			}
			out[i] = res
			perChunk[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, effects.Stats{}, err
	}
	for _, st := range perChunk {
		stats.Add(st)
	}
	return out, stats, nil
}

// worker is the default unit: a goroutine that owns a private chunk and the shared read-only
// registry.
type worker struct {
	id      int
	applier *effects.Applier
}

// WorkerFactory returns a factory for registry-backed units. The day and weather are fixed for the tick.
func WorkerFactory(reg *effects.Registry, day int, weather effects.Weather) UnitFactory {
	return func(id int) (Unit, error) {
		return &worker{id: id, applier: effects.NewApplier(reg, day, weather)}, nil
	}
}

func (w *worker) Process(ctx context.Context, chunk []TileSnapshotV1) ([]TileSnapshotV1, effects.Stats, error) {
	var st effects.Stats
	for i := range chunk {
		if err := ctx.Err(); err != nil {
			return nil, st, err
		}
		s := &chunk[i]
		if s.Version != SnapshotVersion {
			return nil, st, fmt.Errorf("tile (%d,%d): snapshot version %d", s.Row, s.Col, s.Version)
		}
		st.Add(w.applier.Apply(s.view()))
	}
	return chunk, st, nil
}

func (w *worker) Release() {}
