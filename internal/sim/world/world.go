package world

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"agrosim.ai/internal/persistence/snapshot"
	"agrosim.ai/internal/sim/catalogs"
	"agrosim.ai/internal/sim/grid"
	"agrosim.ai/internal/sim/propagate"
	"agrosim.ai/internal/sim/tile"
	"agrosim.ai/internal/sim/weather"
)

type WorldConfig struct {
	ID           string
	TickInterval time.Duration
	MaxUnits     int

	// Every SnapshotEveryDays days the world pushes a snapshot to the sink (0 disables).
	SnapshotEveryDays int
	SeasonLengthDays  int

	Weather weather.Source

	// RunID stamps tick log entries; empty generates one.
	RunID string
}

type World struct {
	cfg      WorldConfig
	catalogs *catalogs.Catalogs
	grid     *grid.Provider
	engine   *propagate.Engine
	logger   *log.Logger

	// Next day to execute.
	day atomic.Uint64

	tickLogger   TickLogger
	snapshotSink chan<- snapshot.SnapshotV1
	snapshotReq  chan snapshotRequest

	stop     chan struct{}
	stopOnce sync.Once

	metricsMu sync.Mutex
	metrics   WorldMetrics
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// TickLogEntry is written once per simulated day.
type TickLogEntry struct {
	Day            uint64 `json:"day"`
	RunID          string `json:"run_id"`
	Digest         string `json:"digest"`
	Path           string `json:"path"`
	Units          int    `json:"units"`
	Tiles          int    `json:"tiles"`
	Applied        int    `json:"applied"`
	Skipped        int    `json:"skipped"`
	FallbackReason string `json:"fallback_reason,omitempty"`
	DurationMicros int64  `json:"duration_us"`
}

type WorldMetrics struct {
	Day       uint64  `json:"day"`
	Path      string  `json:"path"`
	Units     int     `json:"units"`
	Tiles     int     `json:"tiles"`
	Applied   int     `json:"applied"`
	Skipped   int     `json:"skipped"`
	StepMS    float64 `json:"step_ms"`
	Days      uint64  `json:"days"`
	Fallbacks uint64  `json:"fallbacks"`
}

type snapshotRequest struct {
	resp chan snapshotResult
}

type snapshotResult struct {
	day uint64
	err error
}

func New(cfg WorldConfig, cats *catalogs.Catalogs, g tile.Grid, logger *log.Logger) (*World, error) {
	if cats == nil || cats.Effects == nil {
		return nil, errors.New("world: missing catalogs")
	}
	if g == nil {
		return nil, errors.New("world: missing grid")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Weather == nil {
		cfg.Weather = weather.Table(nil)
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	w := &World{
		cfg:         cfg,
		catalogs:    cats,
		grid:        grid.NewProvider(g),
		engine:      propagate.NewEngine(propagate.EngineConfig{MaxUnits: cfg.MaxUnits}, logger),
		logger:      logger,
		snapshotReq: make(chan snapshotRequest),
		stop:        make(chan struct{}),
	}
	return w, nil
}

func (w *World) SetTickLogger(l TickLogger)                    { w.tickLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) ID() string          { return w.cfg.ID }
func (w *World) RunID() string       { return w.cfg.RunID }
func (w *World) CurrentDay() uint64  { return w.day.Load() }
func (w *World) Grid() tile.Grid     { return w.grid.Load() }
func (w *World) Config() WorldConfig { return w.cfg }

func (w *World) Metrics() WorldMetrics {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	return w.metrics
}

// Run steps one day per TickInterval until ctx is done or Stop is called.
// Run and StepOnce must not be used concurrently.
func (w *World) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.snapshotReq:
			req.resp <- w.pushSnapshot()
		case <-ticker.C:
			w.step()
		}
	}
}

func (w *World) Stop() { w.stopOnce.Do(func() { close(w.stop) }) }

// StepOnce advances the world by a single day using the same ordering semantics as Run.
// It is primarily intended for deterministic replays/tests.
func (w *World) StepOnce() (day uint64, digest string) {
	e := w.step()
	return e.Day, e.Digest
}

// RequestSnapshot asks the running loop to push a snapshot of the last completed day.
func (w *World) RequestSnapshot(ctx context.Context) (uint64, error) {
	req := snapshotRequest{resp: make(chan snapshotResult, 1)}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case w.snapshotReq <- req:
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r := <-req.resp:
		return r.day, r.err
	}
}

func (w *World) pushSnapshot() snapshotResult {
	next := w.day.Load()
	if next == 0 {
		return snapshotResult{err: errors.New("no day completed yet")}
	}
	if w.snapshotSink == nil {
		return snapshotResult{day: next - 1, err: errors.New("snapshot sink not configured")}
	}
	select {
	case w.snapshotSink <- w.ExportSnapshot(next - 1):
		return snapshotResult{day: next - 1}
	default:
		return snapshotResult{day: next - 1, err: errors.New("snapshot sink busy")}
	}
}

func (w *World) step() TickLogEntry {
	day := w.day.Load()
	res := w.engine.Tick(&propagate.SimulationContext{
		Grid:     w.grid.Load(),
		Registry: w.catalogs.Effects,
		Day:      int(day),
		Weather:  w.cfg.Weather.Conditions(int(day)),
	})
	w.grid.Swap(res.Grid)

	entry := TickLogEntry{
		Day:            day,
		RunID:          w.cfg.RunID,
		Digest:         grid.Digest(res.Grid),
		Path:           res.Path,
		Units:          res.Units,
		Tiles:          res.Tiles,
		Applied:        res.Stats.Applied,
		Skipped:        res.Stats.Skipped,
		FallbackReason: res.FallbackReason,
		DurationMicros: res.Duration.Microseconds(),
	}
	w.observe(entry, res.Duration)
	if w.tickLogger != nil {
		_ = w.tickLogger.WriteTick(entry)
	}

	if w.snapshotSink != nil && w.cfg.SnapshotEveryDays > 0 && (day+1)%uint64(w.cfg.SnapshotEveryDays) == 0 {
		snap := w.ExportSnapshot(day)
		select {
		case w.snapshotSink <- snap:
		default:
			// Drop snapshot if sink is backed up.
			if w.logger != nil {
				w.logger.Printf("day %d: snapshot sink full, dropping snapshot", day)
			}
		}
	}

	w.day.Add(1)
	return entry
}

func (w *World) observe(e TickLogEntry, d time.Duration) {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	w.metrics.Day = e.Day
	w.metrics.Path = e.Path
	w.metrics.Units = e.Units
	w.metrics.Tiles = e.Tiles
	w.metrics.Applied = e.Applied
	w.metrics.Skipped = e.Skipped
	w.metrics.StepMS = float64(d.Microseconds()) / 1000
	w.metrics.Days++
	if e.Path == propagate.PathFallback {
		w.metrics.Fallbacks++
	}
}

// ExportSnapshot captures the current grid labelled as the state after day.
func (w *World) ExportSnapshot(day uint64) snapshot.SnapshotV1 {
	g := w.grid.Load()
	snap := snapshot.SnapshotV1{
		Header:            snapshot.Header{Version: snapshot.Version, WorldID: w.cfg.ID, Day: day},
		RunID:             w.cfg.RunID,
		Rows:              g.Rows(),
		Cols:              g.Cols(),
		SnapshotEveryDays: w.cfg.SnapshotEveryDays,
		SeasonLengthDays:  w.cfg.SeasonLengthDays,
		CatalogDigest:     w.catalogs.Digest,
		Digest:            grid.Digest(g),
		Tiles:             make([]*tile.Tile, 0, g.Rows()*g.Cols()),
	}
	if tbl, ok := w.cfg.Weather.(weather.Table); ok {
		snap.Weather = tbl
	}
	for _, row := range g {
		for _, t := range row {
			snap.Tiles = append(snap.Tiles, snapshot.Compact(t))
		}
	}
	return snap
}

// ImportSnapshot replaces the grid and resumes at the day after the snapshot.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	g, err := snap.Grid()
	if err != nil {
		return err
	}
	if snap.Digest != "" {
		if got := grid.Digest(g); got != snap.Digest {
			return fmt.Errorf("snapshot digest mismatch: got=%s want=%s", got, snap.Digest)
		}
	}
	if snap.CatalogDigest != "" && snap.CatalogDigest != w.catalogs.Digest && w.logger != nil {
		w.logger.Printf("snapshot day %d was written with catalogs %s, running with %s", snap.Header.Day, snap.CatalogDigest, w.catalogs.Digest)
	}
	w.grid.Swap(g)
	w.day.Store(snap.Header.Day + 1)
	return nil
}
