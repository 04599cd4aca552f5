package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "agrosim.ai/internal/persistence/log"
	"agrosim.ai/internal/persistence/snapshot"
	"agrosim.ai/internal/sim/catalogs"
	"agrosim.ai/internal/sim/tuning"
	"agrosim.ai/internal/sim/weather"
	"agrosim.ai/internal/sim/world"
)

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to .snap.zst")
		eventsDir  = flag.String("events", "", "events dir containing events-*.jsonl.zst (optional)")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		runID      = flag.String("run_id", "", "only verify entries written by this run (optional)")
		fromDay    = flag.Uint64("from_day", 0, "start verifying from day (inclusive, optional)")
		toDay      = flag.Uint64("to_day", 0, "stop at day (inclusive, optional)")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	fmt.Printf("snapshot v%d world=%s day=%d run=%s grid=%dx%d catalogs=%s digest=%s weather_days=%d\n",
		snap.Header.Version, snap.Header.WorldID, snap.Header.Day, snap.RunID, snap.Rows, snap.Cols,
		short(snap.CatalogDigest), short(snap.Digest), len(snap.Weather))

	if *eventsDir == "" {
		return
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}
	if snap.CatalogDigest != "" && snap.CatalogDigest != cats.Digest {
		fmt.Fprintf(os.Stderr, "warning: catalogs differ from snapshot (%s != %s); digests will likely diverge\n", short(cats.Digest), short(snap.CatalogDigest))
	}

	maxUnits := 0
	tp := *tuningPath
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	if tune, err := tuning.Load(tp); err == nil {
		maxUnits = tune.MaxUnits
	}

	w, err := newReplayWorld(snap, cats, maxUnits)
	if err != nil {
		fmt.Fprintln(os.Stderr, "world:", err)
		os.Exit(1)
	}

	files, err := persistlog.ListFiles(*eventsDir, "events")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", *eventsDir)
		os.Exit(1)
	}

	r := replayer{w: w, runID: *runID, verifyFrom: *fromDay, toDay: *toDay}
	if r.verifyFrom == 0 {
		r.verifyFrom = w.CurrentDay()
	}
	for _, path := range files {
		if err := r.replayFile(path); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
		if r.done {
			break
		}
	}
	fmt.Printf("replay ok: checked=%d days (from snapshot day=%d)\n", r.checked, snap.Header.Day)
}

func newReplayWorld(snap snapshot.SnapshotV1, cats *catalogs.Catalogs, maxUnits int) (*world.World, error) {
	g, err := snap.Grid()
	if err != nil {
		return nil, err
	}
	w, err := world.New(world.WorldConfig{
		ID:                snap.Header.WorldID,
		MaxUnits:          maxUnits,
		SnapshotEveryDays: snap.SnapshotEveryDays,
		SeasonLengthDays:  snap.SeasonLengthDays,
		Weather:           weather.Table(snap.Weather),
		RunID:             snap.RunID,
	}, cats, g, nil)
	if err != nil {
		return nil, err
	}
	if err := w.ImportSnapshot(snap); err != nil {
		return nil, fmt.Errorf("import snapshot: %w", err)
	}
	return w, nil
}

// replayer steps a world through logged days and checks each digest.
type replayer struct {
	w          *world.World
	runID      string
	verifyFrom uint64
	toDay      uint64

	checked uint64
	done    bool
}

func (r *replayer) replayFile(path string) error {
	var stepErr error
	err := persistlog.ReadTicks(path, func(entry world.TickLogEntry) bool {
		if r.runID != "" && entry.RunID != r.runID {
			return true
		}
		// Days before the snapshot, or already replayed by an earlier run's entries.
		if entry.Day < r.w.CurrentDay() {
			return true
		}
		if r.toDay != 0 && entry.Day > r.toDay {
			r.done = true
			return false
		}
		if entry.Day != r.w.CurrentDay() {
			stepErr = fmt.Errorf("day gap: want=%d got=%d (file=%s)", r.w.CurrentDay(), entry.Day, filepath.Base(path))
			return false
		}

		day, gotDigest := r.w.StepOnce()
		if day != entry.Day {
			stepErr = fmt.Errorf("internal day mismatch: stepped=%d entry=%d (file=%s)", day, entry.Day, filepath.Base(path))
			return false
		}
		if day >= r.verifyFrom {
			r.checked++
			if gotDigest != entry.Digest {
				stepErr = fmt.Errorf("digest mismatch at day %d: got=%s want=%s", day, gotDigest, entry.Digest)
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}
	return stepErr
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
