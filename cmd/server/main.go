package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"agrosim.ai/internal/persistence/archive"
	"agrosim.ai/internal/persistence/indexdb"
	persistlog "agrosim.ai/internal/persistence/log"
	"agrosim.ai/internal/persistence/snapshot"
	"agrosim.ai/internal/sim/catalogs"
	"agrosim.ai/internal/sim/grid"
	"agrosim.ai/internal/sim/tuning"
	"agrosim.ai/internal/sim/weather"
	"agrosim.ai/internal/sim/world"
	"agrosim.ai/internal/transport/observer"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "", "world id (default: world_id from tuning)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		gridPath   = flag.String("grid", "", "path to the grid seed (default: <configs>/grid.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (ticks + catalogs + snapshot metadata)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if *worldID != "" {
		tune.WorldID = *worldID
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	logger.Printf("catalogs digest=%s", cats.Digest)

	worldDir := filepath.Join(*dataDir, "worlds", tune.WorldID)
	_ = os.MkdirAll(worldDir, 0o755)

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(worldDir)
	}

	cfg := world.WorldConfig{
		ID:                tune.WorldID,
		TickInterval:      time.Duration(tune.TickIntervalMs) * time.Millisecond,
		MaxUnits:          tune.MaxUnits,
		SnapshotEveryDays: tune.SnapshotEveryDays,
		SeasonLengthDays:  tune.SeasonLengthDays,
	}

	var (
		w    *world.World
		snap *snapshot.SnapshotV1
	)
	if snapshotToLoad != "" {
		s, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if s.Header.WorldID != "" && s.Header.WorldID != tune.WorldID {
			logger.Fatalf("snapshot world id mismatch: want=%s snap=%s", tune.WorldID, s.Header.WorldID)
		}
		snap = &s
	}
	cfg.Weather = weatherFor(tune, snap)

	if snap != nil {
		g, err := snap.Grid()
		if err != nil {
			logger.Fatalf("snapshot grid: %v", err)
		}
		w, err = world.New(cfg, cats, g, logger)
		if err != nil {
			logger.Fatalf("world: %v", err)
		}
		if err := w.ImportSnapshot(*snap); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed from snapshot=%s day=%d", filepath.Base(snapshotToLoad), w.CurrentDay())
	} else {
		gp := strings.TrimSpace(*gridPath)
		if gp == "" {
			gp = filepath.Join(*configDir, "grid.yaml")
		}
		g, err := grid.LoadSeed(gp)
		if err != nil {
			logger.Fatalf("load grid: %v", err)
		}
		w, err = world.New(cfg, cats, g, logger)
		if err != nil {
			logger.Fatalf("world: %v", err)
		}
		logger.Printf("fresh world from %s (%dx%d)", gp, g.Rows(), g.Cols())
	}
	logger.Printf("world=%s run=%s max_units=%d", w.ID(), w.RunID(), tune.MaxUnits)

	// Optional: read-model index backend (does not affect sim determinism).
	idx, err := openRuntimeIndex(worldDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	obsSrv := observer.NewServer(w, logger)
	obsSrv.AllowRemote = envBool("AGRO_OBSERVER_ALLOW_REMOTE", false)

	tickLog := persistlog.NewTickLogger(worldDir)
	defer tickLog.Close()
	tl := multiTickLogger{tickLog, obsSrv}
	if idx != nil {
		tl = append(tl, idx)
	}
	w.SetTickLogger(tl)

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	go runSnapshotWriter(ctx, worldDir, snapCh, idx, logger)

	go func() {
		if err := w.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		var qs *indexdb.QueueStats
		if idx != nil {
			s := idx.Stats()
			qs = &s
		}
		writeMetrics(rw, w.ID(), w.CurrentDay(), w.Metrics(), qs)
	})

	if envBool("AGRO_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		// Local-only admin endpoints (do not affect simulation determinism).
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				WorldID       string             `json:"world_id"`
				RunID         string             `json:"run_id"`
				Day           uint64             `json:"day"`
				CatalogDigest string             `json:"catalog_digest"`
				Metrics       world.WorldMetrics `json:"metrics"`
			}{
				WorldID:       w.ID(),
				RunID:         w.RunID(),
				Day:           w.CurrentDay(),
				CatalogDigest: cats.Digest,
				Metrics:       w.Metrics(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
		mux.HandleFunc("/admin/v1/snapshot", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel2()
			day, err := w.RequestSnapshot(ctx2)
			rw.Header().Set("Content-Type", "application/json")
			if err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "day": day, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "day": day})
		})
	} else {
		logger.Printf("admin endpoints disabled (AGRO_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("AGRO_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	obsSrv.Register(mux)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// weatherFor prefers the tuning table and falls back to the one carried by the snapshot.
func weatherFor(tune tuning.Tuning, snap *snapshot.SnapshotV1) weather.Source {
	if len(tune.Weather) > 0 {
		return weather.Table(tune.Weather)
	}
	if snap != nil && len(snap.Weather) > 0 {
		return weather.Table(snap.Weather)
	}
	return weather.Table(nil)
}

func runSnapshotWriter(ctx context.Context, worldDir string, ch <-chan snapshot.SnapshotV1, idx runtimeIndex, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			writeSnapshot(worldDir, snap, idx, logger)
		}
	}
}

func writeSnapshot(worldDir string, snap snapshot.SnapshotV1, idx runtimeIndex, logger *log.Logger) {
	path := filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Day))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		logger.Printf("snapshot write: %v", err)
		return
	}
	if idx != nil {
		idx.RecordSnapshot(path, snap)
	}
	season, archivedPath, ok, err := archive.ArchiveSeasonSnapshot(worldDir, path, snap)
	if err != nil {
		logger.Printf("archive season snapshot: %v", err)
		return
	}
	if ok {
		logger.Printf("season %d archived at day %d", season, snap.Header.Day)
		if idx != nil {
			idx.RecordSeason(season, snap.Header.Day, archivedPath, snap.RunID)
		}
	}
}

func writeMetrics(rw io.Writer, worldID string, day uint64, m world.WorldMetrics, qs *indexdb.QueueStats) {
	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP agrosim_world_day Next day to simulate.\n")
	fmt.Fprintf(rw, "# TYPE agrosim_world_day gauge\n")
	fmt.Fprintf(rw, "agrosim_world_day{world=%q} %d\n", worldID, day)

	fmt.Fprintf(rw, "# HELP agrosim_days_total Days simulated by this process.\n")
	fmt.Fprintf(rw, "# TYPE agrosim_days_total counter\n")
	fmt.Fprintf(rw, "agrosim_days_total{world=%q} %d\n", worldID, m.Days)

	fmt.Fprintf(rw, "# HELP agrosim_fallbacks_total Days executed on the sequential fallback path.\n")
	fmt.Fprintf(rw, "# TYPE agrosim_fallbacks_total counter\n")
	fmt.Fprintf(rw, "agrosim_fallbacks_total{world=%q} %d\n", worldID, m.Fallbacks)

	fmt.Fprintf(rw, "# HELP agrosim_day_units Execution units used by the last day.\n")
	fmt.Fprintf(rw, "# TYPE agrosim_day_units gauge\n")
	fmt.Fprintf(rw, "agrosim_day_units{world=%q} %d\n", worldID, m.Units)

	fmt.Fprintf(rw, "# HELP agrosim_day_tiles Tiles propagated by the last day.\n")
	fmt.Fprintf(rw, "# TYPE agrosim_day_tiles gauge\n")
	fmt.Fprintf(rw, "agrosim_day_tiles{world=%q} %d\n", worldID, m.Tiles)

	fmt.Fprintf(rw, "# HELP agrosim_day_effects Effects applied or skipped by the last day.\n")
	fmt.Fprintf(rw, "# TYPE agrosim_day_effects gauge\n")
	fmt.Fprintf(rw, "agrosim_day_effects{world=%q,result=%q} %d\n", worldID, "applied", m.Applied)
	fmt.Fprintf(rw, "agrosim_day_effects{world=%q,result=%q} %d\n", worldID, "skipped", m.Skipped)

	fmt.Fprintf(rw, "# HELP agrosim_step_ms Last day step duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE agrosim_step_ms gauge\n")
	fmt.Fprintf(rw, "agrosim_step_ms{world=%q} %.3f\n", worldID, m.StepMS)

	if qs == nil {
		return
	}
	fmt.Fprintf(rw, "# HELP agrosim_index_queue_depth Index write queue depth.\n")
	fmt.Fprintf(rw, "# TYPE agrosim_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "agrosim_index_queue_depth{world=%q} %d\n", worldID, qs.QueueDepth)

	fmt.Fprintf(rw, "# HELP agrosim_index_dropped_total Index writes dropped on backlog.\n")
	fmt.Fprintf(rw, "# TYPE agrosim_index_dropped_total counter\n")
	fmt.Fprintf(rw, "agrosim_index_dropped_total{world=%q,kind=%q} %d\n", worldID, "tick", qs.DropTickTotal)
	fmt.Fprintf(rw, "agrosim_index_dropped_total{world=%q,kind=%q} %d\n", worldID, "snapshot", qs.DropSnapshotTotal)
	fmt.Fprintf(rw, "agrosim_index_dropped_total{world=%q,kind=%q} %d\n", worldID, "season", qs.DropSeasonTotal)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func latestSnapshot(worldDir string) string {
	dir := filepath.Join(worldDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestDay uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		day, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || day > bestDay {
			bestDay = day
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

type multiTickLogger []world.TickLogger

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	for _, l := range m {
		if l != nil {
			_ = l.WriteTick(entry)
		}
	}
	return nil
}
