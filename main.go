package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/pthm-cable/gdrive/config"
	"github.com/pthm-cable/gdrive/forces"
	"github.com/pthm-cable/gdrive/gravity"
	"github.com/pthm-cable/gdrive/scenario"
	"github.com/pthm-cable/gdrive/sim"
	"github.com/pthm-cable/gdrive/telemetry"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	scenarioPath := flag.String("scenario", "", "Path to scenario YAML (empty = built-in docking scenario)")
	maxTicks := flag.Uint64("max-ticks", 0, "Stop after N ticks (0 = scenario, then config)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	logStats := flag.Bool("log-stats", false, "Output perf and cache stats via slog")
	snapshotDir := flag.String("snapshot-dir", "", "Directory for bookmark and end-of-run snapshots (empty = disabled)")
	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	sc := scenario.Default()
	if *scenarioPath != "" {
		var err error
		if sc, err = scenario.Load(*scenarioPath); err != nil {
			slog.Error("failed to load scenario", "error", err)
			os.Exit(1)
		}
	}

	ticks := cfg.Sim.MaxTicks
	if sc.Ticks > 0 {
		ticks = sc.Ticks
	}
	if *maxTicks > 0 {
		ticks = *maxTicks
	}

	out, err := telemetry.NewOutputManager(*outputDir)
	if err != nil {
		slog.Error("failed to create output", "error", err)
		os.Exit(1)
	}
	defer out.Close()
	if err := out.WriteConfig(cfg); err != nil {
		slog.Error("failed to write config snapshot", "error", err)
	}

	opts := runOptions{ticks: ticks, logStats: *logStats, snapshotDir: *snapshotDir}
	if err := run(sc, cfg, opts, out); err != nil {
		slog.Error("run failed", "error", err)
		out.Close()
		os.Exit(1)
	}
}

type runOptions struct {
	ticks       uint64
	logStats    bool
	snapshotDir string
}

func run(sc *scenario.Scenario, cfg *config.Config, opts runOptions, out *telemetry.OutputManager) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	perf := telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow)
	mgr := gravity.NewManager(gravity.Options{
		Margin:          cfg.Field.Margin,
		EvictAfterTicks: cfg.Field.EvictAfterTicks,
	})
	world := sim.New(sc, mgr, sim.Options{
		DT:             cfg.Sim.DT,
		AngularDamping: cfg.Sim.AngularDamping,
		Perf:           perf,
	})
	orch := forces.New(mgr, world, forces.Options{
		UseCenterOfMassOverride:         cfg.Forces.UseCenterOfMassOverride,
		SuppressForceAfterDiscontinuity: cfg.Forces.SuppressForceAfterDiscontinuity,
		Epsilon:                         cfg.Forces.DegenerateForceEpsilon,
		Workers:                         cfg.Derived.Workers,
		Threshold:                       cfg.Parallel.Threshold,
		Perf:                            perf,
	})
	defer orch.Close()
	world.OnDiscontinuity(orch.NotifyDiscontinuity)

	slog.Info("starting headless run",
		"scenario", sc.Name,
		"max_ticks", opts.ticks,
		"workers", cfg.Derived.Workers,
		"output_dir", out.Dir(),
	)

	var (
		total     telemetry.TickStats
		collector = telemetry.NewCollector(cfg.Telemetry.LogEvery)
		detector  = telemetry.NewBookmarkDetector(cfg.Telemetry.BookmarkHistory)
		start     = time.Now()
		tick      uint64
	)
	for tick = 1; tick <= opts.ticks; tick++ {
		perf.StartTick()
		stats, err := world.Step(ctx, tick, orch)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				slog.Info("interrupted", "tick", tick)
				break
			}
			return err
		}
		total.Add(stats)
		collector.Record(stats)

		perf.StartPhase(telemetry.PhaseOutput)
		if err := out.WriteTick(stats); err != nil {
			return err
		}
		if collector.ShouldFlush(tick) {
			ps := perf.Stats()
			ws := collector.Flush(tick, mgr.Stats())
			if err := out.WritePerf(ps, tick); err != nil {
				return err
			}
			if err := out.WriteCache(ws.Cache); err != nil {
				return err
			}
			if opts.logStats {
				ps.LogStats(slog.Default())
				slog.Info("window", "stats", ws)
			}
			for _, bm := range detector.Check(ws) {
				bm.LogBookmark(slog.Default())
				if opts.snapshotDir != "" {
					snap := world.Snapshot(tick)
					snap.Cache = &ws.Cache
					snap.Bookmark = &bm
					saveSnapshot(snap, opts.snapshotDir)
				}
			}
		}
		perf.EndTick()
	}

	if opts.snapshotDir != "" {
		saveSnapshot(world.Snapshot(tick-1), opts.snapshotDir)
	}
	slog.Info("run complete",
		"ticks", tick-1,
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
		"totals", total,
		"cache", mgr.Stats(),
	)
	return nil
}

func saveSnapshot(snap *telemetry.Snapshot, dir string) {
	path, err := telemetry.SaveSnapshot(snap, dir)
	if err != nil {
		slog.Error("failed to save snapshot", "tick", snap.Tick, "error", err)
		return
	}
	slog.Info("snapshot saved", "tick", snap.Tick, "path", path)
}
