package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"vivarium/config"
	"vivarium/sim"
	"vivarium/telemetry"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	seed := flag.Int64("seed", 0, "RNG seed (0 = use config seed; config 0 = time-based)")
	maxTicks := flag.Int("max-ticks", 0, "Stop after N ticks (0 = unlimited)")
	speed := flag.Int("speed", 0, "Ticks per loop iteration (0 = use config)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	snapshotDir := flag.String("snapshot-dir", "", "Directory for a final state snapshot")
	archivePath := flag.String("archive", "", "SQLite database for run archival")
	logPerf := flag.Bool("log-perf", false, "Log tick timing at each stats window")
	predictHorizon := flag.Int("predict", 0, "Log a population projection this many ticks ahead at exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *seed != 0 {
		cfg.Simulation.Seed = *seed
	}
	if cfg.Simulation.Seed == 0 {
		cfg.Simulation.Seed = time.Now().UnixNano()
	}

	engine, err := sim.New(cfg)
	if err != nil {
		slog.Error("failed to build engine", "error", err)
		os.Exit(1)
	}

	om, err := telemetry.NewOutputManager(*outputDir)
	if err != nil {
		slog.Error("failed to create output directory", "error", err)
		os.Exit(1)
	}
	defer om.Close()
	engine.AttachOutput(om)
	if err := om.WriteConfig(cfg); err != nil {
		slog.Error("failed to write config snapshot", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if *archivePath != "" {
		archive := telemetry.NewArchive(*archivePath)
		if err := archive.Open(ctx); err != nil {
			slog.Error("failed to open archive", "error", err)
			os.Exit(1)
		}
		defer archive.Close()
		if err := archive.BeginRun(ctx, cfg.Simulation.Seed); err != nil {
			slog.Error("failed to record run", "error", err)
			os.Exit(1)
		}
		engine.OnWindowStats(func(s telemetry.WindowStats) {
			if err := archive.SaveStats(ctx, s); err != nil {
				slog.Error("failed to archive stats", "error", err)
			}
		})
		slog.Info("archiving run", "run_id", archive.RunID(), "path", *archivePath)
	}

	if *speed != 0 {
		if err := engine.SetSpeed(*speed); err != nil {
			slog.Error("invalid speed", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("starting simulation",
		"seed", cfg.Simulation.Seed,
		"population", engine.Population(),
		"population_cap", engine.PopulationCap(),
		"max_ticks", *maxTicks,
		"speed", engine.Speed(),
		"memory_budget", humanize.Bytes(cfg.Memory.BudgetBytes),
	)

	engine.Start()
	dt := cfg.Simulation.DT
	var snap sim.Snapshot
	for {
		for i := 0; i < engine.Speed(); i++ {
			snap = engine.Tick(dt)
		}

		if *logPerf && engine.PerfStats().AvgTickDuration > 0 &&
			snap.Tick%uint64(cfg.Telemetry.StatsWindow) < uint64(engine.Speed()) {
			engine.PerfStats().LogStats()
		}

		if *maxTicks > 0 && snap.Tick >= uint64(*maxTicks) {
			break
		}
		if snap.Population == 0 {
			slog.Info("population extinct", "tick", snap.Tick)
			break
		}
	}
	engine.Pause()

	slog.Info("simulation finished",
		"tick", snap.Tick,
		"population", snap.Population,
		"generation", snap.Generation,
		"elapsed", snap.Elapsed,
		"pool_reuse_ratio", engine.PoolStats().ReuseRatio,
	)

	if *predictHorizon > 0 {
		if pred, ok := engine.Predict(*predictHorizon); ok {
			slog.Info("population projection",
				"model", pred.Model,
				"confidence", pred.Confidence,
				"horizon", *predictHorizon,
				"projected", pred.Curve[len(pred.Curve)-1],
			)
		} else {
			slog.Info("population projection unavailable", "reason", "insufficient history")
		}
	}

	if *snapshotDir != "" {
		path, err := telemetry.SaveState(engine.Export(), *snapshotDir)
		if err != nil {
			slog.Error("failed to save snapshot", "error", err)
			os.Exit(1)
		}
		slog.Info("saved snapshot", "path", path)
	}
}
