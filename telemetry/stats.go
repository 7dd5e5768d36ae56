// Package telemetry provides window statistics, per-tick performance
// timing, and structured output (CSV, JSON snapshots, SQLite archive)
// for the simulation.
package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated statistics for one stats window.
type WindowStats struct {
	WindowEndTick uint64  `csv:"window_end"`
	SimTime       float64 `csv:"sim_time"`

	// Population state at window end
	Population int    `csv:"population"`
	Generation uint32 `csv:"generation"`

	// Events during the window
	Births int `csv:"births"`
	Deaths int `csv:"deaths"`
	Culled int `csv:"culled"`

	// Age distribution (simulated time units, sampled at window end)
	AgeMean float64 `csv:"age_mean"`
	AgeP50  float64 `csv:"age_p50"`
	AgeP90  float64 `csv:"age_p90"`

	// Energy distribution, normalized to each kind's capacity
	EnergyMean float64 `csv:"energy_mean"`
	EnergyP50  float64 `csv:"energy_p50"`
	EnergyP90  float64 `csv:"energy_p90"`

	// Resource health
	PoolReuseRatio float64 `csv:"pool_reuse_ratio"`
	MemoryPercent  float64 `csv:"memory_pct"`
	MemoryLevel    string  `csv:"memory_level"`
}

// Distribution summarizes a sample set. Quantiles follow gonum's
// empirical definition over the sorted values.
type Distribution struct {
	Mean float64
	Std  float64
	P50  float64
	P90  float64
}

// Summarize computes a Distribution. Empty input yields zeros.
func Summarize(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return Distribution{
		Mean: stat.Mean(sorted, nil),
		Std:  stat.StdDev(sorted, nil),
		P50:  stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P90:  stat.Quantile(0.90, stat.Empirical, sorted, nil),
	}
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("window_end", s.WindowEndTick),
		slog.Float64("sim_time", s.SimTime),
		slog.Int("population", s.Population),
		slog.Uint64("generation", uint64(s.Generation)),
		slog.Int("births", s.Births),
		slog.Int("deaths", s.Deaths),
		slog.Int("culled", s.Culled),
		slog.Float64("age_mean", s.AgeMean),
		slog.Float64("age_p50", s.AgeP50),
		slog.Float64("age_p90", s.AgeP90),
		slog.Float64("energy_mean", s.EnergyMean),
		slog.Float64("energy_p50", s.EnergyP50),
		slog.Float64("energy_p90", s.EnergyP90),
		slog.Float64("pool_reuse_ratio", s.PoolReuseRatio),
		slog.Float64("memory_pct", s.MemoryPercent),
		slog.String("memory_level", s.MemoryLevel),
	)
}

// Collector accumulates per-tick events into window stats.
type Collector struct {
	windowTicks uint64

	births int
	deaths int
	culled int
}

// NewCollector creates a collector with the given window size in ticks.
func NewCollector(windowTicks int) *Collector {
	if windowTicks < 1 {
		windowTicks = 1
	}
	return &Collector{windowTicks: uint64(windowTicks)}
}

// RecordBirths adds n birth events to the current window.
func (c *Collector) RecordBirths(n int) { c.births += n }

// RecordDeaths adds n death events to the current window.
func (c *Collector) RecordDeaths(n int) { c.deaths += n }

// RecordCulled adds n cull events to the current window.
func (c *Collector) RecordCulled(n int) { c.culled += n }

// WindowClosed reports whether the window ends at the given tick.
func (c *Collector) WindowClosed(tick uint64) bool {
	return tick > 0 && tick%c.windowTicks == 0
}

// Flush fills the event fields of stats and resets the window counters.
func (c *Collector) Flush(stats *WindowStats) {
	stats.Births = c.births
	stats.Deaths = c.deaths
	stats.Culled = c.culled
	c.births = 0
	c.deaths = 0
	c.culled = 0
}
