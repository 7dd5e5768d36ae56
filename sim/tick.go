package sim

import (
	"log/slog"
	"math"
	"sort"

	"github.com/dustin/go-humanize"

	"vivarium/components"
	"vivarium/systems"
	"vivarium/telemetry"
)

// Tick advances the simulation by dt units of simulated time and
// returns a snapshot of the resulting state. While paused it returns
// the current snapshot without advancing. Phases run in a fixed order;
// RNG draws happen only in the death and birth phases, so runs with
// the same seed are identical whether or not the columnar update path
// is active.
func (e *Engine) Tick(dt float64) Snapshot {
	if !e.running {
		return e.snapshot()
	}

	e.perf.StartTick()
	e.tick++

	// Ages are whole time units; fractional dt carries over to the
	// next tick.
	e.ageCarry += dt
	ageStep := uint32(e.ageCarry)
	e.ageCarry -= float64(ageStep)

	e.perf.StartPhase(telemetry.PhaseAdvance)
	e.advance(float32(dt), ageStep)

	e.perf.StartPhase(telemetry.PhaseSpatial)
	if e.cfg.Spatial.Enabled {
		e.tree.Rebuild(e.pool)
	}

	e.perf.StartPhase(telemetry.PhaseDeaths)
	e.applyDeaths(dt)

	e.perf.StartPhase(telemetry.PhaseBirths)
	e.applyBirths(dt)

	e.perf.StartPhase(telemetry.PhaseCull)
	if over := e.pool.Live() - e.populationCap; over > 0 {
		e.cullTo(e.populationCap)
	}

	e.perf.StartPhase(telemetry.PhaseMemory)
	if e.tick%uint64(e.cfg.Memory.SampleInterval) == 0 {
		e.lastMem = e.monitor.Sample()
	}

	e.perf.StartPhase(telemetry.PhaseTelemetry)
	e.elapsed += dt
	e.recordHistory(e.pool.Live())
	if e.collector.WindowClosed(e.tick) {
		e.flushWindow()
	}
	e.perf.EndTick()

	return e.snapshot()
}

// advance moves every entity and ages it. Above the configured
// population threshold the columnar path handles the whole set in one
// pass; below it, per-record updates avoid the sync overhead. Both
// paths share the same motion kernel.
func (e *Engine) advance(dt float32, ageStep uint32) {
	if e.cfg.Batch.Enabled && e.pool.Live() >= e.cfg.Batch.Threshold {
		e.batch.SyncFrom(e.pool)
		e.batch.Update(dt, e.width, e.height, ageStep)
		e.batch.SyncTo(e.pool)
		return
	}
	e.pool.ForEachAlive(func(_ systems.Handle, ent *components.Entity) {
		ent.X, ent.Y, ent.VX, ent.VY = systems.Advance(ent.X, ent.Y, ent.VX, ent.VY, dt, e.width, e.height)
		ent.Age += ageStep
	})
}

// countNeighbors returns the number of alive entities within r of
// (x, y), excluding self. Uses the quadtree when the spatial index is
// enabled, otherwise a linear scan with identical semantics.
func (e *Engine) countNeighbors(self systems.Handle, x, y, r float32) int {
	if e.cfg.Spatial.Enabled {
		return e.tree.CountRadius(x, y, r, self)
	}
	rsq := r * r
	count := 0
	e.pool.ForEachAlive(func(h systems.Handle, ent *components.Entity) {
		if h == self {
			return
		}
		dx := ent.X - x
		dy := ent.Y - y
		if dx*dx+dy*dy <= rsq {
			count++
		}
	})
	return count
}

// applyDeaths removes entities that exceed their kind's maximum age or
// lose a per-tick survival draw. Crowding beyond a kind's tolerance
// raises its effective death rate. Candidates are collected first and
// released after iteration.
func (e *Engine) applyDeaths(dt float64) {
	e.deathBuf = e.deathBuf[:0]
	e.pool.ForEachAlive(func(h systems.Handle, ent *components.Entity) {
		params := e.kinds.Params(ent.Kind)

		if ent.Age > params.MaxAge {
			e.deathBuf = append(e.deathBuf, h)
			return
		}

		rate := float64(params.DeathRate)
		if params.CrowdingRadius > 0 {
			neighbors := e.countNeighbors(h, ent.X, ent.Y, params.CrowdingRadius)
			if excess := neighbors - params.CrowdingTolerance; excess > 0 {
				rate *= 1 + float64(params.CrowdingPenalty)*float64(excess)
			}
		}
		if e.rng.Float64() < tickProbability(rate, dt) {
			e.deathBuf = append(e.deathBuf, h)
		}
	})

	for _, h := range e.deathBuf {
		e.pool.Release(h)
	}
	e.collector.RecordDeaths(len(e.deathBuf))
}

// applyBirths regenerates energy, then reproduces entities that are old
// and energetic enough and win a per-tick growth draw. Children appear
// next to their parent; births refused by the cap or the pool set the
// capped latch. Any birth advances the generation counter.
func (e *Engine) applyBirths(dt float64) {
	e.birthBuf = e.birthBuf[:0]
	e.pool.ForEachAlive(func(h systems.Handle, ent *components.Entity) {
		params := e.kinds.Params(ent.Kind)

		ent.Energy += params.EnergyRegen * float32(dt)
		if ent.Energy > params.MaxEnergy {
			ent.Energy = params.MaxEnergy
		}

		if ent.Age < params.MinReproAge || ent.Energy < params.ReproThreshold*params.MaxEnergy {
			return
		}
		if e.rng.Float64() < tickProbability(float64(params.GrowthRate), dt) {
			e.birthBuf = append(e.birthBuf, h)
		}
	})

	births := 0
	for _, parent := range e.birthBuf {
		ent := e.pool.Get(parent)
		if ent == nil {
			continue
		}
		if e.pool.Live() >= e.populationCap {
			e.capped = true
			continue
		}

		params := e.kinds.Params(ent.Kind)
		angle := e.rng.Float64() * 2 * math.Pi
		dist := params.BodyRadius * 2
		x := clampf32(ent.X+dist*float32(math.Cos(angle)), 0, e.width-1e-3)
		y := clampf32(ent.Y+dist*float32(math.Sin(angle)), 0, e.height-1e-3)

		if _, ok := e.spawn(ent.Kind, x, y, 0); !ok {
			e.capped = true
			continue
		}
		ent.Energy /= 2
		births++
	}

	if births > 0 {
		e.generation++
		e.collector.RecordBirths(births)
	}
}

// tickProbability converts a rate per unit simulated time to a per-tick
// probability. The exponential form keeps outcomes consistent across
// different dt values.
func tickProbability(rate, dt float64) float64 {
	if rate <= 0 {
		return 0
	}
	return 1 - math.Exp(-rate*dt)
}

type cullCandidate struct {
	h   systems.Handle
	age uint32
}

// cullTo removes entities oldest-first until the population is at most
// target. Equal ages break ties by slot index so culls are
// deterministic.
func (e *Engine) cullTo(target int) {
	excess := e.pool.Live() - target
	if excess <= 0 {
		return
	}

	e.cullBuf = e.cullBuf[:0]
	e.pool.ForEachAlive(func(h systems.Handle, ent *components.Entity) {
		e.cullBuf = append(e.cullBuf, cullCandidate{h: h, age: ent.Age})
	})
	sort.Slice(e.cullBuf, func(i, j int) bool {
		if e.cullBuf[i].age != e.cullBuf[j].age {
			return e.cullBuf[i].age > e.cullBuf[j].age
		}
		return e.cullBuf[i].h.Index() < e.cullBuf[j].h.Index()
	})

	for i := 0; i < excess; i++ {
		e.pool.Release(e.cullBuf[i].h)
	}
	e.collector.RecordCulled(excess)
}

// relieveMemoryPressure is the monitor's escalation callback. Warning
// compacts the pool and batch columns; critical additionally culls to
// 90% of the cap; emergency culls to 50%.
func (e *Engine) relieveMemoryPressure(level systems.Level) {
	before := e.pool.Live()
	e.pool.Compact()
	e.batch.Compact()

	switch level {
	case systems.LevelCritical:
		e.cullTo(e.populationCap * 9 / 10)
	case systems.LevelEmergency:
		e.cullTo(e.populationCap / 2)
	}

	slog.Warn("memory pressure",
		"level", level.String(),
		"budget", humanize.Bytes(e.cfg.Memory.BudgetBytes),
		"population_before", before,
		"population_after", e.pool.Live(),
		"pool_slots", e.pool.Stats().Size,
	)
}

// flushWindow builds the window stats record, logs it, and routes it to
// the attached output and hook.
func (e *Engine) flushWindow() {
	ages := make([]float64, 0, e.pool.Live())
	energies := make([]float64, 0, e.pool.Live())
	e.pool.ForEachAlive(func(_ systems.Handle, ent *components.Entity) {
		params := e.kinds.Params(ent.Kind)
		ages = append(ages, float64(ent.Age))
		energies = append(energies, float64(ent.Energy/params.MaxEnergy))
	})
	ageDist := telemetry.Summarize(ages)
	energyDist := telemetry.Summarize(energies)

	stats := telemetry.WindowStats{
		WindowEndTick:  e.tick,
		SimTime:        e.elapsed,
		Population:     e.pool.Live(),
		Generation:     e.generation,
		AgeMean:        ageDist.Mean,
		AgeP50:         ageDist.P50,
		AgeP90:         ageDist.P90,
		EnergyMean:     energyDist.Mean,
		EnergyP50:      energyDist.P50,
		EnergyP90:      energyDist.P90,
		PoolReuseRatio: e.pool.Stats().ReuseRatio,
		MemoryPercent:  e.lastMem.Percent,
		MemoryLevel:    e.lastMem.Level.String(),
	}
	e.collector.Flush(&stats)

	slog.Info("window", "stats", stats)
	if err := e.output.WriteStats(stats); err != nil {
		slog.Error("writing stats", "error", err)
	}
	if err := e.output.WritePerf(e.perf.Stats(), e.tick); err != nil {
		slog.Error("writing perf", "error", err)
	}
	if e.onWindow != nil {
		e.onWindow(stats)
	}
}
