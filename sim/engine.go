// Package sim wires the entity pool, spatial index, batch store, memory
// monitor, and predictor into a tick-driven population engine.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"

	"vivarium/components"
	"vivarium/config"
	"vivarium/systems"
	"vivarium/telemetry"
)

// ErrCapacityExceeded is returned when placing an entity would exceed
// the population cap.
var ErrCapacityExceeded = errors.New("sim: population cap reached")

// Snapshot is the externally visible engine state after a tick.
type Snapshot struct {
	Tick       uint64
	Population int
	Generation uint32
	Elapsed    float64
	Running    bool
	Capped     bool // a birth or placement was refused since the last snapshot
}

// Engine owns all simulation state and advances it one tick at a time.
// It is not safe for concurrent use; background prediction works on a
// copied history and never touches live state.
type Engine struct {
	cfg   *config.Config
	kinds *components.Table

	pool    *systems.Pool
	tree    *systems.Quadtree
	batch   *systems.BatchStore
	monitor *systems.MemoryMonitor
	rng     *rand.Rand

	width, height float32
	populationCap int
	speed         int

	tick       uint64
	elapsed    float64
	ageCarry   float64
	generation uint32
	running    bool
	capped     bool

	history      []float64 // population per tick, ring buffer
	historyIdx   int
	historyCount int

	collector *telemetry.Collector
	perf      *telemetry.PerfCollector
	output    *telemetry.OutputManager
	onWindow  func(telemetry.WindowStats)
	lastMem   systems.MemorySample

	// scratch buffers reused across ticks
	deathBuf []systems.Handle
	birthBuf []systems.Handle
	cullBuf  []cullCandidate

	predMu     sync.Mutex
	predCancel context.CancelFunc
}

// New creates an engine from validated configuration and seeds the
// initial population.
func New(cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kinds, err := components.NewTable(cfg.Kinds)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:           cfg,
		kinds:         kinds,
		width:         float32(cfg.Arena.Width),
		height:        float32(cfg.Arena.Height),
		populationCap: cfg.Simulation.PopulationCap,
		speed:         cfg.Simulation.Speed,
		history:       make([]float64, cfg.Predictor.HistorySize),
		collector:     telemetry.NewCollector(cfg.Telemetry.StatsWindow),
		perf:          telemetry.NewPerfCollector(cfg.Telemetry.StatsWindow),
	}
	e.initState()
	return e, nil
}

// initState builds the pool, tree, batch store, monitor, and RNG from
// config and seeds the initial population.
func (e *Engine) initState() {
	cfg := e.cfg
	e.pool = systems.NewPool(cfg.Pool.MaxSlots)
	e.pool.Prefill(cfg.Pool.Prefill)
	e.tree = systems.NewQuadtree(e.width, e.height, cfg.Spatial.NodeCapacity, cfg.Spatial.MaxDepth)
	e.batch = systems.NewBatchStore(cfg.Pool.Prefill)
	e.rng = rand.New(rand.NewSource(cfg.Simulation.Seed))

	e.monitor = systems.NewMemoryMonitor(
		cfg.Memory.BudgetBytes,
		cfg.Memory.Warning, cfg.Memory.Critical, cfg.Memory.Emergency,
		cfg.Memory.TrendWindow,
	)
	e.monitor.OnCleanup(e.relieveMemoryPressure)

	e.tick = 0
	e.elapsed = 0
	e.ageCarry = 0
	e.generation = 0
	e.capped = false
	e.historyIdx = 0
	e.historyCount = 0

	e.seedInitialPopulation()
}

// seedInitialPopulation places the configured starting entities at
// random positions, cycling through the configured kinds.
func (e *Engine) seedInitialPopulation() {
	n := e.cfg.Simulation.InitialPopulation
	if n > e.populationCap {
		n = e.populationCap
	}
	for i := 0; i < n; i++ {
		kind := components.Kind(i % e.kinds.Len())
		x := e.rng.Float32() * e.width
		y := e.rng.Float32() * e.height
		e.spawn(kind, x, y, 0)
	}
}

// spawn acquires a pooled slot and initializes the entity. Returns
// ok=false when the pool refuses the slot.
func (e *Engine) spawn(kind components.Kind, x, y float32, age uint32) (systems.Handle, bool) {
	h, ok := e.pool.Acquire(x, y, kind)
	if !ok {
		return systems.Handle{}, false
	}
	params := e.kinds.Params(kind)
	ent := e.pool.Get(h)
	ent.Age = age
	ent.Energy = params.InitialEnergy

	angle := e.rng.Float64() * 2 * math.Pi
	ent.VX = params.Speed * float32(math.Cos(angle))
	ent.VY = params.Speed * float32(math.Sin(angle))
	return h, true
}

// Start begins advancing the simulation.
func (e *Engine) Start() { e.running = true }

// Pause stops advancing; state is preserved.
func (e *Engine) Pause() { e.running = false }

// Running reports whether the engine is advancing.
func (e *Engine) Running() bool { return e.running }

// Reset rebuilds all state from configuration, including the RNG seed
// and the initial population. The engine is left paused.
func (e *Engine) Reset() {
	e.running = false
	e.initState()
	slog.Info("engine reset", "population", e.pool.Live())
}

// Clear removes every entity but keeps configuration and the RNG
// stream. Tick and generation counters restart from zero.
func (e *Engine) Clear() {
	e.pool.ForEachAlive(func(h systems.Handle, _ *components.Entity) {
		e.deathBuf = append(e.deathBuf, h)
	})
	for _, h := range e.deathBuf {
		e.pool.Release(h)
	}
	e.deathBuf = e.deathBuf[:0]
	e.tree.Clear()

	e.tick = 0
	e.elapsed = 0
	e.ageCarry = 0
	e.generation = 0
	e.capped = false
	e.historyIdx = 0
	e.historyCount = 0
}

// SetSpeed sets the tick multiplier. Out-of-range values are rejected,
// never clamped.
func (e *Engine) SetSpeed(speed int) error {
	if speed < config.MinSpeed || speed > config.MaxSpeed {
		return fmt.Errorf("sim: speed must be in [%d,%d], got %d", config.MinSpeed, config.MaxSpeed, speed)
	}
	e.speed = speed
	return nil
}

// Speed returns the current tick multiplier.
func (e *Engine) Speed() int { return e.speed }

// SetPopulationCap sets the maximum population. Lowering it below the
// current population does not remove entities immediately; the next
// tick's cull phase trims the overage oldest-first.
func (e *Engine) SetPopulationCap(n int) error {
	if n < config.MinPopulationCap || n > config.MaxPopulationCap {
		return fmt.Errorf("sim: population_cap must be in [%d,%d], got %d",
			config.MinPopulationCap, config.MaxPopulationCap, n)
	}
	e.populationCap = n
	return nil
}

// PopulationCap returns the current cap.
func (e *Engine) PopulationCap() int { return e.populationCap }

// Population returns the current number of alive entities.
func (e *Engine) Population() int { return e.pool.Live() }

// Generation returns the generation counter.
func (e *Engine) Generation() uint32 { return e.generation }

// Elapsed returns total simulated time.
func (e *Engine) Elapsed() float64 { return e.elapsed }

// PlaceEntity adds one entity of the named kind at (x, y). Positions
// outside the arena are clamped to its bounds. Returns
// ErrCapacityExceeded when the population is at the cap.
func (e *Engine) PlaceEntity(kindName string, x, y float64) error {
	kind, ok := e.kinds.ByName(kindName)
	if !ok {
		return fmt.Errorf("sim: unknown kind %q", kindName)
	}
	if e.pool.Live() >= e.populationCap {
		e.capped = true
		return ErrCapacityExceeded
	}

	fx, fy := float32(x), float32(y)
	fx = clampf32(fx, 0, e.width-1e-3)
	fy = clampf32(fy, 0, e.height-1e-3)

	if _, ok := e.spawn(kind, fx, fy, 0); !ok {
		e.capped = true
		return ErrCapacityExceeded
	}
	return nil
}

// AttachOutput routes window stats and perf records to an output
// manager. A nil manager disables file output.
func (e *Engine) AttachOutput(om *telemetry.OutputManager) {
	e.output = om
}

// OnWindowStats registers a hook called with each closed stats window.
func (e *Engine) OnWindowStats(fn func(telemetry.WindowStats)) {
	e.onWindow = fn
}

// MemoryStats returns the most recent memory sample and trend.
func (e *Engine) MemoryStats() (systems.MemorySample, systems.Trend) {
	return e.lastMem, e.monitor.Trend()
}

// PoolStats returns entity pool metrics.
func (e *Engine) PoolStats() systems.PoolStats {
	return e.pool.Stats()
}

// PerfStats returns aggregated tick timing over the stats window.
func (e *Engine) PerfStats() telemetry.PerfStats {
	return e.perf.Stats()
}

// snapshot builds the externally visible state and clears the capped
// latch.
func (e *Engine) snapshot() Snapshot {
	s := Snapshot{
		Tick:       e.tick,
		Population: e.pool.Live(),
		Generation: e.generation,
		Elapsed:    e.elapsed,
		Running:    e.running,
		Capped:     e.capped,
	}
	e.capped = false
	return s
}

// historySnapshot materializes the population history oldest-first.
func (e *Engine) historySnapshot() []float64 {
	out := make([]float64, e.historyCount)
	start := 0
	if e.historyCount == len(e.history) {
		start = e.historyIdx
	}
	for i := 0; i < e.historyCount; i++ {
		out[i] = e.history[(start+i)%len(e.history)]
	}
	return out
}

// recordHistory appends one population sample to the ring.
func (e *Engine) recordHistory(pop int) {
	e.history[e.historyIdx] = float64(pop)
	e.historyIdx = (e.historyIdx + 1) % len(e.history)
	if e.historyCount < len(e.history) {
		e.historyCount++
	}
}

// Predict fits a growth model to the recorded population history and
// projects horizon ticks forward. Returns ok=false when too little
// history exists.
func (e *Engine) Predict(horizon int) (*systems.Prediction, bool) {
	return systems.PredictPopulation(e.historySnapshot(), horizon)
}

// RequestPrediction runs Predict in the background and delivers the
// result to fn. A newer request cancels any in-flight one; a cancelled
// request never calls fn. The history is copied up front, so the
// goroutine never reads live engine state.
func (e *Engine) RequestPrediction(horizon int, fn func(*systems.Prediction, bool)) {
	history := e.historySnapshot()

	e.predMu.Lock()
	if e.predCancel != nil {
		e.predCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.predCancel = cancel
	e.predMu.Unlock()

	go func() {
		pred, ok := systems.PredictPopulation(history, horizon)
		select {
		case <-ctx.Done():
			return
		default:
		}
		fn(pred, ok)
	}()
}

// CancelPrediction cancels any in-flight background prediction.
func (e *Engine) CancelPrediction() {
	e.predMu.Lock()
	defer e.predMu.Unlock()
	if e.predCancel != nil {
		e.predCancel()
		e.predCancel = nil
	}
}

// Export captures the full simulation state for persistence.
func (e *Engine) Export() *telemetry.SimState {
	state := &telemetry.SimState{
		Version:     telemetry.SnapshotVersion,
		RNGSeed:     e.cfg.Simulation.Seed,
		ArenaWidth:  e.cfg.Arena.Width,
		ArenaHeight: e.cfg.Arena.Height,
		Tick:        e.tick,
		Generation:  e.generation,
		Elapsed:     e.elapsed,
	}
	e.pool.ForEachAlive(func(_ systems.Handle, ent *components.Entity) {
		state.Entities = append(state.Entities, telemetry.EntityState{
			X: ent.X, Y: ent.Y, VX: ent.VX, VY: ent.VY,
			Age: ent.Age, Energy: ent.Energy, Kind: ent.Kind, Alive: ent.Alive,
		})
	})
	return state
}

// Import replaces the current state with a previously exported one.
// Arena dimensions must match the engine's configuration.
func (e *Engine) Import(state *telemetry.SimState) error {
	if state.Version != telemetry.SnapshotVersion {
		return fmt.Errorf("sim: unsupported snapshot version %d", state.Version)
	}
	if state.ArenaWidth != e.cfg.Arena.Width || state.ArenaHeight != e.cfg.Arena.Height {
		return fmt.Errorf("sim: snapshot arena %gx%g does not match configured %gx%g",
			state.ArenaWidth, state.ArenaHeight, e.cfg.Arena.Width, e.cfg.Arena.Height)
	}
	for _, es := range state.Entities {
		if !e.kinds.Valid(es.Kind) {
			return fmt.Errorf("sim: snapshot entity has unknown kind %d", es.Kind)
		}
	}

	e.Clear()
	for _, es := range state.Entities {
		if !es.Alive {
			continue
		}
		h, ok := e.pool.Acquire(es.X, es.Y, es.Kind)
		if !ok {
			return fmt.Errorf("sim: pool refused entity during import")
		}
		ent := e.pool.Get(h)
		ent.VX, ent.VY = es.VX, es.VY
		ent.Age = es.Age
		ent.Energy = es.Energy
	}

	e.tick = state.Tick
	e.generation = state.Generation
	e.elapsed = state.Elapsed
	return nil
}

func clampf32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
