package sim

import (
	"testing"
	"time"

	"vivarium/components"
	"vivarium/config"
	"vivarium/systems"
	"vivarium/telemetry"
)

// testConfig returns a single-kind configuration suitable for
// deterministic scenario runs.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Simulation.Seed = 42
	cfg.Simulation.InitialPopulation = 10
	cfg.Simulation.PopulationCap = 200
	cfg.Kinds = []config.KindConfig{{
		Name:              "alga",
		GrowthRate:        0.10,
		DeathRate:         0.01,
		MaxAge:            100,
		MinReproAge:       5,
		MaxEnergy:         1.0,
		InitialEnergy:     0.8,
		EnergyRegen:       0.05,
		ReproThreshold:    0.6,
		CrowdingRadius:    24,
		CrowdingTolerance: 12,
		CrowdingPenalty:   0.5,
		BodyRadius:        3,
		Speed:             8,
	}}
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Simulation.DT = -1
	if _, err := New(cfg); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestInitialPopulation(t *testing.T) {
	e, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	e.Start()
	if e.Population() != 10 {
		t.Errorf("initial population = %d, want 10", e.Population())
	}
	if e.Generation() != 0 {
		t.Errorf("initial generation = %d, want 0", e.Generation())
	}
}

func TestScenarioSmallColony(t *testing.T) {
	cfg := testConfig()
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	e.Start()

	genByTick50 := uint32(0)
	for i := 0; i < 500; i++ {
		snap := e.Tick(1.0)

		if snap.Population < 1 || snap.Population > 200 {
			t.Fatalf("tick %d: population %d outside [1, 200]", i+1, snap.Population)
		}
		if snap.Tick == 50 {
			genByTick50 = snap.Generation
		}

		// No survivor may exceed its kind's maximum age.
		e.pool.ForEachAlive(func(_ systems.Handle, ent *components.Entity) {
			maxAge := e.kinds.Params(ent.Kind).MaxAge
			if ent.Age > maxAge {
				t.Fatalf("tick %d: entity age %d exceeds max %d", i+1, ent.Age, maxAge)
			}
			if ent.X < 0 || ent.X >= e.width || ent.Y < 0 || ent.Y >= e.height {
				t.Fatalf("tick %d: entity at (%g, %g) outside arena", i+1, ent.X, ent.Y)
			}
		})
	}

	if genByTick50 < 1 {
		t.Errorf("generation by tick 50 = %d, want >= 1", genByTick50)
	}
	if e.Elapsed() != 500 {
		t.Errorf("elapsed = %g, want 500", e.Elapsed())
	}
}

func TestTickIsNoOpWhilePaused(t *testing.T) {
	e, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}

	snap := e.Tick(1.0)
	if snap.Tick != 0 || snap.Elapsed != 0 {
		t.Errorf("paused tick advanced state: %+v", snap)
	}

	e.Start()
	e.Tick(1.0)
	e.Pause()
	snap = e.Tick(1.0)
	if snap.Tick != 1 {
		t.Errorf("tick counter = %d after pause, want 1", snap.Tick)
	}
}

func TestScenarioEmptyArena(t *testing.T) {
	cfg := testConfig()
	cfg.Simulation.InitialPopulation = 0
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	e.Start()

	var snap Snapshot
	for i := 0; i < 100; i++ {
		snap = e.Tick(1.0)
	}
	if snap.Population != 0 {
		t.Errorf("population = %d, want 0", snap.Population)
	}
	if snap.Generation != 0 {
		t.Errorf("generation = %d, want 0", snap.Generation)
	}
}

func TestPopulationMatchesAliveCount(t *testing.T) {
	e, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	e.Start()
	for i := 0; i < 100; i++ {
		snap := e.Tick(1.0)
		alive := 0
		e.pool.ForEachAlive(func(_ systems.Handle, _ *components.Entity) { alive++ })
		if snap.Population != alive {
			t.Fatalf("tick %d: snapshot population %d != alive count %d", i+1, snap.Population, alive)
		}
	}
}

func TestCapEnforced(t *testing.T) {
	cfg := testConfig()
	cfg.Simulation.PopulationCap = 20
	cfg.Kinds[0].GrowthRate = 0.9
	cfg.Kinds[0].DeathRate = 0
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	e.Start()

	sawCapped := false
	for i := 0; i < 200; i++ {
		snap := e.Tick(1.0)
		if snap.Population > 20 {
			t.Fatalf("tick %d: population %d exceeds cap 20", i+1, snap.Population)
		}
		if snap.Capped {
			sawCapped = true
		}
	}
	if !sawCapped {
		t.Error("expected the capped latch to fire under aggressive growth")
	}
}

func TestBatchPathEquivalence(t *testing.T) {
	mk := func(batchEnabled bool) *Engine {
		cfg := testConfig()
		cfg.Batch.Enabled = batchEnabled
		cfg.Batch.Threshold = 0
		e, err := New(cfg)
		if err != nil {
			t.Fatal(err)
		}
		e.Start()
		return e
	}
	a := mk(true)
	b := mk(false)

	for i := 0; i < 200; i++ {
		sa := a.Tick(1.0)
		sb := b.Tick(1.0)
		if sa.Population != sb.Population || sa.Generation != sb.Generation {
			t.Fatalf("tick %d: batch pop=%d gen=%d, scalar pop=%d gen=%d",
				i+1, sa.Population, sa.Generation, sb.Population, sb.Generation)
		}
	}

	ea := a.Export()
	eb := b.Export()
	if len(ea.Entities) != len(eb.Entities) {
		t.Fatalf("entity counts differ: %d vs %d", len(ea.Entities), len(eb.Entities))
	}
	for i := range ea.Entities {
		if ea.Entities[i] != eb.Entities[i] {
			t.Fatalf("entity %d differs: %+v vs %+v", i, ea.Entities[i], eb.Entities[i])
		}
	}
}

func TestPlaceEntity(t *testing.T) {
	cfg := testConfig()
	cfg.Simulation.InitialPopulation = 0
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	e.Start()

	if err := e.PlaceEntity("alga", 100, 100); err != nil {
		t.Fatalf("PlaceEntity: %v", err)
	}
	if e.Population() != 1 {
		t.Errorf("population = %d, want 1", e.Population())
	}

	if err := e.PlaceEntity("kraken", 0, 0); err == nil {
		t.Error("expected error for unknown kind")
	}

	// Out-of-bounds positions are clamped, not rejected.
	if err := e.PlaceEntity("alga", -50, 9999); err != nil {
		t.Fatalf("PlaceEntity out of bounds: %v", err)
	}
	e.pool.ForEachAlive(func(_ systems.Handle, ent *components.Entity) {
		if ent.X < 0 || ent.X >= e.width || ent.Y < 0 || ent.Y >= e.height {
			t.Errorf("entity at (%g, %g) outside arena", ent.X, ent.Y)
		}
	})
}

func TestPlaceEntityAtCap(t *testing.T) {
	cfg := testConfig()
	cfg.Simulation.InitialPopulation = 0
	cfg.Simulation.PopulationCap = 2
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	e.Start()

	for i := 0; i < 2; i++ {
		if err := e.PlaceEntity("alga", 10, 10); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.PlaceEntity("alga", 10, 10); err != ErrCapacityExceeded {
		t.Errorf("error = %v, want ErrCapacityExceeded", err)
	}
}

func TestSetSpeedBounds(t *testing.T) {
	e, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	e.Start()
	if err := e.SetSpeed(0); err == nil {
		t.Error("expected error for speed 0")
	}
	if err := e.SetSpeed(11); err == nil {
		t.Error("expected error for speed 11")
	}
	if err := e.SetSpeed(5); err != nil {
		t.Errorf("SetSpeed(5): %v", err)
	}
	if e.Speed() != 5 {
		t.Errorf("speed = %d, want 5", e.Speed())
	}
}

func TestSetPopulationCapBounds(t *testing.T) {
	e, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	e.Start()
	if err := e.SetPopulationCap(0); err == nil {
		t.Error("expected error for cap 0")
	}
	if err := e.SetPopulationCap(5001); err == nil {
		t.Error("expected error for cap 5001")
	}
	if err := e.SetPopulationCap(50); err != nil {
		t.Errorf("SetPopulationCap(50): %v", err)
	}
}

func TestLoweredCapCullsOldestFirst(t *testing.T) {
	cfg := testConfig()
	cfg.Simulation.InitialPopulation = 0
	cfg.Kinds[0].DeathRate = 0
	cfg.Kinds[0].GrowthRate = 0
	cfg.Kinds[0].Speed = 0
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	e.Start()

	// Five entities with distinct ages, loaded through the snapshot path.
	state := &telemetry.SimState{
		Version:     telemetry.SnapshotVersion,
		ArenaWidth:  cfg.Arena.Width,
		ArenaHeight: cfg.Arena.Height,
	}
	for _, age := range []uint32{50, 10, 90, 30, 70} {
		state.Entities = append(state.Entities, telemetry.EntityState{
			X: 100, Y: 100, Age: age, Energy: 0.5, Alive: true,
		})
	}
	if err := e.Import(state); err != nil {
		t.Fatalf("Import: %v", err)
	}

	if err := e.SetPopulationCap(2); err != nil {
		t.Fatal(err)
	}
	snap := e.Tick(1.0)
	if snap.Population != 2 {
		t.Fatalf("population after cull = %d, want 2", snap.Population)
	}

	// The two youngest must survive; ages advanced by one during the tick.
	var ages []uint32
	e.pool.ForEachAlive(func(_ systems.Handle, ent *components.Entity) {
		ages = append(ages, ent.Age)
	})
	want := map[uint32]bool{11: true, 31: true}
	for _, a := range ages {
		if !want[a] {
			t.Errorf("survivor age %d, want ages 11 and 31", a)
		}
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	e, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	e.Start()
	for i := 0; i < 50; i++ {
		e.Tick(1.0)
	}
	exported := e.Export()

	e2, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := e2.Import(exported); err != nil {
		t.Fatalf("Import: %v", err)
	}

	if e2.Population() != e.Population() {
		t.Errorf("population = %d, want %d", e2.Population(), e.Population())
	}
	if e2.Generation() != e.Generation() {
		t.Errorf("generation = %d, want %d", e2.Generation(), e.Generation())
	}

	re := e2.Export()
	if re.Tick != exported.Tick || re.Elapsed != exported.Elapsed {
		t.Errorf("tick/elapsed = %d/%g, want %d/%g", re.Tick, re.Elapsed, exported.Tick, exported.Elapsed)
	}
	if len(re.Entities) != len(exported.Entities) {
		t.Fatalf("entity count = %d, want %d", len(re.Entities), len(exported.Entities))
	}
	for i := range re.Entities {
		if re.Entities[i] != exported.Entities[i] {
			t.Errorf("entity %d = %+v, want %+v", i, re.Entities[i], exported.Entities[i])
		}
	}
}

func TestImportRejectsMismatchedArena(t *testing.T) {
	e, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	e.Start()
	state := &telemetry.SimState{
		Version:    telemetry.SnapshotVersion,
		ArenaWidth: 10, ArenaHeight: 10,
	}
	if err := e.Import(state); err == nil {
		t.Error("expected error for mismatched arena dimensions")
	}
}

func TestClearEmptiesArena(t *testing.T) {
	e, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	e.Start()
	for i := 0; i < 20; i++ {
		e.Tick(1.0)
	}
	e.Clear()
	if e.Population() != 0 {
		t.Errorf("population after clear = %d, want 0", e.Population())
	}
	snap := e.Tick(1.0)
	if snap.Tick != 1 || snap.Generation != 0 {
		t.Errorf("post-clear tick/generation = %d/%d, want 1/0", snap.Tick, snap.Generation)
	}
}

func TestResetRestoresInitialState(t *testing.T) {
	e, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	e.Start()
	for i := 0; i < 100; i++ {
		e.Tick(1.0)
	}
	e.Reset()

	if e.Running() {
		t.Error("engine should be paused after reset")
	}
	if e.Population() != 10 {
		t.Errorf("population after reset = %d, want 10", e.Population())
	}
	if e.Generation() != 0 {
		t.Errorf("generation after reset = %d, want 0", e.Generation())
	}
}

func TestResetIsDeterministic(t *testing.T) {
	e, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	e.Start()
	var first []Snapshot
	for i := 0; i < 50; i++ {
		first = append(first, e.Tick(1.0))
	}

	e.Reset()
	e.Start()
	for i := 0; i < 50; i++ {
		snap := e.Tick(1.0)
		if snap.Population != first[i].Population || snap.Generation != first[i].Generation {
			t.Fatalf("tick %d after reset: pop=%d gen=%d, want pop=%d gen=%d",
				i+1, snap.Population, snap.Generation, first[i].Population, first[i].Generation)
		}
	}
}

func TestPredictAfterHistory(t *testing.T) {
	e, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	e.Start()

	if _, ok := e.Predict(10); ok {
		t.Error("prediction should decline with no history")
	}

	for i := 0; i < 100; i++ {
		e.Tick(1.0)
	}
	pred, ok := e.Predict(10)
	if !ok {
		t.Fatal("prediction declined despite 100 ticks of history")
	}
	if len(pred.Curve) != 10 {
		t.Errorf("curve length = %d, want 10", len(pred.Curve))
	}
	for i, v := range pred.Curve {
		if v < 0 {
			t.Errorf("curve[%d] = %g, want non-negative", i, v)
		}
	}
}

func TestRequestPredictionDelivers(t *testing.T) {
	e, err := New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	e.Start()
	for i := 0; i < 100; i++ {
		e.Tick(1.0)
	}

	done := make(chan *systems.Prediction, 1)
	e.RequestPrediction(10, func(p *systems.Prediction, ok bool) {
		if !ok {
			t.Error("background prediction declined")
		}
		done <- p
	})

	select {
	case p := <-done:
		if p == nil || len(p.Curve) != 10 {
			t.Errorf("prediction = %+v, want 10-tick curve", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("background prediction never delivered")
	}
}

func TestWindowStatsHook(t *testing.T) {
	cfg := testConfig()
	cfg.Telemetry.StatsWindow = 10
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	e.Start()

	var windows []telemetry.WindowStats
	e.OnWindowStats(func(s telemetry.WindowStats) {
		windows = append(windows, s)
	})

	for i := 0; i < 35; i++ {
		e.Tick(1.0)
	}
	if len(windows) != 3 {
		t.Fatalf("windows = %d, want 3", len(windows))
	}
	for i, w := range windows {
		if w.WindowEndTick != uint64((i+1)*10) {
			t.Errorf("window %d ends at tick %d, want %d", i, w.WindowEndTick, (i+1)*10)
		}
		if w.Population < 0 || w.Births < 0 || w.Deaths < 0 {
			t.Errorf("window %d has negative counts: %+v", i, w)
		}
	}
}
