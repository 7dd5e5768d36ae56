package telemetry

import (
	"testing"
	"time"
)

func TestPerfCollectorBasic(t *testing.T) {
	p := NewPerfCollector(10)

	for i := 0; i < 3; i++ {
		p.StartTick()
		p.StartPhase(PhaseAdvance)
		time.Sleep(time.Millisecond)
		p.StartPhase(PhaseDeaths)
		time.Sleep(time.Millisecond)
		p.EndTick()
	}

	stats := p.Stats()
	if stats.AvgTickDuration <= 0 {
		t.Errorf("avg tick duration = %v, want positive", stats.AvgTickDuration)
	}
	if stats.MinTickDuration > stats.MaxTickDuration {
		t.Errorf("min %v > max %v", stats.MinTickDuration, stats.MaxTickDuration)
	}
	if stats.PhaseAvg[PhaseAdvance] <= 0 {
		t.Errorf("advance phase avg = %v, want positive", stats.PhaseAvg[PhaseAdvance])
	}
	if stats.PhaseAvg[PhaseDeaths] <= 0 {
		t.Errorf("deaths phase avg = %v, want positive", stats.PhaseAvg[PhaseDeaths])
	}
	if stats.TicksPerSecond <= 0 {
		t.Errorf("ticks per second = %v, want positive", stats.TicksPerSecond)
	}
}

func TestPerfCollectorEmptyStats(t *testing.T) {
	p := NewPerfCollector(10)
	stats := p.Stats()
	if stats.AvgTickDuration != 0 {
		t.Errorf("empty collector avg = %v, want 0", stats.AvgTickDuration)
	}
	if stats.PhaseAvg == nil || stats.PhasePct == nil {
		t.Error("empty collector should return initialized maps")
	}
}

func TestPerfCollectorRollingWindow(t *testing.T) {
	p := NewPerfCollector(2)
	for i := 0; i < 5; i++ {
		p.StartTick()
		p.EndTick()
	}
	if p.sampleCount != 2 {
		t.Errorf("sample count = %d, want window size 2", p.sampleCount)
	}
}

func TestPerfStatsToCSV(t *testing.T) {
	stats := PerfStats{
		AvgTickDuration: 500 * time.Microsecond,
		MinTickDuration: 100 * time.Microsecond,
		MaxTickDuration: 900 * time.Microsecond,
		TicksPerSecond:  2000,
		PhasePct: map[string]float64{
			PhaseAdvance: 40,
			PhaseDeaths:  30,
		},
	}

	row := stats.ToCSV(120)
	if row.WindowEnd != 120 {
		t.Errorf("window end = %d, want 120", row.WindowEnd)
	}
	if row.AvgTickUS != 500 {
		t.Errorf("avg tick us = %d, want 500", row.AvgTickUS)
	}
	if row.AdvancePct != 40 || row.DeathsPct != 30 {
		t.Errorf("phase pcts = %v/%v, want 40/30", row.AdvancePct, row.DeathsPct)
	}
	if row.SpatialPct != 0 {
		t.Errorf("missing phase pct = %v, want 0", row.SpatialPct)
	}
}
