package telemetry

import (
	"context"
	"path/filepath"
	"testing"
)

func TestArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	a := NewArchive(path)
	if a.RunID() == "" {
		t.Fatal("run ID should not be empty")
	}
	if err := a.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	if err := a.BeginRun(ctx, 42); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	for i, pop := range []int{10, 25, 40} {
		s := WindowStats{
			WindowEndTick: uint64((i + 1) * 60),
			SimTime:       float64((i + 1) * 60),
			Population:    pop,
			Generation:    uint32(i),
		}
		if err := a.SaveStats(ctx, s); err != nil {
			t.Fatalf("SaveStats %d: %v", i, err)
		}
	}

	series, err := a.PopulationSeries(ctx, a.RunID())
	if err != nil {
		t.Fatalf("PopulationSeries: %v", err)
	}
	if len(series) != 3 {
		t.Fatalf("series length = %d, want 3", len(series))
	}
	wantPops := []int{10, 25, 40}
	for i, p := range series {
		if p.WindowEnd != uint64((i+1)*60) || p.Population != wantPops[i] {
			t.Errorf("point %d = %+v, want window %d pop %d",
				i, p, (i+1)*60, wantPops[i])
		}
	}
}

func TestArchiveUpsertReplaces(t *testing.T) {
	ctx := context.Background()
	a := NewArchive(filepath.Join(t.TempDir(), "runs.db"))
	if err := a.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	s := WindowStats{WindowEndTick: 60, Population: 10}
	if err := a.SaveStats(ctx, s); err != nil {
		t.Fatal(err)
	}
	s.Population = 15
	if err := a.SaveStats(ctx, s); err != nil {
		t.Fatal(err)
	}

	series, err := a.PopulationSeries(ctx, a.RunID())
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != 1 || series[0].Population != 15 {
		t.Errorf("series = %+v, want single point with population 15", series)
	}
}

func TestArchiveClosedErrors(t *testing.T) {
	a := NewArchive(filepath.Join(t.TempDir(), "runs.db"))
	if err := a.SaveStats(context.Background(), WindowStats{}); err == nil {
		t.Error("expected error when archive is not open")
	}
}

func TestArchiveEmptyPath(t *testing.T) {
	a := NewArchive("")
	if err := a.Open(context.Background()); err == nil {
		t.Error("expected error for empty path")
	}
}
