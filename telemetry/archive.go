package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Archive persists window stats across runs in a SQLite database, so
// long experiments can be compared after the fact. Each run is keyed by
// a generated run ID.
type Archive struct {
	path  string
	runID string

	mu sync.Mutex
	db *sql.DB
}

// NewArchive creates an archive backed by the database at path.
func NewArchive(path string) *Archive {
	return &Archive{path: path, runID: uuid.NewString()}
}

// RunID returns this run's identifier.
func (a *Archive) RunID() string {
	return a.runID
}

// Open opens the database and creates tables if needed.
func (a *Archive) Open(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.path == "" {
		return errors.New("archive path is required")
	}
	if a.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", a.path)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			seed INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS window_stats (
			run_id TEXT NOT NULL,
			window_end INTEGER NOT NULL,
			sim_time REAL NOT NULL,
			population INTEGER NOT NULL,
			generation INTEGER NOT NULL,
			births INTEGER NOT NULL,
			deaths INTEGER NOT NULL,
			culled INTEGER NOT NULL,
			age_mean REAL NOT NULL,
			energy_mean REAL NOT NULL,
			memory_pct REAL NOT NULL,
			PRIMARY KEY (run_id, window_end)
		);
	`)
	if err != nil {
		_ = db.Close()
		return err
	}

	a.db = db
	return nil
}

// BeginRun records this run's metadata.
func (a *Archive) BeginRun(ctx context.Context, seed int64) error {
	db, err := a.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, seed) VALUES (?, ?, ?)
	`, a.runID, time.Now().Unix(), seed)
	return err
}

// SaveStats appends one window stats record for this run.
func (a *Archive) SaveStats(ctx context.Context, s WindowStats) error {
	db, err := a.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO window_stats (
			run_id, window_end, sim_time, population, generation,
			births, deaths, culled, age_mean, energy_mean, memory_pct
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, window_end) DO UPDATE SET
			population = excluded.population,
			generation = excluded.generation,
			births = excluded.births,
			deaths = excluded.deaths,
			culled = excluded.culled,
			age_mean = excluded.age_mean,
			energy_mean = excluded.energy_mean,
			memory_pct = excluded.memory_pct
	`, a.runID, s.WindowEndTick, s.SimTime, s.Population, s.Generation,
		s.Births, s.Deaths, s.Culled, s.AgeMean, s.EnergyMean, s.MemoryPercent)
	return err
}

// PopulationSeries returns the (window_end, population) series for a run,
// ordered by window.
func (a *Archive) PopulationSeries(ctx context.Context, runID string) ([]PopulationPoint, error) {
	db, err := a.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT window_end, population FROM window_stats
		WHERE run_id = ? ORDER BY window_end
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var series []PopulationPoint
	for rows.Next() {
		var p PopulationPoint
		if err := rows.Scan(&p.WindowEnd, &p.Population); err != nil {
			return nil, err
		}
		series = append(series, p)
	}
	return series, rows.Err()
}

// PopulationPoint is one archived population sample.
type PopulationPoint struct {
	WindowEnd  uint64
	Population int
}

// Close closes the database.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *Archive) getDB() (*sql.DB, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.db == nil {
		return nil, fmt.Errorf("archive is not open")
	}
	return a.db, nil
}
