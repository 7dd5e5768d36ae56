package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"vivarium/components"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// SimState holds the complete simulation state for save/load. Population,
// generation, and per-entity (position, age, kind, alive) round-trip
// losslessly.
type SimState struct {
	Version int   `json:"version"`
	RNGSeed int64 `json:"rng_seed"`

	ArenaWidth  float64 `json:"arena_width"`
	ArenaHeight float64 `json:"arena_height"`

	Tick       uint64 `json:"tick"`
	Generation uint32 `json:"generation"`
	Elapsed    float64 `json:"elapsed"`

	Entities []EntityState `json:"entities"`
}

// EntityState holds one entity's serialized state.
type EntityState struct {
	X      float32         `json:"x"`
	Y      float32         `json:"y"`
	VX     float32         `json:"vx"`
	VY     float32         `json:"vy"`
	Age    uint32          `json:"age"`
	Energy float32         `json:"energy"`
	Kind   components.Kind `json:"kind"`
	Alive  bool            `json:"alive"`
}

// SaveState writes a state snapshot to dir, named by tick.
// Returns the path it was saved to.
func SaveState(state *SimState, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("state_%d.json", state.Tick))
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write state: %w", err)
	}
	return path, nil
}

// LoadState reads a state snapshot from disk.
func LoadState(path string) (*SimState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var state SimState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	if state.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", state.Version)
	}
	return &state, nil
}
