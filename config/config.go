// Package config provides configuration loading and validation for the simulation.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Bounds for user-configurable values. Values outside these ranges are
// rejected at load time, never clamped silently.
const (
	MinSpeed         = 1
	MaxSpeed         = 10
	MinPopulationCap = 1
	MaxPopulationCap = 5000
)

// Config holds all simulation configuration parameters.
type Config struct {
	Arena      ArenaConfig      `yaml:"arena"`
	Simulation SimulationConfig `yaml:"simulation"`
	Batch      BatchConfig      `yaml:"batch"`
	Spatial    SpatialConfig    `yaml:"spatial"`
	Pool       PoolConfig       `yaml:"pool"`
	Memory     MemoryConfig     `yaml:"memory"`
	Predictor  PredictorConfig  `yaml:"predictor"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Kinds      []KindConfig     `yaml:"kinds"`
}

// ArenaConfig holds world dimensions. Positions live in [0,width) x [0,height).
type ArenaConfig struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// SimulationConfig holds tick-driver parameters.
type SimulationConfig struct {
	DT                float64 `yaml:"dt"`
	Speed             int     `yaml:"speed"`
	PopulationCap     int     `yaml:"population_cap"`
	InitialPopulation int     `yaml:"initial_population"`
	Seed              int64   `yaml:"seed"`
}

// BatchConfig holds columnar update-path parameters.
type BatchConfig struct {
	Enabled   bool `yaml:"enabled"`
	Threshold int  `yaml:"threshold"` // minimum population before the columnar path is used
}

// SpatialConfig holds quadtree parameters.
type SpatialConfig struct {
	Enabled      bool `yaml:"enabled"`
	NodeCapacity int  `yaml:"node_capacity"`
	MaxDepth     int  `yaml:"max_depth"`
}

// PoolConfig holds entity pool parameters.
type PoolConfig struct {
	Prefill  int `yaml:"prefill"`
	MaxSlots int `yaml:"max_slots"` // 0 = unbounded
}

// MemoryConfig holds memory-pressure classification parameters.
type MemoryConfig struct {
	BudgetBytes    uint64  `yaml:"budget_bytes"`
	Warning        float64 `yaml:"warning"`
	Critical       float64 `yaml:"critical"`
	Emergency      float64 `yaml:"emergency"`
	TrendWindow    int     `yaml:"trend_window"`
	SampleInterval int     `yaml:"sample_interval"` // ticks between samples
}

// PredictorConfig holds population-prediction parameters.
type PredictorConfig struct {
	HistorySize int `yaml:"history_size"`
}

// TelemetryConfig holds stats-collection parameters.
type TelemetryConfig struct {
	StatsWindow int `yaml:"stats_window"` // ticks per stats window
}

// KindConfig defines one organism kind. All rates are probabilities per
// unit simulated time; per-tick probabilities are derived from dt.
type KindConfig struct {
	Name              string  `yaml:"name"`
	GrowthRate        float64 `yaml:"growth_rate"`
	DeathRate         float64 `yaml:"death_rate"`
	MaxAge            uint32  `yaml:"max_age"`
	MinReproAge       uint32  `yaml:"min_repro_age"`
	MaxEnergy         float64 `yaml:"max_energy"`
	InitialEnergy     float64 `yaml:"initial_energy"`
	EnergyRegen       float64 `yaml:"energy_regen"`
	ReproThreshold    float64 `yaml:"repro_threshold"`
	CrowdingRadius    float64 `yaml:"crowding_radius"`
	CrowdingTolerance int     `yaml:"crowding_tolerance"`
	CrowdingPenalty   float64 `yaml:"crowding_penalty"`
	BodyRadius        float64 `yaml:"body_radius"`
	Speed             float64 `yaml:"speed"`
}

// Load loads configuration from a YAML file, merging over embedded defaults.
// If path is empty, only the embedded defaults are used. The result is
// validated; malformed configuration fails here, never mid-tick.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into the same struct - only overwrites fields present in file.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the embedded default configuration.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults invalid: %v", err))
	}
	return cfg
}

// Validate checks all invariants the engine relies on.
func (c *Config) Validate() error {
	if c.Arena.Width <= 0 || c.Arena.Height <= 0 {
		return fmt.Errorf("config: arena must have positive dimensions, got %gx%g", c.Arena.Width, c.Arena.Height)
	}
	if c.Simulation.DT <= 0 {
		return fmt.Errorf("config: dt must be positive, got %g", c.Simulation.DT)
	}
	if c.Simulation.Speed < MinSpeed || c.Simulation.Speed > MaxSpeed {
		return fmt.Errorf("config: speed must be in [%d,%d], got %d", MinSpeed, MaxSpeed, c.Simulation.Speed)
	}
	if c.Simulation.PopulationCap < MinPopulationCap || c.Simulation.PopulationCap > MaxPopulationCap {
		return fmt.Errorf("config: population_cap must be in [%d,%d], got %d", MinPopulationCap, MaxPopulationCap, c.Simulation.PopulationCap)
	}
	if c.Simulation.InitialPopulation < 0 {
		return fmt.Errorf("config: initial_population must be non-negative, got %d", c.Simulation.InitialPopulation)
	}
	if c.Batch.Threshold < 0 {
		return fmt.Errorf("config: batch threshold must be non-negative, got %d", c.Batch.Threshold)
	}
	if c.Spatial.NodeCapacity < 1 {
		return fmt.Errorf("config: spatial node_capacity must be at least 1, got %d", c.Spatial.NodeCapacity)
	}
	if c.Spatial.MaxDepth < 1 {
		return fmt.Errorf("config: spatial max_depth must be at least 1, got %d", c.Spatial.MaxDepth)
	}
	if c.Pool.Prefill < 0 || c.Pool.MaxSlots < 0 {
		return fmt.Errorf("config: pool sizes must be non-negative")
	}
	if c.Memory.BudgetBytes == 0 {
		return fmt.Errorf("config: memory budget_bytes must be positive")
	}
	if !(c.Memory.Warning > 0 && c.Memory.Warning < c.Memory.Critical && c.Memory.Critical < c.Memory.Emergency && c.Memory.Emergency <= 1) {
		return fmt.Errorf("config: memory thresholds must satisfy 0 < warning < critical < emergency <= 1, got %g/%g/%g",
			c.Memory.Warning, c.Memory.Critical, c.Memory.Emergency)
	}
	if c.Memory.TrendWindow < 2 {
		return fmt.Errorf("config: memory trend_window must be at least 2, got %d", c.Memory.TrendWindow)
	}
	if c.Memory.SampleInterval < 1 {
		return fmt.Errorf("config: memory sample_interval must be at least 1, got %d", c.Memory.SampleInterval)
	}
	if c.Predictor.HistorySize < 2 {
		return fmt.Errorf("config: predictor history_size must be at least 2, got %d", c.Predictor.HistorySize)
	}
	if c.Telemetry.StatsWindow < 1 {
		return fmt.Errorf("config: telemetry stats_window must be at least 1, got %d", c.Telemetry.StatsWindow)
	}
	if len(c.Kinds) == 0 {
		return fmt.Errorf("config: at least one kind is required")
	}
	for i, k := range c.Kinds {
		if k.Name == "" {
			return fmt.Errorf("config: kind %d has no name", i)
		}
		if k.GrowthRate < 0 || k.GrowthRate > 1 || k.DeathRate < 0 || k.DeathRate > 1 {
			return fmt.Errorf("config: kind %q rates must be in [0,1]", k.Name)
		}
		if k.MaxAge == 0 {
			return fmt.Errorf("config: kind %q max_age must be positive", k.Name)
		}
		if k.MaxEnergy <= 0 {
			return fmt.Errorf("config: kind %q max_energy must be positive", k.Name)
		}
		if k.InitialEnergy < 0 || k.InitialEnergy > k.MaxEnergy {
			return fmt.Errorf("config: kind %q initial_energy must be in [0,max_energy]", k.Name)
		}
		if k.ReproThreshold < 0 || k.ReproThreshold > 1 {
			return fmt.Errorf("config: kind %q repro_threshold must be in [0,1]", k.Name)
		}
		if k.CrowdingRadius < 0 || k.CrowdingTolerance < 0 || k.CrowdingPenalty < 0 {
			return fmt.Errorf("config: kind %q crowding parameters must be non-negative", k.Name)
		}
		if k.Speed < 0 {
			return fmt.Errorf("config: kind %q speed must be non-negative", k.Name)
		}
	}
	return nil
}

// KindIndex returns the index of the named kind, or -1.
func (c *Config) KindIndex(name string) int {
	for i, k := range c.Kinds {
		if k.Name == name {
			return i
		}
	}
	return -1
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
