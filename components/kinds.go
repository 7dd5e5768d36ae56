package components

import (
	"fmt"

	"vivarium/config"
)

// Params holds one kind's behavioral parameters. Rates are probabilities
// per unit simulated time; the engine converts them to per-tick
// probabilities using dt.
type Params struct {
	Name              string
	GrowthRate        float32
	DeathRate         float32
	MaxAge            uint32
	MinReproAge       uint32
	MaxEnergy         float32
	InitialEnergy     float32
	EnergyRegen       float32
	ReproThreshold    float32 // fraction of MaxEnergy required to reproduce
	CrowdingRadius    float32
	CrowdingTolerance int
	CrowdingPenalty   float32
	BodyRadius        float32
	Speed             float32
}

// Table is the static kind -> parameter lookup built once from config.
type Table struct {
	params []Params
}

// NewTable builds the lookup table from validated configuration.
func NewTable(kinds []config.KindConfig) (*Table, error) {
	if len(kinds) == 0 {
		return nil, fmt.Errorf("components: no kinds configured")
	}
	if len(kinds) > 256 {
		return nil, fmt.Errorf("components: at most 256 kinds supported, got %d", len(kinds))
	}
	params := make([]Params, len(kinds))
	for i, k := range kinds {
		params[i] = Params{
			Name:              k.Name,
			GrowthRate:        float32(k.GrowthRate),
			DeathRate:         float32(k.DeathRate),
			MaxAge:            k.MaxAge,
			MinReproAge:       k.MinReproAge,
			MaxEnergy:         float32(k.MaxEnergy),
			InitialEnergy:     float32(k.InitialEnergy),
			EnergyRegen:       float32(k.EnergyRegen),
			ReproThreshold:    float32(k.ReproThreshold),
			CrowdingRadius:    float32(k.CrowdingRadius),
			CrowdingTolerance: k.CrowdingTolerance,
			CrowdingPenalty:   float32(k.CrowdingPenalty),
			BodyRadius:        float32(k.BodyRadius),
			Speed:             float32(k.Speed),
		}
	}
	return &Table{params: params}, nil
}

// Len returns the number of kinds.
func (t *Table) Len() int {
	return len(t.params)
}

// Params returns the parameters for the given kind.
// Out-of-range kinds are a programming error; this panics rather than
// returning garbage, since kinds are validated at entity creation.
func (t *Table) Params(k Kind) *Params {
	return &t.params[k]
}

// Valid reports whether k indexes a configured kind.
func (t *Table) Valid(k Kind) bool {
	return int(k) < len(t.params)
}

// ByName returns the kind with the given name.
func (t *Table) ByName(name string) (Kind, bool) {
	for i := range t.params {
		if t.params[i].Name == name {
			return Kind(i), true
		}
	}
	return 0, false
}
