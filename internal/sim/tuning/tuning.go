package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"agrosim.ai/internal/sim/propagate"
)

type Tuning struct {
	WorldID           string `yaml:"world_id"`
	TickIntervalMs    int    `yaml:"tick_interval_ms"`
	MaxUnits          int    `yaml:"max_units"`
	SnapshotEveryDays int    `yaml:"snapshot_every_days"`
	SeasonLengthDays  int    `yaml:"season_length_days"`

	// Weather is a cyclic table of daily conditions; day d uses entry d mod len.
	Weather []map[string]float64 `yaml:"weather"`
}

func Defaults() Tuning {
	return Tuning{
		WorldID:           "farm_1",
		TickIntervalMs:    1000,
		MaxUnits:          propagate.MaxUnits,
		SnapshotEveryDays: 30,
		SeasonLengthDays:  90,
	}
}

// Normalize fills zero values from Defaults and clamps max_units to the pool cap.
func (t *Tuning) Normalize() {
	d := Defaults()
	if t.WorldID == "" {
		t.WorldID = d.WorldID
	}
	if t.TickIntervalMs <= 0 {
		t.TickIntervalMs = d.TickIntervalMs
	}
	if t.MaxUnits <= 0 || t.MaxUnits > propagate.MaxUnits {
		t.MaxUnits = propagate.MaxUnits
	}
	if t.SnapshotEveryDays < 0 {
		t.SnapshotEveryDays = 0
	}
	if t.SeasonLengthDays < 0 {
		t.SeasonLengthDays = 0
	}
}

// Load reads path over Defaults. Keys absent from the file keep their default.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	return t, nil
}
