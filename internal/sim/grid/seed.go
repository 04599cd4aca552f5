package grid

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"agrosim.ai/internal/sim/tile"
)

// Seed is the declarative description of an initial grid: a template applied to every tile
// plus per-tile overrides.
type Seed struct {
	Rows     int            `yaml:"rows"`
	Cols     int            `yaml:"cols"`
	Template TileSeed       `yaml:"template"`
	Tiles    []TileOverride `yaml:"tiles"`
}

type TileOverride struct {
	Row      int `yaml:"row"`
	Col      int `yaml:"col"`
	TileSeed `yaml:",inline"`
}

// TileSeed groups merge property-by-property over the template. Populations and assemblies
// replace the template's when present.
type TileSeed struct {
	Biome      string               `yaml:"biome"`
	Topography map[string]FieldSeed `yaml:"topography"`
	Soil       map[string]FieldSeed `yaml:"soil"`
	Resources  map[string]FieldSeed `yaml:"resources"`
	Plants     *PopulationSeed      `yaml:"plants"`
	Animals    *PopulationSeed      `yaml:"animals"`
	Assemblies []AssemblySeed       `yaml:"assemblies"`
}

type FieldSeed struct {
	Env       *float64      `yaml:"env"`
	Unit      string        `yaml:"unit"`
	Measured  tile.Measured `yaml:"measured"`
	Optimized *float64      `yaml:"optimized"`
}

type BiotaSeed struct {
	ID          string               `yaml:"id"`
	Type        string               `yaml:"type"`
	GrowthStage int                  `yaml:"growth_stage"`
	Health      *FieldSeed           `yaml:"health"`
	Attributes  map[string]FieldSeed `yaml:"attributes"`
}

// PopulationSeed accepts either a plain list (flat shape) or a {real, optimized} mapping.
type PopulationSeed struct {
	Real      []BiotaSeed `yaml:"real"`
	Optimized []BiotaSeed `yaml:"optimized"`
	Flat      bool        `yaml:"-"`
}

func (p *PopulationSeed) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.SequenceNode {
		p.Flat = true
		return n.Decode(&p.Real)
	}
	type plain PopulationSeed
	var v plain
	if err := n.Decode(&v); err != nil {
		return err
	}
	*p = PopulationSeed(v)
	return nil
}

type AssemblySeed struct {
	ID     string   `yaml:"id"`
	Kind   string   `yaml:"kind"`
	Orders []string `yaml:"orders"`
}

// LoadSeed reads a YAML seed file and builds the grid it describes.
func LoadSeed(path string) (tile.Grid, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s Seed
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("grid seed: %w", err)
	}
	g, err := s.Build()
	if err != nil {
		return nil, fmt.Errorf("grid seed: %w", err)
	}
	return g, nil
}

func (s Seed) Build() (tile.Grid, error) {
	if s.Rows <= 0 || s.Cols <= 0 {
		return nil, fmt.Errorf("bad dimensions %dx%d", s.Rows, s.Cols)
	}
	g := tile.NewGrid(s.Rows, s.Cols)
	for _, row := range g {
		for _, t := range row {
			s.Template.applyTo(t)
		}
	}
	seen := map[[2]int]bool{}
	for i, o := range s.Tiles {
		t := g.At(o.Row, o.Col)
		if t == nil {
			return nil, fmt.Errorf("tiles[%d]: (%d,%d) outside %dx%d", i, o.Row, o.Col, s.Rows, s.Cols)
		}
		k := [2]int{o.Row, o.Col}
		if seen[k] {
			return nil, fmt.Errorf("tiles[%d]: (%d,%d) listed twice", i, o.Row, o.Col)
		}
		seen[k] = true
		o.TileSeed.applyTo(t)
	}
	return g, nil
}

func (s TileSeed) applyTo(t *tile.Tile) {
	if s.Biome != "" {
		t.Biome = s.Biome
	}
	mergeGroup(t.Topography, s.Topography)
	mergeGroup(t.Soil, s.Soil)
	mergeGroup(t.Resources, s.Resources)
	if s.Plants != nil {
		t.Plants = s.Plants.build()
	}
	if s.Animals != nil {
		t.Animals = s.Animals.build()
	}
	if s.Assemblies != nil {
		t.Assemblies = make([]*tile.Assembly, 0, len(s.Assemblies))
		for _, a := range s.Assemblies {
			t.Assemblies = append(t.Assemblies, &tile.Assembly{ID: a.ID, Kind: a.Kind, Orders: append([]string(nil), a.Orders...)})
		}
	}
}

func mergeGroup(dst tile.Group, src map[string]FieldSeed) {
	for k, f := range src {
		dst[k] = f.build()
	}
}

func (f FieldSeed) build() *tile.Field {
	out := &tile.Field{Env: tile.Unset(), Unit: f.Unit, Measured: f.Measured}
	if f.Env != nil {
		out.Env = *f.Env
	}
	if f.Optimized != nil {
		v := *f.Optimized
		out.Optimized = &v
	}
	if f.Measured.Value != nil {
		v := *f.Measured.Value
		out.Measured.Value = &v
	}
	return out
}

func (p *PopulationSeed) build() tile.Population {
	out := tile.Population{Real: buildBiota(p.Real), Flat: p.Flat}
	if !p.Flat {
		out.Optimized = buildBiota(p.Optimized)
	}
	return out
}

func buildBiota(in []BiotaSeed) []*tile.Biota {
	out := make([]*tile.Biota, 0, len(in))
	for _, b := range in {
		nb := &tile.Biota{ID: b.ID, Type: b.Type, GrowthStage: b.GrowthStage}
		if b.Health != nil {
			nb.Health = b.Health.build()
		}
		if len(b.Attributes) > 0 {
			nb.Attributes = tile.Group{}
			mergeGroup(nb.Attributes, b.Attributes)
		}
		out = append(out, nb)
	}
	return out
}
