package tile

// GroupName names a target sub-object of a tile.
type GroupName string

const (
	Topography GroupName = "topography"
	Soil       GroupName = "soil"
	Resources  GroupName = "resources"
	Plants     GroupName = "plants"
	Animals    GroupName = "animals"
)

// Biota is a plant or animal instance. ID is its identity; Type selects its effect list.
type Biota struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	GrowthStage int    `json:"growth_stage"`
	Health      *Field `json:"health,omitempty"`
	Attributes  Group  `json:"attributes,omitempty"`
}

// Field resolves "health" or a domain attribute such as "weight". Nil when absent.
func (b *Biota) Field(name string) *Field {
	if b == nil {
		return nil
	}
	if name == "health" {
		return b.Health
	}
	return b.Attributes[name]
}

func (b *Biota) WellFormed() bool {
	return b != nil && b.ID != "" && b.Type != ""
}

func (b *Biota) Clone() *Biota {
	if b == nil {
		return nil
	}
	return &Biota{
		ID:          b.ID,
		Type:        b.Type,
		GrowthStage: b.GrowthStage,
		Health:      b.Health.Clone(),
		Attributes:  b.Attributes.Clone(),
	}
}

// Population is the plants or animals group of a tile.
//
// Real holds the instances that currently exist. Optimized is a planning shadow owned by another
// engine and passed through untouched. Flat marks a group stored as a plain list (no shadow).
type Population struct {
	Real      []*Biota `json:"real"`
	Optimized []*Biota `json:"optimized,omitempty"`
	Flat      bool     `json:"flat,omitempty"`
}

func (p Population) Clone() Population {
	return Population{
		Real:      CloneBiota(p.Real),
		Optimized: CloneBiota(p.Optimized),
		Flat:      p.Flat,
	}
}

func CloneBiota(in []*Biota) []*Biota {
	if in == nil {
		return nil
	}
	out := make([]*Biota, len(in))
	for i, b := range in {
		out[i] = b.Clone()
	}
	return out
}

// Assembly is a deployed equipment record. Orders are equipment catalog keys to run this tick.
type Assembly struct {
	ID     string   `json:"id"`
	Kind   string   `json:"kind,omitempty"`
	Orders []string `json:"orders,omitempty"`
}

func (a *Assembly) Clone() *Assembly {
	if a == nil {
		return nil
	}
	out := *a
	if a.Orders != nil {
		out.Orders = append([]string(nil), a.Orders...)
	}
	return &out
}

func CloneAssemblies(in []*Assembly) []*Assembly {
	if in == nil {
		return nil
	}
	out := make([]*Assembly, len(in))
	for i, a := range in {
		out[i] = a.Clone()
	}
	return out
}

// Tile is one grid cell.
type Tile struct {
	Row   int    `json:"row"`
	Col   int    `json:"col"`
	Biome string `json:"biome,omitempty"`

	Topography Group `json:"topography,omitempty"`
	Soil       Group `json:"soil,omitempty"`
	Resources  Group `json:"resources,omitempty"`

	Plants  Population `json:"plants"`
	Animals Population `json:"animals"`

	Assemblies []*Assembly `json:"assemblies,omitempty"`
}

// Group returns the named property group; nil for populations and unknown names.
func (t *Tile) Group(name GroupName) Group {
	switch name {
	case Topography:
		return t.Topography
	case Soil:
		return t.Soil
	case Resources:
		return t.Resources
	}
	return nil
}

// Population returns the plants or animals group; nil for anything else.
func (t *Tile) Population(name GroupName) *Population {
	switch name {
	case Plants:
		return &t.Plants
	case Animals:
		return &t.Animals
	}
	return nil
}

// Env reads group.property's env. ok is false when the node is missing.
func (t *Tile) Env(group GroupName, property string) (v float64, ok bool) {
	f := t.Group(group)[property]
	if f == nil {
		return Unset(), false
	}
	return f.Env, true
}

func (t *Tile) Clone() *Tile {
	if t == nil {
		return nil
	}
	return &Tile{
		Row:        t.Row,
		Col:        t.Col,
		Biome:      t.Biome,
		Topography: t.Topography.Clone(),
		Soil:       t.Soil.Clone(),
		Resources:  t.Resources.Clone(),
		Plants:     t.Plants.Clone(),
		Animals:    t.Animals.Clone(),
		Assemblies: CloneAssemblies(t.Assemblies),
	}
}

// Grid is a row-major 2D array of tiles.
type Grid [][]*Tile

func (g Grid) Rows() int { return len(g) }

func (g Grid) Cols() int {
	if len(g) == 0 {
		return 0
	}
	return len(g[0])
}

// At returns the tile at (row, col) or nil when out of range.
func (g Grid) At(row, col int) *Tile {
	if row < 0 || row >= len(g) || col < 0 || col >= len(g[row]) {
		return nil
	}
	return g[row][col]
}

func (g Grid) Clone() Grid {
	if g == nil {
		return nil
	}
	out := make(Grid, len(g))
	for r, row := range g {
		out[r] = make([]*Tile, len(row))
		for c, t := range row {
			out[r][c] = t.Clone()
		}
	}
	return out
}

// NewGrid allocates rows×cols tiles with coordinates set and empty groups.
func NewGrid(rows, cols int) Grid {
	g := make(Grid, rows)
	for r := 0; r < rows; r++ {
		g[r] = make([]*Tile, cols)
		for c := 0; c < cols; c++ {
			g[r][c] = &Tile{
				Row:        r,
				Col:        c,
				Topography: Group{},
				Soil:       Group{},
				Resources:  Group{},
			}
		}
	}
	return g
}
