package propagate

import (
	"agrosim.ai/internal/sim/tile"
)

// SnapshotVersion is the version of the execution-unit boundary format.
const SnapshotVersion = 1

// TileSnapshotV1 is the only data that crosses into an execution unit.
//
// It is a deep copy: no pointer inside it is shared with the canonical grid, it holds no
// functions, and the planning shadows (Population.Optimized) are left out. Merge restores them.
type TileSnapshotV1 struct {
	Version int `json:"version"`
	Row     int `json:"row"`
	Col     int `json:"col"`

	Topography tile.Group `json:"topography,omitempty"`
	Soil       tile.Group `json:"soil,omitempty"`
	Resources  tile.Group `json:"resources,omitempty"`

	Plants  []*tile.Biota `json:"plants"`
	Animals []*tile.Biota `json:"animals"`

	Assemblies []*tile.Assembly `json:"assemblies,omitempty"`
}

// BuildSnapshot copies the propagation-relevant part of t.
func BuildSnapshot(t *tile.Tile) TileSnapshotV1 {
	return TileSnapshotV1{
		Version:    SnapshotVersion,
		Row:        t.Row,
		Col:        t.Col,
		Topography: t.Topography.Clone(),
		Soil:       t.Soil.Clone(),
		Resources:  t.Resources.Clone(),
		Plants:     wellFormed(t.Plants.Real),
		Animals:    wellFormed(t.Animals.Real),
		Assemblies: tile.CloneAssemblies(t.Assemblies),
	}
}

// BuildSnapshots snapshots tiles in order.
func BuildSnapshots(tiles []*tile.Tile) []TileSnapshotV1 {
	out := make([]TileSnapshotV1, len(tiles))
	for i, t := range tiles {
		out[i] = BuildSnapshot(t)
	}
	return out
}

func wellFormed(in []*tile.Biota) []*tile.Biota {
	out := make([]*tile.Biota, 0, len(in))
	for _, b := range in {
		if !b.WellFormed() {
			continue
		}
		out = append(out, b.Clone())
	}
	return out
}

// view wraps the snapshot's own data in a tile so the applier mutates the snapshot in place.
func (s *TileSnapshotV1) view() *tile.Tile {
	return &tile.Tile{
		Row:        s.Row,
		Col:        s.Col,
		Topography: s.Topography,
		Soil:       s.Soil,
		Resources:  s.Resources,
		Plants:     tile.Population{Real: s.Plants},
		Animals:    tile.Population{Real: s.Animals},
		Assemblies: s.Assemblies,
	}
}
