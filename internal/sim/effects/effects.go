// Package effects holds the declarative effect model and the per-tile applier.
package effects

import (
	"agrosim.ai/internal/sim/tile"
)

// Category is one of the fixed effect domains.
type Category int

const (
	Ambient Category = iota
	Equipment
	Terrain
	Soil
	Animals
	Plants
	Resources

	numCategories
)

// Order is the per-tile execution order. An earlier category's writes are visible to a later
// category's deltas within the same tick.
var Order = [...]Category{Ambient, Equipment, Terrain, Soil, Animals, Plants, Resources}

var categoryNames = [...]string{
	Ambient:   "ambient",
	Equipment: "equipment",
	Terrain:   "terrain",
	Soil:      "soil",
	Animals:   "animals",
	Plants:    "plants",
	Resources: "resources",
}

func (c Category) String() string {
	if c < 0 || c >= numCategories {
		return "unknown"
	}
	return categoryNames[c]
}

// TileWide reports whether every key of the category is always active with no subject.
func (c Category) TileWide() bool {
	switch c {
	case Ambient, Terrain, Soil, Resources:
		return true
	}
	return false
}

// ParseCategory is the inverse of String.
func ParseCategory(s string) (Category, bool) {
	for i, n := range categoryNames {
		if n == s {
			return Category(i), true
		}
	}
	return 0, false
}

// Weather carries the day's ambient conditions by parameter name. Read-only during a tick.
type Weather map[string]float64

// Context is everything a computed delta may read.
type Context struct {
	Tile     *tile.Tile
	Subject  *tile.Biota // nil for tile-wide and equipment categories
	Key      string
	Category Category
	Day      int
	Weather  Weather
}

// Env reads a tile property; ok is false when the node is missing.
func (c Context) Env(group tile.GroupName, property string) (float64, bool) {
	if c.Tile == nil {
		return tile.Unset(), false
	}
	return c.Tile.Env(group, property)
}

// Delta is either a ConstantDelta or a ComputedDelta.
type Delta interface {
	resolve(ctx Context) float64
}

// ConstantDelta adds a fixed amount.
type ConstantDelta float64

func (d ConstantDelta) resolve(Context) float64 { return float64(d) }

// ComputedDelta derives the amount from the context. It must be pure: no I/O, no blocking,
// same context gives the same result.
type ComputedDelta func(ctx Context) float64

func (d ComputedDelta) resolve(ctx Context) float64 {
	if d == nil {
		return tile.Unset()
	}
	return d(ctx)
}

// Resolve evaluates d for ctx. A nil delta resolves to NaN and is therefore never applied.
func Resolve(d Delta, ctx Context) float64 {
	if d == nil {
		return tile.Unset()
	}
	return d.resolve(ctx)
}

// Effect is one effect descriptor: add Delta to Target.Property's env.
type Effect struct {
	Target   tile.GroupName
	Property string
	Delta    Delta
}
