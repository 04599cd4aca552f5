package effects

import (
	"agrosim.ai/internal/sim/tile"
)

// Stats counts effect outcomes for one or more tiles.
type Stats struct {
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
}

func (s *Stats) Add(o Stats) {
	s.Applied += o.Applied
	s.Skipped += o.Skipped
}

// Applier runs one tick of effects against a tile.
type Applier struct {
	reg     *Registry
	day     int
	weather Weather

	// Guarded recovers a panicking delta as a skipped effect instead of unwinding.
	Guarded bool
}

func NewApplier(reg *Registry, day int, weather Weather) *Applier {
	return &Applier{reg: reg, day: day, weather: weather}
}

// Apply mutates the env fields of t for exactly one tick, in category Order.
func (a *Applier) Apply(t *tile.Tile) Stats {
	var st Stats
	if t == nil {
		return st
	}
	for _, cat := range Order {
		switch {
		case cat.TileWide():
			a.applyTileWide(t, cat, &st)
		case cat == Equipment:
			a.applyOrders(t, &st)
		case cat == Animals:
			a.applySubjects(t, cat, tile.Animals, &st)
		case cat == Plants:
			a.applySubjects(t, cat, tile.Plants, &st)
		}
	}
	return st
}

func (a *Applier) applyTileWide(t *tile.Tile, cat Category, st *Stats) {
	c := a.reg.Catalog(cat)
	for _, key := range c.Keys() {
		a.applyList(t, nil, "", cat, key, c.Lookup(key), st)
	}
}

func (a *Applier) applyOrders(t *tile.Tile, st *Stats) {
	var orders []string
	for _, as := range t.Assemblies {
		if as == nil {
			continue
		}
		orders = append(orders, as.Orders...)
	}
	c := a.reg.Catalog(Equipment)
	for _, id := range orders {
		a.applyList(t, nil, "", Equipment, id, c.Lookup(id), st)
	}
}

func (a *Applier) applySubjects(t *tile.Tile, cat Category, own tile.GroupName, st *Stats) {
	pop := t.Population(own)
	c := a.reg.Catalog(cat)
	for _, s := range pop.Real {
		if s == nil {
			continue
		}
		a.applyList(t, s, own, cat, s.Type, c.Lookup(s.Type), st)
	}
}

func (a *Applier) applyList(t *tile.Tile, subject *tile.Biota, own tile.GroupName, cat Category, key string, effs []Effect, st *Stats) {
	if len(effs) == 0 {
		return
	}
	ctx := Context{
		Tile:     t,
		Subject:  subject,
		Key:      key,
		Category: cat,
		Day:      a.day,
		Weather:  a.weather,
	}
	for _, e := range effs {
		if a.Guarded {
			a.applyGuarded(t, subject, own, e, ctx, st)
			continue
		}
		a.applyOne(t, subject, own, e, ctx, st)
	}
}

func (a *Applier) applyGuarded(t *tile.Tile, subject *tile.Biota, own tile.GroupName, e Effect, ctx Context, st *Stats) {
	defer func() {
		if r := recover(); r != nil {
			st.Skipped++
		}
	}()
	a.applyOne(t, subject, own, e, ctx, st)
}

func (a *Applier) applyOne(t *tile.Tile, subject *tile.Biota, own tile.GroupName, e Effect, ctx Context, st *Stats) {
	targets := resolveTargets(t, subject, own, e)
	if len(targets) == 0 {
		st.Skipped++
		return
	}
	delta := Resolve(e.Delta, ctx)
	for _, f := range targets {
		if addEnv(f, delta) {
			st.Applied++
		} else {
			st.Skipped++
		}
	}
}

// resolveTargets picks the fields an effect writes.
//
// A subject writing its own population group touches only itself. Any other population target
// is broadcast to every instance of that population. Property groups are tile-wide.
func resolveTargets(t *tile.Tile, subject *tile.Biota, own tile.GroupName, e Effect) []*tile.Field {
	if subject != nil && e.Target == own {
		if f := subject.Field(e.Property); f != nil {
			return []*tile.Field{f}
		}
		return nil
	}
	if pop := t.Population(e.Target); pop != nil {
		var out []*tile.Field
		for _, b := range pop.Real {
			if f := b.Field(e.Property); f != nil {
				out = append(out, f)
			}
		}
		return out
	}
	if f := t.Group(e.Target)[e.Property]; f != nil {
		return []*tile.Field{f}
	}
	return nil
}

func addEnv(f *tile.Field, delta float64) bool {
	if f == nil || !tile.Finite(f.Env) || !tile.Finite(delta) {
		return false
	}
	f.Env += delta
	return true
}
