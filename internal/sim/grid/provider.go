package grid

import (
	"sync/atomic"

	"agrosim.ai/internal/sim/tile"
)

// Provider holds the canonical grid. Readers get whole grids only: a new grid becomes visible
// through a single pointer swap after it is fully merged.
type Provider struct {
	cur atomic.Pointer[tile.Grid]
}

func NewProvider(g tile.Grid) *Provider {
	p := &Provider{}
	p.cur.Store(&g)
	return p
}

// Load returns the current grid. Callers must treat it as read-only.
func (p *Provider) Load() tile.Grid {
	g := p.cur.Load()
	if g == nil {
		return nil
	}
	return *g
}

// Swap publishes next and returns the grid it replaced.
func (p *Provider) Swap(next tile.Grid) tile.Grid {
	prev := p.cur.Swap(&next)
	if prev == nil {
		return nil
	}
	return *prev
}
