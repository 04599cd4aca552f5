// Package weather supplies the daily conditions read by weather-driven effects.
package weather

import "agrosim.ai/internal/sim/effects"

type Source interface {
	Conditions(day int) effects.Weather
}

// Table cycles a fixed list of daily conditions.
type Table []map[string]float64

// Conditions returns a copy of entry day mod len. An empty table yields empty weather.
func (t Table) Conditions(day int) effects.Weather {
	out := effects.Weather{}
	if len(t) == 0 {
		return out
	}
	i := day % len(t)
	if i < 0 {
		i += len(t)
	}
	for k, v := range t[i] {
		out[k] = v
	}
	return out
}
