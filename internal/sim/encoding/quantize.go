package encoding

import (
	"math"

	"agrosim.ai/internal/sim/tile"
)

// NoData marks a cell whose value is missing or not finite.
const NoData uint16 = 0xFFFF

const maxLevel = NoData - 1

// Quantized is a layer of env values mapped onto uint16 levels: v ≈ Min + id/Scale.
type Quantized struct {
	Min   float64
	Scale float64
	IDs   []uint16
}

// QuantizeLayer maps vals onto levels of 1/scale above the layer minimum. Values beyond the
// top level are clamped. scale <= 0 means 1.
func QuantizeLayer(vals []float64, scale float64) Quantized {
	if scale <= 0 {
		scale = 1
	}
	q := Quantized{Scale: scale, IDs: make([]uint16, len(vals))}
	first := true
	for _, v := range vals {
		if !tile.Finite(v) {
			continue
		}
		if first || v < q.Min {
			q.Min = v
			first = false
		}
	}
	for i, v := range vals {
		if !tile.Finite(v) {
			q.IDs[i] = NoData
			continue
		}
		l := math.Round((v - q.Min) * scale)
		if l > float64(maxLevel) {
			l = float64(maxLevel)
		}
		q.IDs[i] = uint16(l)
	}
	return q
}

// Values reverses QuantizeLayer up to rounding; NoData cells come back as NaN.
func (q Quantized) Values() []float64 {
	out := make([]float64, len(q.IDs))
	scale := q.Scale
	if scale <= 0 {
		scale = 1
	}
	for i, id := range q.IDs {
		if id == NoData {
			out[i] = math.NaN()
			continue
		}
		out[i] = q.Min + float64(id)/scale
	}
	return out
}
