package tile

import (
	"encoding/json"
	"math"
)

// Measured is an externally sourced observation of a field. Propagation never writes it.
type Measured struct {
	Value   *float64 `json:"value" yaml:"value"`
	Date    string   `json:"date,omitempty" yaml:"date,omitempty"`
	Collect bool     `json:"collect" yaml:"collect"`
}

// Field is one measurement field.
//
// Env is the simulated ground truth and the only member the propagation engine mutates.
// An unset Env is NaN; see Unset.
type Field struct {
	Env       float64  `json:"env"`
	Unit      string   `json:"unit,omitempty"`
	Measured  Measured `json:"measured"`
	Optimized *float64 `json:"optimized"`
}

// Unset is the Env value of a field that carries no simulated value.
func Unset() float64 { return math.NaN() }

// Finite reports whether v is a usable number (not NaN, not ±Inf).
func Finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// NewField returns a field with the given env value and unit.
func NewField(env float64, unit string) *Field {
	return &Field{Env: env, Unit: unit}
}

func (f *Field) Clone() *Field {
	if f == nil {
		return nil
	}
	out := *f
	out.Measured.Value = cloneFloat(f.Measured.Value)
	out.Optimized = cloneFloat(f.Optimized)
	return &out
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

type fieldJSON struct {
	Env       *float64 `json:"env"`
	Unit      string   `json:"unit,omitempty"`
	Measured  Measured `json:"measured"`
	Optimized *float64 `json:"optimized"`
}

// MarshalJSON renders a non-finite env as null; encoding/json cannot encode NaN.
func (f Field) MarshalJSON() ([]byte, error) {
	out := fieldJSON{Unit: f.Unit, Measured: f.Measured, Optimized: f.Optimized}
	if Finite(f.Env) {
		v := f.Env
		out.Env = &v
	}
	return json.Marshal(out)
}

func (f *Field) UnmarshalJSON(b []byte) error {
	var in fieldJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	f.Env = Unset()
	if in.Env != nil {
		f.Env = *in.Env
	}
	f.Unit = in.Unit
	f.Measured = in.Measured
	f.Optimized = in.Optimized
	return nil
}

// Group maps a property name to its field (topography, soil, resources, biota attributes).
type Group map[string]*Field

func (g Group) Clone() Group {
	if g == nil {
		return nil
	}
	out := make(Group, len(g))
	for k, f := range g {
		out[k] = f.Clone()
	}
	return out
}
