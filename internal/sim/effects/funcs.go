package effects

import (
	"fmt"
	"sort"
	"strings"

	"agrosim.ai/internal/sim/tile"
)

// FuncSpec is the declarative form of a computed delta as it appears in catalog files.
type FuncSpec struct {
	Name      string    `json:"name"`
	Of        string    `json:"of,omitempty"`    // "group.property" on the tile, or a subject field
	Param     string    `json:"param,omitempty"` // weather parameter
	Factor    float64   `json:"factor,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
	Above     float64   `json:"above,omitempty"`
	Below     float64   `json:"below,omitempty"`
	Rates     []float64 `json:"rates,omitempty"`
}

// Factory builds a computed delta from its spec.
type Factory func(spec FuncSpec) (ComputedDelta, error)

var builtinFuncs = map[string]Factory{
	"proportional":         proportional,
	"threshold":            threshold,
	"stage_rate":           stageRate,
	"weather":              weatherScaled,
	"subject_proportional": subjectProportional,
}

// Build resolves spec against the built-in factories.
func Build(spec FuncSpec) (ComputedDelta, error) {
	f, ok := builtinFuncs[spec.Name]
	if !ok {
		return nil, fmt.Errorf("unknown delta function %q", spec.Name)
	}
	return f(spec)
}

// FuncNames lists the built-in function names, sorted.
func FuncNames() []string {
	out := make([]string, 0, len(builtinFuncs))
	for n := range builtinFuncs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// ParseRef splits "group.property" into its parts.
func ParseRef(ref string) (tile.GroupName, string, error) {
	group, prop, ok := strings.Cut(ref, ".")
	if !ok || group == "" || prop == "" {
		return "", "", fmt.Errorf("bad reference %q (want group.property)", ref)
	}
	switch g := tile.GroupName(group); g {
	case tile.Topography, tile.Soil, tile.Resources:
		return g, prop, nil
	}
	return "", "", fmt.Errorf("bad reference %q: group must be topography, soil or resources", ref)
}

// proportional: factor × tile value.
func proportional(spec FuncSpec) (ComputedDelta, error) {
	group, prop, err := ParseRef(spec.Of)
	if err != nil {
		return nil, err
	}
	factor := spec.Factor
	return func(ctx Context) float64 {
		v, ok := ctx.Env(group, prop)
		if !ok {
			return tile.Unset()
		}
		return factor * v
	}, nil
}

// threshold: Above when the tile value is >= Threshold, Below otherwise.
func threshold(spec FuncSpec) (ComputedDelta, error) {
	group, prop, err := ParseRef(spec.Of)
	if err != nil {
		return nil, err
	}
	th, above, below := spec.Threshold, spec.Above, spec.Below
	return func(ctx Context) float64 {
		v, ok := ctx.Env(group, prop)
		if !ok || !tile.Finite(v) {
			return tile.Unset()
		}
		if v >= th {
			return above
		}
		return below
	}, nil
}

// stage_rate: Rates[subject.GrowthStage] × Factor (Factor 0 means 1). Stages past the
// table use the last rate.
func stageRate(spec FuncSpec) (ComputedDelta, error) {
	if len(spec.Rates) == 0 {
		return nil, fmt.Errorf("stage_rate: empty rates")
	}
	rates := append([]float64(nil), spec.Rates...)
	factor := spec.Factor
	if factor == 0 {
		factor = 1
	}
	return func(ctx Context) float64 {
		if ctx.Subject == nil {
			return tile.Unset()
		}
		i := ctx.Subject.GrowthStage
		if i < 0 {
			i = 0
		}
		if i >= len(rates) {
			i = len(rates) - 1
		}
		return rates[i] * factor
	}, nil
}

// weather: Factor × the day's weather parameter.
func weatherScaled(spec FuncSpec) (ComputedDelta, error) {
	if spec.Param == "" {
		return nil, fmt.Errorf("weather: missing param")
	}
	param, factor := spec.Param, spec.Factor
	return func(ctx Context) float64 {
		v, ok := ctx.Weather[param]
		if !ok {
			return tile.Unset()
		}
		return factor * v
	}, nil
}

// subject_proportional: Factor × the acting subject's field env.
func subjectProportional(spec FuncSpec) (ComputedDelta, error) {
	if spec.Of == "" {
		return nil, fmt.Errorf("subject_proportional: missing of")
	}
	field, factor := spec.Of, spec.Factor
	return func(ctx Context) float64 {
		f := ctx.Subject.Field(field)
		if f == nil {
			return tile.Unset()
		}
		return factor * f.Env
	}, nil
}
