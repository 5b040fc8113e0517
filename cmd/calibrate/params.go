package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pthm-cable/cellsim/config"
)

// ParamSpec is one calibrated reaction rate. Rates are searched on a log10
// scale between Min and Max.
type ParamSpec struct {
	Rule    string  // Rule name in the config
	Min     float64 // Lower bound (rate units of the rule)
	Max     float64 // Upper bound
	Default float64 // Starting value
}

// ParseParamSpec parses "rule:min:max". The default is the rule's current
// rate when it lies inside the bounds, the geometric midpoint otherwise.
func ParseParamSpec(s string, cfg *config.Config) (ParamSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return ParamSpec{}, fmt.Errorf("param %q: want rule:min:max", s)
	}
	lo, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return ParamSpec{}, fmt.Errorf("param %q: min: %w", s, err)
	}
	hi, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return ParamSpec{}, fmt.Errorf("param %q: max: %w", s, err)
	}
	if lo <= 0 || hi <= lo {
		return ParamSpec{}, fmt.Errorf("param %q: need 0 < min < max", s)
	}
	idx := ruleIndex(cfg, parts[0])
	if idx < 0 {
		return ParamSpec{}, fmt.Errorf("param %q: unknown rule %q", s, parts[0])
	}
	spec := ParamSpec{Rule: parts[0], Min: lo, Max: hi, Default: math.Sqrt(lo * hi)}
	if r := cfg.Rules[idx].Rate; r >= lo && r <= hi {
		spec.Default = r
	}
	return spec, nil
}

func ruleIndex(cfg *config.Config, name string) int {
	for i, r := range cfg.Rules {
		if r.Name == name {
			return i
		}
	}
	return -1
}

// ParamVector holds the set of calibrated rates.
type ParamVector struct {
	Specs []ParamSpec
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default rates.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize maps rates onto [0,1] in log space.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		lo, hi := math.Log10(spec.Min), math.Log10(spec.Max)
		normalized[i] = (math.Log10(raw[i]) - lo) / (hi - lo)
	}
	return normalized
}

// Denormalize converts [0,1] values back to rates.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		lo, hi := math.Log10(spec.Min), math.Log10(spec.Max)
		raw[i] = math.Pow(10, lo+normalized[i]*(hi-lo))
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = math.Min(math.Max(v[i], spec.Min), spec.Max)
	}
	return clamped
}

// ApplyToConfig writes the clamped rates into cfg. An explicit probability
// on a calibrated rule is dropped so the rate is converted.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	clamped := pv.Clamp(values)
	for i, spec := range pv.Specs {
		idx := ruleIndex(cfg, spec.Rule)
		cfg.Rules[idx].Rate = clamped[i]
		cfg.Rules[idx].Probability = nil
	}
}
