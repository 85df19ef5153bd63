package main

import (
	"fmt"

	"github.com/pthm-cable/gdrive/scenario"
)

// ParamSpec defines a single optimizable parameter.
type ParamSpec struct {
	Name    string  // Human-readable name
	Source  uint64  // Source the multiplier scales
	Min     float64 // Lower bound
	Max     float64 // Upper bound
	Default float64 // Default value
}

// ParamVector holds one strength multiplier per source of a ship.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates a multiplier in [lo, hi] for every source of sh.
func NewParamVector(sh *scenario.Ship, lo, hi float64) *ParamVector {
	pv := &ParamVector{}
	for _, src := range sh.Sources {
		pv.Specs = append(pv.Specs, ParamSpec{
			Name:    fmt.Sprintf("source_%d", src.ID),
			Source:  src.ID,
			Min:     lo,
			Max:     hi,
			Default: 1,
		})
	}
	return pv
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// DefaultVector returns the default parameter values as a slice.
func (pv *ParamVector) DefaultVector() []float64 {
	v := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		v[i] = spec.Default
	}
	return v
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = min(max(v[i], spec.Min), spec.Max)
	}
	return clamped
}

// ApplyToShip scales the ship's source strengths in place.
func (pv *ParamVector) ApplyToShip(sh *scenario.Ship, values []float64) {
	clamped := pv.Clamp(values)
	for i := range sh.Sources {
		sh.Sources[i].Strength *= clamped[i]
	}
}
