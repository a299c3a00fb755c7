// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patchbay Contributors

package audio

import (
	"math"
	"strconv"
	"sync/atomic"
)

// ParameterInfo describes a parameter to the control plane.
type ParameterInfo struct {
	Index       int     `json:"index"`
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Unit        string  `json:"unit,omitempty"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Default     float32 `json:"default"` // normalized
	Steps       int     `json:"steps,omitempty"`
	Automatable bool    `json:"automatable"`
}

// Parameter is a single automatable value. The normalized value is stored
// atomically so the control thread can write while the render thread reads.
type Parameter struct {
	ID      string
	Name    string
	Unit    string
	Min     float64
	Max     float64
	Default float64 // plain value
	Steps   int

	value  atomic.Uint32
	format func(plain float64) string
}

// NewParameter creates a continuous parameter over [min, max] set to def.
func NewParameter(id, name string, minValue, maxValue, def float64) *Parameter {
	p := &Parameter{
		ID:      id,
		Name:    name,
		Min:     minValue,
		Max:     maxValue,
		Default: def,
	}
	p.Reset()
	return p
}

// WithUnit sets the display unit.
func (p *Parameter) WithUnit(unit string) *Parameter {
	p.Unit = unit
	return p
}

// WithSteps makes the parameter discrete with the given number of steps.
func (p *Parameter) WithSteps(steps int) *Parameter {
	p.Steps = steps
	return p
}

// WithFormatter overrides the plain-value text formatting.
func (p *Parameter) WithFormatter(format func(plain float64) string) *Parameter {
	p.format = format
	return p
}

// Value returns the normalized value.
func (p *Parameter) Value() float32 {
	return math.Float32frombits(p.value.Load())
}

// SetValue stores a normalized value, clamped to [0, 1] and quantized for
// discrete parameters.
func (p *Parameter) SetValue(v float32) {
	if v != v { // NaN
		v = 0
	}
	v = min(max(v, 0), 1)
	if p.Steps > 1 {
		v = float32(math.Round(float64(v)*float64(p.Steps-1)) / float64(p.Steps-1))
	}
	p.value.Store(math.Float32bits(v))
}

// Plain returns the denormalized value.
func (p *Parameter) Plain() float64 {
	return p.Denormalize(p.Value())
}

// SetPlain stores a value expressed in the parameter's own range.
func (p *Parameter) SetPlain(plain float64) {
	p.SetValue(p.Normalize(plain))
}

// Normalize maps a plain value to [0, 1].
func (p *Parameter) Normalize(plain float64) float32 {
	if p.Max <= p.Min {
		return 0
	}
	n := (plain - p.Min) / (p.Max - p.Min)
	return float32(min(max(n, 0), 1))
}

// Denormalize maps a normalized value to the parameter's range.
func (p *Parameter) Denormalize(v float32) float64 {
	return p.Min + float64(v)*(p.Max-p.Min)
}

// Reset restores the default value.
func (p *Parameter) Reset() {
	p.SetValue(p.Normalize(p.Default))
}

// Text formats the current value for display.
func (p *Parameter) Text() string {
	plain := p.Plain()
	if p.format != nil {
		return p.format(plain)
	}
	var s string
	if p.Steps > 1 {
		s = strconv.FormatFloat(plain, 'f', 0, 64)
	} else {
		s = strconv.FormatFloat(plain, 'f', 2, 64)
	}
	if p.Unit != "" {
		s += " " + p.Unit
	}
	return s
}

// Info describes the parameter at index.
func (p *Parameter) Info(index int) ParameterInfo {
	return ParameterInfo{
		Index:       index,
		ID:          p.ID,
		Name:        p.Name,
		Unit:        p.Unit,
		Min:         p.Min,
		Max:         p.Max,
		Default:     p.Normalize(p.Default),
		Steps:       p.Steps,
		Automatable: true,
	}
}

// ParameterSet is an ordered parameter collection implementing
// Parameterized. Embed it in a processor to expose its parameters.
type ParameterSet struct {
	params []*Parameter
}

// Compile-time interface check.
var _ Parameterized = (*ParameterSet)(nil)

// NewParameterSet creates a set from params, in index order.
func NewParameterSet(params ...*Parameter) *ParameterSet {
	return &ParameterSet{params: params}
}

// Add appends a parameter and returns its index.
func (s *ParameterSet) Add(p *Parameter) int {
	s.params = append(s.params, p)
	return len(s.params) - 1
}

// Param returns the parameter at index, or nil when out of range.
func (s *ParameterSet) Param(index int) *Parameter {
	if index < 0 || index >= len(s.params) {
		return nil
	}
	return s.params[index]
}

// ParameterCount implements Parameterized.
func (s *ParameterSet) ParameterCount() int {
	return len(s.params)
}

// ParameterInfo implements Parameterized.
func (s *ParameterSet) ParameterInfo(index int) ParameterInfo {
	p := s.Param(index)
	if p == nil {
		return ParameterInfo{Index: index}
	}
	return p.Info(index)
}

// ParameterValue implements Parameterized.
func (s *ParameterSet) ParameterValue(index int) float32 {
	p := s.Param(index)
	if p == nil {
		return 0
	}
	return p.Value()
}

// SetParameterValue implements Parameterized.
func (s *ParameterSet) SetParameterValue(index int, value float32) {
	if p := s.Param(index); p != nil {
		p.SetValue(value)
	}
}

// ParameterText implements Parameterized.
func (s *ParameterSet) ParameterText(index int) string {
	p := s.Param(index)
	if p == nil {
		return ""
	}
	return p.Text()
}

// ResetAll restores every parameter to its default.
func (s *ParameterSet) ResetAll() {
	for _, p := range s.params {
		p.Reset()
	}
}
