// Package shutter maps between the camera's quantized shutter codes and
// absolute exposure times.
//
// The relation between codes and seconds is device specific and not linear,
// so it is measured once per device and video mode by sweeping every code
// (see Build). The resulting Map is immutable; a mode or resolution change
// requires a new one.
package shutter

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrOutOfRange is returned when a lookup lies beyond the largest stored value.
var ErrOutOfRange = errors.New("shutter: value beyond map range")

// Entry is one measured (code, seconds) pair.
type Entry struct {
	Code uint32  `toml:"code" json:"code"`
	Abs  float64 `toml:"abs" json:"abs"`
}

// Map is a read-only two-way index over measured entries. Both lookups use
// lower-bound semantics, so ToAbs(ToCode(t)) is an approximation of t and
// distinct codes may share one absolute value.
type Map struct {
	byCode []Entry // sorted by code
	byAbs  []Entry // sorted by abs, then code
}

// NewMap builds a map from measured entries. Codes must be unique and
// times finite and non-negative.
func NewMap(entries []Entry) (*Map, error) {
	if len(entries) == 0 {
		return nil, errors.New("shutter: no entries")
	}

	byCode := make([]Entry, len(entries))
	copy(byCode, entries)
	sort.Slice(byCode, func(i, j int) bool { return byCode[i].Code < byCode[j].Code })

	for i, e := range byCode {
		if math.IsNaN(e.Abs) || math.IsInf(e.Abs, 0) || e.Abs < 0 {
			return nil, fmt.Errorf("shutter: invalid time %v for code %d", e.Abs, e.Code)
		}
		if i > 0 && byCode[i-1].Code == e.Code {
			return nil, fmt.Errorf("shutter: duplicate code %d", e.Code)
		}
	}

	byAbs := make([]Entry, len(byCode))
	copy(byAbs, byCode)
	sort.SliceStable(byAbs, func(i, j int) bool {
		if byAbs[i].Abs != byAbs[j].Abs {
			return byAbs[i].Abs < byAbs[j].Abs
		}
		return byAbs[i].Code < byAbs[j].Code
	})

	return &Map{byCode: byCode, byAbs: byAbs}, nil
}

// ToCode returns the smallest code whose time is at or above abs.
func (m *Map) ToCode(abs float64) (uint32, error) {
	if math.IsNaN(abs) {
		return 0, fmt.Errorf("%w: NaN", ErrOutOfRange)
	}
	i := sort.Search(len(m.byAbs), func(i int) bool { return m.byAbs[i].Abs >= abs })
	if i == len(m.byAbs) {
		return 0, fmt.Errorf("%w: %g s above %g s", ErrOutOfRange, abs, m.byAbs[len(m.byAbs)-1].Abs)
	}
	return m.byAbs[i].Code, nil
}

// ToAbs returns the time stored for the smallest code at or above code.
func (m *Map) ToAbs(code uint32) (float64, error) {
	i := sort.Search(len(m.byCode), func(i int) bool { return m.byCode[i].Code >= code })
	if i == len(m.byCode) {
		return 0, fmt.Errorf("%w: code %d above %d", ErrOutOfRange, code, m.byCode[len(m.byCode)-1].Code)
	}
	return m.byCode[i].Abs, nil
}

// Bounds returns the smallest and largest stored times.
func (m *Map) Bounds() (min, max float64) {
	return m.byAbs[0].Abs, m.byAbs[len(m.byAbs)-1].Abs
}

// CodeRange returns the smallest and largest stored codes.
func (m *Map) CodeRange() (min, max uint32) {
	return m.byCode[0].Code, m.byCode[len(m.byCode)-1].Code
}

// Len returns the number of entries.
func (m *Map) Len() int {
	return len(m.byCode)
}

// Entries returns a copy of the entries in code order.
func (m *Map) Entries() []Entry {
	out := make([]Entry, len(m.byCode))
	copy(out, m.byCode)
	return out
}
