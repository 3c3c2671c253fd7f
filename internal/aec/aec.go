// Package aec implements histogram-based auto-exposure for an HDR bracket.
//
// The controller works on one direction at a time. For the under-exposed
// frame it looks at the dark half of the intensity range, for the
// over-exposed frame at the bright half, and revises the exposure time so
// the fraction of pixels in that half approaches a fixed target:
//
//	new = current * (current * (target / proportion))
//
// Pixels clipped at the end of the range (0 for under, 255 for over) are
// excluded from the denominator of the proportion. Results that are not
// finite and positive are reported as ErrDegenerate and never returned as
// a time.
package aec

import (
	"fmt"
	"math"
	"sync"

	"github.com/smazurov/hdrnode/internal/bracket"
	"github.com/smazurov/hdrnode/internal/camera"
)

// Direction selects the bracket half being tuned.
type Direction int

// Exposure directions.
const (
	Under Direction = iota
	Over
)

func (d Direction) String() string {
	if d == Over {
		return "over"
	}
	return "under"
}

// MarshalText encodes the direction by name.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText decodes "under" or "over".
func (d *Direction) UnmarshalText(b []byte) error {
	v, ok := ParseDirection(string(b))
	if !ok {
		return fmt.Errorf("aec: unknown direction %q", b)
	}
	*d = v
	return nil
}

// Other returns the opposite direction.
func (d Direction) Other() Direction {
	if d == Under {
		return Over
	}
	return Under
}

// Banks returns the bracket banks assigned to the direction.
func (d Direction) Banks() []int {
	if d == Over {
		return bracket.OverBanks
	}
	return bracket.UnderBanks
}

// ParseDirection parses "under" or "over".
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "under":
		return Under, true
	case "over":
		return Over, true
	}
	return Under, false
}

// Bounds is the device shutter range in seconds.
type Bounds struct {
	Min float64 `json:"min" toml:"min"`
	Max float64 `json:"max" toml:"max"`
}

// Contains reports whether t lies in [Min, Max].
func (b Bounds) Contains(t float64) bool {
	return t >= b.Min && t <= b.Max
}

// Clamp limits t to [Min, Max].
func (b Bounds) Clamp(t float64) float64 {
	return math.Min(math.Max(t, b.Min), b.Max)
}

// Tuning holds the controller parameters that may change at runtime.
type Tuning struct {
	// Target is the desired fraction of pixels in the evaluated half range.
	Target float64 `toml:"target" env:"TARGET" json:"target"`
	// Threshold is the smallest change in seconds treated as a new exposure.
	Threshold float64 `toml:"threshold" env:"THRESHOLD" json:"threshold"`
	// ClampToBounds clamps out-of-bounds results instead of rejecting them.
	ClampToBounds bool `toml:"clamp_to_bounds" env:"CLAMP_TO_BOUNDS" json:"clamp_to_bounds"`
}

// DefaultTuning returns the stock parameters.
func DefaultTuning() Tuning {
	return Tuning{
		Target:    0.0005,
		Threshold: 10e-6,
	}
}

// Validate rejects parameters the controller cannot use.
func (t Tuning) Validate() error {
	if !(t.Target > 0) || math.IsInf(t.Target, 0) {
		return camera.ConfigurationError("aec tuning", "target %v must be positive", t.Target)
	}
	if !(t.Threshold >= 0) || math.IsInf(t.Threshold, 0) {
		return camera.ConfigurationError("aec tuning", "threshold %v must be non-negative", t.Threshold)
	}
	return nil
}

// Result is the outcome of one evaluation.
type Result struct {
	// Time is the exposure to use. It equals the current time when the
	// result converged or was degenerate.
	Time float64
	// Raw is the unclamped formula result.
	Raw        float64
	Proportion float64
	Saturated  uint64
	Converged  bool
	// InBounds reports whether Time may be applied to the device.
	InBounds bool
	Clamped  bool
}

// Controller computes revised exposure times. It is safe for concurrent use.
type Controller struct {
	mu     sync.RWMutex
	tuning Tuning
	bounds Bounds
}

// NewController creates a controller for the given device bounds.
func NewController(bounds Bounds, tuning Tuning) (*Controller, error) {
	if !(bounds.Min >= 0) || !(bounds.Max > bounds.Min) || math.IsInf(bounds.Max, 0) {
		return nil, camera.ConfigurationError("aec bounds", "invalid shutter bounds [%v, %v]", bounds.Min, bounds.Max)
	}
	if err := tuning.Validate(); err != nil {
		return nil, err
	}
	return &Controller{tuning: tuning, bounds: bounds}, nil
}

// Tuning returns the active parameters.
func (c *Controller) Tuning() Tuning {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tuning
}

// SetTuning replaces the active parameters.
func (c *Controller) SetTuning(t Tuning) error {
	if err := t.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.tuning = t
	c.mu.Unlock()
	return nil
}

// Bounds returns the device shutter range.
func (c *Controller) Bounds() Bounds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bounds
}

// SetBounds replaces the device shutter range, typically after the
// shutter map was rebuilt.
func (c *Controller) SetBounds(b Bounds) error {
	if !(b.Min >= 0) || !(b.Max > b.Min) || math.IsInf(b.Max, 0) {
		return camera.ConfigurationError("aec bounds", "invalid shutter bounds [%v, %v]", b.Min, b.Max)
	}
	c.mu.Lock()
	c.bounds = b
	c.mu.Unlock()
	return nil
}

// Evaluate computes a revised exposure for dir from frame, starting at
// current seconds.
func (c *Controller) Evaluate(frame camera.Frame, dir Direction, current float64) (Result, error) {
	h, err := NewHistogram(frame)
	if err != nil {
		return Result{Time: current}, err
	}
	return c.EvaluateHistogram(&h, dir, current)
}

// EvaluateHistogram is Evaluate on a precomputed histogram.
func (c *Controller) EvaluateHistogram(h *Histogram, dir Direction, current float64) (Result, error) {
	c.mu.RLock()
	tuning, bounds := c.tuning, c.bounds
	c.mu.RUnlock()

	res := Result{Time: current}
	if !(current > 0) || math.IsInf(current, 0) {
		return res, camera.DegenerateError("evaluate", "current exposure %v is not positive", current)
	}

	var inRange uint64
	if dir == Over {
		res.Saturated = h.Bins[255]
		inRange = h.Sum(128, 255)
	} else {
		res.Saturated = h.Bins[0]
		inRange = h.Sum(0, 127)
	}

	denom := h.Total - res.Saturated
	if denom == 0 {
		return res, camera.DegenerateError("evaluate", "all %d pixels saturated for %s", h.Total, dir)
	}
	res.Proportion = float64(inRange) / float64(denom)
	if res.Proportion == 0 {
		return res, camera.DegenerateError("evaluate", "no pixels in %s half range", dir)
	}

	raw := current * (current * (tuning.Target / res.Proportion))
	res.Raw = raw
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw <= 0 {
		return res, camera.DegenerateError("evaluate", "exposure %v from proportion %v", raw, res.Proportion)
	}

	if math.Abs(raw-current) < tuning.Threshold {
		res.Converged = true
		res.InBounds = bounds.Contains(current)
		return res, nil
	}

	res.Time = raw
	res.InBounds = bounds.Contains(raw)
	if !res.InBounds && tuning.ClampToBounds {
		res.Time = bounds.Clamp(raw)
		res.Clamped = true
		res.InBounds = true
	}
	return res, nil
}

// State is the per-cycle exposure pair and the direction evaluated next.
type State struct {
	Under     float64   `json:"under"`
	Over      float64   `json:"over"`
	Direction Direction `json:"direction"`
}

// Toggle flips the active direction and returns it.
func (s *State) Toggle() Direction {
	s.Direction = s.Direction.Other()
	return s.Direction
}

// Time returns the exposure stored for dir.
func (s *State) Time(dir Direction) float64 {
	if dir == Over {
		return s.Over
	}
	return s.Under
}

// SetTime stores the exposure for dir.
func (s *State) SetTime(dir Direction, t float64) {
	if dir == Over {
		s.Over = t
		return
	}
	s.Under = t
}
