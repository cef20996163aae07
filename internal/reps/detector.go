// Package reps turns a per-frame joint angle into a repetition count.
//
// The detector is a two-state machine (Relaxed, Contracted). A repetition is
// counted only on the edge from Relaxed into Contracted, so a slow crossing
// that stays past the threshold for many frames counts once.
package reps

import (
	"fmt"
	"math"
)

// Phase is the detector's current state.
type Phase int

const (
	Relaxed Phase = iota
	Contracted
)

func (p Phase) String() string {
	switch p {
	case Relaxed:
		return "relaxed"
	case Contracted:
		return "contracted"
	default:
		return "unknown"
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Direction selects which side of the threshold is the counting zone.
type Direction int

const (
	// CountBelow enters the contracted phase when the derived angle drops
	// below the threshold.
	CountBelow Direction = iota
	// CountAbove enters the contracted phase when the derived angle rises
	// above the threshold.
	CountAbove
)

func (d Direction) String() string {
	switch d {
	case CountBelow:
		return "below"
	case CountAbove:
		return "above"
	default:
		return "unknown"
	}
}

// ParseDirection parses "below" or "above".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "below", "BELOW", "":
		return CountBelow, nil
	case "above", "ABOVE":
		return CountAbove, nil
	default:
		return CountBelow, fmt.Errorf("invalid count direction: %s", s)
	}
}

// DefaultThreshold is the derived angle, in degrees, used when none is configured.
const DefaultThreshold = 40.0

// State is the mutable detector state of one session. It is a value: Observe
// returns the next state and leaves the receiver untouched.
type State struct {
	Count      int
	Contracted bool
	Threshold  float64
	Direction  Direction
}

// NewState returns the initial Relaxed state with a zero count.
func NewState(threshold float64, direction Direction) State {
	return State{
		Threshold: threshold,
		Direction: direction,
	}
}

// Phase reports the phase encoded by the state.
func (s State) Phase() Phase {
	if s.Contracted {
		return Contracted
	}
	return Relaxed
}

// Observation is the outcome of one frame.
type Observation struct {
	Count        int     `json:"count"`
	DerivedAngle float64 `json:"derived_angle"`
	Phase        Phase   `json:"phase"`
	Counted      bool    `json:"counted"`
}

// DerivedAngle maps a raw joint angle to the thresholded value: 180 minus the
// raw angle rounded to the nearest degree.
func DerivedAngle(rawJointAngle float64) float64 {
	return 180 - math.Round(rawJointAngle)
}

func (s State) inZone(derived float64) bool {
	if s.Direction == CountAbove {
		return derived > s.Threshold
	}
	return derived < s.Threshold
}

// Observe feeds one raw joint angle (degrees) into the state machine.
func (s State) Observe(rawJointAngle float64) (State, Observation) {
	derived := DerivedAngle(rawJointAngle)
	next := s
	counted := false

	switch {
	case s.inZone(derived) && !s.Contracted:
		next.Contracted = true
		next.Count++
		counted = true
	case !s.inZone(derived):
		next.Contracted = false
	}

	return next, Observation{
		Count:        next.Count,
		DerivedAngle: derived,
		Phase:        next.Phase(),
		Counted:      counted,
	}
}
