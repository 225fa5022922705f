// Package motion contains the abstract interface to an XYZ stage and a
// simulated stage for running scans without hardware.
package motion

import (
	"github.com/microfossil/particle-scanner/zone"
)

// Mover describes a stage that can be commanded to a position.  Moves are
// issued and return once the controller accepted them, not once they are done.
type Mover interface {
	// GoTo moves to an absolute position, in microns
	GoTo(zone.Point) error

	// MoveRel moves by a relative amount, in microns
	MoveRel(zone.Point) error
}

// PositionQueryer describes a stage that can report where it is
type PositionQueryer interface {
	Position() (zone.Point, error)
}

// InPositionQueryer describes a stage that can report if it has finished
// its last move
type InPositionQueryer interface {
	InPosition() (bool, error)
}

// Homer describes a stage that can find its home switches
type Homer interface {
	Home() error
}

// Halter describes a stage that can abort a move in progress
type Halter interface {
	Halt() error
}

// Stage is everything the scanner needs from the motion system
type Stage interface {
	Mover
	PositionQueryer
	InPositionQueryer
}

// Limits are the soft travel limits of a stage, in microns
type Limits struct {
	Min zone.Point `koanf:"Min" yaml:"Min" json:"min"`
	Max zone.Point `koanf:"Max" yaml:"Max" json:"max"`
}

// DefaultLimits are the travel limits of the printer frame the rig is built on
var DefaultLimits = Limits{
	Min: zone.Point{X: 0, Y: 0, Z: 0},
	Max: zone.Point{X: 200000, Y: 200000, Z: 20000},
}

// Clamp limits p to lie within l
func (l Limits) Clamp(p zone.Point) zone.Point {
	return zone.Point{
		X: clamp(p.X, l.Min.X, l.Max.X),
		Y: clamp(p.Y, l.Min.Y, l.Max.Y),
		Z: clamp(p.Z, l.Min.Z, l.Max.Z),
	}
}

// Contains returns true if p is within l
func (l Limits) Contains(p zone.Point) bool {
	return l.Clamp(p) == p
}

func clamp(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
