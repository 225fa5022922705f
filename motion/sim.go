package motion

import (
	"math"
	"sync"
	"time"

	"github.com/microfossil/particle-scanner/zone"
)

const (
	simServoPeriod    = time.Millisecond // the sim updates position at 1kHz
	simServoPeriodSec = 1e-3             // Period is for ticker, PeriodSec is for math
)

// Sim is a simulated stage.  Moves are carried out in the background at a
// fixed velocity, like a real controller that acknowledges commands before
// motion completes.  A non-positive Velocity makes moves instantaneous.
type Sim struct {
	sync.Mutex

	// Velocity is the travel speed in microns per second, applied per axis
	Velocity float64

	// Limits are the soft limits; targets are clamped to them
	Limits Limits

	pos    [3]float64
	target [3]float64
	moving bool
	homed  bool
	stop   chan struct{}
	moves  int
}

// NewSim returns a new simulated stage resting at the origin
func NewSim(velocity float64) *Sim {
	return &Sim{Velocity: velocity, Limits: DefaultLimits}
}

func toArray(p zone.Point) [3]float64 {
	return [3]float64{float64(p.X), float64(p.Y), float64(p.Z)}
}

func toPoint(a [3]float64) zone.Point {
	return zone.Point{
		X: int(math.Round(a[0])),
		Y: int(math.Round(a[1])),
		Z: int(math.Round(a[2]))}
}

// GoTo moves to an absolute position
func (s *Sim) GoTo(p zone.Point) error {
	s.Lock()
	defer s.Unlock()
	s.moves++
	s.target = toArray(s.Limits.Clamp(p))
	if s.Velocity <= 0 {
		s.pos = s.target
		return nil
	}
	if !s.moving {
		s.moving = true
		s.stop = make(chan struct{})
		go s.run(s.stop)
	}
	return nil
}

// MoveRel moves by a relative amount from the current target
func (s *Sim) MoveRel(d zone.Point) error {
	s.Lock()
	p := toPoint(s.target).Add(d)
	s.Unlock()
	return s.GoTo(p)
}

// Position returns the current position
func (s *Sim) Position() (zone.Point, error) {
	s.Lock()
	defer s.Unlock()
	return toPoint(s.pos), nil
}

// InPosition returns true when the last move has finished
func (s *Sim) InPosition() (bool, error) {
	s.Lock()
	defer s.Unlock()
	return !s.moving, nil
}

// Home drives the stage to the minimum of its travel
func (s *Sim) Home() error {
	s.Halt()
	s.Lock()
	s.pos = toArray(s.Limits.Min)
	s.target = s.pos
	s.homed = true
	s.Unlock()
	return nil
}

// Homed returns true once Home has been called
func (s *Sim) Homed() bool {
	s.Lock()
	defer s.Unlock()
	return s.homed
}

// Moves returns the number of moves commanded so far
func (s *Sim) Moves() int {
	s.Lock()
	defer s.Unlock()
	return s.moves
}

// Halt stops any move in progress where it is
func (s *Sim) Halt() error {
	s.Lock()
	defer s.Unlock()
	if s.moving {
		close(s.stop)
		s.moving = false
		s.target = s.pos
	}
	return nil
}

func (s *Sim) run(stop chan struct{}) {
	tick := time.NewTicker(simServoPeriod)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
		}
		s.Lock()
		step := s.Velocity * simServoPeriodSec
		converged := true
		for i := range s.pos {
			err := s.target[i] - s.pos[i]
			if math.Abs(err) <= step {
				s.pos[i] = s.target[i]
				continue
			}
			converged = false
			if math.Signbit(err) {
				s.pos[i] -= step
			} else {
				s.pos[i] += step
			}
		}
		if converged {
			s.moving = false
			s.Unlock()
			return
		}
		s.Unlock()
	}
}
