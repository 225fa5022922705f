// Package marlin drives the XYZ stage of a 3D printer running Marlin firmware
// as a microscope stage.  Positions are in microns, G-code is in millimeters.
package marlin

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/microfossil/particle-scanner/comm"
	"github.com/microfossil/particle-scanner/motion"
	"github.com/microfossil/particle-scanner/zone"
	"github.com/pkg/errors"
)

const (
	// FeedXY is the feed rate for X and Y moves in mm/min
	FeedXY = 3000

	// FeedZ is the feed rate for Z moves in mm/min; the Z leadscrew is slow
	FeedZ = 100

	// DefaultBaud is the baud rate of most printer boards
	DefaultBaud = 115200
)

// ErrNoPosition is returned when an M114 response has no position report
var ErrNoPosition = errors.New("no position report in M114 response")

// Stage is a Marlin printer used as a stage.  It remembers the commanded
// position so moves on one axis do not resend the others.
type Stage struct {
	*comm.RemoteDevice

	// Limits are the soft limits; targets are clamped to them
	Limits motion.Limits

	mu        sync.Mutex
	commanded zone.Point
}

// New returns a new Stage on a serial port.  The port is not opened.
func New(port string, baud int) *Stage {
	if baud == 0 {
		baud = DefaultBaud
	}
	return &Stage{
		RemoteDevice: comm.NewRemoteDevice(port, true, baud),
		Limits:       motion.DefaultLimits}
}

// NewWithDevice returns a new Stage using an existing connection
func NewWithDevice(rd *comm.RemoteDevice) *Stage {
	return &Stage{RemoteDevice: rd, Limits: motion.DefaultLimits}
}

// Raw sends a line of G-code and returns the response lines, the final "ok"
// excluded
func (s *Stage) Raw(gcode string) ([]string, error) {
	lines, err := s.Transact([]byte(gcode), comm.UntilOK)
	if err != nil {
		return nil, errors.Wrapf(err, "sending %q", gcode)
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if comm.UntilOK(l) {
			continue
		}
		out = append(out, string(l))
	}
	return out, nil
}

func mm(um int) string {
	return strconv.FormatFloat(float64(um)/1000, 'f', 3, 64)
}

func moveCode(axis string, um, feed int) string {
	return fmt.Sprintf("G1 %s%s F%d", axis, mm(um), feed)
}

// GoTo moves to an absolute position.  Axes that are already at their
// commanded position are not resent.
func (s *Stage) GoTo(p zone.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = s.Limits.Clamp(p)
	if p.X != s.commanded.X {
		if _, err := s.Raw(moveCode("X", p.X, FeedXY)); err != nil {
			return err
		}
		s.commanded.X = p.X
	}
	if p.Y != s.commanded.Y {
		if _, err := s.Raw(moveCode("Y", p.Y, FeedXY)); err != nil {
			return err
		}
		s.commanded.Y = p.Y
	}
	if p.Z != s.commanded.Z {
		if _, err := s.Raw(moveCode("Z", p.Z, FeedZ)); err != nil {
			return err
		}
		s.commanded.Z = p.Z
	}
	return nil
}

// MoveRel moves relative to the commanded position
func (s *Stage) MoveRel(d zone.Point) error {
	s.mu.Lock()
	p := s.commanded.Add(d)
	s.mu.Unlock()
	return s.GoTo(p)
}

// Commanded returns the last commanded position
func (s *Stage) Commanded() zone.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commanded
}

// Position queries the firmware for its position with M114
func (s *Stage) Position() (zone.Point, error) {
	lines, err := s.Raw("M114")
	if err != nil {
		return zone.Point{}, err
	}
	for _, l := range lines {
		if p, ok := ParsePosition(l); ok {
			return p, nil
		}
	}
	return zone.Point{}, ErrNoPosition
}

// InPosition returns true when the reported position equals the commanded one
func (s *Stage) InPosition() (bool, error) {
	p, err := s.Position()
	if err != nil {
		return false, err
	}
	return p == s.Commanded(), nil
}

// Home homes all axes.  The position is reset to the origin.
func (s *Stage) Home() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.Raw("G28 R X Y Z"); err != nil {
		return err
	}
	s.commanded = zone.Point{}
	log.Println("stage homed")
	return nil
}

// ParsePosition parses the position report from an M114 response line of
// the form "X:10.00 Y:50.00 Z:2.00 E:0.00 Count X:800 Y:4000 Z:800".
// Only the fields before "Count" are used.
func ParsePosition(line string) (zone.Point, bool) {
	if !strings.HasPrefix(line, "X:") {
		return zone.Point{}, false
	}
	if i := strings.Index(line, "Count"); i >= 0 {
		line = line[:i]
	}
	var (
		p     zone.Point
		found int
	)
	for _, field := range strings.Fields(line) {
		kv := strings.SplitN(field, ":", 2)
		if len(kv) != 2 {
			continue
		}
		f, err := strconv.ParseFloat(kv[1], 64)
		if err != nil {
			return zone.Point{}, false
		}
		um := int(f*1000 + copysignHalf(f))
		switch kv[0] {
		case "X":
			p.X = um
			found++
		case "Y":
			p.Y = um
			found++
		case "Z":
			p.Z = um
			found++
		}
	}
	return p, found == 3
}

func copysignHalf(f float64) float64 {
	if f < 0 {
		return -0.5
	}
	return 0.5
}

// Halt stops all motion with M410.  The planner is flushed, so the commanded
// position is resynchronized from the firmware.
func (s *Stage) Halt() error {
	if _, err := s.Raw("M410"); err != nil {
		return err
	}
	p, err := s.Position()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.commanded = p
	s.mu.Unlock()
	return nil
}
