/*Package zone describes rectangular scan regions on the stage and the
geometry used to traverse them.

All lengths are integer micrometers in stage coordinates.  A Zone is bounded
by its front-left (FL) and back-right (BR) corners; the height of the
back-left corner is measured separately so that the specimen surface can be
modeled as a tilted plane.  Two focus height policies are offered:

	Tilt    FL.Z + round(dz/dx * dx + dz/dy * dy), less a safety margin
	Lowest  the lowest of the four implied corner heights, less a safety margin

Both never return a height below zero, the stage cannot go below home.
*/
package zone

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrDegenerate is generated when a zone has zero extent along X or Y
	ErrDegenerate = errors.New("zone has zero width or depth")

	// ErrInverted is generated when the back-right corner is not behind and to
	// the right of the front-left corner
	ErrInverted = errors.New("zone back-right corner must have larger X and Y than front-left")

	// ErrBadPitch is generated when a tile pitch is not strictly positive
	ErrBadPitch = errors.New("tile pitch must be positive on both axes")
)

// Point is a position of the stage in micrometers
type Point struct {
	X int `koanf:"X" yaml:"X" json:"x"`
	Y int `koanf:"Y" yaml:"Y" json:"y"`
	Z int `koanf:"Z" yaml:"Z" json:"z"`
}

// Add returns p + o
func (p Point) Add(o Point) Point {
	return Point{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z}
}

func (p Point) String() string {
	return fmt.Sprintf("[%d, %d, %d]", p.X, p.Y, p.Z)
}

// Slopes holds the linear tilt of a zone's surface
type Slopes struct {
	// DzDx is the change in focus height per micrometer along X
	DzDx float64 `koanf:"DzDx" yaml:"DzDx" json:"dzdx"`

	// DzDy is the change in focus height per micrometer along Y
	DzDy float64 `koanf:"DzDy" yaml:"DzDy" json:"dzdy"`
}

// Zone is a rectangular region of the stage to scan
type Zone struct {
	// FL is the front-left corner, where the scan starts
	FL Point `koanf:"FL" yaml:"FL" json:"fl"`

	// BR is the back-right corner
	BR Point `koanf:"BR" yaml:"BR" json:"br"`

	// BackLeftZ is the focus height measured at the back-left corner
	BackLeftZ int `koanf:"BackLeftZ" yaml:"BackLeftZ" json:"blz"`

	// Corrections are derived from FL, BR and BackLeftZ by UpdateCorrections
	Corrections Slopes `koanf:"Corrections" yaml:"Corrections" json:"corrections"`
}

// New returns a zone spanning fl to br whose back-left height is the mean of
// the two corner heights, with its corrections computed.
func New(fl, br Point) (Zone, error) {
	z := Zone{FL: fl, BR: br}
	err := z.UpdateCorrections()
	return z, err
}

// Validate returns a non-nil error if the zone cannot be scanned
func (z Zone) Validate() error {
	if z.BR.X == z.FL.X || z.BR.Y == z.FL.Y {
		return ErrDegenerate
	}
	if z.BR.X < z.FL.X || z.BR.Y < z.FL.Y {
		return errors.Wrapf(ErrInverted, "FL=%s BR=%s", z.FL, z.BR)
	}
	return nil
}

// UpdateCorrections resets the back-left height to the mean of the FL and BR
// heights and recomputes the tilt slopes.  It is used after a corner moves.
func (z *Zone) UpdateCorrections() error {
	return z.SetBackLeftZ((z.FL.Z + z.BR.Z) / 2)
}

// SetBackLeftZ sets the back-left height and recomputes the tilt slopes,
// assuming a planar, non-vertical surface.  A zone with no extent along X or
// Y is refused and left unmodified.
func (z *Zone) SetBackLeftZ(blz int) error {
	s, err := slopes(z.FL, z.BR, blz)
	if err != nil {
		return err
	}
	z.BackLeftZ = blz
	z.Corrections = s
	return nil
}

func slopes(fl, br Point, blz int) (Slopes, error) {
	if br.X == fl.X || br.Y == fl.Y {
		return Slopes{}, ErrDegenerate
	}
	return Slopes{
		DzDx: float64(blz-fl.Z) / float64(br.X-fl.X),
		DzDy: float64(br.Z-blz) / float64(br.Y-fl.Y),
	}, nil
}

// FrontRightZ is the height of the front-right corner implied by the plane
// through the other three
func (z Zone) FrontRightZ() int {
	return z.FL.Z - z.BR.Z + z.BackLeftZ
}

// Corner returns one of the four corners of the zone by its short name,
// fl, br, bl or fr.  The back-left and front-right corners take their X and
// Y from the two measured corners.
func (z Zone) Corner(name string) (Point, error) {
	switch strings.ToLower(name) {
	case "fl":
		return z.FL, nil
	case "br":
		return z.BR, nil
	case "bl":
		return Point{X: z.FL.X, Y: z.BR.Y, Z: z.BackLeftZ}, nil
	case "fr":
		return Point{X: z.BR.X, Y: z.FL.Y, Z: z.FrontRightZ()}, nil
	}
	return Point{}, errors.Errorf("unknown corner %q, expected fl, br, bl or fr", name)
}

// planeCornerZ is the height of the tilt plane at the fourth corner, which
// differs from FrontRightZ unless BackLeftZ is the mean of FL and BR
func (z Zone) planeCornerZ() int {
	return z.FL.Z + z.BR.Z - z.BackLeftZ
}

// LowestCorner returns the lowest of the implied corner heights, never below
// zero.  The tilt plane's own fourth corner is included so that LowestZ is
// never above TiltZ anywhere inside the zone.
func (z Zone) LowestCorner() int {
	lo := z.FL.Z
	for _, c := range []int{z.BR.Z, z.BackLeftZ, z.FrontRightZ(), z.planeCornerZ()} {
		if c < lo {
			lo = c
		}
	}
	return nonNegative(lo)
}

// TiltZ returns the tilt-corrected focus start height for a tile at offset
// (dx, dy) from FL, less margin and clamped to be non-negative
func (z Zone) TiltZ(dx, dy, margin int) int {
	c := z.Corrections
	corr := int(math.Round(c.DzDx*float64(dx) + c.DzDy*float64(dy)))
	return nonNegative(z.FL.Z + corr - margin)
}

// LowestZ returns the lowest-corner focus start height less margin, clamped
// to be non-negative.  It is the same for every tile in the zone.
func (z Zone) LowestZ(margin int) int {
	return nonNegative(z.LowestCorner() - margin)
}

// StartZ dispatches to LowestZ or TiltZ
func (z Zone) StartZ(dx, dy, margin int, lowest bool) int {
	if lowest {
		return z.LowestZ(margin)
	}
	return z.TiltZ(dx, dy, margin)
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
