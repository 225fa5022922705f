package marlin

import (
	"github.com/microfossil/particle-scanner/motion"
	"github.com/microfossil/particle-scanner/zone"
)

// zApproach is how far above the target Z the stage goes before descending,
// so the final Z move is always downward and backlash is taken up the same way
const zApproach = 1000

// HomeAndOffset homes the stage then moves to offset, approaching Z from
// above.  It does not wait for the moves to finish.
func HomeAndOffset(s interface {
	motion.Mover
	motion.Homer
}, offset zone.Point) error {
	if err := s.Home(); err != nil {
		return err
	}
	above := offset
	above.Z += zApproach
	if err := s.GoTo(above); err != nil {
		return err
	}
	return s.GoTo(offset)
}
