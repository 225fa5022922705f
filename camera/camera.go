/*Package camera describes the interface the scanner needs from a camera and
provides a simulated camera and an HTTP client for a remote one.

The camera free-runs; the scanner never triggers a capture.  It asks for the
latest frame and checks the exposure the frame was actually taken at, since
a new exposure setting takes a few frames to apply.
*/
package camera

import (
	"image"
	"time"
)

// Frame is one image from the camera's stream
type Frame struct {
	Image image.Image

	// Exposure is the exposure the frame was captured at, in microseconds
	Exposure int

	// Taken is when the frame was captured
	Taken time.Time
}

// ExposureSetter describes a camera with a settable exposure, in microseconds
type ExposureSetter interface {
	SetExposure(int) error
}

// ExposureGetter describes a camera that reports its exposure setting.  The
// setting is what was last requested, frames may not show it yet.
type ExposureGetter interface {
	GetExposure() (int, error)
}

// GainSetter describes a camera with a settable analog gain
type GainSetter interface {
	SetGain(float64) error
}

// Streamer is a free-running camera
type Streamer interface {
	ExposureSetter
	ExposureGetter
	GainSetter

	// LatestImage returns the most recent frame, or false if no frame has
	// been captured yet.  It does not block.
	LatestImage() (Frame, bool)
}
