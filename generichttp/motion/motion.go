// Package motion provides an HTTP interface to an XYZ stage
package motion

/*
The stage is bound through the optional interfaces it implements: every
stage can move and report its position, and homing, halting and raw
command access are added when the concrete type supports them.
*/
import (
	"errors"
	"strings"

	"github.com/microfossil/particle-scanner/generichttp"
	"github.com/microfossil/particle-scanner/generichttp/ascii"
	"github.com/microfossil/particle-scanner/motion"
	"github.com/microfossil/particle-scanner/zone"
)

var (
	errClamped = errors.New("requested position violates software limits, aborted")

	errNoSuchAxis = errors.New("no such axis, expected x, y or z")
)

// axisOf returns a pointer to the component of p named by axis
func axisOf(p *zone.Point, axis string) (*int, error) {
	switch strings.ToLower(axis) {
	case "x":
		return &p.X, nil
	case "y":
		return &p.Y, nil
	case "z":
		return &p.Z, nil
	}
	return nil, errNoSuchAxis
}

// Controller is used for the HTTP interface, which will check if the concrete
// type satisfies the other interfaces in this package and inject their routes
// automatically
type Controller interface {
	motion.Stage
}

// HTTPMotionController wraps a stage with HTTP
type HTTPMotionController struct {
	Controller

	RouteTable generichttp.RouteTable
}

// NewHTTPMotionController returns a new HTTP wrapper with the route table pre-configured
func NewHTTPMotionController(c Controller) HTTPMotionController {
	w := HTTPMotionController{Controller: c}
	rt := generichttp.RouteTable{}
	HTTPMove(c, rt)
	HTTPInPosition(c, rt)
	if homer, ok := interface{}(c).(motion.Homer); ok {
		HTTPHome(homer, rt)
	}
	if halter, ok := interface{}(c).(motion.Halter); ok {
		HTTPStop(halter, rt)
	}
	if raw, ok := interface{}(c).(ascii.RawCommunicator); ok {
		ascii.InjectRawComm(rt, raw)
	}
	w.RouteTable = rt
	return w
}

// RT satisfies the HTTPer interface
func (h HTTPMotionController) RT() generichttp.RouteTable {
	return h.RouteTable
}
