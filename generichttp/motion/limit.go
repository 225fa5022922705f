package motion

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/microfossil/particle-scanner/generichttp"
	"github.com/microfossil/particle-scanner/motion"
	"github.com/microfossil/particle-scanner/zone"
)

// LimitMiddleware refuses moves that would leave the soft limits.  The
// stage clamps its targets as well; refusing here tells the client.
type LimitMiddleware struct {
	// Limits contains the server imposed limits on the stage
	Limits motion.Limits

	// Mov is a reference to the mover, used to query positions
	Mov motion.PositionQueryer
}

// target computes where a move request would send the stage
func (l *LimitMiddleware) target(r *http.Request, body []byte) (zone.Point, error) {
	// middleware runs before routing, so the axis is not a URL param yet
	axis := axisFromPath(r.URL.Path)
	relative, err := parseRelative(r)
	if err != nil {
		return zone.Point{}, err
	}
	var base zone.Point
	if relative {
		if base, err = l.Mov.Position(); err != nil {
			return zone.Point{}, err
		}
	}
	if axis == "" {
		var p zone.Point
		if err := json.Unmarshal(body, &p); err != nil {
			return zone.Point{}, err
		}
		if relative {
			return base.Add(p), nil
		}
		return p, nil
	}
	f := generichttp.FloatT{}
	if err := json.Unmarshal(body, &f); err != nil {
		return zone.Point{}, err
	}
	if !relative {
		if base, err = l.Mov.Position(); err != nil {
			return zone.Point{}, err
		}
	}
	v, err := axisOf(&base, axis)
	if err != nil {
		return zone.Point{}, err
	}
	if relative {
		*v += int(f.F64)
	} else {
		*v = int(f.F64)
	}
	return base, nil
}

// axisFromPath returns the segment after "axis" in a path, or ""
func axisFromPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "axis" {
			return parts[i+1]
		}
	}
	return ""
}

// Check verifies if a motion would violate the limits, and if it does,
// responds with StatusBadRequest.  Otherwise, flows control to the next handler.
func (l *LimitMiddleware) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/pos") || r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		// downstream functions want the body, read it all here and paste it back
		body, _ := io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		p, err := l.target(r, body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !l.Limits.Contains(p) {
			http.Error(w, errClamped.Error(), http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Inject places a /limits route on the table of the HTTPer
func (l LimitMiddleware) Inject(h generichttp.HTTPer) {
	h.RT()[generichttp.MethodPath{Method: http.MethodGet, Path: "/limits"}] = Limits(l)
}

// Limits returns an HTTP handler func that returns the limits
func Limits(l LimitMiddleware) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		generichttp.RespondJSON(w, l.Limits)
	}
}
